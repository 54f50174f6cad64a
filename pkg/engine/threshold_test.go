package engine_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/models"
	_ "coastwatch.dev/alert-engine/pkg/testing"
)

func TestUpdateThresholds(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, _ := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	previous, err := eng.Thresholds.GetActive(models.SensorTypeSalinity)
	assert.NoError(t, err)

	versionID, err := eng.Thresholds.Update(models.SensorTypeSalinity, engine.ThresholdLevels{
		Low: 1.0, Moderate: 3.0, High: 5.0, Critical: 8.0,
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, versionID)
	assert.NotEqual(t, previous.ID, versionID)

	active, err := eng.Thresholds.GetActive(models.SensorTypeSalinity)
	assert.NoError(t, err)
	assert.Equal(t, versionID, active.ID)
	assert.Equal(t, 1.0, active.Low)
	assert.Equal(t, 8.0, active.Critical)
	assert.True(t, active.Active)

	// superseded versions stay retrievable for audit lookups
	old, err := eng.Thresholds.GetVersion(previous.ID)
	assert.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, previous.Low, old.Low)
}

func TestUpdateThresholdsRejectsBadOrdering(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, _ := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	before, err := eng.Thresholds.GetActive(models.SensorTypeSalinity)
	assert.NoError(t, err)

	cases := []engine.ThresholdLevels{
		{Low: 3.0, Moderate: 2.0, High: 5.0, Critical: 8.0},
		{Low: 1.0, Moderate: 1.0, High: 5.0, Critical: 8.0},
		{Low: 1.0, Moderate: 3.0, High: 8.0, Critical: 5.0},
	}
	for _, levels := range cases {
		_, err := eng.Thresholds.Update(models.SensorTypeSalinity, levels)
		assert.ErrorIs(t, err, common.ErrInvalidThresholdOrdering)
	}

	// rejected updates leave the active version untouched
	after, err := eng.Thresholds.GetActive(models.SensorTypeSalinity)
	assert.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
}

func TestThresholdsUnknownSensorType(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, _ := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	_, err := eng.Thresholds.Update(models.SensorType("humidity"), engine.ThresholdLevels{
		Low: 1.0, Moderate: 2.0, High: 3.0, Critical: 4.0,
	})
	assert.ErrorIs(t, err, common.ErrUnknownSensorType)

	_, err = eng.Thresholds.GetActive(models.SensorType("humidity"))
	assert.ErrorIs(t, err, common.ErrUnknownSensorType)
}

func TestUpdateThresholdsConcurrentTypes(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, _ := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	types := []models.SensorType{
		models.SensorTypeSeaLevel,
		models.SensorTypeWindSpeed,
		models.SensorTypeWaveHeight,
		models.SensorTypeTemperature,
		models.SensorTypePH,
		models.SensorTypeSalinity,
	}

	versionIDs := make([]string, len(types))
	var wg sync.WaitGroup
	for i, sensorType := range types {
		i, sensorType := i, sensorType
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := eng.Thresholds.Update(sensorType, engine.ThresholdLevels{
				Low: float64(i) + 1, Moderate: float64(i) + 2, High: float64(i) + 3, Critical: float64(i) + 4,
			})
			assert.NoError(t, err)
			versionIDs[i] = id
		}()
	}
	wg.Wait()

	// no update may be lost from the snapshot, whatever the interleaving
	for i, sensorType := range types {
		active, err := eng.Thresholds.GetActive(sensorType)
		assert.NoError(t, err)
		assert.Equal(t, versionIDs[i], active.ID)
		assert.Equal(t, float64(i)+1, active.Low)
	}
}
