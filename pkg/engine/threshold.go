package engine

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/models"
)

type ThresholdLevels struct {
	Low      float64
	Moderate float64
	High     float64
	Critical float64
}

func (l ThresholdLevels) strictlyIncreasing() bool {
	return l.Low < l.Moderate && l.Moderate < l.High && l.High < l.Critical
}

// seedThresholds loads the active version per registered sensor type into the
// lock-free snapshot, creating factory-default versions for types that have
// never been configured.
func (e *Engine) seedThresholds() {
	logger := common.GetLoggerWith(
		common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryThreshold),
	)

	snapshot := make(thresholdSnapshot, len(sensorCatalog))
	for sensorType, spec := range sensorCatalog {
		var version models.ThresholdVersion
		err := e.Db.Conn.First(&version, "sensor_type = ? AND active = ?", sensorType, true).Error
		if err == nil {
			snapshot[sensorType] = &version
			continue
		}

		version = models.ThresholdVersion{
			ID:         uuid.NewString(),
			SensorType: sensorType,
			Low:        spec.defaults.Low,
			Moderate:   spec.defaults.Moderate,
			High:       spec.defaults.High,
			Critical:   spec.defaults.Critical,
			Active:     true,
			CreatedAt:  e.Clock(),
		}
		if err := e.Db.Conn.Create(&version).Error; err != nil {
			logger.Error("Failed to seed threshold defaults", zap.Error(err))
			continue
		}
		logger.Info("Seeded default thresholds", zap.Reflect("version", version))
		snapshot[sensorType] = &version
	}
	e.active.Store(&snapshot)
}

func (e *Engine) updateThresholds(sensorType models.SensorType, levels ThresholdLevels) (string, error) {
	if _, ok := sensorCatalog[sensorType]; !ok {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownSensorType, sensorType)
	}
	if !levels.strictlyIncreasing() {
		return "", fmt.Errorf("%w: %s %+v", common.ErrInvalidThresholdOrdering, sensorType, levels)
	}

	logger := common.GetLoggerWith(
		common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryThreshold),
	)

	version := models.ThresholdVersion{
		ID:         uuid.NewString(),
		SensorType: sensorType,
		Low:        levels.Low,
		Moderate:   levels.Moderate,
		High:       levels.High,
		Critical:   levels.Critical,
		Active:     true,
		CreatedAt:  e.Clock(),
	}

	err := e.Db.Conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ThresholdVersion{}).
			Where("sensor_type = ? AND active = ?", sensorType, true).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Create(&version).Error
	})
	if err != nil {
		return "", err
	}

	// Swap the snapshot last: evaluators in flight keep the version they
	// already loaded, new evaluations see the new one. activeMu keeps two
	// concurrent updates from copying the same old snapshot.
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	old := e.active.Load()
	next := make(thresholdSnapshot, len(*old))
	for st, tv := range *old {
		next[st] = tv
	}
	next[sensorType] = &version
	e.active.Store(&next)

	logger.Info("Updated thresholds", zap.Reflect("version", version))
	return version.ID, nil
}

func (e *Engine) getActiveThresholds(sensorType models.SensorType) (*models.ThresholdVersion, error) {
	snapshot := e.active.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownSensorType, sensorType)
	}
	version, ok := (*snapshot)[sensorType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownSensorType, sensorType)
	}
	return version, nil
}

func (e *Engine) getThresholdVersion(versionID string) (*models.ThresholdVersion, error) {
	var version models.ThresholdVersion
	if err := e.Db.Conn.First(&version, "id = ?", versionID).Error; err != nil {
		return nil, err
	}
	return &version, nil
}

type IThresholdsImpl struct {
	engine *Engine
}

func (it *IThresholdsImpl) Update(sensorType models.SensorType, levels ThresholdLevels) (string, error) {
	return it.engine.updateThresholds(sensorType, levels)
}

func (it *IThresholdsImpl) GetActive(sensorType models.SensorType) (*models.ThresholdVersion, error) {
	return it.engine.getActiveThresholds(sensorType)
}

func (it *IThresholdsImpl) GetVersion(versionID string) (*models.ThresholdVersion, error) {
	return it.engine.getThresholdVersion(versionID)
}

func (e *Engine) GetIThresholds() IThresholds {
	return &IThresholdsImpl{engine: e}
}
