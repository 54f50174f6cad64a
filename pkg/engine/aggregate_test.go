package engine_test

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zapcore"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/models"
	_ "coastwatch.dev/alert-engine/pkg/testing"
)

func TestCreateAlert(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	location := uuid.NewString()

	alert, err := eng.Aggregator.Create(&engine.Composition{
		Title:        "Storm surge watch",
		ThreatType:   "Storm Surge",
		Severity:     models.SeverityHigh,
		LocationName: location,
	}, "ranger7")
	assert.NoError(t, err)

	// first dispatch flips pending to active
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, 90, alert.Confidence)
	assert.Equal(t, []string{"all"}, alert.RecipientGroups)
	assert.Equal(t, []models.Channel{models.ChannelSMS, models.ChannelPush}, alert.Channels)

	entries, err := eng.Audit.List(alert.ID)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, models.AuditActionCreated, entries[0].Action)
	assert.Equal(t, "ranger7", entries[0].Actor)
	assert.Equal(t, models.AuditActionDispatched, entries[1].Action)

	severity, status := eng.Audit.Replay(entries)
	assert.Equal(t, alert.Severity, severity)
	assert.Equal(t, alert.Status, status)
}

func TestCreateAlertInvalidComposition(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, _ := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	_, err := eng.Aggregator.Create(&engine.Composition{
		Title:      "No severity",
		ThreatType: "Tsunami",
		Severity:   models.SeverityNone,
	}, "operator")
	assert.ErrorIs(t, err, common.ErrInvalidComposition)

	_, err = eng.Aggregator.Create(&engine.Composition{
		ThreatType: "Tsunami",
		Severity:   models.SeverityHigh,
	}, "operator")
	assert.ErrorIs(t, err, common.ErrInvalidComposition)
}

func TestCreateAlertDedupWithinCooldown(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	location := uuid.NewString()
	comp := engine.Composition{
		Title:        "Cyclone warning",
		ThreatType:   "Cyclone",
		Severity:     models.SeverityModerate,
		LocationName: location,
	}

	first, err := eng.Aggregator.Create(&comp, "operator")
	assert.NoError(t, err)

	// same threat and location inside the cool-down window merges
	second, err := eng.Aggregator.Create(&comp, "operator")
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.SeverityModerate, second.Severity)

	// a higher-severity duplicate escalates instead of duplicating
	comp.Severity = models.SeverityCritical
	third, err := eng.Aggregator.Create(&comp, "operator")
	assert.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, models.SeverityCritical, third.Severity)

	entries, err := eng.Audit.List(first.ID)
	assert.NoError(t, err)
	escalated := 0
	for _, entry := range entries {
		if entry.Action == models.AuditActionEscalated {
			escalated++
		}
	}
	assert.Equal(t, 1, escalated)
}

func TestEscalateAlert(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	alert, err := eng.Aggregator.Create(&engine.Composition{
		Title:        "Dumping report",
		ThreatType:   "Illegal Dumping",
		Severity:     models.SeverityLow,
		LocationName: uuid.NewString(),
	}, "operator")
	assert.NoError(t, err)

	for _, want := range []models.Severity{
		models.SeverityModerate,
		models.SeverityHigh,
		models.SeverityCritical,
	} {
		alert, err = eng.Aggregator.Escalate(alert.ID, "operator")
		assert.NoError(t, err)
		assert.Equal(t, want, alert.Severity)
	}

	// critical is the top of the scale
	alert, err = eng.Aggregator.Escalate(alert.ID, "operator")
	assert.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, alert.Severity)

	entries, err := eng.Audit.List(alert.ID)
	assert.NoError(t, err)
	escalated := 0
	for _, entry := range entries {
		if entry.Action == models.AuditActionEscalated {
			escalated++
		}
	}
	assert.Equal(t, 3, escalated)
}

func TestCancelAlertIdempotent(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	alert, err := eng.Aggregator.Create(&engine.Composition{
		Title:        "Tsunami advisory",
		ThreatType:   "Tsunami",
		Severity:     models.SeverityHigh,
		LocationName: uuid.NewString(),
	}, "operator")
	assert.NoError(t, err)

	cancelled, err := eng.Aggregator.Cancel(alert.ID, "operator")
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusCancelled, cancelled.Status)

	// repeat cancel succeeds without a second audit entry
	again, err := eng.Aggregator.Cancel(alert.ID, "operator")
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusCancelled, again.Status)

	entries, err := eng.Audit.List(alert.ID)
	assert.NoError(t, err)
	cancels := 0
	for _, entry := range entries {
		if entry.Action == models.AuditActionCancelled {
			cancels++
		}
	}
	assert.Equal(t, 1, cancels)

	// a cancelled alert admits no further mutation
	_, err = eng.Aggregator.Resolve(alert.ID, "operator")
	assert.ErrorIs(t, err, common.ErrAlertTerminal)
	_, err = eng.Aggregator.Escalate(alert.ID, "operator")
	assert.ErrorIs(t, err, common.ErrAlertTerminal)
	title := "renamed"
	_, err = eng.Aggregator.Modify(alert.ID, engine.ModifyFields{Title: &title}, "operator")
	assert.ErrorIs(t, err, common.ErrAlertTerminal)
}

func TestResolveAlertTerminal(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	alert, err := eng.Aggregator.Create(&engine.Composition{
		Title:        "Bloom watch",
		ThreatType:   "Algal Bloom",
		Severity:     models.SeverityModerate,
		LocationName: uuid.NewString(),
	}, "operator")
	assert.NoError(t, err)

	resolved, err := eng.Aggregator.Resolve(alert.ID, "operator")
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)

	again, err := eng.Aggregator.Resolve(alert.ID, "operator")
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, again.Status)

	_, err = eng.Aggregator.Cancel(alert.ID, "operator")
	assert.ErrorIs(t, err, common.ErrAlertTerminal)
}

func TestModifyAlert(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	alert, err := eng.Aggregator.Create(&engine.Composition{
		Title:        "Surge watch",
		ThreatType:   "Storm Surge",
		Severity:     models.SeverityModerate,
		LocationName: uuid.NewString(),
	}, "operator")
	assert.NoError(t, err)

	title := "Surge warning"
	description := "Water level approaching the seawall"
	modified, err := eng.Aggregator.Modify(alert.ID, engine.ModifyFields{
		Title:       &title,
		Description: &description,
	}, "operator")
	assert.NoError(t, err)
	assert.Equal(t, title, modified.Title)
	assert.Equal(t, description, modified.Description)

	entries, err := eng.Audit.List(alert.ID)
	assert.NoError(t, err)
	var modEntry *models.AuditEntry
	for i := range entries {
		if entries[i].Action == models.AuditActionModified {
			modEntry = &entries[i]
		}
	}
	assert.NotNil(t, modEntry)
	assert.Len(t, modEntry.Diff, 2)

	// a no-op modify leaves the audit trail alone
	before := len(entries)
	_, err = eng.Aggregator.Modify(alert.ID, engine.ModifyFields{Title: &title}, "operator")
	assert.NoError(t, err)
	entries, err = eng.Audit.List(alert.ID)
	assert.NoError(t, err)
	assert.Len(t, entries, before)
}

func TestGetUnknownAlert(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, _ := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	_, err := eng.Aggregator.Get(uuid.NewString())
	assert.ErrorIs(t, err, common.ErrAlertNotFound)
}

func TestProcessEvaluationLifecycle(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	_, err := eng.Thresholds.Update(models.SensorTypeSeaLevel, engine.ThresholdLevels{
		Low: 0.5, Moderate: 1.0, High: 1.5, Critical: 2.0,
	})
	assert.NoError(t, err)

	sensorID := uuid.NewString()
	location := uuid.NewString()

	ingestAndProcess := func(value float64) *models.Alert {
		reading, err := eng.Ingestor.Ingest(&engine.RawReading{
			SensorID:     sensorID,
			SensorType:   models.SensorTypeSeaLevel,
			Value:        value,
			LocationName: location,
		})
		assert.NoError(t, err)
		result, err := eng.Evaluator.Evaluate(reading)
		assert.NoError(t, err)
		alert, err := eng.Aggregator.ProcessEvaluation(reading, result)
		assert.NoError(t, err)
		return alert
	}

	// below every level: nothing to raise
	assert.Nil(t, ingestAndProcess(0.2))

	alert := ingestAndProcess(1.6)
	assert.NotNil(t, alert)
	assert.Equal(t, "Sea Level Rise", alert.ThreatType)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.Equal(t, []string{sensorID}, alert.SourceSensorIDs)

	// the water keeps rising: same alert escalates instead of duplicating
	escalated := ingestAndProcess(2.5)
	assert.NotNil(t, escalated)
	assert.Equal(t, alert.ID, escalated.ID)
	assert.Equal(t, models.SeverityCritical, escalated.Severity)

	// back to normal: the alert auto-resolves
	assert.Nil(t, ingestAndProcess(0.2))
	final, err := eng.Aggregator.Get(alert.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, final.Status)

	entries, err := eng.Audit.List(alert.ID)
	assert.NoError(t, err)
	severity, status := eng.Audit.Replay(entries)
	assert.Equal(t, final.Severity, severity)
	assert.Equal(t, final.Status, status)
}

func TestProcessEvaluationMergesSensors(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	_, err := eng.Thresholds.Update(models.SensorTypeSeaLevel, engine.ThresholdLevels{
		Low: 0.5, Moderate: 1.0, High: 1.5, Critical: 2.0,
	})
	assert.NoError(t, err)

	location := uuid.NewString()
	sensorA := uuid.NewString()
	sensorB := uuid.NewString()

	process := func(sensorID string, value float64) *models.Alert {
		reading, err := eng.Ingestor.Ingest(&engine.RawReading{
			SensorID:     sensorID,
			SensorType:   models.SensorTypeSeaLevel,
			Value:        value,
			LocationName: location,
		})
		assert.NoError(t, err)
		result, err := eng.Evaluator.Evaluate(reading)
		assert.NoError(t, err)
		alert, err := eng.Aggregator.ProcessEvaluation(reading, result)
		assert.NoError(t, err)
		return alert
	}

	first := process(sensorA, 1.6)
	assert.NotNil(t, first)

	second := process(sensorB, 1.7)
	assert.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{sensorA, sensorB}, second.SourceSensorIDs)

	// sensor A recovers, but B still holds the alert open
	assert.Nil(t, process(sensorA, 0.1))
	open, err := eng.Aggregator.Get(first.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusActive, open.Status)

	// once B recovers too the alert resolves
	assert.Nil(t, process(sensorB, 0.1))
	closed, err := eng.Aggregator.Get(first.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, closed.Status)
}

func TestCreateAlert_WithLog(t *testing.T) {
	var buf = &bytes.Buffer{}
	common.SetTestCaptureLogger(buf, zapcore.InfoLevel)

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()
	mockRoster.EXPECT().ResolveGroup(gomock.Any()).Return([]engine.Recipient{}, nil).AnyTimes()

	alert, err := eng.Aggregator.Create(&engine.Composition{
		Title:        "Surge drill",
		ThreatType:   "Storm Surge",
		Severity:     models.SeverityLow,
		LocationName: uuid.NewString(),
	}, "operator")
	assert.NoError(t, err)

	logs := ParseLogs(buf)

	found := false
	for _, log := range logs {
		lobj := log.(map[string]any)
		if lobj["category"] == "aggregate" &&
			lobj["logger"] == "engine_core" &&
			lobj["msg"] == "Alert composed" &&
			lobj["alert"].(map[string]any)["ID"] == alert.ID {
			found = true
		}
	}
	assert.True(t, found)
}
