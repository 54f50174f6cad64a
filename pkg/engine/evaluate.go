package engine

import (
	"coastwatch.dev/alert-engine/pkg/models"
)

// EvaluationResult is the outcome of checking one reading against the active
// threshold set for its sensor type. Severity none means no level was met.
type EvaluationResult struct {
	Severity           models.Severity
	ThresholdVersionID string
	TriggeredLevel     float64
}

// evaluate finds the highest severity whose trigger level the reading's
// value meets or exceeds. Boundaries are inclusive: a value exactly equal to
// a level yields that level's severity.
func (e *Engine) evaluate(reading *models.SensorReading) (*EvaluationResult, error) {
	version, err := e.Thresholds.GetActive(reading.SensorType)
	if err != nil {
		return nil, err
	}

	result := EvaluationResult{
		Severity:           models.SeverityNone,
		ThresholdVersionID: version.ID,
	}
	for _, severity := range []models.Severity{
		models.SeverityLow,
		models.SeverityModerate,
		models.SeverityHigh,
		models.SeverityCritical,
	} {
		level := version.LevelFor(severity)
		if reading.Value >= level {
			result.Severity = severity
			result.TriggeredLevel = level
		}
	}
	return &result, nil
}

type IEvaluatorImpl struct {
	engine *Engine
}

func (ie *IEvaluatorImpl) Evaluate(reading *models.SensorReading) (*EvaluationResult, error) {
	return ie.engine.evaluate(reading)
}

func (e *Engine) GetIEvaluator() IEvaluator {
	return &IEvaluatorImpl{engine: e}
}
