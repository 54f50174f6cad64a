package engine

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/metrics"
	"coastwatch.dev/alert-engine/pkg/models"
)

// RawReading is an un-normalized observation as produced by a sensor or an
// upstream feed. Unit may be any unit convertible to the sensor type's
// canonical unit; an empty Unit means the canonical unit. A zero ObservedAt
// is stamped with ingestion time.
type RawReading struct {
	SensorID     string            `json:"sensor_id"`
	SensorType   models.SensorType `json:"sensor_type"`
	Value        float64           `json:"value"`
	Unit         string            `json:"unit"`
	ObservedAt   time.Time         `json:"observed_at"`
	Latitude     float64           `json:"latitude"`
	Longitude    float64           `json:"longitude"`
	LocationName string            `json:"location_name"`
}

func (e *Engine) ingest(raw *RawReading) (*models.SensorReading, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryIngest),
	)

	if raw.SensorID == "" {
		metrics.ReadingsIngested.WithLabelValues(string(raw.SensorType), "rejected").Inc()
		return nil, fmt.Errorf("%w: empty sensor id", common.ErrInvalidReading)
	}
	if math.IsNaN(raw.Value) || math.IsInf(raw.Value, 0) {
		metrics.ReadingsIngested.WithLabelValues(string(raw.SensorType), "rejected").Inc()
		return nil, fmt.Errorf("%w: non-finite value", common.ErrInvalidReading)
	}

	spec, ok := sensorCatalog[raw.SensorType]
	if !ok {
		metrics.ReadingsIngested.WithLabelValues(string(raw.SensorType), "rejected").Inc()
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownSensorType, raw.SensorType)
	}

	value := raw.Value
	if raw.Unit != "" && raw.Unit != spec.canonicalUnit {
		convert, convertible := spec.convert[raw.Unit]
		if !convertible {
			metrics.ReadingsIngested.WithLabelValues(string(raw.SensorType), "rejected").Inc()
			return nil, fmt.Errorf("%w: %s not convertible to %s for %s",
				common.ErrUnitMismatch, raw.Unit, spec.canonicalUnit, raw.SensorType)
		}
		value = convert(value)
	}

	now := e.Clock()
	observedAt := raw.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}
	if observedAt.After(now.Add(e.Tunables.MaxFutureSkew)) {
		metrics.ReadingsIngested.WithLabelValues(string(raw.SensorType), "rejected").Inc()
		return nil, fmt.Errorf("%w: observed at %s", common.ErrReadingFromFuture, observedAt)
	}

	reading := models.SensorReading{
		SensorID:     raw.SensorID,
		SensorType:   raw.SensorType,
		Value:        value,
		Unit:         spec.canonicalUnit,
		ObservedAt:   observedAt,
		Latitude:     raw.Latitude,
		Longitude:    raw.Longitude,
		LocationName: raw.LocationName,
	}

	if err := e.Db.Conn.Create(&reading).Error; err != nil {
		return nil, err
	}

	metrics.ReadingsIngested.WithLabelValues(string(raw.SensorType), "accepted").Inc()
	logger.Info("Ingested reading", zap.Reflect("reading", reading))
	return &reading, nil
}

type IIngestorImpl struct {
	engine *Engine
}

func (ii *IIngestorImpl) Ingest(raw *RawReading) (*models.SensorReading, error) {
	return ii.engine.ingest(raw)
}

func (e *Engine) GetIIngestor() IIngestor {
	return &IIngestorImpl{engine: e}
}
