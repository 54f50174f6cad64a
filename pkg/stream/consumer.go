package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/metrics"
)

// Consumer drains sensor readings from a Kafka topic into the same
// ingest -> evaluate -> aggregate pipeline the HTTP endpoint drives.
type Consumer struct {
	Reader *kafka.Reader
	Engine *engine.Engine
}

func NewConsumer(brokers []string, topic, groupID string, eng *engine.Engine) *Consumer {
	return &Consumer{
		Reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		Engine: eng,
	}
}

// Run blocks until ctx is cancelled or the reader fails. A bad message is
// logged and skipped, never fatal.
func (c *Consumer) Run(ctx context.Context) error {
	logger := common.GetLoggerWith(common.LoggerNameStreamConsumer)

	logger.Info("Stream consumer started",
		zap.String("topic", c.Reader.Config().Topic),
		zap.String("group_id", c.Reader.Config().GroupID))

	for {
		message, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				logger.Info("Stream consumer stopped")
				return nil
			}
			return err
		}

		c.HandleMessage(logger, message.Value)
	}
}

// HandleMessage pushes one raw message through the pipeline. Bad messages are
// logged and counted, never returned as errors.
func (c *Consumer) HandleMessage(logger *zap.Logger, value []byte) {
	var raw engine.RawReading
	if err := json.Unmarshal(value, &raw); err != nil {
		logger.Warn("Dropping malformed reading message", zap.Error(err))
		metrics.StreamMessages.WithLabelValues("malformed").Inc()
		return
	}

	reading, err := c.Engine.Ingestor.Ingest(&raw)
	if err != nil {
		logger.Warn("Dropping rejected reading",
			zap.String("sensor_id", raw.SensorID), zap.Error(err))
		metrics.StreamMessages.WithLabelValues("rejected").Inc()
		return
	}

	result, err := c.Engine.Evaluator.Evaluate(reading)
	if err != nil {
		logger.Error("Evaluation failed", zap.String("sensor_id", raw.SensorID), zap.Error(err))
		metrics.StreamMessages.WithLabelValues("rejected").Inc()
		return
	}

	if _, err := c.Engine.Aggregator.ProcessEvaluation(reading, result); err != nil {
		logger.Error("Aggregation failed", zap.String("sensor_id", raw.SensorID), zap.Error(err))
		metrics.StreamMessages.WithLabelValues("rejected").Inc()
		return
	}
	metrics.StreamMessages.WithLabelValues("processed").Inc()
}

func (c *Consumer) Close() error {
	return c.Reader.Close()
}
