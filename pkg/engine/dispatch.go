package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/metrics"
	"coastwatch.dev/alert-engine/pkg/models"
)

// SendResult is what a channel sender reports for one batch.
type SendResult struct {
	Sent            int
	FailedEndpoints []string
}

// ChannelTotals aggregates DistributionRecords across attempts.
type ChannelTotals struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

func (e *Engine) dispatchLogger() *zap.Logger {
	return common.GetLoggerWith(
		common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryDispatch),
	)
}

// dispatch fans the alert out to every channel in parallel and returns the
// initial-attempt records. Failed endpoints are retried on background
// goroutines; final counts settle asynchronously in further records.
func (e *Engine) dispatch(ctx context.Context, alert *models.Alert, res *Resolution) ([]models.DistributionRecord, error) {
	var (
		mu      sync.Mutex
		records []models.DistributionRecord
		wg      sync.WaitGroup
	)

	for channel, endpoints := range res.ByChannel {
		wg.Add(1)
		go func(channel models.Channel, endpoints []string) {
			defer wg.Done()
			record := e.attemptChannel(ctx, alert, channel, endpoints, 1)
			if record != nil {
				mu.Lock()
				records = append(records, *record)
				mu.Unlock()
			}
		}(channel, endpoints)
	}
	wg.Wait()

	sort.Slice(records, func(i, j int) bool { return records[i].Channel < records[j].Channel })
	return records, nil
}

// attemptChannel sends one attempt for one channel: batches through the
// sender, records the outcome, and schedules the next attempt for whatever
// failed. A sender reporting ErrChannelUnavailable skips the channel for
// this dispatch without blocking the others.
func (e *Engine) attemptChannel(ctx context.Context, alert *models.Alert, channel models.Channel, endpoints []string, attempt int) *models.DistributionRecord {
	logger := e.dispatchLogger()

	record := models.DistributionRecord{
		AlertID:        alert.ID,
		Channel:        channel,
		Attempt:        attempt,
		RecipientCount: len(endpoints),
		AttemptedAt:    e.Clock(),
	}

	sender, ok := e.Senders[channel]
	if !ok {
		logger.Warn("No sender wired for channel", zap.String("channel", string(channel)))
		metrics.DispatchSends.WithLabelValues(string(channel), "skipped").Add(float64(len(endpoints)))
		if err := e.Db.Conn.Create(&record).Error; err != nil {
			logger.Error("Failed to store distribution record", zap.Error(err))
			return nil
		}
		return &record
	}

	var (
		sent        int
		failed      []string
		channelDown bool
	)
	for start := 0; start < len(endpoints); start += e.Tunables.BatchSize {
		if e.alertCancelled(alert.ID) {
			logger.Info("Dispatch stopped, alert cancelled",
				zap.String("alert_id", alert.ID), zap.String("channel", string(channel)))
			break
		}

		end := min(start+e.Tunables.BatchSize, len(endpoints))
		batch := endpoints[start:end]

		result, err := sender.Send(ctx, alert, batch)
		if errors.Is(err, common.ErrChannelUnavailable) {
			logger.Warn("Channel unavailable, skipping",
				zap.String("channel", string(channel)), zap.Error(err))
			metrics.DispatchSends.WithLabelValues(string(channel), "skipped").Add(float64(len(endpoints)))
			channelDown = true
			break
		}
		if err != nil {
			failed = append(failed, batch...)
			continue
		}
		sent += result.Sent
		failed = append(failed, result.FailedEndpoints...)
	}

	record.SentCount = sent
	record.FailedCount = len(failed)
	if err := e.Db.Conn.Create(&record).Error; err != nil {
		logger.Error("Failed to store distribution record", zap.Error(err))
		return nil
	}

	metrics.DispatchSends.WithLabelValues(string(channel), "sent").Add(float64(sent))
	metrics.DispatchSends.WithLabelValues(string(channel), "failed").Add(float64(len(failed)))
	logger.Info("Dispatch attempt recorded", zap.Reflect("record", record))

	if len(failed) > 0 && !channelDown && attempt <= e.Tunables.Retry.MaxRetries {
		e.dispatchWG.Add(1)
		go e.retryLater(alert.ID, channel, failed, attempt+1)
	}
	return &record
}

func (e *Engine) retryLater(alertID string, channel models.Channel, endpoints []string, attempt int) {
	defer e.dispatchWG.Done()

	metrics.DispatchRetries.WithLabelValues(string(channel)).Inc()
	time.Sleep(e.Tunables.Retry.BackoffFor(attempt - 1))

	if e.alertCancelled(alertID) {
		return
	}
	alert, err := e.getAlert(alertID)
	if err != nil {
		e.dispatchLogger().Error("Retry dropped, alert lookup failed", zap.Error(err))
		return
	}
	e.attemptChannel(context.Background(), alert, channel, endpoints, attempt)
}

func (e *Engine) alertCancelled(alertID string) bool {
	var alert models.Alert
	if err := e.Db.Conn.Select("status").First(&alert, "id = ?", alertID).Error; err != nil {
		return false
	}
	return alert.Status == models.AlertStatusCancelled
}

// confirmDelivery applies an asynchronous delivery receipt to the latest
// record for the channel instead of creating a new one.
func (e *Engine) confirmDelivery(alertID string, channel models.Channel, delivered int) error {
	var record models.DistributionRecord
	err := e.Db.Conn.
		Where("alert_id = ? AND channel = ?", alertID, channel).
		Order("attempt desc").
		First(&record).Error
	if err != nil {
		return err
	}

	record.DeliveredCount += delivered
	if err := e.Db.Conn.Save(&record).Error; err != nil {
		return err
	}
	metrics.DeliveriesConfirmed.WithLabelValues(string(channel)).Add(float64(delivered))
	return nil
}

func (e *Engine) distributionRecords(alertID string) ([]models.DistributionRecord, error) {
	var records []models.DistributionRecord
	err := e.Db.Conn.
		Where("alert_id = ?", alertID).
		Order("attempted_at asc, attempt asc").
		Find(&records).Error
	return records, err
}

func (e *Engine) distributionSummary(alertID string) (map[models.Channel]ChannelTotals, error) {
	records, err := e.distributionRecords(alertID)
	if err != nil {
		return nil, err
	}
	return common.Reducer(records, sumRecord, map[models.Channel]ChannelTotals{}), nil
}

func sumRecord(acc map[models.Channel]ChannelTotals, r models.DistributionRecord) map[models.Channel]ChannelTotals {
	totals := acc[r.Channel]
	if r.Attempt == 1 {
		totals.Recipients += r.RecipientCount
	}
	totals.Sent += r.SentCount
	totals.Delivered += r.DeliveredCount
	// failures carry over into the next attempt, so only the latest
	// attempt's count is outstanding
	totals.Failed = r.FailedCount
	acc[r.Channel] = totals
	return acc
}

func (e *Engine) distributionTotals() (map[models.Channel]ChannelTotals, error) {
	type row struct {
		Channel   models.Channel
		Sent      int
		Delivered int
		Failed    int
	}
	var rows []row
	err := e.Db.Conn.Model(&models.DistributionRecord{}).
		Select("channel, sum(sent_count) as sent, sum(delivered_count) as delivered, sum(failed_count) as failed").
		Group("channel").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[models.Channel]ChannelTotals, len(rows))
	for _, r := range rows {
		totals[r.Channel] = ChannelTotals{Sent: r.Sent, Delivered: r.Delivered, Failed: r.Failed}
	}
	return totals, nil
}

// distribute resolves recipients and dispatches the alert, flipping it from
// pending to active on its first dispatch. Called by the aggregator after
// create, escalate and modify.
func (e *Engine) distribute(alert *models.Alert) {
	if e.Resolver == nil || e.Dispatcher == nil {
		return
	}
	logger := e.dispatchLogger()

	res, err := e.Resolver.Resolve(alert.RecipientGroups, alert.Channels, alert.Severity, alert.ThreatType, e.Clock())
	if err != nil {
		logger.Error("Recipient resolution failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}

	records, err := e.Dispatcher.Dispatch(context.Background(), alert, res)
	if err != nil {
		logger.Error("Dispatch failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}

	var diff []models.FieldChange
	if alert.Status == models.AlertStatusPending {
		alert.Status = models.AlertStatusActive
		alert.UpdatedAt = e.Clock()
		if err := e.Db.Conn.Save(alert).Error; err != nil {
			logger.Error("Failed to activate alert", zap.String("alert_id", alert.ID), zap.Error(err))
			return
		}
		diff = []models.FieldChange{{
			Field: "status",
			From:  string(models.AlertStatusPending),
			To:    string(models.AlertStatusActive),
		}}
	}

	e.appendAudit(alert.ID, models.AuditActionDispatched, "system", describeRecords(records), diff)
}

func describeRecords(records []models.DistributionRecord) string {
	parts := common.Mapper(records, func(r models.DistributionRecord) string {
		return fmt.Sprintf("%s sent=%d failed=%d of %d", r.Channel, r.SentCount, r.FailedCount, r.RecipientCount)
	})
	return "dispatched: " + strings.Join(parts, "; ")
}

type IDispatcherImpl struct {
	engine *Engine
}

func (id *IDispatcherImpl) Dispatch(ctx context.Context, alert *models.Alert, res *Resolution) ([]models.DistributionRecord, error) {
	return id.engine.dispatch(ctx, alert, res)
}

func (id *IDispatcherImpl) ConfirmDelivery(alertID string, channel models.Channel, delivered int) error {
	return id.engine.confirmDelivery(alertID, channel, delivered)
}

func (id *IDispatcherImpl) Records(alertID string) ([]models.DistributionRecord, error) {
	return id.engine.distributionRecords(alertID)
}

func (id *IDispatcherImpl) Summary(alertID string) (map[models.Channel]ChannelTotals, error) {
	return id.engine.distributionSummary(alertID)
}

func (id *IDispatcherImpl) Totals() (map[models.Channel]ChannelTotals, error) {
	return id.engine.distributionTotals()
}

// Close waits for in-flight retries to settle.
func (id *IDispatcherImpl) Close() {
	id.engine.dispatchWG.Wait()
}

func (e *Engine) GetIDispatcher() IDispatcher {
	return &IDispatcherImpl{engine: e}
}
