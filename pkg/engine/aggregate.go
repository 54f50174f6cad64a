package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/metrics"
	"coastwatch.dev/alert-engine/pkg/models"
)

// Composition is an operator-authored alert, bypassing evaluation.
type Composition struct {
	Title           string
	ThreatType      string
	Severity        models.Severity
	LocationName    string
	Latitude        float64
	Longitude       float64
	AffectedArea    string
	Description     string
	Confidence      int
	RecipientGroups []string
	Channels        []models.Channel
}

// ModifyFields carries the mutable alert fields; nil means leave unchanged.
type ModifyFields struct {
	Title           *string
	Description     *string
	AffectedArea    *string
	RecipientGroups *[]string
	Channels        *[]models.Channel
}

type AlertFilter struct {
	Statuses    []models.AlertStatus
	Severities  []models.Severity
	ThreatTypes []string
	Since       time.Time
	Until       time.Time
}

func (e *Engine) aggregateLogger() *zap.Logger {
	return common.GetLoggerWith(
		common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryAggregate),
	)
}

func confidenceFor(severity models.Severity) int {
	return 60 + severity.Rank()*10
}

// processEvaluation applies transition tracking: only rising transitions
// create or escalate, a fall back to none auto-resolves alerts whose sensors
// have all returned to normal.
func (e *Engine) processEvaluation(reading *models.SensorReading, result *EvaluationResult) (*models.Alert, error) {
	logger := e.aggregateLogger()

	e.transMu.Lock()
	prev, seen := e.lastSeverity[reading.SensorID]
	if !seen {
		prev = models.SeverityNone
	}
	e.lastSeverity[reading.SensorID] = result.Severity
	e.transMu.Unlock()

	if result.Severity == models.SeverityNone {
		if prev != models.SeverityNone {
			return nil, e.autoResolveForSensor(reading.SensorID)
		}
		return nil, nil
	}

	threatType := ThreatTypeFor(reading.SensorType)
	rising := result.Severity.Rank() > prev.Rank()

	e.createMu.Lock()
	alert, err := e.findCoveringAlert(threatType, reading.LocationName)
	if err != nil {
		e.createMu.Unlock()
		return nil, err
	}

	if alert == nil {
		if !rising {
			// falling or stable with nothing to cover it: nothing to do
			e.createMu.Unlock()
			return nil, nil
		}
		alert = &models.Alert{
			ID:           uuid.NewString(),
			Title:        fmt.Sprintf("%s - %s", threatType, reading.LocationName),
			ThreatType:   threatType,
			Severity:     result.Severity,
			Status:       models.AlertStatusPending,
			LocationName: reading.LocationName,
			Latitude:     reading.Latitude,
			Longitude:    reading.Longitude,
			AffectedArea: reading.LocationName,
			Description: fmt.Sprintf("%s reading %.2f %s met the %s threshold %.2f",
				reading.SensorType, reading.Value, reading.Unit, result.Severity, result.TriggeredLevel),
			Confidence:      confidenceFor(result.Severity),
			SourceSensorIDs: []string{reading.SensorID},
			RecipientGroups: defaultGroupsFor(result.Severity),
			Channels:        defaultChannelsFor(result.Severity),
			CreatedAt:       e.Clock(),
			UpdatedAt:       e.Clock(),
		}
		if err := e.Db.Conn.Create(alert).Error; err != nil {
			e.createMu.Unlock()
			return nil, err
		}
		e.createMu.Unlock()

		logger.Info("Alert created from evaluation", zap.Reflect("alert", alert))
		e.appendAudit(alert.ID, models.AuditActionCreated, "system",
			fmt.Sprintf("created from sensor %s (threshold version %s)", reading.SensorID, result.ThresholdVersionID),
			[]models.FieldChange{
				{Field: "severity", From: "", To: string(alert.Severity)},
				{Field: "status", From: "", To: string(alert.Status)},
			})
		e.distribute(alert)
		return alert, nil
	}
	e.createMu.Unlock()

	// Existing alert covers this trigger: merge instead of duplicating.
	mu := e.lockAlert(alert.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.Db.Conn.First(alert, "id = ?", alert.ID).Error; err != nil {
		return nil, err
	}
	if alert.Status.Terminal() {
		return alert, nil
	}

	if !slices.Contains(alert.SourceSensorIDs, reading.SensorID) {
		alert.SourceSensorIDs = append(alert.SourceSensorIDs, reading.SensorID)
	}

	if rising && result.Severity.Rank() > alert.Severity.Rank() {
		from := alert.Severity
		alert.Severity = result.Severity
		alert.UpdatedAt = e.Clock()
		if err := e.Db.Conn.Save(alert).Error; err != nil {
			return nil, err
		}
		logger.Info("Alert escalated from evaluation", zap.Reflect("alert", alert))
		e.appendAudit(alert.ID, models.AuditActionEscalated, "system",
			fmt.Sprintf("escalated by sensor %s", reading.SensorID),
			[]models.FieldChange{{Field: "severity", From: string(from), To: string(alert.Severity)}})
		e.distribute(alert)
		return alert, nil
	}

	// repeated trigger at the same or lower severity: refresh the window
	alert.UpdatedAt = e.Clock()
	if err := e.Db.Conn.Save(alert).Error; err != nil {
		return nil, err
	}
	return alert, nil
}

// findCoveringAlert returns the most recently updated non-terminal alert for
// the same threat type and location whose cool-down window is still open.
func (e *Engine) findCoveringAlert(threatType, locationName string) (*models.Alert, error) {
	var alert models.Alert
	err := e.Db.Conn.
		Where("threat_type = ? AND location_name = ? AND status IN ?",
			threatType, locationName,
			[]models.AlertStatus{models.AlertStatusPending, models.AlertStatusActive}).
		Order("updated_at desc").
		First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if e.Clock().Sub(alert.UpdatedAt) > e.Tunables.Cooldown {
		return nil, nil
	}
	return &alert, nil
}

// autoResolveForSensor resolves every non-terminal alert sourced from the
// sensor once no other contributing sensor is still above none.
func (e *Engine) autoResolveForSensor(sensorID string) error {
	var alerts []models.Alert
	err := e.Db.Conn.
		Where("status IN ?", []models.AlertStatus{models.AlertStatusPending, models.AlertStatusActive}).
		Find(&alerts).Error
	if err != nil {
		return err
	}

	sourced := common.Filter(alerts, func(a models.Alert) bool {
		return slices.Contains(a.SourceSensorIDs, sensorID)
	})
	for i := range sourced {
		alert := &sourced[i]

		stillTriggered := false
		e.transMu.Lock()
		for _, otherID := range alert.SourceSensorIDs {
			if otherID == sensorID {
				continue
			}
			if e.lastSeverity[otherID].Rank() > models.SeverityNone.Rank() {
				stillTriggered = true
				break
			}
		}
		e.transMu.Unlock()

		if stillTriggered {
			continue
		}
		if _, err := e.resolveAlert(alert.ID, "system"); err != nil {
			return err
		}
	}
	return nil
}

func defaultGroupsFor(severity models.Severity) []string {
	if severity.Rank() >= models.SeverityHigh.Rank() {
		return []string{"coastal_residents", "emergency", "officials"}
	}
	return []string{"coastal_residents"}
}

func defaultChannelsFor(severity models.Severity) []models.Channel {
	if severity.Rank() >= models.SeverityHigh.Rank() {
		return models.AllChannels()
	}
	return []models.Channel{models.ChannelSMS, models.ChannelPush}
}

func (e *Engine) createAlert(comp *Composition, actor string) (*models.Alert, error) {
	if comp.Severity == models.SeverityNone || !comp.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q is not raisable", common.ErrInvalidComposition, comp.Severity)
	}
	if comp.Title == "" || comp.ThreatType == "" {
		return nil, fmt.Errorf("%w: title and threat type are required", common.ErrInvalidComposition)
	}

	groups := comp.RecipientGroups
	if len(groups) == 0 {
		groups = []string{"all"}
	}
	channels := comp.Channels
	if len(channels) == 0 {
		channels = []models.Channel{models.ChannelSMS, models.ChannelPush}
	}
	confidence := comp.Confidence
	if confidence <= 0 {
		confidence = confidenceFor(comp.Severity)
	}

	e.createMu.Lock()
	existing, err := e.findCoveringAlert(comp.ThreatType, comp.LocationName)
	if err != nil {
		e.createMu.Unlock()
		return nil, err
	}
	if existing != nil {
		e.createMu.Unlock()
		if existing.Severity.Rank() < comp.Severity.Rank() {
			return e.escalateTo(existing.ID, comp.Severity, actor)
		}
		return existing, nil
	}

	alert := &models.Alert{
		ID:              uuid.NewString(),
		Title:           comp.Title,
		ThreatType:      comp.ThreatType,
		Severity:        comp.Severity,
		Status:          models.AlertStatusPending,
		LocationName:    comp.LocationName,
		Latitude:        comp.Latitude,
		Longitude:       comp.Longitude,
		AffectedArea:    comp.AffectedArea,
		Description:     comp.Description,
		Confidence:      confidence,
		SourceSensorIDs: []string{},
		RecipientGroups: groups,
		Channels:        channels,
		CreatedAt:       e.Clock(),
		UpdatedAt:       e.Clock(),
	}
	if err := e.Db.Conn.Create(alert).Error; err != nil {
		e.createMu.Unlock()
		return nil, err
	}
	e.createMu.Unlock()

	e.aggregateLogger().Info("Alert composed", zap.Reflect("alert", alert), zap.String("actor", actor))
	e.appendAudit(alert.ID, models.AuditActionCreated, actor, "composed by operator",
		[]models.FieldChange{
			{Field: "severity", From: "", To: string(alert.Severity)},
			{Field: "status", From: "", To: string(alert.Status)},
		})
	e.distribute(alert)
	return alert, nil
}

// escalateTo raises the alert to the target severity, if higher.
func (e *Engine) escalateTo(alertID string, target models.Severity, actor string) (*models.Alert, error) {
	mu := e.lockAlert(alertID)
	mu.Lock()
	defer mu.Unlock()

	alert, err := e.getAlert(alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", common.ErrAlertTerminal, alertID, alert.Status)
	}
	if target.Rank() <= alert.Severity.Rank() {
		return alert, nil
	}

	from := alert.Severity
	alert.Severity = target
	alert.UpdatedAt = e.Clock()
	if err := e.Db.Conn.Save(alert).Error; err != nil {
		return nil, err
	}

	e.aggregateLogger().Info("Alert escalated", zap.Reflect("alert", alert), zap.String("actor", actor))
	e.appendAudit(alert.ID, models.AuditActionEscalated, actor, "",
		[]models.FieldChange{{Field: "severity", From: string(from), To: string(alert.Severity)}})
	e.distribute(alert)
	return alert, nil
}

func (e *Engine) escalateAlert(alertID string, actor string) (*models.Alert, error) {
	mu := e.lockAlert(alertID)
	mu.Lock()
	defer mu.Unlock()

	alert, err := e.getAlert(alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", common.ErrAlertTerminal, alertID, alert.Status)
	}
	if alert.Severity == models.SeverityCritical {
		// already at the top of the scale
		return alert, nil
	}

	from := alert.Severity
	alert.Severity = alert.Severity.Next()
	alert.UpdatedAt = e.Clock()
	if err := e.Db.Conn.Save(alert).Error; err != nil {
		return nil, err
	}

	e.aggregateLogger().Info("Alert escalated", zap.Reflect("alert", alert), zap.String("actor", actor))
	e.appendAudit(alert.ID, models.AuditActionEscalated, actor, "",
		[]models.FieldChange{{Field: "severity", From: string(from), To: string(alert.Severity)}})
	e.distribute(alert)
	return alert, nil
}

func (e *Engine) modifyAlert(alertID string, fields ModifyFields, actor string) (*models.Alert, error) {
	mu := e.lockAlert(alertID)
	mu.Lock()
	defer mu.Unlock()

	alert, err := e.getAlert(alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", common.ErrAlertTerminal, alertID, alert.Status)
	}

	var diff []models.FieldChange
	if fields.Title != nil && *fields.Title != alert.Title {
		diff = append(diff, models.FieldChange{Field: "title", From: alert.Title, To: *fields.Title})
		alert.Title = *fields.Title
	}
	if fields.Description != nil && *fields.Description != alert.Description {
		diff = append(diff, models.FieldChange{Field: "description", From: alert.Description, To: *fields.Description})
		alert.Description = *fields.Description
	}
	if fields.AffectedArea != nil && *fields.AffectedArea != alert.AffectedArea {
		diff = append(diff, models.FieldChange{Field: "affectedArea", From: alert.AffectedArea, To: *fields.AffectedArea})
		alert.AffectedArea = *fields.AffectedArea
	}
	if fields.RecipientGroups != nil {
		from := strings.Join(alert.RecipientGroups, ",")
		to := strings.Join(*fields.RecipientGroups, ",")
		if from != to {
			diff = append(diff, models.FieldChange{Field: "recipientGroups", From: from, To: to})
			alert.RecipientGroups = *fields.RecipientGroups
		}
	}
	if fields.Channels != nil {
		from := strings.Join(channelNames(alert.Channels), ",")
		to := strings.Join(channelNames(*fields.Channels), ",")
		if from != to {
			diff = append(diff, models.FieldChange{Field: "channels", From: from, To: to})
			alert.Channels = *fields.Channels
		}
	}

	if len(diff) == 0 {
		return alert, nil
	}

	alert.UpdatedAt = e.Clock()
	if err := e.Db.Conn.Save(alert).Error; err != nil {
		return nil, err
	}

	e.aggregateLogger().Info("Alert modified", zap.Reflect("alert", alert), zap.String("actor", actor))
	e.appendAudit(alert.ID, models.AuditActionModified, actor, "", diff)
	e.distribute(alert)
	return alert, nil
}

func channelNames(channels []models.Channel) []string {
	return common.Mapper(channels, func(c models.Channel) string { return string(c) })
}

func (e *Engine) cancelAlert(alertID string, actor string) (*models.Alert, error) {
	mu := e.lockAlert(alertID)
	mu.Lock()
	defer mu.Unlock()

	alert, err := e.getAlert(alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.AlertStatusCancelled {
		// idempotent: no second audit entry
		return alert, nil
	}
	if alert.Status == models.AlertStatusResolved {
		return nil, fmt.Errorf("%w: %s is %s", common.ErrAlertTerminal, alertID, alert.Status)
	}

	from := alert.Status
	alert.Status = models.AlertStatusCancelled
	alert.UpdatedAt = e.Clock()
	if err := e.Db.Conn.Save(alert).Error; err != nil {
		return nil, err
	}

	e.aggregateLogger().Info("Alert cancelled", zap.Reflect("alert", alert), zap.String("actor", actor))
	e.appendAudit(alert.ID, models.AuditActionCancelled, actor, "",
		[]models.FieldChange{{Field: "status", From: string(from), To: string(alert.Status)}})
	return alert, nil
}

func (e *Engine) resolveAlert(alertID string, actor string) (*models.Alert, error) {
	mu := e.lockAlert(alertID)
	mu.Lock()
	defer mu.Unlock()

	alert, err := e.getAlert(alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == models.AlertStatusResolved {
		return alert, nil
	}
	if alert.Status == models.AlertStatusCancelled {
		return nil, fmt.Errorf("%w: %s is %s", common.ErrAlertTerminal, alertID, alert.Status)
	}

	from := alert.Status
	alert.Status = models.AlertStatusResolved
	alert.UpdatedAt = e.Clock()
	if err := e.Db.Conn.Save(alert).Error; err != nil {
		return nil, err
	}

	e.aggregateLogger().Info("Alert resolved", zap.Reflect("alert", alert), zap.String("actor", actor))
	e.appendAudit(alert.ID, models.AuditActionResolved, actor, "",
		[]models.FieldChange{{Field: "status", From: string(from), To: string(alert.Status)}})
	return alert, nil
}

func (e *Engine) getAlert(alertID string) (*models.Alert, error) {
	var alert models.Alert
	if err := e.Db.Conn.First(&alert, "id = ?", alertID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", common.ErrAlertNotFound, alertID)
		}
		return nil, err
	}
	return &alert, nil
}

func (e *Engine) queryAlerts(filter AlertFilter) ([]models.Alert, error) {
	q := e.Db.Conn.Model(&models.Alert{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if len(filter.Severities) > 0 {
		q = q.Where("severity IN ?", filter.Severities)
	}
	if len(filter.ThreatTypes) > 0 {
		q = q.Where("threat_type IN ?", filter.ThreatTypes)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at < ?", filter.Until)
	}

	var alerts []models.Alert
	err := q.Order("created_at desc").Find(&alerts).Error
	return alerts, err
}

func (e *Engine) appendAudit(alertID string, action models.AuditAction, actor, description string, diff []models.FieldChange) {
	if e.Audit == nil {
		return
	}
	entry := models.AuditEntry{
		AlertID:     alertID,
		Action:      action,
		Actor:       actor,
		Timestamp:   e.Clock(),
		Description: description,
		Diff:        diff,
	}
	if err := e.Audit.Append(&entry); err != nil {
		e.aggregateLogger().Error("Failed to append audit entry", zap.Error(err))
	}
	metrics.AlertTransitions.WithLabelValues(string(action)).Inc()
}

type IAggregatorImpl struct {
	engine *Engine
}

func (ia *IAggregatorImpl) ProcessEvaluation(reading *models.SensorReading, result *EvaluationResult) (*models.Alert, error) {
	return ia.engine.processEvaluation(reading, result)
}

func (ia *IAggregatorImpl) Create(comp *Composition, actor string) (*models.Alert, error) {
	return ia.engine.createAlert(comp, actor)
}

func (ia *IAggregatorImpl) Escalate(alertID string, actor string) (*models.Alert, error) {
	return ia.engine.escalateAlert(alertID, actor)
}

func (ia *IAggregatorImpl) Modify(alertID string, fields ModifyFields, actor string) (*models.Alert, error) {
	return ia.engine.modifyAlert(alertID, fields, actor)
}

func (ia *IAggregatorImpl) Cancel(alertID string, actor string) (*models.Alert, error) {
	return ia.engine.cancelAlert(alertID, actor)
}

func (ia *IAggregatorImpl) Resolve(alertID string, actor string) (*models.Alert, error) {
	return ia.engine.resolveAlert(alertID, actor)
}

func (ia *IAggregatorImpl) Get(alertID string) (*models.Alert, error) {
	return ia.engine.getAlert(alertID)
}

func (ia *IAggregatorImpl) Query(filter AlertFilter) ([]models.Alert, error) {
	return ia.engine.queryAlerts(filter)
}

func (e *Engine) GetIAggregator() IAggregator {
	return &IAggregatorImpl{engine: e}
}
