package engine

import (
	"go.uber.org/zap"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/models"
)

func (e *Engine) auditAppend(entry *models.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.Clock()
	}

	if err := e.Db.Conn.Create(entry).Error; err != nil {
		return err
	}

	common.GetLoggerWith(
		common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryAudit),
	).Info("Audit entry appended", zap.Reflect("entry", entry))
	return nil
}

func (e *Engine) auditList(alertID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := e.Db.Conn.
		Where("alert_id = ?", alertID).
		Order("timestamp asc, id asc").
		Find(&entries).Error
	return entries, err
}

// auditReplay folds entries in order and reconstructs the alert's current
// severity and status from the recorded field changes.
func auditReplay(entries []models.AuditEntry) (models.Severity, models.AlertStatus) {
	severity := models.SeverityNone
	status := models.AlertStatus("")
	for _, entry := range entries {
		for _, change := range entry.Diff {
			switch change.Field {
			case "severity":
				severity = models.Severity(change.To)
			case "status":
				status = models.AlertStatus(change.To)
			}
		}
	}
	return severity, status
}

type IAuditImpl struct {
	engine *Engine
}

func (ia *IAuditImpl) Append(entry *models.AuditEntry) error {
	return ia.engine.auditAppend(entry)
}

func (ia *IAuditImpl) List(alertID string) ([]models.AuditEntry, error) {
	return ia.engine.auditList(alertID)
}

func (ia *IAuditImpl) Replay(entries []models.AuditEntry) (models.Severity, models.AlertStatus) {
	return auditReplay(entries)
}

func (e *Engine) GetIAudit() IAudit {
	return &IAuditImpl{engine: e}
}
