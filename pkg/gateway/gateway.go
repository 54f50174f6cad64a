package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/models"
)

// LogSender is the stand-in channel gateway used until a real SMS/push/email
// relay is configured: it accepts every endpoint and logs the batch.
type LogSender struct {
	Channel models.Channel
}

func (s *LogSender) Send(_ context.Context, alert *models.Alert, endpoints []string) (*engine.SendResult, error) {
	common.GetLoggerWith(common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryDispatch),
	).Info("Batch accepted by log sender",
		zap.String("channel", string(s.Channel)),
		zap.String("alert_id", alert.ID),
		zap.Int("endpoints", len(endpoints)))
	return &engine.SendResult{Sent: len(endpoints)}, nil
}

func LogSenders() map[models.Channel]engine.Sender {
	senders := make(map[models.Channel]engine.Sender)
	for _, channel := range models.AllChannels() {
		senders[channel] = &LogSender{Channel: channel}
	}
	return senders
}

// FileRoster serves target groups from a JSON file of the shape
// {"group_name": [{"endpoints": {"sms": "+91..."}, "min_severity": "low",
// "quiet_hours": {"enabled": true, "start": "22:00", "end": "07:00"}}]}.
type FileRoster struct {
	groups map[string][]engine.Recipient
}

type rosterRecipient struct {
	Endpoints        map[models.Channel]string `json:"endpoints"`
	MinSeverity      models.Severity           `json:"min_severity"`
	MutedThreatTypes []string                  `json:"muted_threat_types"`
	QuietHours       struct {
		Enabled bool   `json:"enabled"`
		Start   string `json:"start"`
		End     string `json:"end"`
	} `json:"quiet_hours"`
}

func LoadRoster(path string) (*FileRoster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string][]rosterRecipient
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}

	roster := FileRoster{groups: make(map[string][]engine.Recipient, len(raw))}
	for group, members := range raw {
		recipients := make([]engine.Recipient, 0, len(members))
		for _, m := range members {
			severity := m.MinSeverity
			if severity == "" {
				severity = models.SeverityLow
			}
			recipients = append(recipients, engine.Recipient{
				Endpoints:        m.Endpoints,
				MinSeverity:      severity,
				MutedThreatTypes: m.MutedThreatTypes,
				QuietHours: engine.QuietHours{
					Enabled: m.QuietHours.Enabled,
					Start:   m.QuietHours.Start,
					End:     m.QuietHours.End,
				},
			})
		}
		roster.groups[group] = recipients
	}
	return &roster, nil
}

func (r *FileRoster) ResolveGroup(name string) ([]engine.Recipient, error) {
	recipients, ok := r.groups[name]
	if !ok {
		return nil, fmt.Errorf("unknown target group %q", name)
	}
	return recipients, nil
}
