package engine

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/metrics"
	"coastwatch.dev/alert-engine/pkg/models"
)

// QuietHours is a recipient-local window during which non-critical alerts
// are suppressed. Start and End are "HH:MM"; the window may cross midnight.
type QuietHours struct {
	Enabled bool
	Start   string
	End     string
}

// Recipient is one roster member with per-channel contact endpoints and
// delivery preferences.
type Recipient struct {
	Endpoints        map[models.Channel]string
	MinSeverity      models.Severity
	MutedThreatTypes []string
	QuietHours       QuietHours
}

// Resolution is the per-channel recipient expansion for one dispatch.
type Resolution struct {
	ByChannel   map[models.Channel][]string
	Unreachable int
}

func (e *Engine) resolveRecipients(groups []string, channels []models.Channel, severity models.Severity, threatType string, now time.Time) (*Resolution, error) {
	if e.Roster == nil {
		return nil, fmt.Errorf("roster service not available")
	}

	logger := common.GetLoggerWith(
		common.LoggerNameEngineCore,
		zap.String(common.LoggerFieldEngineCategory, common.LoggerCategoryResolve),
	)

	res := Resolution{ByChannel: make(map[models.Channel][]string, len(channels))}
	seen := make(map[models.Channel]map[string]bool, len(channels))
	for _, channel := range channels {
		res.ByChannel[channel] = []string{}
		seen[channel] = make(map[string]bool)
	}

	for _, group := range groups {
		recipients, err := e.Roster.ResolveGroup(group)
		if err != nil {
			// soft failure: an unknown or unreachable group never aborts the batch
			logger.Warn("Failed to resolve group", zap.String("group", group), zap.Error(err))
			continue
		}

		for _, recipient := range recipients {
			if severity.Rank() < recipient.MinSeverity.Rank() {
				continue
			}
			if slices.Contains(recipient.MutedThreatTypes, threatType) {
				continue
			}
			// quiet hours never suppress critical alerts
			if severity != models.SeverityCritical &&
				recipient.QuietHours.Enabled &&
				inQuietWindow(now, recipient.QuietHours.Start, recipient.QuietHours.End) {
				continue
			}

			for _, channel := range channels {
				endpoint, ok := recipient.Endpoints[channel]
				if !ok || endpoint == "" {
					res.Unreachable++
					metrics.RecipientsUnreachable.WithLabelValues(string(channel)).Inc()
					continue
				}
				if seen[channel][endpoint] {
					continue
				}
				seen[channel][endpoint] = true
				res.ByChannel[channel] = append(res.ByChannel[channel], endpoint)
			}
		}
	}

	logger.Info("Resolved recipients",
		zap.Strings("groups", groups),
		zap.Int("unreachable", res.Unreachable))
	return &res, nil
}

// inQuietWindow reports whether the clock time of now falls inside
// [start, end), where both bounds are "HH:MM" and the window may cross
// midnight (e.g. 22:00-07:00). Malformed bounds disable the window.
func inQuietWindow(now time.Time, start, end string) bool {
	startMin, err := parseClockMinutes(start)
	if err != nil {
		return false
	}
	endMin, err := parseClockMinutes(end)
	if err != nil {
		return false
	}

	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}

func parseClockMinutes(clock string) (int, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

type IResolverImpl struct {
	engine *Engine
}

func (ir *IResolverImpl) Resolve(groups []string, channels []models.Channel, severity models.Severity, threatType string, now time.Time) (*Resolution, error) {
	return ir.engine.resolveRecipients(groups, channels, severity, threatType, now)
}

func (e *Engine) GetIResolver() IResolver {
	return &IResolverImpl{engine: e}
}
