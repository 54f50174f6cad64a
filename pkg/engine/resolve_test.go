package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coastwatch.dev/alert-engine/pkg/common"
	"coastwatch.dev/alert-engine/pkg/engine"
	"coastwatch.dev/alert-engine/pkg/models"
	_ "coastwatch.dev/alert-engine/pkg/testing"
)

func TestResolveRecipients(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	mockRoster.EXPECT().ResolveGroup("fisherfolk").Return([]engine.Recipient{
		{
			Endpoints: map[models.Channel]string{
				models.ChannelSMS:  "+911234500001",
				models.ChannelPush: "token-a",
			},
			MinSeverity: models.SeverityLow,
		},
		{
			Endpoints: map[models.Channel]string{
				models.ChannelSMS: "+911234500002",
			},
			MinSeverity: models.SeverityHigh,
		},
	}, nil).AnyTimes()

	noon := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	// below the second recipient's severity floor
	res, err := eng.Resolver.Resolve(
		[]string{"fisherfolk"},
		[]models.Channel{models.ChannelSMS, models.ChannelPush},
		models.SeverityModerate, "Cyclone", noon,
	)
	assert.NoError(t, err)
	assert.Equal(t, []string{"+911234500001"}, res.ByChannel[models.ChannelSMS])
	assert.Equal(t, []string{"token-a"}, res.ByChannel[models.ChannelPush])
	assert.Equal(t, 0, res.Unreachable)

	// at high both qualify; the second has no push endpoint
	res, err = eng.Resolver.Resolve(
		[]string{"fisherfolk"},
		[]models.Channel{models.ChannelSMS, models.ChannelPush},
		models.SeverityHigh, "Cyclone", noon,
	)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"+911234500001", "+911234500002"}, res.ByChannel[models.ChannelSMS])
	assert.Equal(t, []string{"token-a"}, res.ByChannel[models.ChannelPush])
	assert.Equal(t, 1, res.Unreachable)
}

func TestResolveQuietHours(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	mockRoster.EXPECT().ResolveGroup("coastal_residents").Return([]engine.Recipient{
		{
			Endpoints:   map[models.Channel]string{models.ChannelSMS: "+911234500003"},
			MinSeverity: models.SeverityLow,
			QuietHours:  engine.QuietHours{Enabled: true, Start: "22:00", End: "07:00"},
		},
	}, nil).AnyTimes()

	channels := []models.Channel{models.ChannelSMS}
	lateNight := time.Date(2026, 6, 1, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 6, 2, 6, 30, 0, 0, time.UTC)
	noon := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	// the window crosses midnight and holds back non-critical alerts
	res, err := eng.Resolver.Resolve([]string{"coastal_residents"}, channels, models.SeverityHigh, "Cyclone", lateNight)
	assert.NoError(t, err)
	assert.Empty(t, res.ByChannel[models.ChannelSMS])

	res, err = eng.Resolver.Resolve([]string{"coastal_residents"}, channels, models.SeverityHigh, "Cyclone", earlyMorning)
	assert.NoError(t, err)
	assert.Empty(t, res.ByChannel[models.ChannelSMS])

	res, err = eng.Resolver.Resolve([]string{"coastal_residents"}, channels, models.SeverityHigh, "Cyclone", noon)
	assert.NoError(t, err)
	assert.Len(t, res.ByChannel[models.ChannelSMS], 1)

	// quiet hours never suppress critical alerts
	res, err = eng.Resolver.Resolve([]string{"coastal_residents"}, channels, models.SeverityCritical, "Cyclone", lateNight)
	assert.NoError(t, err)
	assert.Equal(t, []string{"+911234500003"}, res.ByChannel[models.ChannelSMS])
}

func TestResolveMutedThreatsAndDedup(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	recipient := engine.Recipient{
		Endpoints:        map[models.Channel]string{models.ChannelSMS: "+911234500004"},
		MinSeverity:      models.SeverityLow,
		MutedThreatTypes: []string{"Cyclone"},
	}
	mockRoster.EXPECT().ResolveGroup("officials").Return([]engine.Recipient{recipient}, nil).AnyTimes()
	mockRoster.EXPECT().ResolveGroup("emergency").Return([]engine.Recipient{recipient}, nil).AnyTimes()

	noon := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	channels := []models.Channel{models.ChannelSMS}

	res, err := eng.Resolver.Resolve([]string{"officials"}, channels, models.SeverityHigh, "Cyclone", noon)
	assert.NoError(t, err)
	assert.Empty(t, res.ByChannel[models.ChannelSMS])

	res, err = eng.Resolver.Resolve([]string{"officials"}, channels, models.SeverityHigh, "Storm Surge", noon)
	assert.NoError(t, err)
	assert.Len(t, res.ByChannel[models.ChannelSMS], 1)

	// the same endpoint through two groups is contacted once
	res, err = eng.Resolver.Resolve([]string{"officials", "emergency"}, channels, models.SeverityHigh, "Storm Surge", noon)
	assert.NoError(t, err)
	assert.Equal(t, []string{"+911234500004"}, res.ByChannel[models.ChannelSMS])
}

func TestResolveGroupFailureIsSoft(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl, eng, mockRoster := GetMockEngineWithMemorySqliteDialector(t, engine.DefaultTunables())
	defer ctrl.Finish()

	mockRoster.EXPECT().ResolveGroup("ghosts").Return(nil, fmt.Errorf("unknown target group %q", "ghosts"))
	mockRoster.EXPECT().ResolveGroup("ngos").Return([]engine.Recipient{
		{
			Endpoints:   map[models.Channel]string{models.ChannelEmail: "watch@reef.org"},
			MinSeverity: models.SeverityLow,
		},
	}, nil)

	res, err := eng.Resolver.Resolve(
		[]string{"ghosts", "ngos"},
		[]models.Channel{models.ChannelEmail},
		models.SeverityHigh, "Algal Bloom",
		time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	)
	assert.NoError(t, err)
	assert.Equal(t, []string{"watch@reef.org"}, res.ByChannel[models.ChannelEmail])
}
