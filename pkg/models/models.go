package models

import "time"

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityModerate: 2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the position of s on the none < low < moderate < high <
// critical scale, -1 for unknown values.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return -1
}

func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Next returns the next severity up the scale, capped at critical.
func (s Severity) Next() Severity {
	switch s {
	case SeverityNone:
		return SeverityLow
	case SeverityLow:
		return SeverityModerate
	case SeverityModerate:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

type SensorType string

const (
	SensorTypeSeaLevel    SensorType = "seaLevel"
	SensorTypeWindSpeed   SensorType = "windSpeed"
	SensorTypeWaveHeight  SensorType = "waveHeight"
	SensorTypeTemperature SensorType = "temperature"
	SensorTypePH          SensorType = "ph"
	SensorTypeSalinity    SensorType = "salinity"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

func AllChannels() []Channel {
	return []Channel{ChannelSMS, ChannelPush, ChannelEmail}
}

type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "pending"
	AlertStatusActive    AlertStatus = "active"
	AlertStatusCancelled AlertStatus = "cancelled"
	AlertStatusResolved  AlertStatus = "resolved"
)

// Terminal reports whether the status admits no further mutation.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusCancelled || s == AlertStatusResolved
}

type AuditAction string

const (
	AuditActionCreated    AuditAction = "created"
	AuditActionModified   AuditAction = "modified"
	AuditActionEscalated  AuditAction = "escalated"
	AuditActionCancelled  AuditAction = "cancelled"
	AuditActionResolved   AuditAction = "resolved"
	AuditActionDispatched AuditAction = "dispatched"
)

// SensorReading is a normalized observation. Value is always in the
// canonical unit of the sensor type after ingestion.
type SensorReading struct {
	ID           uint   `gorm:"primaryKey"`
	SensorID     string `gorm:"index"`
	SensorType   SensorType
	Value        float64
	Unit         string
	ObservedAt   time.Time
	Latitude     float64
	Longitude    float64
	LocationName string
}

// ThresholdVersion is one immutable snapshot of the trigger levels for a
// sensor type. At most one row per sensor type has Active set.
type ThresholdVersion struct {
	ID         string     `gorm:"primaryKey"`
	SensorType SensorType `gorm:"index"`
	Low        float64
	Moderate   float64
	High       float64
	Critical   float64
	Active     bool
	CreatedAt  time.Time
}

// LevelFor returns the trigger value for a non-none severity.
func (tv *ThresholdVersion) LevelFor(s Severity) float64 {
	switch s {
	case SeverityLow:
		return tv.Low
	case SeverityModerate:
		return tv.Moderate
	case SeverityHigh:
		return tv.High
	default:
		return tv.Critical
	}
}

type Alert struct {
	ID              string `gorm:"primaryKey"`
	Title           string
	ThreatType      string `gorm:"index"`
	Severity        Severity
	Status          AlertStatus `gorm:"index"`
	LocationName    string
	Latitude        float64
	Longitude       float64
	AffectedArea    string
	Description     string
	Confidence      int
	SourceSensorIDs []string  `gorm:"serializer:json"`
	RecipientGroups []string  `gorm:"serializer:json"`
	Channels        []Channel `gorm:"serializer:json"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DistributionRecord is one dispatch attempt for one channel of one alert.
// Rows are append-only; only DeliveredCount is bumped in place as delivery
// confirmations arrive.
type DistributionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	AlertID        string `gorm:"index"`
	Channel        Channel
	Attempt        int
	RecipientCount int
	SentCount      int
	DeliveredCount int
	FailedCount    int
	AttemptedAt    time.Time
}

type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type AuditEntry struct {
	ID          uint   `gorm:"primaryKey"`
	AlertID     string `gorm:"index"`
	Action      AuditAction
	Actor       string
	Timestamp   time.Time
	Description string
	Diff        []FieldChange `gorm:"serializer:json"`
}
