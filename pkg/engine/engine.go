package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"coastwatch.dev/alert-engine/pkg/db"
	"coastwatch.dev/alert-engine/pkg/models"
)

// Roster is the external recipient-roster collaborator. It expands a named
// target group into concrete recipients with their channel endpoints and
// delivery preferences.
type Roster interface {
	ResolveGroup(name string) ([]Recipient, error)
}

// Sender is one channel gateway (SMS, push or email relay). A sender that is
// down for the whole dispatch returns common.ErrChannelUnavailable.
type Sender interface {
	Send(ctx context.Context, alert *models.Alert, endpoints []string) (*SendResult, error)
}

type IThresholds interface {
	Update(sensorType models.SensorType, levels ThresholdLevels) (string, error)
	GetActive(sensorType models.SensorType) (*models.ThresholdVersion, error)
	GetVersion(versionID string) (*models.ThresholdVersion, error)
}

type IIngestor interface {
	Ingest(raw *RawReading) (*models.SensorReading, error)
}

type IEvaluator interface {
	Evaluate(reading *models.SensorReading) (*EvaluationResult, error)
}

type IAggregator interface {
	ProcessEvaluation(reading *models.SensorReading, result *EvaluationResult) (*models.Alert, error)
	Create(comp *Composition, actor string) (*models.Alert, error)
	Escalate(alertID string, actor string) (*models.Alert, error)
	Modify(alertID string, fields ModifyFields, actor string) (*models.Alert, error)
	Cancel(alertID string, actor string) (*models.Alert, error)
	Resolve(alertID string, actor string) (*models.Alert, error)
	Get(alertID string) (*models.Alert, error)
	Query(filter AlertFilter) ([]models.Alert, error)
}

type IResolver interface {
	Resolve(groups []string, channels []models.Channel, severity models.Severity, threatType string, now time.Time) (*Resolution, error)
}

type IDispatcher interface {
	Dispatch(ctx context.Context, alert *models.Alert, res *Resolution) ([]models.DistributionRecord, error)
	ConfirmDelivery(alertID string, channel models.Channel, delivered int) error
	Records(alertID string) ([]models.DistributionRecord, error)
	Summary(alertID string) (map[models.Channel]ChannelTotals, error)
	Totals() (map[models.Channel]ChannelTotals, error)
	Close()
}

type IAudit interface {
	Append(entry *models.AuditEntry) error
	List(alertID string) ([]models.AuditEntry, error)
	Replay(entries []models.AuditEntry) (models.Severity, models.AlertStatus)
}

// RetryPolicy governs redelivery of failed send batches.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	Factor      float64
	MaxBackoff  time.Duration
}

// BackoffFor returns the delay before the given retry (1-based), growing by
// Factor each retry and capped at MaxBackoff.
func (p RetryPolicy) BackoffFor(retry int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

type Tunables struct {
	Cooldown      time.Duration
	BatchSize     int
	MaxFutureSkew time.Duration
	Retry         RetryPolicy
}

func DefaultTunables() Tunables {
	return Tunables{
		Cooldown:      15 * time.Minute,
		BatchSize:     500,
		MaxFutureSkew: 24 * time.Hour,
		Retry: RetryPolicy{
			MaxRetries:  3,
			BaseBackoff: 2 * time.Second,
			Factor:      2,
			MaxBackoff:  30 * time.Second,
		},
	}
}

func (t Tunables) withDefaults() Tunables {
	def := DefaultTunables()
	if t.Cooldown <= 0 {
		t.Cooldown = def.Cooldown
	}
	if t.BatchSize <= 0 {
		t.BatchSize = def.BatchSize
	}
	if t.MaxFutureSkew <= 0 {
		t.MaxFutureSkew = def.MaxFutureSkew
	}
	if t.Retry.MaxRetries <= 0 {
		t.Retry.MaxRetries = def.Retry.MaxRetries
	}
	if t.Retry.BaseBackoff <= 0 {
		t.Retry.BaseBackoff = def.Retry.BaseBackoff
	}
	if t.Retry.Factor <= 1 {
		t.Retry.Factor = def.Retry.Factor
	}
	if t.Retry.MaxBackoff <= 0 {
		t.Retry.MaxBackoff = def.Retry.MaxBackoff
	}
	return t
}

type thresholdSnapshot map[models.SensorType]*models.ThresholdVersion

type Engine struct {
	Db      db.DB
	Roster  Roster
	Senders map[models.Channel]Sender

	// Clock is overridable for tests; Init defaults it to time.Now.
	Clock func() time.Time

	Thresholds IThresholds
	Ingestor   IIngestor
	Evaluator  IEvaluator
	Aggregator IAggregator
	Resolver   IResolver
	Dispatcher IDispatcher
	Audit      IAudit

	Tunables Tunables

	active atomic.Pointer[thresholdSnapshot]
	// activeMu serializes snapshot copy-and-swap; reads stay lock-free
	activeMu sync.Mutex

	transMu      sync.Mutex
	lastSeverity map[string]models.Severity

	// createMu serializes dedup-lookup-then-create sequences
	createMu sync.Mutex

	locksMu    sync.Mutex
	alertLocks map[string]*sync.Mutex

	dispatchWG sync.WaitGroup
}

// Init prepare the engine's internal state and seeds threshold versions for
// registered sensor types that have none yet. Call it once before wiring
// services.
func (e *Engine) Init(t Tunables) *Engine {
	e.Tunables = t.withDefaults()
	if e.Clock == nil {
		e.Clock = time.Now
	}
	e.lastSeverity = make(map[string]models.Severity)
	e.alertLocks = make(map[string]*sync.Mutex)
	e.seedThresholds()
	return e
}

type ServiceOpts struct {
	Thresholds IThresholds
	Ingestor   IIngestor
	Evaluator  IEvaluator
	Aggregator IAggregator
	Resolver   IResolver
	Dispatcher IDispatcher
	Audit      IAudit
}

func (e *Engine) WithServices(opts ServiceOpts) *Engine {
	if opts.Thresholds != nil {
		e.Thresholds = opts.Thresholds
	}
	if opts.Ingestor != nil {
		e.Ingestor = opts.Ingestor
	}
	if opts.Evaluator != nil {
		e.Evaluator = opts.Evaluator
	}
	if opts.Aggregator != nil {
		e.Aggregator = opts.Aggregator
	}
	if opts.Resolver != nil {
		e.Resolver = opts.Resolver
	}
	if opts.Dispatcher != nil {
		e.Dispatcher = opts.Dispatcher
	}
	if opts.Audit != nil {
		e.Audit = opts.Audit
	}
	return e
}

// lockAlert serializes mutations per alert id; different alerts proceed in
// parallel.
func (e *Engine) lockAlert(alertID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	mu, exists := e.alertLocks[alertID]
	if !exists {
		mu = &sync.Mutex{}
		e.alertLocks[alertID] = mu
	}
	return mu
}
