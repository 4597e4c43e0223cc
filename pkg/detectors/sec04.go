package detectors

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sh/vigil/pkg/collectors/sockets"
	"github.com/vigil-sh/vigil/pkg/domain"
	"github.com/vigil-sh/vigil/pkg/netscope"
)

const firstSeenPrefixListener = "sec04|"

// Ports whose global exposure is critical regardless of process.
var sensitivePorts = map[int]struct{}{
	22: {}, 23: {}, 139: {}, 445: {}, 3306: {}, 3389: {}, 5432: {}, 5900: {}, 6379: {}, 9200: {},
}

// TrustEntry allowlists an expected listener. Matching sockets are never
// reported and never written to the dedup ledger.
type TrustEntry struct {
	Process string         `yaml:"proc"`
	Port    int            `yaml:"port"`
	Bind    netscope.Scope `yaml:"bind"`
}

// ListenerConfig tunes SEC-04.
type ListenerConfig struct {
	// StableFor is how long a socket must be continuously present before
	// it counts as a real new listener rather than an ephemeral one.
	StableFor time.Duration
	// Retention bounds the dedup ledger; records aged past it are pruned
	// and the listener may re-alert (deliberate soft memory).
	Retention     time.Duration
	PruneInterval time.Duration
	PollInterval  time.Duration
	Trust         []TrustEntry
	Logger        *zap.Logger
}

// DefaultListenerConfig returns the stock SEC-04 settings.
func DefaultListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		StableFor:     60 * time.Second,
		Retention:     7 * 24 * time.Hour,
		PruneInterval: 10 * time.Minute,
		PollInterval:  30 * time.Second,
	}
}

// SetDefaults fills unset fields.
func (c *ListenerConfig) SetDefaults() {
	d := DefaultListenerConfig()
	if c.StableFor == 0 {
		c.StableFor = d.StableFor
	}
	if c.Retention == 0 {
		c.Retention = d.Retention
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = d.PruneInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
}

// ListenerDetector (SEC-04) reports services that start listening after
// the baseline snapshot. The first poll only records what is already
// there.
type ListenerDetector struct {
	*BaseDetector
	cfg     *ListenerConfig
	logger  *zap.Logger
	sampler *sockets.Sampler
	ledger  Ledger

	primed       bool
	seenSession  map[sockets.Key]struct{}
	pendingSince map[sockets.Key]time.Time
	lastHost     map[sockets.Key]string
	lastPrune    time.Time
}

// NewListenerDetector builds SEC-04. sampler and ledger must not be nil.
func NewListenerDetector(cfg *ListenerConfig, sampler *sockets.Sampler, ledger Ledger) (*ListenerDetector, error) {
	if cfg == nil {
		cfg = DefaultListenerConfig()
	}
	cfg.SetDefaults()
	if sampler == nil {
		return nil, fmt.Errorf("sampler is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListenerDetector{
		BaseDetector: NewBaseDetector(domain.CodeNewListener),
		cfg:          cfg,
		logger:       logger.Named("sec04"),
		sampler:      sampler,
		ledger:       ledger,
		seenSession:  make(map[sockets.Key]struct{}),
		pendingSince: make(map[sockets.Key]time.Time),
		lastHost:     make(map[sockets.Key]string),
	}, nil
}

// Interval returns the poll period.
func (d *ListenerDetector) Interval() time.Duration { return d.cfg.PollInterval }

func (d *ListenerDetector) trusted(k sockets.Key) bool {
	for _, t := range d.cfg.Trust {
		if t.Process == k.Process && t.Port == k.Port && t.Bind == k.Bind {
			return true
		}
	}
	return false
}

func listenerSeverity(bind netscope.Scope, port int) domain.Severity {
	switch bind {
	case netscope.Local:
		return domain.SeverityInfo
	case netscope.LAN:
		return domain.SeverityWarning
	default:
		if _, sensitive := sensitivePorts[port]; sensitive {
			return domain.SeverityCritical
		}
		return domain.SeverityWarning
	}
}

// Poll snapshots the socket table and reports stable new listeners.
func (d *ListenerDetector) Poll(ctx context.Context, now time.Time) []domain.Finding {
	d.RecordPoll()
	d.pruneLedger(ctx, now)

	snap, err := d.sampler.Snapshot(ctx)
	if err != nil {
		d.RecordError(err)
		d.logger.Warn("Socket snapshot failed", zap.Error(err))
		return nil
	}

	if !d.primed {
		for k := range snap {
			d.seenSession[k] = struct{}{}
		}
		d.primed = true
		d.logger.Info("Listener baseline recorded", zap.Int("sockets", len(snap)))
		return nil
	}

	// A pending socket that vanished before stabilizing was ephemeral.
	for k := range d.pendingSince {
		if _, present := snap[k]; !present {
			delete(d.pendingSince, k)
			delete(d.lastHost, k)
		}
	}

	var out []domain.Finding
	for k, host := range snap {
		if _, seen := d.seenSession[k]; seen {
			continue
		}

		since, pending := d.pendingSince[k]
		if !pending {
			d.pendingSince[k] = now
			d.lastHost[k] = host
			continue
		}
		d.lastHost[k] = host
		if now.Sub(since) < d.cfg.StableFor {
			continue
		}

		// Stable: it is now part of the session's known set either way.
		d.seenSession[k] = struct{}{}
		delete(d.pendingSince, k)
		lastHost := d.lastHost[k]
		delete(d.lastHost, k)

		if d.trusted(k) {
			d.logger.Debug("Trusted listener ignored", zap.String("key", k.String()))
			continue
		}

		isNew, err := d.ledger.FirstSeenTouch(ctx, firstSeenPrefixListener+k.String())
		if err != nil {
			d.RecordError(err)
			d.logger.Warn("First-seen lookup failed", zap.Error(err))
			continue
		}
		if !isNew {
			continue
		}

		sev := listenerSeverity(k.Bind, k.Port)
		entity := fmt.Sprintf("%s:%d", lastHost, k.Port)

		var msg string
		switch sev {
		case domain.SeverityInfo:
			msg = fmt.Sprintf("New local service: %s on %s:%d/%s", k.Process, lastHost, k.Port, k.Protocol)
		case domain.SeverityWarning:
			msg = fmt.Sprintf("New network service: %s on %s:%d/%s", k.Process, lastHost, k.Port, k.Protocol)
		default:
			msg = fmt.Sprintf("Exposed sensitive port: %s on %s:%d/%s", k.Process, lastHost, k.Port, k.Protocol)
		}
		msg += fmt.Sprintf(" [%s]", k.Bind)

		d.RecordEmit()
		out = append(out, domain.Finding{
			Code:     d.Code(),
			Severity: sev,
			Entity:   entity,
			Message:  msg,
			Details: map[string]any{
				"process":  k.Process,
				"port":     k.Port,
				"protocol": k.Protocol,
				"bind":     string(k.Bind),
				"host":     lastHost,
			},
		})
	}
	return out
}

// pruneLedger ages out first-seen records on a coarse cadence, not every
// poll.
func (d *ListenerDetector) pruneLedger(ctx context.Context, now time.Time) {
	if now.Sub(d.lastPrune) < d.cfg.PruneInterval {
		return
	}
	d.lastPrune = now
	n, err := d.ledger.PruneFirstSeen(ctx, firstSeenPrefixListener, now.Add(-d.cfg.Retention))
	if err != nil {
		d.RecordError(err)
		d.logger.Warn("Ledger prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		d.logger.Debug("Pruned listener ledger", zap.Int64("removed", n))
	}
}
