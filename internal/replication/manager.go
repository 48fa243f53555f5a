// internal/replication/manager.go
package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FairForge/failsafe/internal/drivers"
	"github.com/FairForge/failsafe/internal/metrics"
)

// Region is a replication target. Primary, LastSync and Lag are owned by the
// Manager; exactly one region is primary at any time.
type Region struct {
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	Primary  bool          `json:"primary"`
	LastSync time.Time     `json:"last_sync"`
	Lag      time.Duration `json:"lag"`
}

// Manager keeps secondary regions synchronized with the primary and supports
// promoting a secondary. One long-lived loop runs per secondary; loops are
// isolated, so one region's failures never stall the others.
type Manager struct {
	feed    ChangeFeed
	logger  *zap.Logger
	backoff *drivers.RetryPolicy
	limit   rate.Limit

	mu      sync.RWMutex
	regions map[string]*Region
	order   []string

	// lifecycle serializes StartReplication / StopReplication / Promote
	lifecycle sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Option configures the manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBackoff sets the failure backoff policy for loop iterations
func WithBackoff(p *drivers.RetryPolicy) Option {
	return func(m *Manager) {
		m.backoff = p
	}
}

// WithPollRate bounds how often each loop polls the change feed
func WithPollRate(r rate.Limit) Option {
	return func(m *Manager) {
		m.limit = r
	}
}

// NewManager creates a replication manager. Exactly one region must be
// marked primary.
func NewManager(regions []Region, feed ChangeFeed, opts ...Option) (*Manager, error) {
	if feed == nil {
		return nil, fmt.Errorf("change feed required")
	}

	m := &Manager{
		feed:    feed,
		logger:  zap.NewNop(),
		backoff: drivers.NewRetryPolicy(),
		limit:   rate.Every(time.Second),
		regions: make(map[string]*Region, len(regions)),
	}

	for _, opt := range opts {
		opt(m)
	}

	primaries := 0
	for i := range regions {
		r := regions[i]
		if _, dup := m.regions[r.Name]; dup {
			return nil, fmt.Errorf("duplicate region: %s", r.Name)
		}
		if r.Primary {
			primaries++
		}
		m.regions[r.Name] = &r
		m.order = append(m.order, r.Name)
	}
	if primaries != 1 {
		return nil, fmt.Errorf("exactly one primary region required, got %d", primaries)
	}

	return m, nil
}

// StartReplication begins one synchronization loop per secondary region.
func (m *Manager) StartReplication() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.start()
}

// start launches the loops. Caller must hold m.lifecycle.
func (m *Manager) start() {
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.mu.RLock()
	secondaries := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if !m.regions[name].Primary {
			secondaries = append(secondaries, name)
		}
	}
	m.mu.RUnlock()

	for _, name := range secondaries {
		m.wg.Add(1)
		go m.syncLoop(name, m.stopCh)
	}

	m.logger.Info("replication started",
		zap.Int("regions", len(secondaries)))
}

// StopReplication signals all loops to stop and waits for in-flight
// iterations to finish. Idempotent: calling it twice is a no-op after the
// first call returns.
func (m *Manager) StopReplication() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop()
}

// stop shuts the loops down. Caller must hold m.lifecycle.
func (m *Manager) stop() {
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("replication stopped")
}

// syncLoop continuously ships changes to one region. Fetch and apply errors
// are transient: logged, counted, and retried after a backoff delay.
func (m *Manager) syncLoop(name string, stopCh chan struct{}) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	limiter := rate.NewLimiter(m.limit, 1)
	failures := 0

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		if err := m.syncOnce(ctx, name); err != nil {
			failures++
			metrics.RecordReplicationError(name)
			m.logger.Warn("replication iteration failed",
				zap.String("region", name),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))

			select {
			case <-stopCh:
				return
			case <-time.After(m.backoff.Delay(failures - 1)):
			}
			continue
		}
		failures = 0
	}
}

// syncOnce runs a single fetch-and-apply iteration for one region.
func (m *Manager) syncOnce(ctx context.Context, name string) error {
	m.mu.RLock()
	region, ok := m.regions[name]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("region %s no longer configured", name)
	}
	since := region.LastSync
	m.mu.RUnlock()

	batch, err := m.feed.Changes(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch changes: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := m.feed.Apply(ctx, name, batch); err != nil {
		return fmt.Errorf("apply %d changes: %w", len(batch), err)
	}

	newest := batch[len(batch)-1].CommittedAt
	lag := time.Since(newest)

	m.mu.Lock()
	region.LastSync = newest
	region.Lag = lag
	m.mu.Unlock()

	metrics.SetReplicationLag(name, lag)
	m.logger.Debug("changes applied",
		zap.String("region", name),
		zap.Int("count", len(batch)),
		zap.Duration("lag", lag))

	return nil
}

// Promote stops replication, transfers the primary flag to the named region
// atomically, and restarts replication from the new primary. Observers never
// see zero or two primaries: the flag swap happens under the manager lock
// that all readers share. An unknown region name is a caller error.
func (m *Manager) Promote(name string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	target, ok := m.regions[name]
	alreadyPrimary := ok && target.Primary
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown region: %s", name)
	}
	if alreadyPrimary {
		return fmt.Errorf("region %s is already primary", name)
	}

	wasRunning := m.running
	m.stop()

	m.mu.Lock()
	for _, r := range m.regions {
		r.Primary = false
	}
	m.regions[name].Primary = true
	m.mu.Unlock()

	m.logger.Info("region promoted", zap.String("region", name))

	if wasRunning {
		m.start()
	}

	return nil
}

// Primary returns a copy of the current primary region.
func (m *Manager) Primary() Region {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.regions {
		if r.Primary {
			return *r
		}
	}
	// NewManager guarantees one primary; unreachable
	return Region{}
}

// Region returns a copy of the named region record.
func (m *Manager) Region(name string) (Region, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.regions[name]
	if !ok {
		return Region{}, false
	}
	return *r, true
}

// Regions returns copies of all region records in configured order.
func (m *Manager) Regions() []Region {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Region, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.regions[name])
	}
	return out
}
