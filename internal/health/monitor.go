// internal/health/monitor.go
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/failsafe/internal/metrics"
)

// Status represents the probed health of an endpoint
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Endpoint is a monitored service location. Status, ConsecutiveFails and
// LastCheck are owned by the Monitor and mutated only inside RunCycle.
type Endpoint struct {
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	HealthPath       string    `json:"health_path"`
	Priority         int       `json:"priority"` // lower = preferred
	Status           Status    `json:"status"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	LastCheck        time.Time `json:"last_check"`
}

// CycleFunc receives a snapshot of all endpoints after a completed cycle.
// Subscribers run synchronously, strictly after every probe has returned.
type CycleFunc func(snapshot []Endpoint)

// Monitor periodically probes a configured list of endpoints.
type Monitor struct {
	endpoints []*Endpoint // configured order, preserved for tie-breaking
	client    *http.Client
	timeout   time.Duration
	interval  time.Duration
	logger    *zap.Logger

	subscribers []CycleFunc

	mu       sync.RWMutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures the monitor
type Option func(*Monitor)

// WithTimeout sets the per-probe timeout
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.timeout = d
	}
}

// WithInterval sets the cycle interval
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithHTTPClient sets the client used for probes
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) {
		m.client = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a monitor for the given endpoints. Endpoint order is
// significant: it is the tie-break order for failover selection.
func NewMonitor(endpoints []Endpoint, opts ...Option) *Monitor {
	m := &Monitor{
		client:   http.DefaultClient,
		timeout:  5 * time.Second,
		interval: 10 * time.Second,
		logger:   zap.NewNop(),
		stopCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.endpoints = make([]*Endpoint, len(endpoints))
	for i := range endpoints {
		ep := endpoints[i]
		if ep.Status == "" {
			ep.Status = StatusUnknown
		}
		m.endpoints[i] = &ep
	}

	return m
}

// OnCycle registers a subscriber invoked after every completed cycle.
// Must be called before Start.
func (m *Monitor) OnCycle(fn CycleFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Probe issues a single health check against the endpoint. A 2xx response
// within the timeout means healthy; any other outcome (timeout, refused
// connection, non-2xx) means unhealthy. Expected network failures are a
// normal return value, never an error.
func (m *Monitor) Probe(ctx context.Context, ep Endpoint) Status {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	status := m.doProbe(probeCtx, ep)
	metrics.RecordProbe(ep.Name, string(status), time.Since(start))

	return status
}

func (m *Monitor) doProbe(ctx context.Context, ep Endpoint) Status {
	url := ep.Address + ep.HealthPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		m.logger.Debug("probe request build failed",
			zap.String("endpoint", ep.Name),
			zap.Error(err))
		return StatusUnhealthy
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return StatusUnhealthy
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// RunCycle probes all endpoints concurrently, updates their records, and
// notifies cycle subscribers. The cycle completes only once every probe has
// returned, so subscribers never see data from two different cycles mixed.
func (m *Monitor) RunCycle(ctx context.Context) {
	results := make([]Status, len(m.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i := range m.endpoints {
		g.Go(func() error {
			results[i] = m.Probe(gctx, *m.snapshotEndpoint(i))
			return nil
		})
	}
	_ = g.Wait() // probes never return errors

	now := time.Now()
	healthy := 0

	m.mu.Lock()
	for i, ep := range m.endpoints {
		ep.Status = results[i]
		ep.LastCheck = now
		if results[i] == StatusHealthy {
			if ep.ConsecutiveFails > 0 {
				m.logger.Info("endpoint recovered",
					zap.String("endpoint", ep.Name),
					zap.Int("failures", ep.ConsecutiveFails))
			}
			ep.ConsecutiveFails = 0
			healthy++
		} else {
			ep.ConsecutiveFails++
			m.logger.Warn("endpoint unhealthy",
				zap.String("endpoint", ep.Name),
				zap.Int("consecutive_fails", ep.ConsecutiveFails))
		}
	}
	snapshot := m.snapshotLocked()
	subscribers := make([]CycleFunc, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	metrics.SetHealthyEndpoints(healthy)

	for _, fn := range subscribers {
		fn(snapshot)
	}
}

// Start begins periodic cycles on the configured interval.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// Stop halts periodic cycles. Safe to call from any state and more than
// once; after it returns no further cycle starts, though a cycle already in
// flight runs to completion.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// Snapshot returns copies of all endpoint records in configured order.
func (m *Monitor) Snapshot() []Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() []Endpoint {
	snapshot := make([]Endpoint, len(m.endpoints))
	for i, ep := range m.endpoints {
		snapshot[i] = *ep
	}
	return snapshot
}

func (m *Monitor) snapshotEndpoint(i int) *Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep := *m.endpoints[i]
	return &ep
}

// Endpoint returns a copy of the named endpoint record.
func (m *Monitor) Endpoint(name string) (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ep := range m.endpoints {
		if ep.Name == name {
			return *ep, true
		}
	}
	return Endpoint{}, false
}
