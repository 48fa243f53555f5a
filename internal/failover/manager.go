// internal/failover/manager.go
package failover

import (
	"sync"

	"go.uber.org/zap"

	"github.com/FairForge/failsafe/internal/health"
	"github.com/FairForge/failsafe/internal/metrics"
)

// TransitionFunc is invoked on every active-endpoint change. Either side may
// be nil: old is nil on the first selection, new is nil when no endpoint is
// healthy.
type TransitionFunc func(old, new *health.Endpoint)

// Manager selects the active endpoint from a prioritized list and notifies
// collaborators when it changes. It is the sole owner of the "currently
// active endpoint" notion; evaluation runs under a single lock so callers
// never observe a half-updated selection.
type Manager struct {
	mu               sync.Mutex
	failureThreshold int
	active           *health.Endpoint // nil = NoActive
	callbacks        []TransitionFunc
	logger           *zap.Logger
}

// Option configures the manager
type Option func(*Manager)

// WithFailureThreshold sets the consecutive-failure count that forces
// re-evaluation of the active endpoint even while it reports healthy.
func WithFailureThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.failureThreshold = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a failover manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		failureThreshold: 3,
		logger:           zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnTransition registers a callback invoked synchronously on every
// transition with copies of the old and new endpoints.
func (m *Manager) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Evaluate applies the transition rule to a completed health cycle snapshot.
// The healthy endpoint with the lowest priority value wins; ties go to the
// endpoint appearing first in the configured order, so selection is
// deterministic for identical input. An active endpoint whose failure streak
// has reached the threshold is ineligible for this evaluation; its counter
// itself resets only on a healthy probe.
func (m *Manager) Evaluate(snapshot []health.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var selected *health.Endpoint
	for i := range snapshot {
		ep := &snapshot[i]
		if ep.Status != health.StatusHealthy {
			continue
		}
		if m.active != nil && ep.Name == m.active.Name && ep.ConsecutiveFails >= m.failureThreshold {
			continue
		}
		if selected == nil || ep.Priority < selected.Priority {
			selected = ep
		}
	}

	switch {
	case selected == nil && m.active == nil:
		return
	case selected != nil && m.active != nil && selected.Name == m.active.Name:
		// refresh the record so callers see current probe data
		current := *selected
		m.active = &current
		return
	}

	old := m.active
	if selected != nil {
		current := *selected
		m.active = &current
	} else {
		m.active = nil
	}

	m.logTransition(old, m.active)
	metrics.RecordFailover()

	for _, fn := range m.callbacks {
		fn(copyEndpoint(old), copyEndpoint(m.active))
	}
}

// Active returns a copy of the currently active endpoint, or false when the
// manager is in the NoActive state.
func (m *Manager) Active() (health.Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return health.Endpoint{}, false
	}
	return *m.active, true
}

func (m *Manager) logTransition(old, new *health.Endpoint) {
	switch {
	case old == nil:
		m.logger.Info("active endpoint selected",
			zap.String("endpoint", new.Name),
			zap.Int("priority", new.Priority))
	case new == nil:
		m.logger.Warn("no healthy endpoint available",
			zap.String("previous", old.Name))
	default:
		m.logger.Info("failover",
			zap.String("from", old.Name),
			zap.String("to", new.Name),
			zap.Int("priority", new.Priority))
	}
}

func copyEndpoint(ep *health.Endpoint) *health.Endpoint {
	if ep == nil {
		return nil
	}
	c := *ep
	return &c
}
