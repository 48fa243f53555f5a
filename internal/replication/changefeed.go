// internal/replication/changefeed.go
package replication

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errInjectedApply = errors.New("injected apply failure")

// Change is one committed mutation shipped from the primary. The payload is
// opaque to the replication core.
type Change struct {
	Key         string    `json:"key"`
	Payload     []byte    `json:"payload"`
	CommittedAt time.Time `json:"committed_at"`
}

// ChangeFeed is the transport contract consumed by the replication loops.
// Changes returns everything committed at the primary after since; Apply
// ships a batch to a named region. Both are external collaborators.
type ChangeFeed interface {
	Changes(ctx context.Context, since time.Time) ([]Change, error)
	Apply(ctx context.Context, region string, batch []Change) error
}

// MemoryFeed is an in-process ChangeFeed used by tests and the DR harness.
type MemoryFeed struct {
	mu      sync.RWMutex
	changes []Change
	applied map[string][]Change

	failApply map[string]int // region -> remaining failures to inject
}

// NewMemoryFeed creates an empty in-memory change feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		applied:   make(map[string][]Change),
		failApply: make(map[string]int),
	}
}

// Commit records a change at the primary.
func (f *MemoryFeed) Commit(key string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, Change{
		Key:         key,
		Payload:     payload,
		CommittedAt: time.Now(),
	})
}

// Changes returns changes committed after since.
func (f *MemoryFeed) Changes(ctx context.Context, since time.Time) ([]Change, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []Change
	for _, c := range f.changes {
		if c.CommittedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Apply records a batch as applied to a region, or fails if a failure was
// injected for it.
func (f *MemoryFeed) Apply(ctx context.Context, region string, batch []Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n := f.failApply[region]; n > 0 {
		f.failApply[region] = n - 1
		return errInjectedApply
	}

	f.applied[region] = append(f.applied[region], batch...)
	return nil
}

// Applied returns the changes applied to a region.
func (f *MemoryFeed) Applied(region string) []Change {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Change, len(f.applied[region]))
	copy(out, f.applied[region])
	return out
}

// FailNextApply injects n apply failures for a region.
func (f *MemoryFeed) FailNextApply(region string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failApply[region] = n
}
