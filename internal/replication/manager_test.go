package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/FairForge/failsafe/internal/drivers"
)

func testRegions() []Region {
	return []Region{
		{Name: "east", Address: "east.internal:9000", Primary: true},
		{Name: "west", Address: "west.internal:9000"},
		{Name: "south", Address: "south.internal:9000"},
	}
}

func newTestManager(t *testing.T, feed *MemoryFeed) *Manager {
	t.Helper()
	m, err := NewManager(testRegions(), feed,
		WithPollRate(rate.Every(5*time.Millisecond)),
		WithBackoff(drivers.NewRetryPolicy(
			drivers.WithInitialDelay(5*time.Millisecond),
			drivers.WithMaxDelay(20*time.Millisecond),
			drivers.WithJitter(false),
		)),
	)
	require.NoError(t, err)
	return m
}

func TestNewManager_Validation(t *testing.T) {
	feed := NewMemoryFeed()

	t.Run("nil feed", func(t *testing.T) {
		_, err := NewManager(testRegions(), nil)
		assert.Error(t, err)
	})

	t.Run("no primary", func(t *testing.T) {
		_, err := NewManager([]Region{{Name: "a"}, {Name: "b"}}, feed)
		assert.Error(t, err)
	})

	t.Run("two primaries", func(t *testing.T) {
		_, err := NewManager([]Region{
			{Name: "a", Primary: true},
			{Name: "b", Primary: true},
		}, feed)
		assert.Error(t, err)
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := NewManager([]Region{
			{Name: "a", Primary: true},
			{Name: "a"},
		}, feed)
		assert.Error(t, err)
	})
}

func TestManager_ReplicatesToSecondaries(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	m.StartReplication()
	defer m.StopReplication()

	for i := 0; i < 5; i++ {
		feed.Commit("key", []byte("payload"))
	}

	assert.Eventually(t, func() bool {
		return len(feed.Applied("west")) == 5 && len(feed.Applied("south")) == 5
	}, 2*time.Second, 10*time.Millisecond)

	// the primary never replicates to itself
	assert.Empty(t, feed.Applied("east"))

	west, ok := m.Region("west")
	require.True(t, ok)
	assert.False(t, west.LastSync.IsZero())
}

func TestManager_RetriesAfterApplyFailure(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	feed.FailNextApply("west", 2)

	m.StartReplication()
	defer m.StopReplication()

	feed.Commit("key", []byte("payload"))

	assert.Eventually(t, func() bool {
		return len(feed.Applied("west")) == 1
	}, 2*time.Second, 10*time.Millisecond, "loop must retry past injected failures")
}

func TestManager_StopIsIdempotent(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	// stop before start is a no-op
	m.StopReplication()

	m.StartReplication()
	m.StopReplication()
	m.StopReplication()

	// a stopped manager ships nothing new
	feed.Commit("key", []byte("payload"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, feed.Applied("west"))
}

func TestManager_StartIsIdempotent(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	m.StartReplication()
	m.StartReplication()
	defer m.StopReplication()

	feed.Commit("key", []byte("payload"))

	assert.Eventually(t, func() bool {
		return len(feed.Applied("west")) == 1
	}, 2*time.Second, 10*time.Millisecond, "double start must not duplicate loops")
}

func TestManager_Promote(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	require.NoError(t, m.Promote("west"))

	primaries := 0
	for _, r := range m.Regions() {
		if r.Primary {
			primaries++
			assert.Equal(t, "west", r.Name)
		}
	}
	assert.Equal(t, 1, primaries, "promotion must leave exactly one primary")
}

func TestManager_PromoteWhileRunning(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	m.StartReplication()
	defer m.StopReplication()

	feed.Commit("before", []byte("payload"))
	require.Eventually(t, func() bool {
		return len(feed.Applied("west")) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Promote("west"))

	assert.Equal(t, "west", m.Primary().Name)

	// the old primary is now a secondary and receives changes
	feed.Commit("after", []byte("payload"))
	assert.Eventually(t, func() bool {
		return len(feed.Applied("east")) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_PromoteErrors(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	assert.Error(t, m.Promote("nowhere"), "unknown region")
	assert.Error(t, m.Promote("east"), "already primary")
}

func TestManager_RegionAccessorsReturnCopies(t *testing.T) {
	feed := NewMemoryFeed()
	m := newTestManager(t, feed)

	west, ok := m.Region("west")
	require.True(t, ok)
	west.Primary = true

	again, _ := m.Region("west")
	assert.False(t, again.Primary)

	_, ok = m.Region("nowhere")
	assert.False(t, ok)

	assert.Len(t, m.Regions(), 3)
}

func TestMemoryFeed_ChangesSince(t *testing.T) {
	feed := NewMemoryFeed()

	feed.Commit("old", []byte("1"))
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	feed.Commit("new", []byte("2"))

	changes, err := feed.Changes(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "new", changes[0].Key)

	all, err := feed.Changes(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
