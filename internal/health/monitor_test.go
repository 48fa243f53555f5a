package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthServer(t *testing.T, code *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMonitor_Probe(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	srv := healthServer(t, &code)

	m := NewMonitor(nil, WithTimeout(time.Second))
	ep := Endpoint{Name: "api", Address: srv.URL, HealthPath: "/health"}

	t.Run("2xx is healthy", func(t *testing.T) {
		code.Store(http.StatusOK)
		assert.Equal(t, StatusHealthy, m.Probe(context.Background(), ep))

		code.Store(http.StatusNoContent)
		assert.Equal(t, StatusHealthy, m.Probe(context.Background(), ep))
	})

	t.Run("5xx is unhealthy", func(t *testing.T) {
		code.Store(http.StatusInternalServerError)
		assert.Equal(t, StatusUnhealthy, m.Probe(context.Background(), ep))
	})

	t.Run("unreachable is unhealthy not error", func(t *testing.T) {
		dead := Endpoint{Name: "dead", Address: "http://127.0.0.1:1", HealthPath: "/health"}
		assert.Equal(t, StatusUnhealthy, m.Probe(context.Background(), dead))
	})

	t.Run("timeout is unhealthy", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer slow.Close()

		fast := NewMonitor(nil, WithTimeout(20*time.Millisecond))
		ep := Endpoint{Name: "slow", Address: slow.URL, HealthPath: "/health"}
		assert.Equal(t, StatusUnhealthy, fast.Probe(context.Background(), ep))
	})
}

func TestMonitor_RunCycle_FailureStreaks(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusServiceUnavailable)
	srv := healthServer(t, &code)

	m := NewMonitor([]Endpoint{
		{Name: "api", Address: srv.URL, HealthPath: "/health", Priority: 1},
	}, WithTimeout(time.Second))

	for i := 1; i <= 3; i++ {
		m.RunCycle(context.Background())
		ep, ok := m.Endpoint("api")
		require.True(t, ok)
		assert.Equal(t, StatusUnhealthy, ep.Status)
		assert.Equal(t, i, ep.ConsecutiveFails)
	}

	// one healthy probe resets the streak
	code.Store(http.StatusOK)
	m.RunCycle(context.Background())

	ep, ok := m.Endpoint("api")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, ep.Status)
	assert.Zero(t, ep.ConsecutiveFails)
	assert.False(t, ep.LastCheck.IsZero())
}

func TestMonitor_RunCycle_NotifiesSubscribers(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	srv := healthServer(t, &code)

	m := NewMonitor([]Endpoint{
		{Name: "a", Address: srv.URL, HealthPath: "/health", Priority: 1},
		{Name: "b", Address: srv.URL, HealthPath: "/health", Priority: 2},
	}, WithTimeout(time.Second))

	var snapshots [][]Endpoint
	m.OnCycle(func(snapshot []Endpoint) {
		snapshots = append(snapshots, snapshot)
	})

	m.RunCycle(context.Background())

	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0], 2)
	// configured order preserved
	assert.Equal(t, "a", snapshots[0][0].Name)
	assert.Equal(t, "b", snapshots[0][1].Name)
	for _, ep := range snapshots[0] {
		assert.Equal(t, StatusHealthy, ep.Status)
	}
}

func TestMonitor_SnapshotIsACopy(t *testing.T) {
	m := NewMonitor([]Endpoint{{Name: "a", Priority: 1}})

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusUnknown, snap[0].Status)

	snap[0].Status = StatusHealthy
	ep, _ := m.Endpoint("a")
	assert.Equal(t, StatusUnknown, ep.Status, "mutating a snapshot must not affect the monitor")
}

func TestMonitor_StartStop(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	srv := healthServer(t, &code)

	m := NewMonitor([]Endpoint{
		{Name: "api", Address: srv.URL, HealthPath: "/health"},
	}, WithInterval(10*time.Millisecond), WithTimeout(time.Second))

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "double start must be rejected")

	assert.Eventually(t, func() bool {
		ep, _ := m.Endpoint("api")
		return ep.Status == StatusHealthy
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop() // idempotent
}

func TestMonitor_StopBeforeStart(t *testing.T) {
	m := NewMonitor(nil)
	m.Stop() // must not panic or hang
}
