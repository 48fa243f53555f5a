package drtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/failsafe/internal/drivers"
)

func newTestHarness(t *testing.T, opts ...Option) *Harness {
	t.Helper()
	driver := drivers.NewLocalDriver(t.TempDir(), nil)
	h, err := NewHarness(driver, opts...)
	require.NoError(t, err)
	return h
}

func TestNewHarness(t *testing.T) {
	t.Run("nil driver rejected", func(t *testing.T) {
		_, err := NewHarness(nil)
		assert.Error(t, err)
	})

	t.Run("invalid targets rejected", func(t *testing.T) {
		driver := drivers.NewLocalDriver(t.TempDir(), nil)
		_, err := NewHarness(driver, WithTargets(Targets{RTO: -time.Second, RPO: time.Second}))
		assert.Error(t, err)
	})
}

func TestHarness_RunTest_UnknownCategory(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.RunTest(context.Background(), Category("chaos-monkey"))
	assert.Error(t, err)
	assert.Empty(t, h.Results(), "unknown categories must not record results")
}

func TestHarness_RunTest_BackupRestore(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.RunTest(context.Background(), CategoryBackupRestore)
	require.NoError(t, err)

	assert.Equal(t, ResultPassed, res.Status, "error: %s", res.Error)
	assert.Equal(t, CategoryBackupRestore, res.Category)
	assert.Equal(t, float64(10), res.Metrics["objects"])
	assert.Greater(t, res.Metrics["backup_bytes"], float64(0))
	assert.False(t, res.EndedAt.Before(res.StartedAt))
	assert.Equal(t, res.EndedAt.Sub(res.StartedAt), res.Duration)
}

func TestHarness_RunTest_Failover(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.RunTest(context.Background(), CategoryFailover)
	require.NoError(t, err)

	assert.Equal(t, ResultPassed, res.Status, "error: %s", res.Error)
	// initial selection, failover, failback
	assert.Equal(t, float64(3), res.Metrics["transitions"])
}

func TestHarness_RunTest_Replication(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.RunTest(context.Background(), CategoryReplication)
	require.NoError(t, err)

	assert.Equal(t, ResultPassed, res.Status, "error: %s", res.Error)
	assert.Equal(t, float64(5), res.Metrics["changes_applied"])
}

func TestHarness_RunTest_RTOValidation(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.RunTest(context.Background(), CategoryRTOValidation)
	require.NoError(t, err)

	assert.Equal(t, ResultPassed, res.Status, "error: %s", res.Error)
	assert.Less(t, res.Metrics["rto_seconds"], res.Metrics["rto_target_seconds"])

	metrics := h.Tracker().Metrics()
	assert.Equal(t, 1, metrics.TotalIncidents)
	assert.Equal(t, 1, metrics.RTOCompliant)
}

func TestHarness_RunTest_RTOValidation_FailsTightTarget(t *testing.T) {
	// an unmeetable target: the scenario itself takes longer than a
	// nanosecond, so the measured RTO exceeds it
	h := newTestHarness(t, WithTargets(Targets{RTO: time.Nanosecond, RPO: time.Nanosecond}))

	res, err := h.RunTest(context.Background(), CategoryRTOValidation)
	require.NoError(t, err)

	assert.Equal(t, ResultFailed, res.Status)
	assert.Contains(t, res.Error, "exceeds target")
}

func TestHarness_RunTest_RPOValidation(t *testing.T) {
	h := newTestHarness(t)

	res, err := h.RunTest(context.Background(), CategoryRPOValidation)
	require.NoError(t, err)

	assert.Equal(t, ResultPassed, res.Status, "error: %s", res.Error)
	assert.Less(t, res.Metrics["rpo_seconds"], res.Metrics["rpo_target_seconds"])
}

func TestHarness_RunTest_RecoversFromPanic(t *testing.T) {
	h := newTestHarness(t)

	h.InjectScenario(CategoryFailover, func(ctx context.Context, res *Result) error {
		panic("wiring blew up")
	})

	res, err := h.RunTest(context.Background(), CategoryFailover)
	require.NoError(t, err, "a panicking scenario is a failed result, not an error")

	assert.Equal(t, ResultFailed, res.Status)
	assert.Contains(t, res.Error, "scenario panic")
	assert.Contains(t, res.Error, "wiring blew up")
}

func TestHarness_RunAll_NeverStopsEarly(t *testing.T) {
	h := newTestHarness(t)

	// second scenario in the run order detonates
	h.InjectScenario(CategoryFailover, func(ctx context.Context, res *Result) error {
		panic("injected")
	})
	// a later one fails normally
	h.InjectScenario(CategoryReplication, func(ctx context.Context, res *Result) error {
		return fmt.Errorf("regions unreachable")
	})

	results := h.RunAll(context.Background())
	require.Len(t, results, len(Categories()), "every category must produce a result")

	byCategory := map[Category]Result{}
	for _, res := range results {
		byCategory[res.Category] = res
	}

	assert.Equal(t, ResultPassed, byCategory[CategoryBackupRestore].Status)
	assert.Equal(t, ResultFailed, byCategory[CategoryFailover].Status)
	assert.Equal(t, ResultFailed, byCategory[CategoryReplication].Status)
	assert.Equal(t, ResultPassed, byCategory[CategoryRTOValidation].Status)
	assert.Equal(t, ResultPassed, byCategory[CategoryRPOValidation].Status)

	// results preserve the fixed run order
	for i, cat := range Categories() {
		assert.Equal(t, cat, results[i].Category)
	}
}

func TestHarness_Report(t *testing.T) {
	h := newTestHarness(t)

	h.InjectScenario(CategoryReplication, func(ctx context.Context, res *Result) error {
		return fmt.Errorf("boom")
	})

	h.RunAll(context.Background())
	report := h.Report()

	assert.Equal(t, len(Categories()), report.Total)
	assert.Equal(t, len(Categories())-1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Results, report.Total)
	assert.False(t, report.GeneratedAt.IsZero())
	assert.GreaterOrEqual(t, report.Compliance.TotalIncidents, 1)

	// a second report reflects the same stored results without re-running
	again := h.Report()
	assert.Equal(t, report.Total, again.Total)
	assert.Equal(t, report.Failed, again.Failed)
}

func TestTargets_Validate(t *testing.T) {
	assert.NoError(t, DefaultTargets().Validate())
	assert.Error(t, Targets{RTO: 0, RPO: time.Minute}.Validate())
	assert.Error(t, Targets{RTO: time.Minute, RPO: 0}.Validate())
	assert.Error(t, Targets{RTO: time.Minute, RPO: time.Hour}.Validate())
}

func TestTracker_Compliance(t *testing.T) {
	tracker, err := NewTracker(Targets{RTO: 10 * time.Minute, RPO: 5 * time.Minute})
	require.NoError(t, err)

	base := time.Now()

	// compliant recovery
	tracker.RecordRecovery(RecoveryEvent{
		IncidentID:   "inc-1",
		FailureTime:  base,
		RecoveryTime: base.Add(4 * time.Minute),
		DataLoss:     time.Minute,
	})

	// RTO breach
	tracker.RecordRecovery(RecoveryEvent{
		IncidentID:   "inc-2",
		FailureTime:  base,
		RecoveryTime: base.Add(20 * time.Minute),
		DataLoss:     2 * time.Minute,
	})

	m := tracker.Metrics()
	assert.Equal(t, 2, m.TotalIncidents)
	assert.Equal(t, 1, m.RTOCompliant)
	assert.Equal(t, 2, m.RPOCompliant)
	assert.InDelta(t, 50.0, m.RTOComplianceRate, 0.01)
	assert.InDelta(t, 100.0, m.RPOComplianceRate, 0.01)
	assert.Equal(t, 20*time.Minute, m.WorstRTO)
	assert.Equal(t, 12*time.Minute, m.AverageRTO)
}

func TestTracker_Incidents(t *testing.T) {
	tracker, err := NewTracker(DefaultTargets())
	require.NoError(t, err)

	id := tracker.StartIncident(time.Now().Add(-time.Minute))

	result, err := tracker.ResolveIncident(id, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, result.RTOMet)
	assert.True(t, result.RPOMet)
	assert.GreaterOrEqual(t, result.ActualRTO, time.Minute)

	_, err = tracker.ResolveIncident(id, 0)
	assert.Error(t, err, "incidents resolve once")

	_, err = tracker.ResolveIncident("no-such-incident", 0)
	assert.Error(t, err)
}
