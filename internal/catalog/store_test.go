package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/failsafe/internal/backup"
	"github.com/FairForge/failsafe/internal/drtest"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("FAILSAFE_TEST_DB")
	if dsn == "" {
		t.Skip("FAILSAFE_TEST_DB not set")
	}

	store, err := NewStore(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.CreateTables(ctx))

	return store
}

func TestNewStore_RequiresDSN(t *testing.T) {
	_, err := NewStore("", nil)
	assert.Error(t, err)
}

func TestStore_BackupJobs(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	completed := now.Add(time.Minute)
	job := &backup.Job{
		ID:          "full-" + now.Format("20060102150405.000"),
		Type:        backup.TypeFull,
		Source:      "prod",
		Destination: "backups",
		Status:      backup.StatusCompleted,
		SizeBytes:   1024,
		ObjectCount: 3,
		StartedAt:   now,
		CompletedAt: &completed,
	}

	require.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.SizeBytes, got.SizeBytes)
	assert.Equal(t, backup.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// upsert updates terminal state
	job.Status = backup.StatusFailed
	job.Error = "verification failed"
	job.CompletedAt = nil
	require.NoError(t, store.SaveJob(ctx, job))

	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, backup.StatusFailed, got.Status)
	assert.Equal(t, "verification failed", got.Error)
	assert.Nil(t, got.CompletedAt)

	jobs, err := store.ListJobs(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, jobs)

	_, err = store.GetJob(ctx, "no-such-job")
	assert.Error(t, err)
}

func TestStore_DRTestResults(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	res := drtest.Result{
		Name:      "backup-restore-roundtrip",
		Category:  drtest.CategoryBackupRestore,
		Status:    drtest.ResultPassed,
		StartedAt: started,
		EndedAt:   started.Add(2 * time.Second),
		Duration:  2 * time.Second,
	}

	require.NoError(t, store.SaveResult(ctx, res))

	results, err := store.ListResults(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, drtest.CategoryBackupRestore, results[0].Category)
	assert.Equal(t, 2*time.Second, results[0].Duration)
}
