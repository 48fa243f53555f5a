// internal/backup/engine.go
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/failsafe/internal/drivers"
	"github.com/FairForge/failsafe/internal/metrics"
)

// manifestKey is stored alongside the captured data and drives restores.
const manifestKey = ".failsafe-manifest.json"

// jobIDCounter disambiguates jobs started in the same nanosecond.
var jobIDCounter uint64

// Status represents backup job state
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job represents one backup attempt. A job is immutable once terminal:
// SizeBytes and CompletedAt are set if and only if the job completed, and a
// failed job always carries a non-empty Error.
type Job struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Status      Status     `json:"status"`
	SizeBytes   int64      `json:"size_bytes"`
	ObjectCount int64      `json:"object_count"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type manifest struct {
	JobID   string           `json:"job_id"`
	Type    JobType          `json:"type"`
	Objects map[string]int64 `json:"objects"` // relative key -> size in bytes
}

// Engine produces and restores backups with verifiable metadata.
type Engine struct {
	driver   drivers.Driver
	strategy Strategy
	retry    *drivers.RetryPolicy
	logger   *zap.Logger

	mu            sync.RWMutex
	jobs          map[string]*Job
	lastCompleted map[string]time.Time // per source: any completed backup
	lastFull      map[string]time.Time // per source: last completed full backup
}

// EngineOption configures a backup engine.
type EngineOption func(*Engine)

// WithRetry overrides the policy applied to each artifact copy.
func WithRetry(p *drivers.RetryPolicy) EngineOption {
	return func(e *Engine) {
		e.retry = p
	}
}

// NewEngine creates a backup engine over the given storage driver.
func NewEngine(driver drivers.Driver, strategy Strategy, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if driver == nil {
		return nil, fmt.Errorf("driver required")
	}
	if strategy == nil {
		strategy = FullStrategy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		driver:        driver,
		strategy:      strategy,
		logger:        logger,
		jobs:          make(map[string]*Job),
		lastCompleted: make(map[string]time.Time),
		lastFull:      make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.retry == nil {
		e.retry = drivers.NewRetryPolicy(drivers.WithRetryLogger(logger))
	}

	return e, nil
}

// CreateBackup captures all data under source into a new backup beneath
// dest. Copy failures are recorded on the returned job as a Failed status
// with an error detail; a partially copied backup is never marked Completed.
// The returned error is reserved for caller mistakes (empty locations).
// Safe to invoke concurrently for different sources.
func (e *Engine) CreateBackup(ctx context.Context, source, dest string) (*Job, error) {
	if source == "" || dest == "" {
		return nil, fmt.Errorf("source and destination required")
	}

	job := &Job{
		ID:          fmt.Sprintf("%s-%d-%d", e.strategy.Type(), time.Now().UnixNano(), atomic.AddUint64(&jobIDCounter, 1)),
		Type:        e.strategy.Type(),
		Source:      source,
		Destination: dest,
		Status:      StatusPending,
		StartedAt:   time.Now(),
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	since := e.referenceTimeLocked(source)
	job.Status = StatusRunning
	e.mu.Unlock()

	e.logger.Info("backup started",
		zap.String("job", job.ID),
		zap.String("source", source),
		zap.String("type", string(job.Type)))

	keys, err := e.strategy.Select(ctx, e.driver, source, since)
	if err != nil {
		return e.fail(job, fmt.Errorf("select artifacts: %w", err)), nil
	}

	man := manifest{JobID: job.ID, Type: job.Type, Objects: make(map[string]int64, len(keys))}
	var totalBytes int64

	for _, key := range keys {
		n, err := e.copyArtifact(ctx, source, key, dest, job.ID+"/"+key)
		if err != nil {
			return e.fail(job, fmt.Errorf("copy %s: %w", key, err)), nil
		}
		man.Objects[key] = n
		totalBytes += n
	}

	if err := e.writeManifest(ctx, dest, job.ID, man); err != nil {
		return e.fail(job, fmt.Errorf("write manifest: %w", err)), nil
	}

	now := time.Now()
	e.mu.Lock()
	job.Status = StatusCompleted
	job.SizeBytes = totalBytes
	job.ObjectCount = int64(len(keys))
	job.CompletedAt = &now
	e.lastCompleted[source] = job.StartedAt
	if job.Type == TypeFull {
		e.lastFull[source] = job.StartedAt
	}
	e.mu.Unlock()

	metrics.RecordBackupJob(string(StatusCompleted), totalBytes)
	e.logger.Info("backup completed",
		zap.String("job", job.ID),
		zap.Int64("bytes", totalBytes),
		zap.Int64("objects", job.ObjectCount))

	return job, nil
}

// RestoreBackup copies a completed backup's captured data into restoreDest.
// It returns false, not an error, when the backup's data is missing or does
// not match its manifest: recoverability failures are the caller's decision
// to escalate. Partially restored data is left as-is on failure.
func (e *Engine) RestoreBackup(ctx context.Context, job *Job, restoreDest string) bool {
	if job == nil || job.Status != StatusCompleted || restoreDest == "" {
		return false
	}

	man, err := e.readManifest(ctx, job.Destination, job.ID)
	if err != nil {
		e.logger.Error("restore: manifest unreadable",
			zap.String("job", job.ID),
			zap.Error(err))
		return false
	}

	for key, wantSize := range man.Objects {
		n, err := e.copyArtifact(ctx, job.Destination, job.ID+"/"+key, restoreDest, key)
		if err != nil {
			e.logger.Error("restore: copy failed",
				zap.String("job", job.ID),
				zap.String("artifact", key),
				zap.Error(err))
			return false
		}
		if n != wantSize {
			e.logger.Error("restore: size mismatch",
				zap.String("job", job.ID),
				zap.String("artifact", key),
				zap.Int64("want", wantSize),
				zap.Int64("got", n))
			return false
		}
	}

	e.logger.Info("restore completed",
		zap.String("job", job.ID),
		zap.String("dest", restoreDest),
		zap.Int("objects", len(man.Objects)))

	return true
}

// Job returns a copy of a job record.
func (e *Engine) Job(id string) (Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	job, ok := e.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns copies of all job records.
func (e *Engine) Jobs() []Job {
	e.mu.RLock()
	defer e.mu.RUnlock()

	jobs := make([]Job, 0, len(e.jobs))
	for _, job := range e.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// copyArtifact streams one artifact between containers. Capture scopes the
// destination key under the backup ID; restore strips it back off. Each
// retry attempt re-reads the source so a half-written destination never
// counts as copied.
func (e *Engine) copyArtifact(ctx context.Context, srcContainer, srcKey, destContainer, destKey string) (int64, error) {
	var copied int64

	err := e.retry.Execute(ctx, func() error {
		rc, err := e.driver.Get(ctx, srcContainer, srcKey)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()

		counter := &countingReader{r: rc}
		if err := e.driver.Put(ctx, destContainer, destKey, counter); err != nil {
			return err
		}
		copied = counter.n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

func (e *Engine) writeManifest(ctx context.Context, dest, jobID string, man manifest) error {
	data, err := json.Marshal(man)
	if err != nil {
		return err
	}
	return e.driver.Put(ctx, dest, jobID+"/"+manifestKey, bytes.NewReader(data))
}

func (e *Engine) readManifest(ctx context.Context, dest, jobID string) (manifest, error) {
	rc, err := e.driver.Get(ctx, dest, jobID+"/"+manifestKey)
	if err != nil {
		return manifest{}, err
	}
	defer func() { _ = rc.Close() }()

	var man manifest
	if err := json.NewDecoder(rc).Decode(&man); err != nil {
		return manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

// fail marks a job terminal with an error detail. Work stops immediately;
// any artifacts already copied stay where they are but the job is never
// reported Completed.
func (e *Engine) fail(job *Job, err error) *Job {
	e.mu.Lock()
	job.Status = StatusFailed
	job.Error = err.Error()
	job.CompletedAt = nil
	job.SizeBytes = 0
	e.mu.Unlock()

	metrics.RecordBackupJob(string(StatusFailed), 0)
	e.logger.Error("backup failed",
		zap.String("job", job.ID),
		zap.Error(err))

	return job
}

// referenceTimeLocked returns the strategy's change-detection reference for
// a source. Caller must hold e.mu.
func (e *Engine) referenceTimeLocked(source string) time.Time {
	switch e.strategy.Type() {
	case TypeIncremental:
		return e.lastCompleted[source]
	case TypeDifferential:
		return e.lastFull[source]
	default:
		return time.Time{}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
