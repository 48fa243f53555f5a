// internal/backup/strategy.go
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/failsafe/internal/drivers"
)

// JobType defines the backup strategy in use
type JobType string

const (
	TypeFull         JobType = "full"         // everything under the source
	TypeIncremental  JobType = "incremental"  // changes since the last completed backup
	TypeDifferential JobType = "differential" // changes since the last completed full backup
)

// Strategy selects which artifacts a backup captures. Implementations are
// swappable behind this interface and chosen by configuration.
type Strategy interface {
	Type() JobType
	// Select returns the artifact keys to capture from container. since is
	// the strategy's reference point and is zero for full backups.
	Select(ctx context.Context, d drivers.Driver, container string, since time.Time) ([]string, error)
}

// StrategyFor returns the strategy for a configured job type.
func StrategyFor(t JobType) (Strategy, error) {
	switch t {
	case TypeFull, "":
		return FullStrategy{}, nil
	case TypeIncremental:
		return IncrementalStrategy{}, nil
	case TypeDifferential:
		return DifferentialStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown backup type: %s", t)
	}
}

// FullStrategy captures every artifact under the source.
type FullStrategy struct{}

// Type returns the job type
func (FullStrategy) Type() JobType { return TypeFull }

// Select lists all artifacts
func (FullStrategy) Select(ctx context.Context, d drivers.Driver, container string, _ time.Time) ([]string, error) {
	return d.List(ctx, container, "")
}

// IncrementalStrategy captures artifacts modified since the last completed
// backup of any type.
type IncrementalStrategy struct{}

// Type returns the job type
func (IncrementalStrategy) Type() JobType { return TypeIncremental }

// Select filters by modification time where the driver supports Stat
func (IncrementalStrategy) Select(ctx context.Context, d drivers.Driver, container string, since time.Time) ([]string, error) {
	return selectSince(ctx, d, container, since)
}

// DifferentialStrategy captures artifacts modified since the last completed
// full backup.
type DifferentialStrategy struct{}

// Type returns the job type
func (DifferentialStrategy) Type() JobType { return TypeDifferential }

// Select filters by modification time where the driver supports Stat
func (DifferentialStrategy) Select(ctx context.Context, d drivers.Driver, container string, since time.Time) ([]string, error) {
	return selectSince(ctx, d, container, since)
}

func selectSince(ctx context.Context, d drivers.Driver, container string, since time.Time) ([]string, error) {
	keys, err := d.List(ctx, container, "")
	if err != nil {
		return nil, err
	}

	stat, ok := d.(drivers.StatDriver)
	if !ok || since.IsZero() {
		// no metadata available or no prior backup: capture everything
		return keys, nil
	}

	var selected []string
	for _, key := range keys {
		info, err := stat.Stat(ctx, container, key)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", key, err)
		}
		if info.ModTime.After(since) {
			selected = append(selected, key)
		}
	}
	return selected, nil
}
