package drivers

import (
	"context"
	"io"
	"time"
)

// Driver is the common interface all backup storage drivers must implement.
// Containers map to top-level namespaces (a backup ID, a region bucket) and
// artifacts are hierarchical keys within them.
type Driver interface {
	Get(ctx context.Context, container, artifact string) (io.ReadCloser, error)
	Put(ctx context.Context, container, artifact string, data io.Reader) error
	Delete(ctx context.Context, container, artifact string) error
	List(ctx context.Context, container, prefix string) ([]string, error)
	Exists(ctx context.Context, container, artifact string) (bool, error)
}

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// StatDriver is an optional capability for drivers that can report artifact
// metadata. Incremental and differential backup strategies need it; drivers
// without it force a full copy.
type StatDriver interface {
	Stat(ctx context.Context, container, artifact string) (ArtifactInfo, error)
}
