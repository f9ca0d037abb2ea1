// Package archive snapshots the raw payloads pulled from source portals so
// a parsing bug can be replayed against the original bytes instead of
// re-crawling.
package archive

import (
	"context"
	"fmt"
)

// Store persists one raw payload per key and returns a backend URI for it.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Close() error
}

// Key builds the canonical object key for a task's payload.
func Key(jobDate, source, workflowType string, taskID int64) string {
	return fmt.Sprintf("%s/%s/%s/%d", jobDate, source, workflowType, taskID)
}

// Noop discards payloads. Used when archiving is disabled.
type Noop struct{}

// Put drops the payload and returns an empty URI.
func (Noop) Put(context.Context, string, string, []byte) (string, error) { return "", nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
