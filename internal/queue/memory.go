package queue

import (
	"context"
	"sync"
)

// MemoryClient is an in-process Client for local development and tests.
// Messages accumulate per source until purged.
type MemoryClient struct {
	mu       sync.Mutex
	messages map[string][]TaskMessage
}

// NewMemoryClient constructs an empty in-memory queue.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{messages: make(map[string][]TaskMessage)}
}

// Publish appends the message to the source's slice.
func (c *MemoryClient) Publish(_ context.Context, source string, msg TaskMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[source] = append(c.messages[source], msg)
	return nil
}

// Purge drops the source's pending messages.
func (c *MemoryClient) Purge(_ context.Context, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, source)
	return nil
}

// Messages returns a copy of the source's pending messages, in publish order.
func (c *MemoryClient) Messages(source string) []TaskMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskMessage, len(c.messages[source]))
	copy(out, c.messages[source])
	return out
}

// Close is a no-op.
func (c *MemoryClient) Close() error { return nil }
