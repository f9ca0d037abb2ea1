// Package queue defines the interface for the task queue that drives
// workflow dispatch. Each source has its own topic so one slow source
// cannot starve the others. Delivery is at-least-once; everything the
// workflows write is idempotent, so redelivery is safe.
package queue

import "context"

// TaskMessage is the queue payload for one task. The HTTP dispatch endpoint
// receives the same shape as its request body.
type TaskMessage struct {
	ID           int64  `json:"id"`
	JobID        int64  `json:"job_id"`
	Source       string `json:"source"`
	WorkflowType string `json:"workflow_type"`
	URL          string `json:"url"`
}

// Client abstracts the queue backend.
type Client interface {
	// Publish enqueues the message on the source's topic. It returns once
	// the backend has durably accepted the message.
	Publish(ctx context.Context, source string, msg TaskMessage) error

	// Purge drops every message still pending on the source's topic. Used
	// when a resubmission abandons a previous run's in-flight work.
	Purge(ctx context.Context, source string) error

	// Close releases backend connections.
	Close() error
}
