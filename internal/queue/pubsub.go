package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubClient implements Client on Google Cloud Pub/Sub. Topic and
// subscription IDs are derived by prefixing the source name; the push
// subscription for each topic must target the dispatch endpoint.
type PubSubClient struct {
	client      *pubsub.Client
	topicPrefix string
	subPrefix   string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubClient connects to Pub/Sub with Application Default Credentials.
func NewPubSubClient(ctx context.Context, projectID, topicPrefix, subscriptionPrefix string) (*PubSubClient, error) {
	if projectID == "" {
		return nil, fmt.Errorf("queue.project_id is required for the pubsub backend")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubClient{
		client:      client,
		topicPrefix: topicPrefix,
		subPrefix:   subscriptionPrefix,
		topics:      make(map[string]*pubsub.Topic),
	}, nil
}

func (c *PubSubClient) topic(source string) *pubsub.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.topics[source]
	if !ok {
		t = c.client.Topic(c.topicPrefix + source)
		c.topics[source] = t
	}
	return t
}

// Publish marshals the message and blocks until the server acknowledges it,
// so a nil return means the task will be delivered.
func (c *PubSubClient) Publish(ctx context.Context, source string, msg TaskMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}
	result := c.topic(source).Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task %d to %s: %w", msg.ID, c.topicPrefix+source, err)
	}
	return nil
}

// Purge seeks the source's subscription to the current time, which marks
// every outstanding message acknowledged. The subscription must be created
// with retain-acked disabled for the seek to behave as a purge.
func (c *PubSubClient) Purge(ctx context.Context, source string) error {
	sub := c.client.Subscription(c.subPrefix + source)
	if err := sub.SeekToTime(ctx, time.Now()); err != nil {
		return fmt.Errorf("purge subscription %s: %w", c.subPrefix+source, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (c *PubSubClient) Close() error {
	c.mu.Lock()
	for _, t := range c.topics {
		t.Stop()
	}
	c.mu.Unlock()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
