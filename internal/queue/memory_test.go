package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryClientPublishOrder(t *testing.T) {
	t.Parallel()

	q := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "adb", TaskMessage{ID: 1, JobID: 7, Source: "adb"}))
	require.NoError(t, q.Publish(ctx, "adb", TaskMessage{ID: 2, JobID: 7, Source: "adb"}))
	require.NoError(t, q.Publish(ctx, "kfw", TaskMessage{ID: 3, JobID: 7, Source: "kfw"}))

	adb := q.Messages("adb")
	require.Len(t, adb, 2)
	require.Equal(t, int64(1), adb[0].ID)
	require.Equal(t, int64(2), adb[1].ID)
	require.Len(t, q.Messages("kfw"), 1)
}

func TestMemoryClientPurgeIsPerSource(t *testing.T) {
	t.Parallel()

	q := NewMemoryClient()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "adb", TaskMessage{ID: 1}))
	require.NoError(t, q.Publish(ctx, "kfw", TaskMessage{ID: 2}))

	require.NoError(t, q.Purge(ctx, "adb"))
	require.Empty(t, q.Messages("adb"))
	require.Len(t, q.Messages("kfw"), 1)
}

func TestMemoryClientConcurrentPublish(t *testing.T) {
	t.Parallel()

	q := NewMemoryClient()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = q.Publish(ctx, "adb", TaskMessage{ID: id})
		}(int64(i))
	}
	wg.Wait()

	require.Len(t, q.Messages("adb"), 20)
}
