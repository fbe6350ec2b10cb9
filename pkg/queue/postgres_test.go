package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/testutil"
	"github.com/xhad/docchat/pkg/logger"
)

func TestPostgres(t *testing.T) {
	dsn := testutil.Postgres(t)
	ctx := context.Background()

	q, err := NewPostgres(ctx, dsn, Config{
		MaxAttempts:       2,
		VisibilityTimeout: time.Minute,
		RetryBackoff:      time.Millisecond,
		MaxRetryBackoff:   time.Millisecond,
		Logger:            logger.Discard(),
	})
	require.NoError(t, err)
	defer q.Close()

	t.Run("ack", func(t *testing.T) {
		id, err := q.Enqueue(ctx, "pg-ack", []byte(`{"path":"a.pdf"}`))
		require.NoError(t, err)

		d, err := q.Dequeue(ctx, "pg-ack")
		require.NoError(t, err)
		assert.Equal(t, id, d.Job.ID)
		assert.Equal(t, 1, d.Job.Attempts)
		require.NoError(t, d.Ack(ctx))

		stats, err := q.Stats(ctx, "pg-ack")
		require.NoError(t, err)
		assert.Equal(t, Stats{Done: 1}, stats)
	})

	t.Run("nack until dead", func(t *testing.T) {
		_, err := q.Enqueue(ctx, "pg-dead", []byte("x"))
		require.NoError(t, err)

		deliveries := 0
		for i := 0; i < 5; i++ {
			d, err := q.Dequeue(ctx, "pg-dead")
			if errors.Is(err, ErrEmpty) {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			require.NoError(t, err)
			deliveries++
			require.NoError(t, d.Nack(ctx, errors.New("boom")))
			time.Sleep(10 * time.Millisecond)
		}
		assert.Equal(t, 2, deliveries)

		dead, err := q.DeadLetters(ctx, "pg-dead")
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, StatusDead, dead[0].Status)
	})

	t.Run("competing consumers get distinct jobs", func(t *testing.T) {
		const jobs = 20
		for i := 0; i < jobs; i++ {
			_, err := q.Enqueue(ctx, "pg-compete", []byte("x"))
			require.NoError(t, err)
		}

		var mu sync.Mutex
		seen := map[string]int{}
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					d, err := q.Dequeue(ctx, "pg-compete")
					if errors.Is(err, ErrEmpty) {
						return
					}
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					seen[d.Job.ID]++
					mu.Unlock()
					assert.NoError(t, d.Ack(ctx))
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, jobs)
		for id, n := range seen {
			assert.Equal(t, 1, n, id)
		}
	})
}
