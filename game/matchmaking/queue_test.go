package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queues(t *testing.T) map[string]func(t *testing.T) Queue {
	return map[string]func(t *testing.T) Queue{
		"memory": func(t *testing.T) Queue {
			return NewMemoryQueue()
		},
		"redis": func(t *testing.T) Queue {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { rdb.Close() })
			return NewRedisQueue(rdb, "")
		},
	}
}

func TestQueue(t *testing.T) {
	ctx := context.Background()

	for name, newQueue := range queues(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("pairs in arrival order", func(t *testing.T) {
				q := newQueue(t)
				for _, id := range []string{"A", "B", "C", "D"} {
					require.NoError(t, q.Enqueue(ctx, id))
				}

				p, ok, err := q.TryPair(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, Pair{First: "A", Second: "B"}, p)

				p, ok, err = q.TryPair(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, Pair{First: "C", Second: "D"}, p)

				n, err := q.Len(ctx)
				require.NoError(t, err)
				assert.Zero(t, n)
			})

			t.Run("not enough leaves queue unchanged", func(t *testing.T) {
				q := newQueue(t)
				require.NoError(t, q.Enqueue(ctx, "A"))

				_, ok, err := q.TryPair(ctx)
				require.NoError(t, err)
				assert.False(t, ok)

				ids, err := q.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"A"}, ids)
			})

			t.Run("enqueue is idempotent", func(t *testing.T) {
				q := newQueue(t)
				require.NoError(t, q.Enqueue(ctx, "A"))
				require.NoError(t, q.Enqueue(ctx, "A"))

				_, ok, err := q.TryPair(ctx)
				require.NoError(t, err)
				assert.False(t, ok, "a client must never be paired with itself")
			})

			t.Run("empty id", func(t *testing.T) {
				q := newQueue(t)
				assert.ErrorIs(t, q.Enqueue(ctx, ""), ErrInvalidClientID)
			})

			t.Run("remove", func(t *testing.T) {
				q := newQueue(t)
				for _, id := range []string{"A", "B", "C"} {
					require.NoError(t, q.Enqueue(ctx, id))
				}

				removed, err := q.Remove(ctx, "B")
				require.NoError(t, err)
				assert.True(t, removed)

				removed, err = q.Remove(ctx, "B")
				require.NoError(t, err)
				assert.False(t, removed)

				ids, err := q.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"A", "C"}, ids)
			})

			t.Run("restore puts pair back at head", func(t *testing.T) {
				q := newQueue(t)
				for _, id := range []string{"A", "B", "C"} {
					require.NoError(t, q.Enqueue(ctx, id))
				}

				p, ok, err := q.TryPair(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				require.NoError(t, q.Restore(ctx, p))

				ids, err := q.List(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"A", "B", "C"}, ids)
			})

			t.Run("concurrent pairing never repeats a client", func(t *testing.T) {
				q := newQueue(t)
				const clients = 200

				var wg sync.WaitGroup
				var mu sync.Mutex
				seen := make(map[string]int)

				for i := 0; i < clients; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						if err := q.Enqueue(ctx, fmt.Sprintf("c%03d", i)); err != nil {
							t.Errorf("enqueue: %v", err)
							return
						}
						p, ok, err := q.TryPair(ctx)
						if err != nil {
							t.Errorf("pair: %v", err)
							return
						}
						if !ok {
							return
						}
						mu.Lock()
						seen[p.First]++
						seen[p.Second]++
						mu.Unlock()
					}(i)
				}
				wg.Wait()

				// drain whatever interleaving left behind
				for {
					p, ok, err := q.TryPair(ctx)
					require.NoError(t, err)
					if !ok {
						break
					}
					seen[p.First]++
					seen[p.Second]++
				}

				for id, n := range seen {
					assert.Equal(t, 1, n, "client %s paired %d times", id, n)
				}
				assert.Len(t, seen, clients)
			})
		})
	}
}

func TestPair(t *testing.T) {
	p := Pair{First: "A", Second: "B"}
	assert.True(t, p.Contains("A"))
	assert.True(t, p.Contains("B"))
	assert.False(t, p.Contains("C"))
	assert.Equal(t, "B", p.Other("A"))
	assert.Equal(t, "A", p.Other("B"))
}

func TestRedisQueue_Key(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	q := NewRedisQueue(rdb, "")
	require.NoError(t, q.Enqueue(context.Background(), "A"))

	ids, err := mr.List(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids)
}
