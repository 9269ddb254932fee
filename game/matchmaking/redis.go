package matchmaking

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the list holding waiting client ids
const DefaultKey = "waiting_players"

// KEYS[1] queue list, ARGV[1] client id
var enqueueScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
for _, v in ipairs(items) do
	if v == ARGV[1] then
		return 0
	end
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// KEYS[1] queue list
var pairScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) < 2 then
	return {}
end
local first = redis.call('LPOP', KEYS[1])
local second = redis.call('LPOP', KEYS[1])
return {first, second}
`)

// RedisQueue keeps the waiting list in a Redis list shared by every relay process
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue creates a queue stored under key, or DefaultKey when empty
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	if err := enqueueScript.Run(ctx, q.rdb, []string{q.key}, clientID).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", clientID, err)
	}
	return nil
}

func (q *RedisQueue) TryPair(ctx context.Context) (Pair, bool, error) {
	ids, err := pairScript.Run(ctx, q.rdb, []string{q.key}).StringSlice()
	if err != nil {
		return Pair{}, false, fmt.Errorf("pair waiting clients: %w", err)
	}
	if len(ids) < 2 {
		return Pair{}, false, nil
	}
	return Pair{First: ids[0], Second: ids[1]}, true, nil
}

func (q *RedisQueue) Remove(ctx context.Context, clientID string) (bool, error) {
	n, err := q.rdb.LRem(ctx, q.key, 0, clientID).Result()
	if err != nil {
		return false, fmt.Errorf("remove %s from queue: %w", clientID, err)
	}
	return n > 0, nil
}

func (q *RedisQueue) Restore(ctx context.Context, p Pair) error {
	if err := q.rdb.LPush(ctx, q.key, p.Second, p.First).Err(); err != nil {
		return fmt.Errorf("restore pair %s/%s: %w", p.First, p.Second, err)
	}
	return nil
}

func (q *RedisQueue) List(ctx context.Context) ([]string, error) {
	ids, err := q.rdb.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return ids, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}
