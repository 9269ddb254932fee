package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

const (
	keyPrefix   = "game:"
	stateSuffix = ":state"
)

// KEYS[1] state hash, KEYS[2] players set
// ARGV[1] ttl ms, ARGV[2] player count, then player ids, then field/value pairs
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local ttl = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local players = {}
for i = 3, 2 + n do
	table.insert(players, ARGV[i])
end
local kv = {}
for i = 3 + n, #ARGV do
	table.insert(kv, ARGV[i])
end
redis.call('HSET', KEYS[1], unpack(kv))
if n > 0 then
	redis.call('SADD', KEYS[2], unpack(players))
end
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	if n > 0 then
		redis.call('PEXPIRE', KEYS[2], ttl)
	end
end
return 1
`)

// KEYS[1] state hash, KEYS[2] players set
// ARGV[1] ttl ms, then field/value pairs
var mergeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if #ARGV > 1 then
	redis.call('HSET', KEYS[1], unpack(ARGV, 2))
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// KEYS[1] state hash
// ARGV[1] connected field name
var disconnectScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], ARGV[1]) == '1' then
	redis.call('HSET', KEYS[1], ARGV[1], '0')
	return 1
end
return 0
`)

// RedisStore keeps session records in Redis hashes so several relay
// processes can share them. Every write refreshes the record's TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a store on top of an existing client. A zero ttl keeps records forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func stateKey(id string) string {
	return keyPrefix + id + stateSuffix
}

func playersKey(id string) string {
	return keyPrefix + id + ":players"
}

func flatten(fields map[string]string) []interface{} {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

// Create stores a new record together with its participant set
func (s *RedisStore) Create(ctx context.Context, id string, fields map[string]string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("create session %s: empty record", id)
	}

	players := state.Participants(fields)
	args := make([]interface{}, 0, 2+len(players)+len(fields)*2)
	args = append(args, s.ttl.Milliseconds(), len(players))
	for _, p := range players {
		args = append(args, p)
	}
	args = append(args, flatten(fields)...)

	created, err := createScript.Run(ctx, s.rdb, []string{stateKey(id), playersKey(id)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	if created == 0 {
		return ErrSessionAlreadyExists
	}
	return nil
}

// Get returns the full record
func (s *RedisStore) Get(ctx context.Context, id string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, stateKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return fields, nil
}

// Merge upserts fields into an existing record
func (s *RedisStore) Merge(ctx context.Context, id string, fields map[string]string) error {
	args := append([]interface{}{s.ttl.Milliseconds()}, flatten(fields)...)

	ok, err := mergeScript.Run(ctx, s.rdb, []string{stateKey(id), playersKey(id)}, args...).Int()
	if err != nil {
		return fmt.Errorf("merge session %s: %w", id, err)
	}
	if ok == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// MarkDisconnected flips the connected flag of clientID if it is set
func (s *RedisStore) MarkDisconnected(ctx context.Context, id, clientID string) (bool, error) {
	field := state.PlayerField(clientID, state.AttrConnected)

	res, err := disconnectScript.Run(ctx, s.rdb, []string{stateKey(id)}, field).Int()
	if err != nil {
		return false, fmt.Errorf("mark %s disconnected in %s: %w", clientID, id, err)
	}
	switch res {
	case -1:
		return false, ErrSessionNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// Delete removes the record and its participant set
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, stateKey(id), playersKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// List scans for stored records
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*"+stateSuffix, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), stateSuffix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Players returns the participant set written at creation
func (s *RedisStore) Players(ctx context.Context, id string) ([]string, error) {
	players, err := s.rdb.SMembers(ctx, playersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("players of session %s: %w", id, err)
	}
	sort.Strings(players)
	return players, nil
}
