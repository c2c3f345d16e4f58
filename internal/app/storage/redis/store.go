// Package redis implements the signal store on Redis. Every mutation runs as
// a Lua script, so a single Redis node applies it atomically. Keys are built
// inside the scripts, which rules out Redis Cluster.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/cardkeep/signal_layer/internal/app/storage"
	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

// Store implements storage.SignalStore.
//
// Layout under prefix:
//
//	sig:<id>       hash (from, target, type, payload, processed, created)
//	inbox:<user>   zset of ids addressed to user, scored by created ms
//	outbox:<user>  set of ids sent by user
//	all            zset of every id, scored by created ms
//	seq            id counter
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ storage.SignalStore = (*Store)(nil)

// New creates a Store. prefix namespaces every key.
func New(client goredis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix, now: time.Now}
}

// Options configures Open.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open connects to a single Redis node and verifies it answers.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return New(client, opts.Prefix), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += p
	}
	return k
}

// dropFn removes one signal and its index entries. Shared by purge and reap.
const dropFn = `
local prefix = ARGV[1]
local function drop(id)
  local k = prefix .. 'sig:' .. id
  local f = redis.call('HMGET', k, 'from', 'target')
  redis.call('ZREM', prefix .. 'all', id)
  if not f[1] then
    return 0
  end
  redis.call('ZREM', prefix .. 'inbox:' .. f[2], id)
  redis.call('SREM', prefix .. 'outbox:' .. f[1], id)
  return redis.call('DEL', k)
end
`

// KEYS: seq, inbox(target), outbox(from), all
// ARGV: prefix, from, target, type, payload, created_ms, dedup
var enqueueScript = goredis.NewScript(`
local prefix = ARGV[1]
if ARGV[7] == '1' then
  for _, id in ipairs(redis.call('ZRANGE', KEYS[2], 0, -1)) do
    local k = prefix .. 'sig:' .. id
    local f = redis.call('HMGET', k, 'from', 'type', 'processed')
    if f[1] == ARGV[2] and f[2] == ARGV[4] and f[3] == '0' then
      redis.call('DEL', k)
      redis.call('ZREM', KEYS[2], id)
      redis.call('SREM', KEYS[3], id)
      redis.call('ZREM', KEYS[4], id)
    end
  end
end
local id = redis.call('INCR', KEYS[1])
redis.call('HSET', prefix .. 'sig:' .. id,
  'from', ARGV[2], 'target', ARGV[3], 'type', ARGV[4],
  'payload', ARGV[5], 'processed', '0', 'created', ARGV[6])
redis.call('ZADD', KEYS[2], ARGV[6], id)
redis.call('SADD', KEYS[3], id)
redis.call('ZADD', KEYS[4], ARGV[6], id)
return id
`)

// KEYS: inbox(target)
// ARGV: prefix, cutoff_ms, mode
var pollScript = goredis.NewScript(`
local prefix = ARGV[1]
local out = {}
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. ARGV[2], '+inf')) do
  local k = prefix .. 'sig:' .. id
  local f = redis.call('HMGET', k, 'from', 'target', 'type', 'payload', 'processed', 'created')
  if f[1] and f[5] == '0' then
    if ARGV[3] == 'active' or f[3] == 'incoming_call' then
      redis.call('HSET', k, 'processed', '1')
    end
    table.insert(out, {id, f[1], f[2], f[3], f[4], f[6]})
  end
end
return out
`)

// KEYS: inbox(user), outbox(user)
// ARGV: prefix
var purgeScript = goredis.NewScript(dropFn + `
local n = 0
for _, id in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do n = n + drop(id) end
for _, id in ipairs(redis.call('SMEMBERS', KEYS[2])) do n = n + drop(id) end
redis.call('DEL', KEYS[1], KEYS[2])
return n
`)

// KEYS: all
// ARGV: prefix, cutoff_ms
var reapScript = goredis.NewScript(dropFn + `
local n = 0
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])) do n = n + drop(id) end
return n
`)

func (s *Store) Enqueue(ctx context.Context, sig signal.Signal) (signal.Signal, error) {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = s.now()
	}
	sig.CreatedAt = time.UnixMilli(sig.CreatedAt.UnixMilli()).UTC()

	payload := string(sig.Payload)
	if payload == "" {
		payload = "{}"
	}
	dedup := "0"
	if sig.Type.Deduplicated() {
		dedup = "1"
	}

	keys := []string{s.key("seq"), s.key("inbox:", sig.Target), s.key("outbox:", sig.From), s.key("all")}
	id, err := enqueueScript.Run(ctx, s.client, keys,
		s.prefix, sig.From, sig.Target, string(sig.Type), payload, sig.CreatedAt.UnixMilli(), dedup).Int64()
	if err != nil {
		return signal.Signal{}, unavailable("enqueue", err)
	}

	sig.ID = id
	sig.Processed = false
	sig.Payload = json.RawMessage(payload)
	return sig, nil
}

func (s *Store) Poll(ctx context.Context, target string, mode signaling.Mode, cutoff time.Time) ([]signal.Signal, error) {
	if mode != signaling.ModePreview {
		mode = signaling.ModeActive
	}
	raw, err := pollScript.Run(ctx, s.client, []string{s.key("inbox:", target)},
		s.prefix, cutoff.UnixMilli(), string(mode)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, unavailable("poll", err)
	}

	rows, _ := raw.([]interface{})
	out := make([]signal.Signal, 0, len(rows))
	for _, row := range rows {
		sig, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("poll signals: %w", err)
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return signal.Less(out[i], out[j]) })
	return out, nil
}

func (s *Store) Purge(ctx context.Context, user string) (int64, error) {
	n, err := purgeScript.Run(ctx, s.client, []string{s.key("inbox:", user), s.key("outbox:", user)}, s.prefix).Int64()
	if err != nil {
		return 0, unavailable("purge", err)
	}
	return n, nil
}

func (s *Store) Reap(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := reapScript.Run(ctx, s.client, []string{s.key("all")}, s.prefix, cutoff.UnixMilli()).Int64()
	if err != nil {
		return 0, unavailable("reap", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// parseRow decodes one {id, from, target, type, payload, created} tuple.
func parseRow(row interface{}) (signal.Signal, error) {
	fields, ok := row.([]interface{})
	if !ok || len(fields) != 6 {
		return signal.Signal{}, fmt.Errorf("unexpected row shape %T", row)
	}
	str := make([]string, len(fields))
	for i, f := range fields {
		switch v := f.(type) {
		case string:
			str[i] = v
		case int64:
			str[i] = strconv.FormatInt(v, 10)
		default:
			return signal.Signal{}, fmt.Errorf("unexpected field %d type %T", i, f)
		}
	}

	id, err := strconv.ParseInt(str[0], 10, 64)
	if err != nil {
		return signal.Signal{}, fmt.Errorf("parse id %q: %w", str[0], err)
	}
	createdMs, err := strconv.ParseInt(str[5], 10, 64)
	if err != nil {
		return signal.Signal{}, fmt.Errorf("parse created %q: %w", str[5], err)
	}

	return signal.Signal{
		ID:        id,
		From:      str[1],
		Target:    str[2],
		Type:      signaling.Type(str[3]),
		Payload:   json.RawMessage(str[4]),
		CreatedAt: time.UnixMilli(createdMs).UTC(),
	}, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s signals: %w", op, err)
	}
	return fmt.Errorf("%s signals: %w: %w", op, storage.ErrUnavailable, err)
}
