package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clubkit/botguard/internal/audit"
)

// incrRateScript atomically advances a fixed-window counter held in a hash
// with fields c (count), ws (window start, unix milliseconds) and la (last
// activity). The caller supplies the current time so the script stays
// deterministic. Returns the count and window start after the increment.
const incrRateScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ws = redis.call('HGET', KEYS[1], 'ws')
local count
if (not ws) or (now - tonumber(ws) >= window) then
	redis.call('HSET', KEYS[1], 'c', 1, 'ws', now, 'la', now)
	count = 1
	ws = now
else
	count = redis.call('HINCRBY', KEYS[1], 'c', 1)
	redis.call('HSET', KEYS[1], 'la', now)
	ws = tonumber(ws)
end
redis.call('PEXPIRE', KEYS[1], window * 2)
return {count, ws}
`

// eventLogCap bounds the raw event list. Counting runs against the sorted
// sets, so the list is a bounded tail for inspection.
const eventLogCap = 10000

// RedisStore is a Redis-backed Store for shared state across instances.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	retention  time.Duration
	logger     *zap.Logger
	metrics    *redisMetrics
	incrScript *redis.Script

	// now is swappable for tests.
	now func() time.Time
}

// redisMetrics contains Redis store metrics.
type redisMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func newRedisMetrics(registerer prometheus.Registerer) *redisMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &redisMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botguard",
				Subsystem: "store",
				Name:      "redis_operations_total",
				Help:      "Total number of Redis store operations",
			},
			[]string{"operation", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "botguard",
				Subsystem: "store",
				Name:      "redis_operation_duration_seconds",
				Help:      "Redis store operation latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),
	}

	_ = registerer.Register(m.operations)
	_ = registerer.Register(m.latency)

	return m
}

// observe records one operation outcome.
func (m *redisMetrics) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RedisOption is a functional option for the Redis store.
type RedisOption func(*RedisStore)

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

// WithRedisEventRetention overrides how long audit events are kept.
func WithRedisEventRetention(retention time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.retention = retention
	}
}

// WithRedisClock overrides the time source. Used by tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		s.now = now
	}
}

// WithRedisRegisterer sets the Prometheus registerer for store metrics.
func WithRedisRegisterer(registerer prometheus.Registerer) RedisOption {
	return func(s *RedisStore) {
		s.metrics = newRedisMetrics(registerer)
	}
}

// NewRedisStore creates a Redis-backed store on top of the given client.
// The prefix namespaces every key the store writes.
func NewRedisStore(client redis.UniversalClient, prefix string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		prefix:     prefix,
		retention:  defaultEventRetention,
		logger:     zap.NewNop(),
		incrScript: redis.NewScript(incrRateScript),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = newRedisMetrics(prometheus.DefaultRegisterer)
	}

	return s
}

func (s *RedisStore) rateKey(actor int64, action string) string {
	return fmt.Sprintf("%srate:%d:%s", s.prefix, actor, action)
}

func (s *RedisStore) blockKey(actor int64) string {
	return fmt.Sprintf("%sblock:%d", s.prefix, actor)
}

func (s *RedisStore) blockSetKey() string {
	return s.prefix + "blocks"
}

func (s *RedisStore) eventListKey() string {
	return s.prefix + "events"
}

func (s *RedisStore) eventTypeKey(eventType audit.EventType) string {
	return fmt.Sprintf("%sev:%s", s.prefix, eventType)
}

func (s *RedisStore) eventActorKey(actor int64, eventType audit.EventType) string {
	return fmt.Sprintf("%sev:%s:%d", s.prefix, eventType, actor)
}

// IncrementRate implements Store.
func (s *RedisStore) IncrementRate(ctx context.Context, actor int64, action string, window time.Duration) (*RateCounter, error) {
	start := s.now()
	now := start.UTC()

	res, err := s.incrScript.Run(ctx, s.client,
		[]string{s.rateKey(actor, action)},
		now.UnixMilli(), window.Milliseconds(),
	).Result()
	s.metrics.observe("increment_rate", start, err)
	if err != nil {
		return nil, fmt.Errorf("increment rate: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("increment rate: unexpected script result %T", res)
	}
	count, _ := vals[0].(int64)
	windowStart, _ := vals[1].(int64)

	return &RateCounter{
		Actor:        actor,
		Action:       action,
		Count:        count,
		WindowStart:  time.UnixMilli(windowStart).UTC(),
		LastActivity: now,
	}, nil
}

// GetRateCounter implements Store.
func (s *RedisStore) GetRateCounter(ctx context.Context, actor int64, action string) (*RateCounter, error) {
	start := s.now()

	fields, err := s.client.HGetAll(ctx, s.rateKey(actor, action)).Result()
	s.metrics.observe("get_rate_counter", start, err)
	if err != nil {
		return nil, fmt.Errorf("get rate counter: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	count, _ := strconv.ParseInt(fields["c"], 10, 64)
	windowStart, _ := strconv.ParseInt(fields["ws"], 10, 64)
	lastActivity, _ := strconv.ParseInt(fields["la"], 10, 64)

	return &RateCounter{
		Actor:        actor,
		Action:       action,
		Count:        count,
		WindowStart:  time.UnixMilli(windowStart).UTC(),
		LastActivity: time.UnixMilli(lastActivity).UTC(),
	}, nil
}

// PutBlock implements Store.
func (s *RedisStore) PutBlock(ctx context.Context, block *Block) error {
	start := s.now()

	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.blockKey(block.Actor), data, 0)
	pipe.SAdd(ctx, s.blockSetKey(), block.Actor)
	_, err = pipe.Exec(ctx)
	s.metrics.observe("put_block", start, err)
	if err != nil {
		return fmt.Errorf("put block: %w", err)
	}
	return nil
}

// GetBlock implements Store.
func (s *RedisStore) GetBlock(ctx context.Context, actor int64) (*Block, error) {
	start := s.now()

	data, err := s.client.Get(ctx, s.blockKey(actor)).Bytes()
	if err == redis.Nil {
		s.metrics.observe("get_block", start, nil)
		return nil, ErrNotFound
	}
	s.metrics.observe("get_block", start, err)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}

	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	return &block, nil
}

// DeleteBlock implements Store.
func (s *RedisStore) DeleteBlock(ctx context.Context, actor int64) (bool, error) {
	start := s.now()

	pipe := s.client.TxPipeline()
	delCmd := pipe.Del(ctx, s.blockKey(actor))
	pipe.SRem(ctx, s.blockSetKey(), actor)
	_, err := pipe.Exec(ctx)
	s.metrics.observe("delete_block", start, err)
	if err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	return delCmd.Val() > 0, nil
}

// ExpiredBlocks implements Store.
func (s *RedisStore) ExpiredBlocks(ctx context.Context, now time.Time) ([]*Block, error) {
	start := s.now()

	members, err := s.client.SMembers(ctx, s.blockSetKey()).Result()
	s.metrics.observe("expired_blocks", start, err)
	if err != nil {
		return nil, fmt.Errorf("expired blocks: %w", err)
	}

	var expired []*Block
	for _, member := range members {
		actor, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}

		block, err := s.GetBlock(ctx, actor)
		if IsNotFound(err) {
			// Entry vanished between SMEMBERS and GET; drop the
			// stale set member.
			s.client.SRem(ctx, s.blockSetKey(), member)
			continue
		}
		if err != nil {
			return nil, err
		}

		if block.Expired(now) {
			expired = append(expired, block)
		}
	}
	return expired, nil
}

// CountBlocks implements Store.
func (s *RedisStore) CountBlocks(ctx context.Context) (int64, error) {
	start := s.now()

	count, err := s.client.SCard(ctx, s.blockSetKey()).Result()
	s.metrics.observe("count_blocks", start, err)
	if err != nil {
		return 0, fmt.Errorf("count blocks: %w", err)
	}
	return count, nil
}

// AppendEvent implements audit.EventStore. The raw event is pushed onto a
// capped list for inspection; per-type and per-actor sorted sets scored by
// timestamp back the trailing-window counts.
func (s *RedisStore) AppendEvent(ctx context.Context, event *audit.Event) error {
	start := s.now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	score := float64(event.Timestamp.UnixMilli())
	horizon := float64(s.now().UTC().Add(-s.retention).UnixMilli())
	horizonArg := strconv.FormatFloat(horizon, 'f', -1, 64)

	typeKey := s.eventTypeKey(event.Type)
	actorKey := s.eventActorKey(event.Actor, event.Type)

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.eventListKey(), data)
	pipe.LTrim(ctx, s.eventListKey(), -eventLogCap, -1)
	pipe.ZAdd(ctx, typeKey, redis.Z{Score: score, Member: event.ID})
	pipe.ZAdd(ctx, actorKey, redis.Z{Score: score, Member: event.ID})
	pipe.ZRemRangeByScore(ctx, typeKey, "0", horizonArg)
	pipe.ZRemRangeByScore(ctx, actorKey, "0", horizonArg)
	_, err = pipe.Exec(ctx)
	s.metrics.observe("append_event", start, err)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// CountActorEvents implements audit.EventStore.
func (s *RedisStore) CountActorEvents(ctx context.Context, actor int64, eventType audit.EventType, since time.Duration) (int64, error) {
	start := s.now()

	min := strconv.FormatInt(s.now().UTC().Add(-since).UnixMilli(), 10)
	count, err := s.client.ZCount(ctx, s.eventActorKey(actor, eventType), min, "+inf").Result()
	s.metrics.observe("count_actor_events", start, err)
	if err != nil {
		return 0, fmt.Errorf("count actor events: %w", err)
	}
	return count, nil
}

// CountEvents implements audit.EventStore.
func (s *RedisStore) CountEvents(ctx context.Context, eventType audit.EventType, since time.Duration) (int64, error) {
	start := s.now()

	min := strconv.FormatInt(s.now().UTC().Add(-since).UnixMilli(), 10)
	count, err := s.client.ZCount(ctx, s.eventTypeKey(eventType), min, "+inf").Result()
	s.metrics.observe("count_events", start, err)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore satisfies the interface.
var _ Store = (*RedisStore)(nil)
