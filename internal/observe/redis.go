package observe

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultRedisStream  = "mcpagent:events"
	defaultRedisMaxLen  = 10000
	defaultRedisTimeout = 500 * time.Millisecond
)

// RedisOptions configures RedisSink.
type RedisOptions struct {
	Stream  string
	MaxLen  int64
	Timeout time.Duration
}

// RedisSink appends events to a Redis stream so other processes can follow
// runs live. Publish failures are logged and dropped.
type RedisSink struct {
	client *redis.Client
	opts   RedisOptions
	logger zerolog.Logger
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client *redis.Client, opts RedisOptions, logger zerolog.Logger) *RedisSink {
	if opts.Stream == "" {
		opts.Stream = defaultRedisStream
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultRedisMaxLen
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRedisTimeout
	}
	return &RedisSink{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "redis-sink").Logger(),
	}
}

func (s *RedisSink) Emit(ctx context.Context, e Event) {
	// Detached from ctx: a cancelled run still reports how it ended.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	err := s.client.XAdd(pubCtx, &redis.XAddArgs{
		Stream: s.opts.Stream,
		MaxLen: s.opts.MaxLen,
		Approx: true,
		Values: eventFields(e),
	}).Err()
	if err != nil {
		s.logger.Debug().Err(err).Str("stream", s.opts.Stream).Msg("publish event failed")
	}
}

// Close closes the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func eventFields(e Event) map[string]interface{} {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := map[string]interface{}{
		"time": ts.UTC().Format(time.RFC3339Nano),
		"kind": string(e.Kind),
	}
	set := func(k, v string) {
		if v != "" {
			fields[k] = v
		}
	}
	set("run_id", e.RunID)
	set("trigger", e.Trigger)
	set("state", e.State)
	set("phase", e.Phase)
	set("strategy", e.Strategy)
	set("server", e.Server)
	set("tool", e.Tool)
	set("message", e.Message)
	set("error", e.Err)
	if e.Count > 0 {
		fields["count"] = strconv.Itoa(e.Count)
	}
	if e.TokensEstimate != nil {
		fields["tokens_estimate"] = strconv.FormatFloat(*e.TokensEstimate, 'f', -1, 64)
	}
	if e.ExecutionTime != nil {
		fields["execution_time_ms"] = strconv.FormatFloat(*e.ExecutionTime, 'f', -1, 64)
	}
	if e.Duration > 0 {
		fields["duration_ms"] = strconv.FormatInt(e.Duration.Milliseconds(), 10)
	}
	return fields
}
