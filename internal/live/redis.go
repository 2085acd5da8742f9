package live

import (
	"context"
	"fmt"
	"time"

	"github.com/aamira/courier-tracker/internal/infrastructure/config"
	"github.com/aamira/courier-tracker/internal/infrastructure/logging"
	"github.com/aamira/courier-tracker/internal/infrastructure/monitoring"
	"github.com/aamira/courier-tracker/internal/infrastructure/resilience"
	"github.com/aamira/courier-tracker/internal/shared/types"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures a Redis pub/sub source
type RedisOptions[T any] struct {
	Addr string
	// Client overrides Addr; it is not closed by the source
	Client  *goredis.Client
	Channel string
	// StatusChannel receives outgoing status updates, default Channel+":status"
	StatusChannel string
	Backoff       *resilience.Backoff
	MaxAttempts   int
	Normalize     func(T) T
	Logger        *logging.Logger
	Metrics       *monitoring.Metrics
}

// RedisOptionsFromConfig maps the LIVE_REDIS_* settings onto source options
func RedisOptionsFromConfig[T any](cfg config.LiveConfig) RedisOptions[T] {
	return RedisOptions[T]{
		Addr:    cfg.RedisAddr,
		Channel: cfg.RedisChannel,
		Backoff: &resilience.Backoff{
			Initial: cfg.BackoffInitial,
			Max:     cfg.BackoffMax,
			Jitter:  0.2,
		},
		MaxAttempts: cfg.MaxAttempts,
	}
}

// RedisSource reads live frames from a Redis pub/sub channel
type RedisSource[T Keyed] struct {
	*loop[T]

	rdb           *goredis.Client
	owned         bool
	channel       string
	statusChannel string
}

// NewRedisSource creates a Redis source. It does not subscribe until Events
// is called.
func NewRedisSource[T Keyed](opts RedisOptions[T]) (*RedisSource[T], error) {
	if opts.Client == nil && opts.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if opts.Channel == "" {
		opts.Channel = "packages"
	}
	if opts.StatusChannel == "" {
		opts.StatusChannel = opts.Channel + ":status"
	}

	rdb, owned := opts.Client, false
	if rdb == nil {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:        opts.Addr,
			DialTimeout: 5 * time.Second,
		})
		owned = true
	}

	r := &RedisSource[T]{
		rdb:           rdb,
		owned:         owned,
		channel:       opts.Channel,
		statusChannel: opts.StatusChannel,
	}
	r.loop = &loop[T]{
		source:      "redis",
		backoff:     defaultBackoff(opts.Backoff),
		maxAttempts: defaultAttempts(opts.MaxAttempts),
		normalize:   opts.Normalize,
		log:         opts.Logger.Component("live").With(zap.String("channel", opts.Channel)),
		metrics:     opts.Metrics,
	}
	r.loop.dial = r.subscribe
	return r, nil
}

// Events starts the subscription and returns its event stream
func (r *RedisSource[T]) Events(ctx context.Context) <-chan Event[T] {
	return r.loop.events(ctx)
}

// SendStatusUpdate publishes a status-update frame on the status channel
func (r *RedisSource[T]) SendStatusUpdate(ctx context.Context, update types.StatusUpdate) error {
	frame, err := EncodeFrame(EventStatusUpdate, update)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.statusChannel, frame).Err(); err != nil {
		return fmt.Errorf("publish status update: %w", err)
	}
	return nil
}

// Close releases the Redis client if the source created it
func (r *RedisSource[T]) Close() error {
	if !r.owned {
		return nil
	}
	return r.rdb.Close()
}

func (r *RedisSource[T]) subscribe(ctx context.Context) (link, error) {
	sub := r.rdb.Subscribe(ctx, r.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return &redisLink{sub: sub}, nil
}

type redisLink struct {
	sub *goredis.PubSub
}

func (l *redisLink) read(ctx context.Context, handle func(raw []byte) bool) error {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = l.sub.Close()
		case <-stop:
		}
	}()

	for {
		msg, err := l.sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !handle([]byte(msg.Payload)) {
			return ctx.Err()
		}
	}
}

func (l *redisLink) close() {
	_ = l.sub.Close()
}
