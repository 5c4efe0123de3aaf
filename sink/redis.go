package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cyberinferno/linesink/record"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisSink.
type RedisOptions struct {
	// Key is the Redis list records are appended to.
	Key string
	// Batch is the number of records buffered before an automatic push.
	// Values below 1 mean 1.
	Batch int
	// Timeout bounds each push; 0 means 5s.
	Timeout time.Duration
	// FlushInterval pushes a partly filled batch after this long so that
	// records do not wait indefinitely on a quiet stream. 0 means 1s and a
	// negative value disables the timer. Unused when Batch is 1.
	FlushInterval time.Duration
	// Format renders each list element.
	Format Format
}

// RedisSink forwards records to a Redis list with RPUSH. Records are
// buffered and pushed in one command per batch, on Flush, or when the flush
// interval elapses.
type RedisSink struct {
	client     *redis.Client
	ownsClient bool
	opts       RedisOptions

	mu       sync.Mutex
	pending  []any
	timerErr error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisSink creates a sink on an existing client. The client is not
// closed by Close.
func NewRedisSink(client *redis.Client, opts RedisOptions) *RedisSink {
	if opts.Batch < 1 {
		opts.Batch = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Key == "" {
		opts.Key = "linesink"
	}
	if opts.FlushInterval == 0 {
		opts.FlushInterval = time.Second
	}

	s := &RedisSink{
		client:  client,
		opts:    opts,
		pending: make([]any, 0, opts.Batch),
	}
	if opts.Batch > 1 && opts.FlushInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.flushLoop()
	}

	return s
}

// DialRedisSink connects to addr, verifies it with PING and returns a sink
// that owns the client.
//
// Parameters:
//   - ctx: Context for the initial PING
//   - addr: Redis "host:port"
//   - opts: Sink options
//
// Returns:
//   - The sink, or an error if Redis is unreachable
func DialRedisSink(ctx context.Context, addr string, opts RedisOptions) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	s := NewRedisSink(client, opts)
	s.ownsClient = true
	return s, nil
}

// Write buffers rec and pushes once a full batch is pending.
func (s *RedisSink) Write(rec record.Record) error {
	line, err := Render(rec, s.opts.Format)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, string(line))
	if len(s.pending) >= s.opts.Batch {
		return s.push()
	}

	return nil
}

// Flush pushes any buffered records. It also reports a failed timed push
// that happened since the last Flush.
func (s *RedisSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.push()
	if s.timerErr != nil {
		if err == nil {
			err = s.timerErr
		}
		s.timerErr = nil
	}

	return err
}

// Close stops the flush timer, flushes and, for sinks created by
// DialRedisSink, closes the client.
func (s *RedisSink) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
			<-s.done
		}
	})

	err := s.Flush()
	if s.ownsClient {
		if cerr := s.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// Name identifies the sink by its list key.
func (s *RedisSink) Name() string {
	return "redis:" + s.opts.Key
}

func (s *RedisSink) flushLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if err := s.push(); err != nil && s.timerErr == nil {
				s.timerErr = err
			}
			s.mu.Unlock()
		}
	}
}

// push sends pending records. A failed batch is dropped so that an
// unreachable Redis cannot grow memory without bound. The caller holds mu.
func (s *RedisSink) push() error {
	if len(s.pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	n := len(s.pending)
	err := s.client.RPush(ctx, s.opts.Key, s.pending...).Err()
	s.pending = s.pending[:0]
	if err != nil {
		return fmt.Errorf("redis rpush %d records to %s: %w", n, s.opts.Key, err)
	}

	return nil
}
