package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"polity/engine/internal/util"
)

const defaultRetryInterval = 50 * time.Millisecond

// releaseScript deletes the key only while it still holds our token, so a
// lease that outlived its TTL cannot free somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while the key still holds our
// token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every replica talking to the same Redis.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	retry  time.Duration
	renew  time.Duration
}

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedis creates a lock stored under key. ttl bounds how long a crashed
// holder can keep the lock; a live holder extends it every ttl/3.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		retry:  defaultRetryInterval,
		renew:  ttl / 3,
	}
}

func (r *Redis) TryAcquire(ctx context.Context, wait time.Duration) (Lease, bool, error) {
	token := util.NewID("lease")
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("acquire lock %s: %w", r.key, err)
		}
		if ok {
			lease := &redisLease{
				client: r.client,
				key:    r.key,
				token:  token,
				ttl:    r.ttl,
				stop:   make(chan struct{}),
				done:   make(chan struct{}),
			}
			go lease.keepAlive(r.renew)
			return lease, true, nil
		}
		if !time.Now().Add(r.retry).Before(deadline) {
			return nil, false, nil
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		}
	}
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error
}

// keepAlive extends the key until Release, or until the key is found to
// belong to someone else.
func (l *redisLease) keepAlive(every time.Duration) {
	defer close(l.done)
	if every <= 0 {
		<-l.stop
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			held, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				<-l.stop
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
			l.err = fmt.Errorf("release lock %s: %w", l.key, err)
		}
	})
	return l.err
}
