package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a JSON string under prefix+userID.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore creates a store. A zero ttl keeps sessions forever.
func NewRedisStore(log *slog.Logger, rdb goredis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: log.With(slog.String("store", "session_redis")),
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + "session:" + strings.TrimSpace(userID)
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return New(userID), nil
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess, ok := decode(raw, userID)
	if !ok {
		s.logger.Warn("corrupt session data, using default", slog.String("user_id", userID))
		return New(userID), nil
	}
	return sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess Session) error {
	sess.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(sess.UserID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker serializes turns across processes with SET NX PX locks. A held
// lock is extended every ttl/3 until released, so a slow turn keeps it.
type RedisLocker struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

func NewRedisLocker(log *slog.Logger, rdb goredis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		logger: log.With(slog.String("service", "session_lock")),
	}
}

// Lock polls until the lock is acquired or ctx is done. The lock only expires
// on its own when the holder stops extending it, e.g. after a crash.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, l.rdb, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
				l.logger.Warn("release lock failed", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, nil
}

func (l *RedisLocker) refreshInterval() time.Duration {
	return max(l.ttl/3, 10*time.Millisecond)
}

// keepAlive extends the lock until stop is closed or the lock is lost.
func (l *RedisLocker) keepAlive(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.refreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.refreshInterval())
		extended, err := extendScript.Run(ctx, l.rdb, []string{lockKey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.logger.Warn("extend lock failed", slog.String("key", lockKey), slog.Any("error", err))
			continue
		}
		if extended == 0 {
			l.logger.Warn("lock lost before release", slog.String("key", lockKey))
			return
		}
	}
}
