package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
)

// release deletes the key only if we still own it.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renew pushes the expiry out only if we still own the key.
var renew = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a per-key mutex shared by every replica. A holder keeps its key
// alive until unlock, so the TTL only bounds how long a crashed holder can
// block a customer.
type Locker struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	poll   time.Duration
	every  time.Duration
	log    zerolog.Logger
}

func NewLocker(rdb redis.Cmdable, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{
		rdb:    rdb,
		prefix: "chat:lock:customer:",
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		every:  ttl / 3,
		log:    logx.Component("redis_lock"),
	}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.watch(k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// the request context may be gone by now
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := release.Run(rctx, l.rdb, []string{k}, token).Err(); err != nil {
				l.log.Warn().Err(err).Str("lock", k).Msg("redis unlock failed, key expires with ttl")
			}
		})
	}, nil
}

// watch extends the key every l.every until stop closes or ownership is lost.
func (l *Locker) watch(k, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tk := time.NewTicker(l.every)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
		}
		rctx, cancel := context.WithTimeout(context.Background(), l.every)
		n, err := renew.Run(rctx, l.rdb, []string{k}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			// transient; the key is still valid for the rest of its ttl
			l.log.Warn().Err(err).Str("lock", k).Msg("redis lock renewal failed")
		case n == 0:
			l.log.Error().Str("lock", k).Msg("redis lock lost before unlock")
			return
		}
	}
}
