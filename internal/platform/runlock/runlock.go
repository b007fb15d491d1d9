// Package runlock provides a Redis lease that keeps annotation runs from
// overlapping across processes.
package runlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

const (
	renewScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`
)

// leaseStore is the slice of the Redis API the lock uses.
type leaseStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type Lock struct {
	log   *logger.Logger
	rdb   leaseStore
	close func() error
	key   string
	ttl   time.Duration
}

// Dial connects to addr and verifies the connection with a ping.
func Dial(ctx context.Context, log *logger.Logger, addr, key string, ttl time.Duration) (*Lock, *redis.Client, error) {
	if log == nil {
		return nil, nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	l := New(log, rdb, key, ttl)
	l.close = rdb.Close
	return l, rdb, nil
}

// New wraps an existing client. Close leaves it open.
func New(log *logger.Logger, rdb redis.UniversalClient, key string, ttl time.Duration) *Lock {
	return newLock(log, rdb, key, ttl)
}

func newLock(log *logger.Logger, rdb leaseStore, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lock{
		log: log.With("service", "runlock", "key", key),
		rdb: rdb,
		key: key,
		ttl: ttl,
	}
}

// Do runs fn while holding the lease. It returns domain.ErrRunInProgress
// without calling fn when another holder owns the key. The lease is renewed
// every ttl/3; if renewal finds the lease gone, fn's context is canceled.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	token, err := newToken()
	if err != nil {
		return err
	}
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		l.log.Info("Run lock held elsewhere; skipping")
		return domain.ErrRunInProgress
	}
	l.log.Debug("Run lock acquired", "ttl", l.ttl.String())

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		l.renew(runCtx, token, cancel)
	}()

	fnErr := fn(runCtx)

	cancel(nil)
	<-stopped
	releaseCtx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer rcancel()
	if err := l.rdb.Eval(releaseCtx, releaseScript, []string{l.key}, token).Err(); err != nil {
		l.log.Warn("Run lock release failed; it will expire", "error", err)
	}
	return fnErr
}

func (l *Lock) renew(ctx context.Context, token string, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.rdb.Eval(ctx, renewScript, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.log.Warn("Run lock renewal failed", "error", err)
				continue
			}
			if n == 0 {
				l.log.Error("Run lock lost; stopping run")
				cancel(fmt.Errorf("run lock %q lost", l.key))
				return
			}
		}
	}
}

func (l *Lock) Close() error {
	if l == nil || l.close == nil {
		return nil
	}
	return l.close()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), hex.EncodeToString(b)), nil
}
