package runlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

// memStore mimics the SET NX and compare-and-act scripts against a map.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	renews int
}

func newMemStore() *memStore { return &memStore{values: map[string]string{}} }

func (m *memStore) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (m *memStore) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	if script == releaseScript {
		delete(m.values, keys[0])
	} else {
		m.renews++
	}
	return redis.NewCmdResult(int64(1), nil)
}

func (m *memStore) steal(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = "someone-else"
}

func TestDoRunsAndReleases(t *testing.T) {
	store := newMemStore()
	l := newLock(logger.Nop(), store, "annotator:run-lock", time.Minute)

	ran := false
	if err := l.Do(context.Background(), func(context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatalf("fn not called")
	}
	if _, held := store.values["annotator:run-lock"]; held {
		t.Fatalf("lock not released")
	}
}

func TestDoReportsContention(t *testing.T) {
	store := newMemStore()
	store.steal("k")
	l := newLock(logger.Nop(), store, "k", time.Minute)

	err := l.Do(context.Background(), func(context.Context) error {
		t.Fatalf("fn must not run while the lock is held elsewhere")
		return nil
	})
	if !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("Do: want ErrRunInProgress got=%v", err)
	}
	if store.values["k"] != "someone-else" {
		t.Fatalf("foreign lock must be left alone")
	}
}

func TestDoReturnsFnError(t *testing.T) {
	l := newLock(logger.Nop(), newMemStore(), "k", time.Minute)
	boom := errors.New("boom")
	if err := l.Do(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Do: want boom got=%v", err)
	}
}

func TestDoRenewsAndCancelsWhenLeaseLost(t *testing.T) {
	store := newMemStore()
	l := newLock(logger.Nop(), store, "k", 30*time.Millisecond)

	err := l.Do(context.Background(), func(ctx context.Context) error {
		time.Sleep(35 * time.Millisecond)
		store.steal("k")
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(2 * time.Second):
			return errors.New("context not canceled after lease loss")
		}
	})
	if err == nil || err.Error() != `run lock "k" lost` {
		t.Fatalf("Do: want lease-lost cause got=%v", err)
	}
	if store.renews == 0 {
		t.Fatalf("lease never renewed")
	}
}
