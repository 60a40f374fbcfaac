package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers which slots fired on which UTC day.
type Ledger interface {
	// Claim marks (cycle, slot, day) as fired and reports whether this call
	// was the first to do so.
	Claim(ctx context.Context, cycle string, slot Slot, day string) (bool, error)
}

// MemoryLedger is a process-local Ledger. Only the current and the previous
// day are retained.
type MemoryLedger struct {
	mu    sync.Mutex
	fired map[string]map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{fired: make(map[string]map[string]struct{})}
}

func (l *MemoryLedger) Claim(_ context.Context, cycle string, slot Slot, day string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, ok := l.fired[day]
	if !ok {
		keys = make(map[string]struct{})
		l.fired[day] = keys
		for d := range l.fired {
			if d < previousDay(day) {
				delete(l.fired, d)
			}
		}
	}

	key := cycle + "/" + slot.String()
	if _, done := keys[key]; done {
		return false, nil
	}
	keys[key] = struct{}{}
	return true, nil
}

func previousDay(day string) string {
	t, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return day
	}
	return Day(t.AddDate(0, 0, -1))
}

const redisLedgerTTL = 48 * time.Hour

// RedisLedger shares firings between processes with SETNX, so a slot fires
// once per day across every scheduler using the same Redis.
type RedisLedger struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisLedger(rdb redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "jobbot"
	}
	return &RedisLedger{rdb: rdb, prefix: prefix}
}

func (l *RedisLedger) Claim(ctx context.Context, cycle string, slot Slot, day string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key(cycle, slot, day), time.Now().UTC().Format(time.RFC3339), redisLedgerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) key(cycle string, slot Slot, day string) string {
	return fmt.Sprintf("%s:slot:%s:%s:%s", l.prefix, cycle, day, slot)
}
