// Package scheduler fires the scrape and send cycles at configured UTC times of day.
//
// Each cycle is a small state machine:
//
//	IDLE ──slot due──► FIRING ──action done──► COOLDOWN ──dead time over──► IDLE
//
// A slot fires at most once per UTC day, whether its action succeeds or not.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobbot/internal/logger"
)

const DefaultCooldown = 60 * time.Second

// State is the state of a Cycle.
type State int

const (
	Idle State = iota
	Firing
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Firing:
		return "firing"
	case Cooldown:
		return "cooldown"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Action is the work a cycle performs when a slot fires.
type Action func(ctx context.Context) error

// Cycle drives one action over its daily slots.
type Cycle struct {
	name     string
	slots    []Slot
	action   Action
	ledger   Ledger
	cooldown time.Duration
	logger   *zap.Logger

	// mu is held for the whole of Poll, so a firing completes before the next poll looks at the state.
	mu            sync.Mutex
	state         State
	cooldownUntil time.Time
}

// NewCycle creates a cycle. Slots must be sorted; use ParseSlots.
func NewCycle(name string, slots []Slot, action Action, ledger Ledger, cooldown time.Duration, log *zap.Logger) *Cycle {
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Cycle{
		name:     name,
		slots:    slots,
		action:   action,
		ledger:   ledger,
		cooldown: cooldown,
		logger:   logger.WithFields(log, zap.String(logger.FieldCycle, name)),
	}
}

func (c *Cycle) Name() string { return c.name }

func (c *Cycle) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Poll advances the state machine to now and reports whether a slot fired.
// When several slots are due and unfired, only the latest runs; earlier
// ones are recorded as missed so a late start does not replay the day.
// A ledger failure after the latest slot was claimed stops the scan but the
// claimed slot still fires. The returned error is the ledger's or the action's.
func (c *Cycle) Poll(ctx context.Context, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now = now.UTC()

	if c.state == Cooldown {
		if now.Before(c.cooldownUntil) {
			return false, nil
		}
		c.state = Idle
	}

	day := Day(now)
	var due *Slot
	for i := len(c.slots) - 1; i >= 0; i-- {
		slot := c.slots[i]
		if now.Before(slot.On(now)) {
			continue
		}

		claimed, err := c.ledger.Claim(ctx, c.name, slot, day)
		if err != nil {
			c.logger.Error("slot ledger unavailable", zap.String("slot", slot.String()), zap.Error(err))
			if due == nil {
				return false, err
			}
			// the latest slot is already claimed and must still run
			break
		}
		if !claimed {
			// everything earlier was settled when this slot was claimed
			break
		}
		if due != nil {
			c.logger.Info("skipping missed slot", zap.String("slot", slot.String()))
			continue
		}
		due = &slot
	}

	if due == nil {
		return false, nil
	}

	return true, c.fire(ctx, *due, now)
}

func (c *Cycle) fire(ctx context.Context, slot Slot, now time.Time) error {
	c.state = Firing
	log := c.logger.With(zap.String("run_id", uuid.NewString()), zap.String("slot", slot.String()))
	log.Info("cycle started")

	started := time.Now()
	err := c.action(ctx)
	elapsed := time.Since(started)

	if err != nil {
		log.Error("cycle failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		log.Info("cycle finished", zap.Duration("elapsed", elapsed))
	}

	c.state = Cooldown
	c.cooldownUntil = now.Add(elapsed + c.cooldown)

	return err
}
