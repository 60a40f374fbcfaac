package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Slot is a UTC time of day at which a cycle fires.
type Slot struct {
	Hour   int
	Minute int
}

// ParseSlot parses "HH:MM" (24h).
func ParseSlot(s string) (Slot, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Slot{}, fmt.Errorf("invalid slot %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return Slot{}, fmt.Errorf("invalid slot %q: bad hour", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 || len(m) != 2 {
		return Slot{}, fmt.Errorf("invalid slot %q: bad minute", s)
	}
	return Slot{Hour: hour, Minute: minute}, nil
}

// ParseSlots parses, sorts and de-duplicates slots.
func ParseSlots(values []string) ([]Slot, error) {
	slots := make([]Slot, 0, len(values))
	for _, v := range values {
		slot, err := ParseSlot(v)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}

	slices.SortFunc(slots, func(a, b Slot) int { return a.minutes() - b.minutes() })
	return slices.Compact(slots), nil
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// On returns the slot's instant on the UTC day of t.
func (s Slot) On(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
}

func (s Slot) minutes() int { return s.Hour*60 + s.Minute }

// Day is the UTC calendar day key used by ledgers.
func Day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
