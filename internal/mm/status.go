package mm

import (
	"time"
)

type statusSlot struct {
	msg    string
	lastAt time.Time
}

// statusTracker dedups repeated per-slot status lines so a trader that skips
// an order for the same reason every tick does not flood the log. A changed
// message logs immediately; an unchanged one re-logs after minInterval.
type statusTracker struct {
	prefix      string
	minInterval time.Duration
	slots       map[string]statusSlot
	logf        func(format string, args ...any)
}

func newStatusTracker(prefix string, minInterval time.Duration, logf func(string, ...any)) statusTracker {
	if minInterval < 0 {
		minInterval = 0
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return statusTracker{
		prefix:      prefix,
		minInterval: minInterval,
		slots:       make(map[string]statusSlot),
		logf:        logf,
	}
}

func (s *statusTracker) Set(slot, msg string) {
	if s == nil || slot == "" || msg == "" {
		return
	}
	if s.slots == nil {
		s.slots = make(map[string]statusSlot)
	}
	now := time.Now()
	prev := s.slots[slot]
	if prev.msg == msg && !prev.lastAt.IsZero() && now.Sub(prev.lastAt) < s.minInterval {
		return
	}
	s.slots[slot] = statusSlot{msg: msg, lastAt: now}
	s.logf("%s status %s=%s", s.prefix, slot, msg)
}
