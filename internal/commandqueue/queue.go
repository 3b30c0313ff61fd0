package commandqueue

import (
	"sync"

	"evolverd/internal/config"
	"evolverd/internal/rigclock"
)

// Queue is a single FIFO of Command. Immediate commands jump to the
// front (LIFO relative to each other, but always ahead of whatever
// recurring work is already queued); recurring commands generated by
// DrainRecurring are appended to the back in configured parameter order.
type Queue struct {
	mu    sync.Mutex
	items []Command
	clock rigclock.Clock
}

// New returns an empty Queue using the real wall clock.
func New() *Queue {
	return &Queue{clock: rigclock.Real()}
}

// WithClock overrides the Queue's Clock, for deterministic tests.
func (q *Queue) WithClock(c rigclock.Clock) *Queue {
	q.clock = c
	return q
}

// PushImmediate enqueues cmd at the head of the queue and stamps its
// arrival time. A push while a broadcast cycle is mid-run is simply
// buffered here; C4 decides when to drain it.
func (q *Queue) PushImmediate(cmd Command) {
	cmd.ArrivedAt = q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Command{cmd}, q.items...)
}

// Len reports the number of commands currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DrainRecurring appends one Recurring command per parameter in the
// descriptor set selected by tag whose Recurring flag is set, preserving
// that set's configured order.
func (q *Queue) DrainRecurring(tag PhaseTag, cfg config.Config) {
	params := selectParamSet(tag, cfg)
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range params {
		if !p.Recurring {
			continue
		}
		q.items = append(q.items, Command{
			Param:     p.Name,
			Value:     append([]string(nil), p.Value...),
			Kind:      cfg.Serial.Recurring,
			Phase:     tag,
			ArrivedAt: now,
		})
	}
}

// PopAll removes and returns every command currently queued, in FIFO
// order (front to back), leaving the queue empty.
func (q *Queue) PopAll() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// selectParamSet returns the experiment-parameter descriptors governing
// tag: the PreReading/PostReading phases draw from their named broadcast
// tag override bundle, everything else (the DATA phase, and any
// immediate command with no phase) draws from the live parameter set.
func selectParamSet(tag PhaseTag, cfg config.Config) []config.ExperimentParameter {
	switch tag {
	case PreReading:
		return cfg.BroadcastTags["pre_reading"]
	case PostReading:
		return cfg.BroadcastTags["post_reading"]
	default:
		return cfg.ExperimentalParams
	}
}
