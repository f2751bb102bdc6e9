package explore

import (
	"sync"
	"time"
)

// Session lifecycle states surfaced through progress snapshots.
const (
	StateIdle       = "idle"
	StateExploring  = "exploring"
	StateYielded    = "yielded"
	StateRecovering = "recovering"
	StateDeadEnd    = "dead_end"
	StateNeedsHuman = "needs_human"
	StateStopped    = "stopped"
)

// Progress is a point-in-time snapshot of an exploration session.
type Progress struct {
	SessionID        string    `json:"session_id"`
	State            string    `json:"state"`
	App              string    `json:"app"`
	CurrentScreen    string    `json:"current_screen,omitempty"`
	ScreensVisited   int       `json:"screens_visited"`
	ActionsExecuted  int       `json:"actions_executed"`
	QueueDepth       int       `json:"queue_depth"`
	StackDepth       int       `json:"stack_depth"`
	RecoveryStrategy string    `json:"recovery_strategy,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProgressHolder is a latest-value-wins state cell: readers get the current
// value on demand, subscribers receive updates through a 1-buffered channel
// where intermediate values may be dropped.
type ProgressHolder struct {
	mu    sync.RWMutex
	value Progress
	subs  map[int]chan Progress
	next  int
}

func NewProgressHolder() *ProgressHolder {
	return &ProgressHolder{subs: make(map[int]chan Progress)}
}

// Get returns the current snapshot.
func (h *ProgressHolder) Get() Progress {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.value
}

// Set publishes a new snapshot. Slow subscribers only ever see the latest
// value; intermediates are replaced, never queued.
func (h *ProgressHolder) Set(p Progress) {
	p.UpdatedAt = time.Now()

	h.mu.Lock()
	h.value = p
	subs := make([]chan Progress, 0, len(h.subs))
	for _, ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p:
		default:
			// Replace the stale buffered value.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// Subscribe registers for updates. The returned cancel func must be called
// to release the subscription.
func (h *ProgressHolder) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 1)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	ch <- h.value
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return ch, cancel
}
