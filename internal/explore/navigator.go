package explore

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"screenscout/internal/config"
)

// NavKind discriminates the navigation decision variants. Consumers must
// switch over every kind.
type NavKind string

const (
	NavExploreScreen  NavKind = "explore_screen"
	NavStayOnScreen   NavKind = "stay_on_screen"
	NavBacktrackTo    NavKind = "backtrack_to"
	NavBacktrackSteps NavKind = "backtrack_steps"
	NavDeadEnd        NavKind = "dead_end"
)

// NavigationDecision tells the control loop what to do next.
type NavigationDecision struct {
	Kind           NavKind `json:"kind"`
	TargetScreenID string  `json:"target_screen_id,omitempty"` // BacktrackTo
	Steps          int     `json:"steps,omitempty"`            // BacktrackTo and BacktrackSteps
	Reason         string  `json:"reason,omitempty"`
}

// StackEntry records one level of navigation history.
type StackEntry struct {
	ScreenID     string    `json:"screen_id"`
	App          string    `json:"app"`
	EnteredAt    time.Time `json:"entered_at"`
	ElementCount int       `json:"element_count"`
	Unexplored   int       `json:"unexplored"`
}

// Navigator maintains the visited-screen stack and visit counters and decides
// whether to continue exploring, backtrack, or declare a dead end. The stack
// is bounded; oldest entries are evicted, which is expected for deep app
// trees rather than an error.
type Navigator struct {
	cfg config.ExplorerConfig
	log *zap.Logger

	mu       sync.Mutex
	stack    []StackEntry
	visits   map[string]int
	deadEnds map[string]bool
}

func NewNavigator(cfg config.ExplorerConfig, log *zap.Logger) *Navigator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Navigator{
		cfg:      cfg,
		log:      log.With(zap.String("component", "navigator")),
		visits:   make(map[string]int),
		deadEnds: make(map[string]bool),
	}
}

// EnterScreen records arrival on a screen and returns whether this is its
// first visit. The stack never holds two adjacent duplicate entries; arriving
// on the current screen again only refreshes the top entry.
func (n *Navigator) EnterScreen(screenID, app string, elementCount, unexplored int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.visits[screenID]++
	first := n.visits[screenID] == 1

	if top := len(n.stack) - 1; top >= 0 && n.stack[top].ScreenID == screenID {
		n.stack[top].EnteredAt = time.Now()
		n.stack[top].ElementCount = elementCount
		n.stack[top].Unexplored = unexplored
		return first
	}

	n.stack = append(n.stack, StackEntry{
		ScreenID:     screenID,
		App:          app,
		EnteredAt:    time.Now(),
		ElementCount: elementCount,
		Unexplored:   unexplored,
	})
	if len(n.stack) > n.cfg.MaxStackDepth {
		drop := len(n.stack) - n.cfg.MaxStackDepth
		n.stack = append([]StackEntry(nil), n.stack[drop:]...)
	}

	n.log.Debug("entered screen",
		zap.String("screen", screenID),
		zap.Int("visit", n.visits[screenID]),
		zap.Int("depth", len(n.stack)))
	return first
}

// UpdateUnexplored refreshes the unexplored count for a screen's most recent
// stack entry, keeping backtrack candidate selection current.
func (n *Navigator) UpdateUnexplored(screenID string, unexplored int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.stack) - 1; i >= 0; i-- {
		if n.stack[i].ScreenID == screenID {
			n.stack[i].Unexplored = unexplored
			return
		}
	}
}

// DecideNavigation evaluates the current screen state and produces the next
// navigation decision.
func (n *Navigator) DecideNavigation(currentScreenID string, hasUnexplored, isStuck bool) NavigationDecision {
	n.mu.Lock()
	defer n.mu.Unlock()

	if isStuck {
		return n.backtrack("stuck state")
	}

	overVisited := n.visits[currentScreenID] >= n.cfg.MaxVisitsPerScreen

	if hasUnexplored && !overVisited {
		return NavigationDecision{Kind: NavStayOnScreen}
	}

	if overVisited {
		n.deadEnds[currentScreenID] = true
		return n.backtrack("overvisited")
	}

	// No unexplored elements remain.
	n.deadEnds[currentScreenID] = true
	return n.backtrack("exhausted elements")
}

// backtrack selects the target screen. Candidates are stack entries below the
// top that are neither dead ends nor over-visited; the most recent candidate
// with unexplored elements wins, falling back to the most recent candidate
// overall. When a screen appears more than once (non-adjacent duplicates are
// legal), the most recent occurrence determines the step count.
//
// Callers must hold n.mu.
func (n *Navigator) backtrack(reason string) NavigationDecision {
	best := -1
	bestUnexplored := -1
	for i := len(n.stack) - 2; i >= 0; i-- {
		e := n.stack[i]
		if n.deadEnds[e.ScreenID] || n.visits[e.ScreenID] >= n.cfg.MaxVisitsPerScreen {
			continue
		}
		if e.Unexplored > 0 && bestUnexplored < 0 {
			bestUnexplored = i
		}
		if best < 0 {
			best = i
		}
		if bestUnexplored >= 0 {
			break
		}
	}
	if bestUnexplored >= 0 {
		best = bestUnexplored
	}

	if best < 0 {
		// Exploration has run out of useful history. A legitimate terminal
		// condition, not a failure.
		n.log.Info("no backtrack candidates remain", zap.String("reason", reason))
		return NavigationDecision{Kind: NavDeadEnd, Reason: reason}
	}

	steps := len(n.stack) - 1 - best
	target := n.stack[best].ScreenID
	n.log.Debug("backtracking",
		zap.String("target", target),
		zap.Int("steps", steps),
		zap.String("reason", reason))

	if steps == 1 {
		return NavigationDecision{Kind: NavBacktrackTo, TargetScreenID: target, Steps: 1, Reason: reason}
	}
	return NavigationDecision{Kind: NavBacktrackSteps, TargetScreenID: target, Steps: steps, Reason: reason}
}

// PopSteps removes up to n entries from the top of the stack, never emptying
// it completely, and returns the new current entry.
func (n *Navigator) PopSteps(steps int) (StackEntry, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for steps > 0 && len(n.stack) > 1 {
		n.stack = n.stack[:len(n.stack)-1]
		steps--
	}
	if len(n.stack) == 0 {
		return StackEntry{}, false
	}
	return n.stack[len(n.stack)-1], true
}

// Current returns the top of the stack.
func (n *Navigator) Current() (StackEntry, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.stack) == 0 {
		return StackEntry{}, false
	}
	return n.stack[len(n.stack)-1], true
}

// MarkDeadEnd marks a screen as offering no further productive exploration.
// Monotonic within a session; only Reset clears it.
func (n *Navigator) MarkDeadEnd(screenID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deadEnds[screenID] = true
}

// IsDeadEnd reports whether the screen has been marked a dead end.
func (n *Navigator) IsDeadEnd(screenID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deadEnds[screenID]
}

// VisitCount returns how often the screen has been entered this session.
func (n *Navigator) VisitCount(screenID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visits[screenID]
}

// Depth returns the current stack depth.
func (n *Navigator) Depth() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.stack)
}

// Snapshot returns a copy of the navigation stack for inspection.
func (n *Navigator) Snapshot() []StackEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]StackEntry, len(n.stack))
	copy(out, n.stack)
	return out
}

// Reset clears all navigation state for a new session.
func (n *Navigator) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stack = nil
	n.visits = make(map[string]int)
	n.deadEnds = make(map[string]bool)
}
