package explore

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"screenscout/internal/config"
)

// RecoveryKind discriminates the corrective action variants.
type RecoveryKind string

const (
	RecoverRandomScroll    RecoveryKind = "random_scroll"
	RecoverPressBack       RecoveryKind = "press_back"
	RecoverRandomTap       RecoveryKind = "random_tap"
	RecoverScrollToEdge    RecoveryKind = "scroll_to_edge"
	RecoverRestartApp      RecoveryKind = "restart_app"
	RecoverRequestUserHelp RecoveryKind = "request_user_help"
)

// strategyOrder is the escalation ladder, gentlest first.
var strategyOrder = []RecoveryKind{
	RecoverRandomScroll,
	RecoverPressBack,
	RecoverRandomTap,
	RecoverScrollToEdge,
	RecoverRestartApp,
	RecoverRequestUserHelp,
}

// RecoveryAction is a concrete corrective step. Fields are populated per
// kind: swipe coordinates for scroll kinds, tap coordinates for random taps,
// the package for restarts, and a human-readable message for help requests.
type RecoveryAction struct {
	Kind    RecoveryKind `json:"kind"`
	FromX   int          `json:"from_x,omitempty"`
	FromY   int          `json:"from_y,omitempty"`
	ToX     int          `json:"to_x,omitempty"`
	ToY     int          `json:"to_y,omitempty"`
	TapX    int          `json:"tap_x,omitempty"`
	TapY    int          `json:"tap_y,omitempty"`
	Package string       `json:"package,omitempty"`
	Message string       `json:"message,omitempty"`
}

// StrategyStats tracks cumulative per-strategy outcomes for a session.
type StrategyStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// Escalator produces corrective actions when the loop is stuck, escalating
// through strategies after repeated failures. The strategy index is
// monotonically non-decreasing within a stuck episode and resets only on a
// reported success or an explicit reset.
type Escalator struct {
	cfg config.ExplorerConfig
	geo Geometry
	log *zap.Logger
	rng *rand.Rand

	mu       sync.Mutex
	index    int
	attempts int
	stats    map[RecoveryKind]*StrategyStats
}

func NewEscalator(cfg config.ExplorerConfig, geo Geometry, log *zap.Logger) *Escalator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Escalator{
		cfg:   cfg,
		geo:   geo,
		log:   log.With(zap.String("component", "recovery")),
		rng:   rand.New(rand.NewSource(rand.Int63())),
		stats: make(map[RecoveryKind]*StrategyStats),
	}
}

// NextAction returns the corrective action for the current strategy and
// counts the attempt.
func (e *Escalator) NextAction(currentPackage string) RecoveryAction {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := strategyOrder[e.index]
	e.attempts++
	e.stat(kind).Attempts++

	e.log.Info("recovery attempt",
		zap.String("strategy", string(kind)),
		zap.Int("attempt", e.attempts))

	return e.buildAction(kind, currentPackage)
}

func (e *Escalator) buildAction(kind RecoveryKind, currentPackage string) RecoveryAction {
	w, h := e.geo.ScreenWidth, e.geo.ScreenHeight
	cx, cy := w/2, h/2

	switch kind {
	case RecoverRandomScroll:
		dist := h / 4
		vectors := [4][4]int{
			{cx, cy, cx, cy - dist}, // up
			{cx, cy, cx, cy + dist}, // down
			{cx, cy, cx - w/4, cy},  // left
			{cx, cy, cx + w/4, cy},  // right
		}
		v := vectors[e.rng.Intn(len(vectors))]
		return RecoveryAction{Kind: kind, FromX: v[0], FromY: v[1], ToX: v[2], ToY: v[3]}

	case RecoverPressBack:
		return RecoveryAction{Kind: kind}

	case RecoverRandomTap:
		// Central 50% of the screen keeps random taps away from edge gestures.
		x := w/4 + e.rng.Intn(w/2)
		y := h/4 + e.rng.Intn(h/2)
		return RecoveryAction{Kind: kind, TapX: x, TapY: y}

	case RecoverScrollToEdge:
		if e.rng.Intn(2) == 0 {
			return RecoveryAction{Kind: kind, FromX: cx, FromY: h / 5, ToX: cx, ToY: h - h/10}
		}
		return RecoveryAction{Kind: kind, FromX: cx, FromY: h - h/5, ToX: cx, ToY: h / 10}

	case RecoverRestartApp:
		return RecoveryAction{Kind: kind, Package: currentPackage}

	default: // RecoverRequestUserHelp
		return RecoveryAction{
			Kind:    kind,
			Message: "exploration is stuck and automated recovery is exhausted; manual intervention required",
		}
	}
}

// ReportResult records the outcome of the most recent recovery attempt. A
// success fully resets escalation so the next stuck episode starts from the
// gentlest strategy; failures escalate once the per-strategy attempt cap is
// reached. RequestUserHelp never auto-escalates further.
func (e *Escalator) ReportResult(success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := strategyOrder[e.index]
	if success {
		e.stat(kind).Successes++
		e.index = 0
		e.attempts = 0
		e.log.Info("recovery succeeded", zap.String("strategy", string(kind)))
		return
	}

	if e.attempts >= e.cfg.AttemptsPerStrategy && e.index < len(strategyOrder)-1 {
		e.index++
		e.attempts = 0
		e.log.Info("escalating recovery",
			zap.String("next_strategy", string(strategyOrder[e.index])))
	}
}

// IsExhausted is true only at the final strategy with its attempt cap reached.
func (e *Escalator) IsExhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index == len(strategyOrder)-1 && e.attempts >= e.cfg.AttemptsPerStrategy
}

// CurrentStrategy returns the active strategy kind.
func (e *Escalator) CurrentStrategy() RecoveryKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strategyOrder[e.index]
}

// RecommendedStrategy returns the strategy with the highest success rate
// among those with at least 3 recorded attempts. Strategies with less data
// are ignored to avoid noise-driven recommendations.
func (e *Escalator) RecommendedStrategy() (RecoveryKind, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var best RecoveryKind
	bestRate := -1.0
	for _, kind := range strategyOrder {
		s, ok := e.stats[kind]
		if !ok || s.Attempts < 3 {
			continue
		}
		rate := float64(s.Successes) / float64(s.Attempts)
		if rate > bestRate {
			bestRate = rate
			best = kind
		}
	}
	return best, bestRate >= 0
}

// Stats returns a copy of the cumulative per-strategy counters.
func (e *Escalator) Stats() map[RecoveryKind]StrategyStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[RecoveryKind]StrategyStats, len(e.stats))
	for k, v := range e.stats {
		out[k] = *v
	}
	return out
}

// Reset clears all escalation state and statistics for a new session.
func (e *Escalator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index = 0
	e.attempts = 0
	e.stats = make(map[RecoveryKind]*StrategyStats)
}

func (e *Escalator) stat(kind RecoveryKind) *StrategyStats {
	s, ok := e.stats[kind]
	if !ok {
		s = &StrategyStats{}
		e.stats[kind] = s
	}
	return s
}
