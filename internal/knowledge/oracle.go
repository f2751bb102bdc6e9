package knowledge

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"screenscout/internal/classify"
	"screenscout/internal/ui"
)

// Fact predicates emitted by the oracle.
const (
	PredScreenVisit   = "screen_visit"
	PredActionAttempt = "action_attempt"
	PredFeedback      = "action_feedback"
	PredUserTakeover  = "user_takeover"
	PredSessionReward = "session_reward"
	// PredLikelyDeadEnd is derived by rules, not asserted directly.
	PredLikelyDeadEnd = "likely_dead_end"
)

// Oracle is the action scorer and feedback sink backed by the fact engine.
// It satisfies the explore package's Scorer and FeedbackSink contracts.
type Oracle struct {
	engine *Engine
	log    *zap.Logger

	mu        sync.Mutex
	feedback  map[string]int // screenID|actionKey -> cumulative signed feedback
	navVisits map[string]int // actionKey -> times an equivalent target was taken
}

func NewOracle(engine *Engine, log *zap.Logger) *Oracle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Oracle{
		engine:    engine,
		log:       log.With(zap.String("component", "oracle")),
		feedback:  make(map[string]int),
		navVisits: make(map[string]int),
	}
}

func feedbackKey(screenID, actionKey string) string {
	return screenID + "|" + actionKey
}

// RecordScreenVisit asserts a screen_visit fact.
func (o *Oracle) RecordScreenVisit(ctx context.Context, screenID, activity string, visit int) {
	o.emit(ctx, Fact{
		Predicate: PredScreenVisit,
		Args:      []interface{}{screenID, activity, visit},
		Timestamp: time.Now(),
	})
}

// RecordActionAttempt asserts an action_attempt fact and counts the
// navigation-target visit for equivalence penalties.
func (o *Oracle) RecordActionAttempt(ctx context.Context, screenID, actionKey string, success bool) {
	o.mu.Lock()
	o.navVisits[actionKey]++
	o.mu.Unlock()

	o.emit(ctx, Fact{
		Predicate: PredActionAttempt,
		Args:      []interface{}{screenID, actionKey, success},
		Timestamp: time.Now(),
	})
}

// RecordTakeover asserts a user_takeover fact.
func (o *Oracle) RecordTakeover(ctx context.Context, screenID string) {
	o.emit(ctx, Fact{
		Predicate: PredUserTakeover,
		Args:      []interface{}{screenID},
		Timestamp: time.Now(),
	})
}

// SessionReward records end-of-session reward for the whole trajectory.
func (o *Oracle) SessionReward(ctx context.Context, sessionID string, reward int) {
	o.emit(ctx, Fact{
		Predicate: PredSessionReward,
		Args:      []interface{}{sessionID, reward},
		Timestamp: time.Now(),
	})
}

// PositiveFeedback records a +1 imitation signal from a user demonstration.
func (o *Oracle) PositiveFeedback(screenID, actionKey string) {
	o.applyFeedback(screenID, actionKey, 1)
}

// NegativeFeedback records a -1 veto signal.
func (o *Oracle) NegativeFeedback(screenID, actionKey string) {
	o.applyFeedback(screenID, actionKey, -1)
}

func (o *Oracle) applyFeedback(screenID, actionKey string, delta int) {
	o.mu.Lock()
	o.feedback[feedbackKey(screenID, actionKey)] += delta
	o.mu.Unlock()

	o.log.Info("learning signal",
		zap.String("screen", screenID),
		zap.String("action", actionKey),
		zap.Int("delta", delta))

	o.emit(context.Background(), Fact{
		Predicate: PredFeedback,
		Args:      []interface{}{screenID, actionKey, delta},
		Timestamp: time.Now(),
	})
}

// ShouldSkip reports whether the action is a known dead end: explicit
// negative feedback outweighing positives, or a rule-derived dead end.
func (o *Oracle) ShouldSkip(screenID, actionKey string) bool {
	o.mu.Lock()
	score := o.feedback[feedbackKey(screenID, actionKey)]
	o.mu.Unlock()
	if score < 0 {
		return true
	}

	if o.engine != nil && o.engine.Ready() {
		derived, err := o.engine.Derived(context.Background(), PredLikelyDeadEnd)
		if err == nil {
			for _, f := range derived {
				if len(f.Args) >= 2 && f.Args[0] == screenID && f.Args[1] == actionKey {
					return true
				}
			}
		}
	}
	return false
}

// ScoreAction is the adaptive priority heuristic: element-kind baseline,
// reading position, accumulated feedback, and a penalty for navigation
// targets already taken elsewhere.
func (o *Oracle) ScoreAction(screen *ui.Screen, e ui.Element) int {
	score := 500

	class := strings.ToLower(e.ClassName)
	switch {
	case strings.Contains(class, "button"):
		score += 100
	case strings.Contains(class, "a "), strings.HasPrefix(class, "a"):
		score += 60
	}
	if classify.IsNavigationHint(e, 0, 0) {
		score += 80
	}

	// Earlier reading positions score higher, mirroring systematic order.
	score -= e.Bounds.CenterY() / 20

	key := e.ActionKey()
	o.mu.Lock()
	score += 50 * o.feedback[feedbackKey(screen.ID, key)]
	visits := o.navVisits[key]
	o.mu.Unlock()

	// Equivalent targets already visited elsewhere are worth less.
	penalty := 60 * visits
	if penalty > 300 {
		penalty = 300
	}
	score -= penalty

	if score < 1 {
		score = 1
	}
	return score
}

// Reset clears per-session oracle state. Engine facts persist; they are the
// session's audit trail of learning inputs.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feedback = make(map[string]int)
	o.navVisits = make(map[string]int)
}

func (o *Oracle) emit(ctx context.Context, f Fact) {
	if o.engine == nil {
		return
	}
	if err := o.engine.AddFacts(ctx, []Fact{f}); err != nil {
		o.log.Warn("fact emission failed", zap.String("predicate", f.Predicate), zap.Error(err))
	}
}
