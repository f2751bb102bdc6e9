package explore

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"screenscout/internal/config"
	"screenscout/internal/ui"
)

// HitTestResult identifies the element a click most plausibly targeted.
type HitTestResult struct {
	Element    ui.Element `json:"element"`
	Confidence float64    `json:"confidence"`
	ActionKey  string     `json:"action_key"`
}

// UserAction is one recorded user demonstration.
type UserAction struct {
	Time       time.Time `json:"time"`
	ScreenID   string    `json:"screen_id"`
	ElementID  string    `json:"element_id"`
	ActionKey  string    `json:"action_key"`
	Confidence float64   `json:"confidence"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
}

// FeedbackSink receives signed learning signals from the arbiter.
type FeedbackSink interface {
	// PositiveFeedback records a user demonstration (+1 imitation).
	PositiveFeedback(screenID, actionKey string)
	// NegativeFeedback records a vetoed action (-1).
	NegativeFeedback(screenID, actionKey string)
}

// botTapClaim is a short-lived claim that a pending physical action belongs
// to the bot. At most one claim is in flight; new registrations replace it.
type botTapClaim struct {
	x, y       int
	elementID  string
	registered time.Time
	generation uint64
}

// pendingVeto holds the single outstanding action awaiting a veto decision.
type pendingVeto struct {
	item      WorkItem
	actionKey string
	cancelCh  chan struct{}
}

// Arbiter disambiguates bot-originated clicks from user clicks and
// coordinates the veto window and user takeover. It is the only component
// touched by both the control loop and the external click-event source; one
// critical section guards the pending-claim, pending-veto and yielding state.
type Arbiter struct {
	cfg  config.ExplorerConfig
	sink FeedbackSink
	log  *zap.Logger

	// now is injectable so boundary cases stay deterministic under test.
	now func() time.Time

	mu            sync.Mutex
	claim         *botTapClaim
	claimGen      uint64
	veto          *pendingVeto
	yielding      bool
	lastUserClick time.Time
	lastScreen    *ui.Screen
	history       []UserAction
}

func NewArbiter(cfg config.ExplorerConfig, sink FeedbackSink, log *zap.Logger) *Arbiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Arbiter{
		cfg:  cfg,
		sink: sink,
		log:  log.With(zap.String("component", "arbiter")),
		now:  time.Now,
	}
}

// SetScreen records the most recent capture for takeover hit-testing.
func (a *Arbiter) SetScreen(s *ui.Screen) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastScreen = s
}

// CurrentScreenID returns the ID of the most recent capture, or "" before the
// first one. Safe to call from any goroutine.
func (a *Arbiter) CurrentScreenID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastScreen == nil {
		return ""
	}
	return a.lastScreen.ID
}

// RegisterBotTap claims the next observed click near (x, y) as bot-originated.
// Only one claim is ever in flight; re-registration replaces the old claim.
func (a *Arbiter) RegisterBotTap(x, y int, elementID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claimGen++
	a.claim = &botTapClaim{
		x: x, y: y,
		elementID:  elementID,
		registered: a.now(),
		generation: a.claimGen,
	}
}

// ClearBotTap schedules removal of the pending claim after the matching
// window rather than clearing immediately: the click-event notification may
// arrive after the gesture call returns.
func (a *Arbiter) ClearBotTap() {
	a.mu.Lock()
	claim := a.claim
	a.mu.Unlock()
	if claim == nil {
		return
	}

	gen := claim.generation
	time.AfterFunc(a.cfg.BotTapWindowDuration(), func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.claim != nil && a.claim.generation == gen {
			a.claim = nil
		}
	})
}

// OnClickDetected classifies an observed click event. Returns true when the
// click is attributed to the user, false when it matches the pending bot-tap
// claim. A user click with a veto pending counts as an implicit veto; any
// other user click starts a takeover yield.
func (a *Arbiter) OnClickDetected(bounds ui.Bounds) bool {
	cx, cy := bounds.CenterX(), bounds.CenterY()
	now := a.now()

	a.mu.Lock()

	if a.claim != nil {
		elapsed := now.Sub(a.claim.registered)
		dist := distance(cx, cy, a.claim.x, a.claim.y)
		if elapsed < a.cfg.BotTapWindowDuration() && dist < float64(a.cfg.BotTapRadius) {
			// Bot-originated; the match consumes the claim.
			a.claim = nil
			a.mu.Unlock()
			return false
		}
	}

	// Implicit veto takes priority over takeover handling.
	if a.veto != nil {
		v := a.veto
		a.veto = nil
		a.mu.Unlock()
		a.log.Info("pending action vetoed by user click",
			zap.String("target", v.item.TargetID))
		close(v.cancelCh)
		return true
	}

	wasYielding := a.yielding
	a.yielding = true
	a.lastUserClick = now
	screen := a.lastScreen
	a.mu.Unlock()

	if !wasYielding {
		a.log.Info("user takeover detected, suspending exploration")
	}

	if screen != nil {
		hit := HitTest(screen, cx, cy)
		if hit.Confidence >= 0.5 {
			a.recordUserAction(UserAction{
				Time:       now,
				ScreenID:   screen.ID,
				ElementID:  hit.Element.ID,
				ActionKey:  hit.ActionKey,
				Confidence: hit.Confidence,
				X:          cx,
				Y:          cy,
			})
			if a.sink != nil {
				a.sink.PositiveFeedback(screen.ID, hit.ActionKey)
			}
		}
	}
	return true
}

// OfferVeto holds the intended action for the configured window, allowing an
// explicit or implicit cancel. Returns true when the action should execute.
// A veto emits a negative learning signal keyed by the screen and actionKey.
func (a *Arbiter) OfferVeto(ctx context.Context, item WorkItem, actionKey string) bool {
	window := a.cfg.VetoWindowDuration()
	if window <= 0 {
		return true
	}

	v := &pendingVeto{item: item, actionKey: actionKey, cancelCh: make(chan struct{})}
	a.mu.Lock()
	a.veto = v
	a.mu.Unlock()

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-v.cancelCh:
		if a.sink != nil {
			a.sink.NegativeFeedback(item.ScreenID, actionKey)
		}
		return false
	case <-timer.C:
		a.mu.Lock()
		if a.veto == v {
			a.veto = nil
		}
		a.mu.Unlock()
		return true
	case <-ctx.Done():
		a.mu.Lock()
		if a.veto == v {
			a.veto = nil
		}
		a.mu.Unlock()
		return false
	}
}

// Veto explicitly cancels the pending action, if any. Used by the operator
// surface.
func (a *Arbiter) Veto() bool {
	a.mu.Lock()
	v := a.veto
	a.veto = nil
	a.mu.Unlock()
	if v == nil {
		return false
	}
	close(v.cancelCh)
	return true
}

// HasPendingVeto reports whether an action is currently awaiting its window.
func (a *Arbiter) HasPendingVeto() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.veto != nil
}

// IsYielding reports whether a user currently controls the device.
func (a *Arbiter) IsYielding() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.yielding
}

// ResumeReady reports whether the inactivity window has elapsed since the
// last user click.
func (a *Arbiter) ResumeReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.yielding {
		return true
	}
	return a.now().Sub(a.lastUserClick) >= a.cfg.ResumeInactivityDuration()
}

// AwaitResume blocks until the user has been inactive long enough to resume,
// then clears the yield. The caller must re-capture the screen before
// continuing; the queue and screen graph may no longer be valid.
func (a *Arbiter) AwaitResume(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if a.ResumeReady() {
			a.mu.Lock()
			a.yielding = false
			a.mu.Unlock()
			a.log.Info("user inactive, ready to resume exploration")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UserActions returns a copy of the recorded demonstration history.
func (a *Arbiter) UserActions() []UserAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]UserAction, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Arbiter) recordUserAction(action UserAction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	limit := a.cfg.UserActionHistory
	if limit <= 0 {
		limit = 50
	}
	a.history = append(a.history, action)
	if len(a.history) > limit {
		// Drop oldest.
		a.history = append(a.history[:0], a.history[len(a.history)-limit:]...)
	}
}

// Reset deterministically releases all arbiter state: pending claim, pending
// veto, yield flag, and history. Cancellation paths call this so a future
// session starts from a clean slate.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	v := a.veto
	a.claim = nil
	a.veto = nil
	a.yielding = false
	a.lastScreen = nil
	a.history = nil
	a.mu.Unlock()
	if v != nil {
		close(v.cancelCh)
	}
}

// HitTest finds the clickable element whose bounds contain the point with
// the center closest to it. Confidence is 1 at the exact center and falls
// linearly to 0 at half the element's larger dimension.
func HitTest(screen *ui.Screen, x, y int) HitTestResult {
	var best HitTestResult
	bestDist := math.MaxFloat64
	found := false

	for _, e := range screen.Elements {
		if !e.Clickable || !e.Bounds.Contains(x, y) {
			continue
		}
		d := distance(x, y, e.Bounds.CenterX(), e.Bounds.CenterY())
		if d < bestDist {
			bestDist = d
			best.Element = e
			found = true
		}
	}

	if !found {
		return HitTestResult{}
	}

	half := float64(best.Element.Bounds.Width) / 2
	if h := float64(best.Element.Bounds.Height) / 2; h > half {
		half = h
	}
	confidence := 0.0
	if half > 0 {
		confidence = 1 - bestDist/half
		if confidence < 0 {
			confidence = 0
		}
	}

	best.Confidence = confidence
	best.ActionKey = best.Element.ActionKey()
	return best
}

func distance(x1, y1, x2, y2 int) float64 {
	dx := float64(x1 - x2)
	dy := float64(y1 - y2)
	return math.Sqrt(dx*dx + dy*dy)
}
