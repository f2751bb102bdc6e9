package explore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"screenscout/internal/audit"
	"screenscout/internal/config"
	"screenscout/internal/device"
	"screenscout/internal/ui"
)

// ErrNeedsHuman is returned when recovery is exhausted and a help request
// has been issued. Terminal for the session, not retried internally.
var ErrNeedsHuman = errors.New("exploration needs human assistance")

// stuckThreshold is how many consecutive no-progress actions trigger the
// stuck path.
const stuckThreshold = 3

// Learner is the scoring/feedback surface the loop consumes. The knowledge
// oracle implements it; the loop treats it as opaque.
type Learner interface {
	Scorer
	FeedbackSink
	RecordScreenVisit(ctx context.Context, screenID, activity string, visit int)
	RecordActionAttempt(ctx context.Context, screenID, actionKey string, success bool)
	RecordTakeover(ctx context.Context, screenID string)
}

// Auditor receives structured records of each action attempt.
type Auditor interface {
	Write(r audit.Record)
}

// Session is one exploration run: a single-threaded cooperative loop with
// exactly one outstanding action at any time. All collaborators are injected
// at construction and torn down with the session.
type Session struct {
	ID  string
	app string
	cfg config.ExplorerConfig
	log *zap.Logger

	provider device.ScreenProvider
	gestures device.GestureExecutor

	queue    *WorkQueue
	builder  *Builder
	nav      *Navigator
	recovery *Escalator
	arbiter  *Arbiter
	learner  Learner
	auditor  Auditor
	progress *ProgressHolder

	current    *ui.Screen
	actions    int
	noProgress int
}

// SessionDeps bundles the injected collaborators.
type SessionDeps struct {
	Provider device.ScreenProvider
	Gestures device.GestureExecutor
	Builder  *Builder
	Queue    *WorkQueue
	Nav      *Navigator
	Recovery *Escalator
	Arbiter  *Arbiter
	Learner  Learner
	Auditor  Auditor
	Progress *ProgressHolder
	Logger   *zap.Logger
}

func NewSession(cfg config.ExplorerConfig, app string, deps SessionDeps) *Session {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		ID:       uuid.NewString(),
		app:      app,
		cfg:      cfg,
		log:      log.With(zap.String("component", "session")),
		provider: deps.Provider,
		gestures: deps.Gestures,
		queue:    deps.Queue,
		builder:  deps.Builder,
		nav:      deps.Nav,
		recovery: deps.Recovery,
		arbiter:  deps.Arbiter,
		learner:  deps.Learner,
		auditor:  deps.Auditor,
		progress: deps.Progress,
	}
}

// HandleClick funnels an asynchronously observed click event through the
// arbiter. Wire this to the device's click stream. It runs on the click-stream
// goroutine, so it must only touch the arbiter, never loop-private state.
func (s *Session) HandleClick(bounds ui.Bounds) {
	if user := s.arbiter.OnClickDetected(bounds); user {
		s.audit(audit.Record{
			Action:      "user_click",
			ScreenID:    s.arbiter.CurrentScreenID(),
			AccessLevel: "user",
			Success:     true,
		})
	}
}

// Run executes the exploration loop until the context is canceled, the
// screen graph is exhausted, or recovery gives up. Cancellation releases all
// wake/veto state so a future session starts clean.
func (s *Session) Run(ctx context.Context) error {
	defer s.Reset()

	s.setState(StateExploring)
	if err := s.refresh(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateStopped)
			return err
		}

		if s.arbiter.IsYielding() {
			if err := s.yieldToUser(ctx); err != nil {
				s.setState(StateStopped)
				return err
			}
			continue
		}

		item, ok := s.queue.Pop()
		if !ok {
			if done, err := s.navigate(ctx); done || err != nil {
				return err
			}
			continue
		}

		s.executeItem(ctx, item)

		if s.noProgress >= stuckThreshold {
			if done, err := s.navigateStuck(ctx); done || err != nil {
				return err
			}
		}
	}
}

// executeItem runs one work item through the veto window, the bot-tap
// protocol, and the gesture executor.
func (s *Session) executeItem(ctx context.Context, item WorkItem) {
	// Items surviving from a previous screen are stale; their coordinates
	// no longer mean anything.
	if s.current == nil || item.ScreenID != s.current.ID {
		return
	}

	switch item.Kind {
	case WorkTap:
		s.executeTap(ctx, item)
	case WorkScroll:
		s.executeScroll(ctx, item)
	}
}

func (s *Session) executeTap(ctx context.Context, item WorkItem) {
	element, ok := s.current.ElementByID(item.TargetID)
	if !ok {
		return
	}

	if !s.arbiter.OfferVeto(ctx, item, element.ActionKey()) {
		s.builder.MarkVisited(item.ScreenID, item.TargetID)
		s.audit(audit.Record{
			Action:      "tap",
			Target:      element.ActionKey(),
			ScreenID:    item.ScreenID,
			AccessLevel: "autonomous",
			Blocked:     true,
			Detail:      "vetoed",
		})
		return
	}

	x, y := element.Bounds.CenterX(), element.Bounds.CenterY()
	s.arbiter.RegisterBotTap(x, y, element.ID)
	err := s.gestures.Tap(ctx, x, y)
	s.arbiter.ClearBotTap()

	s.builder.MarkVisited(item.ScreenID, item.TargetID)
	s.afterAction(ctx, "tap", item.ScreenID, element.ActionKey(), err)
}

func (s *Session) executeScroll(ctx context.Context, item WorkItem) {
	if !s.arbiter.OfferVeto(ctx, item, item.TargetID) {
		s.audit(audit.Record{
			Action:      "scroll",
			Target:      item.TargetID,
			ScreenID:    item.ScreenID,
			AccessLevel: "autonomous",
			Blocked:     true,
			Detail:      "vetoed",
		})
		return
	}

	b := item.Bounds
	fromX := b.CenterX()
	fromY := b.Y + b.Height*3/4
	toY := b.Y + b.Height/4
	err := s.gestures.Swipe(ctx, fromX, fromY, fromX, toY)
	s.afterAction(ctx, "scroll", item.ScreenID, item.TargetID, err)
}

// afterAction records outcomes, refreshes the screen, and tracks progress.
func (s *Session) afterAction(ctx context.Context, action, screenID, target string, gestureErr error) {
	s.actions++
	success := gestureErr == nil
	s.learner.RecordActionAttempt(ctx, screenID, target, success)
	s.audit(audit.Record{
		Action:      action,
		Target:      target,
		ScreenID:    screenID,
		AccessLevel: "autonomous",
		Success:     success,
	})

	if !success {
		// Unavailable collaborators are transient; recovery owns retries.
		s.log.Warn("gesture failed", zap.String("action", action), zap.Error(gestureErr))
		s.noProgress++
		return
	}

	before := ""
	if s.current != nil {
		before = s.current.ID
	}
	if err := s.refresh(ctx); err != nil {
		s.noProgress++
		return
	}
	if s.current != nil && s.current.ID != before {
		s.noProgress = 0
	} else {
		s.noProgress++
	}
	s.publishProgress()
}

// refresh captures the current screen, records the visit, and rebuilds the
// queue from it.
func (s *Session) refresh(ctx context.Context) error {
	screen, err := s.provider.CaptureScreen(ctx)
	if err != nil {
		s.log.Warn("screen capture failed", zap.Error(err))
		return nil // transient; the stuck path handles persistent failures
	}

	s.current = screen
	s.arbiter.SetScreen(screen)

	unexplored := s.builder.UnexploredCount(screen)
	s.nav.EnterScreen(screen.ID, s.app, len(screen.Elements), unexplored)
	s.learner.RecordScreenVisit(ctx, screen.ID, screen.Activity, s.nav.VisitCount(screen.ID))

	s.builder.Build(screen, s.queue)
	s.nav.UpdateUnexplored(screen.ID, s.builder.UnexploredCount(screen))
	s.publishProgress()
	return nil
}

// yieldToUser suspends the loop while a human controls the device, then
// re-synchronizes from a fresh capture; the queue and screen graph may no
// longer be valid after a takeover.
func (s *Session) yieldToUser(ctx context.Context) error {
	s.setState(StateYielded)
	screenID := ""
	if s.current != nil {
		screenID = s.current.ID
	}
	s.learner.RecordTakeover(ctx, screenID)
	s.audit(audit.Record{
		Action:      "takeover",
		ScreenID:    screenID,
		AccessLevel: "user",
		Success:     true,
	})

	if err := s.arbiter.AwaitResume(ctx); err != nil {
		return err
	}

	s.queue.Reset()
	s.setState(StateExploring)
	return s.refresh(ctx)
}

// navigate handles the empty-queue case: stay, backtrack, or hand over to
// recovery when history is exhausted.
func (s *Session) navigate(ctx context.Context) (done bool, err error) {
	currentID := ""
	hasUnexplored := false
	if s.current != nil {
		currentID = s.current.ID
		hasUnexplored = s.builder.UnexploredCount(s.current) > 0
	}

	decision := s.nav.DecideNavigation(currentID, hasUnexplored, false)
	return s.applyDecision(ctx, decision)
}

func (s *Session) navigateStuck(ctx context.Context) (done bool, err error) {
	s.noProgress = 0
	currentID := ""
	if s.current != nil {
		currentID = s.current.ID
	}
	decision := s.nav.DecideNavigation(currentID, false, true)
	return s.applyDecision(ctx, decision)
}

// applyDecision exhaustively handles every navigation decision variant.
func (s *Session) applyDecision(ctx context.Context, decision NavigationDecision) (done bool, err error) {
	switch decision.Kind {
	case NavExploreScreen, NavStayOnScreen:
		// Nothing queued but the screen still has unexplored elements:
		// re-capture so a scroll or redraw can surface them.
		return false, s.refresh(ctx)

	case NavBacktrackTo, NavBacktrackSteps:
		return false, s.backtrack(ctx, decision.Steps)

	case NavDeadEnd:
		return s.recover(ctx)

	default:
		return false, nil
	}
}

// backtrack pops the requested number of levels, issuing one back gesture
// per level.
func (s *Session) backtrack(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.gestures.Back(ctx); err != nil {
			s.log.Warn("back gesture failed", zap.Error(err))
			s.noProgress++
			break
		}
		s.audit(audit.Record{
			Action:      "back",
			AccessLevel: "autonomous",
			Success:     true,
		})
	}
	s.nav.PopSteps(steps)
	return s.refresh(ctx)
}

// recover escalates through corrective strategies. Returns done=true when
// the session must end: either recovery is exhausted (ErrNeedsHuman) or the
// context is canceled.
func (s *Session) recover(ctx context.Context) (done bool, err error) {
	s.setState(StateRecovering)

	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateStopped)
			return true, err
		}

		// A takeover preempts recovery the same way it preempts the queue.
		if s.arbiter.IsYielding() {
			if err := s.yieldToUser(ctx); err != nil {
				s.setState(StateStopped)
				return true, err
			}
			if s.queue.Len() > 0 {
				// The user's intervention surfaced new work.
				return false, nil
			}
			s.setState(StateRecovering)
		}

		if s.recovery.IsExhausted() {
			s.setState(StateNeedsHuman)
			return true, ErrNeedsHuman
		}

		action := s.recovery.NextAction(s.app)
		execErr := s.executeRecovery(ctx, action)

		if action.Kind == RecoverRequestUserHelp {
			s.recovery.ReportResult(false)
			continue
		}

		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return true, ctx.Err()
		case <-time.After(s.cfg.RecoveryCooldownDuration()):
		}

		before := ""
		if s.current != nil {
			before = s.current.ID
		}
		_ = s.refresh(ctx)
		recovered := execErr == nil &&
			((s.current != nil && s.current.ID != before) || s.queue.Len() > 0)
		s.recovery.ReportResult(recovered)

		s.audit(audit.Record{
			Action:      "recovery",
			Target:      string(action.Kind),
			AccessLevel: "autonomous",
			Success:     recovered,
		})

		if recovered {
			s.setState(StateExploring)
			return false, nil
		}
	}
}

func (s *Session) executeRecovery(ctx context.Context, action RecoveryAction) error {
	switch action.Kind {
	case RecoverRandomScroll, RecoverScrollToEdge:
		return s.gestures.Swipe(ctx, action.FromX, action.FromY, action.ToX, action.ToY)
	case RecoverPressBack:
		return s.gestures.Back(ctx)
	case RecoverRandomTap:
		s.arbiter.RegisterBotTap(action.TapX, action.TapY, "")
		err := s.gestures.Tap(ctx, action.TapX, action.TapY)
		s.arbiter.ClearBotTap()
		return err
	case RecoverRestartApp:
		return s.gestures.RestartApp(ctx, action.Package)
	case RecoverRequestUserHelp:
		s.log.Warn("requesting manual intervention", zap.String("message", action.Message))
		s.audit(audit.Record{
			Action:      "request_user_help",
			AccessLevel: "autonomous",
			Detail:      action.Message,
		})
		return nil
	default:
		return nil
	}
}

// Reset tears down all per-session state across every stateful component.
func (s *Session) Reset() {
	s.queue.Reset()
	s.builder.Reset()
	s.nav.Reset()
	s.recovery.Reset()
	s.arbiter.Reset()
	s.current = nil
	s.actions = 0
	s.noProgress = 0
}

func (s *Session) setState(state string) {
	p := s.progress.Get()
	if p.SessionID == "" {
		p.SessionID = s.ID
		p.App = s.app
		p.StartedAt = time.Now()
	}
	p.State = state
	s.progress.Set(p)
}

func (s *Session) publishProgress() {
	p := s.progress.Get()
	if p.SessionID == "" {
		p.SessionID = s.ID
		p.App = s.app
		p.StartedAt = time.Now()
	}
	if p.State == "" {
		p.State = StateExploring
	}
	if s.current != nil {
		p.CurrentScreen = s.current.ID
	}
	p.ScreensVisited = s.nav.Depth()
	p.ActionsExecuted = s.actions
	p.QueueDepth = s.queue.Len()
	p.StackDepth = s.nav.Depth()
	p.RecoveryStrategy = string(s.recovery.CurrentStrategy())
	s.progress.Set(p)
}

func (s *Session) audit(r audit.Record) {
	if s.auditor == nil {
		return
	}
	r.SessionID = s.ID
	s.auditor.Write(r)
}
