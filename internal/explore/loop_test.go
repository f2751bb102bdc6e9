package explore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"screenscout/internal/audit"
	"screenscout/internal/config"
	"screenscout/internal/ui"
)

// fakeDriver is an in-memory device: a named state machine of screens where
// taps and back presses move between states.
type fakeDriver struct {
	mu      sync.Mutex
	screens map[string]*ui.Screen
	state   string
	onTap   func(d *fakeDriver, x, y int)
	onSwipe func(d *fakeDriver)

	taps     [][2]int
	swipes   int
	backs    int
	restarts int
}

func (d *fakeDriver) CaptureScreen(ctx context.Context) (*ui.Screen, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.screens[d.state]
	if !ok {
		return nil, fmt.Errorf("no screen for state %q", d.state)
	}
	return s, nil
}

func (d *fakeDriver) Tap(ctx context.Context, x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.taps = append(d.taps, [2]int{x, y})
	if d.onTap != nil {
		d.onTap(d, x, y)
	}
	return nil
}

func (d *fakeDriver) Swipe(ctx context.Context, fromX, fromY, toX, toY int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.swipes++
	if d.onSwipe != nil {
		d.onSwipe(d)
	}
	return nil
}

func (d *fakeDriver) Back(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backs++
	d.state = "home"
	return nil
}

func (d *fakeDriver) RestartApp(ctx context.Context, pkg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restarts++
	d.state = "home"
	return nil
}

func (d *fakeDriver) counts() (taps, swipes, backs, restarts int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.taps), d.swipes, d.backs, d.restarts
}

// fakeLearner counts the facts the loop emits.
type fakeLearner struct {
	mu        sync.Mutex
	visits    int
	attempts  int
	takeovers int
	negatives []string
}

func (l *fakeLearner) ScoreAction(*ui.Screen, ui.Element) int   { return 500 }
func (l *fakeLearner) ShouldSkip(string, string) bool           { return false }
func (l *fakeLearner) PositiveFeedback(string, string)          {}
func (l *fakeLearner) SessionReward(context.Context, string, int) {}

func (l *fakeLearner) NegativeFeedback(screenID, actionKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.negatives = append(l.negatives, screenID+"|"+actionKey)
}

func (l *fakeLearner) RecordTakeover(context.Context, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.takeovers++
}

func (l *fakeLearner) RecordScreenVisit(_ context.Context, _, _ string, _ int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visits++
}

func (l *fakeLearner) RecordActionAttempt(_ context.Context, _, _ string, _ bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
}

// fakeAuditor collects records in memory.
type fakeAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *fakeAuditor) Write(r audit.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

func (a *fakeAuditor) byAction(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.records {
		if r.Action == action {
			n++
		}
	}
	return n
}

func newLoopTestSession(cfg config.ExplorerConfig, driver *fakeDriver) (*Session, *fakeLearner, *fakeAuditor, *ProgressHolder) {
	learner := &fakeLearner{}
	auditor := &fakeAuditor{}
	progress := NewProgressHolder()

	filter := NewFilter(cfg, testGeometry(), nil, nil)
	session := NewSession(cfg, "app.example", SessionDeps{
		Provider: driver,
		Gestures: driver,
		Builder:  NewBuilder(cfg, filter, nil),
		Queue:    NewWorkQueue(),
		Nav:      NewNavigator(cfg, nil),
		Recovery: NewEscalator(cfg, testGeometry(), nil),
		Arbiter:  NewArbiter(cfg, learner, nil),
		Learner:  learner,
		Auditor:  auditor,
		Progress: progress,
	})
	return session, learner, auditor, progress
}

func twoScreenDriver() *fakeDriver {
	button := ui.Element{
		ID:         "el-0",
		ResourceID: "btn_open",
		Bounds:     ui.Bounds{X: 100, Y: 300, Width: 100, Height: 80},
		Clickable:  true,
	}
	home := ui.NewScreen("/home|Home", []ui.Element{button}, nil, nil)
	detail := ui.NewScreen("/detail|Detail", nil, nil, nil)

	d := &fakeDriver{
		screens: map[string]*ui.Screen{"home": home, "detail": detail},
		state:   "home",
	}
	d.onTap = func(d *fakeDriver, x, y int) {
		if d.state == "home" && x == button.Bounds.CenterX() && y == button.Bounds.CenterY() {
			d.state = "detail"
		}
	}
	return d
}

func TestSessionExploresBacktracksAndEscalates(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.RecoveryCooldown = "1ms"
	driver := twoScreenDriver()
	session, learner, auditor, progress := newLoopTestSession(cfg, driver)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := session.Run(ctx)
	if !errors.Is(err, ErrNeedsHuman) {
		t.Fatalf("Run = %v, want ErrNeedsHuman", err)
	}

	// One intended tap on the home button plus two random-tap recovery
	// attempts; one backtrack press plus two recovery back presses; random
	// scroll and scroll-to-edge twice each; two app restarts.
	taps, swipes, backs, restarts := driver.counts()
	if taps != 3 {
		t.Errorf("taps = %d, want 3", taps)
	}
	if backs != 3 {
		t.Errorf("backs = %d, want 3", backs)
	}
	if swipes != 4 {
		t.Errorf("swipes = %d, want 4", swipes)
	}
	if restarts != 2 {
		t.Errorf("restarts = %d, want 2", restarts)
	}

	driver.mu.Lock()
	firstTap := driver.taps[0]
	driver.mu.Unlock()
	if firstTap != [2]int{150, 340} {
		t.Errorf("first tap at %v, want element center (150,340)", firstTap)
	}

	learner.mu.Lock()
	visits, attempts := learner.visits, learner.attempts
	learner.mu.Unlock()
	if visits == 0 || attempts != 1 {
		t.Errorf("learner saw visits=%d attempts=%d, want visits>0 attempts=1", visits, attempts)
	}

	if got := auditor.byAction("tap"); got != 1 {
		t.Errorf("audited taps = %d, want 1", got)
	}
	if got := auditor.byAction("request_user_help"); got != 2 {
		t.Errorf("audited help requests = %d, want 2", got)
	}

	if got := progress.Get(); got.State != StateNeedsHuman {
		t.Errorf("final state = %q, want %q", got.State, StateNeedsHuman)
	}
}

func TestSessionStopsOnCancel(t *testing.T) {
	cfg := testExplorerConfig()
	driver := twoScreenDriver()
	session, _, _, progress := newLoopTestSession(cfg, driver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := session.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if got := progress.Get(); got.State != StateStopped {
		t.Errorf("state = %q, want %q", got.State, StateStopped)
	}
}

// deadEndDriver is a single empty screen: the session dead-ends immediately
// and spends its life in recovery.
func deadEndDriver() *fakeDriver {
	home := ui.NewScreen("/home|Home", nil, nil, nil)
	return &fakeDriver{screens: map[string]*ui.Screen{"home": home}, state: "home"}
}

func TestHandleClickConcurrentWithRun(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.RecoveryCooldown = "1ms"
	cfg.ResumeInactivity = "1ms"
	driver := twoScreenDriver()
	session, _, auditor, _ := newLoopTestSession(cfg, driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	// HandleClick arrives on the device's click-stream goroutine while the
	// loop runs; it must never touch loop-private state.
	for i := 0; i < 50; i++ {
		session.HandleClick(ui.Bounds{X: 400 + i, Y: 400, Width: 1, Height: 1})
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNeedsHuman) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := auditor.byAction("user_click"); got == 0 {
		t.Error("no user clicks audited")
	}
}

func TestTakeoverPreemptsRecovery(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.RecoveryCooldown = "1ms"
	cfg.ResumeInactivity = "1ms"
	driver := deadEndDriver()
	session, learner, auditor, progress := newLoopTestSession(cfg, driver)

	// The first recovery swipe doubles as the user grabbing the device.
	clicked := false
	driver.onSwipe = func(d *fakeDriver) {
		if !clicked {
			clicked = true
			session.HandleClick(ui.Bounds{X: 10, Y: 10, Width: 1, Height: 1})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := session.Run(ctx)
	if !errors.Is(err, ErrNeedsHuman) {
		t.Fatalf("Run = %v, want ErrNeedsHuman", err)
	}

	learner.mu.Lock()
	takeovers := learner.takeovers
	learner.mu.Unlock()
	if takeovers != 1 {
		t.Errorf("takeovers recorded = %d, want 1", takeovers)
	}
	if got := auditor.byAction("takeover"); got != 1 {
		t.Errorf("audited takeovers = %d, want 1", got)
	}
	if got := auditor.byAction("user_click"); got != 1 {
		t.Errorf("audited user clicks = %d, want 1", got)
	}
	if got := progress.Get(); got.State != StateNeedsHuman {
		t.Errorf("final state = %q, want %q", got.State, StateNeedsHuman)
	}
}

func TestScrollVetoed(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.VetoWindow = "5s"
	cfg.RecoveryCooldown = "1ms"

	container := ui.ScrollContainer{ID: "scroll-0", Bounds: ui.Bounds{X: 0, Y: 300, Width: 1080, Height: 800}}
	home := ui.NewScreen("/home|Home", nil, nil, []ui.ScrollContainer{container})
	driver := &fakeDriver{screens: map[string]*ui.Screen{"home": home}, state: "home"}
	session, learner, auditor, _ := newLoopTestSession(cfg, driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for !session.arbiter.HasPendingVeto() {
		select {
		case <-deadline:
			t.Fatal("scroll item never offered a veto window")
		case <-time.After(time.Millisecond):
		}
	}
	if !session.arbiter.Veto() {
		t.Fatal("explicit veto failed")
	}

	blocked := false
	deadline = time.After(5 * time.Second)
	for !blocked {
		auditor.mu.Lock()
		for _, r := range auditor.records {
			if r.Action == "scroll" && r.Blocked {
				blocked = true
			}
		}
		auditor.mu.Unlock()
		if blocked {
			break
		}
		select {
		case <-deadline:
			t.Fatal("vetoed scroll never audited as blocked")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNeedsHuman) {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	learner.mu.Lock()
	negatives := append([]string(nil), learner.negatives...)
	learner.mu.Unlock()
	if len(negatives) != 1 || negatives[0] != home.ID+"|scroll-0" {
		t.Errorf("negative feedback = %v, want [%s|scroll-0]", negatives, home.ID)
	}

	// The only scroll record is the blocked one; the container was never swiped.
	auditor.mu.Lock()
	scrolls := 0
	for _, r := range auditor.records {
		if r.Action == "scroll" {
			scrolls++
			if !r.Blocked {
				t.Error("vetoed scroll executed anyway")
			}
		}
	}
	auditor.mu.Unlock()
	if scrolls != 1 {
		t.Errorf("scroll records = %d, want 1", scrolls)
	}
}

func TestSessionHandleClickAttributesUserClicks(t *testing.T) {
	cfg := testExplorerConfig()
	driver := twoScreenDriver()
	session, _, auditor, _ := newLoopTestSession(cfg, driver)

	// No claim registered; this click must be audited as a user action.
	session.HandleClick(ui.Bounds{X: 400, Y: 400, Width: 1, Height: 1})
	if got := auditor.byAction("user_click"); got != 1 {
		t.Errorf("audited user clicks = %d, want 1", got)
	}
	if !session.arbiter.IsYielding() {
		t.Error("user click did not start a takeover")
	}
}
