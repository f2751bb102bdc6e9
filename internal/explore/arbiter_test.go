package explore

import (
	"context"
	"sync"
	"testing"
	"time"

	"screenscout/internal/ui"
)

// recordingSink captures learning signals for assertions.
type recordingSink struct {
	mu       sync.Mutex
	positive []string
	negative []string
}

func (r *recordingSink) PositiveFeedback(screenID, actionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positive = append(r.positive, screenID+"|"+actionKey)
}

func (r *recordingSink) NegativeFeedback(screenID, actionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negative = append(r.negative, screenID+"|"+actionKey)
}

func (r *recordingSink) positives() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.positive...)
}

func (r *recordingSink) negatives() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.negative...)
}

func newTestArbiter(sink FeedbackSink) (*Arbiter, *time.Time) {
	a := NewArbiter(testExplorerConfig(), sink, nil)
	current := time.Now()
	a.now = func() time.Time { return current }
	return a, &current
}

func pointBounds(x, y int) ui.Bounds {
	return ui.Bounds{X: x, Y: y, Width: 1, Height: 1}
}

func TestBotTapClaimTimingBoundary(t *testing.T) {
	a, now := newTestArbiter(nil)

	a.RegisterBotTap(500, 500, "el-0")
	*now = now.Add(799 * time.Millisecond)
	if user := a.OnClickDetected(pointBounds(500, 500)); user {
		t.Error("click inside the window attributed to the user")
	}

	a.Reset()
	a.RegisterBotTap(500, 500, "el-0")
	*now = now.Add(800 * time.Millisecond)
	if user := a.OnClickDetected(pointBounds(500, 500)); !user {
		t.Error("click at the window boundary attributed to the bot")
	}
}

func TestBotTapClaimDistanceBoundary(t *testing.T) {
	a, _ := newTestArbiter(nil)

	a.RegisterBotTap(500, 500, "el-0")
	if user := a.OnClickDetected(pointBounds(599, 500)); user {
		t.Error("click 99px away attributed to the user")
	}

	a.Reset()
	a.RegisterBotTap(500, 500, "el-0")
	if user := a.OnClickDetected(pointBounds(600, 500)); !user {
		t.Error("click 100px away attributed to the bot")
	}
}

func TestBotTapClaimConsumedOnce(t *testing.T) {
	a, _ := newTestArbiter(nil)

	a.RegisterBotTap(500, 500, "el-0")
	if a.OnClickDetected(pointBounds(500, 500)) {
		t.Fatal("first click should match the claim")
	}
	if !a.OnClickDetected(pointBounds(500, 500)) {
		t.Error("second click matched an already-consumed claim")
	}
}

func TestReRegistrationReplacesClaim(t *testing.T) {
	a, _ := newTestArbiter(nil)

	a.RegisterBotTap(100, 100, "el-0")
	a.RegisterBotTap(900, 900, "el-1")
	if a.OnClickDetected(pointBounds(100, 100)) == false {
		t.Error("click near the replaced claim should be a user click")
	}
}

func TestUserClickStartsTakeoverAndRecordsDemonstration(t *testing.T) {
	sink := &recordingSink{}
	a, _ := newTestArbiter(sink)

	button := ui.Element{
		ID:         "el-0",
		ResourceID: "btn_play",
		Bounds:     ui.Bounds{X: 400, Y: 400, Width: 200, Height: 100},
		Clickable:  true,
	}
	screen := ui.NewScreen("main", []ui.Element{button}, nil, nil)
	a.SetScreen(screen)

	if !a.OnClickDetected(pointBounds(500, 450)) {
		t.Fatal("unclaimed click not attributed to the user")
	}
	if !a.IsYielding() {
		t.Error("takeover did not start")
	}

	actions := a.UserActions()
	if len(actions) != 1 {
		t.Fatalf("recorded %d user actions, want 1", len(actions))
	}
	if actions[0].ActionKey != "res:btn_play" || actions[0].Confidence != 1.0 {
		t.Errorf("recorded action = %+v", actions[0])
	}
	if got := sink.positives(); len(got) != 1 || got[0] != screen.ID+"|res:btn_play" {
		t.Errorf("positive feedback = %v", got)
	}
}

func TestLowConfidenceClickNotRecorded(t *testing.T) {
	sink := &recordingSink{}
	a, _ := newTestArbiter(sink)

	button := ui.Element{
		ID:        "el-0",
		Text:      "Play",
		Bounds:    ui.Bounds{X: 400, Y: 400, Width: 200, Height: 100},
		Clickable: true,
	}
	a.SetScreen(ui.NewScreen("main", []ui.Element{button}, nil, nil))

	// Near the corner: distance from center exceeds half the larger dimension
	// scaled by the 0.5 threshold.
	if !a.OnClickDetected(pointBounds(405, 405)) {
		t.Fatal("click not attributed to the user")
	}
	if len(a.UserActions()) != 0 {
		t.Error("low-confidence click recorded as demonstration")
	}
	if len(sink.positives()) != 0 {
		t.Error("low-confidence click produced feedback")
	}
}

func TestHitTestConfidence(t *testing.T) {
	button := ui.Element{
		ID:        "el-0",
		Text:      "Play",
		Bounds:    ui.Bounds{X: 0, Y: 0, Width: 100, Height: 100},
		Clickable: true,
	}
	screen := ui.NewScreen("main", []ui.Element{button}, nil, nil)

	tests := []struct {
		name string
		x, y int
		want float64
	}{
		{"exact center", 50, 50, 1.0},
		{"halfway out", 50, 75, 0.5},
		{"near the edge", 50, 99, 0.02},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit := HitTest(screen, tt.x, tt.y)
			if hit.Element.ID != "el-0" {
				t.Fatalf("no element hit at (%d,%d)", tt.x, tt.y)
			}
			if diff := hit.Confidence - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", hit.Confidence, tt.want)
			}
		})
	}

	if hit := HitTest(screen, 500, 500); hit.ActionKey != "" {
		t.Error("hit outside all elements resolved an action key")
	}
}

func TestHitTestPicksNearestCenter(t *testing.T) {
	outer := ui.Element{ID: "outer", Bounds: ui.Bounds{X: 0, Y: 0, Width: 400, Height: 400}, Clickable: true}
	inner := ui.Element{ID: "inner", Bounds: ui.Bounds{X: 150, Y: 150, Width: 100, Height: 100}, Clickable: true}
	screen := ui.NewScreen("main", []ui.Element{outer, inner}, nil, nil)

	if hit := HitTest(screen, 205, 205); hit.Element.ID != "inner" {
		t.Errorf("hit = %s, want inner", hit.Element.ID)
	}
}

func TestImplicitVeto(t *testing.T) {
	sink := &recordingSink{}
	cfg := testExplorerConfig()
	cfg.VetoWindow = "5s"
	a := NewArbiter(cfg, sink, nil)

	item := WorkItem{ScreenID: "scr-1", TargetID: "el-0"}

	result := make(chan bool, 1)
	go func() {
		result <- a.OfferVeto(context.Background(), item, "res:btn_buy")
	}()

	// Wait for the window to open.
	deadline := time.After(2 * time.Second)
	for !a.HasPendingVeto() {
		select {
		case <-deadline:
			t.Fatal("veto window never opened")
		case <-time.After(time.Millisecond):
		}
	}

	if !a.OnClickDetected(pointBounds(10, 10)) {
		t.Error("vetoing click not attributed to the user")
	}

	select {
	case proceed := <-result:
		if proceed {
			t.Error("vetoed action was allowed to proceed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OfferVeto did not return after veto")
	}

	if got := sink.negatives(); len(got) != 1 || got[0] != "scr-1|res:btn_buy" {
		t.Errorf("negative feedback = %v", got)
	}
	// The implicit veto consumes the click; no takeover starts.
	if a.IsYielding() {
		t.Error("implicit veto also started a takeover")
	}
}

func TestOfferVetoExpiresAndProceeds(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.VetoWindow = "10ms"
	a := NewArbiter(cfg, nil, nil)

	if !a.OfferVeto(context.Background(), WorkItem{}, "") {
		t.Error("unvetoed action did not proceed")
	}
	if a.HasPendingVeto() {
		t.Error("veto window left dangling state")
	}
}

func TestOfferVetoDisabledWindow(t *testing.T) {
	a, _ := newTestArbiter(nil)
	if !a.OfferVeto(context.Background(), WorkItem{}, "") {
		t.Error("zero window must always proceed")
	}
	if a.HasPendingVeto() {
		t.Error("disabled window registered a pending veto")
	}
}

func TestExplicitVeto(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.VetoWindow = "5s"
	a := NewArbiter(cfg, nil, nil)

	if a.Veto() {
		t.Error("veto with nothing pending reported success")
	}

	result := make(chan bool, 1)
	go func() {
		result <- a.OfferVeto(context.Background(), WorkItem{ScreenID: "s", TargetID: "e"}, "e")
	}()
	deadline := time.After(2 * time.Second)
	for !a.HasPendingVeto() {
		select {
		case <-deadline:
			t.Fatal("veto window never opened")
		case <-time.After(time.Millisecond):
		}
	}

	if !a.Veto() {
		t.Error("explicit veto failed")
	}
	if proceed := <-result; proceed {
		t.Error("vetoed action proceeded")
	}
}

func TestResumeAfterInactivity(t *testing.T) {
	a, now := newTestArbiter(nil)

	a.OnClickDetected(pointBounds(10, 10))
	if !a.IsYielding() {
		t.Fatal("takeover did not start")
	}
	if a.ResumeReady() {
		t.Error("resume ready immediately after a click")
	}

	*now = now.Add(3 * time.Second)
	if !a.ResumeReady() {
		t.Error("resume not ready after the inactivity window")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.AwaitResume(ctx); err != nil {
		t.Fatalf("AwaitResume: %v", err)
	}
	if a.IsYielding() {
		t.Error("yield not cleared on resume")
	}
}

func TestUserActionHistoryBound(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.UserActionHistory = 5
	a := NewArbiter(cfg, nil, nil)

	for i := 0; i < 8; i++ {
		a.recordUserAction(UserAction{ElementID: "el", X: i})
	}
	actions := a.UserActions()
	if len(actions) != 5 {
		t.Fatalf("history length = %d, want 5", len(actions))
	}
	if actions[0].X != 3 || actions[4].X != 7 {
		t.Errorf("history window = [%d..%d], want [3..7]", actions[0].X, actions[4].X)
	}
}

func TestResetReleasesVetoWaiter(t *testing.T) {
	cfg := testExplorerConfig()
	cfg.VetoWindow = "30s"
	a := NewArbiter(cfg, nil, nil)

	result := make(chan bool, 1)
	go func() {
		result <- a.OfferVeto(context.Background(), WorkItem{}, "")
	}()
	deadline := time.After(2 * time.Second)
	for !a.HasPendingVeto() {
		select {
		case <-deadline:
			t.Fatal("veto window never opened")
		case <-time.After(time.Millisecond):
		}
	}

	a.Reset()
	select {
	case proceed := <-result:
		if proceed {
			t.Error("reset allowed the pending action to proceed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reset did not release the veto waiter")
	}
}
