package explore

import (
	"go.uber.org/zap"

	"screenscout/internal/classify"
	"screenscout/internal/config"
	"screenscout/internal/ui"
)

// Exclusion reasons reported by the filter, in evaluation order.
const (
	ReasonInvalidGeometry = "invalid_geometry"
	ReasonOffScreen       = "off_screen"
	ReasonSystemShell     = "system_shell"
	ReasonTouchTarget     = "touch_target"
	ReasonBarBand         = "bar_band"
	ReasonEdgeGesture     = "edge_gesture"
	ReasonCredential      = "credential"
	ReasonExitRisk        = "exit_risk"
	ReasonBackControl     = "back_control"
)

// Geometry carries the ambient screen measurements the filter needs.
type Geometry struct {
	ScreenWidth     int
	ScreenHeight    int
	StatusBarHeight int
	NavBarHeight    int
}

// Scorer is the adaptive priority oracle. The filter treats it as opaque.
type Scorer interface {
	// ScoreAction returns the learned priority for tapping the element.
	ScoreAction(screen *ui.Screen, e ui.Element) int
	// ShouldSkip reports whether the action is a known dead end.
	ShouldSkip(screenID, actionKey string) bool
}

// Decision is the filter's verdict for one candidate element.
type Decision struct {
	Exclude  bool
	Reason   string // set when excluded
	Priority int    // set when not excluded
}

// Filter decides, per candidate element, whether it is eligible for queuing
// and what priority it receives. It is a pure decision function; the only
// side effect is informational logging.
type Filter struct {
	cfg    config.ExplorerConfig
	geo    Geometry
	scorer Scorer
	log    *zap.Logger
}

// NewFilter builds a filter. scorer may be nil under the systematic strategy.
func NewFilter(cfg config.ExplorerConfig, geo Geometry, scorer Scorer, log *zap.Logger) *Filter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Filter{cfg: cfg, geo: geo, scorer: scorer, log: log.With(zap.String("component", "filter"))}
}

// Decide evaluates the full exclusion rule chain, first match wins, and
// assigns a priority when the element survives.
func (f *Filter) Decide(screen *ui.Screen, e ui.Element) Decision {
	if reason, excluded := f.exclude(e); excluded {
		f.log.Debug("element excluded",
			zap.String("element", e.ID),
			zap.String("reason", reason))
		return Decision{Exclude: true, Reason: reason}
	}
	return Decision{Priority: f.priority(screen, e)}
}

// DecideDeep is the exhaustive-mode variant: only bounds validity and the
// credential rule apply. The credential exclusion is security-critical and
// holds in every mode.
func (f *Filter) DecideDeep(screen *ui.Screen, e ui.Element) Decision {
	if !e.Bounds.Valid() {
		return Decision{Exclude: true, Reason: ReasonInvalidGeometry}
	}
	if f.isCredential(e) {
		return Decision{Exclude: true, Reason: ReasonCredential}
	}
	return Decision{Priority: f.priority(screen, e) + f.cfg.DeepPriorityBoost}
}

func (f *Filter) exclude(e ui.Element) (string, bool) {
	if !e.Bounds.Valid() {
		return ReasonInvalidGeometry, true
	}

	cx, cy := e.Bounds.CenterX(), e.Bounds.CenterY()
	if cx < 0 || cy < 0 || cx >= f.geo.ScreenWidth || cy >= f.geo.ScreenHeight {
		return ReasonOffScreen, true
	}

	if classify.HasSystemPrefix(e.ResourceID, f.cfg.SystemPrefixes) {
		return ReasonSystemShell, true
	}

	if e.Bounds.Width < f.cfg.MinTouchTarget || e.Bounds.Height < f.cfg.MinTouchTarget {
		return ReasonTouchTarget, true
	}

	if cy < f.geo.StatusBarHeight || cy > f.geo.ScreenHeight-f.geo.NavBarHeight {
		return ReasonBarBand, true
	}

	// Narrow side bands in the lower half trigger system gestures.
	if cy > f.geo.ScreenHeight/2 &&
		(cx < f.cfg.EdgeGestureBand || cx > f.geo.ScreenWidth-f.cfg.EdgeGestureBand) {
		return ReasonEdgeGesture, true
	}

	if f.isCredential(e) {
		return ReasonCredential, true
	}

	if classify.IsExitRisk(e.ResourceID) || classify.IsExitRisk(e.Label) {
		return ReasonExitRisk, true
	}

	if classify.IsBackControl(e) {
		return ReasonBackControl, true
	}

	return "", false
}

func (f *Filter) isCredential(e ui.Element) bool {
	if classify.IsCredentialLike(e.ResourceID) || classify.IsCredentialLike(e.Label) {
		return true
	}
	// Long text blocks merely mention credentials; short labels are them.
	return len(e.Text) < 30 && classify.IsCredentialLike(e.Text)
}

// priority assigns the queue priority for a surviving element. The deep-mode
// boost is DecideDeep's alone; applying it here too would shift tap priorities
// relative to the fixed deep container priority.
func (f *Filter) priority(screen *ui.Screen, e ui.Element) int {
	if f.cfg.Strategy == config.StrategySystematic || f.scorer == nil {
		return systematicPriority(e.Bounds)
	}
	return f.scorer.ScoreAction(screen, e)
}

// ContainerPriority assigns the priority for scrolling a container.
func (f *Filter) ContainerPriority(c ui.ScrollContainer) int {
	if f.cfg.Strategy == config.StrategySystematic {
		return 500 - c.Bounds.Y/100
	}
	if f.cfg.Mode == config.ModeDeep {
		return 300
	}
	// Scrolling happens after direct taps under adaptive strategies.
	return 50
}

// systematicPriority orders elements top-left first by reading position,
// deterministic given geometry alone.
func systematicPriority(b ui.Bounds) int {
	row := b.CenterY() / 100
	col := b.CenterX() / 100
	readingOrder := row*100 + col
	if readingOrder < 0 {
		readingOrder = 0
	}
	if readingOrder > 999 {
		readingOrder = 999
	}
	return 1000 - readingOrder
}
