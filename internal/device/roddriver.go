package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"screenscout/internal/config"
	"screenscout/internal/ui"
)

// RodDriver drives a web application surface over the Chrome DevTools
// protocol. It implements ScreenProvider, GestureExecutor and ClickObserver.
type RodDriver struct {
	cfg  config.DeviceConfig
	log  *zap.Logger
	brow *rod.Browser
	page *rod.Page
}

func NewRodDriver(cfg config.DeviceConfig, log *zap.Logger) *RodDriver {
	if log == nil {
		log = zap.NewNop()
	}
	return &RodDriver{cfg: cfg, log: log.With(zap.String("component", "device"))}
}

// Connect attaches to an existing Chrome or launches a new one, then opens
// the start URL.
func (d *RodDriver) Connect(ctx context.Context) error {
	controlURL := d.cfg.DebuggerURL
	if controlURL == "" && len(d.cfg.Launch) > 0 {
		bin := d.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(d.cfg.IsHeadless())
		for _, rawFlag := range d.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	if controlURL == "" {
		return fmt.Errorf("device.debugger_url or device.launch must be provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	d.brow = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: d.cfg.StartURL})
	if err != nil {
		return fmt.Errorf("open start url: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            true,
	}).Call(page); err != nil {
		d.log.Warn("failed to set viewport", zap.Error(err))
	}

	_ = page.Timeout(d.cfg.NavTimeout()).WaitLoad()
	d.page = page
	d.log.Info("device connected", zap.String("control_url", controlURL))
	return nil
}

// Close shuts down the browser connection.
func (d *RodDriver) Close() error {
	if d.brow == nil {
		return nil
	}
	err := d.brow.Close()
	d.brow = nil
	d.page = nil
	return err
}

type capturedElement struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Label      string `json:"label"`
	ResourceID string `json:"resource_id"`
	ClassName  string `json:"class_name"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Clickable  bool   `json:"clickable"`
}

type capturedContainer struct {
	ID            string `json:"id"`
	X             int    `json:"x"`
	Y             int    `json:"y"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FullyScrolled bool   `json:"fully_scrolled"`
}

type capturedScreen struct {
	Activity   string              `json:"activity"`
	Elements   []capturedElement   `json:"elements"`
	Texts      []capturedElement   `json:"texts"`
	Containers []capturedContainer `json:"containers"`
}

// captureJS extracts clickable elements, visible text and scrollable
// containers in one pass. Geometry is rounded to integers so the structural
// screen hash stays stable across sub-pixel layout jitter.
const captureJS = `
() => {
	const clickableSel = 'a[href], button, input, select, textarea, [role="button"], [role="tab"], [role="link"], [onclick], [tabindex]';
	const out = { activity: location.pathname + '|' + document.title, elements: [], texts: [], containers: [] };
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const s = getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.display !== 'none' &&
			s.visibility !== 'hidden' && s.opacity !== '0';
	};
	const box = (el) => {
		const r = el.getBoundingClientRect();
		return { x: Math.round(r.x), y: Math.round(r.y), width: Math.round(r.width), height: Math.round(r.height) };
	};

	let idx = 0;
	document.querySelectorAll(clickableSel).forEach((el) => {
		if (!visible(el)) return;
		const b = box(el);
		out.elements.push({
			id: 'el-' + (idx++),
			text: (el.innerText || '').trim().substring(0, 80),
			label: el.getAttribute('aria-label') || '',
			resource_id: el.id || el.name || '',
			class_name: (el.tagName + ' ' + el.className).trim().substring(0, 80),
			x: b.x, y: b.y, width: b.width, height: b.height,
			clickable: true
		});
	});

	document.querySelectorAll('h1, h2, h3, p, span, label, li').forEach((el) => {
		if (!visible(el)) return;
		const text = (el.innerText || '').trim();
		if (!text || el.children.length > 0) return;
		const b = box(el);
		out.texts.push({
			id: 'txt-' + (idx++),
			text: text.substring(0, 200),
			label: '', resource_id: el.id || '',
			class_name: el.tagName,
			x: b.x, y: b.y, width: b.width, height: b.height,
			clickable: false
		});
	});

	let cidx = 0;
	const scrollables = [document.scrollingElement, ...document.querySelectorAll('*')].filter((el) => {
		if (!el) return false;
		const s = el === document.scrollingElement ? { overflowY: 'auto' } : getComputedStyle(el);
		return (s.overflowY === 'auto' || s.overflowY === 'scroll') &&
			el.scrollHeight > el.clientHeight + 10;
	});
	scrollables.slice(0, 10).forEach((el) => {
		const b = el === document.scrollingElement
			? { x: 0, y: 0, width: innerWidth, height: innerHeight }
			: box(el);
		out.containers.push({
			id: 'scroll-' + (cidx++),
			x: b.x, y: b.y, width: b.width, height: b.height,
			fully_scrolled: el.scrollTop + el.clientHeight >= el.scrollHeight - 2
		});
	});

	return out;
}
`

// CaptureScreen snapshots the current foreground surface.
func (d *RodDriver) CaptureScreen(ctx context.Context) (*ui.Screen, error) {
	if d.page == nil {
		return nil, ErrUnavailable
	}

	result, err := d.page.Context(ctx).Eval(captureJS)
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}

	raw, err := json.Marshal(result.Value.Val())
	if err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}
	var snap capturedScreen
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}

	toElement := func(c capturedElement) ui.Element {
		return ui.Element{
			ID:         c.ID,
			Text:       c.Text,
			Label:      c.Label,
			ResourceID: c.ResourceID,
			ClassName:  c.ClassName,
			Bounds:     ui.Bounds{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height},
			Clickable:  c.Clickable,
		}
	}

	elements := make([]ui.Element, 0, len(snap.Elements))
	for _, c := range snap.Elements {
		elements = append(elements, toElement(c))
	}
	texts := make([]ui.Element, 0, len(snap.Texts))
	for _, c := range snap.Texts {
		texts = append(texts, toElement(c))
	}
	containers := make([]ui.ScrollContainer, 0, len(snap.Containers))
	for _, c := range snap.Containers {
		containers = append(containers, ui.ScrollContainer{
			ID:            c.ID,
			Bounds:        ui.Bounds{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height},
			FullyScrolled: c.FullyScrolled,
		})
	}

	return ui.NewScreen(snap.Activity, elements, texts, containers), nil
}

// Tap dispatches a click at the given coordinates.
func (d *RodDriver) Tap(ctx context.Context, x, y int) error {
	if d.page == nil {
		return ErrUnavailable
	}
	page := d.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		return fmt.Errorf("move to %d,%d: %w", x, y, err)
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("tap %d,%d: %w", x, y, err)
	}
	return nil
}

// Swipe converts the gesture into a scroll delta at the start point.
func (d *RodDriver) Swipe(ctx context.Context, fromX, fromY, toX, toY int) error {
	if d.page == nil {
		return ErrUnavailable
	}
	page := d.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: float64(fromX), Y: float64(fromY)}); err != nil {
		return fmt.Errorf("move to swipe origin: %w", err)
	}
	// A finger swipe up scrolls content down; the wheel delta is the inverse
	// of the finger travel.
	if err := page.Mouse.Scroll(float64(fromX-toX), float64(fromY-toY), 5); err != nil {
		return fmt.Errorf("swipe: %w", err)
	}
	return nil
}

// Back navigates one step back in history.
func (d *RodDriver) Back(ctx context.Context) error {
	if d.page == nil {
		return ErrUnavailable
	}
	page := d.page.Context(ctx)
	if err := page.NavigateBack(); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	_ = page.Timeout(d.cfg.NavTimeout()).WaitLoad()
	return nil
}

// RestartApp relaunches the app surface by renavigating to the start URL.
func (d *RodDriver) RestartApp(ctx context.Context, pkg string) error {
	if d.page == nil {
		return ErrUnavailable
	}
	page := d.page.Context(ctx)
	if err := page.Navigate(d.cfg.StartURL); err != nil {
		return fmt.Errorf("restart app: %w", err)
	}
	_ = page.Timeout(d.cfg.NavTimeout()).WaitLoad()
	d.log.Info("app restarted", zap.String("package", pkg))
	return nil
}

// StartClickStream exposes a reporting hook into the page and installs a
// capture-phase click listener. Every click, bot or user, funnels through
// the handler; disambiguation happens upstream in the arbiter.
func (d *RodDriver) StartClickStream(ctx context.Context, handler func(bounds ui.Bounds)) error {
	if d.page == nil {
		return ErrUnavailable
	}

	page := d.page.Context(ctx)
	_, err := page.Expose("scoutReportClick", func(j gson.JSON) (interface{}, error) {
		bounds := ui.Bounds{
			X:      j.Get("x").Int(),
			Y:      j.Get("y").Int(),
			Width:  j.Get("width").Int(),
			Height: j.Get("height").Int(),
		}
		handler(bounds)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("expose click hook: %w", err)
	}

	_, err = page.Eval(`
	() => {
		if (window.__scoutClickHooked) return;
		window.__scoutClickHooked = true;
		document.addEventListener('click', (e) => {
			// A 1x1 box centered on the click point; the arbiter only
			// needs the center for claim matching and hit testing.
			window.scoutReportClick({
				x: Math.round(e.clientX), y: Math.round(e.clientY),
				width: 1, height: 1
			});
		}, true);
	}
	`)
	if err != nil {
		return fmt.Errorf("install click listener: %w", err)
	}
	return nil
}
