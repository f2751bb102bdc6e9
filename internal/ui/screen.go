package ui

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// Bounds is the pixel rectangle an element occupies on screen.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CenterX returns the horizontal center of the rectangle.
func (b Bounds) CenterX() int { return b.X + b.Width/2 }

// CenterY returns the vertical center of the rectangle.
func (b Bounds) CenterY() int { return b.Y + b.Height/2 }

// Valid reports whether the rectangle has positive area.
func (b Bounds) Valid() bool { return b.Width > 0 && b.Height > 0 }

// Contains reports whether the point lies inside the rectangle.
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Element is an immutable snapshot of one on-screen control at capture time.
type Element struct {
	ID         string `json:"id"`
	Text       string `json:"text,omitempty"`
	Label      string `json:"label,omitempty"` // accessibility label
	ResourceID string `json:"resource_id,omitempty"`
	ClassName  string `json:"class_name,omitempty"`
	Bounds     Bounds `json:"bounds"`
	Clickable  bool   `json:"clickable"`
}

// ActionKey derives the stable key the learning system uses for this element.
// Prefers the resource id, then the accessibility label, then visible text,
// falling back to class plus position for anonymous controls.
func (e Element) ActionKey() string {
	switch {
	case e.ResourceID != "":
		return "res:" + e.ResourceID
	case e.Label != "":
		return "label:" + sanitizeKey(e.Label)
	case e.Text != "":
		return "text:" + sanitizeKey(e.Text)
	default:
		return fmt.Sprintf("pos:%s@%d,%d", e.ClassName, e.Bounds.CenterX(), e.Bounds.CenterY())
	}
}

func sanitizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > 40 {
		s = s[:40]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

// ScrollContainer describes one scrollable region of a screen.
type ScrollContainer struct {
	ID            string `json:"id"`
	Bounds        Bounds `json:"bounds"`
	FullyScrolled bool   `json:"fully_scrolled"`
}

// Screen is an immutable capture of one UI state. ID is a structural hash so
// the same layout hashes equal across captures.
type Screen struct {
	ID           string            `json:"id"`
	Activity     string            `json:"activity"`
	Elements     []Element         `json:"elements"`      // clickable controls
	TextElements []Element         `json:"text_elements"` // non-interactive text
	Containers   []ScrollContainer `json:"containers"`
	CapturedAt   time.Time         `json:"captured_at"`
}

// NewScreen builds a screen snapshot and derives its structural ID.
func NewScreen(activity string, elements, textElements []Element, containers []ScrollContainer) *Screen {
	s := &Screen{
		Activity:     activity,
		Elements:     elements,
		TextElements: textElements,
		Containers:   containers,
		CapturedAt:   time.Now(),
	}
	s.ID = structuralHash(s)
	return s
}

// ElementByID returns the clickable element with the given ID.
func (s *Screen) ElementByID(id string) (Element, bool) {
	for _, e := range s.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// ContainerByID returns the scroll container with the given ID.
func (s *Screen) ContainerByID(id string) (ScrollContainer, bool) {
	for _, c := range s.Containers {
		if c.ID == id {
			return c, true
		}
	}
	return ScrollContainer{}, false
}

// VisitKey is the composite key marking one element of one screen as attempted.
func VisitKey(screenID, elementID string) string {
	return screenID + ":" + elementID
}

// structuralHash fingerprints the screen layout. Element order is normalized
// so capture-order jitter does not change the ID; text content is included
// only through action keys, keeping the hash stable across minor redraws.
func structuralHash(s *Screen) string {
	parts := make([]string, 0, len(s.Elements)+1)
	for _, e := range s.Elements {
		parts = append(parts, fmt.Sprintf("%s|%s|%d,%d,%d,%d",
			e.ActionKey(), e.ClassName, e.Bounds.X, e.Bounds.Y, e.Bounds.Width, e.Bounds.Height))
	}
	sort.Strings(parts)

	h := fnv.New64a()
	_, _ = h.Write([]byte(s.Activity))
	for _, p := range parts {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(p))
	}
	return fmt.Sprintf("scr-%016x", h.Sum64())
}
