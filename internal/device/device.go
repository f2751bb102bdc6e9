// Package device defines the capture and gesture contracts the exploration
// core consumes, plus the go-rod implementation that drives a web application
// surface through a Chrome DevTools connection.
package device

import (
	"context"
	"errors"

	"screenscout/internal/ui"
)

// ErrUnavailable is returned by every operation when the automation backend
// is not connected. The control loop treats it as transient and routes it
// through recovery, never as fatal.
var ErrUnavailable = errors.New("automation service unavailable")

// ScreenProvider returns immutable screen snapshots on demand.
type ScreenProvider interface {
	CaptureScreen(ctx context.Context) (*ui.Screen, error)
}

// GestureExecutor performs physical actions on the device surface.
type GestureExecutor interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, fromX, fromY, toX, toY int) error
	Back(ctx context.Context) error
	// RestartApp clears and relaunches the app under exploration.
	RestartApp(ctx context.Context, pkg string) error
}

// ClickObserver delivers asynchronously observed click events (bot and user
// alike) to a handler. The handler runs on the observer's own goroutine.
type ClickObserver interface {
	StartClickStream(ctx context.Context, handler func(bounds ui.Bounds)) error
}

// Driver is the full capability set the session wires together.
type Driver interface {
	ScreenProvider
	GestureExecutor
	ClickObserver
}
