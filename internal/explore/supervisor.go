package explore

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a session start races an active session.
var ErrAlreadyRunning = errors.New("an exploration session is already running")

// Supervisor owns the lifecycle of at most one exploration session at a time.
// The operator surface starts and stops sessions through it; the session loop
// itself never outlives the supervisor's context.
type Supervisor struct {
	newSession func() *Session
	log        *zap.Logger

	mu      sync.Mutex
	current *Session
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func NewSupervisor(newSession func() *Session, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		newSession: newSession,
		log:        log.With(zap.String("component", "supervisor")),
	}
}

// Start launches a new session in the background. Returns the session ID.
func (s *Supervisor) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		select {
		case <-s.done:
			// Previous session finished on its own.
		default:
			return "", ErrAlreadyRunning
		}
	}

	session := s.newSession()
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.current = session
	s.cancel = cancel
	s.done = done
	s.lastErr = nil

	go func() {
		defer close(done)
		err := session.Run(runCtx)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("session ended", zap.String("session", session.ID), zap.Error(err))
		}
	}()

	s.log.Info("session started", zap.String("session", session.ID))
	return session.ID, nil
}

// Stop cancels the running session, if any, and waits for it to unwind.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	running := s.current != nil
	s.mu.Unlock()

	if !running {
		return false
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.current = nil
	s.cancel = nil
	s.mu.Unlock()
	return true
}

// Running reports whether a session is currently active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Session returns the current session, which may have already finished.
func (s *Supervisor) Session() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// LastError returns the terminal error of the most recent session.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
