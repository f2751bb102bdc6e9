// Package audit persists structured records of every action attempt: a
// rotating JSONL trace on disk, a capacity-bounded in-memory history for the
// operator surface, and structured log output. The exploration core only
// writes records; it never reads them back.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"screenscout/internal/config"
)

// Record describes one action attempt.
type Record struct {
	Time        time.Time `json:"time"`
	SessionID   string    `json:"session_id"`
	Action      string    `json:"action"` // tap, scroll, back, restart, recovery, veto, takeover
	Target      string    `json:"target,omitempty"`
	ScreenID    string    `json:"screen_id,omitempty"`
	AccessLevel string    `json:"access_level"` // autonomous or user
	Blocked     bool      `json:"blocked"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
}

// Sink accepts audit records. Append and read are mutually exclusive; when
// the in-memory history is full the oldest record is dropped.
type Sink struct {
	log      *zap.Logger
	recorder *Recorder
	limit    int

	mu      sync.Mutex
	history []Record
}

func NewSink(cfg config.AuditConfig, log *zap.Logger) (*Sink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	recorder, err := NewRecorder(cfg.TraceDir)
	if err != nil {
		return nil, err
	}
	limit := cfg.HistorySize
	if limit <= 0 {
		limit = 200
	}
	return &Sink{
		log:      log.With(zap.String("component", "audit")),
		recorder: recorder,
		limit:    limit,
	}, nil
}

// StartSession begins a fresh trace file and clears the in-memory history.
func (s *Sink) StartSession(sessionID string) error {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	return s.recorder.Start(sessionID)
}

// Write records one action attempt.
func (s *Sink) Write(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	s.mu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > s.limit {
		s.history = append(s.history[:0], s.history[len(s.history)-s.limit:]...)
	}
	s.mu.Unlock()

	s.recorder.Log(r.Action, r.SessionID, r)
	s.log.Info("action",
		zap.String("action", r.Action),
		zap.String("target", r.Target),
		zap.String("screen", r.ScreenID),
		zap.String("access", r.AccessLevel),
		zap.Bool("blocked", r.Blocked),
		zap.Bool("success", r.Success))
}

// Recent returns up to n most recent records, newest last.
func (s *Sink) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]Record, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Close finishes the current trace.
func (s *Sink) Close() error {
	return s.recorder.Close()
}
