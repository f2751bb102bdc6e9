package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// MaxRotatedFiles bounds how many session traces are kept on disk.
	MaxRotatedFiles = 3
)

// traceEvent is a single JSONL record in the session trace.
type traceEvent struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder manages rotating JSONL trace files for session debugging.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
}

// NewRecorder creates a recorder, ensuring the trace directory exists.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = "data/traces"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath}, nil
}

// Start begins a new recording session, rotating old trace files so only the
// most recent sessions are kept.
func (r *Recorder) Start(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("explore_%s_%d.jsonl", sessionID, time.Now().UnixMilli())
	path := filepath.Join(r.basePath, filename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	return nil
}

// Log writes an event to the current trace file.
func (r *Recorder) Log(eventType, sessionID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}

	_ = r.encoder.Encode(traceEvent{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
	})
}

// rotate keeps only the newest MaxRotatedFiles.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	var traces []struct {
		Name string
		Time time.Time
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, struct {
			Name string
			Time time.Time
		}{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].Time.After(traces[j].Time)
	})

	if len(traces) >= MaxRotatedFiles {
		keep := MaxRotatedFiles - 1
		for i := keep; i < len(traces); i++ {
			_ = os.Remove(filepath.Join(r.basePath, traces[i].Name))
		}
	}
	return nil
}

// Close finishes the current recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
