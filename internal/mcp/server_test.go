package mcp

import (
	"testing"

	"screenscout/internal/audit"
	"screenscout/internal/config"
	"screenscout/internal/explore"
	"screenscout/internal/knowledge"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Audit.TraceDir = t.TempDir()

	engine, err := knowledge.NewEngine(cfg.Knowledge, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	sink, err := audit.NewSink(cfg.Audit, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	geo := explore.Geometry{ScreenWidth: 1080, ScreenHeight: 1920}
	deps := Deps{
		Supervisor: explore.NewSupervisor(func() *explore.Session { return nil }, nil),
		Progress:   explore.NewProgressHolder(),
		Arbiter:    explore.NewArbiter(cfg.Explorer, nil, nil),
		Recovery:   explore.NewEscalator(cfg.Explorer, geo, nil),
		Navigator:  explore.NewNavigator(cfg.Explorer, nil),
		Audit:      sink,
		Engine:     engine,
	}

	server, err := NewServer(cfg, deps, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return server
}

func TestAllToolsRegistered(t *testing.T) {
	s := newTestServer(t)
	want := []string{
		"start-exploration", "stop-exploration", "exploration-status",
		"veto-action", "takeover-state", "recovery-stats",
		"recent-audit", "query-facts", "submit-rule",
	}
	for _, name := range want {
		tool, ok := s.tools[name]
		if !ok {
			t.Errorf("tool %q not registered", name)
			continue
		}
		if tool.Description() == "" {
			t.Errorf("tool %q has no description", name)
		}
		if tool.InputSchema() == nil {
			t.Errorf("tool %q has no schema", name)
		}
	}
	if len(s.tools) != len(want) {
		t.Errorf("registered %d tools, want %d", len(s.tools), len(want))
	}
}

func TestUnknownToolFails(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.ExecuteTool("does-not-exist", nil); err == nil {
		t.Error("unknown tool did not error")
	}
}

func TestExplorationStatusIdle(t *testing.T) {
	s := newTestServer(t)
	result, err := s.ExecuteTool("exploration-status", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	payload, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected payload type %T", result)
	}
	if running := payload["running"].(bool); running {
		t.Error("idle server reports a running session")
	}
}

func TestVetoWithoutPendingAction(t *testing.T) {
	s := newTestServer(t)
	result, err := s.ExecuteTool("veto-action", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	payload := result.(map[string]interface{})
	if vetoed := payload["vetoed"].(bool); vetoed {
		t.Error("veto with nothing pending reported success")
	}
}

func TestTakeoverStateIdle(t *testing.T) {
	s := newTestServer(t)
	result, err := s.ExecuteTool("takeover-state", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	payload := result.(map[string]interface{})
	if yielding := payload["yielding"].(bool); yielding {
		t.Error("idle arbiter reports yielding")
	}
	if ready := payload["resume_ready"].(bool); !ready {
		t.Error("idle arbiter not resume-ready")
	}
}

func TestRecoveryStatsInitial(t *testing.T) {
	s := newTestServer(t)
	result, err := s.ExecuteTool("recovery-stats", nil)
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	payload := result.(map[string]interface{})
	if current := payload["current"].(explore.RecoveryKind); current != explore.RecoverRandomScroll {
		t.Errorf("initial strategy = %s", current)
	}
	if _, ok := payload["recommended"]; ok {
		t.Error("recommendation present without any attempts")
	}
}

func TestRecentAuditEmpty(t *testing.T) {
	s := newTestServer(t)
	result, err := s.ExecuteTool("recent-audit", map[string]interface{}{"limit": float64(5)})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	payload := result.(map[string]interface{})
	if records := payload["records"].([]audit.Record); len(records) != 0 {
		t.Errorf("idle audit returned %d records", len(records))
	}
}

func TestQueryFactsValidation(t *testing.T) {
	s := newTestServer(t)

	result, _ := s.ExecuteTool("query-facts", map[string]interface{}{})
	payload := result.(map[string]interface{})
	if success := payload["success"].(bool); success {
		t.Error("missing predicate accepted")
	}

	result, _ = s.ExecuteTool("query-facts", map[string]interface{}{
		"predicate": "screen_visit",
		"after":     "not-a-timestamp",
	})
	payload = result.(map[string]interface{})
	if success := payload["success"].(bool); success {
		t.Error("invalid timestamp accepted")
	}

	result, err := s.ExecuteTool("query-facts", map[string]interface{}{"predicate": "screen_visit"})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	payload = result.(map[string]interface{})
	if count := payload["count"].(int); count != 0 {
		t.Errorf("fresh engine returned %d facts", count)
	}
}

func TestSubmitRuleValidation(t *testing.T) {
	s := newTestServer(t)

	result, _ := s.ExecuteTool("submit-rule", map[string]interface{}{})
	if success := result.(map[string]interface{})["success"].(bool); success {
		t.Error("empty rule accepted")
	}

	result, _ = s.ExecuteTool("submit-rule", map[string]interface{}{"rule": "broken("})
	if success := result.(map[string]interface{})["success"].(bool); success {
		t.Error("malformed rule accepted")
	}

	result, _ = s.ExecuteTool("submit-rule", map[string]interface{}{
		"rule": "visited(/home).\nreachable(X) :- visited(X).\n",
	})
	if success := result.(map[string]interface{})["success"].(bool); !success {
		t.Errorf("valid rule rejected: %v", result)
	}
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("bad-tool", map[string]interface{}{"ch": make(chan int)})
	if len(payload) == 0 {
		t.Fatal("empty fallback payload")
	}
	if string(payload[0]) != "{" {
		t.Errorf("fallback payload not JSON: %s", payload)
	}
}
