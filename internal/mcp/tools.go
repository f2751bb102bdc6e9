package mcp

import (
	"context"
	"errors"
	"time"

	"screenscout/internal/audit"
	"screenscout/internal/explore"
	"screenscout/internal/knowledge"
)

func getStringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func emptySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

type StartExplorationTool struct {
	supervisor *explore.Supervisor
}

func (t *StartExplorationTool) Name() string { return "start-exploration" }
func (t *StartExplorationTool) Description() string {
	return `Start an autonomous exploration session on the connected device.

Only one session runs at a time; starting while one is active fails.
Use exploration-status to follow progress and stop-exploration to end it.

Returns: {success, session_id}.`
}
func (t *StartExplorationTool) InputSchema() map[string]interface{} { return emptySchema() }
func (t *StartExplorationTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	// The session must outlive this tool call.
	id, err := t.supervisor.Start(context.Background())
	if err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}
	return map[string]interface{}{"success": true, "session_id": id}, nil
}

type StopExplorationTool struct {
	supervisor *explore.Supervisor
}

func (t *StopExplorationTool) Name() string { return "stop-exploration" }
func (t *StopExplorationTool) Description() string {
	return `Stop the running exploration session and release all of its state.

Safe to call when no session is running.

Returns: {success, stopped}.`
}
func (t *StopExplorationTool) InputSchema() map[string]interface{} { return emptySchema() }
func (t *StopExplorationTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	stopped := t.supervisor.Stop()
	return map[string]interface{}{"success": true, "stopped": stopped}, nil
}

type ExplorationStatusTool struct {
	supervisor *explore.Supervisor
	progress   *explore.ProgressHolder
	navigator  *explore.Navigator
}

func (t *ExplorationStatusTool) Name() string { return "exploration-status" }
func (t *ExplorationStatusTool) Description() string {
	return `Inspect the current exploration session.

Returns the latest progress snapshot (state, screens visited, actions
executed, queue and stack depth, active recovery strategy), whether a
session is running, the navigation stack, and the last terminal error.`
}
func (t *ExplorationStatusTool) InputSchema() map[string]interface{} { return emptySchema() }
func (t *ExplorationStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	result := map[string]interface{}{
		"running":  t.supervisor.Running(),
		"progress": t.progress.Get(),
		"stack":    t.navigator.Snapshot(),
	}
	if err := t.supervisor.LastError(); err != nil && !errors.Is(err, context.Canceled) {
		result["last_error"] = err.Error()
	}
	return result, nil
}

type VetoActionTool struct {
	arbiter *explore.Arbiter
}

func (t *VetoActionTool) Name() string { return "veto-action" }
func (t *VetoActionTool) Description() string {
	return `Cancel the action currently awaiting its veto window.

The veto emits a negative learning signal for that screen/action pair, so
the session deprioritizes it in the future. Only works while an action is
pending; set explorer.veto_window above zero to get a pending window.

Returns: {success, vetoed}.`
}
func (t *VetoActionTool) InputSchema() map[string]interface{} { return emptySchema() }
func (t *VetoActionTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"success": true, "vetoed": t.arbiter.Veto()}, nil
}

type TakeoverStateTool struct {
	arbiter *explore.Arbiter
}

func (t *TakeoverStateTool) Name() string { return "takeover-state" }
func (t *TakeoverStateTool) Description() string {
	return `Inspect the user-takeover arbiter.

Reports whether a user currently controls the device, whether the
inactivity window has elapsed, whether an action awaits its veto window,
and the recorded user demonstrations (most recent last).`
}
func (t *TakeoverStateTool) InputSchema() map[string]interface{} { return emptySchema() }
func (t *TakeoverStateTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"yielding":     t.arbiter.IsYielding(),
		"resume_ready": t.arbiter.ResumeReady(),
		"veto_pending": t.arbiter.HasPendingVeto(),
		"user_actions": t.arbiter.UserActions(),
	}, nil
}

type RecoveryStatsTool struct {
	recovery *explore.Escalator
}

func (t *RecoveryStatsTool) Name() string { return "recovery-stats" }
func (t *RecoveryStatsTool) Description() string {
	return `Inspect the recovery escalator.

Returns per-strategy attempt/success counters, the currently active
strategy, and the recommended strategy once enough attempts exist to
rank them.`
}
func (t *RecoveryStatsTool) InputSchema() map[string]interface{} { return emptySchema() }
func (t *RecoveryStatsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	result := map[string]interface{}{
		"current":   t.recovery.CurrentStrategy(),
		"exhausted": t.recovery.IsExhausted(),
		"stats":     t.recovery.Stats(),
	}
	if best, ok := t.recovery.RecommendedStrategy(); ok {
		result["recommended"] = best
	}
	return result, nil
}

type RecentAuditTool struct {
	sink *audit.Sink
}

func (t *RecentAuditTool) Name() string { return "recent-audit" }
func (t *RecentAuditTool) Description() string {
	return `Read the most recent audit records of the running session.

Every tap, scroll, back press, recovery attempt, veto, and takeover is
recorded with its access level (autonomous or user) and outcome. The full
history is persisted as JSONL traces on disk; this returns the in-memory
tail.

Returns: {records: [...]} newest last.`
}
func (t *RecentAuditTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum records to return (default 50)",
			},
		},
	}
}
func (t *RecentAuditTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", 50)
	return map[string]interface{}{"records": t.sink.Recent(limit)}, nil
}

type QueryFactsTool struct {
	engine *knowledge.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Query the learning store for facts by predicate.

Known predicates: screen_visit, action_attempt, action_feedback,
user_takeover, session_reward, likely_dead_end (derived).

Optionally bound by a time window using RFC3339 timestamps.

Returns: {facts: [{predicate, args, timestamp}], count}.`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name to query",
			},
			"after": map[string]interface{}{
				"type":        "string",
				"description": "Only facts after this RFC3339 timestamp",
			},
			"before": map[string]interface{}{
				"type":        "string",
				"description": "Only facts before this RFC3339 timestamp",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *QueryFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return map[string]interface{}{"success": false, "error": "predicate is required"}, nil
	}

	var after, before time.Time
	if s := getStringArg(args, "after"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return map[string]interface{}{"success": false, "error": "invalid after timestamp: " + err.Error()}, nil
		}
		after = ts
	}
	if s := getStringArg(args, "before"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return map[string]interface{}{"success": false, "error": "invalid before timestamp: " + err.Error()}, nil
		}
		before = ts
	}

	var facts []knowledge.Fact
	if after.IsZero() && before.IsZero() {
		facts = t.engine.FactsByPredicate(predicate)
	} else {
		facts = t.engine.QueryTemporal(predicate, after, before)
	}
	return map[string]interface{}{"facts": facts, "count": len(facts)}, nil
}

type SubmitRuleTool struct {
	engine *knowledge.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Mangle rule to the learning store at runtime.

Rules derive new predicates from observed facts; the queue builder
consults the derived likely_dead_end predicate when scoring actions.

Example:
  likely_dead_end(Screen, Action) :-
    action_attempt(Screen, Action, "false").

Returns: {success}.`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle rule source",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return map[string]interface{}{"success": false, "error": "rule is required"}, nil
	}
	if err := t.engine.AddRule(rule); err != nil {
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}
	return map[string]interface{}{"success": true}, nil
}
