package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rohanthewiz/rweb"
	"sqlpilot/prompts"
)

// scriptedClient pops one canned completion per call
type scriptedClient struct {
	mu     sync.Mutex
	script []func(system, user string) (string, error)
	calls  int
}

func (c *scriptedClient) Complete(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.script) == 0 {
		return "", fmt.Errorf("no scripted response for call %d", c.calls)
	}
	fn := c.script[0]
	c.script = c.script[1:]
	return fn(system, user)
}

func (c *scriptedClient) push(fns ...func(system, user string) (string, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, fns...)
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func reply(text string) func(string, string) (string, error) {
	return func(string, string) (string, error) { return text, nil }
}

func planJSON(sqls ...string) string {
	steps := make([]map[string]any, 0, len(sqls))
	for i, sql := range sqls {
		steps = append(steps, map[string]any{
			"id": i + 1, "description": fmt.Sprintf("step %d", i+1), "sql": sql,
		})
	}
	bz, _ := json.Marshal(map[string]any{"plan": steps, "explanation": "because"})
	return string(bz)
}

func correctionJSON(sql string) string {
	bz, _ := json.Marshal(map[string]any{"sql": sql, "explanation": "fixed"})
	return string(bz)
}

func analysisJSON(summary string) string {
	bz, _ := json.Marshal(map[string]any{"summary": summary, "needsFollowUp": false})
	return string(bz)
}

type stubSchemas struct{ ctx string }

func (s stubSchemas) SchemaContextString(string, []string) (string, error) { return s.ctx, nil }

type stubHistory struct{ turns []prompts.ChatTurn }

func (h stubHistory) GetChatMessages(string, int) ([]prompts.ChatTurn, error) {
	return h.turns, nil
}

func testOptions() Options {
	return Options{
		RecoveryRetryBound: 2,
		HistoryWindow:      4,
		CompletionTimeout:  2 * time.Second,
	}
}

func newTestOrchestrator(client CompletionClient) *Orchestrator {
	return NewOrchestrator(NewRegistry(), client, stubSchemas{ctx: "users(id integer, created_at timestamp)"},
		stubHistory{}, testOptions())
}

type frame struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Data      map[string]any `json:"data"`
}

func nextEvent(t *testing.T, ch chan any) frame {
	t.Helper()
	select {
	case raw, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed while waiting for event")
		}
		ev, isSSE := raw.(rweb.SSEvent)
		if !isSSE {
			t.Fatalf("unexpected event payload type %T", raw)
		}
		data, isStr := ev.Data.(string)
		if !isStr {
			t.Fatalf("unexpected event data type %T", ev.Data)
		}
		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("event frame is not JSON: %v", err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return frame{}
}

func expectEvent(t *testing.T, ch chan any, eventType string) frame {
	t.Helper()
	f := nextEvent(t, ch)
	if f.Type != eventType {
		t.Fatalf("expected event %q, got %q (data: %v)", eventType, f.Type, f.Data)
	}
	return f
}

func expectNoEvent(t *testing.T, ch chan any) {
	t.Helper()
	select {
	case raw, ok := <-ch:
		if ok {
			t.Fatalf("expected no event, got %v", raw)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, ch chan any) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed, got an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func attach(t *testing.T, o *Orchestrator, sessionID string) chan any {
	t.Helper()
	s, exists := o.Registry().Get(sessionID)
	if !exists {
		t.Fatal("session not in registry")
	}
	ch := make(chan any, 64)
	if !s.Events().Attach(ch) {
		t.Fatal("failed to attach push channel")
	}
	return ch
}

func startSession(t *testing.T, o *Orchestrator, message string) string {
	t.Helper()
	id, err := o.Start(StartRequest{
		UserID:       "user-1",
		ConnectionID: "conn-1",
		Message:      message,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return id
}

func TestStartValidatesMessage(t *testing.T) {
	o := newTestOrchestrator(&scriptedClient{})
	if _, err := o.Start(StartRequest{UserID: "u", ConnectionID: "c", Message: "x"}); err == nil {
		t.Error("expected error for single-character message")
	}
	if _, err := o.Start(StartRequest{UserID: "u", Message: "show users"}); err == nil {
		t.Error("expected error for missing connection id")
	}
}

func TestHappyPathSingleStep(t *testing.T) {
	client := &scriptedClient{}
	client.push(
		reply(planJSON("SELECT * FROM users ORDER BY created_at DESC LIMIT 5")),
		reply(analysisJSON("Found the 5 most recent signups.")),
	)
	o := newTestOrchestrator(client)

	id := startSession(t, o, "show me the 5 most recent signups")
	ch := attach(t, o, id)

	expectEvent(t, ch, EventSession)
	proposal := expectEvent(t, ch, EventStepProposal)
	step := proposal.Data["step"].(map[string]any)
	proposedSQL := step["sql"].(string)

	if !o.Approve(id, "") {
		t.Fatal("approve returned false")
	}
	ready := expectEvent(t, ch, EventStepReady)
	if ready.Data["sql"].(string) != proposedSQL {
		t.Errorf("step_ready sql %q does not match proposed %q", ready.Data["sql"], proposedSQL)
	}

	if !o.ProvideResult(id, ExecutionResult{Success: true, RowCount: 5,
		Preview: []map[string]any{{"id": 1}, {"id": 2}}}) {
		t.Fatal("provide result returned false")
	}

	analysis := expectEvent(t, ch, EventAnalysis)
	if analysis.Data["summary"].(string) == "" {
		t.Error("analysis summary is empty")
	}
	expectEvent(t, ch, EventDone)
	expectClosed(t, ch)

	if o.Registry().Len() != 0 {
		t.Error("completed session still in registry")
	}
}

func TestTwoStepEventOrdering(t *testing.T) {
	client := &scriptedClient{}
	client.push(
		reply(planJSON("CREATE TABLE t (id INTEGER)", "INSERT INTO t VALUES (1)")),
		reply(analysisJSON("Table created.")),
		reply(analysisJSON("Row inserted.")),
	)
	o := newTestOrchestrator(client)

	id := startSession(t, o, "create a table t and add a row")
	ch := attach(t, o, id)

	want := []string{EventSession, EventStepProposal, EventStepReady, EventAnalysis,
		EventStepProposal, EventStepReady, EventAnalysis, EventDone}
	got := make([]string, 0, len(want))

	for range want {
		f := nextEvent(t, ch)
		got = append(got, f.Type)
		switch f.Type {
		case EventStepProposal:
			if !o.Approve(id, "") {
				t.Fatal("approve returned false")
			}
		case EventStepReady:
			if !o.ProvideResult(id, ExecutionResult{Success: true, AffectedRows: 1}) {
				t.Fatal("provide result returned false")
			}
		}
	}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("event order mismatch:\n got %v\nwant %v", got, want)
	}
	expectClosed(t, ch)
}

func TestApproveIsIdempotent(t *testing.T) {
	client := &scriptedClient{}
	client.push(reply(planJSON("SELECT 1")))
	o := newTestOrchestrator(client)

	id := startSession(t, o, "select one")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	if !o.Approve(id, "") {
		t.Fatal("first approve returned false")
	}
	if o.Approve(id, "") {
		t.Error("second approve returned true; should be rejected as a duplicate")
	}

	expectEvent(t, ch, EventStepReady)
	expectNoEvent(t, ch)

	s, _ := o.Registry().Get(id)
	if s.State() != StateAwaitingResult {
		t.Errorf("expected awaiting_result, got %s", s.State())
	}
}

func TestApproveWithModifiedSQL(t *testing.T) {
	client := &scriptedClient{}
	client.push(reply(planJSON("SELECT * FROM users")))
	o := newTestOrchestrator(client)

	id := startSession(t, o, "list users")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	modified := "SELECT id, email FROM users"
	if !o.Approve(id, modified) {
		t.Fatal("approve returned false")
	}
	ready := expectEvent(t, ch, EventStepReady)
	if ready.Data["sql"].(string) != modified {
		t.Errorf("step_ready carries %q, want modified sql %q", ready.Data["sql"], modified)
	}
}

func TestRecoveryProposesCorrectedSQL(t *testing.T) {
	original := "SELECT emial FROM users"
	corrected := "SELECT email FROM users"

	client := &scriptedClient{}
	client.push(
		reply(planJSON(original)),
		reply(correctionJSON(corrected)),
	)
	o := newTestOrchestrator(client)

	id := startSession(t, o, "get user emails")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	if !o.Approve(id, "") {
		t.Fatal("approve returned false")
	}
	expectEvent(t, ch, EventStepReady)

	if !o.ProvideResult(id, ExecutionResult{Success: false,
		Error: &ExecError{Message: `column "emial" does not exist`}}) {
		t.Fatal("provide result returned false")
	}

	proposal := expectEvent(t, ch, EventStepProposal)
	step := proposal.Data["step"].(map[string]any)
	if step["sql"].(string) != corrected {
		t.Errorf("re-proposed sql %q, want corrected %q", step["sql"], corrected)
	}
	if int(step["retries"].(float64)) != 1 {
		t.Errorf("retry counter = %v, want 1", step["retries"])
	}

	s, _ := o.Registry().Get(id)
	if s.State() != StateAwaitingApproval {
		t.Errorf("expected awaiting_approval after recovery, got %s", s.State())
	}
}

func TestRecoveryExhaustion(t *testing.T) {
	client := &scriptedClient{}
	client.push(
		reply(planJSON("SELECT emial FROM users")),
		reply(correctionJSON("SELECT emayl FROM users")),
	)
	o := newTestOrchestrator(client)

	id := startSession(t, o, "get user emails")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	failure := ExecutionResult{Success: false, Error: &ExecError{Message: "column does not exist"}}

	// First failure: recovery proposes a new statement
	if !o.Approve(id, "") {
		t.Fatal("first approve returned false")
	}
	expectEvent(t, ch, EventStepReady)
	if !o.ProvideResult(id, failure) {
		t.Fatal("first result returned false")
	}
	expectEvent(t, ch, EventStepProposal)

	// Second failure hits the bound
	if !o.Approve(id, "") {
		t.Fatal("second approve returned false")
	}
	expectEvent(t, ch, EventStepReady)
	if !o.ProvideResult(id, failure) {
		t.Fatal("second result returned false")
	}

	errEvent := expectEvent(t, ch, EventAgentError)
	if fatal, _ := errEvent.Data["fatal"].(bool); !fatal {
		t.Error("exhaustion error should be fatal")
	}
	expectClosed(t, ch)

	if o.ProvideResult(id, failure) {
		t.Error("result after exhaustion should return false")
	}
	if o.Registry().Len() != 0 {
		t.Error("failed session still in registry")
	}
}

func TestRejectAbandonsSession(t *testing.T) {
	client := &scriptedClient{}
	client.push(reply(planJSON("DROP TABLE users")))
	o := newTestOrchestrator(client)

	id := startSession(t, o, "drop the users table")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	if !o.Reject(id, "not what I wanted") {
		t.Fatal("reject returned false")
	}
	expectClosed(t, ch)

	if o.Approve(id, "") {
		t.Error("approve after reject should return false")
	}
	if o.Registry().Len() != 0 {
		t.Error("rejected session still in registry")
	}
}

func TestMalformedPlanFailsSession(t *testing.T) {
	client := &scriptedClient{}
	client.push(reply("I would be happy to help! First, let's look at your tables."))
	o := newTestOrchestrator(client)

	id := startSession(t, o, "show me everything")
	ch := attach(t, o, id)

	expectEvent(t, ch, EventSession)
	errEvent := expectEvent(t, ch, EventAgentError)
	if canRetry, _ := errEvent.Data["canRetry"].(bool); !canRetry {
		t.Error("planning failure should be retryable with a new session")
	}
	expectClosed(t, ch)

	if o.Registry().Len() != 0 {
		t.Error("failed session still in registry")
	}
}

func TestEmptyPlanIsPlanningFailure(t *testing.T) {
	client := &scriptedClient{}
	client.push(reply(`{"plan": [], "explanation": "nothing to do"}`))
	o := newTestOrchestrator(client)

	id := startSession(t, o, "do nothing")
	ch := attach(t, o, id)

	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventAgentError)
	expectClosed(t, ch)
}

func TestPlanningRetriesOnceOnTransportFailure(t *testing.T) {
	client := &scriptedClient{}
	client.push(
		func(string, string) (string, error) { return "", fmt.Errorf("connection reset") },
		reply(planJSON("SELECT 1")),
	)
	o := newTestOrchestrator(client)

	id := startSession(t, o, "select one")
	ch := attach(t, o, id)

	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	if client.callCount() != 2 {
		t.Errorf("expected exactly 2 completion calls, got %d", client.callCount())
	}
}

func TestStopSupersedesInFlightCompletion(t *testing.T) {
	release := make(chan struct{})
	client := &scriptedClient{}
	client.push(func(string, string) (string, error) {
		<-release
		return planJSON("SELECT 1"), nil
	})
	o := newTestOrchestrator(client)

	id := startSession(t, o, "select one")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)

	if !o.Stop(id) {
		t.Fatal("stop returned false")
	}
	expectClosed(t, ch)

	// Let the pending completion resolve; its result must be discarded
	close(release)
	time.Sleep(100 * time.Millisecond)

	if o.Registry().Len() != 0 {
		t.Error("stopped session still in registry")
	}
	if o.Stop(id) {
		t.Error("second stop should return false once the session is gone")
	}
}

func TestStopFromAwaitingApproval(t *testing.T) {
	client := &scriptedClient{}
	client.push(reply(planJSON("SELECT 1")))
	o := newTestOrchestrator(client)

	id := startSession(t, o, "select one")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	if !o.Stop(id) {
		t.Fatal("stop returned false")
	}
	expectClosed(t, ch)
	if o.Approve(id, "") {
		t.Error("approve after stop should return false")
	}
}

func TestResultBeforeApprovalIsRejected(t *testing.T) {
	client := &scriptedClient{}
	client.push(reply(planJSON("SELECT 1")))
	o := newTestOrchestrator(client)

	id := startSession(t, o, "select one")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	if o.ProvideResult(id, ExecutionResult{Success: true}) {
		t.Error("result while awaiting approval should return false")
	}
	expectNoEvent(t, ch)
}

func TestAnalysisFailureDegradesToStockSummary(t *testing.T) {
	client := &scriptedClient{}
	client.push(
		reply(planJSON("SELECT 1")),
		func(string, string) (string, error) { return "", fmt.Errorf("model unavailable") },
		func(string, string) (string, error) { return "", fmt.Errorf("model unavailable") },
	)
	o := newTestOrchestrator(client)

	id := startSession(t, o, "select one")
	ch := attach(t, o, id)
	expectEvent(t, ch, EventSession)
	expectEvent(t, ch, EventStepProposal)

	o.Approve(id, "")
	expectEvent(t, ch, EventStepReady)
	o.ProvideResult(id, ExecutionResult{Success: true, RowCount: 1})

	analysis := expectEvent(t, ch, EventAnalysis)
	if analysis.Data["summary"].(string) == "" {
		t.Error("expected fallback summary when analysis completion fails")
	}
	expectEvent(t, ch, EventDone)
	expectClosed(t, ch)
}
