package agent

import (
	"context"
	"sync"
	"time"

	"sqlpilot/prompts"
)

// State is the lifecycle state of an agent session
type State string

const (
	StatePlanning         State = "planning"
	StateAwaitingApproval State = "awaiting_approval"
	StateAwaitingResult   State = "awaiting_result"
	StateAnalyzing        State = "analyzing"
	StateRecovering       State = "recovering"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateStopped          State = "stopped"
)

// Terminal reports whether a session in this state can make no further
// transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateStopped
}

// StepStatus is the status of a single plan step
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"
	StepStatusProposed       StepStatus = "proposed"
	StepStatusApproved       StepStatus = "approved"
	StepStatusRejected       StepStatus = "rejected"
	StepStatusAwaitingResult StepStatus = "awaiting_result"
	StepStatusSucceeded      StepStatus = "succeeded"
	StepStatusFailed         StepStatus = "failed"
)

// PlanStep is one atomic SQL operation within a session's plan
type PlanStep struct {
	ID          int              `json:"id"` // 1-based, stable within the plan
	Description string           `json:"description"`
	SQL         string           `json:"sql"`
	ModifiedSQL string           `json:"modifiedSql,omitempty"` // user override, executed when present
	Status      StepStatus       `json:"status"`
	Retries     int              `json:"retries"`
	LastResult  *ExecutionResult `json:"lastResult,omitempty"`
	LastError   *ExecError       `json:"lastError,omitempty"`
}

// EffectiveSQL returns the SQL that will be (or was) executed for this step:
// the user-modified text when present, the proposed text otherwise.
func (s *PlanStep) EffectiveSQL() string {
	if s.ModifiedSQL != "" {
		return s.ModifiedSQL
	}
	return s.SQL
}

// ExecError is the structured error the remote executor reported for a
// failed statement.
type ExecError struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// ExecutionResult is the self-reported outcome of running one statement on
// the remote executor. The orchestrator treats it as opaque input; it never
// verifies the claim against the database.
type ExecutionResult struct {
	Success      bool             `json:"success"`
	RowCount     int              `json:"rowCount,omitempty"`
	AffectedRows int              `json:"affectedRows,omitempty"`
	Preview      []map[string]any `json:"preview,omitempty"`
	Error        *ExecError       `json:"error,omitempty"`
}

// AgentSession is one user-initiated, LLM-supervised task against one
// database connection. All fields below mu are guarded by it; operations on
// one session are serialized, but a long completion call never holds the
// lock (state is re-validated after the call returns).
type AgentSession struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	ConnectionID  string `json:"connectionId"`
	ChatSessionID string `json:"chatSessionId,omitempty"`

	// Captured at creation
	Message         string             `json:"message"`
	SelectedSchemas []string           `json:"selectedSchemas,omitempty"`
	SchemaContext   string             `json:"-"`
	History         []prompts.ChatTurn `json:"-"`

	mu           sync.Mutex
	state        State
	plan         []PlanStep
	currentStep  int
	createdAt    time.Time
	lastActivity time.Time

	events *EventQueue
}

// StartRequest carries the validated inputs to Orchestrator.Start
type StartRequest struct {
	UserID          string   `json:"userId"`
	ConnectionID    string   `json:"connectionId"`
	ChatSessionID   string   `json:"chatSessionId,omitempty"`
	Message         string   `json:"message"`
	SelectedSchemas []string `json:"selectedSchemas,omitempty"`
}

// SessionSummary is a read-only snapshot of a session for listings
type SessionSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Message      string    `json:"message"`
	State        State     `json:"state"`
	StepCount    int       `json:"stepCount"`
	CurrentStep  int       `json:"currentStep"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// State returns the session's current lifecycle state
func (s *AgentSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Summary returns a snapshot of the session for listings
func (s *AgentSession) Summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		ID:           s.ID,
		UserID:       s.UserID,
		ConnectionID: s.ConnectionID,
		Message:      s.Message,
		State:        s.state,
		StepCount:    len(s.plan),
		CurrentStep:  s.currentStep,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

// Events returns the session's push queue
func (s *AgentSession) Events() *EventQueue {
	return s.events
}

func (s *AgentSession) touch() {
	s.lastActivity = time.Now()
}

// idleSince returns the last activity time
func (s *AgentSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CompletionClient is the text-in/text-out LLM service the orchestrator
// consumes. Implementations must honor ctx cancellation.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// SchemaContextProvider renders a textual schema description for a
// connection. A failure degrades to an empty context rather than aborting
// session creation.
type SchemaContextProvider interface {
	SchemaContextString(connectionID string, selectedSchemas []string) (string, error)
}

// ChatHistoryProvider returns the most recent messages of a chat session,
// oldest first.
type ChatHistoryProvider interface {
	GetChatMessages(chatSessionID string, limit int) ([]prompts.ChatTurn, error)
}
