package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"sqlpilot/config"
	"sqlpilot/prompts"
)

// Options tunes the orchestrator's bounded behaviors
type Options struct {
	RecoveryRetryBound int           // automatic recovery attempts per step
	HistoryWindow      int           // chat turns pulled into the planning prompt
	CompletionTimeout  time.Duration // per completion call
}

// DefaultOptions returns options backed by application config
func DefaultOptions() Options {
	cfg := config.Get()
	return Options{
		RecoveryRetryBound: cfg.RecoveryRetryBound,
		HistoryWindow:      cfg.HistoryWindow,
		CompletionTimeout:  cfg.CompletionTimeout,
	}
}

// Orchestrator drives agent sessions through plan, approval, execution and
// recovery. Each control operation serializes on the session's own lock; the
// lock is never held across a completion call; the state is re-validated
// when the call returns, so a stop issued mid-call wins and the late result
// is discarded.
type Orchestrator struct {
	registry *Registry
	client   CompletionClient
	schemas  SchemaContextProvider
	history  ChatHistoryProvider
	opts     Options
}

// NewOrchestrator wires the orchestrator to its collaborators
func NewOrchestrator(registry *Registry, client CompletionClient, schemas SchemaContextProvider, history ChatHistoryProvider, opts Options) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		client:   client,
		schemas:  schemas,
		history:  history,
		opts:     opts,
	}
}

// Registry returns the session registry
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start creates a session, captures its inputs, and kicks off planning.
// The session id returns synchronously; all further progress is pushed over
// the session's event queue.
func (o *Orchestrator) Start(req StartRequest) (string, error) {
	if len(strings.TrimSpace(req.Message)) < 2 {
		return "", serr.New("message must be at least 2 characters")
	}
	if req.ConnectionID == "" {
		return "", serr.New("connection id is required")
	}

	schemaCtx := ""
	if o.schemas != nil {
		ctx, err := o.schemas.SchemaContextString(req.ConnectionID, req.SelectedSchemas)
		if err != nil {
			// Planning degrades to an empty schema context
			logger.LogErr(err, "failed to build schema context", "connectionId", req.ConnectionID)
		} else {
			schemaCtx = ctx
		}
	}

	var history []prompts.ChatTurn
	if o.history != nil && req.ChatSessionID != "" {
		turns, err := o.history.GetChatMessages(req.ChatSessionID, o.opts.HistoryWindow)
		if err != nil {
			logger.LogErr(err, "failed to load chat history", "chatSessionId", req.ChatSessionID)
		} else {
			history = turns
		}
	}

	now := time.Now()
	session := &AgentSession{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		ConnectionID:    req.ConnectionID,
		ChatSessionID:   req.ChatSessionID,
		Message:         req.Message,
		SelectedSchemas: req.SelectedSchemas,
		SchemaContext:   schemaCtx,
		History:         history,
		state:           StatePlanning,
		createdAt:       now,
		lastActivity:    now,
	}
	session.events = NewEventQueue(session.ID)

	o.registry.Add(session)

	session.events.Emit(EventSession, map[string]any{
		"sessionId":     session.ID,
		"connectionId":  session.ConnectionID,
		"chatSessionId": session.ChatSessionID,
	})

	logger.Info("Agent session started", "sessionId", session.ID, "userId", req.UserID)

	go o.plan(session)

	return session.ID, nil
}

// plan runs the planning completion and installs the resulting plan
func (o *Orchestrator) plan(s *AgentSession) {
	system := prompts.PlanningPrompt(s.SchemaContext)
	user := prompts.PlanningUserMessage(s.Message, s.History)

	raw, err := o.complete(system, user)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlanning {
		// Stopped while the call was outstanding; discard the result
		return
	}

	if err != nil {
		o.failLocked(s, "The planning service could not be reached. Please try again.", true)
		return
	}

	steps, explanation, perr := parsePlan(raw)
	if perr != nil {
		logger.LogErr(perr, "invalid plan from model", "sessionId", s.ID)
		o.failLocked(s, "The assistant could not produce a usable plan for this request.", true)
		return
	}

	s.plan = steps
	s.currentStep = 0
	s.plan[0].Status = StepStatusProposed
	s.state = StateAwaitingApproval
	s.touch()

	s.events.Emit(EventStepProposal, o.proposalPayloadLocked(s, explanation))
	logger.Info("Plan created", "sessionId", s.ID, "steps", len(steps))
}

// Approve releases the current step's SQL for execution. Returns false when
// the session is missing or not awaiting approval, so a duplicate approval
// never double-applies.
func (o *Orchestrator) Approve(sessionID, modifiedSQL string) bool {
	s, exists := o.registry.Get(sessionID)
	if !exists {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingApproval {
		return false
	}
	s.touch()

	step := &s.plan[s.currentStep]
	if modifiedSQL != "" {
		step.ModifiedSQL = modifiedSQL
	}
	step.Status = StepStatusApproved
	s.state = StateAwaitingResult

	s.events.Emit(EventStepReady, map[string]any{
		"stepId": step.ID,
		"sql":    step.EffectiveSQL(),
	})
	step.Status = StepStatusAwaitingResult

	return true
}

// Reject abandons the session from the approval gate. There is no automatic
// re-plan; the caller starts a new session if it wants a different plan.
func (o *Orchestrator) Reject(sessionID, reason string) bool {
	s, exists := o.registry.Get(sessionID)
	if !exists {
		return false
	}

	s.mu.Lock()
	if s.state != StateAwaitingApproval {
		s.mu.Unlock()
		return false
	}
	s.touch()
	s.plan[s.currentStep].Status = StepStatusRejected
	s.state = StateStopped
	s.mu.Unlock()

	logger.Info("Step rejected, session stopped", "sessionId", sessionID, "reason", reason)

	s.events.Close()
	o.registry.Remove(sessionID)
	return true
}

// ProvideResult feeds the remote executor's self-reported outcome for the
// step in flight. Success advances the plan through analysis; failure drives
// the bounded recovery loop.
func (o *Orchestrator) ProvideResult(sessionID string, result ExecutionResult) bool {
	s, exists := o.registry.Get(sessionID)
	if !exists {
		return false
	}

	s.mu.Lock()

	if s.state != StateAwaitingResult {
		s.mu.Unlock()
		return false
	}
	s.touch()

	step := &s.plan[s.currentStep]
	step.LastResult = &result

	if result.Success {
		step.Status = StepStatusSucceeded
		step.LastError = nil
		s.state = StateAnalyzing
		s.mu.Unlock()
		go o.analyze(s, result)
		return true
	}

	step.Status = StepStatusFailed
	if result.Error != nil {
		step.LastError = result.Error
	} else {
		step.LastError = &ExecError{Message: "execution failed with no error detail"}
	}
	step.Retries++

	if step.Retries >= o.opts.RecoveryRetryBound {
		o.failLocked(s, "Automatic recovery was exhausted for this step. Start a new session to try a different approach.", true)
		s.mu.Unlock()
		return true
	}

	s.state = StateRecovering
	s.mu.Unlock()
	go o.recover(s)
	return true
}

// Stop terminates a session from any state, closing its push channel and
// removing it from the registry. Safe to call repeatedly; later calls find
// no session and return false.
func (o *Orchestrator) Stop(sessionID string) bool {
	s, exists := o.registry.Get(sessionID)
	if !exists {
		return false
	}

	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = StateStopped
	}
	s.mu.Unlock()

	s.events.Close()
	o.registry.Remove(sessionID)
	logger.Info("Agent session stopped", "sessionId", sessionID)
	return true
}

// analyze summarizes a successful step and either proposes the next step or
// finishes the session.
func (o *Orchestrator) analyze(s *AgentSession, result ExecutionResult) {
	s.mu.Lock()
	if s.state != StateAnalyzing {
		s.mu.Unlock()
		return
	}
	step := s.plan[s.currentStep]
	schemaCtx := s.SchemaContext
	s.mu.Unlock()

	system := prompts.AnalysisPrompt(schemaCtx)
	user := prompts.AnalysisUserMessage(step.EffectiveSQL(), result.RowCount, result.AffectedRows, result.Preview)

	summary := ""
	needsFollowUp := false
	raw, err := o.complete(system, user)
	if err == nil {
		summary, needsFollowUp, err = parseAnalysis(raw)
	}
	if err != nil {
		// Analysis is advisory; a failed call degrades to a stock summary
		logger.LogErr(err, "analysis completion failed", "sessionId", s.ID)
		summary = "The step executed successfully."
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAnalyzing {
		return
	}
	s.touch()

	s.events.Emit(EventAnalysis, map[string]any{
		"stepId":        step.ID,
		"summary":       summary,
		"needsFollowUp": needsFollowUp,
	})

	if s.currentStep+1 < len(s.plan) {
		s.currentStep++
		s.plan[s.currentStep].Status = StepStatusProposed
		s.state = StateAwaitingApproval
		s.events.Emit(EventStepProposal, o.proposalPayloadLocked(s, ""))
		return
	}

	s.state = StateDone
	s.events.Emit(EventDone, map[string]any{
		"steps":   len(s.plan),
		"summary": summary,
	})
	s.events.Close()
	o.registry.Remove(s.ID)
	logger.Info("Agent session completed", "sessionId", s.ID, "steps", len(s.plan))
}

// recover asks the model for a corrected statement and re-proposes it for
// human approval. A completion failure here consumes a recovery attempt.
func (o *Orchestrator) recover(s *AgentSession) {
	for {
		s.mu.Lock()
		if s.state != StateRecovering {
			s.mu.Unlock()
			return
		}
		step := &s.plan[s.currentStep]
		failingSQL := step.EffectiveSQL()
		execErr := prompts.ExecError{Message: "execution failed"}
		if step.LastError != nil {
			execErr = prompts.ExecError{
				Message: step.LastError.Message,
				Detail:  step.LastError.Detail,
				Hint:    step.LastError.Hint,
			}
		}
		schemaCtx := s.SchemaContext
		s.mu.Unlock()

		system := prompts.RecoveryPrompt(schemaCtx)
		user := prompts.RecoveryUserMessage(failingSQL, execErr)

		correctedSQL := ""
		explanation := ""
		raw, err := o.complete(system, user)
		if err == nil {
			correctedSQL, explanation, err = parseCorrection(raw)
		}

		s.mu.Lock()
		if s.state != StateRecovering {
			s.mu.Unlock()
			return
		}

		if err != nil {
			logger.LogErr(err, "recovery completion failed", "sessionId", s.ID)
			step.Retries++
			if step.Retries >= o.opts.RecoveryRetryBound {
				o.failLocked(s, "Automatic recovery was exhausted for this step. Start a new session to try a different approach.", true)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			continue
		}

		step.SQL = correctedSQL
		step.ModifiedSQL = ""
		step.Status = StepStatusProposed
		s.state = StateAwaitingApproval
		s.touch()

		s.events.Emit(EventStepProposal, o.proposalPayloadLocked(s, explanation))
		s.mu.Unlock()
		return
	}
}

// complete bounds a completion call and retries once on transport failure
func (o *Orchestrator) complete(system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.CompletionTimeout)
	defer cancel()

	raw, err := o.client.Complete(ctx, system, user)
	if err == nil {
		return raw, nil
	}
	logger.LogErr(err, "completion call failed, retrying once")

	ctx2, cancel2 := context.WithTimeout(context.Background(), o.opts.CompletionTimeout)
	defer cancel2()
	return o.client.Complete(ctx2, system, user)
}

// failLocked marks the session failed and tears it down. Caller holds the
// session lock.
func (o *Orchestrator) failLocked(s *AgentSession, message string, canRetry bool) {
	s.state = StateFailed
	s.events.Emit(EventAgentError, map[string]any{
		"message":  message,
		"fatal":    true,
		"canRetry": canRetry,
	})
	s.events.Close()
	o.registry.Remove(s.ID)
}

// proposalPayloadLocked builds the step_proposal payload. Caller holds the
// session lock; the payload is marshaled synchronously by Emit so sharing
// the plan slice is safe.
func (o *Orchestrator) proposalPayloadLocked(s *AgentSession, explanation string) map[string]any {
	step := s.plan[s.currentStep]
	payload := map[string]any{
		"plan":        s.plan,
		"currentStep": s.currentStep,
		"step": map[string]any{
			"id":          step.ID,
			"description": step.Description,
			"sql":         step.EffectiveSQL(),
			"retries":     step.Retries,
		},
	}
	if explanation != "" {
		payload["explanation"] = explanation
	}
	return payload
}
