package web

import (
	"encoding/json"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
	"sqlpilot/agent"
)

const keepAliveInterval = 15 * time.Second

// startAgentSessionHandler creates a new agent session and returns its id.
// Progress flows over the session's SSE channel.
func startAgentSessionHandler(c rweb.Context) error {
	body := c.Request().Body()
	var req agent.StartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}

	sessionID, err := orchestrator.Start(req)
	if err != nil {
		return c.WriteError(err, 400)
	}

	return c.WriteJSON(map[string]any{
		"sessionId": sessionID,
	})
}

// agentEventsHandler attaches the caller as the session's single push
// consumer. A reconnect replaces the previous consumer and first receives
// any events buffered while disconnected.
func agentEventsHandler(s *rweb.Server, c rweb.Context) error {
	sessionID := c.Request().Param("id")

	session, exists := orchestrator.Registry().Get(sessionID)
	if !exists {
		return c.WriteError(serr.New("agent session not found"), 404)
	}

	clientChan := make(chan any, 64)
	if !session.Events().Attach(clientChan) {
		return c.WriteError(serr.New("agent session already terminated"), 410)
	}
	session.Events().StartKeepAlive(keepAliveInterval)

	logger.Info("Push channel attached", "sessionId", sessionID)

	// The connection is long-lived; the queue owns channel closure
	s.SetupSSE(c, clientChan, "")
	return nil
}

// approveStepHandler releases the current step for execution, optionally
// with user-modified SQL
func approveStepHandler(c rweb.Context) error {
	sessionID := c.Request().Param("id")

	var req struct {
		ModifiedSQL string `json:"modifiedSql,omitempty"`
	}
	if body := c.Request().Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
		}
	}

	ok := orchestrator.Approve(sessionID, req.ModifiedSQL)
	return c.WriteJSON(map[string]any{"ok": ok})
}

// rejectStepHandler abandons the session from the approval gate
func rejectStepHandler(c rweb.Context) error {
	sessionID := c.Request().Param("id")

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if body := c.Request().Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
		}
	}

	ok := orchestrator.Reject(sessionID, req.Reason)
	return c.WriteJSON(map[string]any{"ok": ok})
}

// provideResultHandler receives the remote executor's outcome for the step
// in flight
func provideResultHandler(c rweb.Context) error {
	sessionID := c.Request().Param("id")

	var result agent.ExecutionResult
	if err := json.Unmarshal(c.Request().Body(), &result); err != nil {
		return c.WriteError(serr.Wrap(err, "invalid request body"), 400)
	}

	ok := orchestrator.ProvideResult(sessionID, result)
	return c.WriteJSON(map[string]any{"ok": ok})
}

// stopAgentSessionHandler terminates a session
func stopAgentSessionHandler(c rweb.Context) error {
	sessionID := c.Request().Param("id")
	ok := orchestrator.Stop(sessionID)
	return c.WriteJSON(map[string]any{"ok": ok})
}

// listAgentSessionsHandler returns summaries of live sessions
func listAgentSessionsHandler(c rweb.Context) error {
	return c.WriteJSON(orchestrator.Registry().List())
}
