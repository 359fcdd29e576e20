package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// JS EventSource only picks up on the "message" event type, so every frame
// goes out under it and carries its real type in the JSON payload.
const sseStdMsgType = "message"

// Event types pushed to the session's client
const (
	EventSession      = "session"
	EventStepProposal = "step_proposal"
	EventStepReady    = "step_ready"
	EventAnalysis     = "analysis"
	EventDone         = "done"
	EventAgentError   = "agent_error"
	EventKeepAlive    = "keepalive"
)

// EventQueue is the ordered outbound queue for one session's push channel.
// There is a single consumer at a time (the open SSE connection). Events
// emitted while no consumer is attached are buffered and flushed, in order,
// when one attaches; reconnecting is an attach, not a new session.
type EventQueue struct {
	sessionID string

	mu      sync.Mutex
	pending []rweb.SSEvent
	client  chan any
	closed  bool
	done    chan struct{}
	kaOnce  sync.Once
}

// NewEventQueue creates the queue for a session
func NewEventQueue(sessionID string) *EventQueue {
	return &EventQueue{
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
}

// Emit serializes an event onto the queue. Ordering follows emit order
// exactly; frames are never reordered or coalesced.
func (q *EventQueue) Emit(eventType string, data any) {
	payload := map[string]any{
		"type":      eventType,
		"sessionId": q.sessionID,
		"data":      data,
	}
	bytPayload, err := json.Marshal(payload)
	if err != nil {
		logger.LogErr(err, "failed to marshal push event", "type", eventType)
		return
	}
	frame := rweb.SSEvent{
		Type: sseStdMsgType,
		Data: string(bytPayload),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if q.client == nil {
		q.pending = append(q.pending, frame)
		return
	}
	select {
	case q.client <- frame:
	default:
		// Consumer stalled; mark it unreachable and buffer so a
		// reconnect sees a gapless stream.
		logger.Warn("Push channel full, detaching client", "sessionId", q.sessionID)
		q.client = nil
		q.pending = append(q.pending, frame)
	}
}

// Attach installs (or replaces) the consumer channel, flushing any buffered
// events to it first. Returns false if the queue is already closed.
func (q *EventQueue) Attach(client chan any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	for _, frame := range q.pending {
		select {
		case client <- frame:
		default:
			// New consumer can't even take the backlog; leave it
			// detached with the backlog intact.
			return false
		}
	}
	q.pending = nil
	q.client = client
	return true
}

// Detach removes the consumer without closing the queue; further events are
// buffered for the next attach.
func (q *EventQueue) Detach() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.client = nil
}

// Attached reports whether a consumer is currently installed
func (q *EventQueue) Attached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.client != nil
}

// Close terminates the queue. The consumer channel is closed so the SSE
// handler ends the connection. Safe to call more than once.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	if q.client != nil {
		close(q.client)
		q.client = nil
	}
	q.pending = nil
}

// Done is closed when the queue has been closed
func (q *EventQueue) Done() <-chan struct{} {
	return q.done
}

// StartKeepAlive launches a single background ticker that pushes keep-alive
// frames while a consumer is attached. Frames are not buffered for detached
// consumers; they exist only to hold the live connection open.
func (q *EventQueue) StartKeepAlive(interval time.Duration) {
	q.kaOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-q.done:
					return
				case <-ticker.C:
					q.emitIfAttached(EventKeepAlive, nil)
				}
			}
		}()
	})
}

func (q *EventQueue) emitIfAttached(eventType string, data any) {
	payload := map[string]any{
		"type":      eventType,
		"sessionId": q.sessionID,
		"data":      data,
	}
	bytPayload, err := json.Marshal(payload)
	if err != nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.client == nil {
		return
	}
	select {
	case q.client <- rweb.SSEvent{Type: sseStdMsgType, Data: string(bytPayload)}:
	default:
	}
}
