package web

import (
	"github.com/rohanthewiz/rweb"
	"sqlpilot/agent"
	"sqlpilot/db"
)

// Shared handler dependencies, installed once at startup
var (
	orchestrator *agent.Orchestrator
	database     *db.DB
)

// SetupRoutes configures all HTTP routes for the server
func SetupRoutes(s *rweb.Server, orch *agent.Orchestrator, dbase *db.DB) {
	orchestrator = orch
	database = dbase

	// Root endpoint - serves the dashboard UI
	s.Get("/", rootHandler)

	// Agent session control surface
	s.Get("/api/agent", listAgentSessionsHandler)
	s.Post("/api/agent", startAgentSessionHandler)
	s.Post("/api/agent/:id/approve", approveStepHandler)
	s.Post("/api/agent/:id/reject", rejectStepHandler)
	s.Post("/api/agent/:id/result", provideResultHandler)
	s.Post("/api/agent/:id/stop", stopAgentSessionHandler)

	// SSE push channel for one session; reconnects re-attach
	s.Get("/api/agent/:id/events", func(c rweb.Context) error {
		return agentEventsHandler(s, c)
	})

	// Database connection descriptors
	s.Get("/api/connection", listConnectionsHandler)
	s.Post("/api/connection", createConnectionHandler)
	s.Get("/api/connection/:id", getConnectionHandler)
	s.Put("/api/connection/:id", updateConnectionHandler)
	s.Delete("/api/connection/:id", deleteConnectionHandler)

	// Schema metadata pushed by the browser after introspection
	s.Put("/api/connection/:id/schema", replaceSchemaHandler)
	s.Get("/api/connection/:id/schema", getSchemaHandler)

	// Chat transcripts
	s.Get("/api/chat/:id/messages", listChatMessagesHandler)
	s.Post("/api/chat/:id/messages", saveChatMessageHandler)
}

// rootHandler serves the dashboard UI
func rootHandler(c rweb.Context) error {
	return UIHandler(c)
}
