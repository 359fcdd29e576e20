// Package prompts builds the system and user messages sent to the
// completion service. Builders are pure string functions; everything
// interpolated from session state is bounded here so a prompt can never
// grow without limit.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Interpolation bounds
const (
	MaxHistoryTurns = 4   // recent chat turns included in the planning message
	MaxTurnChars    = 300 // per-turn content cap before truncation
	MaxPreviewRows  = 5   // result preview rows shown to the analysis call
)

// ChatTurn is one prior message of the conversation, oldest first
type ChatTurn struct {
	Role    string
	Content string
}

// ExecError is the structured executor error interpolated into a recovery
// message.
type ExecError struct {
	Message string
	Detail  string
	Hint    string
}

// PlanningPrompt is the system prompt for turning a natural-language request
// into an ordered SQL plan.
func PlanningPrompt(schemaContext string) string {
	var sb strings.Builder
	sb.WriteString("You are a SQL planning assistant. Break the user's request into an ordered list of atomic SQL steps, each a single executable statement.\n\n")
	if schemaContext != "" {
		sb.WriteString("Database schema:\n")
		sb.WriteString(schemaContext)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("No schema information is available for this connection. Plan conservatively and prefer introspection steps where the request depends on unknown structure.\n\n")
	}
	sb.WriteString("Respond with JSON only, no prose outside it, in exactly this shape:\n")
	sb.WriteString(`{"plan": [{"id": 1, "description": "...", "sql": "..."}], "explanation": "..."}` + "\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Each step's sql field holds exactly one statement.\n")
	sb.WriteString("- Steps run strictly in order; later steps may depend on earlier ones.\n")
	sb.WriteString("- Use only objects present in the schema when one is given.\n")
	return sb.String()
}

// PlanningUserMessage renders the user's request plus a bounded window of
// recent conversation.
func PlanningUserMessage(message string, history []ChatTurn) string {
	var sb strings.Builder
	if len(history) > 0 {
		if len(history) > MaxHistoryTurns {
			history = history[len(history)-MaxHistoryTurns:]
		}
		sb.WriteString("Recent conversation:\n")
		for _, turn := range history {
			sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, truncate(turn.Content, MaxTurnChars)))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Request: ")
	sb.WriteString(message)
	return sb.String()
}

// RecoveryPrompt is the system prompt for correcting a single failed
// statement.
func RecoveryPrompt(schemaContext string) string {
	var sb strings.Builder
	sb.WriteString("You are a SQL repair assistant. A statement failed on the user's database; produce a single corrected statement that accomplishes the same intent.\n\n")
	if schemaContext != "" {
		sb.WriteString("Database schema:\n")
		sb.WriteString(schemaContext)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond with JSON only, in exactly this shape:\n")
	sb.WriteString(`{"sql": "...", "explanation": "..."}` + "\n")
	return sb.String()
}

// RecoveryUserMessage renders the failing statement and the executor's
// structured error. Empty detail and hint fields are omitted.
func RecoveryUserMessage(sql string, execErr ExecError) string {
	var sb strings.Builder
	sb.WriteString("Failed statement:\n")
	sb.WriteString(sql)
	sb.WriteString("\n\nError: ")
	sb.WriteString(execErr.Message)
	if execErr.Detail != "" {
		sb.WriteString("\nDetail: ")
		sb.WriteString(execErr.Detail)
	}
	if execErr.Hint != "" {
		sb.WriteString("\nHint: ")
		sb.WriteString(execErr.Hint)
	}
	return sb.String()
}

// AnalysisPrompt is the system prompt for summarizing a successful step's
// result.
func AnalysisPrompt(schemaContext string) string {
	var sb strings.Builder
	sb.WriteString("You are a SQL results assistant. Summarize what a successful statement did for a non-expert reader, in one or two sentences.\n\n")
	if schemaContext != "" {
		sb.WriteString("Database schema:\n")
		sb.WriteString(schemaContext)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond with JSON only, in exactly this shape:\n")
	sb.WriteString(`{"summary": "...", "needsFollowUp": false}` + "\n")
	return sb.String()
}

// AnalysisUserMessage renders the executed statement and a bounded slice of
// the result.
func AnalysisUserMessage(sql string, rowCount, affectedRows int, preview []map[string]any) string {
	var sb strings.Builder
	sb.WriteString("Statement:\n")
	sb.WriteString(sql)
	sb.WriteString(fmt.Sprintf("\n\nRows returned: %d\n", rowCount))
	if affectedRows > 0 {
		sb.WriteString(fmt.Sprintf("Rows affected: %d\n", affectedRows))
	}
	if len(preview) > 0 {
		if len(preview) > MaxPreviewRows {
			preview = preview[:MaxPreviewRows]
		}
		sb.WriteString("Result preview:\n")
		for _, row := range preview {
			if bytRow, err := json.Marshal(row); err == nil {
				sb.WriteString(string(bytRow))
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
