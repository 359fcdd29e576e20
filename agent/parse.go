package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rohanthewiz/serr"
)

// The model is instructed to answer with bare JSON in one of three shapes.
// Parsing is strict: a missing key, an empty plan, or non-JSON output is an
// error surfaced to the state machine, never a partial result.

type planResponse struct {
	Plan []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
		SQL         string `json:"sql"`
	} `json:"plan"`
	Explanation string `json:"explanation"`
}

type correctionResponse struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

type analysisResponse struct {
	Summary       string `json:"summary"`
	NeedsFollowUp bool   `json:"needsFollowUp"`
}

// parsePlan validates a planning response and normalizes it into plan steps.
// Step ids are reassigned 1..n in plan order regardless of what the model
// numbered them.
func parsePlan(raw string) ([]PlanStep, string, error) {
	var resp planResponse
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &resp); err != nil {
		return nil, "", serr.Wrap(err, "plan response is not valid JSON")
	}
	if len(resp.Plan) == 0 {
		return nil, "", serr.New("plan response contained no steps")
	}

	steps := make([]PlanStep, 0, len(resp.Plan))
	for i, ps := range resp.Plan {
		sql := strings.TrimSpace(ps.SQL)
		if sql == "" {
			return nil, "", serr.New(fmt.Sprintf("plan step %d has no sql", i+1))
		}
		steps = append(steps, PlanStep{
			ID:          i + 1,
			Description: strings.TrimSpace(ps.Description),
			SQL:         sql,
			Status:      StepStatusPending,
		})
	}
	return steps, resp.Explanation, nil
}

// parseCorrection validates an error-recovery response.
func parseCorrection(raw string) (sql, explanation string, err error) {
	var resp correctionResponse
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &resp); err != nil {
		return "", "", serr.Wrap(err, "correction response is not valid JSON")
	}
	if strings.TrimSpace(resp.SQL) == "" {
		return "", "", serr.New("correction response contained no sql")
	}
	return strings.TrimSpace(resp.SQL), resp.Explanation, nil
}

// parseAnalysis validates a result-analysis response.
func parseAnalysis(raw string) (summary string, needsFollowUp bool, err error) {
	var resp analysisResponse
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &resp); err != nil {
		return "", false, serr.Wrap(err, "analysis response is not valid JSON")
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return "", false, serr.New("analysis response contained no summary")
	}
	return resp.Summary, resp.NeedsFollowUp, nil
}

// stripCodeFences removes a surrounding markdown code fence if the model
// ignored the bare-JSON instruction.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
