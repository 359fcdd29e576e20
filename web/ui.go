package web

import (
	"fmt"

	"github.com/rohanthewiz/element"
	"github.com/rohanthewiz/rweb"
)

// UIHandler serves the session dashboard
func UIHandler(c rweb.Context) error {
	return c.WriteHTML(generateDashboard())
}

func generateDashboard() string {
	sessions := orchestrator.Registry().List()

	b := element.NewBuilder()

	b.Html().R(
		b.Head().R(
			b.Title().T("SQLPilot - Agent Sessions"),
			b.Meta("charset", "UTF-8"),
			b.Meta("name", "viewport", "content", "width=device-width, initial-scale=1.0"),
			b.Style().T(dashboardCSS),
		),
		b.Body().R(
			b.Div("id", "app").R(
				b.Header().R(
					b.H1().T("SQLPilot"),
					b.Span("class", "subtitle").T("Supervised SQL agent sessions"),
				),
				b.Main().R(
					b.H3().T(fmt.Sprintf("Active sessions (%d)", len(sessions))),
					b.Div("class", "sessions").R(
						func() any {
							for _, s := range sessions {
								b.Div("class", "session-row").R(
									b.Span("class", "mono").T(s.ID),
									b.Span("class", "user").T(s.UserID),
									b.Span("class", "message").T(s.Message),
									b.Span("class", "state state-"+string(s.State)).T(string(s.State)),
									b.Span("class", "step").T(fmt.Sprintf("step %d of %d", s.CurrentStep+1, s.StepCount)),
								)
							}
							if len(sessions) == 0 {
								b.P("class", "empty").T("No active sessions")
							}
							return nil
						}(),
					),
				),
			),
		),
	)

	return b.String()
}

const dashboardCSS = `
body { font-family: -apple-system, sans-serif; background: #1e1e2e; color: #cdd6f4; margin: 0; }
#app { max-width: 1100px; margin: 0 auto; padding: 2rem; }
header h1 { margin-bottom: 0; }
.subtitle { color: #a6adc8; }
.sessions { margin-top: 1rem; }
.session-row { display: flex; gap: 1rem; padding: 0.5rem 0; border-bottom: 1px solid #313244; align-items: baseline; }
.session-row .mono { font-family: monospace; font-size: 0.85em; color: #a6adc8; }
.session-row .message { flex: 1; }
.state-awaiting_approval { color: #f9e2af; }
.state-awaiting_result { color: #89b4fa; }
.state-planning, .state-analyzing, .state-recovering { color: #a6adc8; }
.state-failed { color: #f38ba8; }
.state-done { color: #a6e3a1; }
.empty { color: #6c7086; }
`
