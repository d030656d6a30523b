package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/mediator-broker/pkg/broker"
	"github.com/morezero/mediator-broker/pkg/registry"
)

const httpLogPrefix = "server:http"

// brokerView is what the HTTP handlers read from a running broker.
type brokerView interface {
	Health(ctx context.Context) *registry.HealthOutput
	Nodes() []registry.NodeRegistration
	Routes() []registry.TypeRoutes
	Pending() []pendingCall
}

// liveBroker adapts *broker.Broker to brokerView.
type liveBroker struct {
	b *broker.Broker
}

func (l *liveBroker) Health(ctx context.Context) *registry.HealthOutput {
	return l.b.Registry().Health(ctx)
}

func (l *liveBroker) Nodes() []registry.NodeRegistration { return l.b.Registry().Nodes() }

func (l *liveBroker) Routes() []registry.TypeRoutes { return l.b.Registry().Routes() }

func (l *liveBroker) Pending() []pendingCall {
	calls := l.b.Pending()
	out := make([]pendingCall, 0, len(calls))
	for _, c := range calls {
		caller := ""
		if c.Caller != nil {
			caller = c.Caller.String()
		}
		out = append(out, pendingCall{
			ID:       c.ID.String(),
			TypeName: c.TypeName,
			Caller:   caller,
			Target:   c.Target,
			IssuedAt: c.IssuedAt.UTC().Format(time.RFC3339Nano),
			Deadline: c.Deadline.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}

// pendingCall is the JSON form of an outstanding forwarded Request.
type pendingCall struct {
	ID       string `json:"id"`
	TypeName string `json:"typeName"`
	Caller   string `json:"caller"`
	Target   string `json:"target"`
	IssuedAt string `json:"issuedAt"`
	Deadline string `json:"deadline"`
}

// nodesOutput is the /nodes response body.
type nodesOutput struct {
	Nodes   []registry.NodeRegistration `json:"nodes"`
	Routes  []registry.TypeRoutes       `json:"routes"`
	Pending []pendingCall               `json:"pending"`
}

// routes builds the HTTP mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", handleReady)
	mux.HandleFunc("/nodes", s.handleNodes())
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.view.Health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, h)
	}
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ready"})
}

func (s *Server) handleNodes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, nodesOutput{
			Nodes:   s.view.Nodes(),
			Routes:  s.view.Routes(),
			Pending: s.view.Pending(),
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", httpLogPrefix, err))
	}
}

// homePageTemplate is the HTML for the broker dashboard (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Mediator Broker</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 1100px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Mediator Broker</h1>
  <p class="meta">Broker health, registered nodes, routing and pending requests. JSON at <a href="/nodes">/nodes</a>, metrics at <a href="/metrics">/metrics</a>.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Ledger: {{if not .Health.Checks.LedgerConfigured}}disabled{{else if .Health.Checks.Ledger}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Statistics</h2>
    <p>Nodes: <span class="stat">{{.Health.Stats.Nodes}}</span></p>
    <p>Request types: <span class="stat">{{.Health.Stats.RequestTypes}}</span>, notification types: <span class="stat">{{.Health.Stats.NotificationTypes}}</span></p>
    <p>Registrations received: <span class="stat">{{.Health.Stats.Registrations}}</span></p>
    <p>Awaiting a response: <span class="stat">{{len .Pending}}</span></p>
  </section>

  <section>
    <h2>Nodes</h2>
    {{if not .Nodes}}
    <p>No nodes registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Client</th><th>Address</th><th>Agent version</th><th>Requests</th><th>Notifications</th><th>Last seen</th></tr>
      </thead>
      <tbody>
        {{range .Nodes}}
        <tr>
          <td>{{.ClientName}}</td>
          <td>{{.Address}}</td>
          <td>{{.AgentVersion}}</td>
          <td>{{range .RequestTypes}}{{.}} {{end}}</td>
          <td>{{range .NotificationTypes}}{{.}} {{end}}</td>
          <td title="{{.LastSeen.Format "2006-01-02T15:04:05Z07:00"}}">{{ago .LastSeen}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Routes</h2>
    {{if not .Routes}}
    <p>No routes.</p>
    {{else}}
    <table>
      <thead><tr><th>Type</th><th>Kind</th><th>Nodes (selection order)</th></tr></thead>
      <tbody>
        {{range .Routes}}
        <tr><td>{{.TypeName}}</td><td>{{.Kind}}</td><td>{{range .Nodes}}{{.}} {{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  {{if .Pending}}
  <section>
    <h2>Pending requests</h2>
    <table>
      <thead><tr><th>Id</th><th>Type</th><th>Caller</th><th>Target</th><th>Deadline</th></tr></thead>
      <tbody>
        {{range .Pending}}
        <tr><td>{{.ID}}</td><td>{{.TypeName}}</td><td>{{.Caller}}</td><td>{{.Target}}</td><td>{{.Deadline}}</td></tr>
        {{end}}
      </tbody>
    </table>
  </section>
  {{end}}
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health  *registry.HealthOutput
	Nodes   []registry.NodeRegistration
	Routes  []registry.TypeRoutes
	Pending []pendingCall
}

// handleHome returns an HTTP handler for the broker dashboard.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Funcs(template.FuncMap{"ago": humanize.Time}).Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Health:  s.view.Health(ctx),
			Nodes:   s.view.Nodes(),
			Routes:  s.view.Routes(),
			Pending: s.view.Pending(),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
