package platform

import (
	"fmt"
	"net/http"

	"github.com/txn2/mcp-weather/pkg/auth"
	"github.com/txn2/mcp-weather/pkg/jsonrpc"
	"github.com/txn2/mcp-weather/pkg/mcptransport"
	"github.com/txn2/mcp-weather/pkg/metrics"
	"github.com/txn2/mcp-weather/pkg/session"
)

// Route labels used in request metrics.
const (
	routeWelcome = "welcome"
	routeToken   = "token"
	routeMCP     = "mcp"
)

type welcomeResponse struct {
	Message string `json:"message"`
}

type notFoundResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// buildHandler assembles the HTTP routes. The MCP endpoint runs
// validation, authentication and rate limiting before the session router.
func (p *Platform) buildHandler() http.Handler {
	version := p.config.Server.APIVersion
	mux := http.NewServeMux()

	mux.Handle("GET /{$}", metrics.Middleware(routeWelcome, welcome(
		fmt.Sprintf("Welcome to the API! You are using version %s.", version))))
	mux.Handle("GET /"+version, metrics.Middleware(routeWelcome, welcome(
		"Welcome to the API! You are using version "+version)))

	mux.Handle("GET /healthz", p.health.LivenessHandler())
	mux.Handle("GET /readyz", p.health.ReadinessHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	if p.authService != nil {
		mux.Handle("/"+version+"/auth/token", metrics.Middleware(routeToken, auth.TokenHandler(p.authService)))
		mux.Handle("/"+version+"/mcp", metrics.Middleware(routeMCP, p.mcpHandler()))
	}

	mux.HandleFunc("/", notFound)
	return corsMiddleware(mux)
}

// corsMiddleware allows browser-based MCP clients on any origin and exposes
// the session header to them. Preflight requests are answered directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID")
		h.Set("Access-Control-Expose-Headers", session.SessionIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mcpHandler is the gated session router.
func (p *Platform) mcpHandler() http.Handler {
	var h http.Handler = session.NewRouter(session.RouterConfig{
		Manager: p.manager,
		Handles: mcptransport.NewFactory(p.mcpServer),
		Owner:   auth.TenantID,
	})
	if p.limiter != nil {
		h = auth.RateLimitMiddleware(p.limiter)(h)
	}
	h = auth.Middleware(p.authService)(h)
	return jsonrpc.Validate(h)
}

func welcome(message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonrpc.WriteJSON(w, http.StatusOK, welcomeResponse{Message: message})
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	jsonrpc.WriteJSON(w, http.StatusNotFound, notFoundResponse{
		Error:   "Not Found",
		Message: fmt.Sprintf("The requested path %s does not exist on this server.", r.URL.Path),
	})
}
