// Package server exposes the query engine over HTTP: a JSON query endpoint,
// schema introspection, and a websocket stream of completed execution traces.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/covenantql/covenant/internal/config"
	"github.com/covenantql/covenant/internal/engine"
	"github.com/covenantql/covenant/pkg/types"
)

// queryRequest is the POST /api/query body.
type queryRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	Model string `json:"model,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requireAuth enforces bearer token authentication when a token is configured.
func requireAuth(next http.Handler, token string) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware sheds load above the sustained request rate.
func rateLimitMiddleware(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleQuery runs one query through the engine and broadcasts its trace.
func handleQuery(eng *engine.Engine, hub *TraceHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}
		var req queryRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeError(w, http.StatusBadRequest, "query is required", "BAD_REQUEST")
			return
		}

		input := types.PlanningInput{
			QueryText:       req.Query,
			SchemaVersion:   engine.SchemaVersion,
			OntologyVersion: engine.OntologyVersion,
			Mode:            types.ExecutionMode(req.Mode),
			ModelSelection:  types.ModelSelection(req.Model),
		}
		answer, err := eng.Answer(r.Context(), input)
		if answer != nil && answer.Trace != nil {
			hub.Broadcast(traceEvent(answer.Trace))
		}
		if err != nil {
			status := http.StatusUnprocessableEntity
			if answer == nil {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error(), "QUERY_FAILED")
			return
		}
		writeJSON(w, http.StatusOK, answer)
	}
}

func traceEvent(trace *engine.ExecutionTrace) TraceEvent {
	return TraceEvent{
		Type:      "query_trace",
		TraceID:   trace.ID,
		Query:     trace.QueryText,
		Strategy:  string(trace.ActualStrategy),
		Outcome:   trace.Outcome,
		Fallbacks: trace.FallbackCount,
		CostRU:    trace.TotalCostRU,
		Rendered:  trace.RenderASCII(),
	}
}

// handleSchema reports the collection schema and graph ontology versions and
// descriptions the planner sees.
func handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"schema_version":   engine.SchemaVersion,
		"ontology_version": engine.OntologyVersion,
		"schema":           engine.SchemaDescription(),
		"ontology":         engine.OntologyDescription(),
	})
}

// Start initializes and starts the HTTP server. It returns the actual address
// being listened on (useful for testing with port 0) and the TraceHub.
// The server shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, eng *engine.Engine) (string, *TraceHub, error) {
	hub := NewTraceHub()
	go hub.Run()

	mux := http.NewServeMux()

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/query", handleQuery(eng, hub))
	apiMux.HandleFunc("/api/schema", handleSchema)
	mux.Handle("/api/", requireAuth(apiMux, cfg.Server.APIToken))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Trace stream (no auth; origin validation handles browser access)
	mux.Handle("/ws", hub)

	limiter := rate.NewLimiter(rate.Limit(10), 20)
	handler := rateLimitMiddleware(mux, limiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", nil, fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		hub.Stop()
	}()

	log.Printf("server: listening on %s", actualAddr)
	return actualAddr, hub, nil
}
