package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cordonproject/cordon/pkg/auth"
	"github.com/cordonproject/cordon/pkg/deploy"
	"github.com/cordonproject/cordon/pkg/events"
	"github.com/cordonproject/cordon/pkg/log"
	"github.com/cordonproject/cordon/pkg/metrics"
	"github.com/cordonproject/cordon/pkg/monitor"
	"github.com/cordonproject/cordon/pkg/placement"
	"github.com/cordonproject/cordon/pkg/ports"
	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
	"github.com/cordonproject/cordon/pkg/workqueue"
)

// Server is the control plane's HTTP surface: the authenticated agent API
// plus the operator API.
type Server struct {
	store     storage.Store
	queue     *workqueue.Queue
	authn     *auth.Authenticator
	tokens    *auth.TokenManager
	planner   *placement.Engine
	deployer  *deploy.Reconciler
	allocator *ports.Allocator
	monitor   *monitor.Monitor
	broker    *events.Broker

	tokenTTL time.Duration
	logger   zerolog.Logger
	httpSrv  *http.Server
}

// Deps collects the server's collaborators
type Deps struct {
	Store     storage.Store
	Queue     *workqueue.Queue
	Auth      *auth.Authenticator
	Tokens    *auth.TokenManager
	Planner   *placement.Engine
	Deployer  *deploy.Reconciler
	Allocator *ports.Allocator
	Monitor   *monitor.Monitor
	Broker    *events.Broker
	TokenTTL  time.Duration
}

// NewServer creates the API server
func NewServer(deps Deps) *Server {
	s := &Server{
		store:     deps.Store,
		queue:     deps.Queue,
		authn:     deps.Auth,
		tokens:    deps.Tokens,
		planner:   deps.Planner,
		deployer:  deps.Deployer,
		allocator: deps.Allocator,
		monitor:   deps.Monitor,
		broker:    deps.Broker,
		tokenTTL:  deps.TokenTTL,
		logger:    log.WithComponent("api"),
	}
	if s.tokenTTL == 0 {
		s.tokenTTL = time.Hour
	}
	return s
}

// Routes builds the full handler tree
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Agent surface. Everything except discovery and registration requires
	// per-request admission.
	mux.HandleFunc("GET /agent/discover", s.handleDiscover)
	mux.HandleFunc("POST /agent/register", s.handleRegister)
	mux.Handle("POST /agent/heartbeat", s.agentOnly(s.handleHeartbeat))
	mux.Handle("GET /agent/work-queue", s.agentOnly(s.handleClaimWork))
	mux.Handle("POST /agent/work/{id}/complete", s.agentOnly(s.handleCompleteWork))
	mux.Handle("GET /agent/backup/pending", s.agentOnly(s.handleClaimBackupWork))
	mux.Handle("POST /agent/backup/complete", s.agentOnly(s.handleBackupComplete))
	mux.Handle("POST /agent/backup/failed", s.agentOnly(s.handleBackupFailed))

	// Operator surface
	mux.HandleFunc("POST /v1/services", s.handleApplyService)
	mux.HandleFunc("GET /v1/services", s.handleListServices)
	mux.HandleFunc("GET /v1/services/{id}", s.handleGetService)
	mux.HandleFunc("DELETE /v1/services/{id}", s.handleDeleteService)
	mux.HandleFunc("GET /v1/hosts", s.handleListHosts)
	mux.HandleFunc("GET /v1/hosts/{id}", s.handleGetHost)
	mux.HandleFunc("DELETE /v1/hosts/{id}", s.handleDeleteHost)
	mux.HandleFunc("GET /v1/deployments", s.handleListDeployments)
	mux.HandleFunc("GET /v1/work-items", s.handleListWorkItems)
	mux.HandleFunc("POST /v1/ports", s.handleAllocatePort)
	mux.HandleFunc("POST /v1/tokens", s.handleMintToken)
	mux.HandleFunc("POST /v1/recovery/run", s.handleTriggerRecovery)

	// Health and metrics
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.instrument(mux)
}

// Serve runs the HTTP server until the context is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type contextKey string

const hostContextKey contextKey = "host"

// agentOnly reads the raw body, verifies admission against it, and stashes
// the calling host in the request context. The body is restored for the
// handler since the signature covers the exact bytes sent.
func (s *Server) agentOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		host, err := s.authn.Authenticate(r, body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), hostContextKey, host)))
	})
}

// statusRecorder captures the response code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument wraps the mux with request logging and Prometheus counters
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(route))

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("Request handled")
	})
}

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
		metrics.AuthFailures.Inc()
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, placement.ErrNoHealthyHosts):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ports.ErrRangeExhausted):
		status = http.StatusServiceUnavailable
	}

	if status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// hostFromContext returns the admitted host set by agentOnly
func hostFromContext(r *http.Request) *types.Host {
	host, _ := r.Context().Value(hostContextKey).(*types.Host)
	return host
}
