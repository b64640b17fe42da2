// Package server exposes the session coordinator over HTTP.
//
// Submitting a message streams the interaction events as newline-delimited JSON, one
// event per line, ending with the final, error or interrupt event.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/go-go-golems/bookchat/pkg/events"
	"github.com/go-go-golems/bookchat/pkg/identity"
	"github.com/go-go-golems/bookchat/pkg/metrics"
	"github.com/go-go-golems/bookchat/pkg/projector"
	"github.com/go-go-golems/bookchat/pkg/session"
	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/lithammer/shortuuid/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const maxMessageBytes = 1 << 20

type Server struct {
	coordinator *session.Coordinator
	grapher     books.Grapher
	metrics     *metrics.Metrics
	router      *events.EventRouter

	addr            string
	readTimeout     time.Duration
	shutdownTimeout time.Duration
}

type Option func(*Server)

func WithGrapher(g books.Grapher) Option {
	return func(s *Server) { s.grapher = g }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEventRouter runs r alongside the HTTP listener and closes it on shutdown.
func WithEventRouter(r *events.EventRouter) Option {
	return func(s *Server) { s.router = r }
}

func WithAddr(host string, port int) Option {
	return func(s *Server) { s.addr = net.JoinHostPort(host, strconv.Itoa(port)) }
}

func WithTimeouts(read, shutdown time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.shutdownTimeout = shutdown
	}
}

func New(c *session.Coordinator, options ...Option) *Server {
	s := &Server{
		coordinator:     c,
		addr:            "127.0.0.1:8080",
		readTimeout:     30 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Handler returns the routes. Callers are identified by the X-User-ID header.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(identity.Middleware)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleResume).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/messages", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/graph", s.handleGraph).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readTimeout,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	if s.router != nil {
		eg.Go(func() error {
			defer cancel()
			return s.router.Run(ctx)
		})
	}
	eg.Go(func() error {
		defer cancel()
		log.Info().Str("addr", s.addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve http")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer done()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func (s *Server) Close() error {
	var result *multierror.Error
	if s.router != nil {
		if err := s.router.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}

// handleCreateSession allocates a session id. Nothing is stored until the first
// message is submitted.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.FromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unidentified", errors.New("missing "+identity.HeaderUserID))
		return
	}
	id := shortuuid.New()
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id, Path: turnlog.PathFor(id)})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	who, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unidentified", errors.New("missing "+identity.HeaderUserID))
		return
	}
	summaries, err := s.coordinator.History(r.Context(), who.UserID)
	if err != nil {
		writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

type resumeResponse struct {
	SessionID string                 `json:"session_id"`
	Renders   []projector.RenderTurn `json:"renders"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	renders, err := s.coordinator.Resume(r.Context(), id)
	if err != nil {
		writeClassified(w, err)
		return
	}
	if renders == nil {
		writeError(w, http.StatusUnauthorized, "unidentified", errors.New("missing "+identity.HeaderUserID))
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse{SessionID: id, Renders: renders})
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", errors.Wrap(err, "decode message"))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "bad-request", errors.New("empty message"))
		return
	}

	out := newNDJSONWriter(w)
	ctx := events.WithEventSinks(r.Context(), out)
	renders, err := s.coordinator.Submit(ctx, id, req.Text)
	if out.Started() {
		return
	}
	switch {
	case err != nil:
		writeClassified(w, err)
	case renders == nil:
		writeError(w, http.StatusUnauthorized, "unidentified", errors.New("missing "+identity.HeaderUserID))
	default:
		writeJSON(w, http.StatusOK, resumeResponse{SessionID: id, Renders: renders})
	}
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if s.grapher == nil {
		writeError(w, http.StatusNotFound, "not-configured", errors.New("no graph endpoint configured"))
		return
	}
	bookID := r.URL.Query().Get("book_id")
	if bookID == "" {
		writeError(w, http.StatusBadRequest, "bad-request", errors.New("book_id is required"))
		return
	}
	g, err := s.grapher.Graph(r.Context(), bookID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "graph-failed", err)
		return
	}
	writeJSON(w, http.StatusOK, g.Network())
}

// ndjsonWriter is an event sink writing each event as one JSON line. Headers are sent
// with the first event.
type ndjsonWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	enc     *json.Encoder
	started bool
}

func newNDJSONWriter(w http.ResponseWriter) *ndjsonWriter {
	return &ndjsonWriter{w: w, enc: json.NewEncoder(w)}
}

func (n *ndjsonWriter) PublishEvent(event events.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.Header().Set("Cache-Control", "no-cache")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	if err := n.enc.Encode(event); err != nil {
		return err
	}
	if f, ok := n.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (n *ndjsonWriter) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

type errorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// StatusFor maps a failure kind to an HTTP status.
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNone:
		return http.StatusOK
	case apperrors.KindInvalidState:
		return http.StatusBadRequest
	case apperrors.KindSessionBusy:
		return http.StatusConflict
	case apperrors.KindIntegrityViolation:
		return http.StatusUnprocessableEntity
	case apperrors.KindMalformedProviderResponse, apperrors.KindToolExecutionFailed, apperrors.KindProviderFailed:
		return http.StatusBadGateway
	case apperrors.KindPersistenceFailed:
		return http.StatusServiceUnavailable
	case apperrors.KindCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func writeClassified(w http.ResponseWriter, err error) {
	kind := session.Classify(err)
	writeError(w, StatusFor(kind), string(kind), err)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	if status >= 500 {
		log.Error().Err(err).Str("kind", kind).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Kind: kind, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response")
	}
}
