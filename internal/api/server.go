// Package api serves the chained content over read-only HTTP/JSON.
//
// A row that fails verification is never served as content: the response
// is 409 with "tamper": true, distinct from the 404 of a missing row.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/verify"
	"github.com/xtchd/xtchd/internal/views"
)

const (
	DefaultChainLimit = 100
	MaxChainLimit     = 1000
)

var errBadRequest = errors.New("bad request")

// ChainReader pages through raw chains.
type ChainReader interface {
	Head(ctx context.Context, table string) (chain.Head, error)
	Rows(ctx context.Context, table string, fromID int32, limit int) ([]chain.Envelope[content.Record], error)
}

type TableVerifier interface {
	VerifyTable(ctx context.Context, table string) (*verify.Report, error)
}

type Server struct {
	views    *views.Views
	chains   ChainReader
	verifier TableVerifier
	logger   *slog.Logger
	router   *chi.Mux
	http     *http.Server
}

func NewServer(addr string, v *views.Views, chains ChainReader, verifier TableVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		views:    v,
		chains:   chains,
		verifier: verifier,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	s.RegisterHTTP(r)
	s.router = r

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/headlines", s.handleHeadlines)
	r.Get("/authors/{id}", s.handleAuthor)
	r.Get("/articles/{id}", s.handleArticle)
	r.Route("/chains/{table}", func(r chi.Router) {
		r.Get("/", s.handleChain)
		r.Get("/verify", s.handleVerify)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHeadlines(w http.ResponseWriter, r *http.Request) {
	articles, err := s.views.Headlines(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, articles)
}

func (s *Server) handleAuthor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.views.AuthorDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.views.ArticleDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// chainRow is one raw row with the outcome of recomputing its hash.
type chainRow struct {
	Row   chain.Envelope[content.Record] `json:"row"`
	Valid bool                           `json:"valid"`
}

type chainPage struct {
	Table string     `json:"table"`
	Head  chain.Head `json:"head"`
	Rows  []chainRow `json:"rows"`
	Next  *int32     `json:"next,omitempty"`
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	table, err := pathTable(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	from, err := queryInt(r, "from", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", DefaultChainLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if from < 0 || limit <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: from must be >= 0 and limit > 0", errBadRequest))
		return
	}
	limit = min(limit, MaxChainLimit)

	head, err := s.chains.Head(r.Context(), table)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	envs, err := s.chains.Rows(r.Context(), table, int32(from), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page := chainPage{Table: table, Head: head, Rows: make([]chainRow, len(envs))}
	for i, env := range envs {
		page.Rows[i] = chainRow{Row: env, Valid: env.Valid()}
	}
	if len(envs) == limit {
		next := envs[len(envs)-1].ID() + 1
		page.Next = &next
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	table, err := pathTable(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	report, err := s.verifier.VerifyTable(r.Context(), table)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !report.Valid {
		s.writeJSON(w, http.StatusConflict, map[string]any{"tamper": true, "report": report})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func pathID(r *http.Request) (int32, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, raw)
	}
	return int32(id), nil
}

func pathTable(r *http.Request) (string, error) {
	table := chi.URLParam(r, "table")
	if _, ok := content.ByTable(table); !ok {
		return "", fmt.Errorf("table %q: %w", table, chain.ErrNotFound)
	}
	return table, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, key, raw)
	}
	return n, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

type errorBody struct {
	Error  string       `json:"error"`
	Tamper bool         `json:"tamper,omitempty"`
	Table  string       `json:"table,omitempty"`
	RowID  *int32       `json:"row_id,omitempty"`
	Reason chain.Reason `json:"reason,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, chain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case chain.IsIntegrity(err):
		ie := chain.AsIntegrity(err)
		s.logger.Error("TAMPERING DETECTED: refused to serve row",
			"path", r.URL.Path, "table", ie.Table, "id", ie.RowID, "reason", ie.Reason)
		id := ie.RowID
		s.writeJSON(w, http.StatusConflict, errorBody{
			Error:  "stored content failed integrity verification",
			Tamper: true,
			Table:  ie.Table,
			RowID:  &id,
			Reason: ie.Reason,
		})
	case chain.IsTransient(err):
		s.logger.Warn("Transient read failure", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable"})
	default:
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
