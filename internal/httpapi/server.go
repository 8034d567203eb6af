// Package httpapi exposes the Story Runtime over HTTP (spec.md §6): JSON
// bodies, Go 1.22 method+pattern routing on the standard library's
// net/http.ServeMux, go-playground/validator/v10 request validation, and
// an injected AuthResolver for ownership checks. No third-party router
// is used — none of the retrieved example repos pulls one in for plain
// HTTP routing, so stdlib ServeMux stays the grounded choice.
//
// Grounded on the world-state HTTP surface
// (tobyjaguar-mini-world/internal/api/server.go): a flat mux built in one
// place, a shared writeJSON helper, and a CORS middleware wrapping the
// whole mux rather than per-route.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/vampirenirmal/taletwo/internal/errs"
	"github.com/vampirenirmal/taletwo/internal/persistence"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
	"github.com/vampirenirmal/taletwo/internal/storyruntime"
)

// Server wires the Story Runtime and persistence adapter into an
// http.Handler.
type Server struct {
	runtime    *storyruntime.Runtime
	store      persistence.Adapter
	auth       AuthResolver
	corsOrigin string
	logger     *slog.Logger
	validate   *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option { return func(s *Server) { s.logger = logger } }

// New builds a Server. corsOrigin is echoed verbatim as
// Access-Control-Allow-Origin for every response; pass "*" to allow any
// origin (the default, matching spec.md §6's CORS_ORIGIN default).
func New(runtime *storyruntime.Runtime, store persistence.Adapter, auth AuthResolver, corsOrigin string, opts ...Option) *Server {
	s := &Server{
		runtime:    runtime,
		store:      store,
		auth:       auth,
		corsOrigin: corsOrigin,
		logger:     slog.Default(),
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the engine's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/books", s.handleCreateBook)
	mux.HandleFunc("GET /api/books/{id}", s.handleGetBook)
	mux.HandleFunc("GET /api/books/{id}/story", s.handleGetStory)
	mux.HandleFunc("POST /api/books/{id}/story/start", s.handleStartStory)
	mux.HandleFunc("GET /api/books/{id}/story/ready", s.handleReady)
	mux.HandleFunc("POST /api/books/{id}/story/next", s.handleNext)
	mux.HandleFunc("POST /api/books/{id}/story/choose", s.handleChoose)

	return s.corsMiddleware(mux)
}

// corsMiddleware adds CORS headers for s.corsOrigin and short-circuits
// preflight OPTIONS requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Debug-User-Id")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

// errorResponse is the JSON body every non-2xx response carries.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to an HTTP status via statusFor and writes an
// errorResponse body (spec.md §7 "foreground tasks surface errors
// directly").
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps an error to an HTTP status, folding persistence's
// not-found sentinel into the shared errs taxonomy first since
// errs.StatusCode only recognizes errs.ErrNotFound.
func statusFor(err error) int {
	if errors.Is(err, persistence.ErrNotFound) {
		return errs.StatusCode(errs.ErrNotFound)
	}
	return errs.StatusCode(err)
}

// requireOwnedBook resolves the caller's userId, loads the book, and
// checks ownership, writing the appropriate error response and
// returning ok=false on any failure.
func (s *Server) requireOwnedBook(w http.ResponseWriter, r *http.Request, bookID string) (*storymodel.Book, bool) {
	userID, err := s.auth.ResolveUserID(r)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	book, err := s.store.FindOne(r.Context(), bookID)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	if book.OwnerID != userID {
		s.writeError(w, errs.ErrForbidden)
		return nil, false
	}
	return book, true
}

// decodeAndValidate decodes r's JSON body into dst and validates it
// against dst's validator tags. An empty body is treated as a
// zero-valued dst rather than an error, since several request types
// (NextRequest at index -1, an optionless choose relying on text) have
// meaningful zero values.
func (s *Server) decodeAndValidate(r *http.Request, dst any) error {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return errs.ErrBadRequest
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		return errs.ErrBadRequest
	}
	return nil
}
