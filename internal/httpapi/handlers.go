package httpapi

import (
	"net/http"
	"strconv"

	"github.com/vampirenirmal/taletwo/internal/errs"
	"github.com/vampirenirmal/taletwo/internal/storymodel"
	"github.com/vampirenirmal/taletwo/internal/storyruntime"
)

// handleCreateBook implements POST /api/books: creates an empty book
// owned by the resolved caller.
func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.ResolveUserID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req CreateBookRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	book := storymodel.NewBook(userID, req.toConfig())
	if err := s.store.InsertOne(r.Context(), book); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateBookResponse{ID: book.ID.String()})
}

// handleGetBook implements GET /api/books/{id}: the full book document.
func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, ok := s.requireOwnedBook(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// handleGetStory implements GET /api/books/{id}/story: the current
// snapshot, transparently starting the story if no pages exist yet.
func (s *Server) handleGetStory(w http.ResponseWriter, r *http.Request) {
	book, ok := s.requireOwnedBook(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if book.Story == nil || len(book.Story.Pages) == 0 {
		s.start(w, r, book.ID.String())
		return
	}
	snap, err := s.runtime.GetSnapshot(r.Context(), book.ID.String())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStartStory implements POST /api/books/{id}/story/start:
// idempotent-ish, returning the existing snapshot if a story already
// exists.
func (s *Server) handleStartStory(w http.ResponseWriter, r *http.Request) {
	book, ok := s.requireOwnedBook(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	s.start(w, r, book.ID.String())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, bookID string) {
	snap, err := s.runtime.Start(r.Context(), bookID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleReady implements GET /api/books/{id}/story/ready?index=N.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	book, ok := s.requireOwnedBook(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	index, err := parseIndexQuery(r, book)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status, err := s.runtime.Ready(r.Context(), book.ID.String(), index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": status})
}

func parseIndexQuery(r *http.Request, book *storymodel.Book) (int, error) {
	raw := r.URL.Query().Get("index")
	if raw == "" {
		if book.Story == nil {
			return -1, nil
		}
		return book.Story.Index, nil
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.ErrBadRequest
	}
	return index, nil
}

// handleNext implements POST /api/books/{id}/story/next.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	book, ok := s.requireOwnedBook(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	var req NextRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := s.runtime.Next(r.Context(), book.ID.String(), req.Index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleChoose implements POST /api/books/{id}/story/choose.
func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request) {
	book, ok := s.requireOwnedBook(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	var req ChooseRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	snap, err := s.runtime.Choose(r.Context(), book.ID.String(), storyruntime.ChooseRequest{
		Index:    req.Index,
		OptionID: storymodel.OptionID(req.OptionID),
		Text:     req.Text,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
