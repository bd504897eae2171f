package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shortlinkio/shortlink-core/internal/domain"
	"github.com/shortlinkio/shortlink-core/internal/service/handler"
)

// Server holds the handler-layer services the HTTP shell dispatches to.
type Server struct {
	Shorten  *handler.ShortenService
	Redirect *handler.RedirectService
}

// NewServer constructs a Server.
func NewServer(shorten *handler.ShortenService, redirect *handler.RedirectService) *Server {
	return &Server{Shorten: shorten, Redirect: redirect}
}

type shortenRequest struct {
	URL        string `json:"url"`
	CustomCode string `json:"custom_code"`
}

type shortenResponse struct {
	ShortCode   string `json:"short_code"`
	OriginalURL string `json:"original_url"`
}

// ShortenHandler handles POST /shorten.
func (s *Server) ShortenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req shortenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
			return
		}
		rec, err := s.Shorten.Shorten(r.Context(), req.URL, req.CustomCode)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, shortenResponse{ShortCode: rec.ShortCode, OriginalURL: rec.OriginalURL})
	}
}

// RedirectHandler handles GET /{code}.
func (s *Server) RedirectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		target, err := s.Redirect.Resolve(r.Context(), code)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			writeDomainError(w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// HealthzHandler reports process liveness.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
