package allocatorsvc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

// allocateRequest is the wire payload for POST /v1/allocate.
type allocateRequest struct {
	Size int64 `json:"size"`
}

// allocateResponse is the wire payload returned on success.
type allocateResponse struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Handler exposes Service over a minimal chi-routed HTTP endpoint so the
// allocator can run as its own scaled process, a central range-vending
// service edges call over HTTP instead of touching Redis directly.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler wrapping svc.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Mount registers the allocator routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/v1/allocate", h.allocate)
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start, end, err := h.svc.Allocate(r.Context(), req.Size)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, "invalid size")
		case errors.Is(err, domain.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "allocator unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(allocateResponse{Start: start, End: end})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
