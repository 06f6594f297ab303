// Package handlers exposes the progress orchestrator over HTTP. Every route
// expects auth.RequireUser to have put the caller's user id in context.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/learning-progress/internal/platform/api"
	"github.com/example/learning-progress/internal/platform/auth"
	"github.com/example/learning-progress/internal/platform/httpserver"
	"github.com/example/learning-progress/services/progress/internal/domain"
	"github.com/example/learning-progress/services/progress/internal/progress"
)

// Progress is the part of progress.Orchestrator the handlers use.
type Progress interface {
	StartCollection(ctx context.Context, userID, collectionID string) (*domain.CollectionProgress, error)
	StartVideo(ctx context.Context, userID, videoID, itemProgressID string) (*domain.VideoProgress, error)
	RecordPlayhead(ctx context.Context, userID, videoProgressID string, playheadSeconds float64) (*domain.VideoProgress, error)
	MarkCompleted(ctx context.Context, userID, itemID, method string) (*domain.ItemProgress, error)
	UnmarkCompleted(ctx context.Context, userID, itemID string) (*domain.ItemProgress, error)
	Summary(ctx context.Context, userID, recordID string) (progress.Summary, error)
	PercentForContent(ctx context.Context, userID, contentID string) (int, error)
}

type Handlers struct {
	p   Progress
	log *zap.Logger
}

func New(p Progress, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{p: p, log: log.With(zap.String("component", "http"))}
}

// Routes registers every progress route on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Post("/v1/collections/{collection_id}/progress", h.StartCollection)
	r.Post("/v1/videos/{video_id}/progress", h.StartVideo)
	r.Put("/v1/video-progress/{id}/playhead", h.RecordPlayhead)
	r.Post("/v1/items/{id}/completion", h.MarkCompleted)
	r.Delete("/v1/items/{id}/completion", h.UnmarkCompleted)
	r.Get("/v1/progress/{id}", h.Summary)
	r.Get("/v1/content/{content_id}/percent", h.PercentForContent)
}

type startVideoRequest struct {
	ItemProgressID string `json:"item_progress_id"`
}

type playheadRequest struct {
	PositionSeconds *float64 `json:"position_seconds"`
}

type completionRequest struct {
	Method string `json:"method"`
}

type completionResponse struct {
	// CurrentItem is the item that is now current in the collection, or the
	// completed item itself when nothing advanced.
	CurrentItem *domain.ItemProgress `json:"current_item_progress"`
}

type percentResponse struct {
	ContentID string `json:"content_id"`
	Percent   int    `json:"percent"`
}

func (h *Handlers) StartCollection(w http.ResponseWriter, r *http.Request) {
	uid, collectionID, ok := h.userAndParam(w, r, "collection_id")
	if !ok {
		return
	}
	col, err := h.p.StartCollection(r.Context(), uid, collectionID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, col)
}

func (h *Handlers) StartVideo(w http.ResponseWriter, r *http.Request) {
	uid, videoID, ok := h.userAndParam(w, r, "video_id")
	if !ok {
		return
	}
	var req startVideoRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "Invalid JSON", requestID(r), nil)
		return
	}
	video, err := h.p.StartVideo(r.Context(), uid, videoID, strings.TrimSpace(req.ItemProgressID))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, video)
}

func (h *Handlers) RecordPlayhead(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.userAndParam(w, r, "id")
	if !ok {
		return
	}
	var req playheadRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "Invalid JSON", requestID(r), nil)
		return
	}
	if req.PositionSeconds == nil || *req.PositionSeconds < 0 {
		api.BadRequest(w, "INVALID_POSITION", "position_seconds must be a non-negative number", requestID(r), nil)
		return
	}
	video, err := h.p.RecordPlayhead(r.Context(), uid, id, *req.PositionSeconds)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, video)
}

func (h *Handlers) MarkCompleted(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.userAndParam(w, r, "id")
	if !ok {
		return
	}
	var req completionRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "Invalid JSON", requestID(r), nil)
		return
	}
	switch req.Method {
	case "", domain.CompletionManual, domain.CompletionViewed:
	default:
		api.BadRequest(w, "INVALID_METHOD", "method must be manual or viewed", requestID(r), nil)
		return
	}
	current, err := h.p.MarkCompleted(r.Context(), uid, id, req.Method)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, completionResponse{CurrentItem: current})
}

func (h *Handlers) UnmarkCompleted(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.userAndParam(w, r, "id")
	if !ok {
		return
	}
	item, err := h.p.UnmarkCompleted(r.Context(), uid, id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, item)
}

func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.userAndParam(w, r, "id")
	if !ok {
		return
	}
	sum, err := h.p.Summary(r.Context(), uid, id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handlers) PercentForContent(w http.ResponseWriter, r *http.Request) {
	uid, contentID, ok := h.userAndParam(w, r, "content_id")
	if !ok {
		return
	}
	pct, err := h.p.PercentForContent(r.Context(), uid, contentID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, percentResponse{ContentID: contentID, Percent: pct})
}

// userAndParam writes the error response itself when ok is false.
func (h *Handlers) userAndParam(w http.ResponseWriter, r *http.Request, name string) (userID, param string, ok bool) {
	userID, ok = auth.UserIDFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHORIZED", "Authentication required", requestID(r))
		return "", "", false
	}
	param = strings.TrimSpace(chi.URLParam(r, name))
	if param == "" {
		api.BadRequest(w, "MISSING_ID", name+" is required", requestID(r), nil)
		return "", "", false
	}
	return userID, param, true
}

func requestID(r *http.Request) string {
	return httpserver.RequestIDFromContext(r.Context())
}
