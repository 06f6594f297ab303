package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/learning-progress/internal/platform/api"
	"github.com/example/learning-progress/internal/platform/httpserver"
	"github.com/example/learning-progress/services/progress/internal/domain"
)

// writeDomainError maps domain error kinds onto the JSON error envelope.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	log = httpserver.RequestLogger(r.Context(), log)
	retryable := domain.IsRetryable(err)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "progress record not found", rid)
	case errors.Is(err, domain.ErrInvalidState):
		api.Conflict(w, "INVALID_STATE", err.Error(), rid, nil)
	case errors.Is(err, domain.ErrConsistency):
		log.Error("progress consistency violation", zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "CONSISTENCY", "progress records are inconsistent", rid,
			map[string]any{"retryable": retryable})
	case errors.Is(err, domain.ErrPersistence):
		log.Warn("progress persistence failure", zap.Error(err))
		api.ServiceUnavailable(w, "PERSISTENCE", "progress could not be saved", rid,
			map[string]any{"retryable": retryable})
	default:
		log.Error("progress request failed", zap.Error(err))
		api.Internal(w, rid)
	}
}
