package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/service"
)

// ============================================================
// Users — GET /v1/users/{userId}
// ============================================================

func getUserHandler(entSvc *service.EntitlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/users/{userId}")
		defer span.End()

		userID := chi.URLParam(r, "userId")
		span.SetAttributes(attribute.String("user.id", domain.NormalizeUserID(userID)))

		user, err := entSvc.GetUser(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// ============================================================
// Unlocks — POST & DELETE /v1/users/{userId}/unlocks
// ============================================================

type unlockRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func addUnlockHandler(entSvc *service.EntitlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/users/{userId}/unlocks")
		defer span.End()

		userID := chi.URLParam(r, "userId")

		var req unlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("unlock.type", req.Type))

		user, err := entSvc.AddUnlock(ctx, userID, req.Type, req.ID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func removeUnlockHandler(entSvc *service.EntitlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/users/{userId}/unlocks")
		defer span.End()

		userID := chi.URLParam(r, "userId")

		var req unlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("unlock.type", req.Type))

		user, err := entSvc.RemoveUnlock(ctx, userID, req.Type, req.ID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// ============================================================
// Activation codes
// ============================================================

type createCodesRequest struct {
	UnlockID   string `json:"unlockId"`
	UnlockType string `json:"unlockType"`
	Count      int    `json:"count"`
}

func createActivationCodesHandler(entSvc *service.EntitlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/activation-codes")
		defer span.End()

		var req createCodesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(
			attribute.String("unlock.id", req.UnlockID),
			attribute.Int("count", req.Count),
		)

		codes, err := entSvc.GenerateActivationCodes(ctx, req.UnlockID, req.UnlockType, req.Count)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"codes": codes})
	}
}

func activationCodeStatsHandler(entSvc *service.EntitlementService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/activation-codes/stats")
		defer span.End()

		stats, err := entSvc.ActivationCodeStats(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
	}
}
