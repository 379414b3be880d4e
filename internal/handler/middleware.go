package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/service"
)

type contextKey string

const userIDKey contextKey = "userID"

// AuthConfig controls API authentication. DevMode skips authentication
// entirely for local development; never enable it in production.
type AuthConfig struct {
	JWTSecret string
	DevMode   bool
}

// AuthMiddleware validates Bearer tokens (HS256) and requires the caller's
// entitlement record to carry employee access. The token subject is the
// caller's user id.
func AuthMiddleware(cfg AuthConfig, entSvc *service.EntitlementService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.DevMode {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "missing authorization token"}, logger)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "invalid token format"}, logger)
				return
			}

			userID, err := validateToken(parts[1], cfg.JWTSecret)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "invalid or expired token"}, logger)
				return
			}

			user, err := entSvc.GetUser(r.Context(), userID)
			if err != nil {
				logger.Warn("auth: no entitlement record for token subject",
					zap.String("user_id", domain.NormalizeUserID(userID)),
					zap.Error(err),
				)
				handleServiceError(w, &domain.ErrForbidden{Action: "employee access required"}, logger)
				return
			}
			if !hasEmployeeAccess(user) {
				logger.Warn("auth: caller is not an employee",
					zap.String("user_id", user.UserID),
				)
				handleServiceError(w, &domain.ErrForbidden{Action: "employee access required"}, logger)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, user.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validateToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}

func hasEmployeeAccess(user *domain.UserRecord) bool {
	for _, access := range user.SpecialAccess {
		if access == domain.EmployeeAccess {
			return true
		}
	}
	return false
}

// UserIDFromContext extracts the authenticated user id from context.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
