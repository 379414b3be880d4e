package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/port"
)

var entitlementTracer = otel.Tracer("service/entitlement")

// maxCodesPerBatch caps one activation-code generation request.
const maxCodesPerBatch = 1000

// EntitlementService manages user unlock records and activation codes.
type EntitlementService struct {
	store     port.EntitlementStore
	userCache port.Cache[*domain.UserRecord]
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewEntitlementService creates a new entitlement service.
func NewEntitlementService(store port.EntitlementStore, userCache port.Cache[*domain.UserRecord], metrics *observability.Metrics, logger *zap.Logger) *EntitlementService {
	return &EntitlementService{
		store:     store,
		userCache: userCache,
		metrics:   metrics,
		logger:    logger,
	}
}

func userCacheKey(userID string) string {
	return "user:" + domain.NormalizeUserID(userID)
}

// GetUser returns one user's entitlement record, cached briefly to absorb
// repeated admin-panel lookups.
func (s *EntitlementService) GetUser(ctx context.Context, userID string) (*domain.UserRecord, error) {
	ctx, span := entitlementTracer.Start(ctx, "EntitlementService.GetUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", domain.NormalizeUserID(userID)))

	if userID == "" {
		return nil, &domain.ErrValidation{Field: "userId", Message: "must not be empty"}
	}

	key := userCacheKey(userID)
	if user, ok := s.userCache.Get(key); ok {
		s.metrics.IncrCacheHit("user")
		return user, nil
	}
	s.metrics.IncrCacheMiss("user")

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.userCache.Set(key, user)
	return user, nil
}

// AddUnlock grants a user an adventure, item or feature unlock.
func (s *EntitlementService) AddUnlock(ctx context.Context, userID, unlockType, value string) (*domain.UserRecord, error) {
	ctx, span := entitlementTracer.Start(ctx, "EntitlementService.AddUnlock")
	defer span.End()
	span.SetAttributes(attribute.String("unlock.type", unlockType))

	if err := validateUnlock(userID, unlockType, value); err != nil {
		return nil, err
	}

	user, err := s.store.AddUnlock(ctx, userID, unlockType, value)
	if err != nil {
		return nil, err
	}
	s.userCache.Delete(userCacheKey(userID))

	s.logger.Info("unlock added",
		zap.String("user_id", domain.NormalizeUserID(userID)),
		zap.String("type", unlockType),
		zap.String("id", value),
	)
	return user, nil
}

// RemoveUnlock revokes a previously granted unlock.
func (s *EntitlementService) RemoveUnlock(ctx context.Context, userID, unlockType, value string) (*domain.UserRecord, error) {
	ctx, span := entitlementTracer.Start(ctx, "EntitlementService.RemoveUnlock")
	defer span.End()
	span.SetAttributes(attribute.String("unlock.type", unlockType))

	if err := validateUnlock(userID, unlockType, value); err != nil {
		return nil, err
	}

	user, err := s.store.RemoveUnlock(ctx, userID, unlockType, value)
	if err != nil {
		return nil, err
	}
	s.userCache.Delete(userCacheKey(userID))

	s.logger.Info("unlock removed",
		zap.String("user_id", domain.NormalizeUserID(userID)),
		zap.String("type", unlockType),
		zap.String("id", value),
	)
	return user, nil
}

func validateUnlock(userID, unlockType, value string) error {
	if userID == "" {
		return &domain.ErrValidation{Field: "userId", Message: "must not be empty"}
	}
	if value == "" {
		return &domain.ErrValidation{Field: "id", Message: "must not be empty"}
	}
	switch unlockType {
	case domain.UnlockAdventure, domain.UnlockItem, domain.UnlockFeature:
		return nil
	}
	return &domain.ErrValidation{Field: "type", Message: "must be adventure, item or feature"}
}

// GenerateActivationCodes mints count fresh codes for one unlock and stores
// them. The codes are returned so the caller can export them.
func (s *EntitlementService) GenerateActivationCodes(ctx context.Context, unlockID, unlockType string, count int) ([]domain.ActivationCode, error) {
	ctx, span := entitlementTracer.Start(ctx, "EntitlementService.GenerateActivationCodes")
	defer span.End()
	span.SetAttributes(
		attribute.String("unlock.id", unlockID),
		attribute.Int("count", count),
	)

	if unlockID == "" {
		return nil, &domain.ErrValidation{Field: "unlockId", Message: "must not be empty"}
	}
	switch unlockType {
	case domain.UnlockAdventure, domain.UnlockItem, domain.UnlockFeature:
	default:
		return nil, &domain.ErrValidation{Field: "unlockType", Message: "must be adventure, item or feature"}
	}
	if count < 1 || count > maxCodesPerBatch {
		return nil, &domain.ErrValidation{Field: "count", Message: "must be between 1 and 1000"}
	}

	codes := make([]domain.ActivationCode, count)
	for i := range codes {
		codes[i] = domain.ActivationCode{
			Code:       uuid.NewString(),
			UnlockID:   unlockID,
			UnlockType: unlockType,
		}
	}

	if err := s.store.CreateActivationCodes(ctx, codes); err != nil {
		return nil, err
	}

	s.logger.Info("activation codes generated",
		zap.String("unlock_id", unlockID),
		zap.String("unlock_type", unlockType),
		zap.Int("count", count),
	)
	return codes, nil
}

// ActivationCodeStats summarizes issued vs. redeemed codes per unlock.
func (s *EntitlementService) ActivationCodeStats(ctx context.Context) ([]domain.ActivationCodeCount, error) {
	ctx, span := entitlementTracer.Start(ctx, "EntitlementService.ActivationCodeStats")
	defer span.End()

	return s.store.ActivationCodeStats(ctx)
}
