// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/varghand/varghand-admin-go/internal/domain"
)

// SalesSource translates one external sales platform into the common
// SaleRecord shape. FetchSales returns every record for the calendar month,
// including zero-price rows (filtered downstream), and must return an empty
// slice, not an error, when the platform simply has no data for the period.
// Pagination inside one call is strictly sequential.
type SalesSource interface {
	Name() string
	FetchSales(ctx context.Context, year int, month time.Month) ([]domain.SaleRecord, error)
}

// PeriodCache memoizes per-month, per-channel sales results for closed
// calendar months. Entries are written once and never updated; a late refund
// on a closed month intentionally does not change cached history.
type PeriodCache interface {
	Get(ctx context.Context, yearMonth, channel string) ([]domain.SaleRecord, bool, error)
	Put(ctx context.Context, yearMonth, channel string, sales []domain.SaleRecord) error
}

// EntitlementStore holds user unlock records and activation codes.
type EntitlementStore interface {
	GetUser(ctx context.Context, userID string) (*domain.UserRecord, error)
	AddUnlock(ctx context.Context, userID, unlockType, value string) (*domain.UserRecord, error)
	RemoveUnlock(ctx context.Context, userID, unlockType, value string) (*domain.UserRecord, error)
	CreateActivationCodes(ctx context.Context, codes []domain.ActivationCode) error
	ActivationCodeStats(ctx context.Context) ([]domain.ActivationCodeCount, error)
}

// Cache provides generic in-memory caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
