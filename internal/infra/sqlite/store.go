// Package sqlite is the persistence layer: the period cache for closed sales
// months, user entitlement records, and activation codes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS period_cache (
	year_month TEXT NOT NULL,
	channel    TEXT NOT NULL,
	sales      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (year_month, channel)
);

CREATE TABLE IF NOT EXISTS users (
	user_id             TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	email               TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL DEFAULT '',
	unlocked_adventures TEXT NOT NULL DEFAULT '[]',
	unlocked_items      TEXT NOT NULL DEFAULT '[]',
	features            TEXT NOT NULL DEFAULT '[]',
	special_access      TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS activation_codes (
	code        TEXT PRIMARY KEY,
	unlock_id   TEXT NOT NULL,
	unlock_type TEXT NOT NULL,
	used        INTEGER NOT NULL DEFAULT 0,
	used_by     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store implements port.PeriodCache and port.EntitlementStore on SQLite.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore opens (and if needed initializes) the database at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable (health checks).
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ============================================================
// Period cache (port.PeriodCache)
// ============================================================

// Get returns the cached sale records for one month and channel.
func (s *Store) Get(ctx context.Context, yearMonth, channel string) ([]domain.SaleRecord, bool, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload,
		`SELECT sales FROM period_cache WHERE year_month = ? AND channel = ?`,
		yearMonth, channel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read period cache: %w", err)
	}

	var sales []domain.SaleRecord
	if err := json.Unmarshal([]byte(payload), &sales); err != nil {
		return nil, false, fmt.Errorf("decode period cache %s/%s: %w", yearMonth, channel, err)
	}
	return sales, true, nil
}

// Put stores one month's records for a channel. Entries are write-once:
// a concurrent writer for the same closed month would store identical data,
// so the first insert wins and later ones are ignored.
func (s *Store) Put(ctx context.Context, yearMonth, channel string, sales []domain.SaleRecord) error {
	payload, err := json.Marshal(sales)
	if err != nil {
		return fmt.Errorf("encode period cache: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO period_cache (year_month, channel, sales) VALUES (?, ?, ?)
		 ON CONFLICT (year_month, channel) DO NOTHING`,
		yearMonth, channel, string(payload))
	if err != nil {
		return fmt.Errorf("write period cache: %w", err)
	}

	s.logger.Debug("period cache: stored month",
		zap.String("year_month", yearMonth),
		zap.String("channel", channel),
		zap.Int("records", len(sales)),
	)
	return nil
}

// ============================================================
// Entitlements (port.EntitlementStore)
// ============================================================

type userRow struct {
	UserID             string `db:"user_id"`
	Name               string `db:"name"`
	Email              string `db:"email"`
	CreatedAt          string `db:"created_at"`
	UnlockedAdventures string `db:"unlocked_adventures"`
	UnlockedItems      string `db:"unlocked_items"`
	Features           string `db:"features"`
	SpecialAccess      string `db:"special_access"`
}

func (r userRow) toDomain() (*domain.UserRecord, error) {
	u := &domain.UserRecord{
		UserID:    r.UserID,
		Name:      r.Name,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
	}
	for _, f := range []struct {
		raw  string
		dest *[]string
	}{
		{r.UnlockedAdventures, &u.UnlockedAdventures},
		{r.UnlockedItems, &u.UnlockedItems},
		{r.Features, &u.Features},
		{r.SpecialAccess, &u.SpecialAccess},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", r.UserID, err)
		}
	}
	return u, nil
}

// GetUser returns one user's entitlement record.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.UserRecord, error) {
	userID = domain.NormalizeUserID(userID)

	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}
	return row.toDomain()
}

func unlockColumn(unlockType string) (string, error) {
	switch unlockType {
	case domain.UnlockAdventure:
		return "unlocked_adventures", nil
	case domain.UnlockItem:
		return "unlocked_items", nil
	case domain.UnlockFeature:
		return "features", nil
	}
	return "", &domain.ErrValidation{Field: "type", Message: "must be adventure, item or feature"}
}

// AddUnlock appends a value to one of the user's unlock lists. Adding an
// already-present value is a no-op.
func (s *Store) AddUnlock(ctx context.Context, userID, unlockType, value string) (*domain.UserRecord, error) {
	return s.updateUnlocks(ctx, userID, unlockType, func(list []string) []string {
		if slices.Contains(list, value) {
			return list
		}
		return append(list, value)
	})
}

// RemoveUnlock removes a value from one of the user's unlock lists.
func (s *Store) RemoveUnlock(ctx context.Context, userID, unlockType, value string) (*domain.UserRecord, error) {
	return s.updateUnlocks(ctx, userID, unlockType, func(list []string) []string {
		return slices.DeleteFunc(list, func(v string) bool { return v == value })
	})
}

func (s *Store) updateUnlocks(ctx context.Context, userID, unlockType string, apply func([]string) []string) (*domain.UserRecord, error) {
	column, err := unlockColumn(unlockType)
	if err != nil {
		return nil, err
	}
	userID = domain.NormalizeUserID(userID)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.GetContext(ctx, &raw,
		fmt.Sprintf(`SELECT %s FROM users WHERE user_id = ?`, column), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("read user unlocks: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode unlocks for %s: %w", userID, err)
	}

	updated, err := json.Marshal(apply(list))
	if err != nil {
		return nil, fmt.Errorf("encode unlocks: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = ? WHERE user_id = ?`, column),
		string(updated), userID); err != nil {
		return nil, fmt.Errorf("update user unlocks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetUser(ctx, userID)
}

// ============================================================
// Activation codes
// ============================================================

// CreateActivationCodes inserts a batch of freshly generated codes.
func (s *Store) CreateActivationCodes(ctx context.Context, codes []domain.ActivationCode) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, code := range codes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activation_codes (code, unlock_id, unlock_type) VALUES (?, ?, ?)`,
			code.Code, code.UnlockID, code.UnlockType); err != nil {
			return fmt.Errorf("insert activation code: %w", err)
		}
	}
	return tx.Commit()
}

// ActivationCodeStats scans all codes and counts issued vs. redeemed per
// unlock id.
func (s *Store) ActivationCodeStats(ctx context.Context) ([]domain.ActivationCodeCount, error) {
	rows := []struct {
		ID    string `db:"unlock_id"`
		Type  string `db:"unlock_type"`
		Total int    `db:"total"`
		Used  int    `db:"used"`
	}{}

	err := s.db.SelectContext(ctx, &rows, `
		SELECT unlock_id, unlock_type, COUNT(*) AS total, COALESCE(SUM(used), 0) AS used
		FROM activation_codes
		GROUP BY unlock_id, unlock_type
		ORDER BY unlock_id`)
	if err != nil {
		return nil, fmt.Errorf("scan activation codes: %w", err)
	}

	counts := make([]domain.ActivationCodeCount, 0, len(rows))
	for _, r := range rows {
		counts = append(counts, domain.ActivationCodeCount{
			ID:    r.ID,
			Type:  r.Type,
			Total: r.Total,
			Used:  r.Used,
		})
	}
	return counts, nil
}

// UpsertUser creates or replaces a user record (dev tooling and tests).
func (s *Store) UpsertUser(ctx context.Context, u *domain.UserRecord) error {
	enc := func(list []string) string {
		if list == nil {
			list = []string{}
		}
		b, _ := json.Marshal(list)
		return string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, name, email, created_at, unlocked_adventures, unlocked_items, features, special_access)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			unlocked_adventures = excluded.unlocked_adventures,
			unlocked_items = excluded.unlocked_items,
			features = excluded.features,
			special_access = excluded.special_access`,
		domain.NormalizeUserID(u.UserID), u.Name, u.Email, u.CreatedAt,
		enc(u.UnlockedAdventures), enc(u.UnlockedItems), enc(u.Features), enc(u.SpecialAccess))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
