package domain

import (
	"strings"
	"time"
)

// Unlock types a user record can carry.
const (
	UnlockAdventure = "adventure"
	UnlockItem      = "item"
	UnlockFeature   = "feature"
)

// EmployeeAccess is the special_access entry required for admin endpoints.
const EmployeeAccess = "varghand-employee"

// NormalizeUserID canonicalizes the lookup key: user ids are lowercased,
// trimmed email addresses.
func NormalizeUserID(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}

// UserRecord holds one user's unlocked content, keyed by lowercased email.
type UserRecord struct {
	UserID             string   `json:"userId"`
	Name               string   `json:"name"`
	Email              string   `json:"email"`
	CreatedAt          string   `json:"createdAt"`
	UnlockedAdventures []string `json:"unlockedAdventures"`
	UnlockedItems      []string `json:"unlockedItems"`
	Features           []string `json:"features"`
	SpecialAccess      []string `json:"specialAccess"`
}

// ActivationCode is a redeemable code granting one unlock.
type ActivationCode struct {
	Code       string    `json:"code"`
	UnlockID   string    `json:"unlockId"`
	UnlockType string    `json:"unlockType"`
	Used       bool      `json:"used"`
	UsedBy     string    `json:"usedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ActivationCodeCount summarizes issued vs. redeemed codes per unlock.
type ActivationCodeCount struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Total int    `json:"total"`
	Used  int    `json:"used"`
}
