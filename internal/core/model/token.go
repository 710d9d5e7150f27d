package model

import "time"

// TokenState is the derived lifecycle state of a redemption token.
type TokenState string

const (
	TokenValid   TokenState = "valid"
	TokenUsed    TokenState = "used"
	TokenExpired TokenState = "expired"
)

// RedeemToken is a short-lived redemption token. Expiry is never swept:
// any reader comparing now against ExpiresAt treats a past-expiry token as
// expired regardless of the stored Used flag.
type RedeemToken struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"-"`

	// Version is bumped on every write; used for transaction conflict
	// detection.
	Version int64 `json:"-"`
}

// StateAt derives the lifecycle state at a given instant. Used wins over
// Expired so a consumed token reports AlreadyUsed even after its TTL.
func (t *RedeemToken) StateAt(now time.Time) TokenState {
	if t.Used {
		return TokenUsed
	}
	if !now.Before(t.ExpiresAt) {
		return TokenExpired
	}
	return TokenValid
}

// Live reports whether the token can still be redeemed at now.
func (t *RedeemToken) Live(now time.Time) bool {
	return t.StateAt(now) == TokenValid
}
