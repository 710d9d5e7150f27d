package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the reward tier derived from an account's points balance.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// Tier thresholds in points. An account's tier is recomputed from its
// balance on every credit.
const (
	silverThreshold   = 500
	goldThreshold     = 2000
	platinumThreshold = 5000
)

// TierForBalance maps a points balance to its reward tier.
func TierForBalance(balance int64) Tier {
	switch {
	case balance >= platinumThreshold:
		return TierPlatinum
	case balance >= goldThreshold:
		return TierGold
	case balance >= silverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// Account is the mutable ledger record for one agent.
// Only the redemption processor's atomic credit step mutates it; the
// aggregation engine is strictly read-only over accounts.
type Account struct {
	ID   string `json:"id"`
	Zone string `json:"zone,omitempty"`

	// Balance is the accumulated points balance. The core only ever
	// credits it; withdrawals are recorded elsewhere.
	Balance int64 `json:"balance"`

	LifetimeWeight decimal.Decimal `json:"lifetime_weight"`
	LifetimeEvents int64           `json:"lifetime_events"`

	Tier Tier `json:"tier"`

	LastActivityAt time.Time `json:"last_activity_at"`

	// Version is bumped on every write; the store's transaction layer uses
	// it for conflict detection.
	Version int64 `json:"-"`
}

// Credit applies one collection's award to the account's balance and
// lifetime counters. Must only be called inside a store transaction.
func (a *Account) Credit(points int64, weight decimal.Decimal, at time.Time) {
	a.Balance += points
	a.LifetimeWeight = a.LifetimeWeight.Add(weight)
	a.LifetimeEvents++
	a.Tier = TierForBalance(a.Balance)
	if at.After(a.LastActivityAt) {
		a.LastActivityAt = at
	}
}
