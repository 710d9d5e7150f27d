package aggregation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

// Family names one maintained statistic.
type Family string

const (
	FamilyMonthly      Family = "monthly"
	FamilyLeaderboard  Family = "leaderboard"
	FamilyDistribution Family = "distribution"
	FamilyZone         Family = "zone"
)

// Families lists every statistic family the engine maintains.
var Families = []Family{FamilyMonthly, FamilyLeaderboard, FamilyDistribution, FamilyZone}

// ValidFamily reports whether f is a known statistic family.
func ValidFamily(f Family) bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}

// SubscriptionState is the lifecycle of one family's feed subscription.
// "Not ready yet" is a modeled state, not a race against a timer.
type SubscriptionState string

const (
	StateInitializing SubscriptionState = "initializing"
	StateLive         SubscriptionState = "live"
	StateStale        SubscriptionState = "stale"
)

// Snapshot is the published read view of one family. Data is an immutable
// per-family payload; readers never share mutable state with the worker.
type Snapshot struct {
	Family Family            `json:"family"`
	State  SubscriptionState `json:"state"`

	// LastUpdatedAt is the wall-clock instant the worker applied the last
	// contributing event, not that event's occurred_at. A baseline replay of
	// historical events therefore stamps the replay time; the field measures
	// aggregate freshness, not recency of collection activity.
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// SkippedEvents counts malformed events dropped from this family's
	// aggregates. Diagnostic only.
	SkippedEvents int64 `json:"skipped_events"`

	Data interface{} `json:"data"`
}

// MonthPoint is one month of the trailing series.
type MonthPoint struct {
	Month  string          `json:"month"` // "2026-08"
	Events int64           `json:"collectes"`
	Weight decimal.Decimal `json:"kg"`
	Points int64           `json:"points"`
}

// GrowthRate is the period-over-period weight growth between the two most
// recent completed months. Defined is false when the denominator month has
// zero weight; the rate is then meaningless and rendered as N/A upstream.
type GrowthRate struct {
	Defined     bool    `json:"defined"`
	RatePercent float64 `json:"rate_percent"`
	Current     string  `json:"current_month"`
	Previous    string  `json:"previous_month"`
}

// MonthlyData is the monthly statistic family payload.
type MonthlyData struct {
	Months []MonthPoint `json:"months"` // ascending, zero-filled
	Growth GrowthRate   `json:"growth"`
}

// LeaderboardEntry is one ranked account.
type LeaderboardEntry struct {
	AccountID string          `json:"account_id"`
	Weight    decimal.Decimal `json:"kg"`
	Points    int64           `json:"points"`
	Events    int64           `json:"collectes"`
}

// LeaderboardData is the top-N accounts by collected weight.
type LeaderboardData struct {
	Entries []LeaderboardEntry `json:"entries"` // rank order
}

// CategoryShare is one waste category's slice of the distribution.
// Percent is derived on read from the running totals and never stored, so
// rounding drift cannot accumulate across incremental updates.
type CategoryShare struct {
	Category model.Category  `json:"category"`
	Weight   decimal.Decimal `json:"kg"`
	Events   int64           `json:"collectes"`
	Percent  float64         `json:"percent"`
}

// DistributionData is the type-distribution family payload.
type DistributionData struct {
	Categories  []CategoryShare `json:"categories"` // fixed category order
	TotalWeight decimal.Decimal `json:"total_kg"`
	TotalEvents int64           `json:"total_collectes"`
}

// ZoneStats is one zone's running totals.
type ZoneStats struct {
	Zone   string          `json:"zone"`
	Weight decimal.Decimal `json:"kg"`
	Points int64           `json:"points"`
	Events int64           `json:"collectes"`
}

// ZoneData is the zone-performance family payload, sorted by weight
// descending.
type ZoneData struct {
	Zones []ZoneStats `json:"zones"`
}
