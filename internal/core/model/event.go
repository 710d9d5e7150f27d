package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the waste category of a collection event.
type Category string

const (
	CategoryPlastic    Category = "plastic"
	CategoryPaper      Category = "paper"
	CategoryGlass      Category = "glass"
	CategoryMetal      Category = "metal"
	CategoryElectronic Category = "electronic"
	CategoryTextile    Category = "textile"
	CategoryOther      Category = "other"
)

// Categories lists every valid waste category.
var Categories = []Category{
	CategoryPlastic, CategoryPaper, CategoryGlass, CategoryMetal,
	CategoryElectronic, CategoryTextile, CategoryOther,
}

// ValidCategory reports whether c is a known waste category.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// EventStatus is the ledger status of a collection event.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusPending EventStatus = "pending"
	StatusFailed  EventStatus = "failed"
)

// GeoPoint is an optional collection location.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CollectionEvent is one physical collection converted into ledger points.
// Immutable once written: the event log is append-only and events are never
// mutated or deleted by the core.
type CollectionEvent struct {
	// ID is the unique event identifier (uuid).
	ID string `json:"id"`

	// AccountID is the owning account.
	AccountID string `json:"account_id"`

	Category Category        `json:"category"`
	Weight   decimal.Decimal `json:"weight"` // kilograms, non-negative
	Points   int64           `json:"points"` // awarded points, non-negative

	// OccurredAt is when the collection happened.
	OccurredAt time.Time `json:"occurred_at"`

	// TokenID links a redemption-sourced event to the token it consumed.
	// Empty for the manual submission flow. At most one event per token.
	TokenID string `json:"token_id,omitempty"`

	Geo *GeoPoint `json:"geo,omitempty"`

	Status EventStatus `json:"status"`

	// IngestSeq is a monotonic sequence assigned by the store on append.
	// It provides per-account commit ordering for the aggregation feed.
	// Not part of the public API shape.
	IngestSeq int64 `json:"-"`
}

// Validate checks the event envelope before it enters the ledger.
func (e *CollectionEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if !ValidCategory(e.Category) {
		return fmt.Errorf("unknown category %q", e.Category)
	}
	if e.Weight.IsNegative() {
		return fmt.Errorf("weight must be non-negative, got %s", e.Weight)
	}
	if e.Points < 0 {
		return fmt.Errorf("points must be non-negative, got %d", e.Points)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	switch e.Status {
	case StatusSuccess, StatusPending, StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", e.Status)
	}
	return nil
}
