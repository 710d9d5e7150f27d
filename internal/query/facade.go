package query

import (
	"context"
	"time"

	"github.com/ecoledger-lab/ecoledger/internal/aggregation"
)

// Facade is the read-only snapshot surface the presentation layer polls.
// It never blocks longer than the configured warmup timeout: a family that
// has not reached Live yet yields best-effort partial data flagged
// WarmingUp instead of an error.
type Facade struct {
	engine        *aggregation.Engine
	warmupTimeout time.Duration
}

// SnapshotView is one served snapshot.
type SnapshotView struct {
	Family        aggregation.Family `json:"family"`
	WarmingUp     bool               `json:"warming_up"`
	LastUpdatedAt time.Time          `json:"last_updated_at"`
	SkippedEvents int64              `json:"skipped_events,omitempty"`
	Data          interface{}        `json:"data"`
}

// NewFacade creates the query façade.
func NewFacade(engine *aggregation.Engine, warmupTimeout time.Duration) *Facade {
	if engine == nil {
		panic("query: engine must not be nil")
	}
	if warmupTimeout <= 0 {
		warmupTimeout = 3 * time.Second
	}
	return &Facade{engine: engine, warmupTimeout: warmupTimeout}
}

// Snapshot serves the latest snapshot for a family, waiting up to the
// warmup timeout for the family to reach Live.
func (f *Facade) Snapshot(ctx context.Context, family aggregation.Family) (*SnapshotView, error) {
	if !aggregation.ValidFamily(family) {
		return nil, ErrUnknownFamily
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.warmupTimeout)
	defer cancel()
	// A timeout here is not an error: it just means partial data.
	_ = f.engine.WaitLive(waitCtx, family)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, ok := f.engine.SnapshotNow(family)
	if !ok {
		return nil, ErrUnknownFamily
	}

	return &SnapshotView{
		Family:        family,
		WarmingUp:     snap.State != aggregation.StateLive,
		LastUpdatedAt: snap.LastUpdatedAt,
		SkippedEvents: snap.SkippedEvents,
		Data:          snap.Data,
	}, nil
}
