package aggregation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	corerr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
	"github.com/ecoledger-lab/ecoledger/internal/core/storage"
)

const resubscribeDelay = time.Second

// aggregate is the reduce surface of one statistic family. Implementations
// are single-goroutine: only the family's worker touches them.
type aggregate interface {
	Family() Family
	Apply(e *model.CollectionEvent) error
	Snapshot() interface{}
	Reset()
}

// Options configures the engine.
type Options struct {
	// WindowMonths is the trailing monthly window, including the current
	// month.
	WindowMonths int

	// LeaderboardSize is the ranked top-N size.
	LeaderboardSize int
}

func (o Options) normalized() Options {
	n := o
	if n.WindowMonths <= 0 {
		n.WindowMonths = 6
	}
	if n.LeaderboardSize <= 0 {
		n.LeaderboardSize = 10
	}
	return n
}

// Engine maintains every statistic family incrementally from the store's
// change feed. Each family runs on its own worker and shares no mutable
// state with the others; readers see immutable published snapshots.
//
// Per family the subscription moves through Initializing (baseline scan
// over the window), Live (incremental deltas), and Stale (feed lost); a
// stale family rebuilds from a fresh baseline, which is what makes rebuilds
// idempotent by construction.
type Engine struct {
	store storage.Store
	opts  Options
	nowFn func() time.Time

	cache *zoneCache

	mu        sync.RWMutex
	published map[Family]*Snapshot
	liveCh    map[Family]chan struct{}
}

// NewEngine creates an aggregation engine over the store.
func NewEngine(store storage.Store, opts Options) *Engine {
	if store == nil {
		panic("aggregation: store must not be nil")
	}
	e := &Engine{
		store:     store,
		opts:      opts.normalized(),
		nowFn:     func() time.Time { return time.Now().UTC() },
		published: make(map[Family]*Snapshot),
		liveCh:    make(map[Family]chan struct{}),
	}
	e.cache = newZoneCache(func(accountID string) (string, error) {
		account, err := store.GetAccount(context.Background(), accountID)
		if err != nil {
			return "", err
		}
		return account.Zone, nil
	})
	for _, family := range Families {
		e.liveCh[family] = make(chan struct{})
		e.published[family] = &Snapshot{Family: family, State: StateInitializing}
	}
	return e
}

func (e *Engine) newAggregate(family Family) aggregate {
	switch family {
	case FamilyMonthly:
		return newMonthlyAggregate(e.opts.WindowMonths, e.nowFn)
	case FamilyLeaderboard:
		return newLeaderboardAggregate(e.opts.LeaderboardSize)
	case FamilyDistribution:
		return newDistributionAggregate()
	case FamilyZone:
		return newZoneAggregate(e.cache.Resolve)
	default:
		return nil
	}
}

// baselineSince is the oldest event timestamp a family's baseline scan
// needs. The monthly series is window-bounded; the other families summarize
// the full ledger history.
func (e *Engine) baselineSince(family Family) time.Time {
	if family == FamilyMonthly {
		now := e.nowFn()
		return model.MonthOf(now).Start().AddDate(0, -(e.opts.WindowMonths - 1), 0)
	}
	return time.Time{}
}

// Start runs one worker per family plus the account-feed watcher and blocks
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, family := range Families {
		g.Go(func() error {
			e.runFamily(ctx, family)
			return nil
		})
	}
	g.Go(func() error {
		e.watchAccounts(ctx)
		return nil
	})

	return g.Wait()
}

// runFamily owns one family's full subscription lifecycle. Any feed loss
// drops to Stale and rebuilds from a fresh baseline.
func (e *Engine) runFamily(ctx context.Context, family Family) {
	agg := e.newAggregate(family)
	var skipped int64

	for {
		if ctx.Err() != nil {
			return
		}

		e.setState(family, StateInitializing)
		agg.Reset()
		skipped = 0

		events, cursor, err := e.store.EventsSince(ctx, e.baselineSince(family))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("[Aggregation] Baseline scan failed",
				"family", family, "error", err)
			e.sleep(ctx, resubscribeDelay)
			continue
		}

		var (
			lastApplied time.Time
			applyErr    error
		)
		for _, evt := range events {
			applied, err := e.applyEvent(agg, evt, &skipped)
			if err != nil {
				applyErr = err
				break
			}
			if applied {
				lastApplied = e.nowFn()
			}
		}
		if applyErr != nil {
			slog.Error("[Aggregation] Baseline apply failed",
				"family", family, "error", applyErr)
			e.sleep(ctx, resubscribeDelay)
			continue
		}
		e.publish(family, StateInitializing, agg.Snapshot(), lastApplied, skipped)

		feedCtx, cancelFeed := context.WithCancel(ctx)
		feed, err := e.store.SubscribeEvents(feedCtx, cursor)
		if err != nil {
			cancelFeed()
			slog.Error("[Aggregation] Subscribe failed",
				"family", family, "error", err)
			e.sleep(ctx, resubscribeDelay)
			continue
		}

		e.publish(family, StateLive, agg.Snapshot(), lastApplied, skipped)
		slog.Info("[Aggregation] Family live",
			"family", family,
			"baseline_events", len(events),
			"cursor", cursor,
		)

		for change := range feed {
			applied, err := e.applyEvent(agg, change.Event, &skipped)
			if err != nil {
				applyErr = err
				break
			}
			if applied {
				lastApplied = e.nowFn()
			}
			e.publish(family, StateLive, agg.Snapshot(), lastApplied, skipped)
		}
		cancelFeed()

		// Feed closed, the store dropped a lagging subscriber, or an apply
		// hit a store fault. Either way the state is Stale until
		// re-baselined.
		e.setState(family, StateStale)
		if ctx.Err() != nil {
			return
		}
		if applyErr != nil {
			slog.Warn("[Aggregation] Apply failed, rebuilding from baseline",
				"family", family, "error", applyErr)
		} else {
			slog.Warn("[Aggregation] Feed lost, rebuilding from baseline", "family", family)
		}
		e.sleep(ctx, resubscribeDelay)
	}
}

// applyEvent folds one event into the family state. Non-success events are
// not aggregate input; malformed events are logged, skipped, and counted,
// never fatal to the subscription. A store fault during apply is returned
// instead of counted: the event is fine, so the family rebuilds rather than
// silently undercounting it.
func (e *Engine) applyEvent(agg aggregate, evt *model.CollectionEvent, skipped *int64) (bool, error) {
	if evt == nil || evt.Status != model.StatusSuccess {
		return false, nil
	}
	if err := evt.Validate(); err != nil {
		*skipped++
		slog.Warn("[Aggregation] Skipping malformed event",
			"family", agg.Family(), "event_id", evt.ID, "error", err)
		return false, nil
	}
	if err := agg.Apply(evt); err != nil {
		if errors.Is(err, corerr.ErrUnavailable) {
			return false, err
		}
		*skipped++
		slog.Warn("[Aggregation] Skipping event",
			"family", agg.Family(), "event_id", evt.ID, "error", err)
		return false, nil
	}
	return true, nil
}

// watchAccounts invalidates the account→zone cache on account changes.
func (e *Engine) watchAccounts(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		feed, err := e.store.SubscribeAccounts(ctx)
		if err != nil {
			slog.Error("[Aggregation] Account subscribe failed", "error", err)
			e.sleep(ctx, resubscribeDelay)
			continue
		}

		for change := range feed {
			if change.Account != nil {
				e.cache.Invalidate(change.Account.ID)
			}
		}

		if ctx.Err() != nil {
			return
		}
		e.sleep(ctx, resubscribeDelay)
	}
}

func (e *Engine) publish(family Family, state SubscriptionState, data interface{}, lastApplied time.Time, skipped int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.published[family] = &Snapshot{
		Family:        family,
		State:         state,
		LastUpdatedAt: lastApplied,
		SkippedEvents: skipped,
		Data:          data,
	}
	e.signalStateLocked(family, state)
}

func (e *Engine) setState(family Family, state SubscriptionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.published[family]
	next := *prev
	next.State = state
	e.published[family] = &next
	e.signalStateLocked(family, state)
}

// signalStateLocked maintains the per-family "reached Live" channel:
// closed while Live, replaced with a fresh open channel on leaving it.
func (e *Engine) signalStateLocked(family Family, state SubscriptionState) {
	ch := e.liveCh[family]
	if state == StateLive {
		select {
		case <-ch:
		default:
			close(ch)
		}
		return
	}
	select {
	case <-ch:
		e.liveCh[family] = make(chan struct{})
	default:
	}
}

// SnapshotNow returns the latest published snapshot without blocking.
func (e *Engine) SnapshotNow(family Family) (*Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.published[family]
	return snap, ok
}

// WaitLive blocks until the family reaches Live or ctx expires.
func (e *Engine) WaitLive(ctx context.Context, family Family) error {
	for {
		e.mu.RLock()
		snap, ok := e.published[family]
		ch := e.liveCh[family]
		e.mu.RUnlock()
		if !ok {
			return context.Canceled
		}
		if snap.State == StateLive {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
