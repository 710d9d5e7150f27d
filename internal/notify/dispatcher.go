package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecoledger-lab/ecoledger/internal/core/storage"
)

// Kind classifies a notification.
type Kind string

const (
	KindNewCollection Kind = "new_collection"
	KindNewAgent      Kind = "new_agent"
)

// Notification is one coalesced alert. Count is how many raw records were
// folded into it during the coalesce interval; the remaining fields describe
// the most recent one.
type Notification struct {
	Kind       Kind      `json:"kind"`
	AccountID  string    `json:"account_id"`
	Count      int       `json:"count"`
	ObservedAt time.Time `json:"observed_at"`
}

// Dispatcher watches the event and account feeds and emits recent-only,
// coalesced notifications. Records older than the recency window at
// observation time are dropped, which keeps the historical backlog from
// flooding a fresh subscriber. Delivery is at-least-once; duplicates after a
// resubscribe are cosmetic.
type Dispatcher struct {
	store         storage.Store
	recencyWindow time.Duration
	coalesce      time.Duration
	nowFn         func() time.Time

	mu      sync.Mutex
	pending map[Kind]*Notification
	subs    map[int]chan Notification
	nextSub int
}

// NewDispatcher creates a dispatcher with the given recency window and
// coalesce interval.
func NewDispatcher(store storage.Store, recencyWindow, coalesce time.Duration) *Dispatcher {
	if store == nil {
		panic("notify: store must not be nil")
	}
	if recencyWindow <= 0 {
		recencyWindow = 5 * time.Minute
	}
	if coalesce <= 0 {
		coalesce = 2 * time.Second
	}
	return &Dispatcher{
		store:         store,
		recencyWindow: recencyWindow,
		coalesce:      coalesce,
		nowFn:         func() time.Time { return time.Now().UTC() },
		pending:       make(map[Kind]*Notification),
		subs:          make(map[int]chan Notification),
	}
}

// Subscribe returns a channel of coalesced notifications. The channel
// closes when ctx is cancelled. A subscriber that stops draining loses
// notifications rather than blocking the dispatcher.
func (d *Dispatcher) Subscribe(ctx context.Context) <-chan Notification {
	d.mu.Lock()
	ch := make(chan Notification, 16)
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(sub)
		}
	}()

	return ch
}

// Start consumes both feeds and blocks until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { d.watchEvents(ctx); return nil })
	g.Go(func() error { d.watchAccounts(ctx); return nil })
	g.Go(func() error { d.flushLoop(ctx); return nil })

	return g.Wait()
}

func (d *Dispatcher) watchEvents(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Subscribe at the tail: the dispatcher only cares about fresh
		// records, and the recency filter drops the rest anyway.
		_, cursor, err := d.store.EventsSince(ctx, d.nowFn())
		if err != nil {
			slog.Error("[Notify] Event cursor read failed", "error", err)
			d.sleep(ctx, time.Second)
			continue
		}

		feed, err := d.store.SubscribeEvents(ctx, cursor)
		if err != nil {
			slog.Error("[Notify] Event subscribe failed", "error", err)
			d.sleep(ctx, time.Second)
			continue
		}

		for change := range feed {
			if change.Event == nil {
				continue
			}
			d.observe(KindNewCollection, change.Event.AccountID, change.Event.OccurredAt)
		}

		if ctx.Err() != nil {
			return
		}
		d.sleep(ctx, time.Second)
	}
}

func (d *Dispatcher) watchAccounts(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		feed, err := d.store.SubscribeAccounts(ctx)
		if err != nil {
			slog.Error("[Notify] Account subscribe failed", "error", err)
			d.sleep(ctx, time.Second)
			continue
		}

		for change := range feed {
			if change.Account == nil || change.Kind != storage.Added {
				continue
			}
			d.observe(KindNewAgent, change.Account.ID, change.Account.LastActivityAt)
		}

		if ctx.Err() != nil {
			return
		}
		d.sleep(ctx, time.Second)
	}
}

// observe folds one raw record into the pending coalesce buffer, applying
// the recency filter.
func (d *Dispatcher) observe(kind Kind, accountID string, recordedAt time.Time) {
	now := d.nowFn()
	if !recordedAt.IsZero() && now.Sub(recordedAt) > d.recencyWindow {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[kind]
	if !ok {
		d.pending[kind] = &Notification{
			Kind:       kind,
			AccountID:  accountID,
			Count:      1,
			ObservedAt: now,
		}
		return
	}
	p.Count++
	p.AccountID = accountID
	p.ObservedAt = now
}

// flushLoop emits the coalesced buffer once per interval. One notification
// per kind per tick is the rate limit.
func (d *Dispatcher) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(d.coalesce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flush()
		}
	}
}

func (d *Dispatcher) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for kind, n := range d.pending {
		delete(d.pending, kind)
		for id, sub := range d.subs {
			select {
			case sub <- *n:
			default:
				// Slow subscriber: drop for them, keep going.
				slog.Debug("[Notify] Dropped notification for slow subscriber",
					"subscriber", id, "kind", kind)
			}
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(dur):
	}
}
