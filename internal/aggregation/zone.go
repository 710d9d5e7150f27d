package aggregation

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	corerr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

// zoneResolver maps an account to its zone. The engine injects a cached
// resolver backed by the store.
type zoneResolver func(accountID string) (string, error)

type zoneTotal struct {
	weight decimal.Decimal
	points int64
	events int64
}

// zoneAggregate joins events to zones through the resolver and keeps
// per-zone running totals. Accounts without a zone land in the empty-name
// bucket.
type zoneAggregate struct {
	resolve zoneResolver
	zones   map[string]*zoneTotal
}

func newZoneAggregate(resolve zoneResolver) *zoneAggregate {
	return &zoneAggregate{
		resolve: resolve,
		zones:   make(map[string]*zoneTotal),
	}
}

func (z *zoneAggregate) Family() Family { return FamilyZone }

func (z *zoneAggregate) Reset() {
	z.zones = make(map[string]*zoneTotal)
}

func (z *zoneAggregate) Apply(e *model.CollectionEvent) error {
	zone, err := z.resolve(e.AccountID)
	if err != nil {
		if errors.Is(err, corerr.ErrNotFound) {
			// The event references an account that does not exist; that is
			// bad data, not a store fault.
			return fmt.Errorf("resolve zone for %s: %w", e.AccountID, err)
		}
		return fmt.Errorf("%w: resolve zone for %s: %v", corerr.ErrUnavailable, e.AccountID, err)
	}

	t, ok := z.zones[zone]
	if !ok {
		t = &zoneTotal{weight: decimal.Zero}
		z.zones[zone] = t
	}
	t.weight = t.weight.Add(e.Weight)
	t.points += e.Points
	t.events++
	return nil
}

func (z *zoneAggregate) Snapshot() interface{} {
	stats := make([]ZoneStats, 0, len(z.zones))
	for zone, t := range z.zones {
		stats = append(stats, ZoneStats{
			Zone:   zone,
			Weight: t.weight,
			Points: t.points,
			Events: t.events,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].Weight.Equal(stats[j].Weight) {
			return stats[i].Weight.GreaterThan(stats[j].Weight)
		}
		return stats[i].Zone < stats[j].Zone
	})
	return ZoneData{Zones: stats}
}

// zoneCache caches account→zone lookups so the join does not query the
// store once per event. Entries are invalidated when the account record
// changes on the account feed.
type zoneCache struct {
	mu    sync.Mutex
	zones map[string]string
	load  func(accountID string) (string, error)
}

func newZoneCache(load func(accountID string) (string, error)) *zoneCache {
	return &zoneCache{
		zones: make(map[string]string),
		load:  load,
	}
}

func (c *zoneCache) Resolve(accountID string) (string, error) {
	c.mu.Lock()
	zone, ok := c.zones[accountID]
	c.mu.Unlock()
	if ok {
		return zone, nil
	}

	zone, err := c.load(accountID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.zones[accountID] = zone
	c.mu.Unlock()
	return zone, nil
}

func (c *zoneCache) Invalidate(accountID string) {
	c.mu.Lock()
	delete(c.zones, accountID)
	c.mu.Unlock()
}
