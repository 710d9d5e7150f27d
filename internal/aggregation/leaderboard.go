package aggregation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

type accountTotal struct {
	accountID string
	weight    decimal.Decimal
	points    int64
	events    int64
}

// leaderboardAggregate maintains the top-N accounts by collected weight.
// Totals only ever grow, so an update strictly below the current Nth value
// cannot change the ranking and costs only the account's own totals; ranking
// work happens only when the update can enter or move within the top set.
type leaderboardAggregate struct {
	size   int
	totals map[string]*accountTotal
	top    []*accountTotal // rank order, len <= size
}

func newLeaderboardAggregate(size int) *leaderboardAggregate {
	return &leaderboardAggregate{
		size:   size,
		totals: make(map[string]*accountTotal),
	}
}

func (l *leaderboardAggregate) Family() Family { return FamilyLeaderboard }

func (l *leaderboardAggregate) Reset() {
	l.totals = make(map[string]*accountTotal)
	l.top = nil
}

// ranksHigher is the single ordering rule: weight descending, account ID
// ascending on ties. Both the incremental path and offline recompute use it,
// so boundary ties resolve identically.
func ranksHigher(a, b *accountTotal) bool {
	if !a.weight.Equal(b.weight) {
		return a.weight.GreaterThan(b.weight)
	}
	return a.accountID < b.accountID
}

func (l *leaderboardAggregate) Apply(e *model.CollectionEvent) error {
	t, ok := l.totals[e.AccountID]
	if !ok {
		t = &accountTotal{accountID: e.AccountID, weight: decimal.Zero}
		l.totals[e.AccountID] = t
	}
	t.weight = t.weight.Add(e.Weight)
	t.points += e.Points
	t.events++

	l.reRank(t)
	return nil
}

func (l *leaderboardAggregate) reRank(t *accountTotal) {
	for i, entry := range l.top {
		if entry.accountID == t.accountID {
			// Already ranked; totals only grew, so it can only move up.
			for i > 0 && ranksHigher(l.top[i], l.top[i-1]) {
				l.top[i], l.top[i-1] = l.top[i-1], l.top[i]
				i--
			}
			return
		}
	}

	if len(l.top) < l.size {
		l.top = append(l.top, t)
		sort.Slice(l.top, func(i, j int) bool { return ranksHigher(l.top[i], l.top[j]) })
		return
	}

	// Full set: only an update that outranks the current Nth entry
	// triggers any ranking work.
	last := l.top[len(l.top)-1]
	if !ranksHigher(t, last) {
		return
	}
	l.top[len(l.top)-1] = t
	sort.Slice(l.top, func(i, j int) bool { return ranksHigher(l.top[i], l.top[j]) })
}

func (l *leaderboardAggregate) Snapshot() interface{} {
	entries := make([]LeaderboardEntry, 0, len(l.top))
	for _, t := range l.top {
		entries = append(entries, LeaderboardEntry{
			AccountID: t.accountID,
			Weight:    t.weight,
			Points:    t.points,
			Events:    t.events,
		})
	}
	return LeaderboardData{Entries: entries}
}
