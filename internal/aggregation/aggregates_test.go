package aggregation

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	corerr "github.com/ecoledger-lab/ecoledger/internal/core/errors"
	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

var aggNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return aggNow }

func successEvent(id, accountID string, category model.Category, weight string, points int64, at time.Time) *model.CollectionEvent {
	return &model.CollectionEvent{
		ID:         id,
		AccountID:  accountID,
		Category:   category,
		Weight:     decimal.RequireFromString(weight),
		Points:     points,
		OccurredAt: at,
		Status:     model.StatusSuccess,
	}
}

func TestMonthlyAggregate_BucketsAndZeroFill(t *testing.T) {
	m := newMonthlyAggregate(6, fixedNow)

	require.NoError(t, m.Apply(successEvent("e1", "a", model.CategoryPlastic, "2", 24, aggNow)))
	require.NoError(t, m.Apply(successEvent("e2", "a", model.CategoryPaper, "3", 24, aggNow.AddDate(0, 0, -1))))
	require.NoError(t, m.Apply(successEvent("e3", "b", model.CategoryGlass, "5", 50, aggNow.AddDate(0, -2, 0))))

	data := m.Snapshot().(MonthlyData)
	require.Len(t, data.Months, 6)

	// Ascending, zero-filled series ending at the current month.
	require.Equal(t, "2026-03", data.Months[0].Month)
	require.Equal(t, "2026-08", data.Months[5].Month)
	require.Zero(t, data.Months[0].Events)

	june := data.Months[3]
	require.Equal(t, "2026-06", june.Month)
	require.Equal(t, int64(1), june.Events)
	require.True(t, june.Weight.Equal(decimal.NewFromInt(5)))

	august := data.Months[5]
	require.Equal(t, int64(2), august.Events)
	require.True(t, august.Weight.Equal(decimal.NewFromInt(5)))
	require.Equal(t, int64(48), august.Points)
}

func TestMonthlyAggregate_DropsEventsOutsideWindow(t *testing.T) {
	m := newMonthlyAggregate(6, fixedNow)

	require.NoError(t, m.Apply(successEvent("old", "a", model.CategoryPlastic, "100", 1200, aggNow.AddDate(0, -6, 0))))

	data := m.Snapshot().(MonthlyData)
	for _, p := range data.Months {
		require.Zero(t, p.Events, "month %s", p.Month)
	}
}

func TestMonthlyAggregate_Growth(t *testing.T) {
	tests := []struct {
		name        string
		prevPrev    string // weight in 2026-06
		prev        string // weight in 2026-07
		wantDefined bool
		wantRate    float64
	}{
		{"positive growth", "10", "15", true, 50},
		{"negative growth", "20", "15", true, -25},
		{"flat", "8", "8", true, 0},
		{"drop to zero", "5", "0", true, -100},
		{"zero denominator", "0", "7", false, 0},
		{"both empty", "0", "0", false, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMonthlyAggregate(6, fixedNow)
			if tc.prevPrev != "0" {
				require.NoError(t, m.Apply(successEvent("e1", "a", model.CategoryPlastic, tc.prevPrev, 1, aggNow.AddDate(0, -2, 0))))
			}
			if tc.prev != "0" {
				require.NoError(t, m.Apply(successEvent("e2", "a", model.CategoryPlastic, tc.prev, 1, aggNow.AddDate(0, -1, 0))))
			}

			growth := m.Snapshot().(MonthlyData).Growth
			require.Equal(t, tc.wantDefined, growth.Defined)
			require.Equal(t, "2026-07", growth.Current)
			require.Equal(t, "2026-06", growth.Previous)
			if tc.wantDefined {
				require.InDelta(t, tc.wantRate, growth.RatePercent, 1e-6)
			} else {
				require.Zero(t, growth.RatePercent)
			}
		})
	}
}

func TestLeaderboardAggregate_TopNOrdering(t *testing.T) {
	l := newLeaderboardAggregate(3)

	apply := func(account, weight string) {
		require.NoError(t, l.Apply(successEvent("e", account, model.CategoryPlastic, weight, 1, aggNow)))
	}

	apply("carol", "5")
	apply("alice", "10")
	apply("bob", "7")
	apply("dave", "2")

	data := l.Snapshot().(LeaderboardData)
	require.Len(t, data.Entries, 3)
	require.Equal(t, "alice", data.Entries[0].AccountID)
	require.Equal(t, "bob", data.Entries[1].AccountID)
	require.Equal(t, "carol", data.Entries[2].AccountID)

	// dave overtakes carol and enters the set.
	apply("dave", "4")
	data = l.Snapshot().(LeaderboardData)
	require.Equal(t, "dave", data.Entries[2].AccountID)
	require.True(t, data.Entries[2].Weight.Equal(decimal.NewFromInt(6)))

	// In-set account moves up without leaving the set.
	apply("bob", "20")
	data = l.Snapshot().(LeaderboardData)
	require.Equal(t, "bob", data.Entries[0].AccountID)
	require.Equal(t, "alice", data.Entries[1].AccountID)
}

func TestLeaderboardAggregate_TieBreaksOnAccountID(t *testing.T) {
	l := newLeaderboardAggregate(2)

	require.NoError(t, l.Apply(successEvent("e", "zed", model.CategoryPlastic, "5", 1, aggNow)))
	require.NoError(t, l.Apply(successEvent("e", "amy", model.CategoryPlastic, "5", 1, aggNow)))
	require.NoError(t, l.Apply(successEvent("e", "mia", model.CategoryPlastic, "5", 1, aggNow)))

	data := l.Snapshot().(LeaderboardData)
	require.Equal(t, "amy", data.Entries[0].AccountID)
	require.Equal(t, "mia", data.Entries[1].AccountID)
}

func TestDistributionAggregate_Shares(t *testing.T) {
	d := newDistributionAggregate()

	require.NoError(t, d.Apply(successEvent("e1", "a", model.CategoryPlastic, "6", 72, aggNow)))
	require.NoError(t, d.Apply(successEvent("e2", "a", model.CategoryPaper, "3", 24, aggNow)))
	require.NoError(t, d.Apply(successEvent("e3", "b", model.CategoryPlastic, "1", 12, aggNow)))

	data := d.Snapshot().(DistributionData)
	require.True(t, data.TotalWeight.Equal(decimal.NewFromInt(10)))
	require.Equal(t, int64(3), data.TotalEvents)

	// Fixed category order, every category present even at zero.
	require.Len(t, data.Categories, len(model.Categories))
	require.Equal(t, model.CategoryPlastic, data.Categories[0].Category)

	plastic := data.Categories[0]
	require.Equal(t, int64(2), plastic.Events)
	require.InDelta(t, 70.0, plastic.Percent, 1e-6)

	paper := data.Categories[1]
	require.InDelta(t, 30.0, paper.Percent, 1e-6)

	glass := data.Categories[2]
	require.Zero(t, glass.Events)
	require.Zero(t, glass.Percent)
}

func TestDistributionAggregate_EmptyHasNoShares(t *testing.T) {
	data := newDistributionAggregate().Snapshot().(DistributionData)
	require.True(t, data.TotalWeight.IsZero())
	for _, share := range data.Categories {
		require.Zero(t, share.Percent)
	}
}

func TestZoneAggregate_GroupsByResolvedZone(t *testing.T) {
	zones := map[string]string{"a": "nord", "b": "sud", "c": "nord", "d": ""}
	z := newZoneAggregate(func(accountID string) (string, error) {
		return zones[accountID], nil
	})

	require.NoError(t, z.Apply(successEvent("e1", "a", model.CategoryPlastic, "4", 48, aggNow)))
	require.NoError(t, z.Apply(successEvent("e2", "b", model.CategoryPaper, "6", 48, aggNow)))
	require.NoError(t, z.Apply(successEvent("e3", "c", model.CategoryGlass, "5", 50, aggNow)))
	require.NoError(t, z.Apply(successEvent("e4", "d", model.CategoryMetal, "1", 15, aggNow)))

	data := z.Snapshot().(ZoneData)
	require.Len(t, data.Zones, 3)

	// Weight descending.
	require.Equal(t, "nord", data.Zones[0].Zone)
	require.True(t, data.Zones[0].Weight.Equal(decimal.NewFromInt(9)))
	require.Equal(t, "sud", data.Zones[1].Zone)
	require.Equal(t, "", data.Zones[2].Zone)
}

func TestZoneAggregate_ResolverErrorKinds(t *testing.T) {
	down := newZoneAggregate(func(string) (string, error) {
		return "", fmt.Errorf("%w: connection refused", corerr.ErrUnavailable)
	})
	err := down.Apply(successEvent("e1", "a1", model.CategoryPlastic, "1", 12, aggNow))
	require.ErrorIs(t, err, corerr.ErrUnavailable)

	// Any unclassified resolver failure is a store fault too.
	plain := newZoneAggregate(func(string) (string, error) {
		return "", errors.New("boom")
	})
	err = plain.Apply(successEvent("e1", "a1", model.CategoryPlastic, "1", 12, aggNow))
	require.ErrorIs(t, err, corerr.ErrUnavailable)

	// A missing account is bad event data, not a fault.
	missing := newZoneAggregate(func(string) (string, error) {
		return "", corerr.ErrNotFound
	})
	err = missing.Apply(successEvent("e2", "ghost", model.CategoryPlastic, "1", 12, aggNow))
	require.ErrorIs(t, err, corerr.ErrNotFound)
	require.NotErrorIs(t, err, corerr.ErrUnavailable)
}

func TestZoneCache_LoadsOnceAndInvalidates(t *testing.T) {
	loads := 0
	cache := newZoneCache(func(accountID string) (string, error) {
		loads++
		return "centre", nil
	})

	for i := 0; i < 5; i++ {
		zone, err := cache.Resolve("acct-1")
		require.NoError(t, err)
		require.Equal(t, "centre", zone)
	}
	require.Equal(t, 1, loads)

	cache.Invalidate("acct-1")
	_, err := cache.Resolve("acct-1")
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

// randomEvents produces a deterministic pseudo-random event stream spread
// over the trailing months.
func randomEvents(n int, rng *rand.Rand) []*model.CollectionEvent {
	accounts := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}
	events := make([]*model.CollectionEvent, 0, n)
	for i := 0; i < n; i++ {
		weight := decimal.NewFromFloat(float64(rng.Intn(5000)) / 100)
		events = append(events, &model.CollectionEvent{
			ID:         fmt.Sprintf("evt-%d", i),
			AccountID:  accounts[rng.Intn(len(accounts))],
			Category:   model.Categories[rng.Intn(len(model.Categories))],
			Weight:     weight,
			Points:     weight.Mul(decimal.NewFromInt(12)).Floor().IntPart(),
			OccurredAt: aggNow.AddDate(0, -rng.Intn(5), 0).Add(-time.Duration(rng.Intn(240)) * time.Hour),
			Status:     model.StatusSuccess,
		})
	}
	return events
}

// The incremental path must agree with a from-scratch recomputation over
// the same events: exactly for counts and sums, within 1e-6 for derived
// percentages.
func TestLeaderboard_IncrementalMatchesRecompute(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	events := randomEvents(500, rng)

	l := newLeaderboardAggregate(5)
	for _, e := range events {
		require.NoError(t, l.Apply(e))
	}
	got := l.Snapshot().(LeaderboardData)

	// Independent recompute: full totals, fully sorted, truncated.
	type total struct {
		weight decimal.Decimal
		points int64
		events int64
	}
	totals := map[string]*total{}
	for _, e := range events {
		tt, ok := totals[e.AccountID]
		if !ok {
			tt = &total{weight: decimal.Zero}
			totals[e.AccountID] = tt
		}
		tt.weight = tt.weight.Add(e.Weight)
		tt.points += e.Points
		tt.events++
	}
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := totals[ids[i]], totals[ids[j]]
		if !a.weight.Equal(b.weight) {
			return a.weight.GreaterThan(b.weight)
		}
		return ids[i] < ids[j]
	})
	if len(ids) > 5 {
		ids = ids[:5]
	}

	require.Len(t, got.Entries, len(ids))
	for i, id := range ids {
		require.Equal(t, id, got.Entries[i].AccountID, "rank %d", i)
		require.True(t, totals[id].weight.Equal(got.Entries[i].Weight))
		require.Equal(t, totals[id].points, got.Entries[i].Points)
		require.Equal(t, totals[id].events, got.Entries[i].Events)
	}
}

func TestDistribution_IncrementalMatchesRecompute(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	events := randomEvents(500, rng)

	d := newDistributionAggregate()
	for _, e := range events {
		require.NoError(t, d.Apply(e))
	}
	got := d.Snapshot().(DistributionData)

	weights := map[model.Category]decimal.Decimal{}
	counts := map[model.Category]int64{}
	totalWeight := decimal.Zero
	for _, e := range events {
		w, ok := weights[e.Category]
		if !ok {
			w = decimal.Zero
		}
		weights[e.Category] = w.Add(e.Weight)
		counts[e.Category]++
		totalWeight = totalWeight.Add(e.Weight)
	}

	require.True(t, totalWeight.Equal(got.TotalWeight))
	require.Equal(t, int64(len(events)), got.TotalEvents)

	totalF, _ := totalWeight.Float64()
	for _, share := range got.Categories {
		want, ok := weights[share.Category]
		if !ok {
			want = decimal.Zero
		}
		require.True(t, want.Equal(share.Weight), "category %s", share.Category)
		require.Equal(t, counts[share.Category], share.Events)

		wantF, _ := want.Float64()
		require.InDelta(t, wantF/totalF*100, share.Percent, 1e-6, "category %s", share.Category)
	}
}

func TestMonthly_IncrementalMatchesRecompute(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	events := randomEvents(500, rng)

	m := newMonthlyAggregate(6, fixedNow)
	for _, e := range events {
		require.NoError(t, m.Apply(e))
	}
	got := m.Snapshot().(MonthlyData)

	wantWeight := map[string]decimal.Decimal{}
	wantEvents := map[string]int64{}
	wantPoints := map[string]int64{}
	for _, e := range events {
		key := model.MonthOf(e.OccurredAt).String()
		w, ok := wantWeight[key]
		if !ok {
			w = decimal.Zero
		}
		wantWeight[key] = w.Add(e.Weight)
		wantEvents[key]++
		wantPoints[key] += e.Points
	}

	for _, p := range got.Months {
		want, ok := wantWeight[p.Month]
		if !ok {
			want = decimal.Zero
		}
		require.True(t, want.Equal(p.Weight), "month %s", p.Month)
		require.Equal(t, wantEvents[p.Month], p.Events, "month %s", p.Month)
		require.Equal(t, wantPoints[p.Month], p.Points, "month %s", p.Month)
	}
}

// Reset followed by replaying the same events must land on the same
// snapshot; the stale-rebuild path depends on it.
func TestAggregates_RebuildIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(2026))
	events := randomEvents(300, rng)

	zones := map[string]string{"a1": "nord", "a2": "sud", "a3": "nord", "a4": "est"}
	aggregates := []aggregate{
		newMonthlyAggregate(6, fixedNow),
		newLeaderboardAggregate(5),
		newDistributionAggregate(),
		newZoneAggregate(func(id string) (string, error) { return zones[id], nil }),
	}

	for _, agg := range aggregates {
		t.Run(string(agg.Family()), func(t *testing.T) {
			for _, e := range events {
				require.NoError(t, agg.Apply(e))
			}
			first := agg.Snapshot()

			agg.Reset()
			for _, e := range events {
				require.NoError(t, agg.Apply(e))
			}
			require.Equal(t, first, agg.Snapshot())
		})
	}
}
