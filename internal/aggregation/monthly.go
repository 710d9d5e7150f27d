package aggregation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

type monthBucket struct {
	events int64
	weight decimal.Decimal
	points int64
}

// monthlyAggregate maintains the trailing monthly time series. A new event
// touches exactly one bucket; buckets that roll out of the window are
// dropped and never contribute again.
type monthlyAggregate struct {
	window  int // trailing months, including the current one
	nowFn   func() time.Time
	buckets map[model.MonthKey]*monthBucket
}

func newMonthlyAggregate(windowMonths int, nowFn func() time.Time) *monthlyAggregate {
	return &monthlyAggregate{
		window:  windowMonths,
		nowFn:   nowFn,
		buckets: make(map[model.MonthKey]*monthBucket),
	}
}

func (m *monthlyAggregate) Family() Family { return FamilyMonthly }

func (m *monthlyAggregate) Reset() {
	m.buckets = make(map[model.MonthKey]*monthBucket)
}

// windowStart returns the oldest month still inside the trailing window.
func (m *monthlyAggregate) windowStart(now time.Time) model.MonthKey {
	start := model.MonthOf(now).Start().AddDate(0, -(m.window - 1), 0)
	return model.MonthOf(start)
}

func (m *monthlyAggregate) Apply(e *model.CollectionEvent) error {
	now := m.nowFn()
	key := model.MonthOf(e.OccurredAt)
	if key.Before(m.windowStart(now)) {
		return nil // outside the window, contributes nothing
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &monthBucket{weight: decimal.Zero}
		m.buckets[key] = b
	}
	b.events++
	b.weight = b.weight.Add(e.Weight)
	b.points += e.Points

	m.prune(now)
	return nil
}

func (m *monthlyAggregate) prune(now time.Time) {
	start := m.windowStart(now)
	for key := range m.buckets {
		if key.Before(start) {
			delete(m.buckets, key)
		}
	}
}

func (m *monthlyAggregate) Snapshot() interface{} {
	now := m.nowFn()
	m.prune(now)

	months := make([]MonthPoint, 0, m.window)
	key := m.windowStart(now)
	current := model.MonthOf(now)
	for !current.Before(key) {
		point := MonthPoint{Month: key.String(), Weight: decimal.Zero}
		if b, ok := m.buckets[key]; ok {
			point.Events = b.events
			point.Weight = b.weight
			point.Points = b.points
		}
		months = append(months, point)
		if key == current {
			break
		}
		key = key.Next()
	}

	return MonthlyData{
		Months: months,
		Growth: m.growth(now),
	}
}

// growth derives the period-over-period rate from the two most recent
// completed months. With a zero denominator the rate is undefined, never
// zero and never an error.
func (m *monthlyAggregate) growth(now time.Time) GrowthRate {
	current := model.MonthOf(now)
	prev := model.MonthOf(current.Start().AddDate(0, -1, 0))
	prevPrev := model.MonthOf(current.Start().AddDate(0, -2, 0))

	rate := GrowthRate{Current: prev.String(), Previous: prevPrev.String()}

	denom := decimal.Zero
	if b, ok := m.buckets[prevPrev]; ok {
		denom = b.weight
	}
	if denom.IsZero() {
		return rate
	}

	numer := decimal.Zero
	if b, ok := m.buckets[prev]; ok {
		numer = b.weight
	}

	ratio, _ := numer.Sub(denom).Div(denom).Float64()
	rate.Defined = true
	rate.RatePercent = ratio * 100
	return rate
}
