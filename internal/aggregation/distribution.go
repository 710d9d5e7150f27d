package aggregation

import (
	"github.com/shopspring/decimal"

	"github.com/ecoledger-lab/ecoledger/internal/core/model"
)

type categoryTotal struct {
	weight decimal.Decimal
	events int64
}

// distributionAggregate maintains per-category running totals plus the grand
// total. Percentage shares are derived on read only.
type distributionAggregate struct {
	categories  map[model.Category]*categoryTotal
	totalWeight decimal.Decimal
	totalEvents int64
}

func newDistributionAggregate() *distributionAggregate {
	d := &distributionAggregate{}
	d.Reset()
	return d
}

func (d *distributionAggregate) Family() Family { return FamilyDistribution }

func (d *distributionAggregate) Reset() {
	d.categories = make(map[model.Category]*categoryTotal, len(model.Categories))
	d.totalWeight = decimal.Zero
	d.totalEvents = 0
}

func (d *distributionAggregate) Apply(e *model.CollectionEvent) error {
	t, ok := d.categories[e.Category]
	if !ok {
		t = &categoryTotal{weight: decimal.Zero}
		d.categories[e.Category] = t
	}
	t.weight = t.weight.Add(e.Weight)
	t.events++
	d.totalWeight = d.totalWeight.Add(e.Weight)
	d.totalEvents++
	return nil
}

func (d *distributionAggregate) Snapshot() interface{} {
	shares := make([]CategoryShare, 0, len(model.Categories))
	for _, category := range model.Categories {
		share := CategoryShare{Category: category, Weight: decimal.Zero}
		if t, ok := d.categories[category]; ok {
			share.Weight = t.weight
			share.Events = t.events
			if d.totalWeight.IsPositive() {
				ratio, _ := t.weight.Div(d.totalWeight).Float64()
				share.Percent = ratio * 100
			}
		}
		shares = append(shares, share)
	}
	return DistributionData{
		Categories:  shares,
		TotalWeight: d.totalWeight,
		TotalEvents: d.totalEvents,
	}
}
