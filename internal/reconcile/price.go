package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/amarcin/village-units/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PriceChange summarizes a unit's rent over its observation history.
type PriceChange struct {
	Key           domain.UnitKey      `json:"key"`
	InitialRent   decimal.NullDecimal `json:"initial_rent"`
	CurrentRent   decimal.NullDecimal `json:"current_rent"`
	TotalChange   decimal.NullDecimal `json:"total_change"`
	PercentChange decimal.NullDecimal `json:"percent_change"`
	FirstSeen     time.Time           `json:"first_seen"`
	LastSeen      time.Time           `json:"last_seen"`
	Observations  int                 `json:"observations"`
}

// PriceChangeFor computes the summary for one unit. ok is false when the unit
// has no observations in ds.
func PriceChangeFor(ds domain.Dataset, key domain.UnitKey) (PriceChange, bool) {
	for _, s := range ds.Series() {
		if s.Key == key {
			return summarize(s), true
		}
	}
	return PriceChange{}, false
}

// PriceChanges summarizes every unit in key order.
func PriceChanges(ds domain.Dataset) []PriceChange {
	series := ds.Series()
	out := make([]PriceChange, 0, len(series))
	for _, s := range series {
		out = append(out, summarize(s))
	}
	return out
}

// summarize expects obs sorted by fetch time. total_change is a running sum
// of differences between consecutive non-null rents, so a gap in the series
// does not break it.
func summarize(s domain.UnitSeries) PriceChange {
	obs := s.Observations
	pc := PriceChange{Key: s.Key, Observations: len(obs)}
	if len(obs) == 0 {
		return pc
	}
	pc.FirstSeen = obs[0].FetchDatetime
	pc.LastSeen = obs[len(obs)-1].FetchDatetime
	pc.InitialRent = obs[0].Rent
	pc.CurrentRent = obs[len(obs)-1].Rent

	var prev decimal.NullDecimal
	for _, o := range obs {
		if !o.Rent.Valid {
			continue
		}
		if prev.Valid {
			pc.TotalChange = decimal.NewNullDecimal(pc.TotalChange.Decimal.Add(o.Rent.Decimal.Sub(prev.Decimal)))
		} else {
			pc.TotalChange = decimal.NewNullDecimal(decimal.Zero)
		}
		prev = o.Rent
	}

	if pc.TotalChange.Valid && pc.InitialRent.Valid && !pc.InitialRent.Decimal.IsZero() {
		pc.PercentChange = decimal.NewNullDecimal(pc.TotalChange.Decimal.Mul(hundred).Div(pc.InitialRent.Decimal))
	}
	return pc
}

// RentStep is one observation whose rent differs from (or repeats) the
// unit's previous non-null rent.
type RentStep struct {
	Key           domain.UnitKey  `json:"key"`
	FetchDatetime time.Time       `json:"fetch_datetime"`
	Rent          decimal.Decimal `json:"rent"`
	Change        decimal.Decimal `json:"change"`
}

// RentSteps lists, per unit and in time order, every non-null rent that has
// a predecessor. The first observation of a unit has no change and is omitted.
func RentSteps(ds domain.Dataset) []RentStep {
	var out []RentStep
	for _, s := range ds.Series() {
		var prev decimal.NullDecimal
		for _, o := range s.Observations {
			if !o.Rent.Valid {
				continue
			}
			if prev.Valid {
				out = append(out, RentStep{
					Key:           s.Key,
					FetchDatetime: o.FetchDatetime,
					Rent:          o.Rent.Decimal,
					Change:        o.Rent.Decimal.Sub(prev.Decimal),
				})
			}
			prev = o.Rent
		}
	}
	return out
}
