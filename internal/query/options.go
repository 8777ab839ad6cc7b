package query

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/amarcin/village-units/internal/domain"
)

type RentRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// FilterOptions are the choices a filter form can offer for a dataset.
// Rent and Sqft are nil when no unit has a value.
type FilterOptions struct {
	Properties []string   `json:"properties"`
	Beds       []int      `json:"beds"`
	Amenities  []string   `json:"amenities"`
	Rent       *RentRange `json:"rent,omitempty"`
	Sqft       *IntRange  `json:"sqft,omitempty"`
}

// Options derives filter choices from the latest observation of each unit
// in view (currently listed unless includeDelisted). A range whose min equals
// its max gets max+1 so a slider has something to span; predicates built
// from it stay inclusive.
func Options(ds domain.Dataset, includeDelisted bool) FilterOptions {
	view := Apply(ds, Criteria{IncludeDelisted: includeDelisted})

	props := map[string]struct{}{}
	beds := map[int]struct{}{}
	amen := map[string]struct{}{}
	var rent *RentRange
	var sqft *IntRange

	view.Each(func(r domain.UnitRecord) bool {
		props[r.PropertyName] = struct{}{}
		if r.Beds != nil {
			beds[*r.Beds] = struct{}{}
		}
		for _, a := range r.Amenities {
			amen[a] = struct{}{}
		}
		if r.Rent.Valid {
			v := r.Rent.Decimal
			if rent == nil {
				rent = &RentRange{Min: v, Max: v}
			}
			rent.Min = decimal.Min(rent.Min, v)
			rent.Max = decimal.Max(rent.Max, v)
		}
		if r.Sqft != nil {
			v := *r.Sqft
			if sqft == nil {
				sqft = &IntRange{Min: v, Max: v}
			}
			sqft.Min = min(sqft.Min, v)
			sqft.Max = max(sqft.Max, v)
		}
		return true
	})

	if rent != nil && rent.Min.Equal(rent.Max) {
		rent.Max = rent.Max.Add(decimal.NewFromInt(1))
	}
	if sqft != nil && sqft.Min == sqft.Max {
		sqft.Max++
	}

	opts := FilterOptions{
		Properties: sortedKeys(props),
		Amenities:  sortedKeys(amen),
		Beds:       make([]int, 0, len(beds)),
		Rent:       rent,
		Sqft:       sqft,
	}
	for b := range beds {
		opts.Beds = append(opts.Beds, b)
	}
	sort.Ints(opts.Beds)
	return opts
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
