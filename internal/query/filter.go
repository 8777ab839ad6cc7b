package query

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/reconcile"
)

// Criteria is a set of optional predicates combined with AND. A nil field
// does not restrict. Ranges are inclusive; a unit with a null value never
// satisfies a range on that value.
type Criteria struct {
	Property        *string
	Beds            *int
	UnitNumber      *string
	RentMin         *decimal.Decimal
	RentMax         *decimal.Decimal
	SqftMin         *int
	SqftMax         *int
	Amenities       []string
	IncludeDelisted bool
}

// Match reports whether r satisfies every predicate. Listing status is not
// considered here.
func (c Criteria) Match(r domain.UnitRecord) bool {
	if c.Property != nil && r.PropertyName != *c.Property {
		return false
	}
	if c.UnitNumber != nil && r.UnitNumber != *c.UnitNumber {
		return false
	}
	if c.Beds != nil && (r.Beds == nil || *r.Beds != *c.Beds) {
		return false
	}
	if c.RentMin != nil || c.RentMax != nil {
		if !r.Rent.Valid {
			return false
		}
		if c.RentMin != nil && r.Rent.Decimal.LessThan(*c.RentMin) {
			return false
		}
		if c.RentMax != nil && r.Rent.Decimal.GreaterThan(*c.RentMax) {
			return false
		}
	}
	if c.SqftMin != nil || c.SqftMax != nil {
		if r.Sqft == nil {
			return false
		}
		if c.SqftMin != nil && *r.Sqft < *c.SqftMin {
			return false
		}
		if c.SqftMax != nil && *r.Sqft > *c.SqftMax {
			return false
		}
	}
	return r.HasAmenities(c.Amenities)
}

// Apply returns the latest observation of every unit that is currently
// listed (or every unit with IncludeDelisted) and matches c. ds is not
// modified and the result depends only on ds and c.
func Apply(ds domain.Dataset, c Criteria) domain.Dataset {
	listed := reconcile.CurrentlyListed(ds, c.IncludeDelisted)
	var keep []domain.UnitRecord
	for _, r := range ds.Latest() {
		if _, ok := listed[r.Key()]; !ok {
			continue
		}
		if c.Match(r) {
			keep = append(keep, r)
		}
	}
	return domain.NewDataset(keep)
}

// Matching returns the full observation history of the units Apply selects.
func Matching(ds domain.Dataset, c Criteria) domain.Dataset {
	keys := map[domain.UnitKey]struct{}{}
	Apply(ds, c).Each(func(r domain.UnitRecord) bool {
		keys[r.Key()] = struct{}{}
		return true
	})
	return ds.Where(func(r domain.UnitRecord) bool {
		_, ok := keys[r.Key()]
		return ok
	})
}

// Properties lists the distinct property names in ds.
func Properties(ds domain.Dataset) []string {
	seen := map[string]struct{}{}
	ds.Each(func(r domain.UnitRecord) bool {
		seen[r.PropertyName] = struct{}{}
		return true
	})
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Units lists the distinct unit keys of one property (all when property is
// empty), in key order.
func Units(ds domain.Dataset, property string) []domain.UnitKey {
	var out []domain.UnitKey
	for _, s := range ds.Series() {
		if property == "" || s.Key.PropertyName == property {
			out = append(out, s.Key)
		}
	}
	return out
}
