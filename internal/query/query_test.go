package query_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/query"
	"github.com/amarcin/village-units/internal/reconcile"
)

func ptr[T any](v T) *T { return &v }

func rec(prop, unit string, d int, rent int64, beds, sqft int, amen ...string) domain.UnitRecord {
	return domain.UnitRecord{
		UnitNumber:    unit,
		PropertyName:  prop,
		Rent:          decimal.NewNullDecimal(decimal.NewFromInt(rent)),
		Beds:          &beds,
		Sqft:          &sqft,
		Amenities:     amen,
		FetchDatetime: time.Date(2024, 6, d, 12, 0, 0, 0, time.UTC),
	}
}

func fixture() domain.Dataset {
	ds, _ := reconcile.New(time.UTC).Reconcile(
		domain.Snapshot{Records: []domain.UnitRecord{
			rec("Ashton", "101", 1, 1000, 1, 700, "Balcony"),
			rec("Ashton", "102", 1, 1500, 2, 1000, "Balcony", "Pool View"),
			rec("Briar", "201", 1, 1800, 2, 1100),
		}},
		domain.Snapshot{Records: []domain.UnitRecord{
			rec("Ashton", "101", 2, 1050, 1, 700, "Balcony"),
			rec("Ashton", "102", 2, 1450, 2, 1000, "Balcony", "Pool View"),
		}},
	)
	return ds
}

func keys(ds domain.Dataset) []string {
	var out []string
	ds.Each(func(r domain.UnitRecord) bool {
		out = append(out, r.UnitNumber)
		return true
	})
	return out
}

func TestApply_NoCriteriaIsLatestListed(t *testing.T) {
	ds := fixture()
	got := query.Apply(ds, query.Criteria{})
	assert.Equal(t, []string{"101", "102"}, keys(got))
	got.Each(func(r domain.UnitRecord) bool {
		assert.Equal(t, 2, r.FetchDatetime.Day())
		return true
	})

	all := query.Apply(ds, query.Criteria{IncludeDelisted: true})
	assert.Equal(t, []string{"101", "102", "201"}, keys(all))
}

func TestApply_Predicates(t *testing.T) {
	ds := fixture()
	cases := []struct {
		name string
		c    query.Criteria
		want []string
	}{
		{"property", query.Criteria{Property: ptr("Briar"), IncludeDelisted: true}, []string{"201"}},
		{"beds", query.Criteria{Beds: ptr(2), IncludeDelisted: true}, []string{"102", "201"}},
		{"unit", query.Criteria{UnitNumber: ptr("101")}, []string{"101"}},
		{"rent inclusive", query.Criteria{RentMin: ptr(decimal.NewFromInt(1050)), RentMax: ptr(decimal.NewFromInt(1450))}, []string{"101", "102"}},
		{"rent narrow", query.Criteria{RentMin: ptr(decimal.NewFromInt(1051))}, []string{"102"}},
		{"sqft", query.Criteria{SqftMin: ptr(900), SqftMax: ptr(1100), IncludeDelisted: true}, []string{"102", "201"}},
		{"amenities all", query.Criteria{Amenities: []string{"balcony", "Pool View"}}, []string{"102"}},
		{"amenities missing", query.Criteria{Amenities: []string{"Gym"}}, nil},
		{"and", query.Criteria{Beds: ptr(2), Property: ptr("Ashton"), IncludeDelisted: true}, []string{"102"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, keys(query.Apply(ds, tc.c)))
		})
	}
}

func TestApply_NullRentNeverInRange(t *testing.T) {
	r := rec("Ashton", "103", 2, 0, 1, 600)
	r.Rent = decimal.NullDecimal{}
	ds := domain.NewDataset([]domain.UnitRecord{r})
	assert.Equal(t, 0, query.Apply(ds, query.Criteria{RentMax: ptr(decimal.NewFromInt(5000))}).Len())
	assert.Equal(t, 1, query.Apply(ds, query.Criteria{}).Len())
}

func TestApply_PureAndIdempotent(t *testing.T) {
	ds := fixture()
	before := ds.Records()
	c := query.Criteria{Amenities: []string{"Balcony"}, RentMax: ptr(decimal.NewFromInt(2000))}

	a := query.Apply(ds, c)
	b := query.Apply(ds, c)
	assert.Equal(t, a.Records(), b.Records())
	assert.Equal(t, before, ds.Records())

	// mutating a result must not leak back
	out := a.Records()
	out[0].Amenities[0] = "changed"
	assert.Equal(t, before, ds.Records())
}

func TestMatching_ReturnsHistory(t *testing.T) {
	got := query.Matching(fixture(), query.Criteria{UnitNumber: ptr("101")})
	require.Equal(t, 2, got.Len())
	recs := got.Records()
	assert.True(t, recs[0].Rent.Decimal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, recs[1].Rent.Decimal.Equal(decimal.NewFromInt(1050)))
}

func TestOptions(t *testing.T) {
	opts := query.Options(fixture(), true)
	assert.Equal(t, []string{"Ashton", "Briar"}, opts.Properties)
	assert.Equal(t, []int{1, 2}, opts.Beds)
	assert.Equal(t, []string{"Balcony", "Pool View"}, opts.Amenities)
	require.NotNil(t, opts.Rent)
	assert.True(t, opts.Rent.Min.Equal(decimal.NewFromInt(1050)))
	assert.True(t, opts.Rent.Max.Equal(decimal.NewFromInt(1800)))
	assert.Equal(t, query.IntRange{Min: 700, Max: 1100}, *opts.Sqft)
}

func TestOptions_NudgesCollapsedRange(t *testing.T) {
	ds := domain.NewDataset([]domain.UnitRecord{
		rec("Ashton", "101", 1, 1200, 1, 800),
		rec("Ashton", "102", 1, 1200, 1, 800),
	})
	opts := query.Options(ds, false)
	assert.True(t, opts.Rent.Min.Equal(decimal.NewFromInt(1200)))
	assert.True(t, opts.Rent.Max.Equal(decimal.NewFromInt(1201)))
	assert.Equal(t, query.IntRange{Min: 800, Max: 801}, *opts.Sqft)

	// the inclusive predicate still matches the single value
	got := query.Apply(ds, query.Criteria{RentMin: &opts.Rent.Min, RentMax: &opts.Rent.Max})
	assert.Equal(t, 2, got.Len())
}

func TestProperties_Units(t *testing.T) {
	ds := fixture()
	assert.Equal(t, []string{"Ashton", "Briar"}, query.Properties(ds))
	assert.Len(t, query.Units(ds, "Ashton"), 2)
	assert.Len(t, query.Units(ds, ""), 3)
}
