package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amarcin/village-units/internal/adapters/objectstore"
	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/snapshot"
)

func ptr[T any](v T) *T { return &v }

// dashboardRow mimics files written from the first dashboard's data frame.
type dashboardRow struct {
	Unit      string   `parquet:"Unit"`
	Rent      *float64 `parquet:"Rent"`
	Property  string   `parquet:"Property"`
	Beds      *float64 `parquet:"Beds"`
	Sqft      *float64 `parquet:"Sqft"`
	Floorplan *string  `parquet:"Floorplan"`
	Available *string  `parquet:"Available"`
	Building  *string  `parquet:"Building"`
	Amenities string   `parquet:"Amenities"`
	Date      string   `parquet:"date"`
	Index     int64    `parquet:"__index_level_0__"`
}

// lambdaRow mimics the scheduled job layout with a LIST amenities column.
type lambdaRow struct {
	UnitNumber    int64     `parquet:"unitNumber"`
	Rent          *float64  `parquet:"rent"`
	Property      string    `parquet:"property"`
	FloorplanBeds *int32    `parquet:"floorplan_beds"`
	Availability  *bool     `parquet:"availability"`
	Amenities     []string  `parquet:"amenities,list"`
	FetchedAt     time.Time `parquet:"fetched_at"`
}

func writeParquet[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, parquet.Write(&buf, rows))
	return buf.Bytes()
}

func put(t *testing.T, st domain.ObjectStore, key string, b []byte) {
	t.Helper()
	require.NoError(t, st.Put(context.Background(), key, bytes.NewReader(b), int64(len(b))))
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Unit":              "unit",
		"date":              "date",
		"fetchDatetime":     "fetch_datetime",
		"FloorplanMediaURL": "floorplan_media_url",
		"Floorplan URL":     "floorplan_url",
		" property-name ":   "property_name",
		"unit__number":      "unit_number",
	}
	for in, want := range cases {
		assert.Equal(t, want, snapshot.Normalize(in), in)
	}
}

func TestDetect(t *testing.T) {
	v, err := snapshot.Detect([]string{"unit", "rent", "property", "date"})
	require.NoError(t, err)
	assert.Equal(t, "dashboard-v1", v.Name)

	v, err = snapshot.Detect([]string{"schema_version", "unit_number", "rent", "property_name", "fetch_datetime"})
	require.NoError(t, err)
	assert.Equal(t, "canonical-v2", v.Name)

	_, err = snapshot.Detect([]string{"unit_number", "rent"})
	assert.True(t, errors.Is(err, snapshot.ErrUnknownSchema))
}

func TestEncodeDecode_Canonical(t *testing.T) {
	at := time.Date(2024, 6, 1, 17, 30, 0, 0, time.UTC)
	in := []domain.UnitRecord{
		{
			UnitNumber: "1204", Rent: decimal.NewNullDecimal(decimal.RequireFromString("1850.123456789012345")),
			PropertyName: "Ashton", Building: ptr("B2"), Beds: ptr(2), Sqft: ptr(1010),
			FloorplanMediaURL: ptr("https://img/b2"), Available: ptr("Available Now"),
			Amenities: []string{"Washer/Dryer", "Balcony"}, FetchDatetime: at,
		},
		{UnitNumber: "1205", PropertyName: "Ashton", FetchDatetime: at},
	}
	b, err := snapshot.Encode(in)
	require.NoError(t, err)

	res, err := snapshot.Decode(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	assert.Equal(t, "canonical-v2", res.Variant)
	require.Len(t, res.Records, 2)

	got := res.Records[0]
	assert.Equal(t, "1204", got.UnitNumber)
	assert.True(t, got.Rent.Valid)
	// exact beyond float64 precision
	assert.Equal(t, "1850.123456789012345", got.Rent.Decimal.String())
	assert.Equal(t, "B2", *got.Building)
	assert.Equal(t, 2, *got.Beds)
	assert.Equal(t, 1010, *got.Sqft)
	assert.Equal(t, []string{"Balcony", "Washer/Dryer"}, got.Amenities)
	assert.True(t, got.FetchDatetime.Equal(at))
	assert.False(t, got.FetchNaive)

	empty := res.Records[1]
	assert.False(t, empty.Rent.Valid)
	assert.Nil(t, empty.Building)
	assert.Nil(t, empty.Beds)
	assert.Nil(t, empty.Amenities)
}

func TestDecode_DashboardVariant(t *testing.T) {
	b := writeParquet(t, []dashboardRow{
		{Unit: "301", Rent: ptr(1500.0), Property: "Ashton", Beds: ptr(1.0), Sqft: ptr(720.0),
			Building: ptr("A"), Amenities: "Balcony, Pool View", Date: "2024-05-01 10:00:00"},
		{Unit: "", Rent: ptr(1.0), Property: "Ashton", Date: "2024-05-01 10:00:00"},
		{Unit: "302", Property: "Ashton", Date: ""},
	})
	res, err := snapshot.Decode(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	assert.Equal(t, "dashboard-v1", res.Variant)
	assert.Equal(t, 2, res.Dropped)
	assert.Contains(t, res.Ignored, "index_level_0")
	require.Len(t, res.Records, 1)

	r := res.Records[0]
	assert.Equal(t, "301", r.UnitNumber)
	assert.Equal(t, "Ashton", r.PropertyName)
	assert.Equal(t, 1, *r.Beds)
	assert.Equal(t, 720, *r.Sqft)
	assert.Nil(t, r.Available)
	assert.Equal(t, []string{"Balcony", "Pool View"}, r.Amenities)
	assert.True(t, r.FetchNaive)
	assert.Equal(t, 10, r.FetchDatetime.Hour())
}

func TestDecode_LambdaVariantWithList(t *testing.T) {
	at := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)
	b := writeParquet(t, []lambdaRow{
		{UnitNumber: 410, Rent: ptr(1999.0), Property: "Ashton", FloorplanBeds: ptr(int32(2)),
			Availability: ptr(true), Amenities: []string{"Pool View", "Balcony"}, FetchedAt: at},
	})
	res, err := snapshot.Decode(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	assert.Equal(t, "lambda-v1", res.Variant)
	require.Len(t, res.Records, 1)

	r := res.Records[0]
	assert.Equal(t, "410", r.UnitNumber)
	assert.Equal(t, 2, *r.Beds)
	assert.Nil(t, r.Sqft)
	assert.Equal(t, "true", *r.Available)
	assert.Equal(t, []string{"Balcony", "Pool View"}, r.Amenities)
	assert.True(t, r.FetchDatetime.Equal(at))
}

func TestReader_LoadAll_SkipsBadFilesAndIgnoresOthers(t *testing.T) {
	ctx := context.Background()
	st := objectstore.NewFS(t.TempDir())

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	good, err := snapshot.Encode([]domain.UnitRecord{{UnitNumber: "1", PropertyName: "Ashton", FetchDatetime: at}})
	require.NoError(t, err)

	put(t, st, "lambda-fetch/2024-06-01/ashton/units-120000.parquet", good)
	put(t, st, "lambda-fetch/deep/er/still/2024-06-02.parquet", good)
	put(t, st, "lambda-fetch/2024-06-03/ashton/units-120000.parquet", []byte("not parquet"))
	put(t, st, "lambda-fetch/2024-06-03/readme.txt", []byte("hello"))

	r := snapshot.NewReader(st, 4)
	objs, err := r.List(ctx, "lambda-fetch")
	require.NoError(t, err)
	require.Len(t, objs, 3)

	res, err := r.LoadAll(ctx, "lambda-fetch")
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 2)
	require.Len(t, res.Skipped, 1)
	assert.True(t, strings.HasSuffix(res.Skipped[0].Key, "2024-06-03/ashton/units-120000.parquet"))
	// listing order is the merge order
	assert.Equal(t, "lambda-fetch/2024-06-01/ashton/units-120000.parquet", res.Snapshots[0].Source)
	assert.Equal(t, "lambda-fetch/deep/er/still/2024-06-02.parquet", res.Snapshots[1].Source)
}

func TestReader_LoadAll_NoReadableFiles(t *testing.T) {
	ctx := context.Background()
	st := objectstore.NewFS(t.TempDir())
	put(t, st, "p/a.parquet", []byte("garbage"))

	res, err := snapshot.NewReader(st, 1).LoadAll(ctx, "p")
	assert.True(t, errors.Is(err, snapshot.ErrNoData))
	assert.Len(t, res.Skipped, 1)

	put(t, st, "q/readme.md", []byte("x"))
	_, err = snapshot.NewReader(st, 1).LoadAll(ctx, "q")
	assert.True(t, errors.Is(err, snapshot.ErrNoData))

	// a prefix that was never written reads as no data too
	_, err = snapshot.NewReader(st, 1).LoadAll(ctx, "never-written")
	assert.True(t, errors.Is(err, snapshot.ErrNoData))
}

func TestReader_LoadAll_EmptyFileIsData(t *testing.T) {
	ctx := context.Background()
	st := objectstore.NewFS(t.TempDir())
	b, err := snapshot.Encode(nil)
	require.NoError(t, err)
	put(t, st, "p/empty.parquet", b)

	res, err := snapshot.NewReader(st, 1).LoadAll(ctx, "p")
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 1)
	assert.Empty(t, res.Snapshots[0].Records)
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "lambda-fetch/2024-06-01/the-ashton-village/units-090507.parquet",
		snapshot.ObjectKey("lambda-fetch", "The Ashton @ Village", at))
	assert.Equal(t, "unknown", snapshot.Slug("  "))
}
