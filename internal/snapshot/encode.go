package snapshot

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/amarcin/village-units/internal/domain"
)

// row is the canonical-v2 on-disk layout. Rent is a decimal string so it
// survives without rounding; files holding a double rent still decode.
type row struct {
	SchemaVersion     int32     `parquet:"schema_version"`
	UnitNumber        string    `parquet:"unit_number"`
	Rent              *string   `parquet:"rent"`
	PropertyName      string    `parquet:"property_name"`
	Building          *string   `parquet:"building"`
	Beds              *int64    `parquet:"beds"`
	Sqft              *int64    `parquet:"sqft"`
	FloorplanMediaURL *string   `parquet:"floorplan_media_url"`
	Available         *string   `parquet:"available"`
	Amenities         *string   `parquet:"amenities"`
	FetchDatetime     time.Time `parquet:"fetch_datetime"`
}

// Encode writes records in the current layout. Amenities are flattened into
// one delimited column.
func Encode(recs []domain.UnitRecord) ([]byte, error) {
	rows := make([]row, 0, len(recs))
	for _, r := range recs {
		out := row{
			SchemaVersion:     CurrentVersion,
			UnitNumber:        r.UnitNumber,
			PropertyName:      r.PropertyName,
			Building:          r.Building,
			Beds:              int64Ptr(r.Beds),
			Sqft:              int64Ptr(r.Sqft),
			FloorplanMediaURL: r.FloorplanMediaURL,
			Available:         r.Available,
			FetchDatetime:     r.FetchDatetime.UTC(),
		}
		if r.Rent.Valid {
			s := r.Rent.Decimal.String()
			out.Rent = &s
		}
		if s := domain.JoinAmenities(r.Amenities); s != "" {
			out.Amenities = &s
		}
		rows = append(rows, out)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[row](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("snapshot: write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func int64Ptr(p *int) *int64 {
	if p == nil {
		return nil
	}
	n := int64(*p)
	return &n
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a property name into a path segment.
func Slug(s string) string {
	out := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if out == "" {
		return "unknown"
	}
	return out
}

// ObjectKey lays snapshots out as <prefix>/<yyyy-mm-dd>/<property>/units-<hhmmss>.parquet.
func ObjectKey(prefix, property string, at time.Time) string {
	return path.Join(prefix, at.Format("2006-01-02"), Slug(property), "units-"+at.Format("150405")+Suffix)
}
