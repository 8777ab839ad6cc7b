package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmenitySep is the delimiter used when amenities are flattened into one column.
const AmenitySep = ", "

// UnitKey identifies one physical unit across observations.
type UnitKey struct {
	PropertyName string `json:"property_name"`
	Building     string `json:"building"`
	UnitNumber   string `json:"unit_number"`
}

func (k UnitKey) String() string {
	return k.PropertyName + "/" + k.Building + "/" + k.UnitNumber
}

// Less orders keys by property, building, then unit number.
func (k UnitKey) Less(o UnitKey) bool {
	if k.PropertyName != o.PropertyName {
		return k.PropertyName < o.PropertyName
	}
	if k.Building != o.Building {
		return k.Building < o.Building
	}
	return k.UnitNumber < o.UnitNumber
}

// UnitRecord is one observation of one rental unit at one point in time.
type UnitRecord struct {
	UnitNumber        string              `json:"unit_number"`
	Rent              decimal.NullDecimal `json:"rent"`
	PropertyName      string              `json:"property_name"`
	Building          *string             `json:"building,omitempty"`
	Beds              *int                `json:"beds,omitempty"`
	Sqft              *int                `json:"sqft,omitempty"`
	FloorplanMediaURL *string             `json:"floorplan_media_url,omitempty"`
	Available         *string             `json:"available,omitempty"`
	Amenities         []string            `json:"amenities,omitempty"`
	FetchDatetime     time.Time           `json:"fetch_datetime"`

	// FetchNaive marks a wall-clock timestamp read without zone information.
	// The reconciler localizes it and clears the flag.
	FetchNaive bool `json:"-"`
}

func (r UnitRecord) Key() UnitKey {
	b := ""
	if r.Building != nil {
		b = *r.Building
	}
	return UnitKey{PropertyName: r.PropertyName, Building: b, UnitNumber: r.UnitNumber}
}

// Valid reports whether the natural-key fields are present.
func (r UnitRecord) Valid() bool {
	return strings.TrimSpace(r.UnitNumber) != "" && !r.FetchDatetime.IsZero()
}

// HasAmenities reports whether every name in want is present.
func (r UnitRecord) HasAmenities(want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(r.Amenities))
	for _, a := range r.Amenities {
		have[strings.ToLower(a)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[strings.ToLower(strings.TrimSpace(w))]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no mutable memory with r.
func (r UnitRecord) Clone() UnitRecord {
	out := r
	out.Building = clonePtr(r.Building)
	out.Beds = clonePtr(r.Beds)
	out.Sqft = clonePtr(r.Sqft)
	out.FloorplanMediaURL = clonePtr(r.FloorplanMediaURL)
	out.Available = clonePtr(r.Available)
	if r.Amenities != nil {
		out.Amenities = append([]string(nil), r.Amenities...)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// NormalizeAmenities trims, dedups and sorts amenity tags.
func NormalizeAmenities(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// JoinAmenities flattens a tag set into the single-column form.
func JoinAmenities(in []string) string {
	return strings.Join(NormalizeAmenities(in), AmenitySep)
}

// SplitAmenities is the inverse of JoinAmenities.
func SplitAmenities(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return NormalizeAmenities(strings.Split(s, AmenitySep))
}

// Snapshot is the set of records from one fetch pass or one stored file.
type Snapshot struct {
	Source  string       `json:"source"`
	Records []UnitRecord `json:"records"`
}
