package listings

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/amarcin/village-units/internal/domain"
)

type pageDTO struct {
	Units []listingDTO `json:"units"`
}

type listingDTO struct {
	UnitNumber   flexString    `json:"unit_number"`
	Rent         flexDecimal   `json:"rent"`
	Property     *propertyDTO  `json:"property"`
	Floorplan    *floorplanDTO `json:"floorplan"`
	Availability flexString    `json:"availability"`
	Building     flexString    `json:"building"`
	Amenities    []flexString  `json:"amenities"`
}

type propertyDTO struct {
	Name flexString `json:"name"`
}

type floorplanDTO struct {
	Beds  flexInt    `json:"beds"`
	Sqft  flexInt    `json:"sqft"`
	Media []mediaDTO `json:"media"`
}

type mediaDTO struct {
	URL flexString `json:"url"`
}

// toRecord is the single place where absent nested fields become nulls:
// property, floorplan, floorplan.media and media[0].url may each be missing.
func (l listingDTO) toRecord(fetchedAt time.Time) domain.UnitRecord {
	r := domain.UnitRecord{
		UnitNumber:    strings.TrimSpace(l.UnitNumber.String()),
		Rent:          l.Rent.NullDecimal,
		Building:      l.Building.Ptr(),
		Available:     l.Availability.Ptr(),
		FetchDatetime: fetchedAt,
	}
	if l.Property != nil {
		r.PropertyName = l.Property.Name.String()
	}
	if fp := l.Floorplan; fp != nil {
		r.Beds = fp.Beds.Ptr()
		r.Sqft = fp.Sqft.Ptr()
		if len(fp.Media) > 0 {
			r.FloorplanMediaURL = fp.Media[0].URL.Ptr()
		}
	}
	if len(l.Amenities) > 0 {
		tags := make([]string, 0, len(l.Amenities))
		for _, a := range l.Amenities {
			tags = append(tags, a.String())
		}
		r.Amenities = domain.NormalizeAmenities(tags)
	}
	return r
}

// flexString accepts a JSON string, number or bool. null/absent stays unset.
type flexString struct {
	v   string
	set bool
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f.v, f.set = s, true
		return nil
	}
	// numbers and booleans keep their literal text
	f.v, f.set = string(b), true
	return nil
}

func (f flexString) String() string { return f.v }

func (f flexString) Ptr() *string {
	if !f.set || strings.TrimSpace(f.v) == "" {
		return nil
	}
	s := f.v
	return &s
}

// flexInt accepts 2, 2.0 or "2". Anything unparseable is treated as absent.
type flexInt struct {
	v   int
	set bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		f.v, f.set = n, true
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		f.v, f.set = int(x), true
	}
	return nil
}

func (f flexInt) Ptr() *int {
	if !f.set {
		return nil
	}
	n := f.v
	return &n
}

// flexDecimal accepts 1200, "1200", "$1,200.00". Unparseable rent is null.
type flexDecimal struct {
	decimal.NullDecimal
}

func (f *flexDecimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	f.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}
