package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Canonical column names.
const (
	ColSchemaVersion     = "schema_version"
	ColUnitNumber        = "unit_number"
	ColRent              = "rent"
	ColPropertyName      = "property_name"
	ColBuilding          = "building"
	ColBeds              = "beds"
	ColSqft              = "sqft"
	ColFloorplanMediaURL = "floorplan_media_url"
	ColAvailable         = "available"
	ColAmenities         = "amenities"
	ColFetchDatetime     = "fetch_datetime"
)

// CurrentVersion is the schema_version written by Encode.
const CurrentVersion = 2

var ErrUnknownSchema = errors.New("snapshot: unrecognized column layout")

// Variant is one historical column layout together with its migration to
// canonical names. Renames is keyed by normalized source column name.
type Variant struct {
	Name    string
	Version int
	Renames map[string]string
}

// Variants lists every known layout, oldest first.
var Variants = []Variant{
	{
		// written by the first dashboard revision (pandas column labels)
		Name:    "dashboard-v1",
		Version: 0,
		Renames: map[string]string{
			"unit":      ColUnitNumber,
			"rent":      ColRent,
			"property":  ColPropertyName,
			"building":  ColBuilding,
			"beds":      ColBeds,
			"sqft":      ColSqft,
			"floorplan": ColFloorplanMediaURL,
			"available": ColAvailable,
			"amenities": ColAmenities,
			"date":      ColFetchDatetime,
		},
	},
	{
		// scheduled fetch job, flattened API names
		Name:    "lambda-v1",
		Version: 1,
		Renames: map[string]string{
			"unit_number":    ColUnitNumber,
			"rent":           ColRent,
			"property":       ColPropertyName,
			"property_name":  ColPropertyName,
			"building":       ColBuilding,
			"floorplan_beds": ColBeds,
			"floorplan_sqft": ColSqft,
			"floorplan_url":  ColFloorplanMediaURL,
			"availability":   ColAvailable,
			"amenities":      ColAmenities,
			"fetch_date":     ColFetchDatetime,
			"fetched_at":     ColFetchDatetime,
		},
	},
	{
		Name:    "canonical-v2",
		Version: CurrentVersion,
		Renames: map[string]string{
			ColSchemaVersion:     ColSchemaVersion,
			ColUnitNumber:        ColUnitNumber,
			ColRent:              ColRent,
			ColPropertyName:      ColPropertyName,
			ColBuilding:          ColBuilding,
			ColBeds:              ColBeds,
			ColSqft:              ColSqft,
			ColFloorplanMediaURL: ColFloorplanMediaURL,
			ColAvailable:         ColAvailable,
			ColAmenities:         ColAmenities,
			ColFetchDatetime:     ColFetchDatetime,
		},
	},
}

// Normalize maps a column label to lower snake case:
// "Unit" -> "unit", "fetchDatetime" -> "fetch_datetime", "Floorplan URL" -> "floorplan_url".
func Normalize(name string) string {
	var b strings.Builder
	rs := []rune(strings.TrimSpace(name))
	for i, r := range rs {
		switch {
		case r == ' ' || r == '-' || r == '.' || r == '_':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(rs[i-1]) || unicode.IsDigit(rs[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

// Detect picks the variant covering the most of cols (normalized names).
// A variant qualifies only if it maps both unit_number and fetch_datetime;
// ties go to the newer layout.
func Detect(cols []string) (Variant, error) {
	best, bestScore := -1, 0
	for i, v := range Variants {
		score, unit, ts := 0, false, false
		for _, c := range cols {
			canon, ok := v.Renames[c]
			if !ok {
				continue
			}
			score++
			unit = unit || canon == ColUnitNumber
			ts = ts || canon == ColFetchDatetime
		}
		if !unit || !ts {
			continue
		}
		if score >= bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Variant{}, fmt.Errorf("%w: %s", ErrUnknownSchema, strings.Join(cols, ","))
	}
	return Variants[best], nil
}

// Migrate maps canonical names to positions in cols. Columns the variant does
// not know are returned as ignored. When two source columns map to the same
// canonical name the first one wins.
func (v Variant) Migrate(cols []string) (positions map[string]int, ignored []string) {
	positions = make(map[string]int, len(cols))
	for i, c := range cols {
		canon, ok := v.Renames[c]
		if !ok {
			ignored = append(ignored, c)
			continue
		}
		if _, dup := positions[canon]; !dup {
			positions[canon] = i
		}
	}
	sort.Strings(ignored)
	return positions, ignored
}
