package snapshot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"github.com/shopspring/decimal"

	"github.com/amarcin/village-units/internal/domain"
)

// DecodeResult is the outcome of decoding one file.
type DecodeResult struct {
	Variant string
	Records []domain.UnitRecord
	Dropped int      // rows without unit_number or fetch_datetime
	Ignored []string // columns outside the detected variant
}

type column struct {
	index   int
	logical *format.LogicalType
}

// Decode reads a parquet file into canonical records. Naive timestamps are
// returned as UTC wall-clock values with FetchNaive set.
func Decode(r io.ReaderAt, size int64) (DecodeResult, error) {
	f, err := parquet.OpenFile(r, size)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("snapshot: open parquet: %w", err)
	}
	schema := f.Schema()

	// one entry per top-level field; list columns contribute their single leaf
	var names []string
	var leaves []column
	seen := map[string]bool{}
	for _, path := range schema.Columns() {
		top := Normalize(path[0])
		if seen[top] {
			continue
		}
		leaf, ok := schema.Lookup(path...)
		if !ok {
			continue
		}
		seen[top] = true
		names = append(names, top)
		leaves = append(leaves, column{index: leaf.ColumnIndex, logical: leaf.Node.Type().LogicalType()})
	}

	variant, err := Detect(names)
	if err != nil {
		return DecodeResult{}, err
	}
	pos, ignored := variant.Migrate(names)
	cols := make(map[string]column, len(pos))
	for canon, i := range pos {
		cols[canon] = leaves[i]
	}

	res := DecodeResult{Variant: variant.Name, Ignored: ignored}
	byIndex := map[int][]parquet.Value{}
	buf := make([]parquet.Row, 128)
	for _, rg := range f.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				clear(byIndex)
				for _, v := range row {
					byIndex[v.Column()] = append(byIndex[v.Column()], v)
				}
				rec := buildRecord(cols, byIndex)
				if !rec.Valid() {
					res.Dropped++
					continue
				}
				res.Records = append(res.Records, rec)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return DecodeResult{}, fmt.Errorf("snapshot: read rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return DecodeResult{}, fmt.Errorf("snapshot: close rows: %w", err)
		}
	}
	return res, nil
}

func buildRecord(cols map[string]column, vals map[int][]parquet.Value) domain.UnitRecord {
	get := func(name string) (parquet.Value, column, bool) {
		c, ok := cols[name]
		if !ok {
			return parquet.Value{}, c, false
		}
		vs := vals[c.index]
		if len(vs) == 0 || vs[0].IsNull() {
			return parquet.Value{}, c, false
		}
		return vs[0], c, true
	}

	var rec domain.UnitRecord
	if v, _, ok := get(ColUnitNumber); ok {
		rec.UnitNumber = strings.TrimSpace(valueString(v))
	}
	if v, c, ok := get(ColRent); ok {
		if d, ok := valueDecimal(v, c.logical); ok {
			rec.Rent = decimal.NewNullDecimal(d)
		}
	}
	if v, _, ok := get(ColPropertyName); ok {
		rec.PropertyName = valueString(v)
	}
	if v, _, ok := get(ColBuilding); ok {
		rec.Building = nonEmpty(valueString(v))
	}
	if v, _, ok := get(ColBeds); ok {
		rec.Beds = valueInt(v)
	}
	if v, _, ok := get(ColSqft); ok {
		rec.Sqft = valueInt(v)
	}
	if v, _, ok := get(ColFloorplanMediaURL); ok {
		rec.FloorplanMediaURL = nonEmpty(valueString(v))
	}
	if v, _, ok := get(ColAvailable); ok {
		rec.Available = nonEmpty(valueString(v))
	}
	if c, ok := cols[ColAmenities]; ok {
		rec.Amenities = amenities(vals[c.index])
	}
	if v, c, ok := get(ColFetchDatetime); ok {
		rec.FetchDatetime, rec.FetchNaive = valueTime(v, c.logical)
	}
	return rec
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// amenities accepts a LIST column or a single delimited string.
func amenities(vs []parquet.Value) []string {
	var tags []string
	for _, v := range vs {
		if v.IsNull() {
			continue
		}
		tags = append(tags, valueString(v))
	}
	if len(tags) == 1 {
		return domain.SplitAmenities(tags[0])
	}
	return domain.NormalizeAmenities(tags)
}

func valueString(v parquet.Value) string {
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	case parquet.Boolean:
		return strconv.FormatBool(v.Boolean())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	case parquet.Float:
		return strconv.FormatFloat(float64(v.Float()), 'f', -1, 32)
	case parquet.Double:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64)
	}
	return ""
}

func valueInt(v parquet.Value) *int {
	var n int
	switch v.Kind() {
	case parquet.Int32:
		n = int(v.Int32())
	case parquet.Int64:
		n = int(v.Int64())
	case parquet.Float:
		n = int(v.Float())
	case parquet.Double:
		if math.IsNaN(v.Double()) {
			return nil
		}
		n = int(v.Double())
	case parquet.ByteArray:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v.ByteArray())), 64)
		if err != nil {
			return nil
		}
		n = int(f)
	default:
		return nil
	}
	return &n
}

func valueDecimal(v parquet.Value, lt *format.LogicalType) (decimal.Decimal, bool) {
	scale := int32(0)
	isDecimal := lt != nil && lt.Decimal != nil
	if isDecimal {
		scale = lt.Decimal.Scale
	}
	switch v.Kind() {
	case parquet.Int32:
		return decimal.New(int64(v.Int32()), -scale), true
	case parquet.Int64:
		return decimal.New(v.Int64(), -scale), true
	case parquet.Float:
		f := float64(v.Float())
		if math.IsNaN(f) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat32(v.Float()), true
	case parquet.Double:
		if math.IsNaN(v.Double()) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(v.Double()), true
	case parquet.ByteArray, parquet.FixedLenByteArray:
		b := v.ByteArray()
		if isDecimal {
			return decimal.NewFromBigInt(twosComplement(b), -scale), true
		}
		s := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(string(b)))
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// twosComplement decodes a big-endian signed integer.
func twosComplement(b []byte) *big.Int {
	n := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8)))
	}
	return n
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// valueTime decodes TIMESTAMP, DATE, INT96 and string columns. The second
// result reports a naive (zone-less) reading.
func valueTime(v parquet.Value, lt *format.LogicalType) (time.Time, bool) {
	switch v.Kind() {
	case parquet.Int64:
		if lt != nil && lt.Timestamp != nil {
			ts := lt.Timestamp
			n := v.Int64()
			var t time.Time
			switch {
			case ts.Unit.Millis != nil:
				t = time.UnixMilli(n)
			case ts.Unit.Micros != nil:
				t = time.UnixMicro(n)
			default:
				t = time.Unix(0, n)
			}
			return t.UTC(), !ts.IsAdjustedToUTC
		}
		return unixGuess(v.Int64()), false
	case parquet.Int32:
		if lt != nil && lt.Date != nil {
			d := time.Unix(int64(v.Int32())*86400, 0).UTC()
			return d, true
		}
		return unixGuess(int64(v.Int32())), false
	case parquet.Int96:
		// legacy impala/spark layout: nanos of day, then julian day
		i96 := v.Int96()
		nanos := int64(uint64(i96[1])<<32 | uint64(i96[0]))
		day := int64(i96[2])
		return time.Unix((day-2440588)*86400, nanos).UTC(), false
	case parquet.ByteArray:
		s := strings.TrimSpace(string(v.ByteArray()))
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, false
		}
		if t, err := time.Parse("2006-01-02 15:04:05.999999999Z07:00", s); err == nil {
			return t, false
		}
		for _, layout := range naiveLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// unixGuess interprets an unannotated integer epoch by magnitude.
func unixGuess(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e17:
		return time.Unix(0, n).UTC()
	case abs >= 1e14:
		return time.UnixMicro(n).UTC()
	case abs >= 1e11:
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
