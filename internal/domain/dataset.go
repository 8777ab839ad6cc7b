package domain

import (
	"sort"
	"time"
)

// Dataset is a deduplicated, ordered set of observations. It is never
// mutated after construction; every accessor hands out copies.
type Dataset struct {
	records []UnitRecord
}

// NewDataset sorts a copy of recs by (key, fetch_datetime). Callers are
// expected to have deduplicated recs already; see reconcile.Reconcile.
func NewDataset(recs []UnitRecord) Dataset {
	out := make([]UnitRecord, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return lessRecord(out[i], out[j]) })
	return Dataset{records: out}
}

func lessRecord(a, b UnitRecord) bool {
	ka, kb := a.Key(), b.Key()
	if ka != kb {
		return ka.Less(kb)
	}
	return a.FetchDatetime.Before(b.FetchDatetime)
}

func (d Dataset) Len() int { return len(d.records) }

func (d Dataset) Empty() bool { return len(d.records) == 0 }

// Records returns a deep copy of the observations in dataset order.
func (d Dataset) Records() []UnitRecord {
	out := make([]UnitRecord, len(d.records))
	for i, r := range d.records {
		out[i] = r.Clone()
	}
	return out
}

// Each visits observations in order without copying. fn must not retain
// or modify the record's pointer fields.
func (d Dataset) Each(fn func(UnitRecord) bool) {
	for _, r := range d.records {
		if !fn(r) {
			return
		}
	}
}

// Where returns a new dataset holding the observations keep accepts.
func (d Dataset) Where(keep func(UnitRecord) bool) Dataset {
	out := make([]UnitRecord, 0, len(d.records))
	for _, r := range d.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return Dataset{records: out}
}

// Bounds returns the global min and max fetch_datetime.
func (d Dataset) Bounds() (min, max time.Time, ok bool) {
	for i, r := range d.records {
		if i == 0 || r.FetchDatetime.Before(min) {
			min = r.FetchDatetime
		}
		if i == 0 || r.FetchDatetime.After(max) {
			max = r.FetchDatetime
		}
	}
	return min, max, len(d.records) > 0
}

// Series groups observations per unit in key order. Each series is sorted
// by fetch_datetime ascending.
func (d Dataset) Series() []UnitSeries {
	var out []UnitSeries
	for _, r := range d.records {
		k := r.Key()
		if n := len(out); n == 0 || out[n-1].Key != k {
			out = append(out, UnitSeries{Key: k})
		}
		out[len(out)-1].Observations = append(out[len(out)-1].Observations, r.Clone())
	}
	return out
}

// Latest returns the most recent observation of every unit.
func (d Dataset) Latest() []UnitRecord {
	series := d.Series()
	out := make([]UnitRecord, 0, len(series))
	for _, s := range series {
		out = append(out, s.Observations[len(s.Observations)-1])
	}
	return out
}

// UnitSeries is the ordered observation history of one unit.
type UnitSeries struct {
	Key          UnitKey      `json:"key"`
	Observations []UnitRecord `json:"observations"`
}
