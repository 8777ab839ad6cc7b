package reconcile

import (
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"

	"github.com/amarcin/village-units/internal/adapters/observability"
	"github.com/amarcin/village-units/internal/domain"
)

// DefaultZone is the zone observations are compared in when none is configured.
const DefaultZone = "America/Chicago"

type Reconciler struct {
	loc *time.Location
}

// New returns a reconciler comparing every timestamp in loc. A nil loc
// falls back to UTC.
func New(loc *time.Location) *Reconciler {
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{loc: loc}
}

func (r *Reconciler) Location() *time.Location { return r.loc }

// Stats describes one reconcile pass.
type Stats struct {
	Input      int `json:"input"`
	Dropped    int `json:"dropped"`
	Duplicates int `json:"duplicates"`
}

type naturalKey struct {
	unit domain.UnitKey
	at   int64
}

// Reconcile merges snapshots into a dataset. Naive timestamps are read as
// wall-clock time in the reconciler's zone; aware ones are converted to it.
// Records without unit_number or fetch_datetime are dropped. Observations
// sharing a natural key collapse to the one seen last in input order.
func (r *Reconciler) Reconcile(snaps ...domain.Snapshot) (domain.Dataset, Stats) {
	var st Stats
	idx := map[naturalKey]int{}
	var out []domain.UnitRecord

	for _, s := range snaps {
		for _, rec := range s.Records {
			st.Input++
			if !rec.Valid() {
				st.Dropped++
				log.Debug().Str("source", s.Source).Str("unit", rec.UnitNumber).Msg("dropping record without natural key")
				continue
			}
			rec = rec.Clone()
			rec.FetchDatetime = r.localize(rec.FetchDatetime, rec.FetchNaive)
			rec.FetchNaive = false

			k := naturalKey{unit: rec.Key(), at: rec.FetchDatetime.UnixNano()}
			if i, ok := idx[k]; ok {
				st.Duplicates++
				out[i] = rec
				continue
			}
			idx[k] = len(out)
			out = append(out, rec)
		}
	}

	if st.Dropped > 0 {
		observability.ObserveDropped("reconcile", st.Dropped)
		log.Warn().Int("dropped", st.Dropped).Msg("reconcile dropped invalid records")
	}
	return domain.NewDataset(out), st
}

func (r *Reconciler) localize(t time.Time, naive bool) time.Time {
	if !naive {
		return t.In(r.loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), r.loc)
}

// CurrentlyListed returns the units whose latest observation is at the
// dataset's global max fetch time. With includeDelisted every unit is returned.
func CurrentlyListed(ds domain.Dataset, includeDelisted bool) map[domain.UnitKey]struct{} {
	out := map[domain.UnitKey]struct{}{}
	_, max, ok := ds.Bounds()
	if !ok {
		return out
	}
	for _, rec := range ds.Latest() {
		if includeDelisted || rec.FetchDatetime.Equal(max) {
			out[rec.Key()] = struct{}{}
		}
	}
	return out
}
