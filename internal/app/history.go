package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/query"
	"github.com/amarcin/village-units/internal/reconcile"
	"github.com/amarcin/village-units/internal/snapshot"
)

const historyKey = "history:dataset"

// StoreFunc resolves the snapshot store for a request. It may depend on
// credentials carried by ctx.
type StoreFunc func(ctx context.Context) (domain.ObjectStore, error)

// History is a reconciled dataset plus what the load had to skip.
type History struct {
	Dataset  domain.Dataset
	Skipped  []snapshot.SkippedFile
	Files    int
	Stats    reconcile.Stats
	LoadedAt time.Time
}

// historyEntry is the cacheable form of History.
type historyEntry struct {
	Records  []domain.UnitRecord    `json:"records"`
	Skipped  []snapshot.SkippedFile `json:"skipped,omitempty"`
	Files    int                    `json:"files"`
	Stats    reconcile.Stats        `json:"stats"`
	LoadedAt time.Time              `json:"loaded_at"`
}

type HistoryService struct {
	store   StoreFunc
	prefix  string
	workers int
	rec     *reconcile.Reconciler
	cache   domain.Cache
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group

	loadTimeout time.Duration
}

func NewHistoryService(store StoreFunc, prefix string, workers int, rec *reconcile.Reconciler, cache domain.Cache, ttl time.Duration) *HistoryService {
	return &HistoryService{store: store, prefix: prefix, workers: workers, rec: rec, cache: cache, ttl: ttl, now: time.Now, loadTimeout: 2 * time.Minute}
}

// Load returns the reconciled history, from cache when possible.
// snapshot.ErrNoData is returned when no file could be read.
func (s *HistoryService) Load(ctx context.Context) (History, error) {
	if s.cache != nil {
		var e historyEntry
		ok, err := s.cache.Get(ctx, historyKey, &e)
		if err != nil {
			log.Warn().Err(err).Str("key", historyKey).Msg("history cache read failed")
		}
		if ok {
			return s.fromEntry(e), nil
		}
	}

	// the shared load outlives any one caller but keeps ctx values such as
	// the session
	ch := s.group.DoChan(historyKey, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return s.load(lctx)
	})
	select {
	case <-ctx.Done():
		return History{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return History{}, r.Err
		}
		return s.fromEntry(r.Val.(historyEntry)), nil
	}
}

func (s *HistoryService) load(ctx context.Context) (historyEntry, error) {
	store, err := s.store(ctx)
	if err != nil {
		return historyEntry{}, err
	}
	res, err := snapshot.NewReader(store, s.workers).LoadAll(ctx, s.prefix)
	if err != nil {
		if errors.Is(err, snapshot.ErrNoData) {
			log.Warn().Str("prefix", s.prefix).Int("skipped", len(res.Skipped)).Msg("no readable snapshots")
		}
		return historyEntry{}, err
	}

	ds, st := s.rec.Reconcile(res.Snapshots...)
	e := historyEntry{
		Records:  ds.Records(),
		Skipped:  res.Skipped,
		Files:    len(res.Snapshots),
		Stats:    st,
		LoadedAt: s.now(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, historyKey, e, s.ttl); err != nil {
			log.Warn().Err(err).Str("key", historyKey).Msg("history cache write failed")
		}
	}
	log.Info().Int("files", e.Files).Int("records", ds.Len()).Int("duplicates", st.Duplicates).Msg("history reconciled")
	return e, nil
}

// fromEntry rebuilds the dataset in the reconciler's zone; JSON round trips
// keep only the offset.
func (s *HistoryService) fromEntry(e historyEntry) History {
	loc := s.rec.Location()
	recs := make([]domain.UnitRecord, len(e.Records))
	for i, r := range e.Records {
		r.FetchDatetime = r.FetchDatetime.In(loc)
		recs[i] = r
	}
	return History{
		Dataset:  domain.NewDataset(recs),
		Skipped:  e.Skipped,
		Files:    e.Files,
		Stats:    e.Stats,
		LoadedAt: e.LoadedAt.In(loc),
	}
}

func (s *HistoryService) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, historyKey)
}

// UnitsResult holds the filtered units. Series is set when the caller
// asked for full histories.
type UnitsResult struct {
	Units   []domain.UnitRecord    `json:"units"`
	Series  []domain.UnitSeries    `json:"series,omitempty"`
	Skipped []snapshot.SkippedFile `json:"skipped,omitempty"`
}

func (s *HistoryService) Units(ctx context.Context, c query.Criteria, withHistory bool) (UnitsResult, error) {
	h, err := s.Load(ctx)
	if err != nil {
		return UnitsResult{}, err
	}
	out := UnitsResult{Units: query.Apply(h.Dataset, c).Records(), Skipped: h.Skipped}
	if withHistory {
		out.Series = query.Matching(h.Dataset, c).Series()
	}
	return out, nil
}

func (s *HistoryService) Options(ctx context.Context, includeDelisted bool) (query.FilterOptions, error) {
	h, err := s.Load(ctx)
	if err != nil {
		return query.FilterOptions{}, err
	}
	return query.Options(h.Dataset, includeDelisted), nil
}

type PriceChangesResult struct {
	Summary []reconcile.PriceChange `json:"summary"`
	Steps   []reconcile.RentStep    `json:"steps"`
}

// PriceChanges summarizes every unit of property (all properties when empty).
func (s *HistoryService) PriceChanges(ctx context.Context, property string) (PriceChangesResult, error) {
	h, err := s.Load(ctx)
	if err != nil {
		return PriceChangesResult{}, err
	}
	ds := h.Dataset
	if property != "" {
		ds = ds.Where(func(r domain.UnitRecord) bool { return r.PropertyName == property })
	}
	return PriceChangesResult{
		Summary: reconcile.PriceChanges(ds),
		Steps:   reconcile.RentSteps(ds),
	}, nil
}

// RentHistory returns per-unit series inside the window ending now.
func (s *HistoryService) RentHistory(ctx context.Context, scope reconcile.Scope, w reconcile.Window) ([]domain.UnitSeries, error) {
	h, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return reconcile.TimeWindowed(h.Dataset, scope, w, s.now().In(s.rec.Location())).Series(), nil
}
