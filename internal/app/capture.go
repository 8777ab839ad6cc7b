package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/amarcin/village-units/internal/adapters/observability"
	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/snapshot"
)

// CaptureResult lists the snapshot files one capture wrote.
type CaptureResult struct {
	Units int
	Keys  []string
}

// CaptureService fetches the live listing and writes it to the store as
// one parquet snapshot per property.
type CaptureService struct {
	client  domain.ListingClient
	store   domain.ObjectStore
	prefix  string
	workers int64
	cache   domain.Cache
	loc     *time.Location
}

// NewCaptureService wires a capture. cache may be nil; when set, the
// reconciled history cached under it is dropped after a successful write.
func NewCaptureService(c domain.ListingClient, store domain.ObjectStore, prefix string, workers int, cache domain.Cache, loc *time.Location) *CaptureService {
	if workers < 1 {
		workers = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CaptureService{client: c, store: store, prefix: prefix, workers: int64(workers), cache: cache, loc: loc}
}

// Capture runs one fetch pass. A failed fetch writes nothing. Failed puts
// are joined into the returned error; the keys that did land are still
// reported.
func (s *CaptureService) Capture(ctx context.Context) (CaptureResult, error) {
	units, err := s.client.FetchAllUnits(ctx)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("capture: fetch: %w", err)
	}
	if len(units) == 0 {
		log.Warn().Msg("capture: listing returned no units, nothing written")
		return CaptureResult{}, nil
	}

	// one pass shares a fetch time, which also names the files
	at := units[0].FetchDatetime.In(s.loc)
	// properties whose names slug alike share one file rather than
	// overwrite each other
	byKey := map[string][]domain.UnitRecord{}
	for _, u := range units {
		k := snapshot.ObjectKey(s.prefix, u.PropertyName, at)
		byKey[k] = append(byKey[k], u)
	}

	sem := semaphore.NewWeighted(s.workers)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys []string
		errs []error
	)
	for base, recs := range byKey {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(base string, recs []domain.UnitRecord) {
			defer wg.Done()
			defer sem.Release(1)

			key, err := s.freeKey(ctx, base)
			if err == nil {
				err = s.write(ctx, key, recs)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("capture: %s: %w", key, err))
				log.Warn().Err(err).Str("key", key).Msg("snapshot write failed")
				return
			}
			keys = append(keys, key)
			observability.ObserveSnapshotFile("written")
			log.Info().Str("property", recs[0].PropertyName).Str("key", key).Int("units", len(recs)).Msg("snapshot written")
		}(base, recs)
	}
	wg.Wait()
	sort.Strings(keys)

	if len(keys) > 0 && s.cache != nil {
		if err := s.cache.Del(ctx, historyKey); err != nil {
			log.Warn().Err(err).Str("key", historyKey).Msg("history cache delete failed")
		}
	}
	return CaptureResult{Units: len(units), Keys: keys}, errors.Join(errs...)
}

// freeKey returns base, or base with a -N suffix when an earlier capture in
// the same second already wrote it.
func (s *CaptureService) freeKey(ctx context.Context, base string) (string, error) {
	objs, err := s.store.List(ctx, path.Dir(base))
	if err != nil {
		return base, err
	}
	taken := make(map[string]bool, len(objs))
	for _, o := range objs {
		taken[o.Key] = true
	}
	key, stem := base, strings.TrimSuffix(base, snapshot.Suffix)
	for n := 2; taken[key]; n++ {
		key = fmt.Sprintf("%s-%d%s", stem, n, snapshot.Suffix)
	}
	return key, nil
}

func (s *CaptureService) write(ctx context.Context, key string, recs []domain.UnitRecord) error {
	b, err := snapshot.Encode(recs)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, bytes.NewReader(b), int64(len(b)))
}
