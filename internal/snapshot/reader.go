package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/amarcin/village-units/internal/adapters/observability"
	"github.com/amarcin/village-units/internal/domain"
)

// Suffix marks snapshot files; everything else under a location is ignored.
const Suffix = ".parquet"

// ErrNoData means no snapshot file could be read at all. It is distinct
// from a successful load that yields zero rows.
var ErrNoData = errors.New("snapshot: no readable snapshot files")

type SkippedFile struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

type LoadResult struct {
	Snapshots []domain.Snapshot
	Skipped   []SkippedFile
	Dropped   int
}

type Reader struct {
	store   domain.ObjectStore
	workers int
}

// NewReader loads up to workers files concurrently; results are merged in
// listing order regardless.
func NewReader(store domain.ObjectStore, workers int) *Reader {
	if workers <= 0 {
		workers = 1
	}
	return &Reader{store: store, workers: workers}
}

// List returns the snapshot files under prefix at any depth, in key order.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.Object, error) {
	objs, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []domain.Object
	for _, o := range objs {
		if strings.HasSuffix(strings.ToLower(o.Key), Suffix) {
			out = append(out, o)
		}
	}
	return out, nil
}

// Load reads and decodes one snapshot file.
func (r *Reader) Load(ctx context.Context, obj domain.Object) (snap domain.Snapshot, dropped int, err error) {
	rc, err := r.store.Open(ctx, obj.Key)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("snapshot: read %s: %w", obj.Key, err)
	}

	// corrupt footers can panic inside the parquet decoder
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("snapshot: decode %s: %v", obj.Key, p)
		}
	}()
	res, err := Decode(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("snapshot: decode %s: %w", obj.Key, err)
	}
	if len(res.Ignored) > 0 {
		log.Debug().Str("key", obj.Key).Strs("columns", res.Ignored).Msg("ignoring unknown snapshot columns")
	}
	return domain.Snapshot{Source: obj.Key, Records: res.Records}, res.Dropped, nil
}

// LoadAll lists and loads every snapshot under prefix. Unreadable files are
// skipped and reported; a listing failure is returned as is. ErrNoData is
// returned (with the skipped list) when not a single file could be read.
func (r *Reader) LoadAll(ctx context.Context, prefix string) (LoadResult, error) {
	objs, err := r.List(ctx, prefix)
	if err != nil {
		return LoadResult{}, err
	}

	type outcome struct {
		snap    domain.Snapshot
		dropped int
		err     error
	}
	results := make([]outcome, len(objs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, o := range objs {
		i, o := i, o
		g.Go(func() error {
			snap, dropped, err := r.Load(gctx, o)
			results[i] = outcome{snap: snap, dropped: dropped, err: err}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return LoadResult{}, err
	}

	var res LoadResult
	for i, o := range results {
		if o.err != nil {
			log.Warn().Str("key", objs[i].Key).Err(o.err).Msg("skipping unreadable snapshot file")
			observability.ObserveSnapshotFile("skipped")
			res.Skipped = append(res.Skipped, SkippedFile{Key: objs[i].Key, Reason: o.err.Error()})
			continue
		}
		observability.ObserveSnapshotFile("loaded")
		res.Snapshots = append(res.Snapshots, o.snap)
		res.Dropped += o.dropped
	}
	observability.ObserveDropped("snapshot", res.Dropped)
	if res.Dropped > 0 {
		log.Warn().Int("rows", res.Dropped).Msg("dropped snapshot rows without unit_number or fetch_datetime")
	}
	if len(res.Snapshots) == 0 {
		return res, ErrNoData
	}
	log.Info().Int("files", len(res.Snapshots)).Int("skipped", len(res.Skipped)).Msg("snapshots loaded")
	return res, nil
}
