package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/amarcin/village-units/internal/domain"
)

const liveKey = "live:units"

// LiveUnits is one complete fetch pass and the time it finished.
type LiveUnits struct {
	Units     []domain.UnitRecord `json:"units"`
	FetchedAt time.Time           `json:"fetched_at"`
	Cached    bool                `json:"cached"`
}

type LiveService struct {
	client domain.ListingClient
	cache  domain.Cache
	ttl    time.Duration
	loc    *time.Location
	now    func() time.Time
}

func NewLiveService(c domain.ListingClient, cache domain.Cache, ttl time.Duration, loc *time.Location) *LiveService {
	if loc == nil {
		loc = time.UTC
	}
	return &LiveService{client: c, cache: cache, ttl: ttl, loc: loc, now: time.Now}
}

// Units returns the cached pass when present, otherwise fetches. refresh
// drops the cached pass first. A failed fetch is returned as is and never
// cached.
func (s *LiveService) Units(ctx context.Context, refresh bool) (LiveUnits, error) {
	if refresh {
		s.Invalidate(ctx)
	} else if s.cache != nil {
		var out LiveUnits
		ok, err := s.cache.Get(ctx, liveKey, &out)
		if err != nil {
			log.Warn().Err(err).Str("key", liveKey).Msg("live cache read failed")
		}
		if ok {
			out.Cached = true
			out.FetchedAt = out.FetchedAt.In(s.loc)
			return out, nil
		}
	}

	units, err := s.client.FetchAllUnits(ctx)
	if err != nil {
		return LiveUnits{}, err
	}
	out := LiveUnits{Units: units, FetchedAt: s.now().In(s.loc)}
	if s.cache != nil {
		if err := s.cache.Set(ctx, liveKey, out, s.ttl); err != nil {
			log.Warn().Err(err).Str("key", liveKey).Msg("live cache write failed")
		}
	}
	log.Info().Int("units", len(units)).Msg("live units fetched")
	return out, nil
}

func (s *LiveService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, liveKey); err != nil {
		log.Warn().Err(err).Str("key", liveKey).Msg("live cache delete failed")
	}
}
