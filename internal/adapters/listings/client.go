package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/amarcin/village-units/internal/adapters/observability"
	"github.com/amarcin/village-units/internal/domain"
)

// Termination selects the signal that ends pagination.
type Termination string

const (
	// StopOnEmpty stops at the first page with no units.
	StopOnEmpty Termination = "empty"
	// StopOnShort stops at the first page holding fewer units than the page
	// size. An empty page is also short, so whichever arrives first wins.
	StopOnShort Termination = "short"
)

func ParseTermination(s string) (Termination, error) {
	switch Termination(strings.ToLower(strings.TrimSpace(s))) {
	case "", StopOnEmpty:
		return StopOnEmpty, nil
	case StopOnShort:
		return StopOnShort, nil
	}
	return "", fmt.Errorf("listings: unknown termination %q", s)
}

// StatusError is returned when any page answers with a non-200 status.
type StatusError struct {
	Page   int
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("listings: page %d: bad status %d: %s", e.Page, e.Status, e.Body)
}

var ErrMissingEndpoint = errors.New("listings: endpoint is required")

type Options struct {
	PageSize    int
	Termination Termination
	RPS         int
	Timeout     time.Duration
	Location    *time.Location
	HTTPClient  *http.Client
	Now         func() time.Time
}

type Client struct {
	endpoint string
	hc       *http.Client
	rl       *rate.Limiter
	pageSize int
	term     Termination
	loc      *time.Location
	now      func() time.Time
}

func New(endpoint string, opts Options) (*Client, error) {
	if endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("listings: bad endpoint: %w", err)
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Termination == "" {
		opts.Termination = StopOnEmpty
	}
	if opts.Termination == StopOnShort && opts.PageSize <= 0 {
		return nil, fmt.Errorf("listings: short-page termination needs a page size")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint: endpoint,
		hc:       hc,
		rl:       rate.NewLimiter(rate.Limit(opts.RPS), opts.RPS),
		pageSize: opts.PageSize,
		term:     opts.Termination,
		loc:      opts.Location,
		now:      opts.Now,
	}, nil
}

// FetchAllUnits walks pages 1..n until the termination signal. Any failed
// page aborts the pass; no partial result is returned alongside an error.
// Every record of a pass carries the same fetch time, taken once the last
// page has arrived.
func (c *Client) FetchAllUnits(ctx context.Context) ([]domain.UnitRecord, error) {
	var listings []listingDTO
	pages := 0
	for page := 1; ; page++ {
		units, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		listings = append(listings, units...)
		if c.done(len(units)) {
			pages = page
			break
		}
	}

	fetchedAt := c.now().In(c.loc)
	out := make([]domain.UnitRecord, 0, len(listings))
	dropped := 0
	for _, u := range listings {
		rec := u.toRecord(fetchedAt)
		if !rec.Valid() {
			dropped++
			log.Debug().Str("property", rec.PropertyName).Msg("listing without unit_number dropped")
			continue
		}
		out = append(out, rec)
	}
	log.Info().Int("pages", pages).Int("units", len(out)).Int("dropped", dropped).Msg("listings fetched")
	return out, nil
}

func (c *Client) done(n int) bool {
	if n == 0 {
		return true
	}
	return c.term == StopOnShort && n < c.pageSize
}

func (c *Client) pageURL(page int) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	if c.pageSize > 0 {
		q.Set("limit", strconv.Itoa(c.pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]listingDTO, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	u, err := c.pageURL(page)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "village-units/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("listings", "units", 0, time.Since(start))
		return nil, fmt.Errorf("listings: page %d: %w", page, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("listings", "units", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Page: page, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var body pageDTO
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("listings: page %d: decode: %w", page, err)
	}
	return body.Units, nil
}
