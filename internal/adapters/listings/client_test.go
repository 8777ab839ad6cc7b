package listings_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amarcin/village-units/internal/adapters/listings"
)

// pagedServer serves full pages 1..full of size n, then a final page of tail units.
func pagedServer(t *testing.T, full, n, tail int, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		count := 0
		switch {
		case page <= full:
			count = n
		case page == full+1:
			count = tail
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"units":[`)
		for i := 0; i < count; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"unit_number":"%d%02d","rent":%d,"property":{"name":"Ashton"},"building":"B1",`+
				`"floorplan":{"beds":1,"sqft":700,"media":[{"url":"https://img/%d"}]},"availability":"Available Now",`+
				`"amenities":["Balcony","Washer/Dryer"]}`, page, i, 1000+i, i)
		}
		fmt.Fprint(w, `]}`)
	}))
}

func newClient(t *testing.T, url string, opts listings.Options) *listings.Client {
	t.Helper()
	opts.RPS = 1000
	cl, err := listings.New(url, opts)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return cl
}

func TestFetchAllUnits_EmptyPageTermination(t *testing.T) {
	var hits int32
	ts := pagedServer(t, 3, 5, 0, &hits)
	defer ts.Close()

	cl := newClient(t, ts.URL, listings.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := cl.FetchAllUnits(ctx)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 15 {
		t.Fatalf("expected 15 units, got %d", len(got))
	}
	if atomic.LoadInt32(&hits) != 4 {
		t.Fatalf("expected 4 calls, got %d", hits)
	}
	// page order is preserved
	if got[0].UnitNumber != "100" || got[14].UnitNumber != "304" {
		t.Fatalf("unexpected order: first=%s last=%s", got[0].UnitNumber, got[14].UnitNumber)
	}
}

func TestFetchAllUnits_ShortPageTermination(t *testing.T) {
	var hits int32
	ts := pagedServer(t, 2, 4, 3, &hits)
	defer ts.Close()

	cl := newClient(t, ts.URL, listings.Options{PageSize: 4, Termination: listings.StopOnShort})
	got, err := cl.FetchAllUnits(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 11 {
		t.Fatalf("expected 11 units (2 full pages + short page), got %d", len(got))
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 calls, got %d", hits)
	}
}

func TestFetchAllUnits_ShortModeStopsOnEmptyToo(t *testing.T) {
	var hits int32
	ts := pagedServer(t, 2, 4, 0, &hits)
	defer ts.Close()

	cl := newClient(t, ts.URL, listings.Options{PageSize: 4, Termination: listings.StopOnShort})
	got, err := cl.FetchAllUnits(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 8 || atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 8 units over 3 calls, got %d over %d", len(got), hits)
	}
}

func TestFetchAllUnits_SendsLimit(t *testing.T) {
	var limit string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit = r.URL.Query().Get("limit")
		fmt.Fprint(w, `{"units":[]}`)
	}))
	defer ts.Close()

	cl := newClient(t, ts.URL, listings.Options{PageSize: 25})
	if _, err := cl.FetchAllUnits(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if limit != "25" {
		t.Fatalf("expected limit=25, got %q", limit)
	}
}

func TestFetchAllUnits_MapsFields(t *testing.T) {
	var hits int32
	ts := pagedServer(t, 1, 1, 0, &hits)
	defer ts.Close()

	chicago, _ := time.LoadLocation("America/Chicago")
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cl := newClient(t, ts.URL, listings.Options{Location: chicago, Now: func() time.Time { return fixed }})

	got, err := cl.FetchAllUnits(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	u := got[0]
	if u.PropertyName != "Ashton" || u.Building == nil || *u.Building != "B1" {
		t.Fatalf("unexpected property/building: %+v", u)
	}
	if u.Beds == nil || *u.Beds != 1 || u.Sqft == nil || *u.Sqft != 700 {
		t.Fatalf("unexpected floorplan fields: %+v", u)
	}
	if u.FloorplanMediaURL == nil || *u.FloorplanMediaURL != "https://img/0" {
		t.Fatalf("unexpected media url: %v", u.FloorplanMediaURL)
	}
	if !u.Rent.Valid || u.Rent.Decimal.IntPart() != 1000 {
		t.Fatalf("unexpected rent: %v", u.Rent)
	}
	if len(u.Amenities) != 2 || u.Amenities[0] != "Balcony" {
		t.Fatalf("unexpected amenities: %v", u.Amenities)
	}
	if !u.FetchDatetime.Equal(fixed) || u.FetchDatetime.Location() != chicago {
		t.Fatalf("unexpected fetch time: %v", u.FetchDatetime)
	}
}

func TestFetchAllUnits_MissingFloorplanYieldsNulls(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `{"units":[{"unit_number":"101","rent":"$1,250","building":null},{"unit_number":"102","floorplan":{"media":[]}}]}`)
			return
		}
		fmt.Fprint(w, `{"units":[]}`)
	}))
	defer ts.Close()

	cl := newClient(t, ts.URL, listings.Options{})
	got, err := cl.FetchAllUnits(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 units, got %d", len(got))
	}
	for _, u := range got {
		if u.Beds != nil || u.Sqft != nil || u.FloorplanMediaURL != nil {
			t.Fatalf("expected null floorplan fields, got %+v", u)
		}
		if u.Building != nil || u.PropertyName != "" {
			t.Fatalf("expected empty property/building, got %+v", u)
		}
	}
	if !got[0].Rent.Valid || got[0].Rent.Decimal.IntPart() != 1250 {
		t.Fatalf("unexpected rent: %v", got[0].Rent)
	}
	if got[1].Rent.Valid {
		t.Fatalf("expected null rent, got %v", got[1].Rent)
	}
}

func TestFetchAllUnits_DropsListingsWithoutUnitNumber(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `{"units":[{"rent":900},{"unit_number":"7","rent":950}]}`)
			return
		}
		fmt.Fprint(w, `{"units":[]}`)
	}))
	defer ts.Close()

	got, err := newClient(t, ts.URL, listings.Options{}).FetchAllUnits(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 1 || got[0].UnitNumber != "7" {
		t.Fatalf("expected only unit 7, got %+v", got)
	}
}

func TestFetchAllUnits_BadStatusIsFatal(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			fmt.Fprint(w, `{"units":[{"unit_number":"1"}]}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	got, err := newClient(t, ts.URL, listings.Options{}).FetchAllUnits(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if got != nil {
		t.Fatalf("expected no partial data, got %d units", len(got))
	}
	var se *listings.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway || se.Page != 2 {
		t.Fatalf("expected StatusError for page 2, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected no retries, got %d calls", hits)
	}
}

func TestFetchAllUnits_NetworkErrorIsFatal(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newClient(t, url, listings.Options{Timeout: time.Second}).FetchAllUnits(context.Background())
	if err == nil {
		t.Fatalf("expected network error")
	}
}

func TestNew_ShortNeedsPageSize(t *testing.T) {
	if _, err := listings.New("http://x", listings.Options{Termination: listings.StopOnShort}); err == nil {
		t.Fatalf("expected error for short termination without page size")
	}
	if _, err := listings.New("", listings.Options{}); !errors.Is(err, listings.ErrMissingEndpoint) {
		t.Fatalf("expected ErrMissingEndpoint, got %v", err)
	}
}

func TestFetchAllUnits_OnePassOneFetchTime(t *testing.T) {
	var hits int32
	ts := pagedServer(t, 2, 5, 0, &hits)
	defer ts.Close()

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cl := newClient(t, ts.URL, listings.Options{Now: func() time.Time {
		clock = clock.Add(300 * time.Millisecond)
		return clock
	}})
	got, err := cl.FetchAllUnits(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 units, got %d", len(got))
	}
	for _, r := range got {
		if !r.FetchDatetime.Equal(got[0].FetchDatetime) {
			t.Fatalf("unit %s stamped %v, pass stamped %v", r.UnitNumber, r.FetchDatetime, got[0].FetchDatetime)
		}
	}
}
