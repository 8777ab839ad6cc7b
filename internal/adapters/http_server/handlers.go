package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/amarcin/village-units/internal/adapters/identity"
	"github.com/amarcin/village-units/internal/adapters/listings"
	"github.com/amarcin/village-units/internal/app"
	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/query"
	"github.com/amarcin/village-units/internal/reconcile"
	"github.com/amarcin/village-units/internal/snapshot"
)

type Handlers struct {
	Live    *app.LiveService
	History *app.HistoryService
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// MountHandlers registers the API. protect wraps the history routes; pass
// nil when login is disabled.
func (s *Server) MountHandlers(h *Handlers, protect func(http.Handler) http.Handler) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/live/units", h.liveUnits)

	s.mux.Group(func(r chi.Router) {
		if protect != nil {
			r.Use(protect)
		}
		r.Get("/v1/history/units", h.historyUnits)
		r.Get("/v1/history/options", h.historyOptions)
		r.Get("/v1/history/price-changes", h.priceChanges)
		r.Get("/v1/history/rent-history", h.rentHistory)
		r.Post("/v1/history/refresh", h.refreshHistory)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps service errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *listings.StatusError
	switch {
	case errors.Is(err, snapshot.ErrNoData):
		writeProblem(w, http.StatusNotFound, "No Data", "no historical data could be loaded")
	case errors.Is(err, identity.ErrUnauthenticated):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "login required")
	case errors.As(err, &se):
		writeProblem(w, http.StatusBadGateway, "Upstream Error", se.Error())
	case r.Context().Err() != nil:
		writeProblem(w, http.StatusGatewayTimeout, "Timeout", err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeProblem(w, http.StatusBadGateway, "Upstream Error", err.Error())
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not encode response")
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

func flag(q url.Values, k string) bool {
	b, _ := strconv.ParseBool(q.Get(k))
	return b
}

func (h *Handlers) liveUnits(w http.ResponseWriter, r *http.Request) {
	out, err := h.Live.Units(r.Context(), flag(r.URL.Query(), "refresh"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, out)
}

// parseCriteria reads filter predicates from the query string. Empty values
// are treated as absent.
func parseCriteria(q url.Values) (query.Criteria, error) {
	var c query.Criteria
	str := func(k string) *string {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return &v
		}
		return nil
	}
	num := func(k string) (*int, error) {
		v := str(k)
		if v == nil {
			return nil, nil
		}
		n, err := strconv.Atoi(*v)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", k)
		}
		return &n, nil
	}
	money := func(k string) (*decimal.Decimal, error) {
		v := str(k)
		if v == nil {
			return nil, nil
		}
		d, err := decimal.NewFromString(*v)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number", k)
		}
		return &d, nil
	}

	var err error
	c.Property = str("property")
	c.UnitNumber = str("unit")
	if c.Beds, err = num("beds"); err != nil {
		return c, err
	}
	if c.SqftMin, err = num("sqft_min"); err != nil {
		return c, err
	}
	if c.SqftMax, err = num("sqft_max"); err != nil {
		return c, err
	}
	if c.RentMin, err = money("rent_min"); err != nil {
		return c, err
	}
	if c.RentMax, err = money("rent_max"); err != nil {
		return c, err
	}
	if a := str("amenities"); a != nil {
		c.Amenities = domain.NormalizeAmenities(strings.Split(*a, ","))
	}
	c.IncludeDelisted = flag(q, "include_delisted")
	return c, nil
}

func (h *Handlers) historyUnits(w http.ResponseWriter, r *http.Request) {
	c, err := parseCriteria(r.URL.Query())
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
		return
	}
	out, err := h.History.Units(r.Context(), c, flag(r.URL.Query(), "history"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, out)
}

func (h *Handlers) historyOptions(w http.ResponseWriter, r *http.Request) {
	out, err := h.History.Options(r.Context(), flag(r.URL.Query(), "include_delisted"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, out)
}

func (h *Handlers) priceChanges(w http.ResponseWriter, r *http.Request) {
	out, err := h.History.PriceChanges(r.Context(), strings.TrimSpace(r.URL.Query().Get("property")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, out)
}

func (h *Handlers) rentHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("window")
	if raw == "" {
		raw = "3mo"
	}
	win, err := reconcile.ParseWindow(raw)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Window", "window must be one of 1mo, 3mo, 6mo, 1yr, Nd, Nw or max")
		return
	}

	scope := reconcile.Scope{Property: strings.TrimSpace(q.Get("property"))}
	if unit := strings.TrimSpace(q.Get("unit")); unit != "" {
		if scope.Property == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid Scope", "unit requires property")
			return
		}
		scope.Unit = &domain.UnitKey{PropertyName: scope.Property, Building: strings.TrimSpace(q.Get("building")), UnitNumber: unit}
	}

	series, err := h.History.RentHistory(r.Context(), scope, win)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, map[string]any{"window": win.String(), "series": series})
}

func (h *Handlers) refreshHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.History.Invalidate(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
