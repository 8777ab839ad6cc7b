package reconcile

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/amarcin/village-units/internal/domain"
)

var ErrInvalidWindow = errors.New("reconcile: invalid time window")

// Window is a look-back span. Calendar units are kept apart so that
// "1mo" means one calendar month back, not thirty days.
type Window struct {
	Max    bool
	Years  int
	Months int
	Days   int
}

var windowRe = regexp.MustCompile(`^(\d+)(d|w|mo|m|y|yr)$`)

// ParseWindow accepts max, Nd, Nw, Nmo and Nyr (case-insensitive), e.g. 3mo or 1yr.
func ParseWindow(s string) (Window, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "max" {
		return Window{Max: true}, nil
	}
	m := windowRe.FindStringSubmatch(s)
	if m == nil {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	switch m[2] {
	case "d":
		return Window{Days: n}, nil
	case "w":
		return Window{Days: 7 * n}, nil
	case "mo", "m":
		return Window{Months: n}, nil
	default:
		return Window{Years: n}, nil
	}
}

func (w Window) String() string {
	switch {
	case w.Max:
		return "max"
	case w.Years > 0:
		return strconv.Itoa(w.Years) + "yr"
	case w.Months > 0:
		return strconv.Itoa(w.Months) + "mo"
	}
	return strconv.Itoa(w.Days) + "d"
}

// Start is the lower bound of the window ending at now.
func (w Window) Start(now time.Time) time.Time {
	return now.AddDate(-w.Years, -w.Months, -w.Days)
}

// Scope narrows a windowed view to one property and, optionally, one unit.
// Zero values mean no restriction. A unit without a building matches that
// unit number in any building of the property.
type Scope struct {
	Property string
	Unit     *domain.UnitKey
}

func (s Scope) includes(r domain.UnitRecord) bool {
	if u := s.Unit; u != nil {
		if u.Building == "" {
			return r.PropertyName == u.PropertyName && r.UnitNumber == u.UnitNumber
		}
		return r.Key() == *u
	}
	return s.Property == "" || r.PropertyName == s.Property
}

// TimeWindowed keeps the scoped observations inside [now-window, now], or
// inside the dataset's [min, max] fetch time for the max window. Bounds are
// inclusive.
func TimeWindowed(ds domain.Dataset, scope Scope, w Window, now time.Time) domain.Dataset {
	lo, hi := w.Start(now), now
	if w.Max {
		var ok bool
		if lo, hi, ok = ds.Bounds(); !ok {
			return ds
		}
	}
	return ds.Where(func(r domain.UnitRecord) bool {
		t := r.FetchDatetime
		return scope.includes(r) && !t.Before(lo) && !t.After(hi)
	})
}
