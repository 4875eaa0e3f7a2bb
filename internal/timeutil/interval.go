// Package timeutil parses compact interval tokens ("1d", "2H30M") and does
// calendar arithmetic with them. Timestamps use the fixed Layout format.
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the timestamp format used by datasets, checkpoints and logs.
const Layout = "2006-01-02 15:04:05"

// Bounds used when a history query has no explicit window.
var (
	MinTime = time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// ErrBadInterval is returned for strings that are not a run of magnitude/unit tokens.
var ErrBadInterval = errors.New("bad interval")

// Interval is a calendar interval. Years and months are applied with
// calendar semantics, the rest as fixed durations.
type Interval struct {
	Years   int
	Months  int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

var (
	tokenRe    = regexp.MustCompile(`(\d+)([ymdHMS])`)
	intervalRe = regexp.MustCompile(`^(?:\d+[ymdHMS])+$`)
)

// ParseInterval parses tokens like "1d", "2H30M" or "1y6m".
// Units: y years, m months, d days, H hours, M minutes, S seconds.
// A repeated unit overrides its earlier value.
func ParseInterval(s string) (Interval, error) {
	if !intervalRe.MatchString(strings.TrimSpace(s)) {
		return Interval{}, fmt.Errorf("%w: %q", ErrBadInterval, s)
	}
	matches := tokenRe.FindAllStringSubmatch(s, -1)
	var iv Interval
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Interval{}, fmt.Errorf("%w: %q: %v", ErrBadInterval, s, err)
		}
		switch m[2] {
		case "y":
			iv.Years = n
		case "m":
			iv.Months = n
		case "d":
			iv.Days = n
		case "H":
			iv.Hours = n
		case "M":
			iv.Minutes = n
		case "S":
			iv.Seconds = n
		}
	}
	return iv, nil
}

// MustParseInterval is ParseInterval for constants and tests.
func MustParseInterval(s string) Interval {
	iv, err := ParseInterval(s)
	if err != nil {
		panic(err)
	}
	return iv
}

func (iv Interval) clock() time.Duration {
	return time.Duration(iv.Days)*24*time.Hour +
		time.Duration(iv.Hours)*time.Hour +
		time.Duration(iv.Minutes)*time.Minute +
		time.Duration(iv.Seconds)*time.Second
}

// IsZero reports whether the interval is empty and so never advances time.
func (iv Interval) IsZero() bool {
	return iv == Interval{}
}

// AddTo returns t shifted forward by the interval. Month overflow is
// clamped to the last day of the target month.
func (iv Interval) AddTo(t time.Time) time.Time {
	return addMonths(t, iv.Years*12+iv.Months).Add(iv.clock())
}

// SubFrom returns t shifted backward by the interval.
func (iv Interval) SubFrom(t time.Time) time.Time {
	return addMonths(t, -(iv.Years*12 + iv.Months)).Add(-iv.clock())
}

// String renders the interval back in token form.
func (iv Interval) String() string {
	var b strings.Builder
	for _, p := range []struct {
		n    int
		unit string
	}{{iv.Years, "y"}, {iv.Months, "m"}, {iv.Days, "d"}, {iv.Hours, "H"}, {iv.Minutes, "M"}, {iv.Seconds, "S"}} {
		if p.n != 0 {
			b.WriteString(strconv.Itoa(p.n))
			b.WriteString(p.unit)
		}
	}
	if b.Len() == 0 {
		return "0S"
	}
	return b.String()
}

func addMonths(t time.Time, months int) time.Time {
	if months == 0 {
		return t
	}
	y, m, d := t.Date()
	total := int(m) - 1 + months
	ty := y + floorDiv(total, 12)
	tm := time.Month(total-floorDiv(total, 12)*12 + 1)
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
