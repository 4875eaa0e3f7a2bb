package timeutil

import (
	"fmt"
	"time"
)

// Format renders t in Layout.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Parse reads a Layout timestamp in UTC.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) time.Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// IsMidnight reports whether t falls exactly on a day boundary.
func IsMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

// Buckets slices [begin, end) into consecutive interval windows. The last
// window may extend past end, matching how history replay walks time.
func Buckets(begin, end time.Time, iv Interval) [][2]time.Time {
	if iv.IsZero() {
		return nil
	}
	var out [][2]time.Time
	for t := begin; t.Before(end); {
		next := iv.AddTo(t)
		out = append(out, [2]time.Time{t, next})
		t = next
	}
	return out
}
