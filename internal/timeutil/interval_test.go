package timeutil

import (
	"errors"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want Interval
	}{
		{"1d", Interval{Days: 1}},
		{"2H30M", Interval{Hours: 2, Minutes: 30}},
		{"1y6m", Interval{Years: 1, Months: 6}},
		{"45S", Interval{Seconds: 45}},
		{" 1d ", Interval{Days: 1}},
		{"1H1H2H", Interval{Hours: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseInterval_Bad(t *testing.T) {
	for _, in := range []string{"", "day", "1x", "1d junk", "2H 30X", "junk1d", "1d2"} {
		if _, err := ParseInterval(in); !errors.Is(err, ErrBadInterval) {
			t.Errorf("ParseInterval(%q): got %v, want ErrBadInterval", in, err)
		}
	}
}

func TestAddSub(t *testing.T) {
	base := MustParse("2024-01-31 23:00:00")

	if got := Format(MustParseInterval("2H").AddTo(base)); got != "2024-02-01 01:00:00" {
		t.Errorf("got %s, want 2024-02-01 01:00:00", got)
	}
	// Month arithmetic clamps to the end of February.
	if got := Format(MustParseInterval("1m").AddTo(base)); got != "2024-02-29 23:00:00" {
		t.Errorf("got %s, want 2024-02-29 23:00:00", got)
	}
	if got := Format(MustParseInterval("1y").SubFrom(MustParse("2024-02-29 00:00:00"))); got != "2023-02-28 00:00:00" {
		t.Errorf("got %s, want 2023-02-28 00:00:00", got)
	}
	if got := Format(MustParseInterval("1d").SubFrom(MustParse("2024-03-01 00:00:00"))); got != "2024-02-29 00:00:00" {
		t.Errorf("got %s, want 2024-02-29 00:00:00", got)
	}
}

func TestIntervalString(t *testing.T) {
	if got := MustParseInterval("2H30M").String(); got != "2H30M" {
		t.Errorf("got %s, want 2H30M", got)
	}
	if got := (Interval{}).String(); got != "0S" {
		t.Errorf("got %s, want 0S", got)
	}
}

func TestBuckets(t *testing.T) {
	begin := MustParse("2024-01-01 00:00:00")
	end := MustParse("2024-01-03 12:00:00")
	b := Buckets(begin, end, MustParseInterval("1d"))
	if len(b) != 3 {
		t.Fatalf("got %d buckets, want 3", len(b))
	}
	if !b[2][1].Equal(MustParse("2024-01-04 00:00:00")) {
		t.Errorf("last bucket end %s, want 2024-01-04 00:00:00", Format(b[2][1]))
	}
	if Buckets(begin, end, Interval{}) != nil {
		t.Error("zero interval should yield no buckets")
	}
}

func TestIsMidnight(t *testing.T) {
	if !IsMidnight(MustParse("2024-05-05 00:00:00")) {
		t.Error("expected midnight")
	}
	if IsMidnight(MustParse("2024-05-05 00:00:01")) {
		t.Error("unexpected midnight")
	}
	if IsMidnight(time.Date(2024, 5, 5, 0, 0, 0, 1, time.UTC)) {
		t.Error("nanoseconds should not count as midnight")
	}
}
