package scheduling

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExpandSeries_Weekly(t *testing.T) {
	occ := ExpandSeries(day(2025, time.January, 6), "10:00", FrequencyWeekly, 4)
	if len(occ) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(occ))
	}

	want := []time.Time{
		day(2025, time.January, 6),
		day(2025, time.January, 13),
		day(2025, time.January, 20),
		day(2025, time.January, 27),
	}
	for i, w := range want {
		if !occ[i].Date.Equal(w) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, w.Format("2006-01-02"), occ[i].Date.Format("2006-01-02"))
		}
		if occ[i].TimeOfDay != "10:00" {
			t.Fatalf("occurrence %d: expected time 10:00, got %s", i, occ[i].TimeOfDay)
		}
	}
}

func TestExpandSeries_Biweekly(t *testing.T) {
	occ := ExpandSeries(day(2025, time.January, 6), "09:00", FrequencyBiweekly, 3)
	if len(occ) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occ))
	}
	if !occ[1].Date.Equal(day(2025, time.January, 20)) {
		t.Fatalf("expected second occurrence 2025-01-20, got %s", occ[1].Date.Format("2006-01-02"))
	}
	if !occ[2].Date.Equal(day(2025, time.February, 3)) {
		t.Fatalf("expected third occurrence 2025-02-03, got %s", occ[2].Date.Format("2006-01-02"))
	}
}

func TestExpandSeries_MonthlyRealignsWeekday(t *testing.T) {
	// Base is a Monday. Every later occurrence must land on a Monday too.
	occ := ExpandSeries(day(2025, time.January, 6), "14:00", FrequencyMonthly, 4)
	if len(occ) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(occ))
	}

	want := []time.Time{
		day(2025, time.January, 6),
		day(2025, time.February, 3),
		day(2025, time.March, 3),
		// March 3 + 1 month is a Thursday; realigning back 3 days lands on
		// the last Monday of March.
		day(2025, time.March, 31),
	}
	for i, w := range want {
		if !occ[i].Date.Equal(w) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, w.Format("2006-01-02"), occ[i].Date.Format("2006-01-02"))
		}
		if occ[i].Date.Weekday() != time.Monday {
			t.Fatalf("occurrence %d: expected a Monday, got %s", i, occ[i].Date.Weekday())
		}
	}
}

func TestExpandSeries_Yearly(t *testing.T) {
	occ := ExpandSeries(day(2025, time.January, 6), "11:00", FrequencyYearly, 2)
	if len(occ) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(occ))
	}
	// 2026-01-06 is a Tuesday; the step realigns one day back to Monday.
	if !occ[1].Date.Equal(day(2026, time.January, 5)) {
		t.Fatalf("expected 2026-01-05, got %s", occ[1].Date.Format("2006-01-02"))
	}
}

func TestExpandSeries_NonPositiveCount(t *testing.T) {
	if occ := ExpandSeries(day(2025, time.January, 6), "10:00", FrequencyWeekly, 0); occ != nil {
		t.Fatalf("expected nil for count 0, got %d occurrences", len(occ))
	}
	if occ := ExpandSeries(day(2025, time.January, 6), "10:00", FrequencyWeekly, -3); occ != nil {
		t.Fatalf("expected nil for negative count, got %d occurrences", len(occ))
	}
}

func TestRealignWeekday_ForwardCrossFallsBack(t *testing.T) {
	// 2025-04-29 is a Tuesday; moving forward 3 days to Friday would cross
	// into May, so the occurrence falls back a week instead.
	got := realignWeekday(day(2025, time.April, 29), time.Friday)
	if !got.Equal(day(2025, time.April, 25)) {
		t.Fatalf("expected 2025-04-25, got %s", got.Format("2006-01-02"))
	}
	if got.Weekday() != time.Friday {
		t.Fatalf("expected a Friday, got %s", got.Weekday())
	}
}

func TestRealignWeekday_NoShiftOnMatch(t *testing.T) {
	d := day(2025, time.March, 3) // Monday
	if got := realignWeekday(d, time.Monday); !got.Equal(d) {
		t.Fatalf("expected date unchanged, got %s", got.Format("2006-01-02"))
	}
}
