package scheduling

import "time"

// Occurrence is one slot a recurring series will occupy.
type Occurrence struct {
	Date      time.Time
	TimeOfDay string
}

// ExpandSeries computes every slot of a recurring series. The first element is
// always the base slot itself; dates are strictly increasing in step order.
// No availability checking or deduplication happens here.
//
// Weekly and biweekly steps are plain 7/14 day jumps. Monthly and yearly steps
// add a calendar month/year and then realign to the base date's weekday: the
// occurrence is shifted by up to three days either way so it lands on the same
// weekday, and if that shift would push it into the following month it falls
// back a full week instead.
func ExpandSeries(baseDate time.Time, timeOfDay string, freq Frequency, count int) []Occurrence {
	if count <= 0 {
		return nil
	}

	base := Date(baseDate)
	out := make([]Occurrence, 0, count)
	out = append(out, Occurrence{Date: base, TimeOfDay: timeOfDay})

	prev := base
	for i := 1; i < count; i++ {
		var next time.Time
		switch freq {
		case FrequencyWeekly:
			next = prev.AddDate(0, 0, 7)
		case FrequencyBiweekly:
			next = prev.AddDate(0, 0, 14)
		case FrequencyMonthly:
			next = realignWeekday(prev.AddDate(0, 1, 0), base.Weekday())
		case FrequencyYearly:
			next = realignWeekday(prev.AddDate(1, 0, 0), base.Weekday())
		default:
			return nil
		}
		out = append(out, Occurrence{Date: next, TimeOfDay: timeOfDay})
		prev = next
	}

	return out
}

// realignWeekday moves d by at most three days so it falls on want. A forward
// shift that crosses into the next month falls back seven days instead, so a
// monthly occurrence never drifts out of its own month going forward.
func realignWeekday(d time.Time, want time.Weekday) time.Time {
	delta := int(want) - int(d.Weekday())
	if delta > 3 {
		delta -= 7
	} else if delta < -3 {
		delta += 7
	}
	if delta == 0 {
		return d
	}

	shifted := d.AddDate(0, 0, delta)
	if delta > 0 && shifted.Month() != d.Month() {
		return shifted.AddDate(0, 0, -7)
	}
	return shifted
}
