package grid

import "time"

// ValidTime returns the month a lead refers to: start + (lead-1) months.
// Days past the end of the target month are clamped, so 31 October + 1 lead
// is 30 November.
func ValidTime(start time.Time, lead int) time.Time {
	first := time.Date(start.Year(), start.Month()+time.Month(lead-1), 1,
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
	day := start.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// ValidTimes computes the valid date of every (start, lead) pair of the field.
func (f *EnsembleField) ValidTimes() [][]time.Time {
	out := make([][]time.Time, len(f.StartDates))
	for s, start := range f.StartDates {
		row := make([]time.Time, len(f.Leads))
		for l, lead := range f.Leads {
			row[l] = ValidTime(start, lead)
		}
		out[s] = row
	}
	return out
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
