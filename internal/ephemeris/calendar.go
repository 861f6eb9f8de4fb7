package ephemeris

import (
	"fmt"
	"math"
)

// FormatUTC renders a POSIX timestamp as an ISO-8601 UTC calendar string
// without consulting the system calendar. Years follow the proleptic
// Gregorian calendar, so timestamps before 1970 work as well. A fractional
// part, when present, is appended with microsecond precision (truncated).
func FormatUTC(ts float64) string {
	whole := math.Floor(ts)
	frac := ts - whole
	secs := int64(whole)

	days := floorDiv(secs, 86400)
	sod := secs - days*86400
	year, month, day := civilFromDays(days)

	out := fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d",
		year, month, day, sod/3600, (sod/60)%60, sod%60)
	if frac > 0 {
		out += fmt.Sprintf(".%06d", int64(frac*1e6))
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isLeap(year int64) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

var daysInMonth = [12]int64{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// civilFromDays converts days since 1970-01-01 into a calendar date by
// walking whole years, then months.
func civilFromDays(days int64) (int64, int64, int64) {
	year := int64(1970)
	// Jump whole 400-year cycles (146097 days) first.
	cycles := floorDiv(days, 146097)
	year += cycles * 400
	days -= cycles * 146097

	for {
		n := int64(365)
		if isLeap(year) {
			n = 366
		}
		if days < n {
			break
		}
		days -= n
		year++
	}

	month := int64(1)
	for m := 0; m < 12; m++ {
		n := daysInMonth[m]
		if m == 1 && isLeap(year) {
			n++
		}
		if days < n {
			break
		}
		days -= n
		month++
	}
	return year, month, days + 1
}
