package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseDateTime accepts YYYY-MM-DD, YYYY/MM/DD, DD-MM-YYYY or DD/MM/YYYY dates
// and H:M, H:M:S or H:M:S.fff times, interpreted in loc
func ParseDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	parts := strings.FieldsFunc(date, func(r rune) bool { return r == '-' || r == '/' })
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("parse date %q: expected three fields", date)
	}
	ymd := [3]string{parts[0], parts[1], parts[2]}
	if len(parts[0]) != 4 {
		ymd = [3]string{parts[2], parts[1], parts[0]}
	}
	var nums [3]int
	for i, p := range ymd {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
		}
		nums[i] = n
	}
	year, month, day := nums[0], nums[1], nums[2]
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("parse date %q: out of range", date)
	}

	hms := strings.Split(clock, ":")
	if len(hms) < 2 || len(hms) > 3 {
		return time.Time{}, fmt.Errorf("parse time %q: expected H:M[:S]", clock)
	}
	hour, err := strconv.Atoi(hms[0])
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("parse time %q: bad hour", clock)
	}
	minute, err := strconv.Atoi(hms[1])
	if err != nil || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("parse time %q: bad minute", clock)
	}
	var sec, nsec int
	if len(hms) == 3 {
		s, err := strconv.ParseFloat(hms[2], 64)
		if err != nil || s < 0 || s >= 60 {
			return time.Time{}, fmt.Errorf("parse time %q: bad second", clock)
		}
		whole, frac := math.Modf(s)
		sec, nsec = int(whole), int(math.Round(frac*1e3))*int(time.Millisecond)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, nsec, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("parse date %q: no such day", date)
	}
	return t, nil
}

func parseEpochMillis(s string, loc *time.Location) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimPrefix(s, "\ufeff"), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).In(loc), nil
}
