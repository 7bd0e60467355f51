package engine

// Session calendar: calendar days, regular trading hours and the night window

import (
	"sort"
	"time"
)

const (
	rthOpenMinute         = 9*60 + 30
	rthCloseMinute        = 17 * 60
	openingRangeEndMinute = 10 * 60
	entryCutoffMinute     = 16 * 60
	forcedExitMinute      = 16*60 + 55

	dateLayout = "2006-01-02"
)

// MinuteOfDay returns the wall-clock minute of t in its own location
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// IsRTH reports whether t falls in the regular session [09:30, 17:00)
func IsRTH(t time.Time) bool {
	m := MinuteOfDay(t)
	return m >= rthOpenMinute && m < rthCloseMinute
}

// SessionDay holds the bars of one calendar date
type SessionDay struct {
	Date string
	Bars []Bar
	RTH  []Bar
}

// SplitSessions groups an ascending feed by calendar date.
// Bar times must already be expressed in the session location.
func SplitSessions(bars []Bar) []SessionDay {
	var days []SessionDay
	for _, b := range bars {
		date := b.Time.Format(dateLayout)
		if len(days) == 0 || days[len(days)-1].Date != date {
			days = append(days, SessionDay{Date: date})
		}
		day := &days[len(days)-1]
		day.Bars = append(day.Bars, b)
		if IsRTH(b.Time) {
			day.RTH = append(day.RTH, b)
		}
	}
	return days
}

// NightBars returns the feed bars strictly between after and before
func NightBars(feed []Bar, after, before time.Time) []Bar {
	start := sort.Search(len(feed), func(i int) bool { return feed[i].Time.After(after) })
	end := sort.Search(len(feed), func(i int) bool { return !feed[i].Time.Before(before) })
	if start >= end {
		return nil
	}
	return feed[start:end]
}

// openingRange returns the high/low of the 09:30-10:00 bars
func openingRange(rth []Bar) (high, low float64, ok bool) {
	for _, b := range rth {
		m := MinuteOfDay(b.Time)
		if m < rthOpenMinute || m >= openingRangeEndMinute {
			continue
		}
		if !ok {
			high, low, ok = b.High, b.Low, true
			continue
		}
		high = max(high, b.High)
		low = min(low, b.Low)
	}
	return high, low, ok
}

// sessionRange returns the high/low over bars; bars must be non-empty
func sessionRange(bars []Bar) (high, low float64) {
	high, low = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		high = max(high, b.High)
		low = min(low, b.Low)
	}
	return high, low
}

func localize(bars []Bar, loc *time.Location) []Bar {
	out := make([]Bar, len(bars))
	for i, b := range bars {
		b.Time = b.Time.In(loc)
		out[i] = b
	}
	return out
}
