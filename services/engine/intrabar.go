package engine

import "time"

// Bar represents a single OHLC bar with an optional volume-weighted price
type Bar struct {
	Time    time.Time `json:"time"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	VWAP    float64   `json:"vwap,omitempty"`
	HasVWAP bool      `json:"has_vwap,omitempty"`
}

// BuildSyntheticPath returns ordered price touches for a bar.
// Up (or flat) candles are assumed to visit the low before the high, down candles the high first.
// OHLC data carries no tick order, so this is a policy rather than a reconstruction.
func BuildSyntheticPath(bar Bar) [4]float64 {
	if bar.Close >= bar.Open {
		return [4]float64{bar.Open, bar.Low, bar.High, bar.Close}
	}
	return [4]float64{bar.Open, bar.High, bar.Low, bar.Close}
}

// FirstTouchResult indicates which protective level a segment hit first
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTP
	TouchSL
)

// ResolveFirstTouchLong resolves a long position against the path segment from -> to.
// A segment starting beyond stop or target fills at the start price; otherwise the stop wins
// whenever both lie inside the segment range.
func ResolveFirstTouchLong(from, to, tp, sl float64) (FirstTouchResult, float64) {
	if from <= sl {
		return TouchSL, from
	}
	if from >= tp {
		return TouchTP, from
	}
	return resolveInRange(from, to, tp, sl)
}

// ResolveFirstTouchShort mirrors the long logic for shorts
func ResolveFirstTouchShort(from, to, tp, sl float64) (FirstTouchResult, float64) {
	if from >= sl {
		return TouchSL, from
	}
	if from <= tp {
		return TouchTP, from
	}
	return resolveInRange(from, to, tp, sl)
}

func resolveInRange(from, to, tp, sl float64) (FirstTouchResult, float64) {
	lo, hi := segmentRange(from, to)
	if sl >= lo && sl <= hi {
		return TouchSL, sl
	}
	if tp >= lo && tp <= hi {
		return TouchTP, tp
	}
	return TouchNone, 0
}

func segmentRange(from, to float64) (lo, hi float64) {
	if from < to {
		return from, to
	}
	return to, from
}

// crossesUp reports whether a move from -> to crosses line from strictly below
func crossesUp(from, to, line float64) bool {
	return from < line && to >= line
}

// crossesDown reports whether a move from -> to crosses line from strictly above
func crossesDown(from, to, line float64) bool {
	return from > line && to <= line
}
