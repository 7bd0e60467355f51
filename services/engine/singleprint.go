package engine

import "time"

const (
	singlePrintBucket   = 30 * time.Minute
	minSinglePrintTicks = 8
)

// SinglePrintZone is a contiguous tick band visited by exactly one 30-minute bucket
type SinglePrintZone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

var singlePrintOverrides = LevelOverrides{EntryOffset: 5, StopDistance: 10, TargetDistance: 50}

// DetectSinglePrints buckets bars into 30-minute periods from the first bar and returns the
// clusters of at least eight consecutive ticks touched by a single period
func DetectSinglePrints(bars []Bar) []SinglePrintZone {
	if len(bars) == 0 {
		return nil
	}

	// tick -> first bucket seen, or -1 once a second bucket touches it
	buckets := make(map[int]int)
	start := bars[0].Time
	for _, b := range bars {
		idx := int(b.Time.Sub(start) / singlePrintBucket)
		for t := priceToTick(b.Low); t <= priceToTick(b.High); t++ {
			seen, ok := buckets[t]
			switch {
			case !ok:
				buckets[t] = idx
			case seen != idx:
				buckets[t] = -1
			}
		}
	}

	var singles []int
	for _, t := range sortedTicks(buckets) {
		if buckets[t] >= 0 {
			singles = append(singles, t)
		}
	}
	if len(singles) == 0 {
		return nil
	}

	var zones []SinglePrintZone
	first, last := singles[0], singles[0]
	flush := func() {
		if last-first+1 >= minSinglePrintTicks {
			zones = append(zones, SinglePrintZone{Low: tickToPrice(first), High: tickToPrice(last)})
		}
	}
	for _, t := range singles[1:] {
		if t == last+1 {
			last = t
			continue
		}
		flush()
		first, last = t, t
	}
	flush()
	return zones
}

// Levels returns the fade levels of a zone: its top fades long, its bottom fades short
func (z SinglePrintZone) Levels() []*Level {
	top := newLevel(TagSinglePrint, z.High, DirectionLong)
	bottom := newLevel(TagSinglePrint, z.Low, DirectionShort)
	top.Overrides = cloneOverrides(singlePrintOverrides)
	bottom.Overrides = cloneOverrides(singlePrintOverrides)
	return []*Level{top, bottom}
}

// SinglePrintRepository carries the zones of one session into the next session only
type SinglePrintRepository struct {
	zones []SinglePrintZone
}

// Replace discards the carried zones and seeds the next session with zones
func (r *SinglePrintRepository) Replace(zones []SinglePrintZone) {
	r.zones = append([]SinglePrintZone(nil), zones...)
}

// Zones returns the zones carried from the previous session
func (r *SinglePrintRepository) Zones() []SinglePrintZone {
	return r.zones
}

func (r *SinglePrintRepository) reset() { r.zones = nil }
