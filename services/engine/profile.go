package engine

import (
	"math"
	"sort"
)

const (
	tickSize       = 0.25
	ticksPerPoint  = 4
	valueAreaShare = 0.70
)

func priceToTick(p float64) int { return int(math.Floor(p * ticksPerPoint)) }

func tickToPrice(t int) float64 { return float64(t) / ticksPerPoint }

// Profile is a time-price-opportunity profile: visitation counts per tick
type Profile struct {
	POC   float64
	HVA   float64
	LVA   float64
	Total int
}

// tickCounts counts, for each tick, how many bars ranged over it
func tickCounts(bars []Bar) map[int]int {
	counts := make(map[int]int)
	for _, b := range bars {
		for t := priceToTick(b.Low); t <= priceToTick(b.High); t++ {
			counts[t]++
		}
	}
	return counts
}

func sortedTicks[V any](m map[int]V) []int {
	ticks := make([]int, 0, len(m))
	for t := range m {
		ticks = append(ticks, t)
	}
	sort.Ints(ticks)
	return ticks
}

// BuildProfile computes POC and the 70% value area of bars
func BuildProfile(bars []Bar) (Profile, bool) {
	counts := tickCounts(bars)
	if len(counts) == 0 {
		return Profile{}, false
	}
	ticks := sortedTicks(counts)

	total, maxCount, pocIdx := 0, -1, 0
	for i, t := range ticks {
		c := counts[t]
		total += c
		if c > maxCount {
			maxCount, pocIdx = c, i
		}
	}

	target := float64(total) * valueAreaShare
	current := maxCount
	up, dn := pocIdx+1, pocIdx-1
	for float64(current) < target {
		upVol, dnVol := 0, 0
		if up < len(ticks) {
			upVol = counts[ticks[up]]
		}
		if dn >= 0 {
			dnVol = counts[ticks[dn]]
		}
		if upVol == 0 && dnVol == 0 {
			break
		}
		if upVol >= dnVol {
			current += upVol
			up++
			if dnVol > 0 && float64(current) < target {
				current += dnVol
				dn--
			}
		} else {
			current += dnVol
			dn--
		}
	}

	return Profile{
		POC:   tickToPrice(ticks[pocIdx]),
		HVA:   tickToPrice(ticks[min(up-1, len(ticks)-1)]),
		LVA:   tickToPrice(ticks[max(dn+1, 0)]),
		Total: total,
	}, true
}
