package engine

// Gap tracking between a session close and the next session open

// Gap is an unfilled discontinuity; it is filled once a later session trades at Target
type Gap struct {
	Origin    float64   `json:"origin"`
	Target    float64   `json:"target"`
	Direction Direction `json:"direction"`
	CreatedOn string    `json:"created_on"`
}

// DetectGap compares a session's first open with the previous close.
// A gap up fades long toward the close, a gap down fades short.
func DetectGap(prevClose, open float64, day string) (Gap, bool) {
	switch {
	case open > prevClose:
		return Gap{Origin: open, Target: prevClose, Direction: DirectionLong, CreatedOn: day}, true
	case open < prevClose:
		return Gap{Origin: open, Target: prevClose, Direction: DirectionShort, CreatedOn: day}, true
	}
	return Gap{}, false
}

// FilledBy reports whether a session range touched the gap target
func (g Gap) FilledBy(high, low float64) bool {
	if g.Direction == DirectionLong {
		return low <= g.Target
	}
	return high >= g.Target
}

// Level returns the fade level at the gap origin
func (g Gap) Level() *Level {
	return newLevel(TagGap, g.Origin, g.Direction)
}

// GapRepository persists unfilled gaps across sessions
type GapRepository struct {
	gaps []Gap
}

// DropFilled removes gaps touched by the range and returns them
func (r *GapRepository) DropFilled(high, low float64) []Gap {
	var filled []Gap
	kept := r.gaps[:0]
	for _, g := range r.gaps {
		if g.FilledBy(high, low) {
			filled = append(filled, g)
			continue
		}
		kept = append(kept, g)
	}
	r.gaps = kept
	return filled
}

// Add persists a gap
func (r *GapRepository) Add(g Gap) {
	r.gaps = append(r.gaps, g)
}

// Gaps returns the unfilled gaps in creation order
func (r *GapRepository) Gaps() []Gap {
	return r.gaps
}

func (r *GapRepository) reset() { r.gaps = nil }
