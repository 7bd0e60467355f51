package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Direction is a trade side or, for levels, the side a level is faded from
type Direction int

const (
	DirectionBoth Direction = iota
	DirectionLong
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	default:
		return "BOTH"
	}
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "LONG":
		*d = DirectionLong
	case "SHORT":
		*d = DirectionShort
	case "BOTH":
		*d = DirectionBoth
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// LevelTag names the source of a level
type LevelTag string

const (
	TagPriorHigh   LevelTag = "P-HD"
	TagPriorLow    LevelTag = "P-LD"
	TagNightHigh   LevelTag = "HN"
	TagNightLow    LevelTag = "LN"
	TagValueHigh   LevelTag = "HVA"
	TagValueLow    LevelTag = "LVA"
	TagNightPOC    LevelTag = "nPOC"
	TagMonthPOC    LevelTag = "mPOC"
	TagGap         LevelTag = "GAP"
	TagSinglePrint LevelTag = "SP"
	TagDayHigh     LevelTag = "D-HD"
	TagDayLow      LevelTag = "D-LD"
	TagVWAP        LevelTag = "VWAP"
	TagRound       LevelTag = "Round"
)

// Reusable levels are locked after a stop-out and unlocked by distance reset
func (t LevelTag) Reusable() bool {
	switch t {
	case TagVWAP, TagNightPOC, TagMonthPOC, TagRound:
		return true
	}
	return false
}

// OneShot levels are burned for the rest of the day after a stop-out
func (t LevelTag) OneShot() bool {
	switch t {
	case TagPriorHigh, TagPriorLow, TagNightHigh, TagNightLow, TagSinglePrint:
		return true
	}
	return false
}

// LevelOverrides replace the configured entry offset, stop and target for one level
type LevelOverrides struct {
	EntryOffset    float64 `json:"entry_offset"`
	StopDistance   float64 `json:"stop_distance"`
	TargetDistance float64 `json:"target_distance"`
}

func cloneOverrides(o LevelOverrides) *LevelOverrides { return &o }

// Level is a candidate fade price
type Level struct {
	Tag       LevelTag        `json:"tag"`
	Price     float64         `json:"price"`
	Fade      Direction       `json:"fade"`
	Active    bool            `json:"active"`
	Locked    bool            `json:"locked"`
	Overrides *LevelOverrides `json:"overrides,omitempty"`
}

func newLevel(tag LevelTag, price float64, fade Direction) *Level {
	return &Level{Tag: tag, Price: price, Fade: fade, Active: true}
}

func (l *Level) entryOffset(def float64) float64 {
	if l.Overrides != nil {
		return l.Overrides.EntryOffset
	}
	return def
}

// SessionState is the state carried from one eligible session to the next
type SessionState struct {
	HasPrevious   bool
	PrevHigh      float64
	PrevLow       float64
	PrevClose     float64
	PrevCloseTime time.Time
}

// LevelGenerator builds the level set of a day from the night session and carried state
type LevelGenerator struct {
	cfg          *Config
	gaps         *GapRepository
	singlePrints *SinglePrintRepository
	events       *EventLog
	logger       *zap.Logger
}

// Generate returns the day's levels in emission order; gap state is updated in place
func (g *LevelGenerator) Generate(day string, night []Bar, state SessionState, at time.Time) []*Level {
	var levels []*Level

	if len(night) > 0 {
		nightHigh, nightLow := sessionRange(night)
		if g.cfg.Gaps {
			g.updateGaps(day, night, nightHigh, nightLow, state, at)
		}

		if profile, ok := BuildProfile(night); ok {
			g.logGlobexProfile(day, night, profile, state)
			if g.cfg.NightPOC {
				levels = append(levels, newLevel(TagNightPOC, profile.POC, DirectionBoth))
			}
			if g.cfg.NightHighLow {
				levels = append(levels,
					newLevel(TagNightHigh, nightHigh, DirectionShort),
					newLevel(TagNightLow, nightLow, DirectionLong))
			}
			if g.cfg.NightValueArea {
				levels = append(levels,
					newLevel(TagValueHigh, profile.HVA, DirectionShort),
					newLevel(TagValueLow, profile.LVA, DirectionLong))
			}
		}
	}

	if g.cfg.PriorDayLevels {
		levels = append(levels,
			newLevel(TagPriorHigh, state.PrevHigh, DirectionShort),
			newLevel(TagPriorLow, state.PrevLow, DirectionLong))
	}

	if g.cfg.SinglePrints {
		for _, z := range DetectSinglePrints(night) {
			levels = append(levels, z.Levels()...)
		}
		for _, z := range g.singlePrints.Zones() {
			levels = append(levels, z.Levels()...)
		}
	}

	if g.cfg.Gaps {
		for _, gap := range g.gaps.Gaps() {
			levels = append(levels, gap.Level())
		}
	}

	g.events.Append(Event{
		Time:    at,
		Type:    EventLevelsGenerated,
		Message: fmt.Sprintf("%d levels, %d night bars", len(levels), len(night)),
	})
	g.logger.Debug("Generated day levels",
		zap.String("date", day),
		zap.Int("levels", len(levels)),
		zap.Int("night_bars", len(night)),
	)
	return levels
}

func (g *LevelGenerator) updateGaps(day string, night []Bar, nightHigh, nightLow float64, state SessionState, at time.Time) {
	for _, gap := range g.gaps.DropFilled(nightHigh, nightLow) {
		g.events.Append(Event{Time: at, Type: EventGapFilled, Level: TagGap, Price: gap.Origin,
			Message: fmt.Sprintf("target %.2f touched by night session", gap.Target)})
	}

	gap, ok := DetectGap(state.PrevClose, night[0].Open, day)
	if !ok || gap.FilledBy(nightHigh, nightLow) {
		return
	}
	g.gaps.Add(gap)
	g.events.Append(Event{Time: at, Type: EventGapCreated, Level: TagGap, Price: gap.Origin,
		Message: fmt.Sprintf("%s gap toward %.2f", gap.Direction, gap.Target)})
}

// logGlobexProfile compares the full night profile with the one starting an hour after the close
func (g *LevelGenerator) logGlobexProfile(day string, night []Bar, standard Profile, state SessionState) {
	if !g.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	cutoff := state.PrevCloseTime.Add(time.Hour)
	globex := NightBars(night, cutoff.Add(-time.Nanosecond), night[len(night)-1].Time.Add(time.Nanosecond))
	alt, ok := BuildProfile(globex)
	if !ok {
		alt = standard
	}
	g.logger.Debug("Night profile",
		zap.String("date", day),
		zap.Float64("poc", standard.POC),
		zap.Float64("hva", standard.HVA),
		zap.Float64("lva", standard.LVA),
		zap.Float64("globex_hva", alt.HVA),
		zap.Float64("globex_lva", alt.LVA),
	)
}
