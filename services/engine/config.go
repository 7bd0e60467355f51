package engine

// Strategy configuration and run manifests

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig = errors.New("invalid engine config")
	ErrNoBars        = errors.New("no bars")
)

// EngineVersion is stamped into every run manifest
const EngineVersion = "fade-engine/1.0"

type Config struct {
	DefaultStopPts        float64 `yaml:"default_stop_pts" json:"default_stop_pts" validate:"gt=0"`
	DefaultTargetPts      float64 `yaml:"default_target_pts" json:"default_target_pts" validate:"gt=0"`
	DefaultEntryOffsetPts float64 `yaml:"default_entry_offset_pts" json:"default_entry_offset_pts" validate:"gte=0"`

	PriorDayLevels     bool `yaml:"prior_day_levels" json:"prior_day_levels"`
	NightHighLow       bool `yaml:"night_high_low" json:"night_high_low"`
	NightValueArea     bool `yaml:"night_value_area" json:"night_value_area"`
	NightPOC           bool `yaml:"night_poc" json:"night_poc"`
	VWAP               bool `yaml:"vwap" json:"vwap"`
	RoundNumbers       bool `yaml:"round_numbers" json:"round_numbers"`
	Gaps               bool `yaml:"gaps" json:"gaps"`
	SinglePrints       bool `yaml:"single_prints" json:"single_prints"`
	DynamicDayHighLow  bool `yaml:"dynamic_day_high_low" json:"dynamic_day_high_low"`
	OpeningRangeFilter bool `yaml:"opening_range_filter" json:"opening_range_filter"`
	DynamicTarget      bool `yaml:"dynamic_target" json:"dynamic_target"`
	DistanceReset      bool `yaml:"distance_reset" json:"distance_reset"`
	DynamicDayTracking bool `yaml:"dynamic_day_tracking" json:"dynamic_day_tracking"`

	DistanceResetThresholdPts float64 `yaml:"distance_reset_threshold_pts" json:"distance_reset_threshold_pts" validate:"gt=0"`
	SlippageTicks             float64 `yaml:"slippage_ticks" json:"slippage_ticks" validate:"gte=0"`
	CommissionPerRoundTrip    float64 `yaml:"commission_per_round_trip" json:"commission_per_round_trip" validate:"gte=0"`
	PointValue                float64 `yaml:"point_value" json:"point_value" validate:"gt=0"`
	Timezone                  string  `yaml:"timezone" json:"timezone" validate:"required,timezone"`
}

func DefaultConfig() Config {
	return Config{
		DefaultStopPts:            10,
		DefaultTargetPts:          20,
		DefaultEntryOffsetPts:     2,
		PriorDayLevels:            true,
		NightHighLow:              true,
		NightValueArea:            true,
		NightPOC:                  true,
		DynamicDayTracking:        true,
		DistanceResetThresholdPts: 20,
		PointValue:                20,
		Timezone:                  "America/New_York",
	}
}

// ParseConfig overlays YAML onto the defaults; absent keys keep their default
func ParseConfig(data []byte) (Config, error) {
	return DefaultConfig().Overlay(data)
}

// Overlay returns c with the keys present in data replaced. JSON documents are accepted too.
func (c Config) Overlay(data []byte) (Config, error) {
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse engine config: %w", err)
	}
	return c, nil
}

func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read engine config: %w", err)
	}
	return ParseConfig(data)
}

// Hash is the sha256 of the canonical JSON encoding
func (c Config) Hash() string {
	b, _ := json.Marshal(c)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// RunManifest records everything needed to reproduce a run
type RunManifest struct {
	JobID         string `json:"job_id"`
	ConfigHash    string `json:"config_hash"`
	DataChecksum  string `json:"data_checksum"`
	EngineVersion string `json:"engine_version"`
	Bars          int    `json:"bars"`
	Trades        int    `json:"trades"`
	CreatedAt     uint64 `json:"created_at"`
	Config        Config `json:"config"`
}

func NewRunManifest(jobID string, cfg Config, bars []Bar, trades int) RunManifest {
	return RunManifest{
		JobID:         jobID,
		ConfigHash:    cfg.Hash(),
		DataChecksum:  BarsChecksum(bars),
		EngineVersion: EngineVersion,
		Bars:          len(bars),
		Trades:        trades,
		CreatedAt:     uint64(time.Now().UnixMilli()),
		Config:        cfg,
	}
}

// BarsChecksum hashes the bar feed in order
func BarsChecksum(bars []Bar) string {
	h := sha256.New()
	for _, b := range bars {
		fmt.Fprintf(h, "%d|%g|%g|%g|%g|%g\n", b.Time.UnixNano(), b.Open, b.High, b.Low, b.Close, b.VWAP)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
