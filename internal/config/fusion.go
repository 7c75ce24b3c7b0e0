package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/stereo"
)

// Preset names for the two field deployments.
const (
	PresetIndoor  = "indoor"
	PresetOutdoor = "outdoor"
)

// FusionConfig is the root configuration of the hazard pipeline. Every field
// is optional; the Get* accessors return the outdoor defaults for anything
// unset, so a partial file overlays cleanly on a preset.
type FusionConfig struct {
	// Depth evidence
	MinValidDisparity     *float64 `json:"min_valid_disparity,omitempty" yaml:"min_valid_disparity,omitempty"`
	MaxValidDisparity     *float64 `json:"max_valid_disparity,omitempty" yaml:"max_valid_disparity,omitempty"`
	MaxDistanceCm         *float64 `json:"max_distance_cm,omitempty" yaml:"max_distance_cm,omitempty"`
	FallbackMaxDistanceCm *float64 `json:"fallback_max_distance_cm,omitempty" yaml:"fallback_max_distance_cm,omitempty"`
	NoiseFloorCm          *float64 `json:"noise_floor_cm,omitempty" yaml:"noise_floor_cm,omitempty"`

	// Arbitration and selection
	DiscrepancyCm     *float64 `json:"discrepancy_cm,omitempty" yaml:"discrepancy_cm,omitempty"`
	StrictHazards     *bool    `json:"strict_hazards,omitempty" yaml:"strict_hazards,omitempty"`
	HazardThresholdCm *float64 `json:"hazard_threshold_cm,omitempty" yaml:"hazard_threshold_cm,omitempty"`

	// Report gate
	GateMode   *string  `json:"gate_mode,omitempty" yaml:"gate_mode,omitempty"` // "debounced" or "every_frame"
	DebounceCm *float64 `json:"debounce_cm,omitempty" yaml:"debounce_cm,omitempty"`
	Cooldown   *string  `json:"cooldown,omitempty" yaml:"cooldown,omitempty"` // duration string like "5s"

	// Messages
	DirectionMode    *string  `json:"direction_mode,omitempty" yaml:"direction_mode,omitempty"` // "thirds" or "dead_zone"
	DeadZoneFraction *float64 `json:"dead_zone_fraction,omitempty" yaml:"dead_zone_fraction,omitempty"`
	MessageFormat    *string  `json:"message_format,omitempty" yaml:"message_format,omitempty"` // "away" or "found"
	SpokenDirections *bool    `json:"spoken_directions,omitempty" yaml:"spoken_directions,omitempty"`

	// Detectors
	ObjectConfidence    *float64 `json:"object_confidence,omitempty" yaml:"object_confidence,omitempty"`
	ObjectInputSize     *int     `json:"object_input_size,omitempty" yaml:"object_input_size,omitempty"`
	CrosswalkConfidence *float64 `json:"crosswalk_confidence,omitempty" yaml:"crosswalk_confidence,omitempty"`
	CrosswalkInputSize  *int     `json:"crosswalk_input_size,omitempty" yaml:"crosswalk_input_size,omitempty"`

	// Stereo matcher
	NumDisparities    *int  `json:"num_disparities,omitempty" yaml:"num_disparities,omitempty"`
	BlockSize         *int  `json:"block_size,omitempty" yaml:"block_size,omitempty"`
	P1                *int  `json:"p1,omitempty" yaml:"p1,omitempty"`
	P2                *int  `json:"p2,omitempty" yaml:"p2,omitempty"`
	Disp12MaxDiff     *int  `json:"disp12_max_diff,omitempty" yaml:"disp12_max_diff,omitempty"`
	UniquenessRatio   *int  `json:"uniqueness_ratio,omitempty" yaml:"uniqueness_ratio,omitempty"`
	SpeckleWindowSize *int  `json:"speckle_window_size,omitempty" yaml:"speckle_window_size,omitempty"`
	SpeckleRange      *int  `json:"speckle_range,omitempty" yaml:"speckle_range,omitempty"`
	PreFilterCap      *int  `json:"pre_filter_cap,omitempty" yaml:"pre_filter_cap,omitempty"`
	FullMode          *bool `json:"full_mode,omitempty" yaml:"full_mode,omitempty"` // 8 paths instead of 4

	// Loop
	MaxFrameRate *float64 `json:"max_frame_rate,omitempty" yaml:"max_frame_rate,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyFusionConfig returns a FusionConfig with all fields unset.
func EmptyFusionConfig() *FusionConfig {
	return &FusionConfig{}
}

// Preset returns the configuration of a named deployment. "indoor" is the
// near-field unit that reports every hazard closer than 5 m; "outdoor" is
// the wider unit with a debounced, rate-limited gate.
func Preset(name string) (*FusionConfig, error) {
	switch strings.ToLower(name) {
	case PresetIndoor:
		return &FusionConfig{
			MaxDistanceCm:         ptrFloat64(5000),
			FallbackMaxDistanceCm: ptrFloat64(5000),
			StrictHazards:         ptrBool(true),
			HazardThresholdCm:     ptrFloat64(500),
			GateMode:              ptrString(fusion.EveryFrame.String()),
			DebounceCm:            ptrFloat64(0),
			Cooldown:              ptrString("0s"),
			DirectionMode:         ptrString(fusion.Thirds.String()),
			MessageFormat:         ptrString(fusion.FormatFound.String()),
			SpokenDirections:      ptrBool(false),
			ObjectConfidence:      ptrFloat64(0.25),
			ObjectInputSize:       ptrInt(640),
			NumDisparities:        ptrInt(128),
			BlockSize:             ptrInt(3),
			SpeckleWindowSize:     ptrInt(100),
		}, nil
	case PresetOutdoor, "":
		return &FusionConfig{
			MaxDistanceCm:         ptrFloat64(10000),
			FallbackMaxDistanceCm: ptrFloat64(5000),
			StrictHazards:         ptrBool(false),
			GateMode:              ptrString(fusion.Debounced.String()),
			DebounceCm:            ptrFloat64(100),
			Cooldown:              ptrString("5s"),
			DirectionMode:         ptrString(fusion.DeadZone.String()),
			DeadZoneFraction:      ptrFloat64(0.2),
			MessageFormat:         ptrString(fusion.FormatAway.String()),
			SpokenDirections:      ptrBool(true),
			ObjectConfidence:      ptrFloat64(0.7),
			ObjectInputSize:       ptrInt(320),
			NumDisparities:        ptrInt(64),
			BlockSize:             ptrInt(5),
			SpeckleWindowSize:     ptrInt(50),
		}, nil
	}
	return nil, fmt.Errorf("unknown preset %q (want %q or %q)", name, PresetIndoor, PresetOutdoor)
}

// LoadFusionConfig loads a FusionConfig from a .json, .yaml or .yml file.
// The file must be under 1MB. Fields omitted from the file stay unset.
func LoadFusionConfig(path string) (*FusionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFusionConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Overlay returns a copy of c with every field set in o taking precedence.
func (c *FusionConfig) Overlay(o *FusionConfig) (*FusionConfig, error) {
	out := EmptyFusionConfig()
	// Round-trip through JSON so the copy shares no pointers with either side.
	for _, src := range []*FusionConfig{c, o} {
		if src == nil {
			continue
		}
		data, err := json.Marshal(src)
		if err != nil {
			return nil, fmt.Errorf("overlay fusion config: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("overlay fusion config: %w", err)
		}
	}
	return out, nil
}

// Validate checks that the configuration values are valid.
func (c *FusionConfig) Validate() error {
	if c.MinValidDisparity != nil && c.MaxValidDisparity != nil && *c.MinValidDisparity >= *c.MaxValidDisparity {
		return fmt.Errorf("min_valid_disparity must be below max_valid_disparity, got %g >= %g",
			*c.MinValidDisparity, *c.MaxValidDisparity)
	}
	for name, v := range map[string]*float64{
		"max_distance_cm":          c.MaxDistanceCm,
		"fallback_max_distance_cm": c.FallbackMaxDistanceCm,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", name, *v)
		}
	}
	for name, v := range map[string]*float64{
		"noise_floor_cm":      c.NoiseFloorCm,
		"discrepancy_cm":      c.DiscrepancyCm,
		"hazard_threshold_cm": c.HazardThresholdCm,
		"debounce_cm":         c.DebounceCm,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %g", name, *v)
		}
	}
	if c.Cooldown != nil && *c.Cooldown != "" {
		if _, err := time.ParseDuration(*c.Cooldown); err != nil {
			return fmt.Errorf("invalid cooldown '%s': %w", *c.Cooldown, err)
		}
	}
	if c.GateMode != nil {
		if _, err := parseGateMode(*c.GateMode); err != nil {
			return err
		}
	}
	if c.DirectionMode != nil {
		if _, err := fusion.ParseDirectionMode(*c.DirectionMode); err != nil {
			return err
		}
	}
	if c.DeadZoneFraction != nil && (*c.DeadZoneFraction < 0 || *c.DeadZoneFraction >= 0.5) {
		return fmt.Errorf("dead_zone_fraction must be in [0, 0.5), got %g", *c.DeadZoneFraction)
	}
	if c.MessageFormat != nil {
		if _, err := fusion.ParseMessageFormat(*c.MessageFormat); err != nil {
			return err
		}
	}
	for name, v := range map[string]*float64{
		"object_confidence":    c.ObjectConfidence,
		"crosswalk_confidence": c.CrosswalkConfidence,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %g", name, *v)
		}
	}
	if c.MaxFrameRate != nil && *c.MaxFrameRate < 0 {
		return fmt.Errorf("max_frame_rate must be non-negative, got %g", *c.MaxFrameRate)
	}
	if err := c.MatcherParams().Validate(); err != nil {
		return err
	}
	return nil
}

func parseGateMode(s string) (fusion.GateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debounced", "":
		return fusion.Debounced, nil
	case "every_frame", "everyframe", "every-frame":
		return fusion.EveryFrame, nil
	}
	return fusion.Debounced, fmt.Errorf("unknown gate mode %q", s)
}

// GetMinValidDisparity returns the lower (exclusive) disparity bound.
func (c *FusionConfig) GetMinValidDisparity() float64 {
	if c.MinValidDisparity == nil {
		return 1.0 // default
	}
	return *c.MinValidDisparity
}

// GetMaxValidDisparity returns the upper (exclusive) disparity bound.
func (c *FusionConfig) GetMaxValidDisparity() float64 {
	if c.MaxValidDisparity == nil {
		return 128.0 // default
	}
	return *c.MaxValidDisparity
}

// GetMaxDistanceCm returns the upper bound for detection distances.
func (c *FusionConfig) GetMaxDistanceCm() float64 {
	if c.MaxDistanceCm == nil {
		return 10000 // default
	}
	return *c.MaxDistanceCm
}

// GetFallbackMaxDistanceCm returns the upper bound for the fallback scan.
func (c *FusionConfig) GetFallbackMaxDistanceCm() float64 {
	if c.FallbackMaxDistanceCm == nil {
		return 5000 // default
	}
	return *c.FallbackMaxDistanceCm
}

// GetNoiseFloorCm returns the near-field noise floor.
func (c *FusionConfig) GetNoiseFloorCm() float64 {
	if c.NoiseFloorCm == nil {
		return 21 // default
	}
	return *c.NoiseFloorCm
}

// GetDiscrepancyCm returns the ranging override threshold.
func (c *FusionConfig) GetDiscrepancyCm() float64 {
	if c.DiscrepancyCm == nil {
		return fusion.DefaultDiscrepancyCm
	}
	return *c.DiscrepancyCm
}

// GetHazardThresholdCm returns the strict hazard threshold, or 0 when strict
// selection is off.
func (c *FusionConfig) GetHazardThresholdCm() float64 {
	if c.StrictHazards == nil || !*c.StrictHazards {
		return 0
	}
	if c.HazardThresholdCm == nil {
		return 500 // default
	}
	return *c.HazardThresholdCm
}

// GetGateMode returns the report gate mode.
func (c *FusionConfig) GetGateMode() fusion.GateMode {
	if c.GateMode == nil {
		return fusion.Debounced
	}
	m, err := parseGateMode(*c.GateMode)
	if err != nil {
		return fusion.Debounced
	}
	return m
}

// GetDebounceCm returns how much closer a repeated label must get before it
// is reported again.
func (c *FusionConfig) GetDebounceCm() float64 {
	if c.DebounceCm == nil {
		return 100 // default
	}
	return *c.DebounceCm
}

// GetCooldown parses and returns the transmit cooldown.
func (c *FusionConfig) GetCooldown() time.Duration {
	if c.Cooldown == nil || *c.Cooldown == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.Cooldown)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetDirectionPolicy returns the direction classifier.
func (c *FusionConfig) GetDirectionPolicy() fusion.DirectionPolicy {
	p := fusion.DirectionPolicy{Mode: fusion.DeadZone, DeadZoneFraction: 0.2}
	if c.DirectionMode != nil {
		if m, err := fusion.ParseDirectionMode(*c.DirectionMode); err == nil {
			p.Mode = m
		}
	}
	if c.DeadZoneFraction != nil {
		p.DeadZoneFraction = *c.DeadZoneFraction
	}
	return p
}

// GetMessageStyle returns the announcement wording.
func (c *FusionConfig) GetMessageStyle() fusion.MessageStyle {
	s := fusion.MessageStyle{Format: fusion.FormatAway, Spoken: true}
	if c.MessageFormat != nil {
		if f, err := fusion.ParseMessageFormat(*c.MessageFormat); err == nil {
			s.Format = f
		}
	}
	if c.SpokenDirections != nil {
		s.Spoken = *c.SpokenDirections
	}
	return s
}

// GetObjectConfidence returns the general detector confidence cut.
func (c *FusionConfig) GetObjectConfidence() float64 {
	if c.ObjectConfidence == nil {
		return 0.7 // default
	}
	return *c.ObjectConfidence
}

// GetObjectInputSize returns the general detector's square input size.
func (c *FusionConfig) GetObjectInputSize() int {
	if c.ObjectInputSize == nil {
		return 320 // default
	}
	return *c.ObjectInputSize
}

// GetCrosswalkConfidence returns the crosswalk detector confidence cut.
func (c *FusionConfig) GetCrosswalkConfidence() float64 {
	if c.CrosswalkConfidence == nil {
		return 0.3 // default
	}
	return *c.CrosswalkConfidence
}

// GetCrosswalkInputSize returns the crosswalk detector's square input size.
func (c *FusionConfig) GetCrosswalkInputSize() int {
	if c.CrosswalkInputSize == nil {
		return 512 // default
	}
	return *c.CrosswalkInputSize
}

// GetMaxFrameRate returns the loop rate cap in frames per second (0 = none).
func (c *FusionConfig) GetMaxFrameRate() float64 {
	if c.MaxFrameRate == nil {
		return 0
	}
	return *c.MaxFrameRate
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// MatcherParams builds the stereo matcher configuration.
func (c *FusionConfig) MatcherParams() stereo.MatcherParams {
	p := stereo.DefaultMatcherParams()
	p.NumDisparities = intOr(c.NumDisparities, p.NumDisparities)
	p.BlockSize = intOr(c.BlockSize, p.BlockSize)
	p.P1 = intOr(c.P1, p.P1)
	p.P2 = intOr(c.P2, p.P2)
	p.Disp12MaxDiff = intOr(c.Disp12MaxDiff, p.Disp12MaxDiff)
	p.UniquenessRatio = intOr(c.UniquenessRatio, p.UniquenessRatio)
	p.SpeckleWindowSize = intOr(c.SpeckleWindowSize, p.SpeckleWindowSize)
	p.SpeckleRange = intOr(c.SpeckleRange, p.SpeckleRange)
	p.PreFilterCap = intOr(c.PreFilterCap, p.PreFilterCap)
	if c.FullMode != nil && *c.FullMode {
		p.Paths = 8
	} else {
		p.Paths = 4
	}
	return p
}

// FusionParams builds the fusion policy.
func (c *FusionConfig) FusionParams() fusion.Params {
	return fusion.Params{
		ValidDisparity: stereo.ValidRange{
			Min: float32(c.GetMinValidDisparity()),
			Max: float32(c.GetMaxValidDisparity()),
		},
		MaxDistanceCm:         c.GetMaxDistanceCm(),
		FallbackMaxDistanceCm: c.GetFallbackMaxDistanceCm(),
		NoiseFloorCm:          c.GetNoiseFloorCm(),
		DiscrepancyCm:         c.GetDiscrepancyCm(),
		HazardThresholdCm:     c.GetHazardThresholdCm(),
		Direction:             c.GetDirectionPolicy(),
		Gate: fusion.ReportGate{
			Mode:       c.GetGateMode(),
			DebounceCm: c.GetDebounceCm(),
			Cooldown:   c.GetCooldown(),
		},
		Message: c.GetMessageStyle(),
	}
}
