package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/stereo"
)

func TestEmptyFusionConfig_Defaults(t *testing.T) {
	cfg := EmptyFusionConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1.0, cfg.GetMinValidDisparity())
	assert.Equal(t, 128.0, cfg.GetMaxValidDisparity())
	assert.Equal(t, 10000.0, cfg.GetMaxDistanceCm())
	assert.Equal(t, 5000.0, cfg.GetFallbackMaxDistanceCm())
	assert.Equal(t, 21.0, cfg.GetNoiseFloorCm())
	assert.Equal(t, 100.0, cfg.GetDiscrepancyCm())
	assert.Equal(t, 0.0, cfg.GetHazardThresholdCm())
	assert.Equal(t, 5*time.Second, cfg.GetCooldown())
	assert.Equal(t, fusion.Debounced, cfg.GetGateMode())
	assert.Equal(t, 0.3, cfg.GetCrosswalkConfidence())
	assert.Equal(t, 512, cfg.GetCrosswalkInputSize())
}

func TestPreset_Indoor(t *testing.T) {
	cfg, err := Preset(PresetIndoor)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	p := cfg.FusionParams()
	want := fusion.Params{
		ValidDisparity:        stereo.ValidRange{Min: 1, Max: 128},
		MaxDistanceCm:         5000,
		FallbackMaxDistanceCm: 5000,
		NoiseFloorCm:          21,
		DiscrepancyCm:         100,
		HazardThresholdCm:     500,
		Direction:             fusion.DirectionPolicy{Mode: fusion.Thirds, DeadZoneFraction: 0.2},
		Gate:                  fusion.ReportGate{Mode: fusion.EveryFrame, DebounceCm: 0, Cooldown: 0},
		Message:               fusion.MessageStyle{Format: fusion.FormatFound, Spoken: false},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("indoor params mismatch (-want +got):\n%s", diff)
	}

	m := cfg.MatcherParams()
	assert.Equal(t, 128, m.NumDisparities)
	assert.Equal(t, 3, m.BlockSize)
	assert.Equal(t, 216, m.P1)
	assert.Equal(t, 864, m.P2)
	assert.Equal(t, 100, m.SpeckleWindowSize)
	assert.Equal(t, 0.25, cfg.GetObjectConfidence())
}

func TestPreset_Outdoor(t *testing.T) {
	cfg, err := Preset(PresetOutdoor)
	require.NoError(t, err)

	p := cfg.FusionParams()
	assert.Equal(t, 10000.0, p.MaxDistanceCm)
	assert.Equal(t, 0.0, p.HazardThresholdCm)
	assert.Equal(t, fusion.ReportGate{Mode: fusion.Debounced, DebounceCm: 100, Cooldown: 5 * time.Second}, p.Gate)
	assert.Equal(t, fusion.DeadZone, p.Direction.Mode)
	assert.True(t, p.Message.Spoken)
	assert.Equal(t, 0.7, cfg.GetObjectConfidence())
	assert.Equal(t, 320, cfg.GetObjectInputSize())

	m := cfg.MatcherParams()
	assert.Equal(t, 64, m.NumDisparities)
	assert.Equal(t, 5, m.BlockSize)
	assert.Equal(t, 4, m.Paths)
}

func TestMatcherParams_FullModeSelectsPaths(t *testing.T) {
	assert.Equal(t, stereo.DefaultMatcherParams().Paths, EmptyFusionConfig().MatcherParams().Paths)
	assert.Equal(t, 8, (&FusionConfig{FullMode: ptrBool(true)}).MatcherParams().Paths)
	assert.Equal(t, 4, (&FusionConfig{FullMode: ptrBool(false)}).MatcherParams().Paths)
}

func TestPreset_Unknown(t *testing.T) {
	_, err := Preset("lunar")
	assert.Error(t, err)
}

func TestOverlay_DoesNotAliasInputs(t *testing.T) {
	base, err := Preset(PresetOutdoor)
	require.NoError(t, err)
	over := &FusionConfig{Cooldown: ptrString("2s"), DebounceCm: ptrFloat64(50)}

	merged, err := base.Overlay(over)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, merged.GetCooldown())
	assert.Equal(t, 50.0, merged.GetDebounceCm())
	assert.Equal(t, 10000.0, merged.GetMaxDistanceCm())

	*merged.MaxDistanceCm = 1
	assert.Equal(t, 10000.0, base.GetMaxDistanceCm())
	assert.Equal(t, 5*time.Second, base.GetCooldown())
}

func TestOverlay_NilAndUnencodable(t *testing.T) {
	base, err := Preset(PresetIndoor)
	require.NoError(t, err)

	same, err := base.Overlay(nil)
	require.NoError(t, err)
	assert.Equal(t, base, same)
	assert.NotSame(t, base, same)

	_, err = base.Overlay(&FusionConfig{MaxDistanceCm: ptrFloat64(math.NaN())})
	assert.ErrorContains(t, err, "overlay fusion config")
}

func TestLoadFusionConfig_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "unit.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("cooldown: 3s\nstrict_hazards: true\nhazard_threshold_cm: 400\ndirection_mode: thirds\n"), 0o644))
	cfg, err := LoadFusionConfig(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.GetCooldown())
	assert.Equal(t, 400.0, cfg.GetHazardThresholdCm())
	assert.Equal(t, fusion.Thirds, cfg.GetDirectionPolicy().Mode)
	assert.Nil(t, cfg.MaxDistanceCm, "unset fields stay nil")

	jsonPath := filepath.Join(dir, "unit.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"message_format":"found","num_disparities":32}`), 0o644))
	cfg, err = LoadFusionConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, fusion.FormatFound, cfg.GetMessageStyle().Format)
	assert.Equal(t, 32, cfg.MatcherParams().NumDisparities)
}

func TestLoadFusionConfig_Rejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"wrong extension", write("cfg.toml", "")},
		{"missing file", filepath.Join(dir, "nope.yaml")},
		{"bad duration", write("a.yaml", "cooldown: soon\n")},
		{"bad direction", write("b.yaml", "direction_mode: diagonal\n")},
		{"bad gate", write("c.json", `{"gate_mode":"sometimes"}`)},
		{"confidence above one", write("d.json", `{"object_confidence":1.5}`)},
		{"inverted disparity range", write("e.json", `{"min_valid_disparity":50,"max_valid_disparity":10}`)},
		{"odd disparities", write("f.json", `{"num_disparities":30}`)},
		{"negative debounce", write("g.json", `{"debounce_cm":-1}`)},
		{"malformed", write("h.json", `{`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFusionConfig(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestShippedConfigsLoad(t *testing.T) {
	for _, name := range []string{"outdoor.yaml", "indoor.json"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadFusionConfig(filepath.Join("..", "..", "config", name))
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
		})
	}
}
