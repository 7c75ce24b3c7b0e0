package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/serialmux"
)

func TestLoadFusionConfig_PresetOnly(t *testing.T) {
	cfg, err := loadFusionConfig("indoor", "")
	if err != nil {
		t.Fatalf("loadFusionConfig: %v", err)
	}
	if got := cfg.GetGateMode(); got != fusion.EveryFrame {
		t.Errorf("gate mode = %v, want every_frame", got)
	}
	if got := cfg.GetHazardThresholdCm(); got != 500 {
		t.Errorf("hazard threshold = %v, want 500", got)
	}
}

func TestLoadFusionConfig_FileOverlaysPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	if err := os.WriteFile(path, []byte("debounce_cm: 50\ncooldown: 2s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadFusionConfig("outdoor", path)
	if err != nil {
		t.Fatalf("loadFusionConfig: %v", err)
	}
	if got := cfg.GetDebounceCm(); got != 50 {
		t.Errorf("debounce = %v, want 50", got)
	}
	if got := cfg.GetDirectionPolicy().Mode; got != fusion.DeadZone {
		t.Errorf("direction mode = %v, want dead_zone from the preset", got)
	}
}

func TestLoadFusionConfig_Errors(t *testing.T) {
	if _, err := loadFusionConfig("rooftop", ""); err == nil {
		t.Error("expected an error for an unknown preset")
	}
	if _, err := loadFusionConfig("outdoor", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestParseSerialOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    serialmux.PortOptions
		wantErr bool
	}{
		{
			name: "defaults",
			raw:  "",
			want: serialmux.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "explicit baud",
			raw:  `{"baud_rate": 921600}`,
			want: serialmux.PortOptions{BaudRate: 921600, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{name: "bad json", raw: `{"baud_rate":`, wantErr: true},
		{name: "bad stop bits", raw: `{"stop_bits": 3}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSerialOptions(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSerialOptions: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCalibrationPath(t *testing.T) {
	if got, _ := calibrationPath("rig.json", "replay"); got != "rig.json" {
		t.Errorf("explicit path ignored: %q", got)
	}
	if got, _ := calibrationPath("", "replay"); got != filepath.Join("replay", "calibration.json") {
		t.Errorf("dev fallback = %q", got)
	}
	if _, err := calibrationPath("", ""); err == nil {
		t.Error("expected an error without a calibration bundle")
	}
}

type closeRecorder struct {
	name  string
	order *[]string
	err   error
}

func (c closeRecorder) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestCloseStack_ReverseOrder(t *testing.T) {
	var order []string
	var s closeStack
	s.push("cameras", closeRecorder{"cameras", &order, nil})
	s.push("serial", closeRecorder{"serial", &order, errors.New("busy")})
	s.push("journal", closeRecorder{"journal", &order, nil})

	s.closeAll()
	s.closeAll()

	if diff := cmp.Diff([]string{"journal", "serial", "cameras"}, order); diff != "" {
		t.Errorf("close order (-want +got):\n%s", diff)
	}
}

func TestFlagDefaults(t *testing.T) {
	if *preset != "outdoor" {
		t.Errorf("preset default = %q", *preset)
	}
	if *debugListen != "127.0.0.1:8080" {
		t.Errorf("debug-listen default = %q", *debugListen)
	}
	if *disableRanging || *strictChecksum || *bleEnable {
		t.Error("optional features should default off")
	}
}
