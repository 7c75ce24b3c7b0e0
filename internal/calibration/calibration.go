// Package calibration loads the stereo rig calibration bundle written by the
// offline calibration tool.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/safepi/internal/stereo"
)

// ErrInvalidCalibration wraps every shape or content problem in a bundle.
var ErrInvalidCalibration = errors.New("invalid calibration")

const maxBundleSize = 1 << 20

// Bundle is the persisted calibration of a two-camera rig. Matrices are
// stored row-major as nested arrays.
type Bundle struct {
	ImageWidth  int `json:"image_width"`
	ImageHeight int `json:"image_height"`

	MtxL  [][]float64 `json:"mtxL"`
	DistL []float64   `json:"distL"`
	MtxR  [][]float64 `json:"mtxR"`
	DistR []float64   `json:"distR"`
	R     [][]float64 `json:"R"`
	T     []float64   `json:"T"`
	R1    [][]float64 `json:"R1"`
	R2    [][]float64 `json:"R2"`
	P1    [][]float64 `json:"P1"`
	P2    [][]float64 `json:"P2"`
	Q     [][]float64 `json:"Q"`
}

// Load reads and validates a JSON bundle.
func Load(path string) (*Bundle, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return nil, fmt.Errorf("calibration file must be .json, got %q", ext)
	}
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat calibration file: %w", err)
	}
	if info.Size() > maxBundleSize {
		return nil, fmt.Errorf("calibration file too large: %d bytes (max %d)", info.Size(), maxBundleSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse calibration JSON: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Save writes the bundle as indented JSON.
func (b *Bundle) Save(path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Clean(path), data, 0o644)
}

// Validate checks every matrix has the expected shape.
func (b *Bundle) Validate() error {
	if b.ImageWidth <= 0 || b.ImageHeight <= 0 {
		return fmt.Errorf("%w: image size %dx%d", ErrInvalidCalibration, b.ImageWidth, b.ImageHeight)
	}
	checks := []struct {
		name       string
		m          [][]float64
		rows, cols int
	}{
		{"mtxL", b.MtxL, 3, 3},
		{"mtxR", b.MtxR, 3, 3},
		{"R", b.R, 3, 3},
		{"R1", b.R1, 3, 3},
		{"R2", b.R2, 3, 3},
		{"P1", b.P1, 3, 4},
		{"P2", b.P2, 3, 4},
		{"Q", b.Q, 4, 4},
	}
	for _, c := range checks {
		if err := checkShape(c.m, c.rows, c.cols); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidCalibration, c.name, err)
		}
	}
	for name, v := range map[string][]float64{"distL": b.DistL, "distR": b.DistR} {
		if len(v) < 4 {
			return fmt.Errorf("%w: %s needs at least 4 coefficients, got %d", ErrInvalidCalibration, name, len(v))
		}
	}
	if len(b.T) != 3 {
		return fmt.Errorf("%w: T must have 3 elements, got %d", ErrInvalidCalibration, len(b.T))
	}
	if b.Q[3][2] == 0 {
		return fmt.Errorf("%w: Q[3][2] is zero (no baseline)", ErrInvalidCalibration)
	}
	return nil
}

func checkShape(m [][]float64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("want %d rows, got %d", rows, len(m))
	}
	for i, r := range m {
		if len(r) != cols {
			return fmt.Errorf("row %d: want %d columns, got %d", i, cols, len(r))
		}
	}
	return nil
}

// Dense converts a nested row-major matrix to gonum.
func Dense(m [][]float64) *mat.Dense {
	if len(m) == 0 {
		return nil
	}
	rows, cols := len(m), len(m[0])
	data := make([]float64, 0, rows*cols)
	for _, r := range m {
		data = append(data, r...)
	}
	return mat.NewDense(rows, cols, data)
}

// Cameras returns the left and right camera models for rectification.
func (b *Bundle) Cameras() (left, right stereo.CameraModel) {
	left = stereo.CameraModel{K: Dense(b.MtxL), Dist: b.DistL, R: Dense(b.R1), P: Dense(b.P1)}
	right = stereo.CameraModel{K: Dense(b.MtxR), Dist: b.DistR, R: Dense(b.R2), P: Dense(b.P2)}
	return left, right
}

// Rectifier builds the remap tables for the bundle's image size.
func (b *Bundle) Rectifier() (*stereo.Rectifier, error) {
	l, r := b.Cameras()
	return stereo.NewRectifier(l, r, b.ImageWidth, b.ImageHeight)
}

// Reprojector returns the disparity-to-depth mapping.
func (b *Bundle) Reprojector() (*stereo.Reprojector, error) {
	return stereo.NewReprojector(Dense(b.Q))
}

// BaselineM is the camera separation along X in the units of T.
func (b *Bundle) BaselineM() float64 {
	if b.T[0] < 0 {
		return -b.T[0]
	}
	return b.T[0]
}
