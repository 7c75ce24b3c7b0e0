package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/safepi/internal/calibration"
	"github.com/banshee-data/safepi/internal/config"
	"github.com/banshee-data/safepi/internal/frameloop"
	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/journal"
	"github.com/banshee-data/safepi/internal/notify"
	"github.com/banshee-data/safepi/internal/ranging"
	"github.com/banshee-data/safepi/internal/replay"
	"github.com/banshee-data/safepi/internal/serialmux"
	"github.com/banshee-data/safepi/internal/stereo"
	"github.com/banshee-data/safepi/internal/timeutil"
	"github.com/banshee-data/safepi/internal/vision"
)

// simulatedRangingInterval approximates the sensor's 100 Hz output.
const simulatedRangingInterval = 10 * time.Millisecond

type pipeline struct {
	loop    *frameloop.Loop
	serial  serialmux.SerialMuxInterface
	async   *notify.Async
	hub     *notify.Hub
	journal *journal.Journal
}

// loadFusionConfig starts from the named preset and overlays the file at
// path, if any.
func loadFusionConfig(presetName, path string) (*config.FusionConfig, error) {
	cfg, err := config.Preset(presetName)
	if err != nil {
		return nil, err
	}
	if path != "" {
		file, err := config.LoadFusionConfig(path)
		if err != nil {
			return nil, err
		}
		if cfg, err = cfg.Overlay(file); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSerialOptions decodes the --serial-options JSON and applies defaults.
func parseSerialOptions(raw string) (serialmux.PortOptions, error) {
	var opts serialmux.PortOptions
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return opts, fmt.Errorf("invalid --serial-options: %w", err)
		}
	}
	return opts.Normalize()
}

// calibrationPath resolves the bundle location, falling back to the replay
// directory in dev mode.
func calibrationPath(flagValue, dev string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if dev != "" {
		return filepath.Join(dev, "calibration.json"), nil
	}
	return "", errors.New("--calibration is required")
}

func buildPipeline(cfg *config.FusionConfig, closers *closeStack) (*pipeline, error) {
	path, err := calibrationPath(*calibPath, *devDir)
	if err != nil {
		return nil, err
	}
	bundle, err := calibration.Load(path)
	if err != nil {
		return nil, err
	}
	rp, err := bundle.Reprojector()
	if err != nil {
		return nil, err
	}
	fuser, err := fusion.NewFuser(rp, cfg.FusionParams())
	if err != nil {
		return nil, err
	}
	matcher, err := stereo.NewMatcher(cfg.MatcherParams())
	if err != nil {
		return nil, fmt.Errorf("stereo matcher: %w", err)
	}

	p := &pipeline{hub: notify.NewHub()}
	closers.push("websocket hub", p.hub)

	lc := frameloop.Config{
		Fuser:       fuser,
		Clock:       timeutil.RealClock{},
		MinInterval: frameloop.IntervalForRate(cfg.GetMaxFrameRate()),
	}

	if *devDir != "" {
		src, err := replay.Open(*devDir)
		if err != nil {
			return nil, err
		}
		src.Loop = *loopReplay
		rect, err := bundle.Rectifier()
		if err != nil {
			return nil, err
		}
		lc.Source = src
		lc.Objects = src.Objects()
		lc.Crosswalks = src.Crosswalks()
		lc.Depth = stereo.NewEstimator(rect, matcher)
		if !*disableRanging {
			mux := serialmux.NewSimulatedSerialMux(src.RangingFrame, simulatedRangingInterval)
			closers.push("simulated ranging port", mux)
			p.serial = mux
		}
		log.Printf("dev mode: replaying %d frames from %s", src.Len(), *devDir)
	} else {
		if err := openHardware(&lc, bundle, matcher, cfg, closers); err != nil {
			return nil, err
		}
		if !*disableRanging {
			opts, err := parseSerialOptions(*serialOptions)
			if err != nil {
				return nil, err
			}
			mux, err := serialmux.OpenSerialMux(serialmux.RealPortFactory{}, *serialPort, opts)
			if err != nil {
				return nil, fmt.Errorf("ranging sensor: %w", err)
			}
			closers.push("ranging serial port", mux)
			p.serial = mux
		}
	}

	if p.serial == nil {
		log.Printf("ranging disabled")
		p.serial = serialmux.NewDisabledSerialMux()
		closers.push("disabled ranging port", p.serial)
	}
	poller := ranging.NewPoller(p.serial)
	poller.StrictChecksum = *strictChecksum
	lc.Ranging = poller

	transports := notify.Multi{notify.NewLogNotifier(os.Stdout)}
	if *wsListen != "" {
		transports = append(transports, p.hub)
	}
	if *bleEnable {
		ble, err := notify.StartBLE(*bleName)
		if err != nil {
			return nil, fmt.Errorf("bluetooth: %w", err)
		}
		closers.push("bluetooth", ble)
		transports = append(transports, ble)
	}
	p.async = notify.NewAsync(transports, notify.DefaultQueueSize)
	closers.push("notifier", p.async)
	lc.Notifier = p.async

	if *journalPath != "" {
		j, err := journal.Open(*journalPath, journal.Options{Preset: *preset})
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		closers.push("journal", j)
		p.journal = j
		lc.Observers = append(lc.Observers, j)
	}

	p.loop, err = frameloop.New(lc)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// openHardware opens the cameras, the OpenCV rectifier and the detectors.
func openHardware(lc *frameloop.Config, bundle *calibration.Bundle, matcher *stereo.Matcher, cfg *config.FusionConfig, closers *closeStack) error {
	width, height := *cameraWidth, *cameraHeight
	if width == 0 {
		width = bundle.ImageWidth
	}
	if height == 0 {
		height = bundle.ImageHeight
	}

	cam, err := vision.OpenStereoCamera(vision.CameraConfig{
		Left:   *cameraLeft,
		Right:  *cameraRight,
		Width:  width,
		Height: height,
	})
	if err != nil {
		return err
	}
	closers.push("cameras", cam)
	lc.Source = cam

	left, right := bundle.Cameras()
	rect, err := vision.NewRectifier(left, right, width, height)
	if err != nil {
		return err
	}
	closers.push("rectifier", rect)
	lc.Depth = stereo.NewEstimator(rect, matcher)

	objects, err := vision.NewDetector(vision.ObjectDetectorConfig(*yoloModel, cfg.GetObjectConfidence(), cfg.GetObjectInputSize()))
	if err != nil {
		return err
	}
	closers.push("object detector", objects)
	lc.Objects = objects

	if *crosswalkModel != "" {
		crosswalks, err := vision.NewDetector(vision.CrosswalkDetectorConfig(*crosswalkModel, cfg.GetCrosswalkConfidence(), cfg.GetCrosswalkInputSize()))
		if err != nil {
			return err
		}
		closers.push("crosswalk detector", crosswalks)
		lc.Crosswalks = crosswalks
	}
	return nil
}
