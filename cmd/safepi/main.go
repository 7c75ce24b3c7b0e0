package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/safepi/internal/frameloop"
	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/journal"
	"github.com/banshee-data/safepi/internal/monitoring"
	"github.com/banshee-data/safepi/internal/notify"
	"github.com/banshee-data/safepi/internal/ranging"
	"github.com/banshee-data/safepi/internal/replay"
	"github.com/banshee-data/safepi/internal/stereo"
	"github.com/banshee-data/safepi/internal/version"
	"github.com/banshee-data/safepi/internal/vision"
)

var (
	configPath     = flag.String("config", "", "Fusion config file (.json, .yaml or .yml) overlaid on the preset")
	preset         = flag.String("preset", "outdoor", "Deployment preset: indoor or outdoor")
	calibPath      = flag.String("calibration", "", "Stereo calibration bundle (.json); defaults to DIR/calibration.json in dev mode")
	serialPort     = flag.String("serial", "/dev/ttyAMA0", "Ranging sensor serial port")
	serialOptions  = flag.String("serial-options", "", `Serial options as JSON, e.g. {"baud_rate":115200}`)
	strictChecksum = flag.Bool("strict-checksum", false, "Discard ranging frames whose checksum does not match")
	disableRanging = flag.Bool("disable-ranging", false, "Run without the ranging sensor")
	cameraLeft     = flag.Int("camera-left", 0, "Left camera device index")
	cameraRight    = flag.Int("camera-right", 1, "Right camera device index")
	cameraWidth    = flag.Int("camera-width", 0, "Capture width (default: calibration image width)")
	cameraHeight   = flag.Int("camera-height", 0, "Capture height (default: calibration image height)")
	yoloModel      = flag.String("yolo-model", "models/yolov8n.onnx", "General object detector (ONNX)")
	crosswalkModel = flag.String("crosswalk-model", "", "Crosswalk detector (ONNX); empty disables crosswalk detection")
	wsListen       = flag.String("ws-listen", "", "Listen address for the websocket announcement feed; empty disables it")
	bleEnable      = flag.Bool("ble", false, "Announce over a BLE UART characteristic")
	bleName        = flag.String("ble-name", notify.DefaultBLEName, "Advertised BLE device name")
	debugListen    = flag.String("debug-listen", "127.0.0.1:8080", "Listen address for /debug/ pages; empty disables them")
	journalPath    = flag.String("journal", "", "Record sessions to this sqlite file; empty disables the journal")
	devDir         = flag.String("dev", "", "Replay frames and detections from DIR instead of cameras and models")
	loopReplay     = flag.Bool("loop", false, "Restart the replay when it reaches the end (dev mode)")
	logLevel       = flag.String("log-level", "diag", "Log streams to enable: ops, diag or trace")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level, err := monitoring.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	streams := monitoring.NewStreams(os.Stderr, level)
	streams.Apply(
		fusion.SetLogWriters,
		stereo.SetLogWriters,
		ranging.SetLogWriters,
		vision.SetLogWriters,
		replay.SetLogWriters,
		notify.SetLogWriters,
		frameloop.SetLogWriters,
		journal.SetLogWriters,
	)
	monitoring.SetLogger(streams.OpsLogger())
	log.Printf("safepi %s", version.String())

	cfg, err := loadFusionConfig(*preset, *configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers closeStack
	defer closers.closeAll()

	p, err := buildPipeline(cfg, &closers)
	if err != nil {
		closers.closeAll()
		log.Fatalf("failed to start: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ranging serial monitor stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.async.Run(ctx)
	}()

	if *wsListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveUntilDone(ctx, "websocket", *wsListen, p.hub)
		}()
	}

	if *debugListen != "" {
		mux := http.NewServeMux()
		p.serial.AttachAdminRoutes(mux)
		p.loop.AttachAdminRoutes(mux)
		if p.journal != nil {
			if err := p.journal.AttachAdminRoutes(mux); err != nil {
				log.Printf("journal debug routes unavailable: %v", err)
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveUntilDone(ctx, "debug", *debugListen, mux)
		}()
	}

	err = p.loop.Run(ctx)
	switch {
	case err == nil:
		log.Printf("frame source finished")
	case errors.Is(err, context.Canceled):
		log.Printf("shutting down")
	default:
		log.Printf("frame loop stopped: %v", err)
	}
	stop()
	wg.Wait()

	st := p.loop.Stats()
	sent, dropped, failed := p.async.Stats()
	log.Printf("frames=%d errors=%d reported=%d transmitted=%d notify sent=%d dropped=%d failed=%d",
		st.Frames, st.FrameErrors, st.Reported, st.Transmitted, sent, dropped, failed)
}

// serveUntilDone runs an HTTP server until ctx is cancelled, then gives it
// a second to drain.
func serveUntilDone(ctx context.Context, name, addr string, h http.Handler) {
	server := &http.Server{Addr: addr, Handler: h}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("%s server failed: %v", name, err)
		}
	}()
	log.Printf("%s server listening on %s", name, addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("%s server shutdown error: %v", name, err)
		if err := server.Close(); err != nil {
			log.Printf("%s server force close error: %v", name, err)
		}
	}
}

// closeStack releases resources in reverse order of acquisition.
type closeStack struct {
	mu      sync.Mutex
	closers []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

func (s *closeStack) push(name string, c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, namedCloser{name, c})
}

func (s *closeStack) closeAll() {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].c.Close(); err != nil {
			log.Printf("failed to close %s: %v", closers[i].name, err)
		}
	}
}
