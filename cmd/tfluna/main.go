// Command tfluna tails a TF-Luna ranging sensor and prints each decoded
// sample.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/monitoring"
	"github.com/banshee-data/safepi/internal/ranging"
	"github.com/banshee-data/safepi/internal/serialmux"
	"github.com/banshee-data/safepi/internal/version"
)

var (
	port           = flag.String("serial", "/dev/ttyAMA0", "Serial port the sensor is attached to")
	serialOptions  = flag.String("serial-options", "", `Serial options as JSON, e.g. {"baud_rate":115200}`)
	interval       = flag.Duration("interval", 100*time.Millisecond, "Poll interval")
	count          = flag.Int("count", 0, "Stop after this many samples (0 runs until interrupted)")
	strictChecksum = flag.Bool("strict-checksum", false, "Discard frames whose checksum does not match")
	simulate       = flag.Int("simulate", 0, "Emit synthetic frames at this distance in cm instead of opening a port")
	quiet          = flag.Bool("quiet", false, "Suppress ranging diagnostics")
)

func main() {
	flag.Parse()
	log.Printf("tfluna %s", version.String())

	if !*quiet {
		ranging.SetLogWriters(os.Stderr, os.Stderr, nil)
	} else {
		monitoring.SetLogger(nil)
	}

	var mux serialmux.SerialMuxInterface
	if *simulate > 0 {
		frame := ranging.EncodeFrame(fusion.RangingSample{DistanceCm: *simulate, Strength: 1000, Temperature: 40})
		mux = serialmux.NewSimulatedSerialMux(func() []byte { return frame }, 10*time.Millisecond)
	} else {
		var opts serialmux.PortOptions
		if *serialOptions != "" {
			if err := json.Unmarshal([]byte(*serialOptions), &opts); err != nil {
				log.Fatalf("invalid --serial-options: %v", err)
			}
		}
		var err error
		mux, err = serialmux.OpenSerialMux(serialmux.RealPortFactory{}, *port, opts)
		if err != nil {
			log.Fatalf("failed to open %s: %v", *port, err)
		}
	}
	defer mux.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial monitor stopped: %v", err)
			stop()
		}
	}()

	poller := ranging.NewPoller(mux)
	poller.StrictChecksum = *strictChecksum

	n := tail(ctx, poller, os.Stdout, *interval, *count)
	samples, dropped := poller.Stats()
	log.Printf("printed %d samples (%d decoded, %d dropped)", n, samples, dropped)
}

type sampler interface {
	Poll() (*fusion.RangingSample, bool)
}

// tail polls src every interval and prints each sample until ctx is done or
// limit samples have been printed.
func tail(ctx context.Context, src sampler, w io.Writer, interval time.Duration, limit int) int {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return printed
		case <-ticker.C:
		}
		s, ok := src.Poll()
		if !ok {
			continue
		}
		fmt.Fprintln(w, formatSample(*s))
		printed++
		if limit > 0 && printed >= limit {
			return printed
		}
	}
}

// formatSample renders a sample as one line. A temperature of exactly zero
// is printed as no reading.
func formatSample(s fusion.RangingSample) string {
	temp := "no reading"
	if s.Temperature != 0 {
		temp = fmt.Sprintf("%.1f C", s.Temperature)
	}
	return fmt.Sprintf("distance %4d cm  strength %5d  temperature %s", s.DistanceCm, s.Strength, temp)
}
