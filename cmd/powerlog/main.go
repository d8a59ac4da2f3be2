// Command powerlog logs power readings from a Newport 1918 series optical
// power meter to a timestamped text file until interrupted or a duration
// elapses.  It is the command line counterpart to running plsrv and POSTing
// to /record/start.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/theckman/yacspin"

	"github.com/opticslab/powerlog/newport"
	"github.com/opticslab/powerlog/recorder"
)

func main() {
	var (
		addr      = flag.String("addr", "", "meter address, host:port for TCP or a device path for serial")
		serialFlg = flag.Bool("serial", false, "addr is an RS232 device path")
		usb       = flag.Bool("usb", false, "talk USBTMC directly over the meter's USB port, ignores -addr")
		mock      = flag.Bool("mock", false, "use a simulated meter instead of hardware")
		interval  = flag.Duration("interval", time.Second, "time between samples")
		duration  = flag.Duration("duration", 0, "stop after this long, 0 runs until interrupted")
		dir       = flag.String("dir", ".", "directory to write the log file in")
		prefix    = flag.String("prefix", "power_log", "log filename prefix")
		maxMisses = flag.Int("max-misses", recorder.DefaultMaxMisses, "consecutive read failures tolerated before aborting")
	)
	flag.Parse()
	if !*mock && !*usb && *addr == "" {
		fmt.Fprintln(os.Stderr, "one of -addr, -usb, or -mock is required")
		flag.Usage()
		os.Exit(2)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[59],
		Suffix:        " connecting to meter",
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	var m recorder.Meter
	switch {
	case *mock:
		m = newport.NewMock1918()
	case *usb:
		m = newport.NewPowerMeter1918USB()
	default:
		m = newport.NewPowerMeter1918(*addr, *serialFlg)
	}
	if id, ok := m.(interface{ Identification() (string, error) }); ok && !*mock {
		idn, err := id.Identification()
		if err != nil {
			spinner.StopFail()
			log.Fatalf("meter did not identify: %v", err)
		}
		spinner.Suffix(" connected to " + idn)
	}
	spinner.Stop()

	rec := recorder.New(m, recorder.Config{
		Dir:       *dir,
		Prefix:    *prefix,
		Interval:  *interval,
		MaxMisses: *maxMisses,
	})
	if err := rec.Start(0); err != nil {
		log.Fatal(err)
	}
	log.Println("logging to", rec.LastFile(), "- Ctrl+C to stop")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}
	ended := make(chan struct{})
	go func() {
		// poll for an abort from inside the session, e.g. too many misses
		t := time.NewTicker(250 * time.Millisecond)
		defer t.Stop()
		for range t.C {
			if !rec.Running() {
				close(ended)
				return
			}
		}
	}()

	select {
	case <-interrupt:
		log.Println("interrupted, stopping")
	case <-timeout:
		log.Println("duration elapsed, stopping")
	case <-ended:
		log.Fatal(rec.Err())
	}
	rec.Stop()
	log.Println("log written to", rec.LastFile())
}
