/*Package recorder implements timestamped power logging sessions.

A Recorder drives one session at a time against a power meter.  Start takes
a probe reading (failing if the instrument is unavailable), opens a log file
named <prefix>_YYYYMMDD_HHMMSS.txt in the configured directory, writes a
header row and the probe as the first record, then samples on a ticker until
Stop.  Each record is one line, elapsed seconds and power separated by a
tab, flushed to disk as it is written so a crash loses at most the in-flight
sample.

Reads may block up to the instrument timeout; ticks never overlap, they are
delayed behind a slow read.  A transient read failure skips the tick and is
logged as a warning; MaxMisses consecutive failures abort the session, as
does any write failure, since silent data loss is unacceptable.  The file
is closed exactly once in every exit path.

The filename layout and tab separated columns with a header row match the
downstream spot/temperature analysis tooling.
*/
package recorder

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brandondube/ringo"
)

// ErrSessionActive is generated when Start is called while a session is
// already running
var ErrSessionActive = errors.New("recorder: a session is already active")

const (
	// DefaultInterval is the sample cadence used when none is given
	DefaultInterval = 1 * time.Second

	// DefaultMaxMisses is the number of consecutive read failures
	// tolerated before a session aborts
	DefaultMaxMisses = 5

	// DefaultCapacity is the number of recent samples held for HTTP
	// monitoring, one hour at the default cadence
	DefaultCapacity = 3600

	timestampLayout = "20060102_150405"
)

// Meter is the minimum capability the recorder needs from an instrument
type Meter interface {
	// ReadPower reads the current power on the detector
	ReadPower() (float64, error)
}

// syncWriter lets tests substitute the log file with a failing writer
type syncWriter interface {
	io.WriteCloser
	Sync() error
}

// Config holds the initialization parameters for a Recorder
type Config struct {
	// Dir is the directory log files are created in
	Dir string

	// Prefix is the filename prefix, "power_log" if empty
	Prefix string

	// Interval is the sample cadence, DefaultInterval if zero
	Interval time.Duration

	// MaxMisses is the consecutive read failure budget, DefaultMaxMisses
	// if zero
	MaxMisses int

	// Capacity is the recent-sample buffer depth, DefaultCapacity if zero
	Capacity int
}

// Recorder logs timestamped power samples, one session and one file at a
// time.  It is concurrent safe; Stop may be called from any goroutine at
// any moment.
type Recorder struct {
	mu    sync.Mutex
	meter Meter
	cfg   Config

	running bool
	start   time.Time
	out     syncWriter
	path    string
	stop    chan struct{}
	done    chan struct{}
	misses  int
	lastErr error

	power ringo.CircleF64
	times ringo.CircleTime
}

// New creates a Recorder with zero-value config fields replaced by defaults
func New(m Meter, cfg Config) *Recorder {
	if cfg.Prefix == "" {
		cfg.Prefix = "power_log"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = DefaultMaxMisses
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Recorder{meter: m, cfg: cfg}
}

// Start begins a session at the given cadence, or the configured one if
// interval is zero.  It fails with ErrSessionActive if a session is already
// running, and without touching the disk if the instrument does not answer
// the probe read.
func (r *Recorder) Start(interval time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrSessionActive
	}
	if interval <= 0 {
		interval = r.cfg.Interval
	}

	probe, err := r.meter.ReadPower()
	if err != nil {
		return fmt.Errorf("recorder: instrument unavailable: %w", err)
	}

	start := time.Now()
	if r.cfg.Dir != "" {
		if err := os.MkdirAll(r.cfg.Dir, 0777); err != nil {
			return err
		}
	}
	name := fmt.Sprintf("%s_%s.txt", r.cfg.Prefix, start.Format(timestampLayout))
	path := filepath.Join(r.cfg.Dir, name)
	// O_EXCL: a session started within the same second as an existing file
	// fails rather than interleaving two sessions in one file
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(f, "elapsed_s\tpower_w\n"); err != nil {
		f.Close()
		return err
	}
	if _, err := fmt.Fprintf(f, "%.3f\t%.6e\n", time.Since(start).Seconds(), probe); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	r.power.Init(r.cfg.Capacity)
	r.times.Init(r.cfg.Capacity)
	r.power.Append(probe)
	r.times.Append(start)

	r.running = true
	r.start = start
	r.out = f
	r.path = path
	r.stop = make(chan struct{}, 1)
	r.done = make(chan struct{})
	r.misses = 0
	r.lastErr = nil
	go r.run(interval)
	return nil
}

// Stop ends the active session after any in-flight tick and closes the log
// file before returning.  It is a no-op when no session is active.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	stop, done := r.stop, r.done
	r.mu.Unlock()
	select {
	case stop <- struct{}{}:
	default: // a stop is already pending
	}
	<-done
}

// run is the acquisition loop.  One goroutine per session; reads and writes
// are strictly sequential, so a slow read delays the next tick rather than
// overlapping it.
func (r *Recorder) run(interval time.Duration) {
	defer close(r.done)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-r.stop:
			r.mu.Lock()
			r.finalize(nil)
			r.mu.Unlock()
			return
		case <-tick.C:
			if !r.sample() {
				return
			}
		}
	}
}

// sample performs one tick.  It returns false when the session has ended.
func (r *Recorder) sample() bool {
	// read outside the lock; it may block for the instrument timeout and
	// Stop must stay callable meanwhile
	p, rerr := r.meter.ReadPower()
	elapsed := time.Since(r.start).Seconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	if rerr != nil {
		r.misses++
		log.Printf("power read failed (%d consecutive): %v", r.misses, rerr)
		if r.misses >= r.cfg.MaxMisses {
			r.finalize(fmt.Errorf("recorder: aborting after %d consecutive read failures: %w", r.misses, rerr))
			return false
		}
		return true
	}
	r.misses = 0
	_, werr := fmt.Fprintf(r.out, "%.3f\t%.6e\n", elapsed, p)
	if werr == nil {
		werr = r.out.Sync()
	}
	if werr != nil {
		r.finalize(fmt.Errorf("recorder: log write failed: %w", werr))
		return false
	}
	r.power.Append(p)
	r.times.Append(time.Now())
	return true
}

// finalize closes the file and returns the recorder to idle.  The caller
// must hold the mutex; the running guard makes the close exactly-once.
func (r *Recorder) finalize(cause error) {
	if !r.running {
		return
	}
	r.running = false
	r.lastErr = cause
	if err := r.out.Close(); err != nil && cause == nil {
		r.lastErr = err
	}
	if cause != nil {
		log.Printf("session ended: %v, partial log preserved at %s", cause, r.path)
	}
}

// Running returns true while a session is active
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastFile returns the path of the current or most recent log file
func (r *Recorder) LastFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Err returns the error that ended the last session, nil after a clean stop
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Elapsed returns the age of the active session, zero when idle
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return 0
	}
	return time.Since(r.start)
}

// Recent returns copies of the recent sample buffers, least to most recent
func (r *Recorder) Recent() ([]float64, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power.Contiguous(), r.times.Contiguous()
}
