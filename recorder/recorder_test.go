package recorder

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeMeter struct {
	mu       sync.Mutex
	failNext int
	failAll  bool
	calls    int
}

func (m *fakeMeter) ReadPower() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failAll {
		return 0, errors.New("read timed out")
	}
	if m.failNext > 0 {
		m.failNext--
		return 0, errors.New("read timed out")
	}
	return 1e-3 + float64(m.calls)*1e-6, nil
}

func (m *fakeMeter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, *fakeMeter) {
	t.Helper()
	if cfg.Dir == "" {
		dir, err := ioutil.TempDir("", "recorder")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { os.RemoveAll(dir) })
		cfg.Dir = dir
	}
	m := &fakeMeter{}
	return New(m, cfg), m
}

// readRecords parses a log file into elapsed/power columns, skipping the header
func readRecords(t *testing.T, path string) ([]float64, []float64) {
	t.Helper()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) < 1 || lines[0] != "elapsed_s\tpower_w" {
		t.Fatalf("missing or malformed header, got %q", lines[0])
	}
	var elapsed, power []float64
	for _, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			t.Fatalf("malformed record %q", line)
		}
		e, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			t.Fatal(err)
		}
		p, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			t.Fatal(err)
		}
		elapsed = append(elapsed, e)
		power = append(power, p)
	}
	return elapsed, power
}

func TestSessionWritesMonotoneElapsed(t *testing.T) {
	r, _ := newTestRecorder(t, Config{Interval: 10 * time.Millisecond})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(55 * time.Millisecond)
	r.Stop()
	elapsed, power := readRecords(t, r.LastFile())
	if len(elapsed) < 3 {
		t.Fatalf("expected at least 3 records, got %d", len(elapsed))
	}
	if elapsed[0] > 0.005 {
		t.Errorf("first record should be at the session start, elapsed %f", elapsed[0])
	}
	for i := 1; i < len(elapsed); i++ {
		if elapsed[i] <= elapsed[i-1] {
			t.Errorf("elapsed not strictly increasing at record %d: %f then %f", i, elapsed[i-1], elapsed[i])
		}
	}
	for i, p := range power {
		if p <= 0 {
			t.Errorf("record %d has nonpositive power %f", i, p)
		}
	}
	if err := r.Err(); err != nil {
		t.Errorf("clean stop should leave no error, got %v", err)
	}
}

func TestFilenameEncodesStartTime(t *testing.T) {
	r, _ := newTestRecorder(t, Config{Prefix: "bench3", Interval: 50 * time.Millisecond})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	name := filepath.Base(r.LastFile())
	ok, err := regexp.MatchString(`^bench3_\d{8}_\d{6}\.txt$`, name)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("filename %q does not match prefix_YYYYMMDD_HHMMSS.txt", name)
	}
}

func TestStopWithoutSessionIsNoOp(t *testing.T) {
	r, _ := newTestRecorder(t, Config{})
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked with no session active")
	}
	if r.Running() {
		t.Error("recorder should be idle")
	}
}

func TestSecondStartConflicts(t *testing.T) {
	r, _ := newTestRecorder(t, Config{Interval: 10 * time.Millisecond})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	first := r.LastFile()
	err := r.Start(0)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	if r.LastFile() != first {
		t.Errorf("conflicting start changed the log file from %s to %s", first, r.LastFile())
	}
}

func TestStartFailsWhenMeterUnavailable(t *testing.T) {
	r, m := newTestRecorder(t, Config{})
	m.failAll = true
	err := r.Start(0)
	if err == nil {
		t.Fatal("expected an error from the probe read")
	}
	if r.Running() {
		t.Error("failed start should leave the recorder idle")
	}
	entries, err := ioutil.ReadDir(r.cfg.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed start should not create a file, found %d", len(entries))
	}
}

func TestTransientReadFailureSkipsTick(t *testing.T) {
	r, m := newTestRecorder(t, Config{Interval: 10 * time.Millisecond, MaxMisses: 5})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.failNext = 1
	m.mu.Unlock()
	time.Sleep(55 * time.Millisecond)
	if !r.Running() {
		t.Fatal("a single read failure should not end the session")
	}
	r.Stop()
	elapsed, _ := readRecords(t, r.LastFile())
	if len(elapsed) < 3 {
		t.Errorf("sampling should continue after a miss, got %d records", len(elapsed))
	}
}

func TestConsecutiveFailuresAbort(t *testing.T) {
	r, m := newTestRecorder(t, Config{Interval: 5 * time.Millisecond, MaxMisses: 2})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.failAll = true
	m.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	for r.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Running() {
		t.Fatal("session did not abort after consecutive read failures")
	}
	if err := r.Err(); err == nil {
		t.Error("aborted session should report its cause")
	}
	// the probe record written at start survives
	elapsed, _ := readRecords(t, r.LastFile())
	if len(elapsed) < 1 {
		t.Error("partial log should retain records written before the abort")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingWriter) Sync() error                 { return errors.New("disk full") }
func (failingWriter) Close() error                { return nil }

func TestWriteFailureEndsSession(t *testing.T) {
	r, _ := newTestRecorder(t, Config{Interval: 5 * time.Millisecond})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	r.mu.Lock()
	orig := r.out
	r.out = failingWriter{}
	r.mu.Unlock()
	defer orig.Close()
	deadline := time.Now().Add(time.Second)
	for r.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Running() {
		t.Fatal("session did not end after a write failure")
	}
	err := r.Err()
	if err == nil || !strings.Contains(err.Error(), "write") {
		t.Errorf("expected a write failure cause, got %v", err)
	}
}

func TestStopHaltsSampling(t *testing.T) {
	r, m := newTestRecorder(t, Config{Interval: 10 * time.Millisecond})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(35 * time.Millisecond)
	r.Stop()
	calls := m.Calls()
	b1, err := ioutil.ReadFile(r.LastFile())
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := m.Calls(); got != calls {
		t.Errorf("meter read %d more times after Stop", got-calls)
	}
	b2, err := ioutil.ReadFile(r.LastFile())
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) {
		t.Error("log file grew after Stop")
	}
}

func TestRecentTracksSamples(t *testing.T) {
	r, _ := newTestRecorder(t, Config{Interval: 10 * time.Millisecond, Capacity: 8})
	if err := r.Start(0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(45 * time.Millisecond)
	r.Stop()
	power, times := r.Recent()
	if len(power) < 2 || len(times) < 2 {
		t.Fatalf("expected buffered samples, got %d power %d times", len(power), len(times))
	}
	if len(power) != len(times) {
		t.Errorf("buffers out of step, %d power vs %d times", len(power), len(times))
	}
	for i := 1; i < len(times); i++ {
		if times[i].Before(times[i-1]) {
			t.Errorf("timestamps out of order at %d", i)
		}
	}
}
