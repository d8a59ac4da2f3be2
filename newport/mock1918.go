package newport

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ErrMockUnavailable is returned by the mock when failure injection is on
var ErrMockUnavailable = errors.New("newport: mock meter unavailable")

// Mock1918 is a stand-in for a PowerMeter1918 on benches without hardware.
// Readings follow a slow sinusoid around one milliwatt with a little noise.
type Mock1918 struct {
	sync.Mutex
	rng       int
	auto      bool
	filter    int
	wvl       int
	units     int
	epoch     time.Time
	failNext  int
	available bool
}

// NewMock1918 returns a mock meter in its power-on state
func NewMock1918() *Mock1918 {
	return &Mock1918{
		auto:      true,
		wvl:       633,
		units:     2, // watts
		epoch:     time.Now(),
		available: true,
	}
}

// FailNext makes the next n reads fail, for exercising miss handling
func (m *Mock1918) FailNext(n int) {
	m.Lock()
	defer m.Unlock()
	m.failNext = n
}

// SetAvailable toggles whether the mock responds at all
func (m *Mock1918) SetAvailable(ok bool) {
	m.Lock()
	defer m.Unlock()
	m.available = ok
}

// Identification mimics the *IDN? response
func (m *Mock1918) Identification() (string, error) {
	m.Lock()
	defer m.Unlock()
	if !m.available {
		return "", ErrMockUnavailable
	}
	return "NEWPORT,1918-R,MOCK00,0.0.0", nil
}

// ReadPower returns a synthetic power reading in watts
func (m *Mock1918) ReadPower() (float64, error) {
	m.Lock()
	defer m.Unlock()
	if !m.available {
		return 0, ErrMockUnavailable
	}
	if m.failNext > 0 {
		m.failNext--
		return 0, ErrMockUnavailable
	}
	t := time.Since(m.epoch).Seconds()
	p := 1e-3 * (1 + 0.05*math.Sin(t/30) + 0.001*rand.Float64())
	return p, nil
}

// SetRange stores the signal range
func (m *Mock1918) SetRange(r int) error {
	m.Lock()
	defer m.Unlock()
	m.rng = r
	m.auto = false
	return nil
}

// GetRange returns the stored signal range
func (m *Mock1918) GetRange() (int, error) {
	m.Lock()
	defer m.Unlock()
	return m.rng, nil
}

// SetAutoRange stores the auto-range flag
func (m *Mock1918) SetAutoRange(enabled bool) error {
	m.Lock()
	defer m.Unlock()
	m.auto = enabled
	return nil
}

// GetAutoRange returns the auto-range flag
func (m *Mock1918) GetAutoRange() (bool, error) {
	m.Lock()
	defer m.Unlock()
	return m.auto, nil
}

// SetFilter stores the filter selection
func (m *Mock1918) SetFilter(f int) error {
	m.Lock()
	defer m.Unlock()
	m.filter = f
	return nil
}

// GetFilter returns the filter selection
func (m *Mock1918) GetFilter() (int, error) {
	m.Lock()
	defer m.Unlock()
	return m.filter, nil
}

// SetWavelength stores the calibration wavelength
func (m *Mock1918) SetWavelength(nm int) error {
	m.Lock()
	defer m.Unlock()
	m.wvl = nm
	return nil
}

// GetWavelength returns the calibration wavelength
func (m *Mock1918) GetWavelength() (int, error) {
	m.Lock()
	defer m.Unlock()
	return m.wvl, nil
}

// SetUnits stores the units code
func (m *Mock1918) SetUnits(code int) error {
	if _, err := UnitsName(code); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.units = code
	return nil
}

// GetUnits returns the units code
func (m *Mock1918) GetUnits() (int, error) {
	m.Lock()
	defer m.Unlock()
	return m.units, nil
}

// Close is a no-op on the mock
func (m *Mock1918) Close() error { return nil }
