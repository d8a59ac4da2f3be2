package newport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"

	"github.com/opticslab/powerlog/comm"
	"github.com/opticslab/powerlog/scpi"
	"github.com/opticslab/powerlog/usbtmc"
)

// unit codes from the 1918-R command reference, PM:UNITs
var unitNames = map[int]string{
	0: "A",
	1: "V",
	2: "W",
	3: "W/cm^2",
	4: "J",
	5: "J/cm^2",
	6: "dBm",
}

// UnitsName converts a PM:UNITs code to a human readable label
func UnitsName(code int) (string, error) {
	name, ok := unitNames[code]
	if !ok {
		return "", fmt.Errorf("newport: unknown units code %d", code)
	}
	return name, nil
}

// MakeSerConf makes a serial config for the 1918-R's RS-232 port with the
// front panel default baud rate
func MakeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        38400,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// PowerMeter1918 talks to a Newport 1918-R optical power meter
type PowerMeter1918 struct {
	s scpi.SCPI
}

// NewPowerMeter1918 creates a meter connected over a TCP terminal server,
// or RS-232 when serial is true
func NewPowerMeter1918(addr string, serial bool) *PowerMeter1918 {
	var maker comm.CreationFunc
	if serial {
		maker = comm.SerialConnMaker(MakeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	pool := comm.NewPool(1, 10*time.Second, maker)
	return &PowerMeter1918{s: scpi.SCPI{Pool: pool, Handshaking: true}}
}

// NewPowerMeter1918USB creates a meter connected over its native USB port
func NewPowerMeter1918USB() *PowerMeter1918 {
	maker := usbtmc.ConnMaker(usbtmc.NewportVID, usbtmc.Model1918PID, '\n')
	pool := comm.NewPool(1, 10*time.Second, maker)
	return &PowerMeter1918{s: scpi.SCPI{Pool: pool, Handshaking: true}}
}

// Identification returns the meter's identifying string, looking like
// NEWPORT,1918-R,<serial>,<firmware>
func (pm *PowerMeter1918) Identification() (string, error) {
	return pm.s.ReadString("*IDN?")
}

// ReadPower reads the current power on the detector, in the meter's
// configured units (watts unless changed)
func (pm *PowerMeter1918) ReadPower() (float64, error) {
	return pm.s.ReadFloat("PM:P?")
}

// SetRange selects a signal range, 0 (least sensitive) through 7
func (pm *PowerMeter1918) SetRange(r int) error {
	return pm.s.Write("PM:RAN", fmt.Sprint(r))
}

// GetRange returns the selected signal range
func (pm *PowerMeter1918) GetRange() (int, error) {
	return pm.s.ReadInt("PM:RAN?")
}

// SetAutoRange enables or disables automatic range selection
func (pm *PowerMeter1918) SetAutoRange(enabled bool) error {
	return pm.s.Write("PM:AUTO", onOff(enabled))
}

// GetAutoRange returns true if automatic range selection is on
func (pm *PowerMeter1918) GetAutoRange() (bool, error) {
	return pm.s.ReadBool("PM:AUTO?")
}

// SetFilter selects the measurement filter: 0 none, 1 analog, 2 digital,
// 3 analog and digital
func (pm *PowerMeter1918) SetFilter(f int) error {
	return pm.s.Write("PM:FILT", fmt.Sprint(f))
}

// GetFilter returns the selected measurement filter
func (pm *PowerMeter1918) GetFilter() (int, error) {
	return pm.s.ReadInt("PM:FILT?")
}

// SetWavelength sets the calibration wavelength in nanometers
func (pm *PowerMeter1918) SetWavelength(nm int) error {
	return pm.s.Write("PM:Lambda", fmt.Sprint(nm))
}

// GetWavelength returns the calibration wavelength in nanometers
func (pm *PowerMeter1918) GetWavelength() (int, error) {
	return pm.s.ReadInt("PM:Lambda?")
}

// SetUnits selects the measurement units by code, see UnitsName
func (pm *PowerMeter1918) SetUnits(code int) error {
	return pm.s.Write("PM:UNITs", fmt.Sprint(code))
}

// GetUnits returns the measurement units code
func (pm *PowerMeter1918) GetUnits() (int, error) {
	return pm.s.ReadInt("PM:UNITs?")
}

// Raw forwards an arbitrary command to the meter, returning the response
// for queries
func (pm *PowerMeter1918) Raw(cmd string) (string, error) {
	return pm.s.Raw(cmd)
}

// Close releases the meter's connections
func (pm *PowerMeter1918) Close() error {
	return pm.s.Pool.Close()
}

func onOff(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
