// Package radiometry provides an HTTP interface to optical power meters
package radiometry

import (
	"net/http"

	"github.com/opticslab/powerlog/generichttp"
)

// PowerReader describes the minimum capability of a power meter
type PowerReader interface {
	// ReadPower reads the current power on the detector
	ReadPower() (float64, error)
}

// RangeManipulator describes a meter with selectable signal ranges
type RangeManipulator interface {
	// SetRange selects a signal range
	SetRange(int) error

	// GetRange returns the selected signal range
	GetRange() (int, error)

	// SetAutoRange enables or disables automatic range selection
	SetAutoRange(bool) error

	// GetAutoRange returns true if automatic range selection is on
	GetAutoRange() (bool, error)
}

// FilterManipulator describes a meter with a selectable measurement filter
type FilterManipulator interface {
	// SetFilter selects the measurement filter
	SetFilter(int) error

	// GetFilter returns the selected measurement filter
	GetFilter() (int, error)
}

// WavelengthManipulator describes a meter with a calibration wavelength
type WavelengthManipulator interface {
	// SetWavelength sets the calibration wavelength in nanometers
	SetWavelength(int) error

	// GetWavelength returns the calibration wavelength in nanometers
	GetWavelength() (int, error)
}

// UnitsManipulator describes a meter with selectable measurement units
type UnitsManipulator interface {
	// SetUnits selects the measurement units by code
	SetUnits(int) error

	// GetUnits returns the measurement units code
	GetUnits() (int, error)
}

// Identifier describes a device which can identify itself
type Identifier interface {
	// Identification returns the identifying string of the device
	Identification() (string, error)
}

// HTTPPowerMeter wraps a power meter in an HTTP route table.  Routes beyond
// GET /power appear based on the capabilities of the wrapped meter.
type HTTPPowerMeter struct {
	m PowerReader

	// RouteTable maps method/path pairs to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPPowerMeter wraps a meter, upgrading it to each optional interface
// it satisfies
func NewHTTPPowerMeter(m PowerReader) HTTPPowerMeter {
	w := HTTPPowerMeter{m: m}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/power"}: generichttp.GetFloat(m.ReadPower),
	}
	if rm, ok := m.(RangeManipulator); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/range"}] = generichttp.SetInt(rm.SetRange)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/range"}] = generichttp.GetInt(rm.GetRange)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/auto-range"}] = generichttp.SetBool(rm.SetAutoRange)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/auto-range"}] = generichttp.GetBool(rm.GetAutoRange)
	}
	if fm, ok := m.(FilterManipulator); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/filter"}] = generichttp.SetInt(fm.SetFilter)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/filter"}] = generichttp.GetInt(fm.GetFilter)
	}
	if wm, ok := m.(WavelengthManipulator); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/wavelength"}] = generichttp.SetInt(wm.SetWavelength)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/wavelength"}] = generichttp.GetInt(wm.GetWavelength)
	}
	if um, ok := m.(UnitsManipulator); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/units"}] = generichttp.SetInt(um.SetUnits)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/units"}] = generichttp.GetInt(um.GetUnits)
	}
	if id, ok := m.(Identifier); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/identification"}] = generichttp.GetString(id.Identification)
	}
	w.RouteTable = rt
	return w
}

// RT yields the route table for binding or injection
func (h HTTPPowerMeter) RT() generichttp.RouteTable {
	return h.RouteTable
}
