package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/opticslab/powerlog/generichttp"
	"github.com/opticslab/powerlog/generichttp/ascii"
	"github.com/opticslab/powerlog/generichttp/radiometry"
	"github.com/opticslab/powerlog/newport"
	"github.com/opticslab/powerlog/recorder"
	"github.com/opticslab/powerlog/server/middleware/locker"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

// MeterSetup describes how the instrument is reached
type MeterSetup struct {
	// Addr holds the network or filesystem address of the meter,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyUSB0 for an RS232 link
	Addr string `yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (true) or TCP (false)
	Serial bool `yaml:"Serial"`

	// USB, if true, talks USBTMC directly over the meter's USB port
	// and Addr is ignored
	USB bool `yaml:"USB"`
}

// RecordSetup holds the logging session parameters
type RecordSetup struct {
	// Dir is the directory log files are created in
	Dir string `yaml:"Dir"`

	// Prefix is the log filename prefix
	Prefix string `yaml:"Prefix"`

	// IntervalS is the default sample cadence in seconds
	IntervalS float64 `yaml:"IntervalS"`

	// MaxMisses is the consecutive read failure budget before a session aborts
	MaxMisses int `yaml:"MaxMisses"`

	// Capacity is the depth of the recent-sample buffer served at /record/recent
	Capacity int `yaml:"Capacity"`
}

// Config is a struct that holds the initialization parameters for the server.
// It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock replaces the hardware with a simulator
	Mock bool `yaml:"Mock"`

	// Endpoint is the path the meter routes are served under,
	// ex. "/omc/power-meter" produces routes of /omc/power-meter/power, etc.
	Endpoint string `yaml:"Endpoint"`

	Meter MeterSetup `yaml:"Meter"`

	Record RecordSetup `yaml:"Record"`
}

// BuildMux constructs a chi mux with the meter and recorder routes mounted
// under the configured endpoint.  The mux serves a special route, /endpoints,
// which returns all routes grouped by mount point as JSON.
func BuildMux(c Config) chi.Router {
	// make the root handler
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	var m radiometry.PowerReader
	switch {
	case c.Mock:
		m = newport.NewMock1918()
	case c.Meter.USB:
		m = newport.NewPowerMeter1918USB()
	default:
		m = newport.NewPowerMeter1918(c.Meter.Addr, c.Meter.Serial)
	}
	httper := radiometry.NewHTTPPowerMeter(m)
	if raw, ok := m.(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(httper, raw)
	}

	rec := recorder.New(m, recorder.Config{
		Dir:       c.Record.Dir,
		Prefix:    c.Record.Prefix,
		Interval:  time.Duration(c.Record.IntervalS * float64(time.Second)),
		MaxMisses: c.Record.MaxMisses,
		Capacity:  c.Record.Capacity,
	})
	recHTTP := recorder.NewHTTPRecorder(rec)
	rt := httper.RT()
	for mp, handler := range recHTTP.RT() {
		rt[generichttp.MethodPath{Method: mp.Method, Path: "/record" + mp.Path}] = handler
	}

	// prepare the URL, "omc/power-meter" => "/omc/power-meter"
	hndlS := generichttp.SubMuxSanitize(c.Endpoint)

	// add the endpoints to the graph
	supergraph[hndlS] = httper.RT().Endpoints()

	// add a lock interface for this node
	lock := locker.New()
	locker.Inject(httper, lock)

	// bind to the mux
	r := chi.NewRouter()
	r.Use(lock.Check)
	httper.RT().Bind(r)
	root.Mount(hndlS, r)

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
