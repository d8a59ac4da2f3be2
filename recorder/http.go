package recorder

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/opticslab/powerlog/generichttp"
)

// Status is the JSON shape of GET /status
type Status struct {
	// Running is true while a session is active
	Running bool `json:"running"`

	// File is the path of the current or most recent log file
	File string `json:"file"`

	// ElapsedS is seconds since the session started, zero when idle
	ElapsedS float64 `json:"elapsedS"`

	// Error describes how the last session ended, empty for a clean stop
	Error string `json:"error,omitempty"`
}

// Recent is the JSON shape of GET /recent, parallel arrays of the buffered
// samples from least to most recent
type Recent struct {
	Power []float64   `json:"power"`
	Times []time.Time `json:"times"`
}

// HTTPRecorder wraps a Recorder in an HTTP route table
type HTTPRecorder struct {
	r *Recorder

	// RouteTable maps method/path pairs to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPRecorder wraps a Recorder for HTTP control
func NewHTTPRecorder(r *Recorder) HTTPRecorder {
	h := HTTPRecorder{r: r}
	h.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}: h.Start,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:  h.Stop,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}: h.Status,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/recent"}: h.Recent,
	}
	return h
}

// RT yields the route table for binding or injection
func (h HTTPRecorder) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Start begins a session.  The body may hold json:f64 with the cadence in
// seconds; an empty body uses the configured cadence, a malformed one is
// rejected.  Returns 409 if a session is already active and 502 if the
// instrument does not answer.
func (h HTTPRecorder) Start(w http.ResponseWriter, r *http.Request) {
	var interval time.Duration
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	switch err {
	case nil:
		interval = time.Duration(f.F64 * float64(time.Second))
	case io.EOF: // no body, use the configured cadence
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.r.Start(interval)
	if err != nil {
		if errors.Is(err, ErrSessionActive) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Stop ends the active session, a no-op when idle
func (h HTTPRecorder) Stop(w http.ResponseWriter, r *http.Request) {
	h.r.Stop()
	w.WriteHeader(http.StatusOK)
}

// Status returns the session state as JSON
func (h HTTPRecorder) Status(w http.ResponseWriter, r *http.Request) {
	s := Status{
		Running:  h.r.Running(),
		File:     h.r.LastFile(),
		ElapsedS: h.r.Elapsed().Seconds(),
	}
	if err := h.r.Err(); err != nil {
		s.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Recent returns the buffered samples as JSON
func (h HTTPRecorder) Recent(w http.ResponseWriter, r *http.Request) {
	power, times := h.r.Recent()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(Recent{Power: power, Times: times})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
