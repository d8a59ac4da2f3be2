// Package ascii contains an injectable HTTP passthrough to ascii hardware
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/opticslab/powerlog/generichttp"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator.  Requests are rate
// limited; a scripted client hammering the passthrough can starve the
// acquisition loop of the instrument's single connection.
type RawWrapper struct {
	Comm RawCommunicator

	limit *rate.Limiter
}

// HTTPRaw provides access to the raw function over HTTP
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	if !rw.limit.Allow() {
		http.Error(w, "raw command rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := rw.Comm.Raw(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a POST /raw route into the route table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw, limit: rate.NewLimiter(rate.Limit(10), 5)}
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
