package ascii_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"

	"github.com/opticslab/powerlog/generichttp"
	"github.com/opticslab/powerlog/generichttp/ascii"
)

// echoComm answers every command with a canned response and remembers
// the last command it saw
type echoComm struct {
	last string
}

func (e *echoComm) Raw(cmd string) (string, error) {
	e.last = cmd
	return "OK", nil
}

type table struct{ rt generichttp.RouteTable }

func (t table) RT() generichttp.RouteTable { return t.rt }

func rawServer(t *testing.T) (*httptest.Server, *echoComm) {
	t.Helper()
	comm := &echoComm{}
	h := table{rt: generichttp.RouteTable{}}
	ascii.InjectRawComm(h, comm)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, comm
}

func post(t *testing.T, url, cmd string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(generichttp.StrT{Str: cmd})
	resp, err := http.Post(url+"/raw", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRawPassesCommandThrough(t *testing.T) {
	srv, comm := rawServer(t)
	resp := post(t, srv.URL, "PM:Lambda 633")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if comm.last != "PM:Lambda 633" {
		t.Errorf("command not forwarded, communicator saw %q", comm.last)
	}
	s := generichttp.StrT{}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Str != "OK" {
		t.Errorf("expected OK, got %q", s.Str)
	}
}

func TestRawIsRateLimited(t *testing.T) {
	srv, _ := rawServer(t)
	limited := false
	for i := 0; i < 20; i++ {
		resp := post(t, srv.URL, "PM:P?")
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("a burst of 20 requests was never rate limited")
	}
}
