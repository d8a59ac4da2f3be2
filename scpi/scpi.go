// Package scpi provides primitives for working with devices that speak
// SCPI or SCPI-like ascii dialects, such as the Newport 1918-R.
package scpi

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opticslab/powerlog/comm"
)

const (
	timeout = 5 * time.Second

	respBufSize = 1500
)

// SCPI is a type for encapsulating ascii command communication.  Commands
// are terminated with \n on transmit and responses scanned through \n on
// receipt.
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates whether each Write is followed by an error
	// query, so the device confirms it accepted the input.  The 1918-R
	// answers ERRSTR? with `0,"NO ERROR"` when the queue is clean.
	// Set it at construction; it must not be mutated while the SCPI is
	// in use from multiple goroutines.
	Handshaking bool
}

const errQuery = "ERRSTR?"

// errOK reports whether an ERRSTR? response indicates a clean queue
func errOK(resp string) bool {
	return strings.HasPrefix(resp, "0")
}

// Write sends a command to the device.  If Handshaking is on, the error
// queue is drained afterward and a dirty queue surfaces as the returned
// error.  Use it for set operations, not queries.
func (s *SCPI) Write(cmds ...string) error {
	return s.write(s.Handshaking, cmds...)
}

// write is Write with the handshake decision passed per call, so Raw can
// skip verification without mutating state shared with concurrent writers
func (s *SCPI) write(handshake bool, cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, timeout)
	if err != nil {
		return err
	}
	wrap = comm.NewTerminator(wrap, '\n', '\n')
	_, err = io.WriteString(wrap, strings.Join(cmds, " "))
	if err != nil {
		return err
	}
	if handshake {
		_, err = io.WriteString(wrap, errQuery)
		if err != nil {
			return err
		}
		buf := make([]byte, respBufSize)
		var n int
		n, err = wrap.Read(buf)
		if err != nil {
			return err
		}
		if resp := string(buf[:n]); !errOK(resp) {
			err = fmt.Errorf("scpi: device rejected command: %s", resp)
			return err
		}
	}
	return nil
}

// WriteRead sends a command to the device, then reads the response.  It is
// the underlying mechanism for queries.
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, timeout)
	if err != nil {
		return resp, err
	}
	wrap = comm.NewTerminator(wrap, '\n', '\n')
	_, err = io.WriteString(wrap, strings.Join(cmds, " "))
	if err != nil {
		return resp, err
	}
	buf := make([]byte, respBufSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return resp, err
	}
	resp = buf[:n]
	return resp, nil
}

// ReadString sends a command and returns the response as a string with any
// trailing carriage return stripped
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err == nil && len(resp) > 0 && resp[len(resp)-1] == '\r' {
		resp = resp[:len(resp)-1]
	}
	return string(resp), err
}

// ReadFloat sends a command and parses the response as a float
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadInt sends a command and parses the response as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// ReadBool sends a command and parses the response as a boolean.  The
// 1918-R answers binary queries with 0 or 1.
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	i, err := s.ReadInt(cmds...)
	if err != nil {
		return false, err
	}
	return i != 0, nil
}

// Raw sends a command and returns a response if it was a query, else an
// empty string.  Handshaking is suspended for the call; the caller sees
// exactly what the device said.
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.write(false, str)
}

// PopError gets a single error from the queue on the device, nil if clean
func (s *SCPI) PopError() error {
	str, err := s.ReadString(errQuery)
	if err != nil {
		return err
	}
	if errOK(str) {
		return nil
	}
	return fmt.Errorf(str)
}

// AllErrors drains the device's error queue
func (s *SCPI) AllErrors() []error {
	var errs []error
	for {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
	}
	return errs
}
