package comm

import (
	"bytes"
	"io"
	"time"
)

// deadliner is the subset of net.Conn used to enforce timeouts
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// timeoutWrapper sets deadlines on the underlying connection before each
// Read and Write
type timeoutWrapper struct {
	rw      io.ReadWriter
	d       deadliner
	timeout time.Duration
}

// NewTimeout wraps rw so that each Read and Write carries a deadline.  If
// the connection has no deadline support (serial ports, USB endpoints), rw
// is returned unchanged; those transports bound their reads on their own.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	d, ok := rw.(deadliner)
	if !ok {
		return rw, nil
	}
	return &timeoutWrapper{rw: rw, d: d, timeout: timeout}, nil
}

func (t *timeoutWrapper) Read(p []byte) (int, error) {
	err := t.d.SetReadDeadline(time.Now().Add(t.timeout))
	if err != nil {
		return 0, err
	}
	return t.rw.Read(p)
}

func (t *timeoutWrapper) Write(p []byte) (int, error) {
	err := t.d.SetWriteDeadline(time.Now().Add(t.timeout))
	if err != nil {
		return 0, err
	}
	return t.rw.Write(p)
}

// terminator appends the Tx terminator on writes and scans for (and strips)
// the Rx terminator on reads
type terminator struct {
	rw      io.ReadWriter
	tx, rx  byte
	pending []byte // bytes read past the terminator, held for the next Read
}

// NewTerminator wraps rw so that writes are suffixed with tx and reads
// consume through rx, returning the payload without it.  One Read returns
// one whole response regardless of how the transport fragments it; works
// for both stream (TCP, serial) and message (USBTMC) transports.
func NewTerminator(rw io.ReadWriter, tx, rx byte) io.ReadWriter {
	return &terminator{rw: rw, tx: tx, rx: rx}
}

func (t *terminator) Write(p []byte) (int, error) {
	buf := make([]byte, len(p)+1)
	copy(buf, p)
	buf[len(p)] = t.tx
	n, err := t.rw.Write(buf)
	if n == len(buf) {
		n--
	}
	return n, err
}

func (t *terminator) Read(p []byte) (int, error) {
	chunk := make([]byte, 1500)
	for {
		if i := bytes.IndexByte(t.pending, t.rx); i >= 0 {
			if i > len(p) {
				return 0, ErrBufferTooSmall
			}
			n := copy(p, t.pending[:i])
			t.pending = t.pending[i+1:]
			return n, nil
		}
		n, err := t.rw.Read(chunk)
		if n > 0 {
			t.pending = append(t.pending, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				err = ErrTerminatorNotFound
			}
			return 0, err
		}
	}
}
