/*Package comm provides connection pooling and io wrappers for lab hardware.

Devices in this repository keep their connections in a Pool, which opens them
lazily and frees idle ones after a timeout.  A consumer takes a connection
with Get, decorates it with NewTimeout and NewTerminator, speaks to the
device, and hands it back with ReturnWithError so that junk connections are
destroyed instead of reused.

The makers at the bottom of this file produce connections over TCP (with
exponential backoff; terminal servers do not like being connection thrashed)
or RS-232.
*/
package comm

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not
	// found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found in response")

	// ErrBufferTooSmall is generated when a response does not fit in the
	// buffer passed to Read
	ErrBufferTooSmall = errors.New("response does not fit in read buffer")
)

// CreationFunc is a function which returns a new "connection" to something.
// a closure should be used to encapsulate the variables needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool holds one or more connections to a device.  Connections are closed
// if they go unused for the timeout and re-opened as needed.  It is
// concurrent safe.  Pools must be created with NewPool.
//
// Capacity is tracked with the slots channel: each live connection has
// consumed one token, and closing a connection puts its token back.  A Get
// blocked on an exhausted pool therefore wakes on either a returned
// connection or on Destroy freeing capacity, and never holds a lock while
// it waits.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	timeout time.Duration           // idle time after which all connections are freed
	conns   chan io.ReadWriteCloser // returned connections waiting for reuse
	slots   chan struct{}           // unused capacity; a token permits a dial
	timer   *time.Timer             // fires when the idle pool should be drained
	maker   CreationFunc

	reclaiming bool
	mu         sync.Mutex
}

// NewPool creates a new Pool.  maxSize bounds the number of simultaneous
// connections to the device; most instruments in this repository only
// tolerate one.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		slots:   make(chan struct{}, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
	}
	for i := 0; i < maxSize; i++ {
		p.slots <- struct{}{}
	}
	p.timer.Stop() // nothing to reclaim yet
	return p
}

// Get retrieves a connection from the pool, blocking until one is available
// if all are leased out.  When done, return it with Put or ReturnWithError,
// or discard it with Destroy if it has gone bad.
//
// If the error from Get is not nil, the connection must not be returned to
// the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.timer.Stop()
	select {
	case c := <-p.conns:
		return c, nil
	default:
	}
	// nothing idle; wait for a returned connection or for capacity to be
	// freed by a Destroy, whichever comes first
	select {
	case c := <-p.conns:
		return c, nil
	case <-p.slots:
		c, err := p.maker()
		if err != nil {
			p.slots <- struct{}{} // failed dial does not consume capacity
			return nil, err
		}
		return c, nil
	}
}

// Put restores a connection to the pool for reuse.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.conns <- rwc
	if p.Active() == 0 {
		p.startReclaim()
	}
}

// Destroy closes a connection and removes it from the pool's accounting,
// releasing its capacity to any waiting Get.  Use it instead of Put when
// the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.slots <- struct{}{}
}

// ReturnWithError calls Destroy if err is non-nil, otherwise Put.  It exists
// so that consumers can hand back connections in a one-line defer.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections held by the pool or leased from it.
func (p *Pool) Size() int {
	return p.maxSize - len(p.slots)
}

// Active returns the number of leased connections.
func (p *Pool) Active() int {
	return p.maxSize - len(p.slots) - len(p.conns)
}

// Close closes every idle connection in the pool.  Leased connections are
// the lessee's problem.
func (p *Pool) Close() error {
	var err error
	for {
		select {
		case c := <-p.conns:
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
			p.slots <- struct{}{}
		default:
			return err
		}
	}
}

// startReclaim spawns a goroutine which closes all pooled connections after
// the idle timeout elapses
func (p *Pool) startReclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	p.timer.Reset(p.timeout)
	go func() {
		<-p.timer.C
		p.mu.Lock()
		defer p.mu.Unlock()
		p.reclaiming = false
		for {
			select {
			case c := <-p.conns:
				c.Close()
				p.slots <- struct{}{}
			default:
				return
			}
		}
	}()
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr over TCP,
// retrying with exponential backoff.  Connection-refused errors are treated
// as permanent; the device is not there.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by conf.  Timeouts are enforced by conf.ReadTimeout, not by
// NewTimeout, since serial ports have no deadline support.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}
