/*Package usbtmc implements datagram framing for USB Test and Measurement
Class devices, sufficient to carry the ascii dialect of the Newport 1918-R
optical power meter over its bulk endpoints.

This is a minimum viable implementation: single-packet messages only, no
chatter/ping-pong for data that does not fit in the remote buffer.  The
1918-R's longest responses are well under one bulk transfer.

To send a message, a DEV_DEP_MSG_OUT header is prepended and the total
transmission padded to a multiple of 4 bytes.  To receive, a
REQUEST_DEV_DEP_MSG_IN header is written to the Out endpoint and the
response read from the In endpoint with its 12-byte header popped.  These
are surfaced as Write and Read so a Device satisfies io.ReadWriteCloser and
slots into a comm.Pool.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"

	"github.com/opticslab/powerlog/comm"
)

const (
	// NewportVID is Newport Corporation's USB vendor ID
	NewportVID = 0x104d

	// Model1918PID is the product ID of the 1918-R, from the vendor inf file
	Model1918PID = 0xcec7

	reserved = 0x00

	msgDevDepOut       = 0x01 // DEV_DEP_MSG_OUT, USBTMC table 2
	msgRequestDevDepIn = 0x02 // REQUEST_DEV_DEP_MSG_IN

	headerLen = 12

	bufSize = 1500
)

// bTagGen produces the unique, incrementing transfer tags the standard
// requires.  It is concurrent safe.
type bTagGen struct {
	sync.Mutex
	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1 // zero is not a legal bTag
	}
	return b.value
}

// invbTag computes the bitwise inversion of a bTag, standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encOutHeader builds the DEV_DEP_MSG_OUT header, standard table 3.
// every message is marked end-of-message; multi-transfer streams are not
// supported here.
func encOutHeader(tag byte, datalen int) [headerLen]byte {
	var out [headerLen]byte
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // EOM
	return out
}

// encInHeader builds the REQUEST_DEV_DEP_MSG_IN header, standard table 4,
// asking the device to terminate the response on term.
func encInHeader(tag byte, bufsize int, term byte) [headerLen]byte {
	var out [headerLen]byte
	out[0] = msgRequestDevDepIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	out[8] = 0x02 // term char enabled
	out[9] = term
	return out
}

// Device is a USBTMC instrument exposed as an io.ReadWriteCloser
type Device struct {
	tagger bTagGen
	term   byte
	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	done   func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
}

// Open connects to the first device matching the vendor and product IDs and
// claims its bulk endpoints.  term is the response terminator the device is
// asked to honor, '\n' for the 1918-R.
func Open(vid, pid uint16, term byte) (*Device, error) {
	d := &Device{term: term, ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("usbtmc: no device with VID:PID %04x:%04x attached", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	d.iface, d.done, err = d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	for _, desc := range d.iface.Setting.Endpoints {
		if desc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if desc.Direction == gousb.EndpointDirectionIn {
			d.in, err = d.iface.InEndpoint(desc.Number)
		} else {
			d.out, err = d.iface.OutEndpoint(desc.Number)
		}
		if err != nil {
			d.Close()
			return nil, err
		}
	}
	if d.in == nil || d.out == nil {
		d.Close()
		return nil, fmt.Errorf("usbtmc: device lacks a bulk endpoint pair")
	}
	return d, nil
}

// Write frames p as a single device-dependent message and sends it
func (d *Device) Write(p []byte) (int, error) {
	const alignment = 4
	hdr := encOutHeader(d.tagger.next(), len(p))
	buf := append(hdr[:], p...)
	if residual := len(buf) % alignment; residual > 0 {
		buf = append(buf, make([]byte, alignment-residual)...)
	}
	_, err := d.out.Write(buf)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read requests a device-dependent message and copies the payload into p
func (d *Device) Read(p []byte) (int, error) {
	hdr := encInHeader(d.tagger.next(), bufSize, d.term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return 0, err
	}
	if n < headerLen {
		return 0, fmt.Errorf("usbtmc: wrote %d of %d header bytes for read request", n, headerLen)
	}
	buf := make([]byte, bufSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	if n < headerLen {
		return 0, fmt.Errorf("usbtmc: received %d bytes, need at least %d to form a header", n, headerLen)
	}
	payload := buf[headerLen:n]
	if len(payload) > len(p) {
		return copy(p, payload), io.ErrShortBuffer
	}
	return copy(p, payload), nil
}

// Close releases the interface and USB context
func (d *Device) Close() error {
	if d.done != nil {
		d.done()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if cerr := d.ctx.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ConnMaker adapts Open to the comm.Pool creation interface
func ConnMaker(vid, pid uint16, term byte) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return Open(vid, pid, term)
	}
}
