/*Package newport provides an interface to Newport photonics instruments.

Currently implemented: the 1918-R optical power meter, over USBTMC, RS-232,
or a TCP terminal server.  The meter speaks an SCPI-like ascii dialect;
PowerMeter1918 wraps that dialect in a Go-first interface, and the mock in
this package stands in for it on benches without hardware.
*/
package newport
