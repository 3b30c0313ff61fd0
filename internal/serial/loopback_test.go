package serial

import "io"

// loopbackPort pairs two io.Pipe halves into a Port, used by tests to
// stand in for a real character device without touching hardware.
type loopbackPort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p loopbackPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p loopbackPort) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p loopbackPort) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}
func (p loopbackPort) Flush() error { return nil }

// newLoopback returns two Ports wired to each other: bytes written to one
// are read from the other.
func newLoopback() (host, device loopbackPort) {
	hostToDevice := newPipe()
	deviceToHost := newPipe()
	host = loopbackPort{r: deviceToHost.r, w: hostToDevice.w}
	device = loopbackPort{r: hostToDevice.r, w: deviceToHost.w}
	return host, device
}

type pipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipe() pipe {
	r, w := io.Pipe()
	return pipe{r: r, w: w}
}
