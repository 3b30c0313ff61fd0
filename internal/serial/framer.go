package serial

import (
	"fmt"
	"strings"
	"sync"

	"evolverd/internal/config"
	"evolverd/internal/rigclock"
)

// Framer speaks the microcontroller's line protocol over a Port:
//
//	outgoing: <param><sentinel>,<v1>,...,<vN-1>,<END_OUT>
//	incoming: <param><sentinel>,<v1>,...,<vM-1>,<END_IN>
//
// A single exclusive lock is held for the full request/response/ack
// exchange, so the port is never shared between two in-flight requests.
type Framer struct {
	port  Port
	cfg   config.SerialConfig
	clock rigclock.Clock
	mu    sync.Mutex
}

// NewFramer wraps port using the serial link parameters in cfg.
func NewFramer(port Port, cfg config.SerialConfig) *Framer {
	return &Framer{port: port, cfg: cfg, clock: rigclock.Real()}
}

// WithClock overrides the Framer's Clock, for deterministic tests.
func (f *Framer) WithClock(c rigclock.Clock) *Framer {
	f.clock = c
	return f
}

// Send transmits values for param under the given outgoing sentinel and
// waits for the microcontroller's response.
//
// The exchange runs in order: validate the outgoing shape; drain any
// stale buffered bytes; write the frame; wait the inter-message delay;
// read one response line and strip its terminator; split it into fields;
// check the response addresses param; check its field count; check its
// sentinel is DATA or ECHO; on ECHO, check the payload equals the leading
// values that were sent; write an ACK frame of the same outgoing shape; wait the
// inter-message delay again. It returns (payload, true, nil) for a DATA
// response, or (nil, false, nil) for a matching ECHO.
func (f *Framer) Send(param string, values []string, kind config.Sentinel, fieldsOut, fieldsIn int) ([]string, bool, error) {
	if len(values)+1 != fieldsOut {
		return nil, false, &ShapeMismatch{Param: param, Expected: fieldsOut, Got: len(values) + 1}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if fl, ok := f.port.(Flusher); ok {
		if err := fl.Flush(); err != nil {
			return nil, false, fmt.Errorf("serial: %s: flush: %w", param, err)
		}
	}

	if err := f.writeFrame(param, kind, values); err != nil {
		return nil, false, fmt.Errorf("serial: %s: write: %w", param, err)
	}
	f.clock.Sleep(f.cfg.InterMessageDelay)

	line, err := f.readLine(param)
	if err != nil {
		return nil, false, err
	}

	payload, respSentinel, err := f.parseResponse(param, line, fieldsIn)
	if err != nil {
		return nil, false, err
	}

	isData := respSentinel == f.cfg.Data
	if respSentinel == f.cfg.Echo {
		// An ECHO response carries fieldsIn-1 fields, almost always fewer
		// than the fieldsOut-1 values that were sent (a single
		// confirmation field against a long outgoing vector is typical).
		// The echo is valid when it matches the corresponding prefix of
		// what was sent.
		if len(payload) > len(values) || !equalFields(payload, values[:len(payload)]) {
			return nil, false, &EchoMismatch{Param: param, Sent: values, Got: payload}
		}
	}

	ackValues := make([]string, fieldsOut-1)
	if err := f.writeFrame(param, f.cfg.Ack, ackValues); err != nil {
		return nil, false, fmt.Errorf("serial: %s: write ack: %w", param, err)
	}
	f.clock.Sleep(f.cfg.InterMessageDelay)

	if isData {
		return payload, true, nil
	}
	return nil, false, nil
}

func (f *Framer) writeFrame(param string, kind config.Sentinel, values []string) error {
	var b strings.Builder
	b.WriteString(param)
	b.WriteByte(byte(kind))
	for _, v := range values {
		b.WriteByte(',')
		b.WriteString(v)
	}
	b.WriteString(f.cfg.EndOut)
	_, err := f.port.Write([]byte(b.String()))
	return err
}

// readLine reads bytes one at a time until the accumulated buffer ends
// with EndIn, then returns the buffer with that suffix stripped.
func (f *Framer) readLine(param string) (string, error) {
	if d, ok := f.port.(Deadliner); ok && f.cfg.IOTimeout > 0 {
		_ = d.SetReadDeadline(f.clock.Now().Add(f.cfg.IOTimeout))
	}

	var buf []byte
	one := make([]byte, 1)
	end := []byte(f.cfg.EndIn)
	for {
		n, err := f.port.Read(one)
		if n > 0 {
			buf = append(buf, one[0])
			if len(end) > 0 && len(buf) >= len(end) && string(buf[len(buf)-len(end):]) == string(end) {
				return string(buf[:len(buf)-len(end)]), nil
			}
		}
		if err != nil {
			return "", &IOTimeout{Param: param, Err: err}
		}
	}
}

// parseResponse splits a stripped response line into its payload fields
// and its sentinel byte, validating field count and address prefix along
// the way.
func (f *Framer) parseResponse(param, line string, fieldsIn int) (payload []string, sentinel config.Sentinel, err error) {
	parts := strings.Split(line, ",")
	if len(parts) == 0 {
		return nil, 0, &ShapeMismatch{Param: param, Expected: fieldsIn, Got: 0}
	}
	addr := parts[0]
	payload = parts[1:]

	if !strings.HasPrefix(addr, param) {
		return nil, 0, &AddressMismatch{Param: param, Got: addr}
	}
	if len(payload)+1 != fieldsIn {
		return nil, 0, &ShapeMismatch{Param: param, Expected: fieldsIn, Got: len(payload) + 1}
	}
	sentByte := addr[len(param):]
	if len(sentByte) != 1 {
		return nil, 0, &BadSentinel{Param: param, Got: 0}
	}
	sentinel = config.Sentinel(sentByte[0])
	if sentinel != f.cfg.Data && sentinel != f.cfg.Echo {
		return nil, 0, &BadSentinel{Param: param, Got: byte(sentinel)}
	}
	return payload, sentinel, nil
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
