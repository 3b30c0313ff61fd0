package serial

import "fmt"

// ShapeMismatch means the number of fields the caller supplied (or the
// microcontroller returned) did not match the configured field count for
// the named parameter.
type ShapeMismatch struct {
	Param    string
	Expected int
	Got      int
}

func (e *ShapeMismatch) Error() string {
	return fmt.Sprintf("serial: %s: expected %d fields, got %d", e.Param, e.Expected, e.Got)
}

// AddressMismatch means the response's leading token did not start with
// the parameter name that was addressed.
type AddressMismatch struct {
	Param string
	Got   string
}

func (e *AddressMismatch) Error() string {
	return fmt.Sprintf("serial: %s: response addressed %q", e.Param, e.Got)
}

// BadSentinel means the response's sentinel byte was neither DATA nor
// ECHO.
type BadSentinel struct {
	Param string
	Got   byte
}

func (e *BadSentinel) Error() string {
	return fmt.Sprintf("serial: %s: unexpected sentinel %q", e.Param, string(e.Got))
}

// EchoMismatch means an ECHO response's payload did not equal the leading
// values that were sent.
type EchoMismatch struct {
	Param string
	Sent  []string
	Got   []string
}

func (e *EchoMismatch) Error() string {
	return fmt.Sprintf("serial: %s: echo payload %v does not match sent %v", e.Param, e.Got, e.Sent)
}

// IOTimeout means the microcontroller did not respond within the
// configured read deadline.
type IOTimeout struct {
	Param string
	Err   error
}

func (e *IOTimeout) Error() string {
	return fmt.Sprintf("serial: %s: timed out waiting for response: %v", e.Param, e.Err)
}

func (e *IOTimeout) Unwrap() error { return e.Err }
