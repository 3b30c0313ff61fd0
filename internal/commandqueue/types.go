// Package commandqueue holds the microcontroller command FIFO and the
// recurring-parameter generator that feeds it each broadcast phase.
package commandqueue

import (
	"time"

	"evolverd/internal/config"
)

// PhaseTag selects which parameter set a command's value is drawn from.
type PhaseTag int

const (
	// None marks a command scheduled outside any broadcast phase (an
	// immediate or efflux push); like Data, its values come straight from
	// ExperimentalParams.
	None PhaseTag = iota
	PreReading
	Data
	PostReading
)

func (t PhaseTag) String() string {
	switch t {
	case PreReading:
		return "pre_reading"
	case Data:
		return "data"
	case PostReading:
		return "post_reading"
	default:
		return "none"
	}
}

// Command is one transient unit of work for the serial framer: a param
// name, its value vector, the outgoing sentinel kind, and the phase it
// was scheduled under.
type Command struct {
	Param     string
	Value     []string
	Kind      config.Sentinel
	Phase     PhaseTag
	ArrivedAt time.Time
}
