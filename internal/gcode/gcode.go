// Package gcode turns a per-pump step instruction into the motion program
// a print-server board runs. Building a program is a pure function: no
// I/O, no device state, so the field-shape and step-decomposition
// properties can be tested without an HTTP client in the loop.
package gcode

import (
	"fmt"
	"sort"

	"evolverd/internal/config"
)

// pumpAxis maps a motor channel to its G-code axis letter. Two-motor
// boards use X and Y for their plunger axes.
func pumpAxis(motorChannel int) string {
	axes := []string{"X", "Y", "Z", "E"}
	if motorChannel >= 0 && motorChannel < len(axes) {
		return axes[motorChannel]
	}
	return fmt.Sprintf("A%d", motorChannel)
}

func valvePulse(pump config.PumpConfig, amount int) string {
	return fmt.Sprintf("M42 P%d S%d", pump.ValveChannel, amount)
}

// aspirateLines is the draw-in program for one pump. A zero-step request
// is a true no-op: aspirate has no valve state to preserve, so nothing is
// emitted.
func aspirateLines(pump config.PumpConfig, steps int) []string {
	if steps == 0 {
		return nil
	}
	axis := pumpAxis(pump.MotorChannel)
	return []string{
		"G91",
		fmt.Sprintf("G1 %s%d F%g", axis, steps, pump.PlungerSpeedIn),
		"M18",
	}
}

// dispenseLines is the dispense program for one pump. Unlike aspirate,
// dispense always opens and closes its own valve — including on a
// zero-step request, where the valve is pulsed with S0 rather than
// ValveSteps, matching the board's expected line shape without actually
// actuating it. Each pump's block is independent and returned whole, so
// a board holding two pumps can concatenate them without one pump's
// zero-step branch ever touching the other's valve lines.
func dispenseLines(pump config.PumpConfig, steps int, primed bool) []string {
	if steps == 0 {
		return []string{valvePulse(pump, 0), "G4 P120", valvePulse(pump, 0), "M18"}
	}

	lines := []string{valvePulse(pump, pump.ValveSteps), "G4 P120"}
	axis := pumpAxis(pump.MotorChannel)
	outStroke := steps
	if primed {
		outStroke += pump.PrimingSteps
	}
	lines = append(lines, "G91", fmt.Sprintf("G1 %s-%d F%g", axis, outStroke, pump.PlungerSpeedOut))
	if primed {
		lines = append(lines, "G4 P120", fmt.Sprintf("G1 %s%d F%g", axis, pump.PrimingSteps, pump.PlungerSpeedIn))
	}
	lines = append(lines, "G4 P150", valvePulse(pump, 0), "M18")
	return lines
}

// primePumpsLines is the priming program for one pump: always runs,
// independent of any requested step count.
func primePumpsLines(pump config.PumpConfig) []string {
	axis := pumpAxis(pump.MotorChannel)
	return []string{
		valvePulse(pump, pump.ValveSteps),
		"G4 P120",
		"G91",
		fmt.Sprintf("G1 %s%d F%g", axis, pump.PrimingSteps, pump.PlungerSpeedIn),
		"G4 P150",
		valvePulse(pump, 0),
		"M18",
	}
}

// Builder groups pumps by the print-server board they share and builds
// the three motion programs named by the Program constants.
type Builder struct {
	pumps   map[string]config.PumpConfig
	servers []config.PrintServerConfig
}

// NewBuilder wraps the pump bank and print-server bank from configuration.
func NewBuilder(pumps map[string]config.PumpConfig, servers []config.PrintServerConfig) *Builder {
	return &Builder{pumps: pumps, servers: servers}
}

type boardPump struct {
	id  string
	cfg config.PumpConfig
}

// boardPumps returns every pump assigned to serverIndex's board, ordered
// by motor channel so program output is deterministic.
func (b *Builder) boardPumps(serverIndex int) []boardPump {
	var out []boardPump
	for id, cfg := range b.pumps {
		if cfg.OctoprintID == serverIndex {
			out = append(out, boardPump{id: id, cfg: cfg})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.MotorChannel < out[j].cfg.MotorChannel })
	return out
}

// Aspirate builds the aspirate.gcode body for every print server that has
// at least one pump, keyed by server index.
func (b *Builder) Aspirate(steps map[string]int) map[int]string {
	return b.build(func(pump config.PumpConfig, id string) []string {
		return aspirateLines(pump, steps[id])
	})
}

// Dispense builds the dispense.gcode body for every print server.
func (b *Builder) Dispense(steps map[string]int, primed bool) map[int]string {
	return b.build(func(pump config.PumpConfig, id string) []string {
		return dispenseLines(pump, steps[id], primed)
	})
}

// PrimePumps builds the prime_pumps.gcode body for every print server.
func (b *Builder) PrimePumps() map[int]string {
	return b.build(func(pump config.PumpConfig, id string) []string {
		return primePumpsLines(pump)
	})
}

func (b *Builder) build(fn func(pump config.PumpConfig, id string) []string) map[int]string {
	out := make(map[int]string, len(b.servers))
	for _, server := range b.servers {
		var lines []string
		for _, bp := range b.boardPumps(server.Index) {
			lines = append(lines, fn(bp.cfg, bp.id)...)
		}
		out[server.Index] = joinLines(lines)
	}
	return out
}

func joinLines(lines []string) string {
	body := ""
	for i, l := range lines {
		if i > 0 {
			body += "\n"
		}
		body += l
	}
	return body
}

// DecomposeSteps splits a requested step count S across a pump's
// max_steps into ⌊S/M⌋ full-stroke events of M plus, when S mod M is
// nonzero, one trailing fractional event of S mod M, in that order; an
// exact multiple of M gets no trailing zero event. A request smaller than M
// (including zero, a pump opting out of this round) is a single
// fractional event. The events always sum back to S.
func DecomposeSteps(requested, maxSteps int) []int {
	if maxSteps <= 0 {
		return []int{requested}
	}
	full := requested / maxSteps
	remainder := requested % maxSteps

	events := make([]int, 0, full+1)
	for i := 0; i < full; i++ {
		events = append(events, maxSteps)
	}
	if remainder > 0 || full == 0 {
		events = append(events, remainder)
	}
	return events
}
