// Package fluidics implements the dispense/aspirate routine engine: the
// vial grid and its snake traversal, the vial-to-arm coordinate
// transform, the fluidic event (aspirate/dispense atomic pair), the
// three-segment arm move between windows, and the snake/priming/E-stop
// routines built on top of them.
package fluidics

// VialPitchMM is the spacing between adjacent vial centers, in both the
// row and column directions of a quad's local frame.
const VialPitchMM = 18.0

// RowLength is the number of vials in one row of a quad.
const RowLength = 6

// vialGrid is the quad's vial layout: three rows of six vial indices, in
// traversal order already — row 1 is listed right-to-left because the
// arm traverses it right-to-left, continuing the snake from row 0's
// rightmost vial.
var vialGrid = [3][RowLength]int{
	{0, 1, 2, 3, 4, 5},
	{11, 10, 9, 8, 7, 6},
	{12, 13, 14, 15, 16, 17},
}

// RowTraversal returns the vial indices of row (0, 1 or 2) in the order
// the arm visits them.
func RowTraversal(row int) []int {
	out := make([]int, RowLength)
	copy(out, vialGrid[row][:])
	return out
}

// RowCount is the number of rows per quad.
func RowCount() int { return len(vialGrid) }

// vialCoord returns a vial's position in quad-local millimeters. Column
// is its position within vialGrid[row] (not its vial index), counted from
// the right on odd rows since those are listed right-to-left, and row 0 is
// the far row (highest y); the arm moves y by -VialPitchMM per row
// change.
func vialCoord(row, col int) (x, y float64) {
	if row%2 == 1 {
		col = RowLength - 1 - col
	}
	return float64(col) * VialPitchMM, float64(RowCount()-1-row)*VialPitchMM
}

// VialPosition looks up vial's (x,y) in quad-local millimeters.
func VialPosition(vial int) (x, y float64, ok bool) {
	for row := range vialGrid {
		for col, v := range vialGrid[row] {
			if v == vial {
				x, y := vialCoord(row, col)
				return x, y, true
			}
		}
	}
	return 0, 0, false
}

// PumpOrder returns pumps in row-traversal order: reversed on odd rows so
// the same physical pump always leads the direction of travel, per the
// source's `pump_map.reverse()` on `row_num % 2 > 0`.
func PumpOrder(pumps []string, row int) []string {
	out := make([]string, len(pumps))
	copy(out, pumps)
	if row%2 == 0 {
		return out
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Window is one fluidic event's target: the vials under the needles and
// the pump driving each, index for index.
type Window struct {
	Vials       []int
	ActivePumps []string
}

// WindowSequence returns every window for one row, in traversal order,
// exactly matching the source's incremental active_vials/active_pumps
// sliding algorithm: number_events = RowLength + len(pumps) - 1, each
// event appending the next vial/pump and, once the window is full,
// popping the oldest vial (and, once the row itself runs out, the oldest
// pump too).
func WindowSequence(row []int, pumps []string) []Window {
	p := len(pumps)
	if p == 0 {
		return nil
	}
	numEvents := RowLength + p - 1
	return windowSequenceUniform(row, pumps, numEvents)
}

func windowSequenceUniform(row []int, pumps []string, numEvents int) []Window {
	p := len(pumps)
	var activeVials []int
	var activePumps []string
	windows := make([]Window, 0, numEvents)

	for event := 0; event < numEvents; event++ {
		if event < p {
			activeVials = append(activeVials, row[event])
			activePumps = append(activePumps, pumps[event])
		}
		if event >= p {
			activeVials = activeVials[1:]
			if event < len(row) {
				activeVials = append(activeVials, row[event])
			}
			if event >= len(row) {
				activePumps = activePumps[1:]
			}
		}
		windows = append(windows, Window{
			Vials:       append([]int(nil), activeVials...),
			ActivePumps: append([]string(nil), activePumps...),
		})
	}
	return windows
}

// WindowSequenceHeterogeneous returns non-overlapping windows of width
// len(pumps) for a row holding fluids of distinct, non-interchangeable
// types: windows never share a vial, so ⌈RowLength/P⌉ windows cover the
// row, the last one short if P doesn't divide RowLength.
func WindowSequenceHeterogeneous(row []int, pumps []string) []Window {
	p := len(pumps)
	if p == 0 {
		return nil
	}
	var windows []Window
	for start := 0; start < len(row); start += p {
		end := start + p
		if end > len(row) {
			end = len(row)
		}
		windows = append(windows, Window{
			Vials:       append([]int(nil), row[start:end]...),
			ActivePumps: append([]string(nil), pumps[:end-start]...),
		})
	}
	return windows
}
