package gcode

import (
	"fmt"
	"os"
	"path/filepath"

	"evolverd/internal/config"
)

// Program names the motion program being written, used as the gcode
// file's basename.
type Program string

const (
	ProgramAspirate   Program = "aspirate"
	ProgramDispense   Program = "dispense"
	ProgramPrimePumps Program = "prime_pumps"
)

// WriteProgram writes body to <server.GCodeFolder>/<program>.gcode for
// every print server present in bodies.
func WriteProgram(servers []config.PrintServerConfig, program Program, bodies map[int]string) error {
	byIndex := make(map[int]config.PrintServerConfig, len(servers))
	for _, s := range servers {
		byIndex[s.Index] = s
	}
	for index, body := range bodies {
		server, ok := byIndex[index]
		if !ok {
			continue
		}
		path := filepath.Join(server.GCodeFolder, string(program)+".gcode")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("gcode: write %s: %w", path, err)
		}
	}
	return nil
}
