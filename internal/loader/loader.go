// Package loader reads local declarative lighting files and turns them into
// commands for the orchestrator. A file holds either a single command object
// or {"commands": [...]} applied in order.
package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"lumen-agent/internal/core"
)

// Load parses the lighting file at path into ordered commands. Envelope
// errors fail the whole file; effect parameters are validated later, when
// the commands are applied.
func Load(path string) ([]core.Command, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}

	var multi struct {
		Commands []json.RawMessage `json:"commands"`
	}
	if err := json.Unmarshal(raw, &multi); err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}

	entries := multi.Commands
	if len(entries) == 0 {
		entries = []json.RawMessage{raw}
	}

	cmds := make([]core.Command, 0, len(entries))
	for i, entry := range entries {
		cmd, err := core.ParseCommand(entry, core.SourceLocal)
		if err != nil {
			return nil, fmt.Errorf("loader: %s: command %d: %w", path, i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
