package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/13rac1/sqpurge/internal/types"
)

// DefaultFile is where search results land when no other path is configured.
const DefaultFile = "output.json"

// MarshalProjects renders projects as an indented JSON array, exactly as the
// server returned each object. A nil or empty slice renders as [].
func MarshalProjects(projects []types.Project) ([]byte, error) {
	if projects == nil {
		projects = []types.Project{}
	}

	// Names such as "A & B" are written as-is, not as \u0026 escapes.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(projects); err != nil {
		return nil, fmt.Errorf("marshaling JSON: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteJSONFile overwrites path with the JSON array of projects.
func WriteJSONFile(path string, projects []types.Project) error {
	data, err := MarshalProjects(projects)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
