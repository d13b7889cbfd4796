package compliance

import (
	"encoding/json"
	"fmt"
)

// Manifest is the subset of an app manifest (dxapp.json) the compliance
// checks care about.
type Manifest struct {
	Name            string          `json:"name"`
	Title           string          `json:"title"`
	RunSpec         RunSpec         `json:"runSpec"`
	RegionalOptions map[string]any  `json:"regionalOptions"`
	Developers      []string        `json:"developers"`
	AuthorizedUsers []string        `json:"authorizedUsers"`
	Raw             json.RawMessage `json:"-"`
}

// RunSpec is the execution section of a manifest.
type RunSpec struct {
	Interpreter   string         `json:"interpreter"`
	File          string         `json:"file"`
	Distribution  string         `json:"distribution"`
	Release       string         `json:"release"`
	TimeoutPolicy map[string]any `json:"timeoutPolicy"`
}

// ParseManifest decodes a dxapp.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	m.Raw = data

	return &m, nil
}
