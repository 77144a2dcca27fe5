// Package plugin runs third-party extensions as sandboxed subprocesses.
// A plugin never touches the vault filesystem: everything flows through a
// JSON-RPC 2.0 channel on stdin/stdout, checked against the plugin's
// granted permissions on every call.
package plugin

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/untoldecay/kira/internal/policy"
	"github.com/untoldecay/kira/internal/types"
)

// Contributes declares what the plugin adds to the runtime.
type Contributes struct {
	Events   []string `json:"events,omitempty"`
	Commands []string `json:"commands,omitempty"`
	Adapters []string `json:"adapters,omitempty"`
}

// Manifest is the plugin's self-description, loaded from its manifest.json.
type Manifest struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Entry        []string            `json:"entry"`
	Permissions  []policy.Permission `json:"permissions"`
	Sandbox      policy.Sandbox      `json:"sandbox"`
	Capabilities []string            `json:"capabilities,omitempty"`
	Contributes  Contributes         `json:"contributes,omitempty"`
	Engines      map[string]string   `json:"engines,omitempty"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest %s: %v", types.ErrIO, path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest %s: %v", types.ErrValidation, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the structural contract of a manifest.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: manifest needs a name", types.ErrValidation)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: manifest %s needs a version", types.ErrValidation, m.Name)
	}
	if len(m.Entry) == 0 {
		return fmt.Errorf("%w: manifest %s needs an entry command", types.ErrValidation, m.Name)
	}
	for _, p := range m.Permissions {
		if !policy.Known(p) {
			return fmt.Errorf("%w: manifest %s requests unknown permission %q", types.ErrValidation, m.Name, p)
		}
	}
	if m.Sandbox.Strategy != "" && m.Sandbox.Strategy != "subprocess" {
		return fmt.Errorf("%w: manifest %s: unsupported sandbox strategy %q", types.ErrValidation, m.Name, m.Sandbox.Strategy)
	}
	return nil
}

// Policy builds the enforcement view of the manifest.
func (m *Manifest) Policy() *policy.Policy {
	return &policy.Policy{
		Plugin:  m.Name,
		Granted: m.Permissions,
		Sandbox: m.Sandbox,
	}
}
