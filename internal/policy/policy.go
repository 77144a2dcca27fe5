// Package policy holds the stateless permission and sandbox checks the
// plugin host applies to every RPC. The vault root is never reachable
// through the filesystem for a plugin, whatever its manifest claims.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/untoldecay/kira/internal/types"
)

// Permission is one entry of the closed permission set.
type Permission string

const (
	PermCalendarRead    Permission = "calendar.read"
	PermCalendarWrite   Permission = "calendar.write"
	PermVaultRead       Permission = "vault.read"
	PermVaultWrite      Permission = "vault.write"
	PermFSRead          Permission = "fs.read"
	PermFSWrite         Permission = "fs.write"
	PermNet             Permission = "net"
	PermSecretsRead     Permission = "secrets.read"
	PermSecretsWrite    Permission = "secrets.write"
	PermEventsPublish   Permission = "events.publish"
	PermEventsSubscribe Permission = "events.subscribe"
	PermSchedulerCreate Permission = "scheduler.create"
	PermSchedulerCancel Permission = "scheduler.cancel"
	PermSandboxExecute  Permission = "sandbox.execute"
)

// AllPermissions enumerates the closed set.
var AllPermissions = []Permission{
	PermCalendarRead, PermCalendarWrite,
	PermVaultRead, PermVaultWrite,
	PermFSRead, PermFSWrite,
	PermNet,
	PermSecretsRead, PermSecretsWrite,
	PermEventsPublish, PermEventsSubscribe,
	PermSchedulerCreate, PermSchedulerCancel,
	PermSandboxExecute,
}

// Known reports whether a permission string belongs to the closed set.
func Known(p Permission) bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// Sandbox is the per-plugin sandbox configuration from its manifest.
type Sandbox struct {
	Strategy      string   `json:"strategy"`
	TimeoutMS     int      `json:"timeout_ms"`
	MemoryLimitMB int      `json:"memory_limit_mb,omitempty"`
	NetworkAccess bool     `json:"network_access"`
	FSReadPaths   []string `json:"fs_read_paths"`
	FSWritePaths  []string `json:"fs_write_paths"`
}

// Policy binds a plugin's granted permissions to its sandbox config.
type Policy struct {
	Plugin  string
	Granted []Permission
	Sandbox Sandbox
}

// Has reports whether perm was granted.
func (p *Policy) Has(perm Permission) bool {
	for _, g := range p.Granted {
		if g == perm {
			return true
		}
	}
	return false
}

// CheckPermission fails with ErrPermission when perm is not granted.
func CheckPermission(perm Permission, p *Policy) error {
	if !Known(perm) {
		return fmt.Errorf("%w: unknown permission %q", types.ErrValidation, perm)
	}
	if !p.Has(perm) {
		return fmt.Errorf("%w: plugin %s lacks %s", types.ErrPermission, p.Plugin, perm)
	}
	return nil
}

// CheckNetworkAccess requires both the net permission and the sandbox flag.
func CheckNetworkAccess(p *Policy) error {
	if err := CheckPermission(PermNet, p); err != nil {
		return err
	}
	if !p.Sandbox.NetworkAccess {
		return fmt.Errorf("%w: plugin %s sandbox disables network access", types.ErrPermission, p.Plugin)
	}
	return nil
}

// CheckFSReadAccess allows a read only for paths resolving under a
// whitelisted prefix and never under the vault root.
func CheckFSReadAccess(path string, p *Policy, vaultRoot string) error {
	if err := CheckPermission(PermFSRead, p); err != nil {
		return err
	}
	return checkPathAccess(path, p.Sandbox.FSReadPaths, p.Plugin, vaultRoot)
}

// CheckFSWriteAccess is the write-side counterpart of CheckFSReadAccess.
func CheckFSWriteAccess(path string, p *Policy, vaultRoot string) error {
	if err := CheckPermission(PermFSWrite, p); err != nil {
		return err
	}
	return checkPathAccess(path, p.Sandbox.FSWritePaths, p.Plugin, vaultRoot)
}

func checkPathAccess(path string, allowed []string, plugin, vaultRoot string) error {
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %v", types.ErrValidation, path, err)
	}

	if vaultRoot != "" {
		root, err := filepath.Abs(filepath.Clean(vaultRoot))
		if err == nil && underPrefix(resolved, root) {
			return fmt.Errorf("%w: plugin %s may not touch the vault filesystem directly", types.ErrPermission, plugin)
		}
	}

	for _, prefix := range allowed {
		abs, err := filepath.Abs(filepath.Clean(prefix))
		if err != nil {
			continue
		}
		if underPrefix(resolved, abs) {
			return nil
		}
	}
	return fmt.Errorf("%w: plugin %s path %s is outside its whitelist", types.ErrPermission, plugin, path)
}

// underPrefix is a path-component-aware prefix check, so /tmp/foobar does
// not match the /tmp/foo whitelist entry.
func underPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// GetViolations flags semantically inconsistent manifests. Violations are
// diagnostics, not errors: a plugin with them still loads.
func GetViolations(p *Policy) []string {
	var out []string
	for _, g := range p.Granted {
		if !Known(g) {
			out = append(out, fmt.Sprintf("unknown permission %q", g))
		}
	}
	if p.Sandbox.NetworkAccess && !p.Has(PermNet) {
		out = append(out, "sandbox enables network access but the net permission is not granted")
	}
	if p.Has(PermNet) && !p.Sandbox.NetworkAccess {
		out = append(out, "net permission granted but the sandbox disables network access")
	}
	if len(p.Sandbox.FSReadPaths) > 0 && !p.Has(PermFSRead) {
		out = append(out, "fs_read_paths declared without the fs.read permission")
	}
	if len(p.Sandbox.FSWritePaths) > 0 && !p.Has(PermFSWrite) {
		out = append(out, "fs_write_paths declared without the fs.write permission")
	}
	if p.Has(PermFSWrite) && len(p.Sandbox.FSWritePaths) == 0 {
		out = append(out, "fs.write granted but no fs_write_paths are whitelisted")
	}
	return out
}
