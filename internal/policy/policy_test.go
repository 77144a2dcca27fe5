package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/kira/internal/types"
)

func grantedPolicy(perms ...Permission) *Policy {
	return &Policy{
		Plugin:  "test-plugin",
		Granted: perms,
		Sandbox: Sandbox{
			Strategy:      "subprocess",
			TimeoutMS:     5000,
			NetworkAccess: true,
			FSReadPaths:   []string{"/tmp/plugin-data"},
			FSWritePaths:  []string{"/tmp/plugin-data/out"},
		},
	}
}

func TestCheckPermission(t *testing.T) {
	p := grantedPolicy(PermVaultRead)

	assert.NoError(t, CheckPermission(PermVaultRead, p))
	assert.ErrorIs(t, CheckPermission(PermVaultWrite, p), types.ErrPermission)
	assert.ErrorIs(t, CheckPermission("root.everything", p), types.ErrValidation)
}

func TestCheckNetworkAccess(t *testing.T) {
	p := grantedPolicy(PermNet)
	assert.NoError(t, CheckNetworkAccess(p))

	p.Sandbox.NetworkAccess = false
	assert.ErrorIs(t, CheckNetworkAccess(p), types.ErrPermission)

	noPerm := grantedPolicy(PermVaultRead)
	assert.ErrorIs(t, CheckNetworkAccess(noPerm), types.ErrPermission)
}

func TestFSAccessWhitelist(t *testing.T) {
	p := grantedPolicy(PermFSRead, PermFSWrite)
	vault := "/home/sam/vault"

	assert.NoError(t, CheckFSReadAccess("/tmp/plugin-data/config.json", p, vault))
	assert.NoError(t, CheckFSWriteAccess("/tmp/plugin-data/out/result.json", p, vault))

	assert.ErrorIs(t, CheckFSReadAccess("/etc/passwd", p, vault), types.ErrPermission)
	assert.ErrorIs(t, CheckFSWriteAccess("/tmp/plugin-data/readonly.txt", p, vault),
		types.ErrPermission, "read whitelist does not grant writes")
}

func TestVaultRootAlwaysDenied(t *testing.T) {
	p := grantedPolicy(PermFSRead, PermFSWrite)
	vault := "/home/sam/vault"
	p.Sandbox.FSReadPaths = append(p.Sandbox.FSReadPaths, vault)

	// Even a whitelist entry covering the vault cannot open it up.
	err := CheckFSReadAccess("/home/sam/vault/tasks/task-20250115-1430-x.md", p, vault)
	assert.ErrorIs(t, err, types.ErrPermission)

	err = CheckFSReadAccess(vault, p, vault)
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestPathTraversalResolved(t *testing.T) {
	p := grantedPolicy(PermFSRead)
	vault := "/home/sam/vault"

	err := CheckFSReadAccess("/tmp/plugin-data/../../home/sam/vault/notes/n.md", p, vault)
	assert.ErrorIs(t, err, types.ErrPermission)
}

func TestPrefixIsComponentAware(t *testing.T) {
	p := grantedPolicy(PermFSRead)
	p.Sandbox.FSReadPaths = []string{"/tmp/foo"}

	assert.NoError(t, CheckFSReadAccess("/tmp/foo/x", p, ""))
	assert.ErrorIs(t, CheckFSReadAccess("/tmp/foobar/x", p, ""), types.ErrPermission)
}

func TestGetViolations(t *testing.T) {
	p := &Policy{
		Plugin:  "messy",
		Granted: []Permission{PermNet, PermFSWrite, "made.up"},
		Sandbox: Sandbox{NetworkAccess: false},
	}

	violations := GetViolations(p)
	require.Len(t, violations, 3)
	assert.Contains(t, violations[0], "made.up")
}

func TestGetViolationsCleanManifest(t *testing.T) {
	p := grantedPolicy(PermNet, PermFSRead, PermFSWrite, PermVaultRead)
	assert.Empty(t, GetViolations(p))
}
