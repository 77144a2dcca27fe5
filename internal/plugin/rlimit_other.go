//go:build !linux

package plugin

import "github.com/untoldecay/kira/internal/policy"

// applyResourceLimits is a no-op where prlimit is unavailable; the sandbox
// still gets subprocess isolation and the sanitized environment.
func applyResourceLimits(int, policy.Sandbox) error {
	return nil
}
