//go:build linux

package plugin

import (
	"golang.org/x/sys/unix"

	"github.com/untoldecay/kira/internal/policy"
)

// applyResourceLimits caps the child's address space and CPU time and
// disables core dumps. Limits apply from the outside via prlimit so the
// plugin binary needs no cooperation.
func applyResourceLimits(pid int, sb policy.Sandbox) error {
	if sb.MemoryLimitMB > 0 {
		mem := uint64(sb.MemoryLimitMB) << 20
		if err := unix.Prlimit(pid, unix.RLIMIT_AS,
			&unix.Rlimit{Cur: mem, Max: mem}, nil); err != nil {
			return err
		}
	}
	if sb.TimeoutMS > 0 {
		cpu := uint64(sb.TimeoutMS/1000 + 10)
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU,
			&unix.Rlimit{Cur: cpu, Max: cpu}, nil); err != nil {
			return err
		}
	}
	return unix.Prlimit(pid, unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}, nil)
}
