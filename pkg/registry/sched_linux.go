//go:build linux

package registry

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applySchedParams pins the calling OS thread to cfg.Core and sets its
// niceness. The caller must hold runtime.LockOSThread.
func applySchedParams(cfg TaskConfig) error {
	if cfg.Core >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(cfg.Core)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("failed to pin to core %d: %w", cfg.Core, err)
		}
	}

	if cfg.Priority != 0 {
		nice := -cfg.Priority
		if nice < -20 {
			nice = -20
		} else if nice > 19 {
			nice = 19
		}
		if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice); err != nil {
			return fmt.Errorf("failed to set niceness %d: %w", nice, err)
		}
	}
	return nil
}
