//go:build !linux

package registry

// applySchedParams is a no-op where thread affinity is not exposed
func applySchedParams(cfg TaskConfig) error {
	return nil
}
