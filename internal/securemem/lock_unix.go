//go:build unix

package securemem

import "golang.org/x/sys/unix"

// tryLock pins p's pages against swap. Failure is non-fatal; the caller
// records degraded state.
func tryLock(p []byte) bool {
	if len(p) == 0 {
		return false
	}
	return unix.Mlock(p) == nil
}

func tryUnlock(p []byte) {
	if len(p) == 0 {
		return
	}
	_ = unix.Munlock(p)
}
