//go:build !unix

package securemem

// No page locking on this platform; allocations proceed in degraded mode.
func tryLock(p []byte) bool { return false }

func tryUnlock(p []byte) {}
