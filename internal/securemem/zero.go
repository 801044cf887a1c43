package securemem

import (
	"crypto/subtle"
	"runtime"
)

// Clear wipes p in a way the compiler cannot elide. subtle.XORBytes with
// the buffer itself is a data dependency the optimizer must honor; the
// KeepAlive pins the slice until the wipe is done.
func Clear(p []byte) {
	if len(p) == 0 {
		return
	}
	subtle.XORBytes(p, p, p)
	runtime.KeepAlive(&p[0])
}

// Equal compares two equal-length regions in constant time. The length
// check is the only data-independent short circuit; differing lengths are
// not secret.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
