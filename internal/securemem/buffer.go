// Package securemem provides zeroed, optionally mlocked buffers for secret
// key material, passphrases and signatures. Buffers are zero-initialized on
// allocation, pinned against swap on a best-effort basis, and guaranteed to
// be wiped on release. An optional canary guard detects heap overflow of
// the payload region at release time.
package securemem

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// GuardMode selects the overflow instrumentation applied to new buffers.
type GuardMode int

const (
	// GuardNone allocates the payload with no sentinel bytes.
	GuardNone GuardMode = iota
	// GuardCanary surrounds the payload with sentinel words verified on
	// release. A mismatch means an overflow already happened and is treated
	// as a fatal integrity violation.
	GuardCanary
)

const (
	canarySize       = 16
	canaryHeadMagic  = 0xDEADBEEFCAFEBABE
	canaryTailMagic  = 0xFEEDFACE12345678
)

// Stats describes the state of the secure allocator.
type Stats struct {
	MlockAvailable  bool   // false means degraded security: pages may swap
	LiveAllocations uint64
	LiveBytes       uint64
	TotalAllocs     uint64
	CanaryFaults    uint64
	ReleaseMismatch uint64
}

// Buffer owns a wiped-on-release byte region. The zero value is not usable;
// call Alloc.
type Buffer struct {
	backing []byte // header-free backing incl. guards
	payload []byte // sub-slice of backing handed to the caller
	length  int    // requested length, verified on Release
	locked  bool
	guard   GuardMode
	freed   bool
}

type allocator struct {
	mu      sync.Mutex
	guard   GuardMode
	stats   Stats
	probed  bool
	onFault func(msg string)
	logger  *logrus.Logger
}

var state = allocator{
	guard:  GuardNone,
	logger: logrus.WithField("module", "securemem").Logger,
	onFault: func(msg string) {
		panic("securemem: " + msg)
	},
}

// SetGuardMode selects instrumentation for subsequent allocations.
func SetGuardMode(mode GuardMode) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.guard = mode
}

// SetFaultHandler replaces the fatal integrity handler. The default panics;
// tests install a recorder. The handler must not return control to the
// corrupted buffer.
func SetFaultHandler(fn func(msg string)) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if fn == nil {
		fn = func(msg string) { panic("securemem: " + msg) }
	}
	state.onFault = fn
}

// GetStats returns a snapshot of allocator state.
func GetStats() Stats {
	state.mu.Lock()
	defer state.mu.Unlock()
	probeLocked()
	return state.stats
}

// probeLocked tests mlock capability once. Callers hold state.mu.
func probeLocked() {
	if state.probed {
		return
	}
	state.probed = true
	probe := make([]byte, 4096)
	if tryLock(probe) {
		tryUnlock(probe)
		state.stats.MlockAvailable = true
	} else {
		state.stats.MlockAvailable = false
		state.logger.Warn("mlock unavailable, secret pages may be swapped to disk")
	}
}

// Alloc returns a zero-filled buffer of n bytes. It never returns a
// half-initialized region: on any failure the partial allocation is wiped
// and an error returned.
func Alloc(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("securemem: invalid allocation size %d", n)
	}

	state.mu.Lock()
	guard := state.guard
	probeLocked()
	canLock := state.stats.MlockAvailable
	state.mu.Unlock()

	pad := 0
	if guard == GuardCanary {
		pad = canarySize
	}

	backing := make([]byte, n+2*pad)
	b := &Buffer{
		backing: backing,
		payload: backing[pad : pad+n],
		length:  n,
		guard:   guard,
	}

	if guard == GuardCanary {
		writeCanary(backing[:pad], canaryHeadMagic)
		writeCanary(backing[pad+n:], canaryTailMagic)
	}

	if canLock {
		b.locked = tryLock(backing)
	}

	state.mu.Lock()
	state.stats.LiveAllocations++
	state.stats.LiveBytes += uint64(n)
	state.stats.TotalAllocs++
	state.mu.Unlock()

	return b, nil
}

func writeCanary(dst []byte, magic uint64) {
	for off := 0; off+8 <= len(dst); off += 8 {
		binary.BigEndian.PutUint64(dst[off:], magic)
	}
}

func checkCanary(src []byte, magic uint64) bool {
	for off := 0; off+8 <= len(src); off += 8 {
		if binary.BigEndian.Uint64(src[off:]) != magic {
			return false
		}
	}
	return true
}

// Bytes exposes the payload region. The slice must not outlive the buffer
// and must never be handed to another goroutine without transferring
// ownership of the whole buffer.
func (b *Buffer) Bytes() []byte {
	return b.payload
}

// Len returns the requested length.
func (b *Buffer) Len() int {
	return b.length
}

// Locked reports whether the backing pages were pinned against swap.
func (b *Buffer) Locked() bool {
	return b.locked
}

// Free wipes and releases the buffer using its recorded length.
func (b *Buffer) Free() {
	Release(b, b.length)
}

// Release wipes the full backing region (guards included) and returns it.
// The length must match the allocation; a mismatch is recorded and logged
// as an integrity fault but the region is wiped regardless. A canary
// mismatch indicates an overflow already occurred and is routed to the
// fatal fault handler before the wipe.
func Release(b *Buffer, n int) {
	if b == nil || b.freed {
		return
	}
	b.freed = true

	if n != b.length {
		state.mu.Lock()
		state.stats.ReleaseMismatch++
		state.mu.Unlock()
		state.logger.Errorf("release length mismatch: expected %d, got %d", b.length, n)
	}

	if b.guard == GuardCanary {
		pad := canarySize
		headOK := checkCanary(b.backing[:pad], canaryHeadMagic)
		tailOK := checkCanary(b.backing[pad+b.length:], canaryTailMagic)
		if !headOK || !tailOK {
			state.mu.Lock()
			state.stats.CanaryFaults++
			fault := state.onFault
			state.mu.Unlock()
			fault(fmt.Sprintf("canary violation on release (head_ok=%v tail_ok=%v len=%d)", headOK, tailOK, b.length))
		}
	}

	Clear(b.backing)

	if b.locked {
		tryUnlock(b.backing)
		b.locked = false
	}

	state.mu.Lock()
	state.stats.LiveAllocations--
	state.stats.LiveBytes -= uint64(b.length)
	state.mu.Unlock()
}

// inspectBacking exposes the raw backing region for tests that verify the
// wipe-on-release guarantee.
func (b *Buffer) inspectBacking() []byte {
	return b.backing
}
