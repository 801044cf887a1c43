package bunker

import (
	"fmt"
	"sync"
	"time"

	"github.com/gnostr-org/signerd/internal/types"
)

// DefaultDecisionWait bounds how long a parked request waits for a
// decision before being denied.
const DefaultDecisionWait = 60 * time.Second

// ChannelApprover parks interactive decisions until something resolves
// them, typically the control API. A request left unresolved past the
// wait window is denied.
type ChannelApprover struct {
	mu      sync.Mutex
	waiting map[string]chan bool
	wait    time.Duration
}

func NewChannelApprover(wait time.Duration) *ChannelApprover {
	if wait <= 0 {
		wait = DefaultDecisionWait
	}
	return &ChannelApprover{
		waiting: make(map[string]chan bool),
		wait:    wait,
	}
}

// AuthorizeConnect parks a connect decision keyed by the client pubkey.
func (a *ChannelApprover) AuthorizeConnect(client types.PublicKey, appName string, permissions []string) bool {
	return a.await("connect-" + string(client))
}

// ApproveSignRequest parks a sign decision keyed by the request id.
func (a *ChannelApprover) ApproveSignRequest(req types.PendingSignRequest) bool {
	return a.await(req.RequestID)
}

func (a *ChannelApprover) await(id string) bool {
	ch := make(chan bool, 1)
	a.mu.Lock()
	a.waiting[id] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiting, id)
		a.mu.Unlock()
	}()

	select {
	case approved := <-ch:
		return approved
	case <-time.After(a.wait):
		return false
	}
}

// Resolve answers one parked request.
func (a *ChannelApprover) Resolve(requestID string, approve bool) error {
	a.mu.Lock()
	ch, ok := a.waiting[requestID]
	delete(a.waiting, requestID)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no pending decision %s", types.ErrNotFound, requestID)
	}
	ch <- approve
	return nil
}

// Waiting lists the ids of parked decisions.
func (a *ChannelApprover) Waiting() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.waiting))
	for id := range a.waiting {
		out = append(out, id)
	}
	return out
}
