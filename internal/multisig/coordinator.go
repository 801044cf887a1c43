package multisig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/internal/keys"
	"github.com/gnostr-org/signerd/internal/securemem"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/storage"
)

// DefaultSessionTimeout bounds how long a session collects signatures.
const DefaultSessionTimeout = 300 * time.Second

// Requester dispatches sign requests to remote bunker cosigners.
// Responses come back asynchronously through AddSignature / Reject.
type Requester interface {
	RequestSignature(ctx context.Context, cosigner types.Cosigner, sessionID, eventJSON string) error
}

// Approver prompts for local non-auto approval. May block.
type Approver interface {
	PromptMultisigApproval(sessionID, eventJSON string, eventKind int, walletName string) bool
}

// Callbacks deliver session outcomes. Each session fires OnComplete or
// OnFailure exactly once; OnProgress fires after every accepted partial.
type Callbacks struct {
	OnProgress func(status types.SessionStatus)
	OnComplete func(sessionID, finalSignature string)
	OnFailure  func(sessionID string, err error)
}

// Coordinator owns the session table. All state mutations happen under
// one mutex; callbacks and blocking calls run outside it.
type Coordinator struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	finals    map[string]string
	backend   keys.SigningBackend
	requester Requester
	approver  Approver
	db        storage.DatabaseStorage
	timeout   time.Duration
	callbacks Callbacks
	logger    *logrus.Logger
	now       func() time.Time
}

// NewCoordinator builds a coordinator. requester, approver and db may be
// nil when the deployment has no remote cosigners, no UI, or no
// persistence.
func NewCoordinator(backend keys.SigningBackend, requester Requester, approver Approver, db storage.DatabaseStorage, timeout time.Duration, callbacks Callbacks) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Coordinator{
		sessions:  make(map[string]*Session),
		finals:    make(map[string]string),
		backend:   backend,
		requester: requester,
		approver:  approver,
		db:        db,
		timeout:   timeout,
		callbacks: callbacks,
		logger:    logrus.WithField("service", "multisig").Logger,
		now:       time.Now,
	}
}

// StartSigning opens a session for wallet over eventJSON and kicks off
// local signing and remote dispatch. The returned snapshot reflects the
// session right after dispatch began.
func (c *Coordinator) StartSigning(ctx context.Context, wallet *types.Wallet, eventJSON string, autoSignLocal bool, sessionID string) (types.SessionStatus, error) {
	if len(wallet.Cosigners) < int(wallet.ThresholdM) {
		return types.SessionStatus{}, fmt.Errorf("%w: wallet %s has %d cosigners for threshold %d",
			types.ErrInvalidConfig, wallet.ID, len(wallet.Cosigners), wallet.ThresholdM)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	now := c.now()
	session := &Session{
		id:         sessionID,
		walletID:   wallet.ID,
		walletName: wallet.Name,
		eventJSON:  eventJSON,
		eventKind:  keys.EventKind(eventJSON),
		required:   wallet.ThresholdM,
		signers:    make(map[types.PublicKey]*signerState, len(wallet.Cosigners)),
		createdAt:  now,
		expiresAt:  now.Add(c.timeout),
	}
	for i := range wallet.Cosigners {
		session.signers[wallet.Cosigners[i].PublicKey] = &signerState{
			cosigner: wallet.Cosigners[i],
			status:   types.SignerPending,
		}
	}

	c.mu.Lock()
	if _, exists := c.sessions[sessionID]; exists {
		c.mu.Unlock()
		return types.SessionStatus{}, fmt.Errorf("%w: session %s", types.ErrDuplicate, sessionID)
	}
	session.timer = time.AfterFunc(c.timeout, func() { c.handleTimeout(sessionID) })
	c.sessions[sessionID] = session
	snapshot := session.snapshot()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"wallet":  wallet.ID,
		"kind":    session.eventKind,
	}).Info("signing session started")

	c.dispatch(ctx, session, wallet, autoSignLocal)
	return snapshot, nil
}

// dispatch runs outside the lock: backend signing, UI prompts and remote
// sends may all block.
func (c *Coordinator) dispatch(ctx context.Context, session *Session, wallet *types.Wallet, autoSignLocal bool) {
	for i := range wallet.Cosigners {
		cosigner := wallet.Cosigners[i]
		switch cosigner.Kind {
		case types.CosignerLocal:
			c.signLocal(session.id, session.eventJSON, session.eventKind, wallet.Name, cosigner, autoSignLocal)
		case types.CosignerRemoteBunker:
			c.requestRemote(ctx, session.id, session.eventJSON, cosigner)
		}
	}
}

func (c *Coordinator) signLocal(sessionID, eventJSON string, eventKind int, walletName string, cosigner types.Cosigner, autoSign bool) {
	if !autoSign && !cosigner.IsSelf {
		if c.approver == nil || !c.approver.PromptMultisigApproval(sessionID, eventJSON, eventKind, walletName) {
			if err := c.Reject(sessionID, cosigner.PublicKey, "local approval denied"); err != nil {
				c.logger.WithError(err).Debug("local rejection not recorded")
			}
			return
		}
	}

	sig, err := c.backend.SignEvent(eventJSON, cosigner.PublicKey)
	if err != nil {
		c.markSignerError(sessionID, cosigner.PublicKey, err)
		return
	}
	sigHex := string(sig.Bytes())
	addErr := c.AddSignature(sessionID, cosigner.PublicKey, sigHex)
	sig.Free()
	if addErr != nil {
		c.logger.WithError(addErr).WithField("session", sessionID).Warn("local signature not accepted")
	}
}

func (c *Coordinator) requestRemote(ctx context.Context, sessionID, eventJSON string, cosigner types.Cosigner) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if ok {
		if state := session.signers[cosigner.PublicKey]; state != nil && state.status == types.SignerPending {
			state.status = types.SignerRequested
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if c.requester == nil {
		c.markSignerError(sessionID, cosigner.PublicKey, fmt.Errorf("%w: no remote transport configured", types.ErrRemoteFailed))
		return
	}
	if err := c.requester.RequestSignature(ctx, cosigner, sessionID, eventJSON); err != nil {
		c.markSignerError(sessionID, cosigner.PublicKey, fmt.Errorf("%w: %v", types.ErrRemoteFailed, err))
	}
}

// AddSignature records one partial signature. Rejects unknown sessions,
// signers outside the wallet, and double-submission.
func (c *Coordinator) AddSignature(sessionID string, signer types.PublicKey, partialHex string) error {
	c.mu.Lock()

	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	state, ok := session.signers[signer]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is not part of wallet %s", types.ErrInvalidSigner, signer, session.walletID)
	}
	if state.status == types.SignerSigned {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s already signed session %s", types.ErrDuplicate, signer, sessionID)
	}

	buf, err := securemem.Alloc(len(partialHex))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	copy(buf.Bytes(), partialHex)
	state.partial = buf
	state.status = types.SignerSigned
	session.collected++
	session.order = append(session.order, signer)

	snapshot := session.snapshot()
	done := session.collected >= session.required
	c.mu.Unlock()

	c.persistPartial(sessionID, signer, partialHex)
	if c.callbacks.OnProgress != nil {
		c.callbacks.OnProgress(snapshot)
	}
	if done {
		c.finish(sessionID)
	}
	return nil
}

// Reject records a signer's refusal. The session fails early once the
// threshold can no longer be reached.
func (c *Coordinator) Reject(sessionID string, signer types.PublicKey, reason string) error {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	state, ok := session.signers[signer]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is not part of wallet %s", types.ErrInvalidSigner, signer, session.walletID)
	}
	if state.status.Terminal() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s already finished for session %s", types.ErrDuplicate, signer, sessionID)
	}
	state.status = types.SignerRejected
	unreachable := !session.reachable()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"signer":  signer,
		"reason":  reason,
	}).Info("cosigner rejected signing request")

	if unreachable {
		c.fail(sessionID, fmt.Errorf("%w: too many rejections", types.ErrThresholdNotMet))
	}
	return nil
}

// Cancel aborts a session immediately.
func (c *Coordinator) Cancel(sessionID string) error {
	c.mu.Lock()
	if _, ok := c.sessions[sessionID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	c.mu.Unlock()

	c.fail(sessionID, types.ErrCanceled)
	return nil
}

// SessionStatus snapshots one live session.
func (c *Coordinator) SessionStatus(sessionID string) (types.SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok := c.sessions[sessionID]
	if !ok {
		return types.SessionStatus{}, fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	return session.snapshot(), nil
}

// FinalSignature returns the combined signature of a completed session.
func (c *Coordinator) FinalSignature(sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sig, ok := c.finals[sessionID]; ok {
		return sig, nil
	}
	if _, ok := c.sessions[sessionID]; ok {
		return "", fmt.Errorf("%w: session %s has not reached threshold", types.ErrThresholdNotMet, sessionID)
	}
	return "", fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
}

// ActiveSessions lists snapshots of every live session.
func (c *Coordinator) ActiveSessions() []types.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.SessionStatus, 0, len(c.sessions))
	for _, session := range c.sessions {
		out = append(out, session.snapshot())
	}
	return out
}

// finish aggregates and completes a session. Exactly one of finish, fail
// and handleTimeout wins; the losers see the session gone from the table.
func (c *Coordinator) finish(sessionID string) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok || session.isComplete {
		c.mu.Unlock()
		return
	}
	session.isComplete = true
	session.stopTimer()
	delete(c.sessions, sessionID)
	partials := session.takePartials()
	c.mu.Unlock()

	var finalSig string
	var err error
	if len(partials) == 1 {
		finalSig = partials[0].SignatureHex
	} else {
		finalSig, err = AggregateSignatures(partials)
	}

	c.cleanupPersisted(sessionID)
	if err != nil {
		c.logger.WithError(err).WithField("session", sessionID).Error("signature aggregation failed")
		if c.callbacks.OnFailure != nil {
			c.callbacks.OnFailure(sessionID, err)
		}
		return
	}

	c.mu.Lock()
	c.finals[sessionID] = finalSig
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"session":  sessionID,
		"partials": len(partials),
	}).Info("signing session complete")
	if c.callbacks.OnComplete != nil {
		c.callbacks.OnComplete(sessionID, finalSig)
	}
}

func (c *Coordinator) fail(sessionID string, cause error) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok || session.isComplete {
		c.mu.Unlock()
		return
	}
	session.isComplete = true
	session.stopTimer()
	delete(c.sessions, sessionID)
	for _, state := range session.signers {
		if !state.status.Terminal() {
			state.status = types.SignerError
		}
	}
	session.wipe()
	c.mu.Unlock()

	c.cleanupPersisted(sessionID)
	c.logger.WithError(cause).WithField("session", sessionID).Warn("signing session failed")
	if c.callbacks.OnFailure != nil {
		c.callbacks.OnFailure(sessionID, cause)
	}
}

func (c *Coordinator) handleTimeout(sessionID string) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok || session.isComplete {
		c.mu.Unlock()
		return
	}
	session.isComplete = true
	session.timer = nil
	delete(c.sessions, sessionID)
	for _, state := range session.signers {
		if state.status == types.SignerPending || state.status == types.SignerRequested {
			state.status = types.SignerTimedOut
		}
	}
	session.wipe()
	c.mu.Unlock()

	c.cleanupPersisted(sessionID)
	c.logger.WithField("session", sessionID).Warn("signing session timed out")
	if c.callbacks.OnFailure != nil {
		c.callbacks.OnFailure(sessionID, types.ErrTimeout)
	}
}

func (c *Coordinator) markSignerError(sessionID string, signer types.PublicKey, cause error) {
	c.mu.Lock()
	session, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	state, ok := session.signers[signer]
	if !ok || state.status.Terminal() {
		c.mu.Unlock()
		return
	}
	state.status = types.SignerError
	unreachable := !session.reachable()
	c.mu.Unlock()

	c.logger.WithError(cause).WithFields(logrus.Fields{
		"session": sessionID,
		"signer":  signer,
	}).Error("cosigner failed")

	if unreachable {
		c.fail(sessionID, fmt.Errorf("%w: too many signer failures", types.ErrThresholdNotMet))
	}
}

// persistPartial stores the partial for crash recovery. TODO: encrypt
// partial signatures at rest before a multi-tenant deployment.
func (c *Coordinator) persistPartial(sessionID string, signer types.PublicKey, partialHex string) {
	if c.db == nil {
		return
	}
	record := types.PartialSignatureRecord{
		SessionID:    sessionID,
		SignerPubkey: signer,
		SignatureHex: partialHex,
		ReceivedAt:   c.now().UTC(),
	}
	if err := c.db.SavePartialSignature(context.Background(), record); err != nil {
		c.logger.WithError(err).WithField("session", sessionID).Warn("failed to persist partial signature")
	}
}

func (c *Coordinator) cleanupPersisted(sessionID string) {
	if c.db == nil {
		return
	}
	if err := c.db.DeletePartialSignatures(context.Background(), sessionID); err != nil {
		c.logger.WithError(err).WithField("session", sessionID).Warn("failed to drop persisted partials")
	}
}
