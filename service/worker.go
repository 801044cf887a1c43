// Package service hosts the queue worker that drives threshold signing
// sessions to completion.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/internal/history"
	"github.com/gnostr-org/signerd/internal/keys"
	"github.com/gnostr-org/signerd/internal/multisig"
	"github.com/gnostr-org/signerd/internal/nip46"
	"github.com/gnostr-org/signerd/internal/tasks"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/internal/wallet"
	"github.com/gnostr-org/signerd/storage"
)

type sessionOutcome struct {
	signature string
	err       error
}

// WorkerService consumes threshold-sign tasks, runs the coordinator and
// reports the final signature as the task result.
type WorkerService struct {
	cfg         config.Config
	redis       *storage.RedisStorage
	db          storage.DatabaseStorage
	wallets     *wallet.Service
	coordinator *multisig.Coordinator
	remotes     *nip46.Manager
	history     *history.Store
	sdClient    *statsd.Client
	logger      *logrus.Logger

	mu      sync.Mutex
	waiters map[string]chan sessionOutcome
}

// NewWorker wires the signing pipeline for the queue process.
func NewWorker(cfg config.Config, redis *storage.RedisStorage, db storage.DatabaseStorage, backend keys.SigningBackend, identity types.PublicKey, sdClient *statsd.Client) *WorkerService {
	w := &WorkerService{
		cfg:      cfg,
		redis:    redis,
		db:       db,
		wallets:  wallet.NewService(db, nil),
		remotes:  nip46.NewManager(identity),
		history:  history.NewStore(db),
		sdClient: sdClient,
		logger:   logrus.WithField("service", "worker").Logger,
		waiters:  make(map[string]chan sessionOutcome),
	}

	timeout := time.Duration(cfg.Signing.TimeoutSeconds) * time.Second
	w.coordinator = multisig.NewCoordinator(backend, w.remotes, nil, db, timeout, multisig.Callbacks{
		OnComplete: func(sessionID, finalSig string) {
			w.deliver(sessionID, sessionOutcome{signature: finalSig})
		},
		OnFailure: func(sessionID string, err error) {
			w.deliver(sessionID, sessionOutcome{err: err})
		},
	})
	w.remotes.SetSink(w.coordinator)
	return w
}

func (w *WorkerService) deliver(sessionID string, outcome sessionOutcome) {
	w.mu.Lock()
	ch, ok := w.waiters[sessionID]
	delete(w.waiters, sessionID)
	w.mu.Unlock()
	if ok {
		ch <- outcome
	}
}

func (w *WorkerService) incCounter(name string, tags []string) {
	if w.sdClient == nil {
		return
	}
	if err := w.sdClient.Count(name, 1, tags, 1); err != nil {
		w.logger.Errorf("fail to count metric, err: %v", err)
	}
}

// HandleThresholdSign processes one queued signing session.
func (w *WorkerService) HandleThresholdSign(ctx context.Context, t *asynq.Task) error {
	var p tasks.ThresholdSignPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.incCounter("worker.threshold.sign", []string{"result:malformed"})
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	w.logger.WithFields(logrus.Fields{
		"session": p.SessionID,
		"wallet":  p.WalletID,
	}).Info("joining threshold signing")

	timeout := time.Duration(w.cfg.Signing.TimeoutSeconds) * time.Second
	claimed, err := w.redis.ClaimSigningTask(ctx, p.SessionID, timeout)
	if err != nil {
		return fmt.Errorf("fail to claim signing task: %w", err)
	}
	if !claimed {
		w.logger.WithField("session", p.SessionID).Warn("session already in flight, skipping retry")
		return nil
	}
	defer func() {
		if err := w.redis.ReleaseSigningTask(context.Background(), p.SessionID); err != nil {
			w.logger.Errorf("fail to release signing task claim, err: %v", err)
		}
	}()

	walletDoc, err := w.wallets.Get(ctx, p.WalletID)
	if err != nil {
		w.incCounter("worker.threshold.sign", []string{"result:wallet_missing"})
		return fmt.Errorf("fail to load wallet %s: %v: %w", p.WalletID, err, asynq.SkipRetry)
	}

	ch := make(chan sessionOutcome, 1)
	w.mu.Lock()
	w.waiters[p.SessionID] = ch
	w.mu.Unlock()

	if _, err := w.coordinator.StartSigning(ctx, walletDoc, p.EventJSON, p.AutoSignLocal, p.SessionID); err != nil {
		w.mu.Lock()
		delete(w.waiters, p.SessionID)
		w.mu.Unlock()
		w.incCounter("worker.threshold.sign", []string{"result:start_failed"})
		return fmt.Errorf("fail to start signing session: %v: %w", err, asynq.SkipRetry)
	}

	var outcome sessionOutcome
	select {
	case outcome = <-ch:
	case <-ctx.Done():
		if err := w.coordinator.Cancel(p.SessionID); err != nil {
			w.logger.WithError(err).Debug("session already settled at shutdown")
		}
		return ctx.Err()
	}

	if outcome.err != nil {
		w.incCounter("worker.threshold.sign", []string{"result:failed"})
		w.recordOutcome(ctx, p, types.HistoryError)
		return fmt.Errorf("signing session %s failed: %v: %w", p.SessionID, outcome.err, asynq.SkipRetry)
	}
	w.recordOutcome(ctx, p, types.HistoryApproved)

	result := types.ThresholdSignResponse{
		SessionID:    p.SessionID,
		SignatureHex: outcome.signature,
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("json.Marshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if _, err := t.ResultWriter().Write(resultBytes); err != nil {
		return fmt.Errorf("t.ResultWriter.Write failed: %v: %w", err, asynq.SkipRetry)
	}

	w.incCounter("worker.threshold.sign", []string{"result:ok"})
	w.logger.WithField("session", p.SessionID).Info("threshold signing complete")
	return nil
}

// recordOutcome appends the settled session to the signing decision log.
func (w *WorkerService) recordOutcome(ctx context.Context, p tasks.ThresholdSignPayload, outcome types.HistoryOutcome) {
	entry := types.HistoryEntry{
		EventKind: -1,
		Identity:  types.PublicKey(w.cfg.Signer.Identity),
		Method:    "threshold_sign",
		Outcome:   outcome,
	}
	if ev, err := keys.ParseEvent(p.EventJSON); err == nil {
		entry.EventID = ev.ID
		entry.EventKind = ev.Kind
	}
	w.history.Record(ctx, entry)
}

// Coordinator exposes the live session table for control-plane queries.
func (w *WorkerService) Coordinator() *multisig.Coordinator {
	return w.coordinator
}

// Remotes exposes the remote signer connection table.
func (w *WorkerService) Remotes() *nip46.Manager {
	return w.remotes
}

// Close tears down remote connections.
func (w *WorkerService) Close() {
	w.remotes.Close()
}
