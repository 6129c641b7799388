// Package scheduler drains the persisted transfer-leg queue: the deferred
// principal transfers of targeted checks. Because legs are rows, not
// in-memory timers, a process restart picks up where it left off.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/csmith1188/FormBank/internal/integrations/formbar"
	"github.com/csmith1188/FormBank/internal/models"
	"github.com/csmith1188/FormBank/internal/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	pollSpec  = "@every 2s"
	sweepSpec = "@every 1m"
	batchSize = 10

	loadTimeout = 5 * time.Second
	legTimeout  = 15 * time.Second
	// finalizeTimeout bounds the terminal-status writes, which run on their
	// own context: they must land even when the leg's context is already dead.
	finalizeTimeout = 5 * time.Second
	// staleAfter is how long a leg may sit in running before the sweep treats
	// it as abandoned. Well past legTimeout, so a slow but live leg is never
	// reported.
	staleAfter = time.Minute
)

// LegStore is the slice of the ledger store the executor needs
type LegStore interface {
	DueTransferLegs(ctx context.Context, limit int) ([]models.TransferLeg, error)
	StartTransferLeg(ctx context.Context, legID int64) (bool, error)
	FinishTransferLeg(ctx context.Context, legID int64, status string) error
	SetCheckStatus(ctx context.Context, checkID int64, status string) error
	StaleRunningLegs(ctx context.Context, cutoff time.Time) ([]models.TransferLeg, error)
}

// Gateway moves digipogs on the external rail
type Gateway interface {
	Transfer(ctx context.Context, req formbar.TransferRequest) error
}

// Alerter notifies the operator about legs that need manual reconciliation
type Alerter interface {
	SendReconciliationAlert(subject, detail string) error
}

// Executor periodically runs due transfer legs and finalizes their checks
type Executor struct {
	store   LegStore
	gateway Gateway
	alerts  Alerter
	log     *logrus.Logger
	encKey  []byte
	cron    *cron.Cron

	mu       sync.Mutex
	reported map[int64]bool
}

// NewExecutor initializes a new leg executor
func NewExecutor(store LegStore, gateway Gateway, alerts Alerter, log *logrus.Logger, encKey []byte) *Executor {
	return &Executor{
		store:    store,
		gateway:  gateway,
		alerts:   alerts,
		log:      log,
		encKey:   encKey,
		cron:     cron.New(),
		reported: make(map[int64]bool),
	}
}

// Start begins polling for due legs and sweeping for abandoned ones
func (e *Executor) Start() error {
	if _, err := e.cron.AddFunc(pollSpec, e.RunDue); err != nil {
		return err
	}
	if _, err := e.cron.AddFunc(sweepSpec, e.ReportStale); err != nil {
		return err
	}
	e.cron.Start()
	e.log.Infof("Transfer leg executor started (%s, stale sweep %s)", pollSpec, sweepSpec)
	return nil
}

// Stop halts polling and waits for a running poll to finish
func (e *Executor) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
}

// RunDue executes one batch of due legs. Each leg gets its own context so one
// slow gateway call cannot starve the deadline of the legs behind it.
func (e *Executor) RunDue() {
	loadCtx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	legs, err := e.store.DueTransferLegs(loadCtx, batchSize)
	cancel()
	if err != nil {
		e.log.Errorf("Failed to load due transfer legs: %v", err)
		return
	}
	for _, leg := range legs {
		legCtx, cancel := context.WithTimeout(context.Background(), legTimeout)
		e.runLeg(legCtx, leg)
		cancel()
	}
}

func (e *Executor) runLeg(ctx context.Context, leg models.TransferLeg) {
	// The pending->running flip is what keeps a leg from running twice when
	// polls overlap or multiple instances share the queue
	started, err := e.store.StartTransferLeg(ctx, leg.ID)
	if err != nil {
		e.log.Errorf("Failed to start transfer leg %d: %v", leg.ID, err)
		return
	}
	if !started {
		return
	}

	pin, err := utils.DecryptSecret(leg.Secret, e.encKey)
	if err != nil {
		e.log.Errorf("Failed to recover secret for transfer leg %d: %v", leg.ID, err)
		e.finalize(leg, models.LegFailed, models.CheckFailed)
		return
	}

	transferErr := e.gateway.Transfer(ctx, formbar.TransferRequest{
		From:   leg.FromID,
		To:     leg.ToID,
		Amount: leg.Amount,
		PIN:    pin,
		Reason: leg.Reason,
	})
	if transferErr != nil {
		e.log.Warnf("Transfer leg %d for check %d failed: %v", leg.ID, leg.CheckID, transferErr)
		e.finalize(leg, models.LegFailed, models.CheckFailed)
		return
	}

	e.log.Infof("Transfer leg %d for check %d completed (%d digipogs)", leg.ID, leg.CheckID, leg.Amount)
	e.finalize(leg, models.LegDone, models.CheckCompleted)
}

// finalize runs on a fresh context: a claimed leg must reach a terminal
// status even when the transfer burned through the leg's own deadline,
// otherwise it sits in running forever and no poll ever resumes it.
func (e *Executor) finalize(leg models.TransferLeg, legStatus, checkStatus string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := e.store.FinishTransferLeg(ctx, leg.ID, legStatus); err != nil {
		e.log.Errorf("Failed to finish transfer leg %d: %v", leg.ID, err)
	}
	if err := e.store.SetCheckStatus(ctx, leg.CheckID, checkStatus); err != nil {
		e.log.Errorf("Failed to set status for check %d: %v", leg.CheckID, err)
	}
}

// ReportStale surfaces legs claimed but never finalized (a crash between the
// claim and the finalize writes). Whether the transfer happened is unknowable
// from here, so the leg is reported for manual reconciliation, never retried.
// Each leg is reported once per process lifetime.
func (e *Executor) ReportStale() {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	legs, err := e.store.StaleRunningLegs(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		e.log.Errorf("Failed to load stale transfer legs: %v", err)
		return
	}
	for _, leg := range legs {
		e.mu.Lock()
		seen := e.reported[leg.ID]
		e.reported[leg.ID] = true
		e.mu.Unlock()
		if seen {
			continue
		}

		e.log.Errorf("Transfer leg %d for check %d stuck in running since %v; manual reconciliation required",
			leg.ID, leg.CheckID, leg.StartedAt)
		if e.alerts == nil {
			continue
		}
		detail := fmt.Sprintf(
			"transfer leg %d (check %d, %d digipogs from user %d to user %d) was claimed but never finalized; "+
				"verify against the Formbar ledger whether the transfer happened, then finish the leg and check by hand",
			leg.ID, leg.CheckID, leg.Amount, leg.FromID, leg.ToID)
		if err := e.alerts.SendReconciliationAlert("transfer leg stuck in running", detail); err != nil {
			e.log.Errorf("Failed to send reconciliation alert for transfer leg %d: %v", leg.ID, err)
		}
	}
}
