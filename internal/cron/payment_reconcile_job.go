package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/codevault-backend/internal/payments"
	"github.com/angelmondragon/codevault-backend/internal/reconciliation"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
)

const (
	PaymentReconcileJobName = "pending_payment_reconcile"

	defaultStalePaymentAge = 10 * time.Minute
	defaultReconcileBatch  = 50
)

type stalePendingLister interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.LedgerEntry, error)
}

type paymentStatusFetcher interface {
	GetStatus(ctx context.Context, externalID string) (*payments.StatusResult, error)
}

type paymentReconciler interface {
	Reconcile(ctx context.Context, entryID uuid.UUID, payment *nowpayments.PaymentStatus) (*reconciliation.Result, error)
}

// PaymentReconcileJobParams configure the fallback poll for deposits whose webhook never arrived.
type PaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Ledger     stalePendingLister
	Payments   paymentStatusFetcher
	Reconciler paymentReconciler
	StaleAfter time.Duration
	BatchSize  int
}

func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStalePaymentAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &paymentReconcileJob{
		logg:       params.Logger,
		ledger:     params.Ledger,
		payments:   params.Payments,
		reconciler: params.Reconciler,
		staleAfter: staleAfter,
		batch:      batch,
	}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	ledger     stalePendingLister
	payments   paymentStatusFetcher
	reconciler paymentReconciler
	staleAfter time.Duration
	batch      int
}

func (j *paymentReconcileJob) Name() string { return PaymentReconcileJobName }

// Run polls the gateway for each stale deposit and feeds the answer through the same
// reconciliation path as a webhook. A gateway that cannot answer for one entry only skips that
// entry; reconciliation failures are collected and returned together.
func (j *paymentReconcileJob) Run(ctx context.Context) error {
	entries, err := j.ledger.ListStalePending(ctx, j.staleAfter, j.batch)
	if err != nil {
		return fmt.Errorf("list stale pending deposits: %w", err)
	}

	var (
		errs     error
		checked  int
		changed  int
		credited int
		skipped  int
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		entryCtx := j.logg.WithFields(ctx, map[string]any{
			"entry_id":       entry.ID.String(),
			"transaction_id": entry.TransactionID,
		})
		// The status endpoint is keyed by payment id. Until a callback has revealed it the
		// entry only carries the invoice id, which the endpoint does not serve.
		if entry.GatewayPaymentID == nil || *entry.GatewayPaymentID == "" {
			skipped++
			j.logg.Info(entryCtx, "pending deposit has no gateway payment id yet, skipping poll")
			continue
		}

		status, err := j.payments.GetStatus(entryCtx, *entry.GatewayPaymentID)
		if err != nil {
			skipped++
			j.logg.Warn(j.logg.WithField(entryCtx, "error", err.Error()), "gateway status unavailable")
			continue
		}
		checked++

		result, err := j.reconciler.Reconcile(entryCtx, entry.ID, status.Payment)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", entry.TransactionID, err))
			continue
		}
		if result.Previous != result.Current {
			changed++
		}
		if result.Credited {
			credited++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":    len(entries),
		"checked":  checked,
		"changed":  changed,
		"credited": credited,
		"skipped":  skipped,
	})
	j.logg.Info(logCtx, "pending payment reconcile complete")
	return errs
}
