package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/codevault-backend/api/responses"
	"github.com/angelmondragon/codevault-backend/api/validators"
	"github.com/angelmondragon/codevault-backend/internal/payments"
	"github.com/angelmondragon/codevault-backend/internal/reconciliation"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
)

type ledgerEntryGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
}

type paymentStatusFetcher interface {
	GetStatus(ctx context.Context, externalID string) (*payments.StatusResult, error)
}

type paymentReconciler interface {
	Reconcile(ctx context.Context, entryID uuid.UUID, payment *nowpayments.PaymentStatus) (*reconciliation.Result, error)
}

// AdminReconcileEntry asks the gateway for the current state of a deposit and applies it the
// same way a webhook would.
func AdminReconcileEntry(ledger ledgerEntryGetter, gateway paymentStatusFetcher, reconciler paymentReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil || gateway == nil || reconciler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation unavailable"))
			return
		}
		entryID, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := ledger.Get(r.Context(), entryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// The provider serves status by payment id only; invoice ids are not accepted.
		if entry.GatewayPaymentID == nil || *entry.GatewayPaymentID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "entry has no gateway payment to poll"))
			return
		}

		status, err := gateway.GetStatus(r.Context(), *entry.GatewayPaymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := reconciler.Reconcile(context.WithoutCancel(r.Context()), entry.ID, status.Payment)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logCtx := logg.WithFields(r.Context(), map[string]any{
				"entry_id": entry.ID.String(),
				"previous": string(result.Previous),
				"status":   string(result.Current),
				"credited": result.Credited,
			})
			logg.Security(logCtx, "admin reconciled ledger entry")
		}
		responses.WriteSuccess(w, result)
	}
}
