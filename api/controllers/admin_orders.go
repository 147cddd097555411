package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/codevault-backend/api/middleware"
	"github.com/angelmondragon/codevault-backend/api/responses"
	"github.com/angelmondragon/codevault-backend/api/validators"
	internalorders "github.com/angelmondragon/codevault-backend/internal/orders"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
)

const (
	maxRefundReasonLength = 500
	maxImportBodyBytes    = 4 << 20
)

type adminOrderService interface {
	RetryAllocation(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, input internalorders.CancelInput) (*models.Order, error)
}

type stockImporter interface {
	AddStock(ctx context.Context, productID uuid.UUID, secrets []json.RawMessage) (int, error)
}

type adminRefundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type credentialImportRequest struct {
	Credentials []json.RawMessage `json:"credentials" validate:"required,min=1,max=1000"`
}

// AdminAllocateOrder retries credential allocation for a paid order held in processing after a
// restock.
func AdminAllocateOrder(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.RetryAllocation(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderSummary(*order))
	}
}

// AdminRefundOrder cancels an order on the buyer's behalf. A paid order is refunded to balance.
func AdminRefundOrder(svc adminOrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		adminID, role, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adminRefundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), internalorders.CancelInput{
			OrderID:     orderID,
			Reason:      validators.SanitizeString(req.Reason, maxRefundReasonLength),
			ActorUserID: adminID,
			ActorRole:   role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logCtx := logg.WithOrderID(r.Context(), order.ID.String())
			logg.Security(logg.WithField(logCtx, "payment_status", string(order.PaymentStatus)), "admin cancelled order")
		}
		responses.WriteSuccess(w, internalorders.NewOrderSummary(*order))
	}
}

// AdminImportCredentials adds credentials to a product's available stock. Each credential is
// an opaque JSON value stored as-is.
func AdminImportCredentials(svc stockImporter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req credentialImportRequest
		if err := validators.DecodeJSONBody(r, &req, validators.MaxBytes(maxImportBodyBytes)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		added, err := svc.AddStock(r.Context(), productID, req.Credentials)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"product_id": productID,
			"added":      added,
		})
	}
}
