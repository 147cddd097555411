package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/codevault-backend/api/middleware"
	"github.com/angelmondragon/codevault-backend/api/responses"
	"github.com/angelmondragon/codevault-backend/api/validators"
	internalorders "github.com/angelmondragon/codevault-backend/internal/orders"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/pagination"
)

const maxCancelReasonLength = 500

// Service is the slice of the order lifecycle the buyer endpoints call.
type Service interface {
	Checkout(ctx context.Context, input internalorders.CheckoutInput) (*models.Order, error)
	Cancel(ctx context.Context, input internalorders.CancelInput) (*models.Order, error)
	Get(ctx context.Context, orderID, userID uuid.UUID) (*internalorders.OrderDetail, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[internalorders.OrderSummary], error)
}

type checkoutRequest struct {
	ProductID     uuid.UUID           `json:"product_id" validate:"required"`
	Quantity      int                 `json:"quantity" validate:"required,min=1,max=100"`
	PaymentMethod enums.PaymentMethod `json:"payment_method" validate:"required,oneof=balance crypto"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Checkout places an order. Balance orders come back completed (or processing when stock ran
// out after payment); crypto orders stay pending until an invoice for them is paid.
func Checkout(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Checkout(r.Context(), internalorders.CheckoutInput{
			UserID:        userID,
			ProductID:     req.ProductID,
			Quantity:      req.Quantity,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			logCtx := logg.WithOrderID(r.Context(), order.ID.String())
			logg.Info(logg.WithField(logCtx, "status", string(order.Status)), "order placed")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalorders.NewOrderSummary(*order))
	}
}

// Detail returns one of the caller's orders. Credentials are included once the order completed.
func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Get(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := validators.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListForUser(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Cancel lets a buyer cancel their own order while it is still cancellable.
func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req, validators.Optional()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), internalorders.CancelInput{
			OrderID:     orderID,
			Reason:      validators.SanitizeString(req.Reason, maxCancelReasonLength),
			ActorUserID: userID,
			ActorRole:   role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderSummary(*order))
	}
}
