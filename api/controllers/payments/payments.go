package payments

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/codevault-backend/api/middleware"
	"github.com/angelmondragon/codevault-backend/api/responses"
	"github.com/angelmondragon/codevault-backend/api/validators"
	internalpayments "github.com/angelmondragon/codevault-backend/internal/payments"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/pagination"
)

// InvoiceService is the part of the payment flow exposed to buyers.
type InvoiceService interface {
	CreateInvoice(ctx context.Context, input internalpayments.CreateInvoiceInput) (*internalpayments.InvoiceResult, error)
	ListCurrencies(ctx context.Context) ([]string, error)
	MinimumAmount(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// LedgerReader serves the caller's balance and movement history.
type LedgerReader interface {
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error)
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

type invoiceRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    enums.Currency  `json:"currency"`
	PayCurrency string          `json:"pay_currency" validate:"omitempty,max=20"`
	OrderID     *uuid.UUID      `json:"order_id"`
	Email       string          `json:"email" validate:"omitempty,email"`
}

type ledgerEntryView struct {
	ID            uuid.UUID               `json:"id"`
	TransactionID string                  `json:"transaction_id"`
	Kind          enums.LedgerEntryKind   `json:"kind"`
	Status        enums.LedgerEntryStatus `json:"status"`
	GrossAmount   decimal.Decimal         `json:"gross_amount"`
	Fee           decimal.Decimal         `json:"fee"`
	NetAmount     decimal.Decimal         `json:"net_amount"`
	Currency      enums.Currency          `json:"currency"`
	OrderID       *uuid.UUID              `json:"order_id,omitempty"`
	PayCurrency   *string                 `json:"pay_currency,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

func viewOf(entry models.LedgerEntry) ledgerEntryView {
	return ledgerEntryView{
		ID:            entry.ID,
		TransactionID: entry.TransactionID,
		Kind:          entry.Kind,
		Status:        entry.Status,
		GrossAmount:   entry.GrossAmount,
		Fee:           entry.Fee,
		NetAmount:     entry.NetAmount,
		Currency:      entry.Currency,
		OrderID:       entry.OrderID,
		PayCurrency:   entry.PayCurrency,
		CompletedAt:   entry.CompletedAt,
		CreatedAt:     entry.CreatedAt,
	}
}

// CreateInvoice opens a hosted gateway payment. With order_id set the order total is charged and
// amount/currency are ignored; otherwise it is a plain balance top-up.
func CreateInvoice(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req invoiceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.OrderID == nil && !req.Amount.IsPositive() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
				WithDetails(map[string]string{"amount": "must be greater than 0"}))
			return
		}

		result, err := svc.CreateInvoice(r.Context(), internalpayments.CreateInvoiceInput{
			UserID:      userID,
			Amount:      req.Amount,
			Currency:    enums.Currency(strings.ToUpper(strings.TrimSpace(string(req.Currency)))),
			PayCurrency: strings.ToLower(strings.TrimSpace(req.PayCurrency)),
			OrderID:     req.OrderID,
			PayerEmail:  strings.TrimSpace(req.Email),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func Currencies(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		currencies, err := svc.ListCurrencies(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if currencies == nil {
			currencies = []string{}
		}
		responses.WriteSuccess(w, map[string]any{"currencies": currencies})
	}
}

// MinimumAmount reports the smallest payable amount for currency_from → currency_to.
func MinimumAmount(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		query := r.URL.Query()
		from := strings.ToLower(strings.TrimSpace(query.Get("currency_from")))
		to := strings.ToLower(strings.TrimSpace(query.Get("currency_to")))

		minimum, err := svc.MinimumAmount(r.Context(), from, to)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"currency_from": from,
			"currency_to":   to,
			"min_amount":    minimum,
		})
	}
}

func Balance(ledger LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := ledger.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"balance": balance})
	}
}

// History pages through the caller's ledger, newest first.
func History(ledger LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
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

		page, err := ledger.ListForUser(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]ledgerEntryView, 0, len(page.Items))
		for _, entry := range page.Items {
			items = append(items, viewOf(entry))
		}
		responses.WriteSuccess(w, pagination.Page[ledgerEntryView]{Items: items, NextCursor: page.NextCursor})
	}
}
