package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/codevault-backend/api/responses"
	"github.com/angelmondragon/codevault-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
)

const maxWebhookBody = 1 << 20

type NowPaymentsWebhookService interface {
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*reconciliation.Result, error)
}

// NowPaymentsWebhook receives gateway IPN callbacks. The body is passed through untouched because
// the signature covers the exact bytes sent.
func NowPaymentsWebhook(svc NowPaymentsWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.HandleWebhook(ctx, payload, r.Header.Get(nowpayments.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, publicWebhookError(err))
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"received":  true,
			"duplicate": result != nil && result.Duplicate,
		})
	}
}

// publicWebhookError keeps the status code of err and swaps in a generic message.
func publicWebhookError(err error) error {
	switch code := pkgerrors.CodeOf(err); code {
	case pkgerrors.CodeNotFound:
		return pkgerrors.Wrap(code, err, "payment not recognised")
	case pkgerrors.CodeValidation:
		return pkgerrors.Wrap(code, err, "invalid payload")
	default:
		return err
	}
}
