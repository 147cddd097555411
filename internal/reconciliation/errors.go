package reconciliation

import (
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

var (
	ErrSignatureInvalid = pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	ErrEntryNotFound    = pkgerrors.New(pkgerrors.CodeNotFound, "no ledger entry matches the payment")
	ErrMalformedPayload = pkgerrors.New(pkgerrors.CodeValidation, "malformed webhook payload")
	ErrDeliveryInFlight = pkgerrors.New(pkgerrors.CodeConflict, "webhook delivery already in progress")
)
