package payments

import (
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

var (
	ErrBelowMinimum    = pkgerrors.New(pkgerrors.CodeValidation, "amount is below the gateway minimum")
	ErrOrderNotPayable = pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
)
