package orders

import (
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

var (
	ErrOrderNotFound   = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	ErrProductNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	// ErrOrderNotPayable means the order already left pending/pending; no money moves.
	ErrOrderNotPayable   = pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
	ErrInvalidTransition = pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed")
)
