package ledger

import (
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

var (
	ErrInsufficientBalance = pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance")
	ErrUserNotFound        = pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	ErrEntryNotFound       = pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
)
