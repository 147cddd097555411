package inventory

import (
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
)

var (
	// ErrInsufficientStock means fewer available credentials than requested; nothing was reserved.
	ErrInsufficientStock = pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")
	ErrProductNotFound   = pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
)
