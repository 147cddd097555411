package models

import "github.com/google/uuid"

// ensureID assigns a random id before insert so rows get the same identifiers on every dialect.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
