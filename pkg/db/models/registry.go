package models

// All lists every persisted model in dependency order. Used for sqlite schema bootstrap.
func All() []any {
	return []any{
		&User{},
		&Product{},
		&Order{},
		&Credential{},
		&LedgerEntry{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
