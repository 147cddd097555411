package enums

import "slices"

// CredentialState tracks an access code unit through allocation.
type CredentialState string

const (
	CredentialStateAvailable CredentialState = "available"
	CredentialStateReserved  CredentialState = "reserved"
	CredentialStateSold      CredentialState = "sold"
)

var validCredentialStates = []CredentialState{
	CredentialStateAvailable,
	CredentialStateReserved,
	CredentialStateSold,
}

func (c CredentialState) String() string { return string(c) }

func (c CredentialState) IsValid() bool {
	return slices.Contains(validCredentialStates, c)
}

func ParseCredentialState(value string) (CredentialState, error) {
	return parse("credential state", validCredentialStates, value)
}
