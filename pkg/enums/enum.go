// Package enums holds the string enumerations persisted in the database and carried on the wire.
package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of valid equal to value, or an error naming kind.
func parse[T ~string](kind string, valid []T, value string) (T, error) {
	if i := slices.Index(valid, T(value)); i >= 0 {
		return valid[i], nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
