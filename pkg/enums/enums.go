// Package enums mirrors the Postgres enum types as Go string types.
package enums

import (
	"fmt"
	"slices"
)

func oneOf[T ~string](v T, set []T) bool {
	return slices.Contains(set, v)
}

func parse[T ~string](value, label string, set []T) (T, error) {
	if v := T(value); oneOf(v, set) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", label, value)
}
