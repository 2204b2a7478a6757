// Package address validates hex account identifiers and renders them in EIP-55 checksum form.
package address

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationError reports an identifier that is not a 20-byte hex address.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[VALIDATION_ERROR] invalid %s address %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("[VALIDATION_ERROR] invalid %s address %q", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Code returns the numeric error code.
func (e *ValidationError) Code() int { return 1007 }

// IsValid reports whether s holds exactly 40 hex characters, with or without a lower-case 0x
// prefix. "0X" is not a prefix.
func IsValid(s string) bool {
	hex := strings.TrimPrefix(s, "0x")
	if len(hex) != 2*common.AddressLength {
		return false
	}
	return common.IsHexAddress(hex)
}

// Normalize returns the checksummed form of s. Differently cased inputs of the same address
// normalize to the same string.
func Normalize(s, field string) (string, error) {
	if !IsValid(s) {
		return "", &ValidationError{Field: field, Value: s}
	}

	hex := strings.TrimPrefix(s, "0x")
	mixed, err := common.NewMixedcaseAddressFromString("0x" + strings.ToLower(hex))
	if err != nil {
		return "", &ValidationError{Field: field, Value: s, Err: err}
	}
	return mixed.Address().Hex(), nil
}
