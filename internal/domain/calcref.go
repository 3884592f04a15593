package domain

import (
	"errors"
	"fmt"
	"strings"
)

// CalcKind discriminates the three structurally different calculation kinds.
type CalcKind string

const (
	CalcKindUser   CalcKind = "user"   // runtime-defined aggregation
	CalcKindSystem CalcKind = "system" // predefined custom-SQL result column
	CalcKindStatic CalcKind = "static" // direct passthrough of a stored field
)

// ValidCalcKind returns true if s is a known calculation kind.
func ValidCalcKind(s string) bool {
	switch CalcKind(s) {
	case CalcKindUser, CalcKindSystem, CalcKindStatic:
		return true
	}
	return false
}

// calcRefSeparator joins kind and identifier in the encoded token.
// It is reserved — identifiers must not contain it.
const calcRefSeparator = ":"

// Codec errors. Decoding never silently defaults: an unknown prefix or a
// missing separator is always rejected at the boundary.
var (
	ErrInvalidIdentifier      = errors.New("invalid calculation identifier")
	ErrUnknownCalculationKind = errors.New("unknown calculation kind")
	ErrMalformedToken         = errors.New("malformed calculation token")
)

// CalcRef identifies one calculation of one kind. The zero value is invalid.
type CalcRef struct {
	Kind       CalcKind
	Identifier string
}

// EncodeCalcRef builds the single-string token "<kind>:<identifier>".
// Fails with ErrInvalidIdentifier if identifier is empty or contains the
// reserved separator, and with ErrUnknownCalculationKind for a bad kind.
func EncodeCalcRef(kind CalcKind, identifier string) (string, error) {
	if !ValidCalcKind(string(kind)) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCalculationKind, kind)
	}
	if identifier == "" {
		return "", fmt.Errorf("%w: identifier is empty", ErrInvalidIdentifier)
	}
	if strings.Contains(identifier, calcRefSeparator) {
		return "", fmt.Errorf("%w: identifier %q contains reserved separator %q",
			ErrInvalidIdentifier, identifier, calcRefSeparator)
	}
	return string(kind) + calcRefSeparator + identifier, nil
}

// DecodeCalcRef parses a token produced by EncodeCalcRef. The token is split
// on the FIRST separator occurrence, so identifiers decoded from legacy data
// may themselves contain separators even though EncodeCalcRef rejects them.
func DecodeCalcRef(token string) (CalcRef, error) {
	kind, identifier, found := strings.Cut(token, calcRefSeparator)
	if !found {
		return CalcRef{}, fmt.Errorf("%w: %q has no separator", ErrMalformedToken, token)
	}
	if !ValidCalcKind(kind) {
		return CalcRef{}, fmt.Errorf("%w: %q", ErrUnknownCalculationKind, kind)
	}
	if identifier == "" {
		return CalcRef{}, fmt.Errorf("%w: identifier is empty", ErrInvalidIdentifier)
	}
	return CalcRef{Kind: CalcKind(kind), Identifier: identifier}, nil
}

// String renders the encoded token. Only valid for refs built via
// DecodeCalcRef or EncodeCalcRef; the zero value renders an empty string.
func (r CalcRef) String() string {
	if r.Kind == "" && r.Identifier == "" {
		return ""
	}
	return string(r.Kind) + calcRefSeparator + r.Identifier
}

// DisplayLabel produces a human-readable label distinct per kind:
// the source-field name for user calculations, the result-column name for
// system calculations, and the field path tail for static calculations.
// It cannot fail for a ref produced by a successful decode.
func (r CalcRef) DisplayLabel() string {
	switch r.Kind {
	case CalcKindUser:
		return strings.ReplaceAll(r.Identifier, "_", " ")
	case CalcKindSystem:
		return r.Identifier
	case CalcKindStatic:
		// Field paths are dotted ("collateral.balance") — show the tail.
		if i := strings.LastIndex(r.Identifier, "."); i >= 0 {
			return r.Identifier[i+1:]
		}
		return r.Identifier
	}
	return r.Identifier
}

// MarshalJSON encodes the ref as its single-string token.
func (r CalcRef) MarshalJSON() ([]byte, error) {
	token, err := EncodeCalcRef(r.Kind, r.Identifier)
	if err != nil {
		return nil, err
	}
	return []byte(`"` + token + `"`), nil
}

// UnmarshalJSON decodes a single-string token into the ref.
func (r *CalcRef) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: expected JSON string", ErrMalformedToken)
	}
	ref, err := DecodeCalcRef(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*r = ref
	return nil
}
