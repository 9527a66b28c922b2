// Package address normalizes phone-number-like identifiers to the single
// canonical form used as the key for all directory and group lookups.
package address

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned when an input cannot be canonicalized. Callers must
// treat such addresses as not secure-capable and never store them.
var ErrInvalid = errors.New("address: not a canonicalizable address")

const (
	minDigits = 7
	maxDigits = 15
)

// Canonicalize normalizes raw into canonical form: a leading '+' followed by
// 7 to 15 digits. Separators (spaces, dots, dashes, parentheses) are
// stripped. A "00" international prefix is rewritten to '+'. Bare national
// digits are prefixed with defaultPrefix, which must itself be of the form
// "+<digits>" (typically the country code of the local account).
func Canonicalize(raw, defaultPrefix string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.ContainsRune(raw, '@') {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}

	var b strings.Builder
	plus := false
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			plus = true
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// separator, drop
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
		}
	}
	digits := b.String()

	if !plus && strings.HasPrefix(digits, "00") {
		plus = true
		digits = digits[2:]
	}
	if !plus {
		prefix, err := prefixDigits(defaultPrefix)
		if err != nil {
			return "", err
		}
		digits = prefix + digits
	}

	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return "+" + digits, nil
}

// Valid reports whether raw is already in canonical form.
func Valid(raw string) bool {
	if len(raw) < minDigits+1 || len(raw) > maxDigits+1 || raw[0] != '+' {
		return false
	}
	for _, r := range raw[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func prefixDigits(defaultPrefix string) (string, error) {
	if len(defaultPrefix) < 2 || defaultPrefix[0] != '+' {
		return "", fmt.Errorf("%w: no usable default prefix %q", ErrInvalid, defaultPrefix)
	}
	for _, r := range defaultPrefix[1:] {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: bad default prefix %q", ErrInvalid, defaultPrefix)
		}
	}
	return defaultPrefix[1:], nil
}
