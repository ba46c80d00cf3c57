// Package phone parses free-text phone input into a canonical E.164 value.
package phone

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Number is a canonical "+<digits>" phone number. The zero value means no number.
type Number string

// IsZero reports whether n holds no number.
func (n Number) IsZero() bool { return n == "" }

func (n Number) String() string { return string(n) }

// Ptr returns n as a nullable column value: nil for the zero Number.
func (n Number) Ptr() *string {
	if n.IsZero() {
		return nil
	}
	s := string(n)
	return &s
}

// FromPtr converts a nullable column value back into a Number.
func FromPtr(p *string) Number {
	if p == nil {
		return ""
	}
	return Number(*p)
}

// Parse normalizes raw into a Number. Blank input is valid and yields the zero Number.
// Spaces, dashes, dots and parentheses are ignored and a leading "00" is read as "+".
func Parse(raw string) (Number, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\t', '-', '.', '(', ')':
			return -1
		}
		return r
	}, s)
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	// country codes never start with 0
	if len(s) < 2 || s[0] != '+' || s[1] == '0' {
		return "", ErrInvalid
	}
	if err := validate.Var(s, "e164"); err != nil {
		return "", ErrInvalid
	}
	if len(s) < 9 {
		return "", ErrInvalid
	}
	return Number(s), nil
}
