package dispatch

import "strings"

// PhoneNormalizer turns loosely formatted numbers into +<digits> form
type PhoneNormalizer struct {
	CountryCode string
	MinDigits   int
	MaxDigits   int
}

// DefaultPhoneNormalizer accepts Indian mobile numbers with or without the 91 prefix
func DefaultPhoneNormalizer() PhoneNormalizer {
	return PhoneNormalizer{CountryCode: "91", MinDigits: 12, MaxDigits: 13}
}

// Normalize strips every non-digit, prepends the country code when missing and
// checks the resulting length.
func (p PhoneNormalizer) Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if digits == "" {
		return "", &InvalidPhoneError{Raw: raw}
	}

	if !strings.HasPrefix(digits, p.CountryCode) {
		digits = p.CountryCode + digits
	}

	if len(digits) < p.MinDigits || len(digits) > p.MaxDigits {
		return "", &InvalidPhoneError{Raw: raw, Digits: len(digits)}
	}

	return "+" + digits, nil
}
