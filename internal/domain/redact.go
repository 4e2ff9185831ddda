package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// RedactedSentinel replaces a value entirely under the full policy.
const RedactedSentinel = "[REDACTED]"

// HashPrefix tags hash-policy outputs with the digest algorithm.
const HashPrefix = "sha256:"

// Redact applies a redaction policy to a raw field value. It is a pure
// function: deterministic, no side effects. A nil input always redacts to
// nil under every policy, because the absence of a value is not a secret.
//
// Policy names are validated at registry build time; an unrecognized policy
// reaching this point falls back to the full sentinel rather than leaking
// the raw value.
func Redact(policy Policy, value any) any {
	if value == nil {
		return nil
	}

	switch policy {
	case PolicyNone:
		return value
	case PolicyFull:
		return RedactedSentinel
	case PolicyPartial:
		return maskPartial(value)
	case PolicyHash:
		return hashValue(value)
	default:
		return RedactedSentinel
	}
}

// RedactChange applies the policy to both sides of a before/after pair.
func RedactChange(policy Policy, change FieldChange) FieldChange {
	return FieldChange{
		Before: Redact(policy, change.Before),
		After:  Redact(policy, change.After),
	}
}

// maskPartial produces a lossy masked string that keeps a recognizable
// suffix. One canonical rule per recognized shape:
//
//   - email:           first rune of the local part + "***@" + domain
//   - digit shapes of 9+ digits (phone, SSN, card; separators ignored):
//     "****" + last 4 digits
//   - strings longer than 4 runes: "****" + last 4 runes
//   - shorter strings: "*[n]" where n is the rune count
//
// Non-string values carry no recognizable shape to preserve and fall back
// to the full sentinel.
func maskPartial(value any) any {
	s, ok := value.(string)
	if !ok {
		return RedactedSentinel
	}

	if local, domainPart, found := splitEmail(s); found {
		first, _ := firstRune(local)
		return string(first) + "***@" + domainPart
	}

	if digits, isDigitShape := digitShape(s); isDigitShape && len(digits) >= 9 {
		return "****" + digits[len(digits)-4:]
	}

	runes := []rune(s)
	if len(runes) > 4 {
		return "****" + string(runes[len(runes)-4:])
	}
	return fmt.Sprintf("*[%d]", len(runes))
}

func splitEmail(s string) (local, domainPart string, ok bool) {
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return "", "", false
	}
	local = s[:at]
	domainPart = s[at+1:]
	if strings.ContainsAny(domainPart, "@ ") || !strings.Contains(domainPart, ".") {
		return "", "", false
	}
	return local, domainPart, true
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// digitShape strips common separators and reports whether the remainder is
// all digits, as with phone numbers, SSNs and card numbers.
func digitShape(s string) (string, bool) {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '+' || r == '.':
			// separator, ignore
		default:
			return "", false
		}
	}
	return digits.String(), digits.Len() > 0
}

// hashValue produces a tagged one-way digest of the value's canonical JSON
// encoding. Same input, same output, so hashed transitions remain matchable
// across versions without exposing the secret. Inputs that already carry the
// digest tag are returned unchanged, which makes the transform idempotent.
func hashValue(value any) any {
	if s, ok := value.(string); ok && isHashToken(s) {
		return s
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		// Unencodable values cannot be digested deterministically; never
		// leak them.
		return RedactedSentinel
	}
	sum := sha256.Sum256(encoded)
	return HashPrefix + hex.EncodeToString(sum[:])
}

func isHashToken(s string) bool {
	if !strings.HasPrefix(s, HashPrefix) {
		return false
	}
	hexPart := s[len(HashPrefix):]
	if len(hexPart) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}
