// Package wallet normalizes chain account identifiers. External account ids
// are not guaranteed to round-trip through case-sensitive comparison, so every
// lookup and every stored address goes through Normalize first.
package wallet

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// Normalize returns the canonical lookup form of an address: trimmed and
// lowercased. All equality comparisons must use normalized addresses.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Equal reports whether two addresses refer to the same account.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Checksum returns the EIP-55 mixed-case display form of a hex address.
// Non-hex input is returned normalized unchanged.
func Checksum(addr string) string {
	norm := Normalize(addr)
	hex := strings.TrimPrefix(norm, "0x")
	if !isHex(hex) {
		return norm
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hex))
	hash := h.Sum(nil)

	out := make([]byte, len(hex))
	for i := 0; i < len(hex); i++ {
		ch := hex[i]
		if ch >= 'a' && ch <= 'f' {
			nibble := hash[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				ch = ch - 'a' + 'A'
			}
		}
		out[i] = ch
	}
	return "0x" + string(out)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
