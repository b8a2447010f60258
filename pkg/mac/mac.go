package mac

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// OctetCount is the number of octets in an EUI-48 address.
const OctetCount = 6

// canonicalLen is the length of "AA:BB:CC:DD:EE:FF".
const canonicalLen = OctetCount*3 - 1

// MAC errors.
var (
	// ErrInvalidFormat indicates the address does not split into six octets.
	ErrInvalidFormat = errors.New("invalid MAC address")

	// ErrInvalidHex indicates an octet is not a valid hex byte.
	ErrInvalidHex = errors.New("invalid hex digit in MAC address")
)

var canonicalRe = regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

var nonHexRe = regexp.MustCompile(`[^0-9a-fA-F]`)

// Parse splits s on ':' or '-' and decodes exactly six hex octets.
func Parse(s string) (net.HardwareAddr, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == '-'
	})
	// FieldsFunc collapses empty fields; "AA::BB" must still be rejected.
	if len(parts) != OctetCount || strings.Count(s, ":")+strings.Count(s, "-") != OctetCount-1 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	hw := make(net.HardwareAddr, OctetCount)
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return nil, fmt.Errorf("%w: octet %d %q", ErrInvalidHex, i, p)
		}
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: octet %d %q", ErrInvalidHex, i, p)
		}
		hw[i] = byte(v)
	}
	return hw, nil
}

// Clean keeps only hex digits and upper-cases them.
func Clean(s string) string {
	return strings.ToUpper(nonHexRe.ReplaceAllString(s, ""))
}

// Format inserts a colon after every second character of a cleaned string
// and truncates the result to the canonical length.
func Format(clean string) string {
	var b strings.Builder
	b.Grow(len(clean) + len(clean)/2)
	for i := 0; i < len(clean); i++ {
		b.WriteByte(clean[i])
		if (i+1)%2 == 0 && i != len(clean)-1 {
			b.WriteByte(':')
		}
	}
	out := b.String()
	if len(out) > canonicalLen {
		out = out[:canonicalLen]
	}
	return out
}

// Valid reports whether s is in canonical form.
func Valid(s string) bool {
	return canonicalRe.MatchString(s)
}

// Normalize converts free-form input to canonical form.
func Normalize(raw string) (string, error) {
	out := Format(Clean(strings.TrimSpace(raw)))
	if !Valid(out) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	return out, nil
}

// String renders hw in canonical form.
func String(hw net.HardwareAddr) string {
	return strings.ToUpper(hw.String())
}
