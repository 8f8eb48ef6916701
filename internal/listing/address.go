package listing

import "strings"

// Address holds the best-effort split of a free-text street address.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return len(s) > 0
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ParseAddress splits a free-text address on commas: first segment is the
// street, second the city, and the remainder is scanned for a two-letter state
// code and a trailing numeric ZIP. An address that cannot be split still
// imports with the full raw string as the street; nothing is ever dropped.
func ParseAddress(raw string) Address {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}
	}

	segments := make([]string, 0, 4)
	for _, seg := range strings.Split(trimmed, ",") {
		if seg = strings.TrimSpace(seg); seg != "" {
			segments = append(segments, seg)
		}
	}

	if len(segments) < 2 {
		return Address{Street: trimmed}
	}

	addr := Address{Street: segments[0], City: segments[1]}
	for _, seg := range segments[2:] {
		tokens := strings.Fields(seg)
		for _, tok := range tokens {
			switch {
			case addr.State == "" && len(tok) == 2 && isAlpha(tok):
				addr.State = strings.ToUpper(tok)
			case isDigits(tok):
				// Final numeric token wins, so "TX 75201" yields the ZIP.
				addr.Zip = tok
			}
		}
	}
	return addr
}
