// Package hscode models the hierarchical tariff-classification identifier
// (section → chapter → HS4 → HS6 → 10-digit national leaf).
package hscode

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LeafLength is the number of digits in a national tariff line.
const LeafLength = 10

// ErrInvalid is returned when a string is not a well-formed leaf code.
var ErrInvalid = errors.New("hscode: invalid code")

// Code is a 10-digit leaf identifier. The zero value is not a valid code.
type Code string

// Parse normalizes s (dots, spaces and dashes are ignored) and checks that
// exactly LeafLength digits remain.
func Parse(s string) (Code, error) {
	var b strings.Builder
	b.Grow(LeafLength)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ' ' || r == '-' || r == '\t':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalid, s)
		}
	}
	if b.Len() != LeafLength {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalid, s, b.Len())
	}
	return Code(b.String()), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Code {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the raw digits.
func (c Code) String() string { return string(c) }

// Chapter returns the 2-digit chapter prefix.
func (c Code) Chapter() string { return string(c)[:2] }

// Heading returns the 4-digit HS4 prefix.
func (c Code) Heading() string { return string(c)[:4] }

// Subheading returns the 6-digit HS6 prefix.
func (c Code) Subheading() string { return string(c)[:6] }

// Dotted renders the code the way customs portals print it: 0101.21.00.00.
func (c Code) Dotted() string {
	s := string(c)
	return s[:4] + "." + s[4:6] + "." + s[6:8] + "." + s[8:]
}

// HasPrefix reports whether p (digits only, dots ignored) is an ancestor
// prefix of c.
func (c Code) HasPrefix(p string) bool {
	p = strings.ReplaceAll(strings.TrimSpace(p), ".", "")
	return p != "" && strings.HasPrefix(string(c), p)
}

// ReadList reads identifiers from r. Two layouts are accepted: a CSV with an
// "hs_code" header column, or one code per line. Blank lines are skipped;
// malformed codes are returned in the error slice rather than aborting the read.
func ReadList(r io.Reader) ([]Code, []error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		codes []Code
		errs  []error
		col   = 0
		first = true
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, err)
			break
		}
		if first {
			first = false
			if idx := headerIndex(rec); idx >= 0 {
				col = idx
				continue
			}
		}
		if col >= len(rec) || strings.TrimSpace(rec[col]) == "" {
			continue
		}
		c, err := Parse(rec[col])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		codes = append(codes, c)
	}
	return codes, errs
}

func headerIndex(rec []string) int {
	for i, h := range rec {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "hs_code", "hs10", "code":
			return i
		}
	}
	return -1
}
