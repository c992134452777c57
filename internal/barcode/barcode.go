// Package barcode formats and parses roll barcodes of the form YY-SIZE-SSSS.
package barcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxSequence is the largest sequence the four-digit field can carry.
const MaxSequence = 9999

var (
	pattern     = regexp.MustCompile(`^\d{2}-[A-Za-z0-9]+-\d{4}$`)
	sizePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Code is a parsed barcode. Year is the full calendar year.
type Code struct {
	Year     int
	Size     string
	Sequence int
}

// Format renders year, size and sequence as a barcode string.
func Format(year int, size string, sequence int) string {
	return fmt.Sprintf("%02d-%s-%04d", year%100, size, sequence)
}

// String returns the barcode text.
func (c Code) String() string {
	return Format(c.Year, c.Size, c.Sequence)
}

// Prev returns the code one sequence earlier in the same bucket. Sequence 1
// has no predecessor.
func (c Code) Prev() (Code, bool) {
	if c.Sequence <= 1 {
		return Code{}, false
	}
	return Code{Year: c.Year, Size: c.Size, Sequence: c.Sequence - 1}, true
}

// Parse parses a strict YY-SIZE-SSSS barcode. The two-digit year maps into
// the 2000s.
func Parse(s string) (Code, error) {
	if !pattern.MatchString(s) {
		return Code{}, fmt.Errorf("barcode: %q is not in YY-SIZE-SSSS form", s)
	}
	parts := strings.Split(s, "-")
	yy, _ := strconv.Atoi(parts[0])
	seq, _ := strconv.Atoi(parts[2])
	return Code{Year: 2000 + yy, Size: parts[1], Sequence: seq}, nil
}

// Valid reports whether s is a well-formed barcode.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// ValidSize reports whether size can appear as the middle segment.
func ValidSize(size string) bool {
	return sizePattern.MatchString(size)
}
