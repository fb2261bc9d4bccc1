// Package retention decides which table versions to keep.
//
// Version ids are decimal strings of unbounded width. They are always
// compared by numeric value: "10" sorts above "9" even though it sorts
// below it as text.
package retention

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// MinVersionsToRetain is the smallest retention count a cleaner accepts.
const MinVersionsToRetain = 50

// ErrInvalidVersionID is returned when a version id is not a decimal integer.
var ErrInvalidVersionID = errors.New("retention: invalid version id")

// Split is the result of partitioning a table's version ids.
// Both lists are ordered newest (numerically largest) first.
type Split struct {
	Retain []string
	Delete []string
}

// NeedsCleanup reports whether a table with total versions exceeds the
// retention count. Callers skip Partition entirely when it returns false.
func NeedsCleanup(total, retain int) bool {
	return total > retain
}

// Partition keeps the retain numerically-largest ids and marks the rest for
// deletion. A retain count of zero or less deletes everything. The input
// slice is not modified; returned ids keep their original spelling.
func Partition(ids []string, retain int) (Split, error) {
	sorted := make([]versionID, 0, len(ids))
	for _, id := range ids {
		v, err := parseVersionID(id)
		if err != nil {
			return Split{}, err
		}
		sorted = append(sorted, v)
	}

	slices.SortFunc(sorted, func(a, b versionID) int {
		return compareDigits(b.digits, a.digits)
	})

	if retain < 0 {
		retain = 0
	}
	if retain > len(sorted) {
		retain = len(sorted)
	}

	split := Split{
		Retain: make([]string, 0, retain),
		Delete: make([]string, 0, len(sorted)-retain),
	}
	for i, v := range sorted {
		if i < retain {
			split.Retain = append(split.Retain, v.raw)
		} else {
			split.Delete = append(split.Delete, v.raw)
		}
	}
	return split, nil
}

type versionID struct {
	raw    string
	digits string // raw without leading zeros; "0" for zero
}

func parseVersionID(s string) (versionID, error) {
	if s == "" {
		return versionID{}, fmt.Errorf("%w: empty", ErrInvalidVersionID)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return versionID{}, fmt.Errorf("%w: %q", ErrInvalidVersionID, s)
		}
	}
	digits := strings.TrimLeft(s, "0")
	if digits == "" {
		digits = "0"
	}
	return versionID{raw: s, digits: digits}, nil
}

// compareDigits compares normalized digit strings: a longer number is
// larger, equal lengths compare byte-wise.
func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
