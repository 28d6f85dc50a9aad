package store

import (
	"cmp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// collate.Collator keeps internal buffers and is not safe for concurrent use.
var collators = sync.Pool{
	New: func() any { return collate.New(language.English) },
}

// CompareText orders strings with locale-aware collation.
func CompareText(a, b string) int {
	c := collators.Get().(*collate.Collator)
	defer collators.Put(c)
	return c.CompareString(a, b)
}

// CompareTime orders timestamps. A nil timestamp is treated as the zero
// time, so entities without one sort first ascending.
func CompareTime(a, b *time.Time) int {
	var ta, tb time.Time
	if a != nil {
		ta = *a
	}
	if b != nil {
		tb = *b
	}
	return ta.Compare(tb)
}

// CompareNumber orders numbers by difference.
func CompareNumber[T cmp.Ordered](a, b T) int {
	return cmp.Compare(a, b)
}

// MatchesSearch reports whether query occurs in any of fields, ignoring
// case. An empty query matches everything.
func MatchesSearch(query string, fields ...string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	folder := cases.Fold()
	q := folder.String(query)
	for _, f := range fields {
		if f == "" {
			continue
		}
		if strings.Contains(folder.String(f), q) {
			return true
		}
	}
	return false
}

// AllValue is the categorical filter value that disables the predicate.
const AllValue = "all"

// MatchesCategory reports whether value satisfies a categorical filter. An
// empty or "all" want matches everything.
func MatchesCategory[T ~string](want, value T) bool {
	if want == "" || want == AllValue {
		return true
	}
	return want == value
}

// InRange reports whether t lies within [from, to], treating nil bounds as
// open. A nil t only matches when both bounds are nil.
func InRange(t, from, to *time.Time) bool {
	if from == nil && to == nil {
		return true
	}
	if t == nil {
		return false
	}
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
