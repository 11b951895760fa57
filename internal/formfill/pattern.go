package formfill

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Pattern matches the human-readable label of a form field.
type Pattern interface {
	// Match reports whether text contains the label.
	Match(text string) bool
	// Exact reports whether text is the label and nothing else.
	Exact(text string) bool
	String() string
}

// Normalize prepares label text for comparison: NFC composition, Unicode
// case folding, collapsed whitespace and no trailing required-field markers.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, " *:")
	return cases.Fold().String(norm.NFC.String(s))
}

type textPattern struct {
	raw  []string
	norm []string
}

// Text matches case-insensitively against any of the given alternatives.
// "Počet hostů" matches "POČET HOSTŮ *" and "Počet hostů:".
func Text(alternatives ...string) Pattern {
	tp := textPattern{raw: alternatives}
	for _, a := range alternatives {
		if n := Normalize(a); n != "" {
			tp.norm = append(tp.norm, n)
		}
	}
	return tp
}

func (t textPattern) Match(text string) bool {
	n := Normalize(text)
	if n == "" {
		return false
	}
	for _, want := range t.norm {
		if strings.Contains(n, want) {
			return true
		}
	}
	return false
}

func (t textPattern) Exact(text string) bool {
	n := Normalize(text)
	for _, want := range t.norm {
		if n == want {
			return true
		}
	}
	return false
}

func (t textPattern) String() string { return strings.Join(t.raw, "|") }

type regexpPattern struct {
	re *regexp.Regexp
}

// Regexp matches label text against re. Case-insensitivity is the caller's
// business, via the (?i) flag.
func Regexp(re *regexp.Regexp) Pattern { return regexpPattern{re: re} }

func (r regexpPattern) Match(text string) bool {
	return r.re.MatchString(strings.Join(strings.Fields(text), " "))
}

func (r regexpPattern) Exact(text string) bool {
	text = strings.Join(strings.Fields(text), " ")
	loc := r.re.FindStringIndex(text)
	return loc != nil && loc[0] == 0 && loc[1] == len(text)
}

func (r regexpPattern) String() string { return r.re.String() }
