package normalize

import (
	"strings"
	"unicode"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

var namePrefixes = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
}

var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"phd": true, "md": true,
}

// SplitName derives structured N components from a display name when
// the record has no N property. Honorific prefixes and suffixes are
// recognized with trailing dots stripped.
func SplitName(fn string) model.Name {
	tokens := strings.Fields(fn)
	if len(tokens) == 0 {
		return model.Name{}
	}
	norm := func(t string) string {
		return strings.ToLower(strings.TrimRight(t, "."))
	}
	var prefix, suffix string
	if namePrefixes[norm(tokens[0])] {
		prefix = tokens[0]
	}
	if nameSuffixes[norm(tokens[len(tokens)-1])] {
		suffix = tokens[len(tokens)-1]
	}
	core := tokens
	if prefix != "" {
		core = core[1:]
	}
	if suffix != "" && len(core) > 0 {
		core = core[:len(core)-1]
	}
	switch len(core) {
	case 0:
		return model.Name{Given: tokens[0], Prefix: prefix, Suffix: suffix}
	case 1:
		return model.Name{Given: core[0], Prefix: prefix, Suffix: suffix}
	default:
		return model.Name{
			Given:  core[0],
			Family: strings.Join(core[1:], " "),
			Prefix: prefix,
			Suffix: suffix,
		}
	}
}

// TitleCase re-cases a display name only when the input casing carries
// no information: entirely upper or entirely lower, with no digits.
// Mixed-case input (acronyms, "McBride", stylized spellings) is
// ambiguous and returned unchanged, so the pass is reversible.
func TitleCase(s string) string {
	hasUpper, hasLower := false, false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			return s
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}
	if hasUpper == hasLower {
		return s
	}
	// a lone all-caps token is as likely an acronym as a shouted name
	if hasUpper && !strings.ContainsAny(strings.TrimSpace(s), " -") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	startWord := true
	for _, r := range s {
		if unicode.IsLetter(r) {
			if startWord {
				b.WriteRune(unicode.ToUpper(r))
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
			startWord = false
		} else {
			b.WriteRune(r)
			startWord = r == ' ' || r == '-' || r == '\''
		}
	}
	return b.String()
}
