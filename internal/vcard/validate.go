package vcard

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

// plain-text 4.0 properties whose values require `,` `;` `\` escaping.
var textProps = map[string]bool{
	"FN": true, "NICKNAME": true, "TITLE": true, "NOTE": true,
	"EMAIL": true, "UID": true, "PRODID": true,
}

// ValidateContact checks a merged contact for semantic hard findings
// before it reaches the writer.
func ValidateContact(c *model.CanonicalContact) []model.Finding {
	var fs []model.Finding
	src := ""
	if len(c.Sources) > 0 {
		src = c.Sources[0]
	}
	if c.UID == "" {
		fs = append(fs, model.Finding{
			Severity: model.Hard,
			Code:     model.CodeUIDMissing,
			Message:  "contact has no UID after merge",
			Source:   src,
		})
	}
	for _, field := range []string{c.FormattedName, c.Birthday, c.Nickname, c.Title} {
		if !utf8.ValidString(field) {
			fs = append(fs, model.Finding{
				Severity: model.Hard,
				Code:     model.CodeInvalidUTF8,
				Message:  "field contains invalid UTF-8",
				Source:   src,
			})
		}
	}
	return fs
}

// ValidateOutput re-checks final emitted bytes against the strict 4.0
// grammar: UTF-8 cleanliness, fold limit, per-card VERSION/UID
// cardinality, parameter syntax and reserved-character escaping.
func ValidateOutput(data []byte) []model.Finding {
	var fs []model.Finding
	hard := func(code, msg string) {
		fs = append(fs, model.Finding{Severity: model.Hard, Code: code, Message: msg})
	}

	if !utf8.Valid(data) {
		hard(model.CodeInvalidUTF8, "output is not valid UTF-8")
		return fs
	}

	physical := strings.Split(string(data), crlf)
	for i, line := range physical {
		if len(line) > maxLineOctets {
			hard(model.CodeLineTooLong, fmt.Sprintf("physical line %d is %d octets, limit is %d", i+1, len(line), maxLineOctets))
		}
	}

	// unfold and walk cards
	var logical []string
	for _, line := range physical {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(logical) == 0 {
				hard(model.CodeMalformedParam, "continuation line before any property")
				continue
			}
			logical[len(logical)-1] += line[1:]
			continue
		}
		logical = append(logical, line)
	}

	inCard := false
	versions, uids := 0, 0
	card := 0
	for _, line := range logical {
		switch {
		case strings.EqualFold(line, "BEGIN:VCARD"):
			inCard = true
			card++
			versions, uids = 0, 0
			continue
		case strings.EqualFold(line, "END:VCARD"):
			if versions != 1 {
				hard(model.CodeVersionInvalid, fmt.Sprintf("card %d has %d VERSION properties", card, versions))
			}
			if uids != 1 {
				hard(model.CodeUIDMissing, fmt.Sprintf("card %d has %d UID properties", card, uids))
			}
			inCard = false
			continue
		}
		if !inCard {
			continue
		}
		prop, err := parseContentLine(line)
		if err != nil {
			hard(model.CodeMalformedParam, err.Error())
			continue
		}
		switch prop.Name {
		case "VERSION":
			versions++
			if prop.Value != "4.0" {
				hard(model.CodeVersionInvalid, fmt.Sprintf("card %d declares VERSION %q, want 4.0", card, prop.Value))
			}
		case "UID":
			uids++
		}
		if textProps[prop.Name] {
			if bad := unescapedReserved(prop.Value); bad != 0 {
				hard(model.CodeUnescapedChar, fmt.Sprintf("%s value contains unescaped %q", prop.Name, bad))
			}
		}
	}
	if inCard {
		hard(model.CodeMalformedBlock, "output ends inside a card")
	}
	return fs
}

// unescapedReserved returns the first reserved character appearing
// outside a backslash escape, or 0.
func unescapedReserved(s string) byte {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++ // escape consumes the next byte
		case ',', ';':
			return s[i]
		}
	}
	return 0
}
