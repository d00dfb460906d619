package normalize

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

// Mojibake repair: text that was CP1252-decoded from UTF-8 bytes shows
// a telltale pattern of Latin-1 lead-in letters (Ã, Â, â) followed by
// symbols from the U+0080-U+00BF range. Repair re-encodes the text as
// CP1252 bytes and re-reads them as UTF-8, accepting the result only
// when it strictly lowers the suspicion score by the mode's margin and
// the round trip is lossless. Text that was never mis-encoded cannot
// round-trip into a better score, so it passes through untouched.

// repairMargin returns the required score improvement per mode, and
// whether the pass runs at all.
func repairMargin(mode model.RepairMode) (int, bool) {
	switch mode {
	case model.RepairSafe:
		return 2, true
	case model.RepairAggressive:
		return 1, true
	default:
		return 0, false
	}
}

// cp1252Punct holds the runes CP1252 places in the 0x80-0x9F byte
// range. Seen right after a lead-in letter they are near-certain
// mojibake (â€™); on their own they are ordinary smart punctuation.
var cp1252Punct = map[rune]bool{
	'€': true, '‚': true, 'ƒ': true, '„': true,
	'…': true, '†': true, '‡': true, 'ˆ': true,
	'‰': true, 'Š': true, '‹': true, 'Œ': true,
	'Ž': true, '‘': true, '’': true, '“': true,
	'”': true, '•': true, '–': true, '—': true,
	'˜': true, '™': true, 'š': true, '›': true,
	'œ': true, 'ž': true, 'Ÿ': true,
}

// suspicionScore counts rune patterns characteristic of
// UTF-8-read-as-CP1252 text.
func suspicionScore(s string) int {
	score := 0
	prevLead := false
	for _, r := range s {
		switch {
		case r >= 0x80 && r <= 0x9F: // C1 controls never appear in clean text
			score += 2
		case prevLead && (r >= 0xA0 && r <= 0xBF || cp1252Punct[r]): // Ã©, Ã¼, â€™
			score += 2
		case r >= 0xA0 && r <= 0xBF:
			score++
		}
		prevLead = r == 0xC3 || r == 0xC2 || r == 0xE2 // Ã Â â
	}
	return score
}

// RepairMojibake returns the repaired string and true when the repair
// was applied, or the input unchanged and false.
func RepairMojibake(s string, mode model.RepairMode) (string, bool) {
	margin, on := repairMargin(mode)
	if !on || s == "" {
		return s, false
	}
	before := suspicionScore(s)
	if before < margin {
		return s, false
	}
	raw, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// a rune with no CP1252 byte: the text cannot have come from a
		// CP1252 mis-decode
		return s, false
	}
	if !utf8.Valid(raw) {
		return s, false
	}
	repaired := string(raw)
	if before-suspicionScore(repaired) < margin {
		return s, false
	}
	return repaired, true
}
