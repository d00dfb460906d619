package model

// Severity splits findings into those that block a record (or, in
// strict mode, the run) and those that are only reported.
type Severity int

const (
	Soft Severity = iota
	Hard
)

func (s Severity) String() string {
	if s == Hard {
		return "hard"
	}
	return "soft"
}

// Finding codes. Hard codes describe grammar or structural failures,
// soft codes describe tolerated repairs and heuristics.
const (
	CodeMalformedBlock   = "malformed-block"
	CodeInvalidUTF8      = "invalid-utf8"
	CodeVersionMissing   = "version-missing"
	CodeVersionInvalid   = "version-invalid"
	CodeUIDMissing       = "uid-missing"
	CodeLineTooLong      = "line-too-long"
	CodeUnescapedChar    = "unescaped-char"
	CodeMalformedParam   = "malformed-param"
	CodeLegacyTypeMapped = "legacy-type-mapped"
	CodeEmptyDropped     = "empty-property-dropped"
	CodeVendorDropped    = "vendor-property-dropped"
	CodeLowConfidence    = "low-confidence-heuristic"
	CodePhoneKeptRaw     = "phone-kept-raw"
	CodeDateKeptRaw      = "date-kept-raw"
	CodeMojibakeRepaired = "mojibake-repaired"
	CodePhotoRewrapped   = "photo-rewrapped"
	CodeConflictRecorded = "merge-conflict"
)

// Finding is one validation or normalization observation, attached to
// the record (by source identifier) it was raised on.
type Finding struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Source   string   `json:"source,omitempty"`
	Property string   `json:"property,omitempty"`
}

// HardCount returns how many of the findings are hard.
func HardCount(fs []Finding) int {
	n := 0
	for _, f := range fs {
		if f.Severity == Hard {
			n++
		}
	}
	return n
}
