package model

// Name holds the structured N components of a contact.
type Name struct {
	Family     string `json:"family,omitempty"`
	Given      string `json:"given,omitempty"`
	Additional string `json:"additional,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	Suffix     string `json:"suffix,omitempty"`
}

// IsZero reports whether no component is populated.
func (n Name) IsZero() bool {
	return n == Name{}
}

// Email is a single address with its lower-cased TYPE labels.
type Email struct {
	Value string   `json:"value"`
	Types []string `json:"types,omitempty"`
}

// Phone is a single number with its lower-cased TYPE labels.
// Value is E.164 when the number could be parsed, otherwise the
// original text with whitespace stripped.
type Phone struct {
	Value string   `json:"value"`
	E164  bool     `json:"e164"`
	Types []string `json:"types,omitempty"`
}

// Address holds the seven structured ADR components.
type Address struct {
	POBox    string   `json:"po_box,omitempty"`
	Extended string   `json:"extended,omitempty"`
	Street   string   `json:"street,omitempty"`
	City     string   `json:"city,omitempty"`
	Region   string   `json:"region,omitempty"`
	Postal   string   `json:"postal,omitempty"`
	Country  string   `json:"country,omitempty"`
	Types    []string `json:"types,omitempty"`
}

// IsZero reports whether every component is empty.
func (a Address) IsZero() bool {
	return a.POBox == "" && a.Extended == "" && a.Street == "" &&
		a.City == "" && a.Region == "" && a.Postal == "" && a.Country == ""
}

// Photo is an embedded or referenced image. For embedded photos Data
// holds the decoded original bytes and Hash their SHA-256 (hex);
// for referenced photos URI is set and Data is nil.
type Photo struct {
	Data      []byte `json:"-"`
	Hash      string `json:"hash,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	URI       string `json:"uri,omitempty"`
}

// CanonicalContact is the normalized projection of one parsed record,
// pre-merge. After deduplication a merged contact carries the union of
// its cluster's multi-valued fields and the provenance of every
// absorbed source record.
type CanonicalContact struct {
	UID           string    `json:"uid"`
	FormattedName string    `json:"fn,omitempty"`
	Name          Name      `json:"n"`
	Nickname      string    `json:"nickname,omitempty"`
	Org           []string  `json:"org,omitempty"`
	Title         string    `json:"title,omitempty"`
	Emails        []Email   `json:"emails,omitempty"`
	Phones        []Phone   `json:"phones,omitempty"`
	Addresses     []Address `json:"addresses,omitempty"`
	Birthday      string    `json:"bday,omitempty"` // YYYY-MM-DD or --MM-DD
	Notes         []string  `json:"notes,omitempty"`
	Photos        []Photo   `json:"photos,omitempty"`

	// Conflicts holds single-valued fields displaced during merge.
	// Each is emitted as X-ORIGINAL-<FIELD> with its source record.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// Sources lists the record identifiers this contact traces to,
	// lexicographically sorted. Always at least one entry.
	Sources []string `json:"sources"`
}

// Completeness counts populated standard fields; photo presence counts
// once regardless of how many photos exist. Used for merge base selection.
func (c *CanonicalContact) Completeness() int {
	score := 0
	if c.FormattedName != "" {
		score++
	}
	if !c.Name.IsZero() {
		score++
	}
	if c.Nickname != "" {
		score++
	}
	if len(c.Org) > 0 {
		score++
	}
	if c.Title != "" {
		score++
	}
	score += len(c.Emails)
	score += len(c.Phones)
	score += len(c.Addresses)
	if c.Birthday != "" {
		score++
	}
	score += len(c.Notes)
	if len(c.Photos) > 0 {
		score++
	}
	return score
}
