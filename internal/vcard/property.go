package vcard

import (
	"sort"
	"strings"
)

// ValueKind classifies how a property value should be interpreted.
type ValueKind int

const (
	KindText ValueKind = iota
	KindStructured
	KindBinary
	KindURI
)

// Params is a case-insensitive multi-valued parameter mapping. Keys are
// stored upper-cased; each key maps to the ordered values seen.
type Params map[string][]string

// Add appends a value under the upper-cased name.
func (p Params) Add(name, value string) {
	key := strings.ToUpper(name)
	p[key] = append(p[key], value)
}

// Get returns the first value for name, or "".
func (p Params) Get(name string) string {
	vs := p[strings.ToUpper(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for name.
func (p Params) Values(name string) []string {
	return p[strings.ToUpper(name)]
}

// Has reports whether name has at least one value.
func (p Params) Has(name string) bool {
	return len(p[strings.ToUpper(name)]) > 0
}

// Property is one unfolded, decoded content line. Name is upper-cased
// at parse time; the original casing is not retained.
type Property struct {
	Name  string
	Group string
	Params
	Value string
	Kind  ValueKind

	// Raw holds the decoded binary payload for KindBinary properties
	// so embedded media can be re-emitted byte for byte.
	Raw []byte
}

// Types returns the lower-cased, sorted TYPE labels of the property,
// with legacy noise removed: "internet" is dropped on EMAIL, and
// "voice" is dropped on TEL when other labels exist.
func (p *Property) Types() []string {
	seen := map[string]bool{}
	for _, v := range p.Values("TYPE") {
		for _, part := range strings.Split(v, ",") {
			t := strings.ToLower(strings.TrimSpace(part))
			if t != "" {
				seen[t] = true
			}
		}
	}
	if p.Name == "EMAIL" {
		delete(seen, "internet")
	}
	if p.Name == "TEL" && len(seen) > 1 {
		delete(seen, "voice")
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Version is the detected source grammar of a record.
type Version string

const (
	V21 Version = "2.1"
	V30 Version = "3.0"
	V40 Version = "4.0"
)

// Record is one parsed BEGIN/END:VCARD block: its properties in input
// order, the detected version and a stable source identifier.
type Record struct {
	Properties []Property
	Version    Version
	Source     string
}

// First returns the first property with the given (upper-case) name.
func (r *Record) First(name string) *Property {
	for i := range r.Properties {
		if r.Properties[i].Name == name {
			return &r.Properties[i]
		}
	}
	return nil
}

// All returns every property with the given (upper-case) name, in order.
func (r *Record) All(name string) []*Property {
	var out []*Property
	for i := range r.Properties {
		if r.Properties[i].Name == name {
			out = append(out, &r.Properties[i])
		}
	}
	return out
}
