package vcard

import (
	"bytes"
	"encoding/base64"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

const (
	crlf   = "\r\n"
	prodID = "-//BetterVCardTools//v1.0//EN"

	// maxLineOctets is the fold limit, excluding the CRLF.
	maxLineOctets = 75
)

// uidNamespace seeds deterministic UID generation. Fixed forever:
// changing it would change every generated UID.
var uidNamespace = uuid.MustParse("b1b57d8f-7a52-48a5-92e9-0c539ef97a10")

// Writer emits strict, deterministic vCard 4.0 bytes. Identical logical
// input always produces identical bytes; only REV varies, and it is
// taken from Now so tests can pin it.
type Writer struct {
	KeepPhotos bool
	Now        func() time.Time
}

// NewWriter returns a writer with the wall clock.
func NewWriter(keepPhotos bool) *Writer {
	return &Writer{KeepPhotos: keepPhotos, Now: time.Now}
}

// EncodeAll encodes the contacts in the given order.
func (w *Writer) EncodeAll(contacts []*model.CanonicalContact) []byte {
	var buf bytes.Buffer
	for _, c := range contacts {
		buf.Write(w.Encode(c))
	}
	return buf.Bytes()
}

// Encode emits one contact as a folded 4.0 card.
func (w *Writer) Encode(c *model.CanonicalContact) []byte {
	var lines []string
	add := func(l string) { lines = append(lines, l) }

	add("BEGIN:VCARD")
	add("VERSION:4.0")

	n := c.Name
	fn := c.FormattedName
	if fn == "" {
		fn = "Unnamed"
	}
	add("N:" + strings.Join([]string{
		escapeText(n.Family), escapeText(n.Given), escapeText(n.Additional),
		escapeText(n.Prefix), escapeText(n.Suffix),
	}, ";"))
	add("FN:" + escapeText(fn))

	if c.Nickname != "" {
		add("NICKNAME:" + escapeText(c.Nickname))
	}
	if len(c.Org) > 0 {
		comps := make([]string, len(c.Org))
		for i, o := range c.Org {
			comps[i] = escapeText(o)
		}
		add("ORG:" + strings.Join(comps, ";"))
	}
	if c.Title != "" {
		add("TITLE:" + escapeText(c.Title))
	}

	for _, e := range sortedEmails(c.Emails) {
		add("EMAIL" + typeParam(e.Types) + ":" + escapeText(e.Value))
	}
	for _, p := range sortedPhones(c.Phones) {
		if p.E164 {
			add("TEL" + typeParam(p.Types) + ";VALUE=uri:tel:" + p.Value)
		} else {
			add("TEL" + typeParam(p.Types) + ":" + escapeText(p.Value))
		}
	}
	for _, a := range sortedAddresses(c.Addresses) {
		add("ADR" + typeParam(a.Types) + ":" + strings.Join([]string{
			escapeText(a.POBox), escapeText(a.Extended), escapeText(a.Street),
			escapeText(a.City), escapeText(a.Region), escapeText(a.Postal),
			escapeText(a.Country),
		}, ";"))
	}
	if c.Birthday != "" {
		add("BDAY:" + FormatBirthday(c.Birthday))
	}
	for _, note := range c.Notes {
		add("NOTE:" + escapeText(note))
	}
	if w.KeepPhotos {
		for _, ph := range sortedPhotos(c.Photos) {
			add(photoLine(ph))
		}
	}

	for _, cf := range sortedConflicts(c.Conflicts) {
		name := "X-ORIGINAL-" + strings.ToUpper(cf.Field)
		if cf.Source != "" {
			add(name + ";X-SOURCE=" + quoteParam(cf.Source) + ":" + escapeText(cf.Discarded))
		} else {
			add(name + ":" + escapeText(cf.Discarded))
		}
	}

	add("PRODID:" + prodID)
	add("REV:" + w.Now().UTC().Format("20060102T150405Z"))
	add("UID:" + uidFor(c))
	add("END:VCARD")

	var buf bytes.Buffer
	for _, l := range lines {
		foldLine(&buf, l)
	}
	return buf.Bytes()
}

// uidFor keeps an existing UID and otherwise derives a stable one from
// the identity fields, so re-running the pipeline on the same logical
// input cannot mint a fresh identifier.
func uidFor(c *model.CanonicalContact) string {
	if c.UID != "" {
		return c.UID
	}
	var tuple strings.Builder
	tuple.WriteString(c.FormattedName)
	for _, e := range sortedEmails(c.Emails) {
		tuple.WriteString("|e:" + e.Value)
	}
	for _, p := range sortedPhones(c.Phones) {
		tuple.WriteString("|t:" + p.Value)
	}
	tuple.WriteString("|o:" + strings.Join(c.Org, ";"))
	return "urn:uuid:" + uuid.NewSHA1(uidNamespace, []byte(tuple.String())).String()
}

// GeneratedUID exposes the writer's UID derivation so the merge stage
// can assign UIDs before validation.
func GeneratedUID(c *model.CanonicalContact) string {
	return uidFor(c)
}

func photoLine(ph model.Photo) string {
	mt := ph.MediaType
	if mt == "" {
		mt = "application/octet-stream"
	}
	if len(ph.Data) > 0 {
		return "PHOTO:data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(ph.Data)
	}
	if ph.MediaType != "" {
		return "PHOTO;MEDIATYPE=" + ph.MediaType + ":" + ph.URI
	}
	return "PHOTO:" + ph.URI
}

// typeParam renders the canonical parameter block for a property:
// TYPE first, values sorted and comma-joined.
func typeParam(types []string) string {
	if len(types) == 0 {
		return ""
	}
	ts := append([]string(nil), types...)
	sort.Strings(ts)
	return ";TYPE=" + strings.Join(ts, ",")
}

func quoteParam(v string) string {
	if strings.ContainsAny(v, ";:,") {
		return `"` + v + `"`
	}
	return v
}

// escapeText escapes backslash, semicolon, comma and newline per
// RFC 6350 and drops stray CRs.
func escapeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ';':
			b.WriteString(`\;`)
		case ',':
			b.WriteString(`\,`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldLine writes one logical line folded at exactly 75 octets, never
// splitting a UTF-8 sequence. Continuations are CRLF + one space; the
// space counts against the continuation's 75 octets.
func foldLine(buf *bytes.Buffer, line string) {
	budget := maxLineOctets
	for len(line) > budget {
		cut := budget
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = budget // oversized rune cannot happen in valid UTF-8
		}
		buf.WriteString(line[:cut])
		buf.WriteString(crlf)
		buf.WriteByte(' ')
		line = line[cut:]
		budget = maxLineOctets - 1
	}
	buf.WriteString(line)
	buf.WriteString(crlf)
}

// FormatBirthday renders a normalized ISO date (YYYY-MM-DD or --MM-DD)
// in 4.0 date syntax (YYYYMMDD or --MMDD).
func FormatBirthday(iso string) string {
	if strings.HasPrefix(iso, "--") {
		return "--" + strings.ReplaceAll(iso[2:], "-", "")
	}
	return strings.ReplaceAll(iso, "-", "")
}

func sortedEmails(in []model.Email) []model.Email {
	out := append([]model.Email(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func sortedPhones(in []model.Phone) []model.Phone {
	out := append([]model.Phone(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func sortedAddresses(in []model.Address) []model.Address {
	out := append([]model.Address(nil), in...)
	sort.Slice(out, func(i, j int) bool { return addressKey(out[i]) < addressKey(out[j]) })
	return out
}

func addressKey(a model.Address) string {
	return strings.Join([]string{a.Street, a.City, a.Region, a.Postal, a.Country, a.POBox, a.Extended}, "\x00")
}

func sortedPhotos(in []model.Photo) []model.Photo {
	out := append([]model.Photo(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hash != out[j].Hash {
			return out[i].Hash < out[j].Hash
		}
		return out[i].URI < out[j].URI
	})
	return out
}

func sortedConflicts(in []model.Conflict) []model.Conflict {
	out := append([]model.Conflict(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		if out[i].Discarded != out[j].Discarded {
			return out[i].Discarded < out[j].Discarded
		}
		return out[i].Source < out[j].Source
	})
	return out
}
