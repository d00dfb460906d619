// Package normalize turns parsed records into canonical contacts. Every
// function here is a pure function of its input and the run
// configuration; invocations share no state and can run in parallel.
package normalize

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/bettervcard/vcardkit/internal/core/model"
	"github.com/bettervcard/vcardkit/internal/vcard"
)

// Record projects one parsed record into a CanonicalContact, returning
// the soft findings raised along the way.
func Record(cfg model.Config, rec *vcard.Record) (*model.CanonicalContact, []model.Finding) {
	var fs []model.Finding
	soft := func(code, msg, prop string) {
		fs = append(fs, model.Finding{
			Severity: model.Soft, Code: code, Message: msg,
			Source: rec.Source, Property: prop,
		})
	}

	clean := func(s string) string {
		s = stripControl(s)
		if repaired, ok := RepairMojibake(s, cfg.Repair); ok {
			soft(model.CodeMojibakeRepaired, "re-decoded mis-encoded text", "")
			s = repaired
		}
		if cfg.NFC {
			s = norm.NFC.String(s)
		}
		return strings.TrimSpace(s)
	}

	c := &model.CanonicalContact{Sources: []string{rec.Source}}

	if p := rec.First("UID"); p != nil {
		c.UID = clean(vcard.UnescapeText(p.Value))
	}

	if p := rec.First("FN"); p != nil {
		fn := clean(vcard.UnescapeText(p.Value))
		cased := TitleCase(fn)
		if cased != fn {
			soft(model.CodeLowConfidence, "display name re-cased", "FN")
		}
		c.FormattedName = cased
	}

	if p := rec.First("N"); p != nil {
		comps := vcard.SplitStructured(p.Value)
		get := func(i int) string {
			if i < len(comps) {
				return clean(comps[i])
			}
			return ""
		}
		c.Name = model.Name{
			Family:     get(0),
			Given:      get(1),
			Additional: get(2),
			Prefix:     get(3),
			Suffix:     get(4),
		}
	} else if c.FormattedName != "" {
		c.Name = SplitName(c.FormattedName)
	}

	if p := rec.First("NICKNAME"); p != nil {
		c.Nickname = clean(vcard.UnescapeText(p.Value))
	}
	if p := rec.First("TITLE"); p != nil {
		c.Title = clean(vcard.UnescapeText(p.Value))
	}
	if p := rec.First("ORG"); p != nil {
		for _, comp := range vcard.SplitStructured(p.Value) {
			if v := clean(comp); v != "" {
				c.Org = append(c.Org, v)
			}
		}
	}

	seenEmail := map[string]bool{}
	for _, p := range rec.All("EMAIL") {
		addr := Email(clean(vcard.UnescapeText(p.Value)))
		if addr == "" {
			soft(model.CodeEmptyDropped, "empty EMAIL dropped", "EMAIL")
			continue
		}
		key := strings.ToLower(addr)
		if seenEmail[key] {
			continue
		}
		seenEmail[key] = true
		c.Emails = append(c.Emails, model.Email{Value: addr, Types: p.Types()})
	}

	seenPhone := map[string]bool{}
	for _, p := range rec.All("TEL") {
		raw := clean(p.Value)
		if raw == "" {
			soft(model.CodeEmptyDropped, "empty TEL dropped", "TEL")
			continue
		}
		ph := Phone(raw, cfg.DefaultRegion, p.Types())
		if !ph.E164 {
			soft(model.CodePhoneKeptRaw, fmt.Sprintf("phone %q not confidently parseable, kept as-is", raw), "TEL")
		}
		if ph.Value == "" || seenPhone[ph.Value] {
			continue
		}
		seenPhone[ph.Value] = true
		c.Phones = append(c.Phones, ph)
	}

	seenAddr := map[string]bool{}
	for _, p := range rec.All("ADR") {
		comps := vcard.SplitStructured(p.Value)
		get := func(i int) string {
			if i < len(comps) {
				return clean(comps[i])
			}
			return ""
		}
		a := model.Address{
			POBox: get(0), Extended: get(1), Street: get(2),
			City: get(3), Region: get(4), Postal: get(5), Country: get(6),
			Types: p.Types(),
		}
		if a.IsZero() {
			continue
		}
		key := strings.Join([]string{
			a.POBox, a.Extended, a.Street, a.City, a.Region, a.Postal, a.Country,
		}, "\x00")
		if seenAddr[key] {
			continue
		}
		seenAddr[key] = true
		c.Addresses = append(c.Addresses, a)
	}

	if p := rec.First("BDAY"); p != nil {
		iso, ok := Date(clean(p.Value))
		if ok {
			c.Birthday = iso
		} else {
			soft(model.CodeDateKeptRaw, fmt.Sprintf("BDAY %q not understood, dropped", p.Value), "BDAY")
		}
	}

	seenNote := map[string]bool{}
	for _, p := range rec.All("NOTE") {
		note := clean(vcard.UnescapeText(p.Value))
		if note == "" || seenNote[note] {
			continue
		}
		seenNote[note] = true
		c.Notes = append(c.Notes, note)
	}

	for _, p := range rec.All("PHOTO") {
		ph, ok := photo(p)
		if !ok {
			soft(model.CodeEmptyDropped, "empty PHOTO dropped", "PHOTO")
			continue
		}
		if dup := containsPhoto(c.Photos, ph); !dup {
			c.Photos = append(c.Photos, ph)
		}
	}

	return c, fs
}

// Email lower-cases the domain and leaves the local part untouched.
func Email(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr
	}
	return addr[:at+1] + strings.ToLower(addr[at+1:])
}

// photo builds a content-addressed Photo from a PHOTO property.
func photo(p *vcard.Property) (model.Photo, bool) {
	if p.Kind == vcard.KindBinary {
		if len(p.Raw) == 0 {
			return model.Photo{}, false
		}
		sum := sha256.Sum256(p.Raw)
		return model.Photo{
			Data:      p.Raw,
			Hash:      hex.EncodeToString(sum[:]),
			MediaType: photoMediaType(p),
		}, true
	}
	uri := strings.TrimSpace(p.Value)
	if uri == "" {
		return model.Photo{}, false
	}
	if data, mt, ok := decodeDataURI(uri); ok {
		sum := sha256.Sum256(data)
		return model.Photo{Data: data, Hash: hex.EncodeToString(sum[:]), MediaType: mt}, true
	}
	return model.Photo{URI: uri, MediaType: photoMediaType(p)}, true
}

// decodeDataURI unpacks data:<mediatype>;base64,<payload> so inline
// photos stay content-addressed across a write/parse round trip.
func decodeDataURI(uri string) ([]byte, string, bool) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", false
	}
	head, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(head, ";base64") {
		return nil, "", false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return nil, "", false
	}
	return data, strings.ToLower(strings.TrimSuffix(head, ";base64")), true
}

// photoMediaType resolves MEDIATYPE, the legacy TYPE=JPEG form, or "".
func photoMediaType(p *vcard.Property) string {
	if mt := p.Params.Get("MEDIATYPE"); mt != "" {
		return strings.ToLower(mt)
	}
	for _, t := range p.Params.Values("TYPE") {
		switch strings.ToUpper(t) {
		case "JPEG", "JPG":
			return "image/jpeg"
		case "PNG":
			return "image/png"
		case "GIF":
			return "image/gif"
		case "WEBP":
			return "image/webp"
		}
	}
	return ""
}

func containsPhoto(ps []model.Photo, ph model.Photo) bool {
	for _, x := range ps {
		if ph.Hash != "" && x.Hash == ph.Hash {
			return true
		}
		if ph.Hash == "" && ph.URI != "" && x.URI == ph.URI {
			return true
		}
	}
	return false
}

// stripControl removes control characters other than tab and newline.
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		if r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Contact re-applies the field normalizers to an already-canonical
// contact. Normalization is idempotent: for any contact produced by
// Record, Contact returns it unchanged.
func Contact(cfg model.Config, c *model.CanonicalContact) *model.CanonicalContact {
	out := *c
	clean := func(s string) string {
		s = stripControl(s)
		if repaired, ok := RepairMojibake(s, cfg.Repair); ok {
			s = repaired
		}
		if cfg.NFC {
			s = norm.NFC.String(s)
		}
		return strings.TrimSpace(s)
	}
	out.FormattedName = TitleCase(clean(c.FormattedName))
	out.Nickname = clean(c.Nickname)
	out.Title = clean(c.Title)

	out.Emails = append([]model.Email(nil), c.Emails...)
	for i := range out.Emails {
		out.Emails[i].Value = Email(clean(out.Emails[i].Value))
	}
	out.Phones = append([]model.Phone(nil), c.Phones...)
	for i := range out.Phones {
		ph := Phone(out.Phones[i].Value, cfg.DefaultRegion, out.Phones[i].Types)
		out.Phones[i].Value = ph.Value
		out.Phones[i].E164 = ph.E164
	}
	if c.Birthday != "" {
		if iso, ok := Date(c.Birthday); ok {
			out.Birthday = iso
		}
	}
	return &out
}
