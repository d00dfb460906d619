package vcard

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

// ParseError is a hard, record-scoped parse failure. The reader skips
// the offending block and continues with the next one.
type ParseError struct {
	Source  string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: line %d: %s", e.Source, e.Line, e.Message)
}

// Reader produces one Record per completed BEGIN/END:VCARD block.
// It never materializes the whole input.
type Reader struct {
	br     *bufio.Reader
	source string
	seq    int
	line   int
	eof    bool
}

// NewReader wraps r; source names the input (used in record identifiers
// and findings).
func NewReader(r io.Reader, source string) *Reader {
	return &Reader{br: bufio.NewReader(r), source: source}
}

// Next returns the next record, io.EOF at end of input, or a
// *ParseError when a block is structurally malformed. After a
// *ParseError the reader has already skipped to the next block, so the
// caller can keep calling Next.
func (rd *Reader) Next() (*Record, error) {
	for {
		if rd.eof {
			return nil, io.EOF
		}
		line, err := rd.readLine()
		if err == io.EOF {
			rd.eof = true
			if line == "" {
				return nil, io.EOF
			}
		} else if err != nil {
			return nil, fmt.Errorf("read %s: %w", rd.source, err)
		}
		if !strings.EqualFold(strings.TrimSpace(line), "BEGIN:VCARD") {
			continue // tolerate junk between blocks
		}
		return rd.readBlock()
	}
}

// readBlock consumes logical lines until END:VCARD.
func (rd *Reader) readBlock() (*Record, error) {
	// provisional identifier for errors raised before the block's
	// content hash is known
	rec := &Record{Source: fmt.Sprintf("%s#%06d", rd.source, rd.seq)}
	rd.seq++
	startLine := rd.line

	var logical []string
	terminated := false
	for !rd.eof {
		line, err := rd.readLine()
		if err == io.EOF {
			rd.eof = true
			if line == "" {
				break
			}
		} else if err != nil {
			return nil, fmt.Errorf("read %s: %w", rd.source, err)
		}

		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			// folded continuation: one leading WSP is the marker
			if len(logical) == 0 {
				return nil, rd.fail(rec, "continuation line before any property")
			}
			logical[len(logical)-1] += line[1:]
			continue
		}
		if strings.EqualFold(strings.TrimSpace(line), "END:VCARD") {
			terminated = true
			break
		}
		if strings.EqualFold(strings.TrimSpace(line), "BEGIN:VCARD") {
			// unterminated previous block: scope the error to it and
			// let the next call restart cleanly at this BEGIN
			rd.br = prepend(rd.br, "BEGIN:VCARD\r\n")
			return nil, &ParseError{Source: rec.Source, Line: startLine, Message: "unterminated block: BEGIN before END"}
		}
		// 2.1 quoted-printable soft line break: a trailing '=' joins
		// the next physical line without a folding marker
		for strings.HasSuffix(line, "=") && isQuotedPrintableLine(line) && !rd.eof {
			next, err := rd.readLine()
			if err == io.EOF {
				rd.eof = true
			} else if err != nil {
				return nil, fmt.Errorf("read %s: %w", rd.source, err)
			}
			line = line[:len(line)-1] + next
		}
		logical = append(logical, line)
	}
	if !terminated {
		return nil, &ParseError{Source: rec.Source, Line: startLine, Message: "unterminated block: missing END:VCARD"}
	}

	// content-addressed identifier: stable across input reordering, so
	// merge tie-breaks and provenance do not depend on arrival order
	sum := sha256.Sum256([]byte(strings.Join(logical, "\n")))
	rec.Source = fmt.Sprintf("%s#%s", rd.source, hex.EncodeToString(sum[:6]))

	for _, l := range logical {
		prop, err := parseContentLine(l)
		if err != nil {
			return nil, &ParseError{Source: rec.Source, Line: startLine, Message: err.Error()}
		}
		if err := decodeValue(prop); err != nil {
			return nil, &ParseError{Source: rec.Source, Line: startLine, Message: err.Error()}
		}
		rec.Properties = append(rec.Properties, *prop)
	}

	switch v := rec.First("VERSION"); {
	case v == nil:
		rec.Version = V30
	case v.Value == "2.1":
		rec.Version = V21
	case v.Value == "3.0":
		rec.Version = V30
	case v.Value == "4.0":
		rec.Version = V40
	default:
		return nil, &ParseError{Source: rec.Source, Line: startLine, Message: fmt.Sprintf("unsupported VERSION %q", v.Value)}
	}
	return rec, nil
}

func (rd *Reader) fail(rec *Record, msg string) *ParseError {
	return &ParseError{Source: rec.Source, Line: rd.line, Message: msg}
}

// readLine reads one physical line, stripping CRLF or bare LF.
func (rd *Reader) readLine() (string, error) {
	s, err := rd.br.ReadString('\n')
	rd.line++
	s = strings.TrimRight(s, "\r\n")
	return s, err
}

func prepend(br *bufio.Reader, s string) *bufio.Reader {
	return bufio.NewReader(io.MultiReader(strings.NewReader(s), br))
}

// isQuotedPrintableLine reports whether the content line declares
// quoted-printable encoding (2.1 style, possibly as a bare parameter).
func isQuotedPrintableLine(line string) bool {
	colon := indexUnquoted(line, ':')
	if colon < 0 {
		return false
	}
	head := strings.ToUpper(line[:colon])
	return strings.Contains(head, "QUOTED-PRINTABLE")
}

// parseContentLine splits [group "."] name *(";" param) ":" value.
func parseContentLine(line string) (*Property, error) {
	colon := indexUnquoted(line, ':')
	if colon < 0 {
		return nil, fmt.Errorf("property line without ':' separator: %q", truncate(line, 40))
	}
	head, value := line[:colon], line[colon+1:]

	p := &Property{Params: Params{}, Value: value}
	parts := splitUnquoted(head, ';')
	nameTok := parts[0]
	if dot := strings.IndexByte(nameTok, '.'); dot >= 0 {
		p.Group = nameTok[:dot]
		nameTok = nameTok[dot+1:]
	}
	if nameTok == "" {
		return nil, fmt.Errorf("empty property name in %q", truncate(line, 40))
	}
	p.Name = strings.ToUpper(nameTok)

	for _, raw := range parts[1:] {
		if raw == "" {
			return nil, fmt.Errorf("empty parameter in %q", truncate(head, 40))
		}
		if eq := strings.IndexByte(raw, '='); eq >= 0 {
			name, val := raw[:eq], raw[eq+1:]
			if name == "" {
				return nil, fmt.Errorf("parameter without name in %q", truncate(head, 40))
			}
			for _, v := range splitUnquoted(val, ',') {
				p.Params.Add(name, unquoteParam(v))
			}
			continue
		}
		// 2.1 bare token: either an encoding shorthand or a legacy type
		switch up := strings.ToUpper(raw); up {
		case "QUOTED-PRINTABLE", "BASE64", "8BIT", "7BIT":
			p.Params.Add("ENCODING", up)
		default:
			p.Params.Add("TYPE", raw)
		}
	}

	switch p.Name {
	case "N", "ADR", "ORG", "GENDER", "CLIENTPIDMAP":
		p.Kind = KindStructured
	}
	if strings.EqualFold(p.Params.Get("VALUE"), "uri") {
		p.Kind = KindURI
	}
	return p, nil
}

// decodeValue applies legacy transfer encodings and charsets in place.
func decodeValue(p *Property) error {
	enc := strings.ToUpper(p.Params.Get("ENCODING"))
	switch enc {
	case "BASE64", "B":
		data, err := base64.StdEncoding.DecodeString(strings.Map(dropSpace, p.Value))
		if err != nil {
			return fmt.Errorf("%s: invalid base64 value: %w", p.Name, err)
		}
		p.Raw = data
		p.Kind = KindBinary
		return nil
	case "QUOTED-PRINTABLE":
		qr := quotedprintable.NewReader(strings.NewReader(p.Value))
		data, err := io.ReadAll(qr)
		if err != nil {
			return fmt.Errorf("%s: invalid quoted-printable value: %w", p.Name, err)
		}
		decoded, err := decodeCharset(data, p.Params.Get("CHARSET"))
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
		p.Value = decoded
		return nil
	}
	if cs := p.Params.Get("CHARSET"); cs != "" && !strings.EqualFold(cs, "UTF-8") {
		decoded, err := decodeCharset([]byte(p.Value), cs)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
		p.Value = decoded
	} else if !utf8.ValidString(p.Value) {
		// undeclared legacy bytes: best-effort CP1252 fallback
		decoded, _ := decodeCharset([]byte(p.Value), "windows-1252")
		p.Value = decoded
	}
	return nil
}

// decodeCharset decodes data per the declared charset. UTF-8 input is
// validated rather than transformed.
func decodeCharset(data []byte, charset string) (string, error) {
	var enc encoding.Encoding
	switch strings.ToLower(charset) {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		if !utf8.Valid(data) {
			// fall back rather than reject: legacy exporters lie
			enc = charmap.Windows1252
			break
		}
		return string(data), nil
	case "iso-8859-1", "latin1", "latin-1", "8859-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	case "iso-8859-15":
		enc = charmap.ISO8859_15
	default:
		return "", fmt.Errorf("undecodable charset %q", charset)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode charset %q: %w", charset, err)
	}
	return string(out), nil
}

// SoftFindings reports tolerated legacy constructs on a parsed record:
// a missing VERSION, bare 2.1 TYPE tokens that were auto-mapped, sloppy
// base64 wrapping and vendor properties that will not survive into the
// output.
func SoftFindings(rec *Record) []model.Finding {
	var fs []model.Finding
	if rec.First("VERSION") == nil {
		fs = append(fs, model.Finding{
			Severity: model.Soft,
			Code:     model.CodeVersionMissing,
			Message:  "VERSION property missing, assuming 3.0",
			Source:   rec.Source,
		})
	}
	for i := range rec.Properties {
		p := &rec.Properties[i]
		if rec.Version == V21 && p.Params.Has("TYPE") && (p.Name == "TEL" || p.Name == "EMAIL" || p.Name == "ADR") {
			fs = append(fs, model.Finding{
				Severity: model.Soft,
				Code:     model.CodeLegacyTypeMapped,
				Message:  fmt.Sprintf("legacy %s type tokens mapped to TYPE parameter", p.Name),
				Source:   rec.Source,
				Property: p.Name,
			})
		}
		if p.Kind == KindBinary && strings.ContainsAny(p.Value, " \t") {
			// base64 with embedded whitespace: decoded anyway, re-emitted
			// with canonical wrapping
			fs = append(fs, model.Finding{
				Severity: model.Soft,
				Code:     model.CodePhotoRewrapped,
				Message:  fmt.Sprintf("%s base64 payload contains whitespace, re-wrapped canonically", p.Name),
				Source:   rec.Source,
				Property: p.Name,
			})
		}
		if strings.HasPrefix(p.Name, "X-") {
			fs = append(fs, model.Finding{
				Severity: model.Soft,
				Code:     model.CodeVendorDropped,
				Message:  fmt.Sprintf("vendor property %s not carried to output", p.Name),
				Source:   rec.Source,
				Property: p.Name,
			})
		}
	}
	return fs
}

// indexUnquoted returns the index of the first c outside double quotes.
func indexUnquoted(s string, c byte) int {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			quoted = !quoted
		case s[i] == c && !quoted:
			return i
		}
	}
	return -1
}

// splitUnquoted splits s on c outside double quotes.
func splitUnquoted(s string, c byte) []string {
	var out []string
	start := 0
	quoted := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			quoted = !quoted
		case s[i] == c && !quoted:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func unquoteParam(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\t', '\r', '\n':
		return -1
	}
	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// UnescapeText reverses RFC 6350 text escaping.
func UnescapeText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// SplitStructured splits a compound value on unescaped semicolons and
// unescapes each component.
func SplitStructured(s string) []string {
	return splitEscaped(s, ';')
}

// SplitList splits a multi-valued text value on unescaped commas and
// unescapes each item.
func SplitList(s string) []string {
	return splitEscaped(s, ',')
}

func splitEscaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			cur.WriteByte(s[i])
			i++
			cur.WriteByte(s[i])
		case s[i] == sep:
			out = append(out, UnescapeText(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	return append(out, UnescapeText(cur.String()))
}

// ParseBytes is a convenience wrapper that parses a whole buffer,
// collecting records and record-scoped errors.
func ParseBytes(data []byte, source string) ([]*Record, []*ParseError) {
	rd := NewReader(bytes.NewReader(data), source)
	var recs []*Record
	var errs []*ParseError
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return recs, errs
		}
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				errs = append(errs, pe)
				continue
			}
			// reader-level failure: surface as a final parse error
			errs = append(errs, &ParseError{Source: source, Message: err.Error()})
			return recs, errs
		}
		recs = append(recs, rec)
	}
}
