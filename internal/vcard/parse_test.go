package vcard

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimple30(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Jane Doe\r\n" +
		"EMAIL;TYPE=INTERNET,HOME:jane@example.com\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, V30, rec.Version)
	require.NotNil(t, rec.First("FN"))
	assert.Equal(t, "Jane Doe", rec.First("FN").Value)

	email := rec.First("EMAIL")
	require.NotNil(t, email)
	// "internet" is legacy noise and is dropped from the label set
	assert.Equal(t, []string{"home"}, email.Types())
}

func TestParseUnfolding(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"NOTE:first part\r\n" +
		" second part\r\n" +
		"\tthird part\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "first partsecond partthird part", recs[0].First("NOTE").Value)
}

func TestParseToleratesBareLF(t *testing.T) {
	input := "BEGIN:VCARD\nVERSION:4.0\nFN:Jane\nUID:x\nEND:VCARD\n"
	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, V40, recs[0].Version)
}

func TestParseQuotedPrintable21(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:2.1\r\n" +
		"FN;ENCODING=QUOTED-PRINTABLE;CHARSET=UTF-8:Jos=C3=A9\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "José", recs[0].First("FN").Value)
}

func TestParseQuotedPrintableSoftBreak(t *testing.T) {
	// 2.1 soft line break: trailing '=' joins the next physical line
	input := "BEGIN:VCARD\r\n" +
		"VERSION:2.1\r\n" +
		"NOTE;ENCODING=QUOTED-PRINTABLE:hello =\r\n" +
		"world\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "hello world", recs[0].First("NOTE").Value)
}

func TestParseLatin1Charset(t *testing.T) {
	line := append([]byte("FN;CHARSET=ISO-8859-1:Jos"), 0xE9) // é in latin-1
	input := "BEGIN:VCARD\r\nVERSION:2.1\r\n" + string(line) + "\r\nEND:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "José", recs[0].First("FN").Value)
}

func TestParseBase64Photo(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Jane\r\n" +
		"PHOTO;ENCODING=B;TYPE=JPEG:aGVsbG8gd29ybGQ=\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)

	photo := recs[0].First("PHOTO")
	require.NotNil(t, photo)
	assert.Equal(t, KindBinary, photo.Kind)
	assert.Equal(t, []byte("hello world"), photo.Raw)
}

func TestVendorPropertyDroppedFinding(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Jane\r\n" +
		"X-SKYPE:jane.doe\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)

	var codes []string
	for _, f := range SoftFindings(recs[0]) {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "vendor-property-dropped")
}

func TestParseBase64WithWhitespaceRewrapped(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Jane\r\n" +
		"PHOTO;ENCODING=B;TYPE=JPEG:aGVsbG8g d29ybGQ=\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("hello world"), recs[0].First("PHOTO").Raw)

	var codes []string
	for _, f := range SoftFindings(recs[0]) {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "photo-rewrapped")
}

func TestParseBare21TypeTokens(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:2.1\r\n" +
		"TEL;HOME;CELL:+1 650 253 0000\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"cell", "home"}, recs[0].First("TEL").Types())
}

func TestParseVersionDefaultsTo30(t *testing.T) {
	input := "BEGIN:VCARD\r\nFN:Jane\r\nEND:VCARD\r\n"
	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, V30, recs[0].Version)

	fs := SoftFindings(recs[0])
	require.NotEmpty(t, fs)
	assert.Equal(t, "version-missing", fs[0].Code)
}

func TestParseUnterminatedBlockIsRecordScoped(t *testing.T) {
	// first block never ends; second block must still parse
	input := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Broken\r\n" +
		"BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Fine\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "unterminated")
	require.Len(t, recs, 1)
	assert.Equal(t, "Fine", recs[0].First("FN").Value)
}

func TestParseMissingColonIsRecordScoped(t *testing.T) {
	input := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN Jane has no colon\r\n" +
		"END:VCARD\r\n" +
		"BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Jane\r\n" +
		"END:VCARD\r\n"

	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Len(t, errs, 1)
	require.Len(t, recs, 1)
	assert.Equal(t, "Jane", recs[0].First("FN").Value)
}

func TestParseMultipleBlocksStreaming(t *testing.T) {
	input := strings.Repeat("BEGIN:VCARD\r\nVERSION:4.0\r\nFN:X\r\nUID:u\r\nEND:VCARD\r\n", 3)
	rd := NewReader(strings.NewReader(input), "a.vcf")
	count := 0
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NotNil(t, rec)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestContentIDStableAcrossReordering(t *testing.T) {
	a := "BEGIN:VCARD\r\nVERSION:4.0\r\nFN:A\r\nEND:VCARD\r\n"
	b := "BEGIN:VCARD\r\nVERSION:4.0\r\nFN:B\r\nEND:VCARD\r\n"

	recs1, _ := ParseBytes([]byte(a+b), "x.vcf")
	recs2, _ := ParseBytes([]byte(b+a), "x.vcf")
	require.Len(t, recs1, 2)
	require.Len(t, recs2, 2)
	assert.Equal(t, recs1[0].Source, recs2[1].Source)
	assert.Equal(t, recs1[1].Source, recs2[0].Source)
}

func TestSplitStructuredEscapes(t *testing.T) {
	comps := SplitStructured(`Doe;Jane\;Q;;Dr.;`)
	assert.Equal(t, []string{"Doe", "Jane;Q", "", "Dr.", ""}, comps)
}

func TestGroupPrefix(t *testing.T) {
	input := "BEGIN:VCARD\r\nVERSION:3.0\r\nitem1.EMAIL:a@b.co\r\nEND:VCARD\r\n"
	recs, errs := ParseBytes([]byte(input), "a.vcf")
	require.Empty(t, errs)
	p := recs[0].First("EMAIL")
	require.NotNil(t, p)
	assert.Equal(t, "item1", p.Group)
}
