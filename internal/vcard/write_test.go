package vcard

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

func pinnedWriter() *Writer {
	w := NewWriter(true)
	w.Now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return w
}

func TestEncodeBasicCard(t *testing.T) {
	w := pinnedWriter()
	c := &model.CanonicalContact{
		UID:           "urn:uuid:00000000-0000-0000-0000-000000000001",
		FormattedName: "Jane Doe",
		Name:          model.Name{Family: "Doe", Given: "Jane"},
		Emails:        []model.Email{{Value: "jane@example.com", Types: []string{"home"}}},
		Sources:       []string{"a.vcf#x"},
	}
	out := string(w.Encode(c))

	assert.True(t, strings.HasPrefix(out, "BEGIN:VCARD\r\nVERSION:4.0\r\n"))
	assert.Contains(t, out, "N:Doe;Jane;;;\r\n")
	assert.Contains(t, out, "FN:Jane Doe\r\n")
	assert.Contains(t, out, "EMAIL;TYPE=home:jane@example.com\r\n")
	assert.Contains(t, out, "REV:20240601T120000Z\r\n")
	assert.Contains(t, out, "UID:urn:uuid:00000000-0000-0000-0000-000000000001\r\n")
	assert.True(t, strings.HasSuffix(out, "END:VCARD\r\n"))
}

func TestEncodeDeterministicAcrossFieldOrder(t *testing.T) {
	w := pinnedWriter()
	a := &model.CanonicalContact{
		UID:           "urn:uuid:00000000-0000-0000-0000-000000000001",
		FormattedName: "Jane Doe",
		Emails: []model.Email{
			{Value: "zz@example.com"},
			{Value: "aa@example.com"},
		},
		Phones:  []model.Phone{{Value: "+16502530000", E164: true}, {Value: "+14155550100", E164: true}},
		Sources: []string{"a.vcf#x"},
	}
	b := &model.CanonicalContact{
		UID:           a.UID,
		FormattedName: a.FormattedName,
		Emails: []model.Email{
			{Value: "aa@example.com"},
			{Value: "zz@example.com"},
		},
		Phones:  []model.Phone{{Value: "+14155550100", E164: true}, {Value: "+16502530000", E164: true}},
		Sources: a.Sources,
	}
	assert.Equal(t, w.Encode(a), w.Encode(b))
}

func TestFoldAt75Octets(t *testing.T) {
	w := pinnedWriter()
	c := &model.CanonicalContact{
		UID:           "u",
		FormattedName: "Jane",
		Notes:         []string{strings.Repeat("x", 300)},
		Sources:       []string{"a.vcf#x"},
	}
	out := string(w.Encode(c))
	for _, line := range strings.Split(out, "\r\n") {
		assert.LessOrEqual(t, len(line), 75, "physical line over fold limit: %q", line)
	}
	// unfolding restores the logical line
	unfolded := strings.ReplaceAll(out, "\r\n ", "")
	assert.Contains(t, unfolded, "NOTE:"+strings.Repeat("x", 300))
}

func TestFoldNeverSplitsRunes(t *testing.T) {
	w := pinnedWriter()
	c := &model.CanonicalContact{
		UID:           "u",
		FormattedName: "Jane",
		Notes:         []string{strings.Repeat("é", 200)},
		Sources:       []string{"a.vcf#x"},
	}
	out := w.Encode(c)
	assert.True(t, strings.HasPrefix(string(out), "BEGIN:VCARD"))
	for _, line := range strings.Split(string(out), "\r\n") {
		assert.True(t, len(line) <= 75)
		assert.True(t, utf8.ValidString(line), "fold split a UTF-8 sequence")
	}
}

func TestEscaping(t *testing.T) {
	w := pinnedWriter()
	c := &model.CanonicalContact{
		UID:           "u",
		FormattedName: "Doe, Jane; Q",
		Notes:         []string{"line1\nline2"},
		Sources:       []string{"a.vcf#x"},
	}
	out := string(w.Encode(c))
	assert.Contains(t, out, `FN:Doe\, Jane\; Q`)
	assert.Contains(t, out, `NOTE:line1\nline2`)
}

func TestGeneratedUIDStable(t *testing.T) {
	c := &model.CanonicalContact{
		FormattedName: "Jane Doe",
		Emails:        []model.Email{{Value: "jane@example.com"}},
		Sources:       []string{"a.vcf#x"},
	}
	u1 := GeneratedUID(c)
	u2 := GeneratedUID(c)
	assert.Equal(t, u1, u2)
	assert.True(t, strings.HasPrefix(u1, "urn:uuid:"))

	// a different identity gets a different UID
	other := &model.CanonicalContact{
		FormattedName: "John Doe",
		Emails:        []model.Email{{Value: "john@example.com"}},
		Sources:       []string{"a.vcf#y"},
	}
	assert.NotEqual(t, u1, GeneratedUID(other))
}

func TestBirthdayFormats(t *testing.T) {
	assert.Equal(t, "19900101", FormatBirthday("1990-01-01"))
	assert.Equal(t, "--0214", FormatBirthday("--02-14"))
}

func TestConflictsEmittedAsXOriginal(t *testing.T) {
	w := pinnedWriter()
	c := &model.CanonicalContact{
		UID:           "u",
		FormattedName: "Jane",
		Birthday:      "1990-01-01",
		Conflicts: []model.Conflict{
			{Field: "BDAY", Discarded: "1990-02-02", Source: "b.vcf#y", Reason: "differing birthday"},
		},
		Sources: []string{"a.vcf#x"},
	}
	out := string(w.Encode(c))
	assert.Contains(t, out, "BDAY:19900101\r\n")
	assert.Contains(t, out, "X-ORIGINAL-BDAY;X-SOURCE=b.vcf#y:1990-02-02\r\n")
}

func TestPhotoInlineRoundtripsBytes(t *testing.T) {
	w := pinnedWriter()
	data := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02, 0x03}
	c := &model.CanonicalContact{
		UID:           "u",
		FormattedName: "Jane",
		Photos:        []model.Photo{{Data: data, Hash: "h", MediaType: "image/jpeg"}},
		Sources:       []string{"a.vcf#x"},
	}
	out := string(w.Encode(c))
	assert.Contains(t, strings.ReplaceAll(out, "\r\n ", ""), "PHOTO:data:image/jpeg;base64,/9j/4AECAw==")
}

func TestKeepPhotosOff(t *testing.T) {
	w := pinnedWriter()
	w.KeepPhotos = false
	c := &model.CanonicalContact{
		UID:           "u",
		FormattedName: "Jane",
		Photos:        []model.Photo{{URI: "https://example.com/p.jpg"}},
		Sources:       []string{"a.vcf#x"},
	}
	assert.NotContains(t, string(w.Encode(c)), "PHOTO")
}
