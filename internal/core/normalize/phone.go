package normalize

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/bettervcard/vcardkit/internal/core/model"
)

// Phone rewrites a raw TEL value in E.164 form using the configured
// default region for numbers without a country code. Numbers that do
// not parse as valid are kept with their formatting noise stripped and
// E164 left false so the caller can raise a soft finding.
func Phone(raw, region string, types []string) model.Phone {
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "tel:")
	num, err := phonenumbers.Parse(cleaned, region)
	if err == nil && phonenumbers.IsValidNumber(num) {
		return model.Phone{
			Value: phonenumbers.Format(num, phonenumbers.E164),
			E164:  true,
			Types: types,
		}
	}
	return model.Phone{Value: stripPhoneNoise(cleaned), Types: types}
}

// stripPhoneNoise removes separators and wrapping, mirroring the
// tel-URI cleanup the 4.0 writer needs, without asserting validity.
func stripPhoneNoise(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '(', ')', '-', '.':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
