package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	isoDateRe  = regexp.MustCompile(`^(\d{4})-?(\d{2})-?(\d{2})`)
	monthDayRe = regexp.MustCompile(`^--(\d{2})-?(\d{2})$`)
)

// Date converts a BDAY value to ISO 8601: YYYY-MM-DD, or --MM-DD for
// year-less birthdays. The second return is false when the value could
// not be understood; the caller keeps the birthday absent and raises a
// soft finding.
func Date(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		if validMonthDay(m[1], m[2]) {
			return fmt.Sprintf("--%s-%s", m[1], m[2]), true
		}
		return "", false
	}
	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		iso := fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
		if _, err := time.Parse("2006-01-02", iso); err == nil {
			return iso, true
		}
		return "", false
	}
	return "", false
}

func validMonthDay(mm, dd string) bool {
	_, err := time.Parse("2006-01-02", "2004-"+mm+"-"+dd) // leap year accepts 02-29
	return err == nil
}
