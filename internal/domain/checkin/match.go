package checkin

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// defaultRegion is used to read numbers written without a country code.
const defaultRegion = "JP"

// minPartialDigits is the shortest fragment that may match by containment.
const minPartialDigits = 4

var phoneStripper = strings.NewReplacer("-", "", " ", "", "　", "", "(", "", ")", "", "ー", "", "－", "")

func stripPhone(s string) string {
	return phoneStripper.Replace(strings.TrimSpace(s))
}

// e164 returns the E.164 form of s, or "" when s is not a valid number.
func e164(s string) string {
	num, err := phonenumbers.Parse(s, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// PhonesMatch compares a typed phone number with the one on file. Separators
// are ignored; the numbers match when equal, when either contains the
// other and the shorter has at least minPartialDigits digits, or when both
// parse to the same E.164 number. An empty side never matches.
func PhonesMatch(input, onFile string) bool {
	a, b := stripPhone(input), stripPhone(onFile)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if min(len(a), len(b)) >= minPartialDigits && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}
	ea, eb := e164(input), e164(onFile)
	return ea != "" && ea == eb
}

// identityMatches reports whether q identifies the patient: the birth date
// or the phone must agree. Names were already matched by the store.
func identityMatches(q Query, birthDate, phone *string) bool {
	if q.BirthDate != "" && birthDate != nil && *birthDate == q.BirthDate {
		return true
	}
	return q.Phone != "" && phone != nil && PhonesMatch(q.Phone, *phone)
}
