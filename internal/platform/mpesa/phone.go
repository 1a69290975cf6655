package mpesa

import "strings"

const (
	countryCode      = "254"
	subscriberLen    = 9
	localPrefix      = "0"
	internationalLen = len(countryCode) + subscriberLen
)

// NormalizeInternational returns the phone as 2547XXXXXXXX / 2541XXXXXXXX, the only format the gateway accepts
func NormalizeInternational(phone string) (string, bool) {
	subscriber, ok := subscriberNumber(phone)
	if !ok {
		return "", false
	}
	return countryCode + subscriber, true
}

// NormalizeLocal returns the phone as 07XXXXXXXX / 01XXXXXXXX, the format users are stored under
func NormalizeLocal(phone string) (string, bool) {
	subscriber, ok := subscriberNumber(phone)
	if !ok {
		return "", false
	}
	return localPrefix + subscriber, true
}

func IsRecognizablePhone(phone string) bool {
	_, ok := subscriberNumber(phone)
	return ok
}

// LookupVariants lists the spellings a stored phone number may have, local first
func LookupVariants(phone string) []string {
	subscriber, ok := subscriberNumber(phone)
	if !ok {
		return nil
	}
	return []string{localPrefix + subscriber, countryCode + subscriber, "+" + countryCode + subscriber}
}

func subscriberNumber(phone string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.', '+':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))

	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false
		}
	}

	var subscriber string
	switch {
	case len(digits) == internationalLen && strings.HasPrefix(digits, countryCode):
		subscriber = digits[len(countryCode):]
	case len(digits) == subscriberLen+1 && strings.HasPrefix(digits, localPrefix):
		subscriber = digits[1:]
	case len(digits) == subscriberLen:
		subscriber = digits
	default:
		return "", false
	}

	if subscriber[0] != '7' && subscriber[0] != '1' {
		return "", false
	}
	return subscriber, true
}
