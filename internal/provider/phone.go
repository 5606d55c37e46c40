package provider

import "strings"

// countryPrefixes are the dialing prefixes the dispatch engine recognizes.
// Keyed by the one-, two- or three-digit country code.
var countryPrefixes = map[string]bool{}

func init() {
	codes := []string{
		"1", "7", "20", "27", "30", "31", "32", "33", "34", "36", "39",
		"40", "41", "43", "44", "45", "46", "47", "48", "49",
		"51", "52", "53", "54", "55", "56", "57", "58",
		"60", "61", "62", "63", "64", "65", "66",
		"81", "82", "84", "86", "90", "91", "92", "93", "94", "95", "98",
		"212", "213", "216", "218", "220", "221", "233", "234", "237",
		"250", "251", "254", "255", "256", "260", "263",
		"351", "352", "353", "354", "358", "359", "370", "371", "372",
		"380", "381", "385", "386", "387", "389",
		"420", "421", "852", "880", "886", "960", "961", "962", "963",
		"964", "965", "966", "967", "968", "971", "972", "973", "974",
		"975", "976", "977", "994", "995", "996", "998",
	}
	for _, c := range codes {
		countryPrefixes[c] = true
	}
}

// ValidatePhone checks that an address is a dialable international phone
// number: digits only after separators are stripped, 10 to 15 digits, and a
// recognized country-code prefix. It never touches the network.
func ValidatePhone(address string) bool {
	digits := stripSeparators(address)
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	for _, n := range []int{3, 2, 1} {
		if len(digits) > n && countryPrefixes[digits[:n]] {
			return true
		}
	}
	return false
}

// NormalizePhone returns the bare digit string for a valid phone address.
func NormalizePhone(address string) string {
	return stripSeparators(address)
}

func stripSeparators(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '+', ' ', '-', '(', ')', '.':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
