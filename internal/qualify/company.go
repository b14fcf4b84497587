package qualify

import "strings"

// legal suffixes stripped before company matching.
var legalSuffixes = []string{
	"incorporated", "corporation", "company", "limited", "holdings",
	"inc", "llc", "ltd", "corp", "gmbh", "plc", "srl", "co", "sa", "ag",
}

// companyPrefixLen bounds the prefix used for fuzzy matching, so
// "Acme Software Solutions" and "Acme Software Inc" collide.
const companyPrefixLen = 12

// NormalizeCompany renders a company name into its match key: lowercase,
// legal suffixes removed, alphanumeric only, truncated prefix.
func NormalizeCompany(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return ""
	}

	words := strings.Fields(s)
	for len(words) > 1 {
		last := strings.Trim(words[len(words)-1], ".,")
		if !isLegalSuffix(last) {
			break
		}
		words = words[:len(words)-1]
	}

	var b strings.Builder
	for _, w := range words {
		for _, r := range w {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
	}
	key := b.String()
	if len(key) > companyPrefixLen {
		key = key[:companyPrefixLen]
	}
	return key
}

func isLegalSuffix(w string) bool {
	for _, s := range legalSuffixes {
		if w == s {
			return true
		}
	}
	return false
}
