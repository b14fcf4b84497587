// Package normalize turns raw source records into the canonical lead shape.
// Every function here is pure and deterministic: the same record in the same
// source always yields the same NormalizedLead. Bad values produce warnings,
// never errors; the qualification stage decides what to do with thin leads.
package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/brightline/outreach-engine/internal/domain"
)

// fieldAliases maps canonical fields to the header spellings the sources
// use. Matching is case-insensitive on the normalized key.
var fieldAliases = map[string][]string{
	"email":            {"email", "email_address", "contact_email", "work_email"},
	"first_name":       {"first_name", "firstname", "first"},
	"last_name":        {"last_name", "lastname", "last"},
	"job_title":        {"job_title", "title", "position"},
	"linkedin_url":     {"linkedin_url", "linkedin", "person_linkedin_url"},
	"phone":            {"phone", "phone_number", "mobile"},
	"company_name":     {"company_name", "company", "organization_name", "organization"},
	"company_domain":   {"company_domain", "domain", "website", "company_website"},
	"company_industry": {"company_industry", "industry"},
	"company_size":     {"company_employee_count", "employee_count", "employees", "company_size", "estimated_num_employees"},
	"company_revenue":  {"company_revenue", "revenue", "annual_revenue", "estimated_annual_revenue"},
	"company_linkedin": {"company_linkedin_url", "company_linkedin", "organization_linkedin_url"},
	"page":             {"page", "page_url", "url", "visited_page"},
	"time_on_page":     {"time_on_page_ms", "time_on_page", "dwell_ms"},
}

// Normalize converts one raw record to the canonical lead shape. The
// returned warnings name missing required fields and unparseable values;
// the record is still returned.
func Normalize(raw map[string]any, source domain.LeadSource) (*domain.NormalizedLead, []string) {
	get := indexRecord(raw)
	var warnings []string

	lead := &domain.NormalizedLead{
		Email:           strings.ToLower(get("email")),
		FirstName:       cleanName(get("first_name")),
		LastName:        cleanName(get("last_name")),
		JobTitle:        strings.TrimSpace(get("job_title")),
		LinkedIn:        strings.TrimSpace(get("linkedin_url")),
		Phone:           cleanPhone(get("phone")),
		CompanyName:     strings.TrimSpace(get("company_name")),
		CompanyDomain:   cleanDomain(get("company_domain")),
		CompanyIndustry: strings.TrimSpace(get("company_industry")),
		CompanyLinkedIn: strings.TrimSpace(get("company_linkedin")),
		Source:          source,
	}

	if size, ok := ParseEmployeeCount(get("company_size")); ok {
		lead.CompanySize = &size
	} else if get("company_size") != "" {
		warnings = append(warnings, fmt.Sprintf("unparseable employee count %q", get("company_size")))
	}

	lead.CompanyRevenue = NormalizeRevenue(get("company_revenue"))

	if source == domain.LeadSourcePixel {
		lead.Page = strings.TrimSpace(get("page"))
		if ms, err := strconv.Atoi(strings.TrimSpace(get("time_on_page"))); err == nil {
			lead.TimeOnPageMS = ms
		}
	}

	if lead.Email == "" {
		warnings = append(warnings, "missing required field email")
	}
	if lead.CompanyName == "" {
		warnings = append(warnings, "missing required field company_name")
	}
	return lead, warnings
}

// indexRecord builds a case-insensitive lookup over the raw record keyed by
// canonical field name.
func indexRecord(raw map[string]any) func(field string) string {
	lowered := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if s := stringify(v); s != "" {
			lowered[key] = s
		}
	}
	return func(field string) string {
		for _, alias := range fieldAliases[field] {
			if v, ok := lowered[alias]; ok {
				return v
			}
		}
		return ""
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Title-case single tokens, leave mixed-case names alone.
	if s == strings.ToLower(s) || s == strings.ToUpper(s) {
		s = strings.ToLower(s)
		return strings.ToUpper(s[:1]) + s[1:]
	}
	return s
}

func cleanPhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cleanDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// ParseEmployeeCount handles plain numbers ("5000"), ranges ("50-100" to
// their midpoint), and suffix-bearing values ("1,200+", "2.5k").
func ParseEmployeeCount(s string) (int, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}

	if lo, hi, ok := splitRange(s); ok {
		return (lo + hi) / 2, true
	}

	s = strings.TrimSuffix(s, "+")
	mult := 1.0
	switch {
	case strings.HasSuffix(strings.ToLower(s), "k"):
		mult = 1_000
		s = s[:len(s)-1]
	case strings.HasSuffix(strings.ToLower(s), "m"):
		mult = 1_000_000
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(f * mult), true
}

func splitRange(s string) (lo, hi int, ok bool) {
	sep := "-"
	if strings.Contains(s, " to ") {
		sep = " to "
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	l, err1 := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(parts[0], "+")))
	h, err2 := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(parts[1], "+")))
	if err1 != nil || err2 != nil || l < 0 || h < l {
		return 0, 0, false
	}
	return l, h, true
}

// NormalizeRevenue renders any revenue spelling into $NNK, $NNM, or $NNB
// form. Bare numbers under 1000 are assumed to be millions. Unparseable
// input normalizes to empty.
func NormalizeRevenue(s string) string {
	dollars, ok := ParseRevenueDollars(s)
	if !ok || dollars <= 0 {
		return ""
	}
	switch {
	case dollars >= 1e9:
		return formatRevenue(dollars/1e9, "B")
	case dollars >= 1e6:
		return formatRevenue(dollars/1e6, "M")
	default:
		return formatRevenue(dollars/1e3, "K")
	}
}

func formatRevenue(v float64, suffix string) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("$%d%s", int64(v), suffix)
	}
	return fmt.Sprintf("$%.1f%s", v, suffix)
}

// ParseRevenueDollars parses "$10M-$50M" ranges (midpoint), single values
// with K/M/B suffixes, and bare numbers (<1000 assumed millions). Returns
// absolute dollars.
func ParseRevenueDollars(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}

	// Range: midpoint of the two sides.
	if i := rangeSeparator(s); i > 0 {
		lo, ok1 := parseOneRevenue(s[:i])
		hi, ok2 := parseOneRevenue(s[i+1:])
		if ok1 && ok2 && hi >= lo {
			return (lo + hi) / 2, true
		}
		return 0, false
	}
	return parseOneRevenue(s)
}

// rangeSeparator finds a dash that splits two values, skipping a leading
// negative sign.
func rangeSeparator(s string) int {
	for i := 1; i < len(s); i++ {
		if s[i] == '-' {
			return i
		}
	}
	return -1
}

func parseOneRevenue(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, false
	}
	mult := 1.0
	hasSuffix := true
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		mult = 1e3
	case "M":
		mult = 1e6
	case "B":
		mult = 1e9
	default:
		hasSuffix = false
	}
	if hasSuffix {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	if !hasSuffix && f < 1000 {
		mult = 1e6 // bare small numbers read as millions
	}
	return f * mult, true
}
