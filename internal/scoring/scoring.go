// Package scoring holds the two pure lead-scoring functions: firmographic
// intent scoring for ingested records and page-intent scoring for pixel
// visit history. Both are deterministic; no clock, no I/O.
package scoring

import (
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/normalize"
)

// Tier labels for the total intent score.
const (
	TierStrong = "strong"
	TierMedium = "medium"
	TierWeak   = "weak"
)

// Breakdown itemizes the five intent-score components.
type Breakdown struct {
	Industry    int `json:"industry"`     // 0..25
	Revenue     int `json:"revenue"`      // 0..20
	Title       int `json:"title"`        // 0..20
	CompanySize int `json:"company_size"` // 0..15
	DataQuality int `json:"data_quality"` // 0..20
}

// IntentResult is the scored outcome for one lead.
type IntentResult struct {
	TotalScore   int       `json:"total_score"` // 0..100
	Breakdown    Breakdown `json:"breakdown"`
	Tier         string    `json:"tier"`
	Disqualified bool      `json:"disqualified,omitempty"`
}

// Industry sets. Matching is case-insensitive substring in either
// direction, so "Software" matches "Computer Software".
var targetIndustries = []string{
	"software", "saas", "information technology", "fintech",
	"financial services", "e-commerce", "marketing", "advertising",
}

var adjacentIndustries = []string{
	"consulting", "telecommunications", "media", "insurance",
	"real estate", "logistics", "healthcare",
}

// titleRule is one entry of the priority-ordered title rule list. First
// match wins.
type titleRule struct {
	keywords []string
	points   int
}

var titleRules = []titleRule{
	{[]string{"founder", "ceo", "chief executive", "owner", "president"}, 20},
	{[]string{"cro", "cmo", "coo", "cfo", "cto", "chief"}, 18},
	{[]string{"vp", "vice president", "head of"}, 16},
	{[]string{"director"}, 13},
	{[]string{"manager", "lead"}, 9},
	{[]string{"senior", "principal"}, 6},
}

var disqualifierTitles = []string{"student", "intern", "retired", "unemployed", "assistant to"}

// IntentScore computes the firmographic intent score for a normalized lead.
// Five bounded components sum to at most 100; targeting preferences nudge
// matched components; the result is clamped to [0,100]. Disqualifier titles
// force a zero total.
func IntentScore(lead *domain.NormalizedLead, prefs *domain.TargetingPreferences) IntentResult {
	b := Breakdown{
		Industry:    scoreIndustry(lead.CompanyIndustry),
		Revenue:     scoreRevenue(lead.CompanyRevenue),
		Title:       scoreTitle(lead.JobTitle),
		CompanySize: scoreCompanySize(lead.CompanySize),
		DataQuality: scoreDataQuality(lead),
	}

	if titleDisqualified(lead.JobTitle) {
		return IntentResult{TotalScore: 0, Breakdown: Breakdown{}, Tier: TierWeak, Disqualified: true}
	}

	if prefs != nil {
		b.Industry = adjust(b.Industry, 25, lead.CompanyIndustry, prefs.IndustryWeights)
		b.Title = adjust(b.Title, 20, lead.JobTitle, prefs.TitleWeights)
		b.Revenue = adjust(b.Revenue, 20, lead.CompanyRevenue, prefs.RevenueWeights)
		b.CompanySize = adjust(b.CompanySize, 15, sizeBand(lead.CompanySize), prefs.SizeWeights)
	}

	total := clamp(b.Industry+b.Revenue+b.Title+b.CompanySize+b.DataQuality, 0, 100)
	return IntentResult{TotalScore: total, Breakdown: b, Tier: tierFor(total)}
}

func tierFor(total int) string {
	switch {
	case total >= 70:
		return TierStrong
	case total >= 40:
		return TierMedium
	default:
		return TierWeak
	}
}

func scoreIndustry(industry string) int {
	s := strings.ToLower(strings.TrimSpace(industry))
	if s == "" {
		return 0
	}
	for _, t := range targetIndustries {
		if strings.Contains(s, t) || strings.Contains(t, s) {
			return 25
		}
	}
	for _, a := range adjacentIndustries {
		if strings.Contains(s, a) || strings.Contains(a, s) {
			return 12
		}
	}
	return 0
}

func scoreRevenue(revenue string) int {
	dollars, ok := normalize.ParseRevenueDollars(revenue)
	if !ok {
		return 0
	}
	switch {
	case dollars >= 100e6:
		return 20
	case dollars >= 50e6:
		return 16
	case dollars >= 10e6:
		return 12
	case dollars >= 1e6:
		return 8
	case dollars > 0:
		return 4
	default:
		return 0
	}
}

func titleDisqualified(title string) bool {
	s := strings.ToLower(title)
	for _, d := range disqualifierTitles {
		if strings.Contains(s, d) {
			return true
		}
	}
	return false
}

func scoreTitle(title string) int {
	s := strings.ToLower(strings.TrimSpace(title))
	if s == "" || titleDisqualified(s) {
		return 0
	}
	for _, rule := range titleRules {
		for _, kw := range rule.keywords {
			if strings.Contains(s, kw) {
				return rule.points
			}
		}
	}
	return 3
}

func scoreCompanySize(size *int) int {
	if size == nil {
		return 0
	}
	n := *size
	switch {
	case n >= 50 && n <= 1000:
		return 15
	case (n >= 11 && n < 50) || (n > 1000 && n <= 5000):
		return 10
	case (n >= 5 && n < 11) || (n > 5000 && n <= 10000):
		return 5
	case n > 0:
		return 2
	default:
		return 0
	}
}

// sizeBand renders the size into the label preference maps key on.
func sizeBand(size *int) string {
	if size == nil {
		return ""
	}
	switch n := *size; {
	case n < 11:
		return "1-10"
	case n < 51:
		return "11-50"
	case n < 201:
		return "51-200"
	case n < 1001:
		return "201-1000"
	case n < 5001:
		return "1001-5000"
	default:
		return "5000+"
	}
}

func scoreDataQuality(lead *domain.NormalizedLead) int {
	score := 0
	if lead.JobTitle != "" {
		score += 4
	}
	if lead.CompanyIndustry != "" {
		score += 4
	}
	if lead.CompanySize != nil {
		score += 4
	}
	if lead.CompanyRevenue != "" {
		score += 4
	}
	if lead.LinkedIn != "" {
		score += 4
	}
	return score
}

// adjust applies a preference weight to one component. Weight 1.0 is
// neutral; the delta is (weight-1) of the points already earned, and the
// component stays within [0, max].
func adjust(earned, max int, value string, weights map[string]float64) int {
	if earned == 0 || len(weights) == 0 || value == "" {
		return earned
	}
	v := strings.ToLower(value)
	for key, w := range weights {
		if key == "" || w == 1.0 {
			continue
		}
		if strings.Contains(v, strings.ToLower(key)) {
			delta := int(float64(earned) * (w - 1.0))
			return clamp(earned+delta, 0, max)
		}
	}
	return earned
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PageBreakdown itemizes the page-intent components.
type PageBreakdown struct {
	PageRelevance  int `json:"page_relevance"`  // 0..40
	VisitFrequency int `json:"visit_frequency"` // 0..20
	Recency        int `json:"recency"`         // 0..20
	SequenceBonus  int `json:"sequence_bonus"`  // 0..20
}

// PageIntentResult is the scored outcome for a visit history.
type PageIntentResult struct {
	TotalScore int           `json:"total_score"` // <= 100
	Breakdown  PageBreakdown `json:"breakdown"`
}

// pageWeights is the fixed relevance table. Lookup is substring match on
// the lowercased path.
var pageWeights = []struct {
	fragment string
	weight   float64
}{
	{"pricing", 1.0},
	{"demo", 1.0},
	{"contact", 0.9},
	{"case-stud", 0.8},
	{"product", 0.7},
	{"feature", 0.7},
	{"integration", 0.6},
	{"doc", 0.5},
	{"solution", 0.5},
	{"about", 0.3},
	{"blog", 0.2},
}

// relevanceCap is the weight sum that earns the full 40 relevance points.
const relevanceCap = 2.5

// buyingSequences are ordered page paths that signal purchase research.
// Any one match wins the maximum bonus.
var buyingSequences = [][]string{
	{"product", "pricing"},
	{"feature", "pricing"},
	{"case-stud", "pricing"},
	{"pricing", "contact"},
	{"pricing", "demo"},
	{"doc", "pricing"},
}

// PageIntentScore scores a pixel visit history. now is passed in so the
// function stays deterministic under test.
func PageIntentScore(visits []domain.PixelVisit, now time.Time) PageIntentResult {
	if len(visits) == 0 {
		return PageIntentResult{}
	}

	b := PageBreakdown{
		PageRelevance:  scorePageRelevance(visits),
		VisitFrequency: scoreVisitFrequency(len(visits)),
		Recency:        scoreRecency(visits, now),
		SequenceBonus:  scoreSequenceBonus(visits),
	}
	return PageIntentResult{
		TotalScore: b.PageRelevance + b.VisitFrequency + b.Recency + b.SequenceBonus,
		Breakdown:  b,
	}
}

func pageWeight(page string) float64 {
	p := strings.ToLower(page)
	for _, pw := range pageWeights {
		if strings.Contains(p, pw.fragment) {
			return pw.weight
		}
	}
	return 0.1
}

func scorePageRelevance(visits []domain.PixelVisit) int {
	seen := make(map[string]bool)
	sum := 0.0
	for _, v := range visits {
		p := strings.ToLower(v.Page)
		if seen[p] {
			continue
		}
		seen[p] = true
		sum += pageWeight(p)
	}
	if sum > relevanceCap {
		sum = relevanceCap
	}
	return int(sum / relevanceCap * 40)
}

func scoreVisitFrequency(n int) int {
	switch {
	case n >= 5:
		return 20
	case n >= 3:
		return 15
	case n == 2:
		return 10
	default:
		return 5
	}
}

func scoreRecency(visits []domain.PixelVisit, now time.Time) int {
	var last time.Time
	for _, v := range visits {
		if v.VisitedAt.After(last) {
			last = v.VisitedAt
		}
	}
	days := int(now.Sub(last).Hours() / 24)
	switch {
	case days <= 1:
		return 20
	case days <= 3:
		return 15
	case days <= 7:
		return 10
	case days <= 14:
		return 5
	default:
		return 0
	}
}

func scoreSequenceBonus(visits []domain.PixelVisit) int {
	ordered := make([]domain.PixelVisit, len(visits))
	copy(ordered, visits)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].VisitedAt.Before(ordered[j-1].VisitedAt); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	for _, seq := range buyingSequences {
		idx := 0
		for _, v := range ordered {
			if strings.Contains(strings.ToLower(v.Page), seq[idx]) {
				idx++
				if idx == len(seq) {
					return 20
				}
			}
		}
	}
	return 0
}
