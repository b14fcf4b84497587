package attribution

import "strings"

// Element is one detected content element in an outbound email.
type Element struct {
	Category string
	Name     string
	Position int
}

// Taxonomy categories.
const (
	CategorySubjectLine = "subject_line"
	CategoryOpener      = "opener"
	CategoryPainPoint   = "pain_point"
	CategoryCTA         = "cta"
	CategoryTone        = "tone"
	CategoryLength      = "length"
)

// DetectElements tags an email's content with deterministic, auditable
// heuristics. The same subject+body always yields the same tags, which is
// what makes downstream performance aggregates trustworthy.
func DetectElements(subject, body, topTrigger string) []Element {
	lower := strings.ToLower(body)
	elements := []Element{
		{Category: CategorySubjectLine, Name: subjectKind(subject, topTrigger), Position: 0},
		{Category: CategoryOpener, Name: openerKind(body, topTrigger), Position: 1},
	}
	if pain := painPointKind(lower); pain != "" {
		elements = append(elements, Element{Category: CategoryPainPoint, Name: pain, Position: 2})
	}
	elements = append(elements,
		Element{Category: CategoryCTA, Name: ctaKind(lower), Position: 3},
		Element{Category: CategoryTone, Name: toneKind(body), Position: 4},
		Element{Category: CategoryLength, Name: lengthBucket(body), Position: 5},
	)
	return elements
}

func subjectKind(subject, topTrigger string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	switch {
	case strings.HasSuffix(s, "?"):
		return "question"
	case topTrigger != "" && containsAnyWord(s, strings.ToLower(topTrigger)):
		return "trigger_based"
	default:
		return "direct"
	}
}

func openerKind(body, topTrigger string) string {
	first := strings.ToLower(firstSentence(body))
	switch {
	case strings.Contains(first, "congrat"):
		return "congratulation"
	case topTrigger != "" && containsAnyWord(first, strings.ToLower(topTrigger)):
		return "trigger_reference"
	case strings.Contains(first, "mutual") || strings.Contains(first, "we both"):
		return "mutual"
	case strings.HasSuffix(strings.TrimSpace(first), "?"):
		return "question"
	default:
		return "direct"
	}
}

var painPointKinds = []struct {
	name     string
	keywords []string
}{
	{"time", []string{"hours", "time-consuming", "manual", "tedious"}},
	{"revenue", []string{"revenue", "pipeline", "quota", "bookings"}},
	{"competitive", []string{"competitor", "competitive", "losing deals", "market share"}},
	{"scale", []string{"scale", "scaling", "growth", "headcount"}},
}

func painPointKind(lowerBody string) string {
	for _, k := range painPointKinds {
		for _, kw := range k.keywords {
			if strings.Contains(lowerBody, kw) {
				return k.name
			}
		}
	}
	return ""
}

func ctaKind(lowerBody string) string {
	switch {
	case containsAny(lowerBody, "quick call", "15 minutes", "meeting", "demo", "calendar"):
		return "meeting_request"
	case containsAny(lowerBody, "worth a look", "worth exploring", "open to", "interested in hearing"):
		return "interest_check"
	case containsAny(lowerBody, "thoughts?", "let me know", "reply"):
		return "reply_request"
	default:
		return "none"
	}
}

func toneKind(body string) string {
	if strings.Count(body, "!") >= 2 {
		return "enthusiastic"
	}
	if len(strings.Fields(body)) < 60 {
		return "direct"
	}
	return "professional"
}

func lengthBucket(body string) string {
	words := len(strings.Fields(body))
	switch {
	case words < 50:
		return "short"
	case words < 120:
		return "medium"
	default:
		return "long"
	}
}

func firstSentence(body string) string {
	body = strings.TrimSpace(body)
	for i, r := range body {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return body[:i+1]
		}
	}
	return body
}

// containsAnyWord reports whether any word of phrase appears in s.
func containsAnyWord(s, phrase string) bool {
	for _, w := range strings.Fields(phrase) {
		if len(w) > 3 && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
