package learning

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/store"
)

// confidenceSaturation is the sample size at which confidence reaches 1.0.
const confidenceSaturation = 500

// confidenceFor maps a sample size onto [0, 1], linear up to saturation.
func confidenceFor(sample int) float64 {
	if sample >= confidenceSaturation {
		return 1.0
	}
	if sample <= 0 {
		return 0
	}
	return float64(sample) / confidenceSaturation
}

// liftOver returns rate relative to the baseline. A zero baseline yields
// zero lift: with no baseline there is nothing to claim a lift over.
func liftOver(rate, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return rate / baseline
}

// elementPerformance turns one raw aggregate into the stored row.
func elementPerformance(tenantID string, s store.ElementStats, periodStart, periodEnd time.Time) domain.ElementPerformance {
	p := domain.ElementPerformance{
		TenantID:      tenantID,
		ElementTypeID: s.ElementTypeID,
		Scope:         "",
		TimesUsed:     s.TimesUsed,
		Confidence:    confidenceFor(s.TimesUsed),
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
	}
	if s.TimesUsed > 0 {
		n := float64(s.TimesUsed)
		p.OpenRate = float64(s.Opens) / n
		p.ReplyRate = float64(s.Replies) / n
		p.PositiveReplyRate = float64(s.PositiveReplies) / n
		p.BounceRate = float64(s.Bounces) / n
		p.UnsubscribeRate = float64(s.Unsubscribes) / n
	}
	return p
}

// candidate is one element combination under consideration.
type candidate struct {
	ElementTypeIDs []string
	SampleSize     int
	ReplyRate      float64
}

// patternName builds the stable natural key for a combination, e.g.
// "subject_line:question + pain_point:time". Unknown ids keep the raw id so
// the name stays unique.
func patternName(ids []string, types map[string]domain.ElementType) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if t, ok := types[id]; ok {
			parts = append(parts, t.Category+":"+t.Name)
		} else {
			parts = append(parts, id)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " + ")
}

// thresholds gates discovery and validation.
type thresholds struct {
	MinSample     int
	MinConfidence float64
	MinLift       float64
}

// discoverPatterns folds candidates against the baseline into pattern rows.
// Everything clearing the sample and lift gates becomes at least a
// candidate; rows also clearing the confidence gate are validated.
func discoverPatterns(tenantID string, cands []candidate, baselineReplyRate float64, types map[string]domain.ElementType, th thresholds) []domain.LearnedPattern {
	var out []domain.LearnedPattern
	for _, c := range cands {
		if c.SampleSize < th.MinSample {
			continue
		}
		lift := liftOver(c.ReplyRate, baselineReplyRate)
		if lift < th.MinLift {
			continue
		}
		conf := confidenceFor(c.SampleSize)
		status := domain.PatternCandidate
		if conf >= th.MinConfidence {
			status = domain.PatternValidated
		}
		out = append(out, domain.LearnedPattern{
			TenantID:     tenantID,
			Name:         patternName(c.ElementTypeIDs, types),
			ElementTypes: c.ElementTypeIDs,
			Scope:        "",
			Status:       status,
			SampleSize:   c.SampleSize,
			ReplyRate:    c.ReplyRate,
			Lift:         lift,
			Confidence:   conf,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lift > out[j].Lift })
	return out
}

// patternDocument is the templated fallback for the learned RAG document
// when the LLM is unavailable.
func patternDocument(p *domain.LearnedPattern) string {
	return fmt.Sprintf(
		"Emails combining %s replied %.1f%% of the time over the last window (%.1fx the account baseline, %d sends). Prefer this combination when it fits the lead.",
		p.Name, p.ReplyRate*100, p.Lift, p.SampleSize)
}

// patternIDSet is a set-diff helper for prompt evolution.
func patternIDSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// patternsChanged reports whether the injected set differs from the desired
// set in either direction.
func patternsChanged(injected, desired []string) bool {
	a, b := patternIDSet(injected), patternIDSet(desired)
	if len(a) != len(b) {
		return true
	}
	for id := range a {
		if !b[id] {
			return true
		}
	}
	return false
}

const (
	guidanceHeader = "LEARNED PATTERN GUIDANCE"
	guidanceFooter = "END LEARNED PATTERN GUIDANCE"
)

// injectGuidance is the templated fallback for prompt evolution: it
// replaces (or appends) the delimited guidance block with one line per
// pattern. The LLM path produces richer integrations; this one is always
// available and deterministic.
func injectGuidance(body string, patterns []domain.LearnedPattern) string {
	base := stripGuidance(body)
	if len(patterns) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "\n"))
	b.WriteString("\n\n")
	b.WriteString(guidanceHeader)
	b.WriteString("\n")
	for _, p := range patterns {
		fmt.Fprintf(&b, "- %s (%.1fx baseline reply rate over %d sends)\n", p.Name, p.Lift, p.SampleSize)
	}
	b.WriteString(guidanceFooter)
	return b.String()
}

func stripGuidance(body string) string {
	start := strings.Index(body, guidanceHeader)
	if start < 0 {
		return body
	}
	end := strings.Index(body, guidanceFooter)
	if end < 0 {
		return body[:start]
	}
	return strings.TrimRight(body[:start], "\n") + body[end+len(guidanceFooter):]
}

// abVerdict is the outcome of evaluating one running test.
type abVerdict struct {
	Decided bool
	// Winner is the winning version id; empty on an inconclusive result.
	Winner string
}

// evaluateABTest applies the conclusion rules: a test decides once both
// arms reach the minimum sample or the runtime cap elapses. The winner must
// beat the other arm's positive-reply rate by the configured relative
// margin; anything closer is inconclusive and the control stands.
func evaluateABTest(t *domain.PromptABTest, controlSent, controlPos, variantSent, variantPos int, winnerLiftPercent float64, now time.Time) abVerdict {
	sampleReached := controlSent >= t.MinSamplePerVariant && variantSent >= t.MinSamplePerVariant
	expired := now.Sub(t.StartedAt) >= time.Duration(t.MaxRuntimeDays)*24*time.Hour
	if !sampleReached && !expired {
		return abVerdict{}
	}

	controlRate := rate(controlPos, controlSent)
	variantRate := rate(variantPos, variantSent)
	margin := 1 + winnerLiftPercent/100

	switch {
	case variantRate >= controlRate*margin && variantSent > 0:
		return abVerdict{Decided: true, Winner: t.VariantVersionID}
	case controlRate >= variantRate*margin && controlSent > 0:
		return abVerdict{Decided: true, Winner: t.ControlVersionID}
	}
	return abVerdict{Decided: true}
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
