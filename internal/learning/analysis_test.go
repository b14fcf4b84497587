package learning

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/store"
)

func TestConfidenceSaturates(t *testing.T) {
	assert.Equal(t, 0.0, confidenceFor(0))
	assert.InDelta(t, 0.1, confidenceFor(50), 1e-9)
	assert.Equal(t, 1.0, confidenceFor(500))
	assert.Equal(t, 1.0, confidenceFor(2000))
}

func TestLiftOverZeroBaseline(t *testing.T) {
	assert.Equal(t, 0.0, liftOver(0.5, 0))
	assert.InDelta(t, 2.0, liftOver(0.10, 0.05), 1e-9)
}

func TestElementPerformanceRates(t *testing.T) {
	start := time.Date(2026, 7, 26, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)

	p := elementPerformance("t1", store.ElementStats{
		ElementTypeID:   "et1",
		TimesUsed:       200,
		Opens:           80,
		Replies:         20,
		PositiveReplies: 10,
		Bounces:         4,
		Unsubscribes:    2,
	}, start, end)

	assert.InDelta(t, 0.4, p.OpenRate, 1e-9)
	assert.InDelta(t, 0.1, p.ReplyRate, 1e-9)
	assert.InDelta(t, 0.05, p.PositiveReplyRate, 1e-9)
	assert.InDelta(t, 0.02, p.BounceRate, 1e-9)
	assert.InDelta(t, 0.4, p.Confidence, 1e-9)
	assert.Equal(t, start, p.PeriodStart)
}

func testTypes() map[string]domain.ElementType {
	return map[string]domain.ElementType{
		"et1": {ID: "et1", Category: "subject_line", Name: "question"},
		"et2": {ID: "et2", Category: "pain_point", Name: "time"},
	}
}

func TestPatternNameSortedAndStable(t *testing.T) {
	name := patternName([]string{"et2", "et1"}, testTypes())
	assert.Equal(t, "pain_point:time + subject_line:question", name)
	assert.Equal(t, name, patternName([]string{"et1", "et2"}, testTypes()))
}

func TestDiscoverPatternsGates(t *testing.T) {
	th := thresholds{MinSample: 50, MinConfidence: 0.7, MinLift: 1.5}
	baseline := 0.05

	cands := []candidate{
		{ElementTypeIDs: []string{"et1"}, SampleSize: 30, ReplyRate: 0.20},          // sample too small
		{ElementTypeIDs: []string{"et1"}, SampleSize: 400, ReplyRate: 0.06},         // lift 1.2, too low
		{ElementTypeIDs: []string{"et2"}, SampleSize: 60, ReplyRate: 0.10},          // lift 2.0 but confidence 0.12
		{ElementTypeIDs: []string{"et1", "et2"}, SampleSize: 400, ReplyRate: 0.125}, // lift 2.5, confidence 0.8
	}

	found := discoverPatterns("t1", cands, baseline, testTypes(), th)
	require.Len(t, found, 2)

	// Sorted by lift descending.
	assert.Equal(t, "pain_point:time + subject_line:question", found[0].Name)
	assert.Equal(t, domain.PatternValidated, found[0].Status)
	assert.InDelta(t, 2.5, found[0].Lift, 1e-9)

	assert.Equal(t, "pain_point:time", found[1].Name)
	assert.Equal(t, domain.PatternCandidate, found[1].Status)
}

func TestDiscoverPatternsZeroBaselineFindsNothing(t *testing.T) {
	cands := []candidate{{ElementTypeIDs: []string{"et1"}, SampleSize: 500, ReplyRate: 0.2}}
	found := discoverPatterns("t1", cands, 0, testTypes(), thresholds{MinSample: 50, MinConfidence: 0.7, MinLift: 1.5})
	assert.Empty(t, found)
}

func TestPatternsChanged(t *testing.T) {
	assert.False(t, patternsChanged(nil, nil))
	assert.False(t, patternsChanged([]string{"a", "b"}, []string{"b", "a"}))
	assert.True(t, patternsChanged([]string{"a"}, []string{"a", "b"}))
	assert.True(t, patternsChanged([]string{"a", "b"}, []string{"a", "c"}))
	assert.True(t, patternsChanged([]string{"a"}, nil))
}

func TestInjectGuidanceReplacesBlock(t *testing.T) {
	base := "Write good emails.\n\nReply with JSON."
	patterns := []domain.LearnedPattern{
		{Name: "subject_line:question", Lift: 2.1, SampleSize: 120},
	}

	v1 := injectGuidance(base, patterns)
	assert.Contains(t, v1, guidanceHeader)
	assert.Contains(t, v1, "subject_line:question (2.1x baseline reply rate over 120 sends)")

	// Re-injecting over an already-injected body replaces, not stacks.
	patterns[0].Name = "pain_point:time"
	v2 := injectGuidance(v1, patterns)
	assert.Equal(t, 1, strings.Count(v2, guidanceHeader))
	assert.Contains(t, v2, "pain_point:time")
	assert.NotContains(t, v2, "subject_line:question")

	// Empty pattern set strips the block entirely.
	v3 := injectGuidance(v2, nil)
	assert.NotContains(t, v3, guidanceHeader)
	assert.Contains(t, v3, "Write good emails.")
}

func abTest(minSample, maxDays int, started time.Time) *domain.PromptABTest {
	return &domain.PromptABTest{
		ID:                  "test1",
		ControlVersionID:    "control",
		VariantVersionID:    "variant",
		MinSamplePerVariant: minSample,
		MaxRuntimeDays:      maxDays,
		StartedAt:           started,
	}
}

func TestEvaluateABTestNotRipe(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	test := abTest(100, 30, now.AddDate(0, 0, -5))

	v := evaluateABTest(test, 50, 5, 60, 9, 10, now)
	assert.False(t, v.Decided)
}

func TestEvaluateABTestVariantWins(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	test := abTest(100, 30, now.AddDate(0, 0, -5))

	// 12% vs 6% positive replies: well past the 10% relative margin.
	v := evaluateABTest(test, 100, 6, 100, 12, 10, now)
	require.True(t, v.Decided)
	assert.Equal(t, "variant", v.Winner)
}

func TestEvaluateABTestInconclusiveWithinMargin(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	test := abTest(100, 30, now.AddDate(0, 0, -5))

	// 10.0% vs 10.5%: inside the margin either way.
	v := evaluateABTest(test, 200, 20, 200, 21, 10, now)
	require.True(t, v.Decided)
	assert.Empty(t, v.Winner)
}

func TestEvaluateABTestExpiresByRuntime(t *testing.T) {
	now := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	test := abTest(1000, 30, now.AddDate(0, 0, -31))

	// Samples never reached the floor, but the clock ran out; control wins
	// on a clear margin.
	v := evaluateABTest(test, 80, 16, 80, 8, 10, now)
	require.True(t, v.Decided)
	assert.Equal(t, "control", v.Winner)
}
