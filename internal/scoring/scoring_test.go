package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brightline/outreach-engine/internal/domain"
)

func intp(n int) *int { return &n }

func strongLead() *domain.NormalizedLead {
	return &domain.NormalizedLead{
		Email:           "vp@acme.com",
		JobTitle:        "VP of Marketing",
		LinkedIn:        "https://linkedin.com/in/vp",
		CompanyName:     "Acme",
		CompanyIndustry: "SaaS",
		CompanySize:     intp(250),
		CompanyRevenue:  "$60M",
	}
}

func TestIntentScoreComponentsBounded(t *testing.T) {
	r := IntentScore(strongLead(), nil)

	assert.LessOrEqual(t, r.Breakdown.Industry, 25)
	assert.LessOrEqual(t, r.Breakdown.Revenue, 20)
	assert.LessOrEqual(t, r.Breakdown.Title, 20)
	assert.LessOrEqual(t, r.Breakdown.CompanySize, 15)
	assert.LessOrEqual(t, r.Breakdown.DataQuality, 20)
	assert.Equal(t, r.TotalScore,
		r.Breakdown.Industry+r.Breakdown.Revenue+r.Breakdown.Title+r.Breakdown.CompanySize+r.Breakdown.DataQuality)
}

func TestIntentScoreTiers(t *testing.T) {
	strong := IntentScore(strongLead(), nil)
	assert.GreaterOrEqual(t, strong.TotalScore, 70)
	assert.Equal(t, TierStrong, strong.Tier)

	weak := IntentScore(&domain.NormalizedLead{Email: "x@y.z", CompanyName: "Y"}, nil)
	assert.Less(t, weak.TotalScore, 40)
	assert.Equal(t, TierWeak, weak.Tier)
}

func TestIntentScoreDisqualifierTitle(t *testing.T) {
	lead := strongLead()
	lead.JobTitle = "Marketing Intern"
	r := IntentScore(lead, nil)
	assert.Zero(t, r.TotalScore)
	assert.True(t, r.Disqualified)
	assert.Equal(t, TierWeak, r.Tier)
}

func TestIntentScoreDeterministic(t *testing.T) {
	a := IntentScore(strongLead(), nil)
	b := IntentScore(strongLead(), nil)
	assert.Equal(t, a, b)
}

func TestIntentScorePreferenceWeights(t *testing.T) {
	base := IntentScore(strongLead(), nil)

	boosted := IntentScore(strongLead(), &domain.TargetingPreferences{
		IndustryWeights: map[string]float64{"saas": 1.5},
	})
	assert.Greater(t, boosted.Breakdown.Industry, base.Breakdown.Industry-1)
	assert.LessOrEqual(t, boosted.Breakdown.Industry, 25)

	damped := IntentScore(strongLead(), &domain.TargetingPreferences{
		TitleWeights: map[string]float64{"marketing": 0.5},
	})
	assert.Less(t, damped.Breakdown.Title, base.Breakdown.Title)

	neutral := IntentScore(strongLead(), &domain.TargetingPreferences{
		IndustryWeights: map[string]float64{"saas": 1.0},
	})
	assert.Equal(t, base.Breakdown.Industry, neutral.Breakdown.Industry)
}

func visitsAt(now time.Time, pages ...string) []domain.PixelVisit {
	out := make([]domain.PixelVisit, len(pages))
	for i, p := range pages {
		out[i] = domain.PixelVisit{Page: p, VisitedAt: now.Add(time.Duration(i-len(pages)) * time.Hour)}
	}
	return out
}

func TestPageIntentScoreEmpty(t *testing.T) {
	assert.Zero(t, PageIntentScore(nil, time.Now()).TotalScore)
}

func TestPageIntentScoreBuyingSequence(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	withSeq := PageIntentScore(visitsAt(now, "/product", "/pricing"), now)
	assert.Equal(t, 20, withSeq.Breakdown.SequenceBonus)

	// Same pages in reverse order is not a buying sequence.
	reversed := PageIntentScore(visitsAt(now, "/pricing", "/product"), now)
	assert.Zero(t, reversed.Breakdown.SequenceBonus)
}

func TestPageIntentScoreRecencySteps(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	mk := func(age time.Duration) []domain.PixelVisit {
		return []domain.PixelVisit{{Page: "/blog", VisitedAt: now.Add(-age)}}
	}

	assert.Equal(t, 20, PageIntentScore(mk(12*time.Hour), now).Breakdown.Recency)
	assert.Equal(t, 15, PageIntentScore(mk(3*24*time.Hour), now).Breakdown.Recency)
	assert.Equal(t, 10, PageIntentScore(mk(6*24*time.Hour), now).Breakdown.Recency)
	assert.Equal(t, 5, PageIntentScore(mk(10*24*time.Hour), now).Breakdown.Recency)
	assert.Equal(t, 0, PageIntentScore(mk(30*24*time.Hour), now).Breakdown.Recency)
}

func TestPageIntentScoreCapped(t *testing.T) {
	now := time.Now()
	visits := visitsAt(now, "/pricing", "/demo", "/contact", "/product", "/features", "/case-studies", "/docs")
	r := PageIntentScore(visits, now)
	assert.LessOrEqual(t, r.TotalScore, 100)
	assert.Equal(t, 40, r.Breakdown.PageRelevance)
	assert.Equal(t, 20, r.Breakdown.VisitFrequency)
}
