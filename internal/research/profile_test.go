package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
)

func testICP() *domain.ICP {
	return &domain.ICP{
		Personas: []domain.Persona{
			{Name: "Revenue Leader", Titles: []string{"VP Sales", "CRO"}, PainPoints: []string{"pipeline visibility", "rep ramp time"}},
			{Name: "Ops", Titles: []string{"RevOps Manager"}},
		},
		Triggers: []domain.ICPTrigger{
			{Name: "hiring SDRs", Source: "company_linkedin", WhatToLookFor: []string{"sdr", "sales development"}, Impact: "high"},
			{Name: "new funding", Source: "web_search", WhatToLookFor: []string{"series b", "raised"}, Impact: "medium"},
			{Name: "exec change", Source: "personal_linkedin", WhatToLookFor: []string{"new role"}, Impact: "low"},
		},
	}
}

func TestMatchTriggersRanksByConfidenceThenCount(t *testing.T) {
	sources := map[string]string{
		"company_linkedin": "We are hiring an SDR! Another SDR opening. Sales development is growing.",
		"web_search":       "The company raised a round.",
	}
	matches := MatchTriggers(testICP(), sources)
	require.Len(t, matches, 2)

	assert.Equal(t, "hiring SDRs", matches[0].Trigger)
	assert.Equal(t, 3, matches[0].Matches)
	assert.InDelta(t, 0.8, matches[0].Confidence, 1e-9)
	assert.Equal(t, 1.0, matches[0].Relevance, "every keyword hit")

	assert.Equal(t, "new funding", matches[1].Trigger)
	assert.Equal(t, 0.5, matches[1].Relevance, "one of two keywords hit")
	assert.Greater(t, matches[0].Total, matches[1].Total)
}

func TestMatchTriggersSkipsEmptySource(t *testing.T) {
	matches := MatchTriggers(testICP(), map[string]string{
		"personal_linkedin": "",
		"web_search":        "nothing relevant here",
	})
	assert.Empty(t, matches)
}

func TestMatchTriggersNilICP(t *testing.T) {
	assert.Nil(t, MatchTriggers(nil, map[string]string{"web_search": "raised"}))
}

func TestMatchPersona(t *testing.T) {
	icp := testICP()

	exact := MatchPersona(icp, "VP Sales, EMEA")
	assert.Equal(t, "Revenue Leader", exact.Persona)
	assert.Equal(t, "exact", exact.Level)
	assert.Equal(t, 0.9, exact.Confidence)

	adjacent := MatchPersona(icp, "Director of Sales")
	assert.Equal(t, "Revenue Leader", adjacent.Persona)
	assert.Equal(t, "adjacent", adjacent.Level)

	none := MatchPersona(icp, "Staff Accountant")
	assert.Equal(t, "none", none.Level)
	assert.Empty(t, none.Persona)
}

func TestMatchPersonaAdjacentWordOverlap(t *testing.T) {
	icp := &domain.ICP{
		Personas: []domain.Persona{
			{Name: "Engineering Leader", Titles: []string{"VP of Engineering"}},
		},
	}

	// "engineering" overlaps; "of" and short words never count.
	adjacent := MatchPersona(icp, "Engineering Director")
	assert.Equal(t, "Engineering Leader", adjacent.Persona)
	assert.Equal(t, "adjacent", adjacent.Level)
	assert.Equal(t, 0.6, adjacent.Confidence)

	// Stop words shared between titles must not create adjacency.
	icp.Personas[0].Titles = []string{"Head of Product"}
	none := MatchPersona(icp, "Head of Sales")
	assert.Equal(t, "none", none.Level)
}

func TestRelationshipType(t *testing.T) {
	assert.Equal(t, "cold", RelationshipType(&domain.Lead{}))
	assert.Equal(t, "warm", RelationshipType(&domain.Lead{InEmailProvider: true}))
	assert.Equal(t, "warm", RelationshipType(&domain.Lead{InLinkedInProvider: true}))
	assert.Equal(t, "past_customer", RelationshipType(&domain.Lead{InCRM: true, InEmailProvider: true}))
}

func TestMessagingAngles(t *testing.T) {
	icp := testICP()
	triggers := MatchTriggers(icp, map[string]string{
		"company_linkedin": "hiring an sdr",
		"web_search":       "raised a series b",
	})
	persona := domain.PersonaMatch{Persona: "Revenue Leader", Level: "exact"}

	angles := MessagingAngles(icp, persona, triggers)
	require.NotEmpty(t, angles)
	assert.Contains(t, angles[0], "signal")
	assert.Contains(t, angles, "speak to the pipeline visibility pain point")

	fallback := MessagingAngles(nil, domain.PersonaMatch{}, nil)
	assert.Equal(t, []string{"lead with the core value proposition"}, fallback)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("short", 100))
	long := Snippet("one two three four five six", 14)
	assert.Equal(t, "one two three...", long)
}
