package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/runner"
)

func record(email, first, last string, extra map[string]any) map[string]any {
	r := map[string]any{"email": email, "first_name": first, "last_name": last}
	for k, v := range extra {
		r[k] = v
	}
	return r
}

func TestFilterCompleteDropsPartialRecords(t *testing.T) {
	records := []map[string]any{
		record("a@x.co", "A", "One", nil),
		record("", "B", "Two", nil),
		record("c@x.co", "", "Three", nil),
		record("d@x.co", "D", "", nil),
		record("e@x.co", "E", "Five", nil),
	}
	kept := filterComplete(records)
	require.Len(t, kept, 2)
	assert.Equal(t, "a@x.co", kept[0]["email"])
	assert.Equal(t, "e@x.co", kept[1]["email"])
}

func TestIntentEmissionsThresholdAndRanking(t *testing.T) {
	ing := &Ingestor{}
	tenant := &domain.Tenant{ID: "t1"}
	campaign := &domain.Campaign{
		ID: "c1", TenantID: "t1",
		DataSourceType: domain.SourceIntent,
		MinIntentScore: 60, AutoResearchLimit: 1,
	}

	strong := record("vp@acme.com", "Vera", "Park", map[string]any{
		"title": "VP of Sales", "industry": "SaaS", "employees": "250",
		"revenue": "$60M", "linkedin_url": "https://linkedin.com/in/vp",
	})
	medium := record("dir@beta.io", "Dan", "Ives", map[string]any{
		"title": "Director of Ops", "industry": "Consulting", "employees": "80",
		"revenue": "$5M", "linkedin_url": "https://linkedin.com/in/dan",
	})
	weak := record("joe@tiny.co", "Joe", "Low", nil)

	out := ing.intentEmissions(tenant, campaign, []map[string]any{weak, medium, strong})

	// The weak record scores under 60 and is dropped.
	require.Len(t, out, 2)
	for _, em := range out {
		assert.Equal(t, runner.EvLeadIntentIngested, em.Name)
	}

	first := out[0].Payload.(LeadIngestedPayload)
	second := out[1].Payload.(LeadIngestedPayload)
	require.NotNil(t, first.IntentScore)
	require.NotNil(t, second.IntentScore)
	assert.GreaterOrEqual(t, *first.IntentScore, *second.IntentScore)

	// Only rank 0 is inside the auto-research limit of 1.
	assert.True(t, first.AutoResearch)
	assert.False(t, second.AutoResearch)
}

func TestPixelEmissionsCarrySourceAndCampaign(t *testing.T) {
	ing := &Ingestor{}
	campaign := &domain.Campaign{ID: "c9", TenantID: "t2", DataSourceType: domain.SourcePixel}
	out := ing.pixelEmissions(campaign, []map[string]any{
		record("p@x.co", "P", "Q", map[string]any{"page": "/pricing"}),
	})
	require.Len(t, out, 1)
	p := out[0].Payload.(LeadIngestedPayload)
	assert.Equal(t, runner.EvLeadIngested, out[0].Name)
	assert.Equal(t, domain.LeadSourcePixel, p.Source)
	assert.Equal(t, "c9", p.CampaignID)
	assert.Equal(t, "t2", p.TenantID)
}

func TestSynthesizeSearchFromICP(t *testing.T) {
	icp := &domain.ICP{
		Personas: []domain.Persona{
			{Name: "Revenue leader", Titles: []string{"VP Sales", "CRO"}},
		},
		AccountCriteria: []domain.AccountCriterion{
			{Field: "industry", Values: []string{"Software"}, Priority: "high"},
			{Field: "employee_count", Values: []string{"51-200"}, Priority: "high"},
			{Field: "industry", Values: []string{"Retail"}, Priority: "low"},
			{Field: "geography", Values: []string{"United States"}, Priority: "high"},
		},
	}

	params := synthesizeSearch(icp, 50)
	assert.Equal(t, []string{"VP Sales", "CRO"}, params.Titles)
	assert.Equal(t, []string{"Software"}, params.Industries)
	assert.Equal(t, []string{"51-200"}, params.EmployeeRanges)
	assert.Equal(t, []string{"United States"}, params.Locations)
	assert.Equal(t, 50, params.Limit)
}
