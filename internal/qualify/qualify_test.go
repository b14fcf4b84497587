package qualify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
)

func TestNormalizeCompany(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Inc", "acme"},
		{"Acme, Inc.", "acme"},
		{"ACME CORPORATION", "acme"},
		{"Acme Software Solutions LLC", "acmesoftware"},
		{"Acme Software Inc", "acmesoftware"},
		{"Inc", "inc"}, // a lone suffix is the whole name
		{"", ""},
		{"O'Brien & Sons Ltd", "obriensons"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCompany(tt.in), tt.in)
	}
}

func TestNormalizeCompanyCollidesOnPrefix(t *testing.T) {
	a := NormalizeCompany("Brightline Analytics Incorporated")
	b := NormalizeCompany("Brightline Analytics Group")
	assert.Equal(t, a, b)
	assert.Len(t, a, companyPrefixLen)
}

func TestMergeLeadFillsBlanksOnly(t *testing.T) {
	lead := &domain.Lead{
		Source:      domain.LeadSourceApollo,
		FirstName:   "Jane",
		CompanyName: "Acme",
		VisitCount:  0,
	}
	n := &domain.NormalizedLead{
		FirstName:   "JANE-OVERWRITE",
		LastName:    "Doe",
		JobTitle:    "VP Sales",
		CompanyName: "Acme Replacement",
	}
	mergeLead(lead, n, &ingest.LeadIngestedPayload{Source: domain.LeadSourceManual})

	assert.Equal(t, "Jane", lead.FirstName, "existing values survive")
	assert.Equal(t, "Doe", lead.LastName, "blank fields fill")
	assert.Equal(t, "VP Sales", lead.JobTitle)
	assert.Equal(t, "Acme", lead.CompanyName)
}

func TestMergeLeadSourceUpgradeOnly(t *testing.T) {
	lead := &domain.Lead{Source: domain.LeadSourceIntent}

	mergeLead(lead, &domain.NormalizedLead{}, &ingest.LeadIngestedPayload{Source: domain.LeadSourceManual})
	assert.Equal(t, domain.LeadSourceIntent, lead.Source, "no downgrade")

	mergeLead(lead, &domain.NormalizedLead{}, &ingest.LeadIngestedPayload{Source: domain.LeadSourcePixel})
	assert.Equal(t, domain.LeadSourcePixel, lead.Source, "upgrade to pixel")
}

func TestMergeLeadVisitCountPixelOnly(t *testing.T) {
	lead := &domain.Lead{Source: domain.LeadSourcePixel, VisitCount: 2}

	mergeLead(lead, &domain.NormalizedLead{}, &ingest.LeadIngestedPayload{Source: domain.LeadSourceApollo})
	assert.Equal(t, 2, lead.VisitCount, "non-pixel event leaves the counter")

	mergeLead(lead, &domain.NormalizedLead{}, &ingest.LeadIngestedPayload{Source: domain.LeadSourcePixel})
	assert.Equal(t, 3, lead.VisitCount)
}

func TestMergeLeadKeepsLatestIntentScore(t *testing.T) {
	old, newer := 55, 80
	lead := &domain.Lead{Source: domain.LeadSourceIntent, IntentScore: &old}
	mergeLead(lead, &domain.NormalizedLead{}, &ingest.LeadIngestedPayload{
		Source: domain.LeadSourceIntent, IntentScore: &newer,
	})
	assert.Equal(t, 80, *lead.IntentScore)
}
