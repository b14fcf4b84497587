package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
)

func TestNormalizeBasicRecord(t *testing.T) {
	raw := map[string]any{
		"Email":      "Jane.Doe@Acme.COM",
		"first_name": "jane",
		"last_name":  "DOE",
		"title":      "VP of Sales",
		"company":    "Acme Corp",
		"website":    "https://www.acme.com/about",
		"employees":  "50-100",
		"revenue":    "$10M-$50M",
		"phone":      "+1 (555) 123-4567",
	}

	lead, warnings := Normalize(raw, domain.LeadSourceApollo)
	require.Empty(t, warnings)

	assert.Equal(t, "jane.doe@acme.com", lead.Email)
	assert.Equal(t, "Jane", lead.FirstName)
	assert.Equal(t, "Doe", lead.LastName)
	assert.Equal(t, "VP of Sales", lead.JobTitle)
	assert.Equal(t, "acme.com", lead.CompanyDomain)
	assert.Equal(t, "+15551234567", lead.Phone)
	require.NotNil(t, lead.CompanySize)
	assert.Equal(t, 75, *lead.CompanySize)
	assert.Equal(t, "$30M", lead.CompanyRevenue)
	assert.Equal(t, domain.LeadSourceApollo, lead.Source)
}

func TestNormalizeWarnsButDoesNotFail(t *testing.T) {
	lead, warnings := Normalize(map[string]any{"first_name": "Sam"}, domain.LeadSourceManual)
	require.NotNil(t, lead)
	assert.Contains(t, warnings, "missing required field email")
	assert.Contains(t, warnings, "missing required field company_name")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := map[string]any{
		"email":        "a@b.co",
		"company_name": "B Co",
		"employees":    "1,200+",
		"revenue":      "250",
	}
	first, _ := Normalize(raw, domain.LeadSourceIntent)
	second, _ := Normalize(raw, domain.LeadSourceIntent)
	assert.Equal(t, first, second)
}

func TestNormalizePixelExtras(t *testing.T) {
	raw := map[string]any{
		"email":           "v@x.io",
		"company_name":    "X",
		"page_url":        "/pricing",
		"time_on_page_ms": "42000",
	}
	lead, _ := Normalize(raw, domain.LeadSourcePixel)
	assert.Equal(t, "/pricing", lead.Page)
	assert.Equal(t, 42000, lead.TimeOnPageMS)

	// Non-pixel sources ignore page fields.
	lead2, _ := Normalize(raw, domain.LeadSourceApollo)
	assert.Empty(t, lead2.Page)
}

func TestParseEmployeeCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"5000", 5000, true},
		{"50-100", 75, true},
		{"10 to 20", 15, true},
		{"1,200+", 1200, true},
		{"2.5k", 2500, true},
		{"", 0, false},
		{"lots", 0, false},
		{"100-50", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseEmployeeCount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestNormalizeRevenue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$10M-$50M", "$30M"},
		{"250", "$250M"}, // bare small number reads as millions
		{"2500000000", "$2.5B"},
		{"750K", "$750K"},
		{"$1.2B", "$1.2B"},
		{"", ""},
		{"unknown", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRevenue(tt.in), tt.in)
	}
}
