// Package ingest pulls lead records from campaign data sources and feeds
// them onto the bus, one event per qualified record. Triggered by the daily
// per-source cron or an explicit manual-ingest event.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/normalize"
	"github.com/brightline/outreach-engine/internal/pkg/httpretry"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/scoring"
	"github.com/brightline/outreach-engine/internal/store"
)

// Default thresholds when the campaign leaves them unset.
const (
	defaultMinIntentScore    = 60
	defaultAutoResearchLimit = 20
	intentKeepLimit          = 100
)

// Emitter is the slice of the runner ingestion needs.
type Emitter interface {
	Emit(ctx context.Context, emissions ...runner.Emission) ([]string, error)
}

// DispatchPayload is the cron event payload: one per source type.
type DispatchPayload struct {
	SourceType domain.DataSourceType `json:"source_type"`
}

// CampaignPayload targets one campaign, from the dispatcher or a manual
// trigger.
type CampaignPayload struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`
}

// LeadIngestedPayload is what qualification consumes, one per record.
type LeadIngestedPayload struct {
	TenantID     string            `json:"tenant_id"`
	CampaignID   string            `json:"campaign_id"`
	Source       domain.LeadSource `json:"source"`
	Record       map[string]any    `json:"record"`
	IntentScore  *int              `json:"intent_score,omitempty"`
	IntentTier   string            `json:"intent_tier,omitempty"`
	AutoResearch bool              `json:"auto_research,omitempty"`
}

// Ingestor runs campaign data pulls.
type Ingestor struct {
	store   *store.Store
	emitter Emitter
	search  providers.ProspectSearch
	client  httpretry.HTTPDoer
	now     func() time.Time
}

// New creates an ingestor.
func New(st *store.Store, em Emitter, search providers.ProspectSearch) *Ingestor {
	return &Ingestor{
		store:   st,
		emitter: em,
		search:  search,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 60 * time.Second}, 3),
		now:     time.Now,
	}
}

// HandleDispatch handles the per-source-type cron: it fans out one
// campaign event per active campaign of that source type. The campaign
// handler's concurrency cap keeps at most 3 ingesting at once.
func (i *Ingestor) HandleDispatch(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p DispatchPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("ingest dispatch: bad payload: %v", err)
	}

	campaigns, err := i.store.Campaigns.ListActiveBySourceType(ctx, p.SourceType)
	if err != nil {
		return fmt.Errorf("ingest dispatch: %w", err)
	}
	if len(campaigns) == 0 {
		return nil
	}

	emissions := make([]runner.Emission, 0, len(campaigns))
	for _, c := range campaigns {
		emissions = append(emissions, runner.Emission{
			Name:    runner.EvCampaignManualIngest,
			Payload: CampaignPayload{TenantID: c.TenantID, CampaignID: c.ID},
		})
	}
	if _, err := step.Run(ctx, "fan-out", func(ctx context.Context) (any, error) {
		return i.emitter.Emit(ctx, emissions...)
	}); err != nil {
		return err
	}
	log.Printf("[Ingest] Dispatched %d %s campaigns", len(campaigns), p.SourceType)
	return nil
}

// HandleCampaign ingests one campaign end to end.
func (i *Ingestor) HandleCampaign(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p CampaignPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("ingest: bad payload: %v", err)
	}

	campaign, err := i.store.Campaigns.Get(ctx, p.TenantID, p.CampaignID)
	if err != nil {
		if err == store.ErrNotFound {
			return runner.Fatalf("ingest: campaign %s not found", p.CampaignID)
		}
		return fmt.Errorf("ingest: load campaign: %w", err)
	}
	if campaign.Status != domain.CampaignActive {
		return runner.Fatalf("ingest: campaign %s is %s, not active", campaign.ID, campaign.Status)
	}

	tenant, err := i.store.Tenants.Get(ctx, p.TenantID)
	if err != nil {
		return fmt.Errorf("ingest: load tenant: %w", err)
	}
	var icp *domain.ICP
	if brand, err := i.store.Tenants.GetBrand(ctx, p.TenantID, campaign.BrandID); err == nil {
		icp = brand.EffectiveICP(tenant)
	} else {
		icp = tenant.ICP
	}
	if icp == nil {
		log.Printf("[Ingest] campaign %s: no ICP configured, proceeding without one", campaign.ID)
	}

	emissions, err := runner.Step(ctx, step, "pull-and-filter", func(ctx context.Context) ([]runner.Emission, error) {
		return i.pull(ctx, tenant, campaign, icp)
	})
	if err != nil {
		return err
	}

	if len(emissions) > 0 {
		if _, err := step.Run(ctx, "emit-leads", func(ctx context.Context) (any, error) {
			return i.emitter.Emit(ctx, emissions...)
		}); err != nil {
			return err
		}
		if err := i.store.Campaigns.Increment(ctx, campaign.TenantID, campaign.ID, "leads_ingested", len(emissions)); err != nil {
			log.Printf("[Ingest] campaign %s: counter update failed: %v", campaign.ID, err)
		}
	}

	if err := i.store.Campaigns.SetLastIngested(ctx, campaign.TenantID, campaign.ID, i.now(), ""); err != nil {
		return fmt.Errorf("ingest: watermark: %w", err)
	}
	log.Printf("[Ingest] campaign %s (%s): %d leads ingested", campaign.ID, campaign.DataSourceType, len(emissions))
	return nil
}

// pull dispatches on the campaign's source kind and returns one emission
// per record worth keeping.
func (i *Ingestor) pull(ctx context.Context, tenant *domain.Tenant, campaign *domain.Campaign, icp *domain.ICP) ([]runner.Emission, error) {
	switch campaign.DataSourceType {
	case domain.SourcePixel:
		records, err := i.fetchPull(ctx, campaign)
		if err != nil {
			return nil, err
		}
		return i.pixelEmissions(campaign, records), nil

	case domain.SourceIntent:
		records, err := i.fetchPull(ctx, campaign)
		if err != nil {
			return nil, err
		}
		return i.intentEmissions(tenant, campaign, records), nil

	case domain.SourceApollo:
		records, err := i.fetchApollo(ctx, campaign, icp)
		if err != nil {
			return nil, err
		}
		return i.apolloEmissions(campaign, records), nil

	case domain.SourceManual:
		// CSV and manual sources push leads through the edge, not the cron.
		return nil, nil

	default:
		return nil, runner.Fatalf("ingest: unknown source type %q", campaign.DataSourceType)
	}
}

// fetchPull GETs the configured URL and decodes either a bare array or a
// {"records": [...]} envelope.
func (i *Ingestor) fetchPull(ctx context.Context, campaign *domain.Campaign) ([]map[string]any, error) {
	var cfg domain.PixelSourceConfig
	if err := json.Unmarshal(campaign.DataSourceConfig, &cfg); err != nil {
		return nil, runner.Fatalf("ingest: campaign %s: bad source config: %v", campaign.ID, err)
	}
	if cfg.URL == "" {
		return nil, runner.Fatalf("ingest: campaign %s: source config has no url", campaign.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: build request: %w", err)
	}
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: fetch %s: status %d", cfg.URL, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ingest: read body: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		var envelope struct {
			Records []map[string]any `json:"records"`
		}
		if err2 := json.Unmarshal(raw, &envelope); err2 != nil {
			return nil, fmt.Errorf("ingest: parse records: %w", err)
		}
		records = envelope.Records
	}
	return filterComplete(records), nil
}

// filterComplete drops records missing email, first_name, or last_name.
func filterComplete(records []map[string]any) []map[string]any {
	out := records[:0]
	for _, r := range records {
		if str(r, "email") != "" && str(r, "first_name") != "" && str(r, "last_name") != "" {
			out = append(out, r)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (i *Ingestor) pixelEmissions(campaign *domain.Campaign, records []map[string]any) []runner.Emission {
	out := make([]runner.Emission, 0, len(records))
	for _, r := range records {
		out = append(out, runner.Emission{
			Name: runner.EvLeadIngested,
			Payload: LeadIngestedPayload{
				TenantID:   campaign.TenantID,
				CampaignID: campaign.ID,
				Source:     domain.LeadSourcePixel,
				Record:     r,
			},
		})
	}
	return out
}

type scoredRecord struct {
	record map[string]any
	result scoring.IntentResult
}

// intentEmissions scores every record, keeps those at or above the
// campaign threshold, sorts by score, and marks the top ranks for
// auto-research.
func (i *Ingestor) intentEmissions(tenant *domain.Tenant, campaign *domain.Campaign, records []map[string]any) []runner.Emission {
	minScore := campaign.MinIntentScore
	if minScore <= 0 {
		minScore = defaultMinIntentScore
	}
	autoLimit := campaign.AutoResearchLimit
	if autoLimit <= 0 {
		autoLimit = defaultAutoResearchLimit
	}

	scored := make([]scoredRecord, 0, len(records))
	for _, r := range records {
		lead, _ := normalize.Normalize(r, domain.LeadSourceIntent)
		res := scoring.IntentScore(lead, tenant.Preferences)
		if res.TotalScore >= minScore {
			scored = append(scored, scoredRecord{record: r, result: res})
		}
	}

	// Highest score first; insertion sort keeps ties stable.
	for a := 1; a < len(scored); a++ {
		for b := a; b > 0 && scored[b].result.TotalScore > scored[b-1].result.TotalScore; b-- {
			scored[b], scored[b-1] = scored[b-1], scored[b]
		}
	}
	if len(scored) > intentKeepLimit {
		scored = scored[:intentKeepLimit]
	}

	out := make([]runner.Emission, 0, len(scored))
	for rank, s := range scored {
		score := s.result.TotalScore
		out = append(out, runner.Emission{
			Name: runner.EvLeadIntentIngested,
			Payload: LeadIngestedPayload{
				TenantID:     campaign.TenantID,
				CampaignID:   campaign.ID,
				Source:       domain.LeadSourceIntent,
				Record:       s.record,
				IntentScore:  &score,
				IntentTier:   s.result.Tier,
				AutoResearch: rank < autoLimit,
			},
		})
	}
	return out
}

// fetchApollo loads a saved search or synthesizes one from the ICP.
func (i *Ingestor) fetchApollo(ctx context.Context, campaign *domain.Campaign, icp *domain.ICP) ([]providers.Prospect, error) {
	var cfg domain.ApolloSourceConfig
	if len(campaign.DataSourceConfig) > 0 {
		if err := json.Unmarshal(campaign.DataSourceConfig, &cfg); err != nil {
			return nil, runner.Fatalf("ingest: campaign %s: bad apollo config: %v", campaign.ID, err)
		}
	}

	params := providers.SearchParams{Limit: cfg.PerPage}
	if cfg.SavedSearchID != "" {
		saved, err := i.loadSavedSearch(ctx, campaign.TenantID, cfg.SavedSearchID)
		if err != nil {
			return nil, err
		}
		params = *saved
	} else if icp != nil {
		params = synthesizeSearch(icp, cfg.PerPage)
	}

	return i.search.SearchPeople(ctx, params)
}

func (i *Ingestor) loadSavedSearch(ctx context.Context, tenantID, searchID string) (*providers.SearchParams, error) {
	var raw json.RawMessage
	err := i.store.DB().QueryRowContext(ctx,
		`SELECT params FROM saved_searches WHERE id = $1 AND tenant_id = $2`,
		searchID, tenantID).Scan(&raw)
	if err != nil {
		return nil, runner.Fatalf("ingest: saved search %s: %v", searchID, err)
	}
	params := &providers.SearchParams{}
	if err := json.Unmarshal(raw, params); err != nil {
		return nil, runner.Fatalf("ingest: saved search %s: bad params: %v", searchID, err)
	}
	return params, nil
}

// synthesizeSearch derives search parameters from the brand ICP: titles
// from personas, industries and size bands from high-priority account
// criteria.
func synthesizeSearch(icp *domain.ICP, limit int) providers.SearchParams {
	params := providers.SearchParams{Limit: limit}
	for _, persona := range icp.Personas {
		params.Titles = append(params.Titles, persona.Titles...)
	}
	for _, c := range icp.AccountCriteria {
		if c.Priority != "high" {
			continue
		}
		switch c.Field {
		case "industry":
			params.Industries = append(params.Industries, c.Values...)
		case "employee_count":
			params.EmployeeRanges = append(params.EmployeeRanges, c.Values...)
		case "geography":
			params.Locations = append(params.Locations, c.Values...)
		}
	}
	return params
}

func (i *Ingestor) apolloEmissions(campaign *domain.Campaign, prospects []providers.Prospect) []runner.Emission {
	out := make([]runner.Emission, 0, len(prospects))
	for _, p := range prospects {
		if p.Email == "" {
			continue
		}
		record := map[string]any{
			"email":                   p.Email,
			"first_name":              p.FirstName,
			"last_name":               p.LastName,
			"title":                   p.Title,
			"organization_name":       p.Company,
			"estimated_num_employees": p.CompanySize,
			"industry":                p.Industry,
			"linkedin_url":            p.LinkedInURL,
		}
		out = append(out, runner.Emission{
			Name: runner.EvLeadIngested,
			Payload: LeadIngestedPayload{
				TenantID:   campaign.TenantID,
				CampaignID: campaign.ID,
				Source:     domain.LeadSourceApollo,
				Record:     record,
			},
		})
	}
	return out
}
