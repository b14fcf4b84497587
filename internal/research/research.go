// Package research enriches qualified leads: enrichment waterfall, trigger
// matching, and the context profile that generation personalizes from.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/brightline/outreach-engine/internal/archive"
	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/qualify"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

const (
	// Records younger than this skip the expensive external calls.
	freshnessMaxAge = 30 * 24 * time.Hour
	// Per-source budget inside the waterfall.
	sourceTimeout = 45 * time.Second
	// Company-intel snippet length.
	intelSnippetLen = 600
)

// CompletePayload is emitted on lead.research-complete.
type CompletePayload struct {
	TenantID     string `json:"tenant_id"`
	LeadID       string `json:"lead_id"`
	CampaignID   string `json:"campaign_id,omitempty"`
	AutoResearch bool   `json:"auto_research"`
	Reused       bool   `json:"reused,omitempty"`
}

// Stage is the research handler.
type Stage struct {
	store    *store.Store
	emitter  ingest.Emitter
	registry *providers.Registry
	archiver *archive.Archiver
	now      func() time.Time
}

// New creates the stage. A nil archiver disables S3 archival.
func New(st *store.Store, em ingest.Emitter, reg *providers.Registry, arch *archive.Archiver) *Stage {
	return &Stage{
		store:    st,
		emitter:  em,
		registry: reg,
		archiver: arch,
		now:      time.Now,
	}
}

// sourceResult is one waterfall fetch, checkpointed raw.
type sourceResult struct {
	URL       string    `json:"url,omitempty"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// waterfallResult carries all three sources plus the summary.
type waterfallResult struct {
	Personal sourceResult            `json:"personal"`
	Company  sourceResult            `json:"company"`
	Web      sourceResult            `json:"web"`
	Summary  domain.WaterfallSummary `json:"summary"`
}

func (w *waterfallResult) sources() map[string]string {
	return map[string]string{
		"personal_linkedin": w.Personal.Text,
		"company_linkedin":  w.Company.Text,
		"web_search":        w.Web.Text,
	}
}

// Handle processes one lead.ready-for-deployment event.
func (s *Stage) Handle(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p qualify.ReadyPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("research: bad payload: %v", err)
	}

	lead, err := s.store.Leads.Get(ctx, p.TenantID, p.LeadID)
	if err == store.ErrNotFound {
		return runner.Fatalf("research: lead %s not found", p.LeadID)
	}
	if err != nil {
		return fmt.Errorf("research: load lead: %w", err)
	}
	tenant, err := s.store.Tenants.Get(ctx, p.TenantID)
	if err != nil {
		return fmt.Errorf("research: load tenant: %w", err)
	}
	icp, err := s.effectiveICP(ctx, tenant, p.CampaignID)
	if err != nil {
		return err
	}

	// 1. Fresh record short-circuits the external calls.
	reuse, err := runner.Step(ctx, step, "freshness-check", func(ctx context.Context) (bool, error) {
		existing, err := s.store.Research.GetByLead(ctx, p.TenantID, p.LeadID)
		if err == store.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return existing.Fresh(s.now(), freshnessMaxAge) && existing.Profile != nil, nil
	})
	if err != nil {
		return err
	}
	if reuse {
		log.Printf("[Research] lead %s: record fresh, reusing", p.LeadID)
		return s.emitComplete(ctx, step, &p, true)
	}

	// 2. Enrichment waterfall, all sources in parallel.
	wf, err := runner.Step(ctx, step, "waterfall", func(ctx context.Context) (*waterfallResult, error) {
		return s.runWaterfall(ctx, lead), nil
	})
	if err != nil {
		return err
	}

	// 3+4. Trigger matching and profile assembly are pure over the blobs.
	profile, err := runner.Step(ctx, step, "build-profile", func(ctx context.Context) (*domain.ContextProfile, error) {
		return s.buildProfile(lead, icp, wf), nil
	})
	if err != nil {
		return err
	}

	// 5. Persist, archiving raw blobs off the hot store when configured.
	if _, err := step.Run(ctx, "persist", func(ctx context.Context) (any, error) {
		return nil, s.persist(ctx, lead, wf, profile)
	}); err != nil {
		return err
	}

	return s.emitComplete(ctx, step, &p, false)
}

func (s *Stage) effectiveICP(ctx context.Context, tenant *domain.Tenant, campaignID string) (*domain.ICP, error) {
	if campaignID == "" {
		return tenant.ICP, nil
	}
	campaign, err := s.store.Campaigns.Get(ctx, tenant.ID, campaignID)
	if err == store.ErrNotFound {
		return tenant.ICP, nil
	}
	if err != nil {
		return nil, fmt.Errorf("research: load campaign: %w", err)
	}
	brand, err := s.store.Tenants.GetBrand(ctx, tenant.ID, campaign.BrandID)
	if err == store.ErrNotFound {
		return tenant.ICP, nil
	}
	if err != nil {
		return nil, fmt.Errorf("research: load brand: %w", err)
	}
	return brand.EffectiveICP(tenant), nil
}

// runWaterfall fetches the three enrichment sources concurrently. A failed
// source degrades the profile, it never fails the event.
func (s *Stage) runWaterfall(ctx context.Context, lead *domain.Lead) *waterfallResult {
	wf := &waterfallResult{}
	fetcher := s.registry.Fetcher()

	fetch := func(dst *sourceResult, url string) {
		dst.FetchedAt = s.now()
		if url == "" {
			dst.Error = "no url"
			return
		}
		dst.URL = url
		fctx, cancel := context.WithTimeout(ctx, sourceTimeout)
		defer cancel()
		text, err := fetcher.FetchPage(fctx, url)
		if err != nil {
			dst.Error = err.Error()
			return
		}
		dst.Text = text
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); fetch(&wf.Personal, lead.LinkedIn) }()
	go func() { defer wg.Done(); fetch(&wf.Company, lead.CompanyLinkedIn) }()
	go func() { defer wg.Done(); fetch(&wf.Web, companyURL(lead.CompanyDomain)) }()
	wg.Wait()

	wf.Summary = domain.WaterfallSummary{
		PersonalLinkedIn: wf.Personal.Text != "",
		CompanyLinkedIn:  wf.Company.Text != "",
		WebSearch:        wf.Web.Text != "",
	}
	for _, r := range []sourceResult{wf.Personal, wf.Company, wf.Web} {
		if r.Error != "" && r.Error != "no url" {
			wf.Summary.Errors = append(wf.Summary.Errors, r.Error)
		}
	}
	log.Printf("[Research] lead %s: waterfall personal=%t company=%t web=%t",
		lead.ID, wf.Summary.PersonalLinkedIn, wf.Summary.CompanyLinkedIn, wf.Summary.WebSearch)
	return wf
}

func companyURL(domainName string) string {
	if domainName == "" {
		return ""
	}
	if strings.HasPrefix(domainName, "http://") || strings.HasPrefix(domainName, "https://") {
		return domainName
	}
	return "https://" + domainName
}

func (s *Stage) buildProfile(lead *domain.Lead, icp *domain.ICP, wf *waterfallResult) *domain.ContextProfile {
	triggers := MatchTriggers(icp, wf.sources())
	persona := MatchPersona(icp, lead.JobTitle)

	intel := wf.Web.Text
	if intel == "" {
		intel = wf.Company.Text
	}

	return &domain.ContextProfile{
		Lead: domain.NormalizedLead{
			Email:           lead.Email,
			FirstName:       lead.FirstName,
			LastName:        lead.LastName,
			JobTitle:        lead.JobTitle,
			LinkedIn:        lead.LinkedIn,
			Phone:           lead.Phone,
			CompanyName:     lead.CompanyName,
			CompanyDomain:   lead.CompanyDomain,
			CompanyIndustry: lead.CompanyIndustry,
			CompanySize:     lead.CompanySize,
			CompanyRevenue:  lead.CompanyRevenue,
			CompanyLinkedIn: lead.CompanyLinkedIn,
			Source:          lead.Source,
		},
		PersonaMatch:     persona,
		Triggers:         triggers,
		CompanyIntel:     Snippet(intel, intelSnippetLen),
		RelationshipType: RelationshipType(lead),
		MessagingAngles:  MessagingAngles(icp, persona, triggers),
	}
}

func (s *Stage) persist(ctx context.Context, lead *domain.Lead, wf *waterfallResult, profile *domain.ContextProfile) error {
	rec := &domain.ResearchRecord{
		TenantID:         lead.TenantID,
		LeadID:           lead.ID,
		WaterfallSummary: wf.Summary,
		Profile:          profile,
	}
	rec.PersonalLinkedInRaw, _ = json.Marshal(wf.Personal)
	rec.CompanyLinkedInRaw, _ = json.Marshal(wf.Company)
	rec.WebSearchRaw, _ = json.Marshal(wf.Web)

	if s.archiver.Enabled() {
		blob, err := json.Marshal(wf)
		if err == nil {
			key, err := s.archiver.Put(ctx, lead.TenantID, lead.ID, blob)
			if err != nil {
				log.Printf("[Research] lead %s: archive failed, keeping raw inline: %v", lead.ID, err)
			} else {
				rec.ArchiveKey = key
			}
		}
	}

	if err := s.store.Research.Upsert(ctx, rec); err != nil {
		return err
	}
	return s.store.Leads.LogEvent(ctx, lead.TenantID, lead.ID, "lead.research-complete", wf.Summary)
}

func (s *Stage) emitComplete(ctx context.Context, step *runner.StepContext, p *qualify.ReadyPayload, reused bool) error {
	_, err := step.Run(ctx, "emit-complete", func(ctx context.Context) (any, error) {
		return s.emitter.Emit(ctx, runner.Emission{
			Name: runner.EvLeadResearchComplete,
			Payload: CompletePayload{
				TenantID:     p.TenantID,
				LeadID:       p.LeadID,
				CampaignID:   p.CampaignID,
				AutoResearch: p.AutoResearch,
				Reused:       reused,
			},
		})
	})
	return err
}
