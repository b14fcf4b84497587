// Package qualify processes ingested lead events: normalize, upsert,
// relationship probe, and the qualification decision that gates research.
package qualify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/normalize"
	"github.com/brightline/outreach-engine/internal/prompts"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

// Auto-qualification thresholds on pixel return visits.
const (
	autoQualifyVisits    = 5
	returnVisitThreshold = 2
)

// ReadyPayload is emitted on lead.ready-for-deployment once a lead
// qualifies.
type ReadyPayload struct {
	TenantID     string                       `json:"tenant_id"`
	LeadID       string                       `json:"lead_id"`
	CampaignID   string                       `json:"campaign_id,omitempty"`
	Decision     domain.QualificationDecision `json:"decision"`
	Confidence   float64                      `json:"confidence"`
	Reasoning    string                       `json:"reasoning"`
	ICPFit       string                       `json:"icp_fit"`
	AutoResearch bool                         `json:"auto_research"`
}

// Stage is the qualification handler.
type Stage struct {
	store    *store.Store
	emitter  ingest.Emitter
	registry *providers.Registry
	renderer *prompts.Renderer
	now      func() time.Time
}

// New creates the stage.
func New(st *store.Store, em ingest.Emitter, reg *providers.Registry) *Stage {
	return &Stage{
		store:    st,
		emitter:  em,
		registry: reg,
		renderer: prompts.NewRenderer(),
		now:      time.Now,
	}
}

// qualResult is the qualifier verdict, checkpointed as one step.
type qualResult struct {
	Decision   domain.QualificationDecision `json:"decision"`
	Confidence float64                      `json:"confidence"`
	Reasoning  string                       `json:"reasoning"`
	ICPFit     string                       `json:"icp_fit"`
	// SkipDownstream marks the 2..4 return-visit case: nothing else runs.
	SkipDownstream bool `json:"skip_downstream,omitempty"`
}

// Handle processes one lead.ingested / lead.intent-ingested event. Every
// step is checkpointed so redelivery resumes instead of repeating side
// effects.
func (s *Stage) Handle(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p ingest.LeadIngestedPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("qualify: bad payload: %v", err)
	}

	// 1. Campaign must still be active.
	if p.CampaignID != "" {
		campaign, err := s.store.Campaigns.Get(ctx, p.TenantID, p.CampaignID)
		if err != nil {
			return fmt.Errorf("qualify: load campaign: %w", err)
		}
		if campaign.Status != domain.CampaignActive {
			return runner.Fatalf("qualify: campaign %s is %s", p.CampaignID, campaign.Status)
		}
	}

	// 2. Normalize.
	normalized, err := runner.Step(ctx, step, "normalize", func(ctx context.Context) (*domain.NormalizedLead, error) {
		lead, warnings := normalize.Normalize(p.Record, p.Source)
		for _, w := range warnings {
			log.Printf("[Qualify] tenant %s: %s (email=%s)", p.TenantID, w, lead.Email)
		}
		if lead.Email == "" {
			return nil, runner.Fatalf("record has no email")
		}
		return lead, nil
	})
	if err != nil {
		return err
	}

	// 3+4. Upsert the lead.
	lead, err := runner.Step(ctx, step, "upsert-lead", func(ctx context.Context) (*domain.Lead, error) {
		return s.upsertLead(ctx, &p, normalized)
	})
	if err != nil {
		return err
	}

	// 5. Log the visit or ingestion event.
	if _, err := step.Run(ctx, "log-visit", func(ctx context.Context) (any, error) {
		return nil, s.logVisit(ctx, lead, normalized, p.Source)
	}); err != nil {
		return err
	}

	// 6. Existing-relationship probe.
	lead, err = runner.Step(ctx, step, "relationship-probe", func(ctx context.Context) (*domain.Lead, error) {
		return s.probeRelationships(ctx, lead)
	})
	if err != nil {
		return err
	}

	// 7. Decision policy.
	verdict, err := runner.Step(ctx, step, "decide", func(ctx context.Context) (*qualResult, error) {
		return s.decide(ctx, lead, &p)
	})
	if err != nil {
		return err
	}
	if verdict.SkipDownstream {
		return nil
	}

	// 8. Persist the qualification record.
	if _, err := step.Run(ctx, "persist-qualification", func(ctx context.Context) (any, error) {
		lead.QualificationDecision = &verdict.Decision
		lead.QualificationReasoning = verdict.Reasoning
		lead.QualificationConfidence = &verdict.Confidence
		lead.ICPFit = verdict.ICPFit
		return nil, s.store.Leads.Update(ctx, lead)
	}); err != nil {
		return err
	}

	switch verdict.Decision {
	case domain.DecisionNo:
		// 9. Terminal.
		if _, err := step.Run(ctx, "disqualify", func(ctx context.Context) (any, error) {
			if err := s.store.Leads.SetStatus(ctx, lead.TenantID, lead.ID, domain.LeadDisqualified); err != nil {
				return nil, err
			}
			return nil, s.store.Leads.LogEvent(ctx, lead.TenantID, lead.ID, "lead.disqualified", verdict)
		}); err != nil {
			return err
		}
		return nil

	case domain.DecisionReview:
		// 10. Escalate, then fall through to YES.
		if _, err := step.Run(ctx, "escalate-review", func(ctx context.Context) (any, error) {
			if err := s.store.Leads.SetStatus(ctx, lead.TenantID, lead.ID, domain.LeadHumanReview); err != nil {
				return nil, err
			}
			if err := s.store.Leads.LogEvent(ctx, lead.TenantID, lead.ID, "lead.human-review", verdict); err != nil {
				return nil, err
			}
			if err := s.registry.Notifier().Send(ctx, "", providers.Notification{
				Title: "Lead needs qualification review",
				Text:  fmt.Sprintf("%s %s (%s) scored %s with confidence %.2f", lead.FirstName, lead.LastName, lead.CompanyName, verdict.Decision, verdict.Confidence),
				Fields: map[string]string{
					"tenant": lead.TenantID,
					"lead":   lead.ID,
					"reason": verdict.Reasoning,
				},
			}); err != nil {
				log.Printf("[Qualify] review notification failed: %v", err)
			}
			return nil, nil
		}); err != nil {
			return err
		}
		log.Printf("[Qualify] lead %s: REVIEW auto-continues as YES", lead.ID)
		fallthrough

	case domain.DecisionYes:
		// 11. Advance and hand off to research.
		if _, err := step.Run(ctx, "advance", func(ctx context.Context) (any, error) {
			if err := s.store.Leads.SetStatus(ctx, lead.TenantID, lead.ID, domain.LeadResearched); err != nil {
				return nil, err
			}
			_, err := s.emitter.Emit(ctx, runner.Emission{
				Name: runner.EvLeadReadyForDeploy,
				Payload: ReadyPayload{
					TenantID:     lead.TenantID,
					LeadID:       lead.ID,
					CampaignID:   p.CampaignID,
					Decision:     verdict.Decision,
					Confidence:   verdict.Confidence,
					Reasoning:    verdict.Reasoning,
					ICPFit:       verdict.ICPFit,
					AutoResearch: p.AutoResearch,
				},
			})
			return nil, err
		}); err != nil {
			return err
		}
		return nil

	default:
		return runner.Fatalf("qualify: unknown decision %q", verdict.Decision)
	}
}

// upsertLead creates or merges the lead row. The unique (tenant_id, email)
// index arbitrates races: a losing insert re-reads and updates.
func (s *Stage) upsertLead(ctx context.Context, p *ingest.LeadIngestedPayload, n *domain.NormalizedLead) (*domain.Lead, error) {
	existing, err := s.store.Leads.GetByEmail(ctx, p.TenantID, n.Email)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}

	if existing == nil {
		now := s.now()
		lead := &domain.Lead{
			TenantID:        p.TenantID,
			Email:           n.Email,
			Source:          p.Source,
			Status:          domain.LeadIngested,
			FirstName:       n.FirstName,
			LastName:        n.LastName,
			JobTitle:        n.JobTitle,
			LinkedIn:        n.LinkedIn,
			Phone:           n.Phone,
			CompanyName:     n.CompanyName,
			CompanyDomain:   n.CompanyDomain,
			CompanyIndustry: n.CompanyIndustry,
			CompanySize:     n.CompanySize,
			CompanyRevenue:  n.CompanyRevenue,
			CompanyLinkedIn: n.CompanyLinkedIn,
			FirstSeenAt:     now,
			LastSeenAt:      now,
			IntentScore:     p.IntentScore,
		}
		if p.Source == domain.LeadSourcePixel {
			lead.VisitCount = 1
		}
		if p.CampaignID != "" {
			lead.CampaignID = &p.CampaignID
		}
		err := s.store.Leads.Insert(ctx, lead)
		if err == nil {
			return lead, nil
		}
		if err != store.ErrConflict {
			return nil, err
		}
		// Lost the race; re-read and merge below.
		existing, err = s.store.Leads.GetByEmail(ctx, p.TenantID, n.Email)
		if err != nil {
			return nil, err
		}
	}

	mergeLead(existing, n, p)
	existing.LastSeenAt = s.now()
	if err := s.store.Leads.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// mergeLead folds the incoming record into an existing lead: fill blanks,
// upgrade the source only under the priority rule, bump visit_count only
// for pixel events.
func mergeLead(lead *domain.Lead, n *domain.NormalizedLead, p *ingest.LeadIngestedPayload) {
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	fill(&lead.FirstName, n.FirstName)
	fill(&lead.LastName, n.LastName)
	fill(&lead.JobTitle, n.JobTitle)
	fill(&lead.LinkedIn, n.LinkedIn)
	fill(&lead.Phone, n.Phone)
	fill(&lead.CompanyName, n.CompanyName)
	fill(&lead.CompanyDomain, n.CompanyDomain)
	fill(&lead.CompanyIndustry, n.CompanyIndustry)
	fill(&lead.CompanyRevenue, n.CompanyRevenue)
	fill(&lead.CompanyLinkedIn, n.CompanyLinkedIn)
	if lead.CompanySize == nil && n.CompanySize != nil {
		lead.CompanySize = n.CompanySize
	}

	lead.Source = domain.UpgradeSource(lead.Source, p.Source)
	if p.Source == domain.LeadSourcePixel {
		lead.VisitCount++
	}
	if p.IntentScore != nil {
		lead.IntentScore = p.IntentScore
	}
	if lead.CampaignID == nil && p.CampaignID != "" {
		c := p.CampaignID
		lead.CampaignID = &c
	}
}

func (s *Stage) logVisit(ctx context.Context, lead *domain.Lead, n *domain.NormalizedLead, source domain.LeadSource) error {
	if source == domain.LeadSourcePixel {
		return s.store.Leads.AddVisit(ctx, &domain.PixelVisit{
			TenantID:   lead.TenantID,
			LeadID:     lead.ID,
			Page:       n.Page,
			TimeOnPage: n.TimeOnPageMS,
			VisitedAt:  s.now(),
		})
	}
	return s.store.Leads.LogEvent(ctx, lead.TenantID, lead.ID, "lead.ingested",
		map[string]string{"source": string(source)})
}

// probeRelationships fuzzy-matches the lead against external-system
// records and updates the presence flags when they changed.
func (s *Stage) probeRelationships(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	systems, err := s.store.Leads.ExternalSystems(ctx, lead.TenantID, lead.Email, NormalizeCompany(lead.CompanyName))
	if err != nil {
		return nil, err
	}

	inEmail, inLinkedIn, inCRM := false, false, false
	for _, sys := range systems {
		switch sys {
		case "email_provider":
			inEmail = true
		case "linkedin_provider":
			inLinkedIn = true
		case "crm":
			inCRM = true
		}
	}

	if inEmail != lead.InEmailProvider || inLinkedIn != lead.InLinkedInProvider || inCRM != lead.InCRM {
		lead.InEmailProvider = inEmail
		lead.InLinkedInProvider = inLinkedIn
		lead.InCRM = inCRM
		if err := s.store.Leads.Update(ctx, lead); err != nil {
			return nil, err
		}
	}
	return lead, nil
}

// decide applies the decision policy: auto-qualify heavy return visitors,
// skip light ones, and send everyone else through the model.
func (s *Stage) decide(ctx context.Context, lead *domain.Lead, p *ingest.LeadIngestedPayload) (*qualResult, error) {
	hadPrior := lead.QualificationDecision != nil

	if hadPrior && lead.VisitCount >= autoQualifyVisits {
		return &qualResult{
			Decision:   domain.DecisionYes,
			Confidence: 0.9,
			Reasoning:  "strong intent - multiple return visits",
			ICPFit:     lead.ICPFit,
		}, nil
	}
	if hadPrior && lead.VisitCount >= returnVisitThreshold {
		if err := s.store.Leads.LogEvent(ctx, lead.TenantID, lead.ID, "visit.return",
			map[string]int{"visit_count": lead.VisitCount}); err != nil {
			return nil, err
		}
		return &qualResult{SkipDownstream: true}, nil
	}
	return s.llmQualify(ctx, lead, p)
}

// llmQualify renders the qualification prompt over lead context and ICP
// documents and parses the verdict. Parse failures become REVIEW at 0.5;
// low-confidence YES coerces to NO.
func (s *Stage) llmQualify(ctx context.Context, lead *domain.Lead, p *ingest.LeadIngestedPayload) (*qualResult, error) {
	tenant, err := s.store.Tenants.Get(ctx, lead.TenantID)
	if err != nil {
		return nil, err
	}

	body := prompts.DefaultQualification
	if def, err := s.store.Prompts.GetDefinition(ctx, lead.TenantID, prompts.NameQualification); err == nil {
		if v, err := s.store.Prompts.ActiveVersion(ctx, def.ID); err == nil {
			body = v.Body
		}
	}

	rendered, err := s.renderer.Render(body, s.promptBindings(ctx, tenant, lead, p))
	if err != nil {
		return nil, err
	}

	llm, err := s.registry.LLMFor(tenant.LLMProvider)
	if err != nil {
		return nil, err
	}
	reply, err := llm.Chat(ctx, []providers.ChatMessage{
		{Role: "user", Content: rendered},
	}, providers.ChatOptions{MaxTokens: 500, Temperature: 0.2})
	if err != nil {
		if rl, ok := providers.IsRateLimited(err); ok {
			return nil, runner.RetryAfter(err, rl.RetryAfter)
		}
		return nil, err
	}

	var verdict qualResult
	if err := prompts.ParseModelJSON(reply.Content, &verdict); err != nil {
		log.Printf("[Qualify] lead %s: unparseable qualifier reply, escalating: %v", lead.ID, err)
		return &qualResult{
			Decision:   domain.DecisionReview,
			Confidence: 0.5,
			Reasoning:  "qualifier reply was not valid JSON",
		}, nil
	}
	verdict.Decision = domain.QualificationDecision(strings.ToUpper(string(verdict.Decision)))
	if verdict.Decision != domain.DecisionYes && verdict.Decision != domain.DecisionNo && verdict.Decision != domain.DecisionReview {
		verdict.Decision = domain.DecisionReview
		verdict.Confidence = 0.5
	}
	if verdict.Confidence < 0.5 {
		verdict.Decision = domain.DecisionNo
	}
	return &verdict, nil
}

func (s *Stage) promptBindings(ctx context.Context, tenant *domain.Tenant, lead *domain.Lead, p *ingest.LeadIngestedPayload) map[string]any {
	var icpContext, accountCriteria, disqualifiers, brandName string

	docs, err := s.store.RAG.ListForGeneration(ctx, lead.TenantID, "")
	if err == nil {
		var parts []string
		for _, d := range docs {
			if d.Type != "icp" && d.Type != "fundamentals" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s:\n%s", d.Title, d.Content))
			if len(parts) == 5 {
				break
			}
		}
		icpContext = strings.Join(parts, "\n\n")
	}

	if tenant.ICP != nil {
		var criteria []string
		for _, c := range tenant.ICP.AccountCriteria {
			criteria = append(criteria, fmt.Sprintf("%s (%s): %s", c.Field, c.Priority, strings.Join(c.Values, ", ")))
		}
		accountCriteria = strings.Join(criteria, "\n")
		disqualifiers = strings.Join(tenant.ICP.Disqualifiers, "\n")
	}
	brandName = tenant.Name

	intentScore := 0
	if lead.IntentScore != nil {
		intentScore = *lead.IntentScore
	}
	size := ""
	if lead.CompanySize != nil {
		size = fmt.Sprintf("%d", *lead.CompanySize)
	}
	relationship := relationshipSummary(lead)

	return map[string]any{
		"brand_name":           brandName,
		"first_name":           lead.FirstName,
		"last_name":            lead.LastName,
		"job_title":            lead.JobTitle,
		"company_name":         lead.CompanyName,
		"company_industry":     lead.CompanyIndustry,
		"company_size":         size,
		"company_revenue":      lead.CompanyRevenue,
		"visit_count":          lead.VisitCount,
		"signal_summary":       signalSummary(lead, p),
		"intent_score":         intentScore,
		"intent_tier":          p.IntentTier,
		"relationship_summary": relationship,
		"icp_context":          icpContext,
		"account_criteria":     accountCriteria,
		"disqualifiers":        disqualifiers,
	}
}

func signalSummary(lead *domain.Lead, p *ingest.LeadIngestedPayload) string {
	var parts []string
	if lead.Source == domain.LeadSourcePixel {
		parts = append(parts, fmt.Sprintf("tracked on website %d time(s)", lead.VisitCount))
	}
	if p.IntentTier != "" {
		parts = append(parts, fmt.Sprintf("intent tier %s", p.IntentTier))
	}
	if len(parts) == 0 {
		return "no behavioral signals"
	}
	return strings.Join(parts, "; ")
}

func relationshipSummary(lead *domain.Lead) string {
	var in []string
	if lead.InEmailProvider {
		in = append(in, "email provider")
	}
	if lead.InLinkedInProvider {
		in = append(in, "linkedin provider")
	}
	if lead.InCRM {
		in = append(in, "CRM")
	}
	if len(in) == 0 {
		return ""
	}
	return "already present in " + strings.Join(in, ", ")
}
