// Package sequence generates and reviews multi-touch outreach sequences.
// Generation writes pending sequences; the reviewer gates them through an
// approve / revise / human-review loop bounded at three revisions.
package sequence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/prompts"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/research"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

// LLM budgets for the writer call.
const (
	writerMaxTokens      = 12000
	writerThinkingBudget = 8000
	ragGuidanceLimit     = 8
)

// errWriterReply marks a model reply the generator could not turn into a
// sequence: unparseable JSON or a draft with no steps. It retries once and
// then escalates to a human rather than dead-lettering.
var errWriterReply = errors.New("writer reply unusable")

// escalateNow reports whether a writer failure has used up its one retry.
// The runner increments the delivery attempt before dispatch, so attempt 2
// is the retry.
func escalateNow(err error, attempt int) bool {
	return errors.Is(err, errWriterReply) && attempt >= 2
}

// ReviewRequestPayload asks the reviewer to score a sequence. Attempt
// starts at 1 and increments per revision round.
type ReviewRequestPayload struct {
	TenantID   string `json:"tenant_id"`
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id"`
	SequenceID string `json:"sequence_id"`
	Attempt    int    `json:"attempt"`
}

// RevisionPayload asks the generator to rewrite a sequence.
type RevisionPayload struct {
	TenantID     string `json:"tenant_id"`
	LeadID       string `json:"lead_id"`
	CampaignID   string `json:"campaign_id"`
	SequenceID   string `json:"sequence_id"`
	Attempt      int    `json:"attempt"`
	Instructions string `json:"instructions"`
}

// ReadyPayload is emitted on lead.sequence-ready for the orchestrator.
type ReadyPayload struct {
	TenantID   string `json:"tenant_id"`
	LeadID     string `json:"lead_id"`
	CampaignID string `json:"campaign_id"`
	SequenceID string `json:"sequence_id"`
}

// Generator writes sequences from research context.
type Generator struct {
	store    *store.Store
	emitter  ingest.Emitter
	registry *providers.Registry
	renderer *prompts.Renderer
	now      func() time.Time
}

// NewGenerator creates the generator.
func NewGenerator(st *store.Store, em ingest.Emitter, reg *providers.Registry) *Generator {
	return &Generator{
		store:    st,
		emitter:  em,
		registry: reg,
		renderer: prompts.NewRenderer(),
		now:      time.Now,
	}
}

// generated is the writer prompt's parsed response.
type generated struct {
	Strategy struct {
		Persona          string `json:"persona"`
		RelationshipType string `json:"relationship_type"`
		TopTrigger       string `json:"top_trigger"`
		Angle            string `json:"angle"`
	} `json:"strategy"`
	EmailSteps    []domain.EmailStep    `json:"email_steps"`
	LinkedInSteps []domain.LinkedInStep `json:"linkedin_steps"`
}

// HandleResearchComplete processes one lead.research-complete event.
func (g *Generator) HandleResearchComplete(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p research.CompletePayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("sequence: bad payload: %v", err)
	}

	in, err := g.loadInputs(ctx, p.TenantID, p.LeadID, p.CampaignID)
	if err != nil {
		return err
	}
	if in.campaign.Status != domain.CampaignActive {
		return runner.Fatalf("sequence: campaign %s is %s", in.campaign.ID, in.campaign.Status)
	}

	// At most one sequence per lead+campaign may sit in review.
	open, err := runner.Step(ctx, step, "check-open-review", func(ctx context.Context) (bool, error) {
		return g.store.Sequences.HasPendingForLead(ctx, p.TenantID, p.LeadID, in.campaign.ID)
	})
	if err != nil {
		return err
	}
	if open {
		log.Printf("[Sequence] lead %s: review already open, skipping generation", p.LeadID)
		return nil
	}

	seq, err := runner.Step(ctx, step, "generate", func(ctx context.Context) (*domain.Sequence, error) {
		return g.generate(ctx, in, "", nil)
	})
	if escalateNow(err, ev.Attempts) {
		return g.escalateGeneration(ctx, step, p.TenantID, p.LeadID, "", err)
	}
	if err != nil {
		return err
	}

	if _, err := step.Run(ctx, "persist", func(ctx context.Context) (any, error) {
		return nil, g.store.Sequences.Insert(ctx, seq)
	}); err != nil {
		return err
	}

	_, err = step.Run(ctx, "emit-review", func(ctx context.Context) (any, error) {
		return g.emitter.Emit(ctx, runner.Emission{
			Name: runner.EvSequenceReviewReq,
			Payload: ReviewRequestPayload{
				TenantID:   p.TenantID,
				LeadID:     p.LeadID,
				CampaignID: in.campaign.ID,
				SequenceID: seq.ID,
				Attempt:    1,
			},
		})
	})
	return err
}

// HandleRevision rewrites a sequence under the reviewer's instructions and
// re-requests review.
func (g *Generator) HandleRevision(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p RevisionPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("sequence: bad revision payload: %v", err)
	}
	if p.Attempt > domain.MaxRevisionAttempts {
		return runner.Fatalf("sequence %s: revision attempt %d exceeds limit", p.SequenceID, p.Attempt)
	}

	prev, err := g.store.Sequences.Get(ctx, p.TenantID, p.SequenceID)
	if err == store.ErrNotFound {
		return runner.Fatalf("sequence %s not found", p.SequenceID)
	}
	if err != nil {
		return fmt.Errorf("sequence: load for revision: %w", err)
	}

	in, err := g.loadInputs(ctx, p.TenantID, p.LeadID, p.CampaignID)
	if err != nil {
		return err
	}

	revised, err := runner.Step(ctx, step, "regenerate", func(ctx context.Context) (*domain.Sequence, error) {
		return g.generate(ctx, in, p.Instructions, prev)
	})
	if escalateNow(err, ev.Attempts) {
		return g.escalateGeneration(ctx, step, p.TenantID, p.LeadID, p.SequenceID, err)
	}
	if err != nil {
		return err
	}

	if _, err := step.Run(ctx, "persist-revision", func(ctx context.Context) (any, error) {
		prev.EmailSteps = revised.EmailSteps
		prev.LinkedInSteps = revised.LinkedInSteps
		prev.Strategy = revised.Strategy
		prev.RevisionCount = p.Attempt - 1
		return nil, g.store.Sequences.UpdateSteps(ctx, prev)
	}); err != nil {
		return err
	}

	_, err = step.Run(ctx, "emit-review", func(ctx context.Context) (any, error) {
		return g.emitter.Emit(ctx, runner.Emission{
			Name: runner.EvSequenceRevisionDone,
			Payload: ReviewRequestPayload{
				TenantID:   p.TenantID,
				LeadID:     p.LeadID,
				CampaignID: p.CampaignID,
				SequenceID: p.SequenceID,
				Attempt:    p.Attempt,
			},
		})
	})
	return err
}

// escalateGeneration hands a lead whose writer keeps failing to a human.
// The event completes normally so it never dead-letters.
func (g *Generator) escalateGeneration(ctx context.Context, step *runner.StepContext, tenantID, leadID, sequenceID string, cause error) error {
	log.Printf("[Sequence] lead %s: writer failed twice, escalating: %v", leadID, cause)
	_, err := step.Run(ctx, "escalate-generation", func(ctx context.Context) (any, error) {
		if sequenceID != "" {
			if err := g.store.Sequences.SetStatus(ctx, tenantID, sequenceID, domain.SequenceEscalated); err != nil {
				return nil, err
			}
		}
		if err := g.store.Leads.SetStatus(ctx, tenantID, leadID, domain.LeadHumanReview); err != nil {
			return nil, err
		}
		if err := g.store.Leads.LogEvent(ctx, tenantID, leadID, "sequence.generation_failed",
			map[string]any{"sequence_id": sequenceID, "error": cause.Error()}); err != nil {
			return nil, err
		}
		if err := g.registry.Notifier().Send(ctx, "", providers.Notification{
			Title: "Sequence generation needs a human",
			Text:  fmt.Sprintf("lead %s: %v", leadID, cause),
			Fields: map[string]string{
				"tenant": tenantID,
				"lead":   leadID,
			},
		}); err != nil {
			log.Printf("[Sequence] escalation notification failed: %v", err)
		}
		return nil, nil
	})
	return err
}

// inputs bundles everything the writer prompt reads.
type inputs struct {
	lead     *domain.Lead
	tenant   *domain.Tenant
	brand    *domain.Brand
	campaign *domain.Campaign
	record   *domain.ResearchRecord
}

func (g *Generator) loadInputs(ctx context.Context, tenantID, leadID, campaignID string) (*inputs, error) {
	lead, err := g.store.Leads.Get(ctx, tenantID, leadID)
	if err == store.ErrNotFound {
		return nil, runner.Fatalf("sequence: lead %s not found", leadID)
	}
	if err != nil {
		return nil, fmt.Errorf("sequence: load lead: %w", err)
	}
	if campaignID == "" && lead.CampaignID != nil {
		campaignID = *lead.CampaignID
	}
	if campaignID == "" {
		return nil, runner.Fatalf("sequence: lead %s has no campaign", leadID)
	}

	tenant, err := g.store.Tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("sequence: load tenant: %w", err)
	}
	campaign, err := g.store.Campaigns.Get(ctx, tenantID, campaignID)
	if err == store.ErrNotFound {
		return nil, runner.Fatalf("sequence: campaign %s not found", campaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("sequence: load campaign: %w", err)
	}
	brand, err := g.store.Tenants.GetBrand(ctx, tenantID, campaign.BrandID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("sequence: load brand: %w", err)
	}
	record, err := g.store.Research.GetByLead(ctx, tenantID, leadID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("sequence: load research: %w", err)
	}
	return &inputs{lead: lead, tenant: tenant, brand: brand, campaign: campaign, record: record}, nil
}

// generate renders the writer prompt, calls the model with a thinking
// budget, and normalizes the result into a pending Sequence.
func (g *Generator) generate(ctx context.Context, in *inputs, revisionNotes string, prev *domain.Sequence) (*domain.Sequence, error) {
	body := prompts.DefaultSequenceWriter
	promptVersionID := ""
	if def, err := g.store.Prompts.GetDefinition(ctx, in.tenant.ID, prompts.NameSequenceWriter); err == nil {
		if v, err := g.store.Prompts.ActiveVersion(ctx, def.ID); err == nil {
			body = v.Body
			promptVersionID = v.ID
		}
	}

	rendered, err := g.renderer.Render(body, g.promptBindings(ctx, in, revisionNotes, prev))
	if err != nil {
		return nil, err
	}

	llm, err := g.registry.LLMFor(in.tenant.LLMProvider)
	if err != nil {
		return nil, err
	}
	reply, err := llm.Chat(ctx, []providers.ChatMessage{
		{Role: "user", Content: rendered},
	}, providers.ChatOptions{
		MaxTokens:      writerMaxTokens,
		Temperature:    0.7,
		ThinkingBudget: writerThinkingBudget,
	})
	if err != nil {
		if rl, ok := providers.IsRateLimited(err); ok {
			return nil, runner.RetryAfter(err, rl.RetryAfter)
		}
		return nil, err
	}

	var out generated
	if err := prompts.ParseModelJSON(reply.Content, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", errWriterReply, err)
	}
	if len(out.EmailSteps) == 0 && len(out.LinkedInSteps) == 0 {
		return nil, fmt.Errorf("%w: no steps produced", errWriterReply)
	}

	seq := &domain.Sequence{
		TenantID:      in.tenant.ID,
		LeadID:        in.lead.ID,
		CampaignID:    in.campaign.ID,
		Mode:          in.campaign.Mode,
		Status:        domain.SequencePending,
		EmailSteps:    out.EmailSteps,
		LinkedInSteps: out.LinkedInSteps,
		Strategy: domain.SequenceStrategy{
			PrimaryAngle:           out.Strategy.Angle,
			Tone:                   brandTone(in.brand),
			LinkedInFirst:          in.campaign.LinkedInFirst,
			WaitForConnection:      in.campaign.WaitForConnection,
			ConnectionTimeoutHours: in.campaign.ConnectionTimeoutHours,
			Persona:                out.Strategy.Persona,
			RelationshipType:       out.Strategy.RelationshipType,
			TopTrigger:             out.Strategy.TopTrigger,
			PromptVersionID:        promptVersionID,
		},
	}
	applyTimeline(seq)
	log.Printf("[Sequence] lead %s: generated %d email + %d linkedin steps (%d output tokens)",
		in.lead.ID, len(seq.EmailSteps), len(seq.LinkedInSteps), reply.OutputTokens)
	return seq, nil
}

func (g *Generator) promptBindings(ctx context.Context, in *inputs, revisionNotes string, prev *domain.Sequence) map[string]any {
	brandName, voice, tone, valueProp := in.tenant.Name, "", "", ""
	brandID := ""
	if in.brand != nil {
		brandName, voice, tone, valueProp = in.brand.Name, in.brand.Voice, in.brand.Tone, in.brand.ValueProp
		brandID = in.brand.ID
	}

	custom := in.campaign.CustomInstructions
	if revisionNotes != "" {
		var sb strings.Builder
		sb.WriteString(custom)
		sb.WriteString("\n\nREVISION INSTRUCTIONS (a reviewer rejected the previous draft):\n")
		sb.WriteString(revisionNotes)
		if prev != nil {
			prevJSON, _ := json.Marshal(map[string]any{
				"email_steps":    prev.EmailSteps,
				"linkedin_steps": prev.LinkedInSteps,
			})
			sb.WriteString("\n\nPREVIOUS DRAFT:\n")
			sb.WriteString(string(prevJSON))
		}
		custom = sb.String()
	}

	return map[string]any{
		"brand_name":          brandName,
		"brand_voice":         voice,
		"brand_tone":          tone,
		"value_prop":          valueProp,
		"mode":                string(in.campaign.Mode),
		"email_step_count":    stepCount(in.campaign.EmailStepCount, len(defaultEmailDays(in.campaign.Mode))),
		"linkedin_step_count": stepCount(in.campaign.LinkedInStepCount, len(defaultLinkedInDays(in.campaign.Mode))),
		"lead_profile":        leadProfile(in.lead, in.record),
		"research_summary":    researchSummary(in.record),
		"triggers":            triggerLines(in.record),
		"rag_guidance":        g.ragGuidance(ctx, in.tenant.ID, brandID),
		"custom_instructions": custom,
	}
}

func stepCount(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

func brandTone(b *domain.Brand) string {
	if b == nil {
		return ""
	}
	return b.Tone
}

func (g *Generator) ragGuidance(ctx context.Context, tenantID, brandID string) string {
	docs, err := g.store.RAG.ListForGeneration(ctx, tenantID, brandID)
	if err != nil {
		log.Printf("[Sequence] rag lookup failed, generating without guidance: %v", err)
		return ""
	}
	var parts []string
	for _, d := range docs {
		parts = append(parts, fmt.Sprintf("%s:\n%s", d.Title, d.Content))
		if len(parts) == ragGuidanceLimit {
			break
		}
	}
	return strings.Join(parts, "\n\n")
}

func leadProfile(lead *domain.Lead, rec *domain.ResearchRecord) string {
	size := "unknown"
	if lead.CompanySize != nil {
		size = fmt.Sprintf("%d", *lead.CompanySize)
	}
	lines := []string{
		fmt.Sprintf("%s %s, %s at %s", lead.FirstName, lead.LastName, lead.JobTitle, lead.CompanyName),
		fmt.Sprintf("Industry: %s | Employees: %s | Revenue: %s", lead.CompanyIndustry, size, lead.CompanyRevenue),
	}
	if rec != nil && rec.Profile != nil {
		lines = append(lines,
			fmt.Sprintf("Persona: %s (%s) | Relationship: %s",
				rec.Profile.PersonaMatch.Persona, rec.Profile.PersonaMatch.Level, rec.Profile.RelationshipType))
	}
	return strings.Join(lines, "\n")
}

func researchSummary(rec *domain.ResearchRecord) string {
	if rec == nil || rec.Profile == nil {
		return "No research available. Write from the lead profile only; do not invent facts."
	}
	var sb strings.Builder
	if rec.Profile.CompanyIntel != "" {
		sb.WriteString("Company intel: ")
		sb.WriteString(rec.Profile.CompanyIntel)
		sb.WriteString("\n")
	}
	if len(rec.Profile.MessagingAngles) > 0 {
		sb.WriteString("Suggested angles: ")
		sb.WriteString(strings.Join(rec.Profile.MessagingAngles, "; "))
	}
	return sb.String()
}

func triggerLines(rec *domain.ResearchRecord) string {
	if rec == nil || rec.Profile == nil || len(rec.Profile.Triggers) == 0 {
		return "none detected"
	}
	var lines []string
	for i, t := range rec.Profile.Triggers {
		if i == 3 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s (source %s, evidence: %s)", t.Trigger, t.Source, t.Evidence))
	}
	return strings.Join(lines, "\n")
}
