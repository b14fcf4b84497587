package sequence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/prompts"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

// Reviewer scores pending sequences and routes them.
type Reviewer struct {
	store    *store.Store
	emitter  ingest.Emitter
	registry *providers.Registry
	renderer *prompts.Renderer
	now      func() time.Time
}

// NewReviewer creates the reviewer.
func NewReviewer(st *store.Store, em ingest.Emitter, reg *providers.Registry) *Reviewer {
	return &Reviewer{
		store:    st,
		emitter:  em,
		registry: reg,
		renderer: prompts.NewRenderer(),
		now:      time.Now,
	}
}

// reviewAction is the routing outcome of one review.
type reviewAction int

const (
	actionApprove reviewAction = iota
	actionRevise
	actionEscalate
)

// routeReview applies the review policy: approvals pass, revisions loop
// while attempts remain, everything else goes to a human.
func routeReview(decision domain.ReviewDecision, attempt int) reviewAction {
	switch decision {
	case domain.ReviewApprove:
		return actionApprove
	case domain.ReviewRevise:
		if attempt < domain.MaxRevisionAttempts {
			return actionRevise
		}
		return actionEscalate
	default:
		return actionEscalate
	}
}

// HandleReviewRequested processes one sequence.review-requested (or
// revision-complete) event.
func (r *Reviewer) HandleReviewRequested(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p ReviewRequestPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("review: bad payload: %v", err)
	}

	seq, err := r.store.Sequences.Get(ctx, p.TenantID, p.SequenceID)
	if err == store.ErrNotFound {
		return runner.Fatalf("review: sequence %s not found", p.SequenceID)
	}
	if err != nil {
		return fmt.Errorf("review: load sequence: %w", err)
	}
	if seq.Status != domain.SequencePending {
		log.Printf("[Review] sequence %s already %s, skipping", seq.ID, seq.Status)
		return nil
	}
	lead, err := r.store.Leads.Get(ctx, p.TenantID, p.LeadID)
	if err != nil {
		return fmt.Errorf("review: load lead: %w", err)
	}

	result, err := runner.Step(ctx, step, "score", func(ctx context.Context) (*domain.ReviewResult, error) {
		return r.score(ctx, seq, lead)
	})
	if err != nil {
		return err
	}

	if _, err := step.Run(ctx, "record", func(ctx context.Context) (any, error) {
		applied, err := r.store.Sequences.RecordReview(ctx, p.TenantID, seq.ID, p.Attempt, *result)
		if err == nil && !applied {
			log.Printf("[Review] sequence %s attempt %d already recorded", seq.ID, p.Attempt)
		}
		return nil, err
	}); err != nil {
		return err
	}

	switch routeReview(result.Decision, p.Attempt) {
	case actionApprove:
		return r.approve(ctx, step, &p, seq, lead, result)
	case actionRevise:
		_, err := step.Run(ctx, "request-revision", func(ctx context.Context) (any, error) {
			return r.emitter.Emit(ctx, runner.Emission{
				Name: runner.EvSequenceRevisionNeed,
				Payload: RevisionPayload{
					TenantID:     p.TenantID,
					LeadID:       p.LeadID,
					CampaignID:   p.CampaignID,
					SequenceID:   seq.ID,
					Attempt:      p.Attempt + 1,
					Instructions: result.RevisionInstructions,
				},
			})
		})
		return err
	default:
		return r.escalate(ctx, step, &p, seq, lead, result)
	}
}

func (r *Reviewer) approve(ctx context.Context, step *runner.StepContext, p *ReviewRequestPayload, seq *domain.Sequence, lead *domain.Lead, result *domain.ReviewResult) error {
	if _, err := step.Run(ctx, "approve", func(ctx context.Context) (any, error) {
		if err := r.store.Sequences.SetStatus(ctx, p.TenantID, seq.ID, domain.SequenceApproved); err != nil {
			return nil, err
		}
		if err := r.store.Leads.SetStatus(ctx, p.TenantID, p.LeadID, domain.LeadSequenceReady); err != nil {
			return nil, err
		}
		return nil, r.store.Leads.LogEvent(ctx, p.TenantID, p.LeadID, "sequence.approved",
			map[string]any{"sequence_id": seq.ID, "score": result.OverallScore, "attempt": p.Attempt})
	}); err != nil {
		return err
	}

	_, err := step.Run(ctx, "emit-ready", func(ctx context.Context) (any, error) {
		return r.emitter.Emit(ctx, runner.Emission{
			Name: runner.EvLeadSequenceReady,
			Payload: ReadyPayload{
				TenantID:   p.TenantID,
				LeadID:     p.LeadID,
				CampaignID: p.CampaignID,
				SequenceID: seq.ID,
			},
		})
	})
	return err
}

func (r *Reviewer) escalate(ctx context.Context, step *runner.StepContext, p *ReviewRequestPayload, seq *domain.Sequence, lead *domain.Lead, result *domain.ReviewResult) error {
	_, err := step.Run(ctx, "escalate", func(ctx context.Context) (any, error) {
		if err := r.store.Sequences.SetStatus(ctx, p.TenantID, seq.ID, domain.SequenceEscalated); err != nil {
			return nil, err
		}
		if err := r.store.Leads.SetStatus(ctx, p.TenantID, p.LeadID, domain.LeadHumanReview); err != nil {
			return nil, err
		}
		if err := r.store.Leads.LogEvent(ctx, p.TenantID, p.LeadID, "sequence.escalated",
			map[string]any{"sequence_id": seq.ID, "attempt": p.Attempt, "reason": result.HumanReviewReason}); err != nil {
			return nil, err
		}
		if err := r.registry.Notifier().Send(ctx, "", providers.Notification{
			Title: "Sequence needs human review",
			Text: fmt.Sprintf("%s %s (%s): %s after %d attempt(s)",
				lead.FirstName, lead.LastName, lead.CompanyName, result.Decision, p.Attempt),
			Fields: map[string]string{
				"tenant":   p.TenantID,
				"sequence": seq.ID,
				"reason":   escalationReason(result),
			},
		}); err != nil {
			log.Printf("[Review] escalation notification failed: %v", err)
		}
		return nil, nil
	})
	return err
}

func escalationReason(result *domain.ReviewResult) string {
	if result.HumanReviewReason != "" {
		return result.HumanReviewReason
	}
	if result.RevisionInstructions != "" {
		return "revision limit reached: " + result.RevisionInstructions
	}
	return "revision limit reached"
}

// score runs the reviewer prompt. An unparseable reply escalates rather
// than blocking the lead in retries.
func (r *Reviewer) score(ctx context.Context, seq *domain.Sequence, lead *domain.Lead) (*domain.ReviewResult, error) {
	tenant, err := r.store.Tenants.Get(ctx, seq.TenantID)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.Research.GetByLead(ctx, seq.TenantID, seq.LeadID)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}

	body := prompts.DefaultReviewer
	if def, err := r.store.Prompts.GetDefinition(ctx, seq.TenantID, prompts.NameReviewer); err == nil {
		if v, err := r.store.Prompts.ActiveVersion(ctx, def.ID); err == nil {
			body = v.Body
		}
	}

	seqJSON, _ := json.Marshal(map[string]any{
		"email_steps":    seq.EmailSteps,
		"linkedin_steps": seq.LinkedInSteps,
	})
	rendered, err := r.renderer.Render(body, map[string]any{
		"brand_name":       tenant.Name,
		"lead_profile":     leadProfile(lead, rec),
		"research_summary": researchSummary(rec),
		"sequence_json":    string(seqJSON),
	})
	if err != nil {
		return nil, err
	}

	llm, err := r.registry.LLMFor(tenant.LLMProvider)
	if err != nil {
		return nil, err
	}
	reply, err := llm.Chat(ctx, []providers.ChatMessage{
		{Role: "user", Content: rendered},
	}, providers.ChatOptions{MaxTokens: 2000, Temperature: 0.2})
	if err != nil {
		if rl, ok := providers.IsRateLimited(err); ok {
			return nil, runner.RetryAfter(err, rl.RetryAfter)
		}
		return nil, err
	}

	var result domain.ReviewResult
	if err := prompts.ParseModelJSON(reply.Content, &result); err != nil {
		log.Printf("[Review] sequence %s: unparseable reviewer reply, escalating: %v", seq.ID, err)
		return &domain.ReviewResult{
			Decision:          domain.ReviewHumanReview,
			HumanReviewReason: "reviewer reply was not valid JSON",
		}, nil
	}
	switch result.Decision {
	case domain.ReviewApprove, domain.ReviewRevise, domain.ReviewHumanReview:
	default:
		result.HumanReviewReason = fmt.Sprintf("unknown review decision %q", result.Decision)
		result.Decision = domain.ReviewHumanReview
	}
	return &result, nil
}
