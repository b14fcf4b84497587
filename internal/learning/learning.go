// Package learning closes the loop: attributed engagement is aggregated
// into element performance, promising element combinations become learned
// patterns, patterns feed RAG documents and evolved prompt versions, and
// A/B tests arbitrate which prompt version generates future sequences.
package learning

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/prompts"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

const (
	baselinePeriod  = "rolling_30d"
	evolveMaxTokens = 4000
	ragMaxTokens    = 800
)

// evolvablePrompts are the prompt names the loop may rewrite.
var evolvablePrompts = []string{
	prompts.NameQualification,
	prompts.NameSequenceWriter,
	prompts.NameReviewer,
}

// AnalyzePayload is the learning.analyze-requested payload. An empty
// tenant id (the cron form) fans out to every tenant.
type AnalyzePayload struct {
	TenantID string `json:"tenant_id"`
}

// Stage runs the per-tenant analysis pipeline.
type Stage struct {
	store    *store.Store
	emitter  ingest.Emitter
	registry *providers.Registry
	cfg      config.LearningConfig
	now      func() time.Time
}

// New creates the stage.
func New(st *store.Store, em ingest.Emitter, reg *providers.Registry, cfg config.LearningConfig) *Stage {
	return &Stage{store: st, emitter: em, registry: reg, cfg: cfg, now: time.Now}
}

// HandleAnalyze runs the full pipeline for one tenant. Every phase is a
// checkpointed step so a crash resumes instead of double-counting.
func (s *Stage) HandleAnalyze(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p AnalyzePayload
	if len(ev.Payload) > 0 {
		if err := ev.Bind(&p); err != nil {
			return runner.Fatalf("learning: bad payload: %v", err)
		}
	}
	if p.TenantID == "" {
		return s.fanOut(ctx, step)
	}
	tenant, err := s.store.Tenants.Get(ctx, p.TenantID)
	if err == store.ErrNotFound {
		return runner.Fatalf("learning: tenant %s not found", p.TenantID)
	}
	if err != nil {
		return err
	}

	periodEnd := s.now()
	periodStart := periodEnd.AddDate(0, 0, -s.cfg.WindowDays)

	refreshed, err := runner.Step(ctx, step, "refresh-elements", func(ctx context.Context) (int, error) {
		return s.refreshElements(ctx, p.TenantID, periodStart, periodEnd)
	})
	if err != nil {
		return err
	}

	baseline, err := runner.Step(ctx, step, "update-baseline", func(ctx context.Context) (*store.TenantRates, error) {
		return s.updateBaseline(ctx, p.TenantID, periodStart)
	})
	if err != nil {
		return err
	}

	discovered, err := runner.Step(ctx, step, "discover-patterns", func(ctx context.Context) (int, error) {
		return s.discover(ctx, p.TenantID, periodStart, baseline.ReplyRate)
	})
	if err != nil {
		return err
	}

	promoted, err := runner.Step(ctx, step, "promote-patterns", func(ctx context.Context) (int, error) {
		return s.promote(ctx, tenant)
	})
	if err != nil {
		return err
	}

	retired, err := runner.Step(ctx, step, "retire-patterns", func(ctx context.Context) (int, error) {
		return s.retire(ctx, p.TenantID)
	})
	if err != nil {
		return err
	}

	evolved, err := runner.Step(ctx, step, "evolve-prompts", func(ctx context.Context) (int, error) {
		return s.evolvePrompts(ctx, tenant)
	})
	if err != nil {
		return err
	}

	concluded, err := runner.Step(ctx, step, "evaluate-ab-tests", func(ctx context.Context) (int, error) {
		return s.evaluateABTests(ctx, p.TenantID)
	})
	if err != nil {
		return err
	}

	log.Printf("[Learning] tenant %s: %d elements refreshed, %d patterns discovered, %d promoted, %d retired, %d prompts evolved, %d tests concluded",
		p.TenantID, refreshed, discovered, promoted, retired, evolved, concluded)
	return nil
}

// fanOut enqueues one analysis run per tenant.
func (s *Stage) fanOut(ctx context.Context, step *runner.StepContext) error {
	_, err := step.Run(ctx, "fan-out", func(ctx context.Context) (any, error) {
		ids, err := s.store.Tenants.ListIDs(ctx)
		if err != nil {
			return nil, err
		}
		emissions := make([]runner.Emission, 0, len(ids))
		for _, id := range ids {
			emissions = append(emissions, runner.Emission{
				Name:    runner.EvLearningAnalyze,
				Payload: AnalyzePayload{TenantID: id},
			})
		}
		return s.emitter.Emit(ctx, emissions...)
	})
	return err
}

func (s *Stage) refreshElements(ctx context.Context, tenantID string, periodStart, periodEnd time.Time) (int, error) {
	stats, err := s.store.Learning.AggregateElementStats(ctx, tenantID, periodStart)
	if err != nil {
		return 0, err
	}
	for _, st := range stats {
		perf := elementPerformance(tenantID, st, periodStart, periodEnd)
		if err := s.store.Learning.UpsertElementPerformance(ctx, &perf); err != nil {
			return 0, err
		}
	}
	return len(stats), nil
}

func (s *Stage) updateBaseline(ctx context.Context, tenantID string, since time.Time) (*store.TenantRates, error) {
	rates, err := s.store.Learning.TenantWideRates(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	for metric, value := range map[string]float64{
		"open_rate":           rates.OpenRate,
		"reply_rate":          rates.ReplyRate,
		"positive_reply_rate": rates.PositiveReplyRate,
	} {
		if err := s.store.Learning.UpsertBaseline(ctx, &domain.BaselineMetric{
			TenantID:   tenantID,
			MetricType: metric,
			Scope:      "",
			Period:     baselinePeriod,
			Value:      value,
			SampleSize: rates.Sent,
		}); err != nil {
			return nil, err
		}
	}
	return rates, nil
}

// discover builds candidates from single elements and element pairs, then
// upserts everything clearing the gates. Upsert refreshes the stats of
// patterns seen in earlier runs without resetting their lifecycle status.
func (s *Stage) discover(ctx context.Context, tenantID string, since time.Time, baselineReplyRate float64) (int, error) {
	types, err := s.elementTypes(ctx)
	if err != nil {
		return 0, err
	}

	singles, err := s.store.Learning.AggregateElementStats(ctx, tenantID, since)
	if err != nil {
		return 0, err
	}
	pairs, err := s.store.Learning.AggregatePairStats(ctx, tenantID, since)
	if err != nil {
		return 0, err
	}

	cands := make([]candidate, 0, len(singles)+len(pairs))
	for _, st := range singles {
		if st.TimesUsed == 0 {
			continue
		}
		cands = append(cands, candidate{
			ElementTypeIDs: []string{st.ElementTypeID},
			SampleSize:     st.TimesUsed,
			ReplyRate:      float64(st.Replies) / float64(st.TimesUsed),
		})
	}
	for _, pr := range pairs {
		if pr.TimesUsed == 0 {
			continue
		}
		cands = append(cands, candidate{
			ElementTypeIDs: []string{pr.ElementTypeA, pr.ElementTypeB},
			SampleSize:     pr.TimesUsed,
			ReplyRate:      float64(pr.Replies) / float64(pr.TimesUsed),
		})
	}

	found := discoverPatterns(tenantID, cands, baselineReplyRate, types, thresholds{
		MinSample:     s.cfg.MinSample,
		MinConfidence: s.cfg.MinConfidence,
		MinLift:       s.cfg.MinLift,
	})
	for i := range found {
		p := &found[i]
		wanted := p.Status
		if err := s.store.Learning.UpsertPattern(ctx, p); err != nil {
			return 0, err
		}
		// The upsert returns the stored status; only ever move forward
		// (candidate -> validated), never demote active rows.
		if p.Status == domain.PatternCandidate && wanted == domain.PatternValidated {
			if err := s.store.Learning.SetPatternStatus(ctx, tenantID, p.ID, domain.PatternValidated); err != nil {
				return 0, err
			}
		}
	}
	return len(found), nil
}

func (s *Stage) elementTypes(ctx context.Context) (map[string]domain.ElementType, error) {
	list, err := s.store.Attribution.ListElementTypes(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]domain.ElementType, len(list))
	for _, t := range list {
		m[t.ID] = t
	}
	return m, nil
}

// promote writes a learned RAG document for each validated pattern and
// activates it. Document text comes from the LLM when available, the
// deterministic template otherwise.
func (s *Stage) promote(ctx context.Context, tenant *domain.Tenant) (int, error) {
	validated, err := s.store.Learning.ListPatterns(ctx, tenant.ID, domain.PatternValidated)
	if err != nil {
		return 0, err
	}
	for i := range validated {
		p := &validated[i]
		content := s.describePattern(ctx, tenant, p)
		if err := s.store.RAG.UpsertForPattern(ctx, &domain.RAGDocument{
			TenantID:  &tenant.ID,
			Type:      "learned",
			Title:     "Learned: " + p.Name,
			Content:   content,
			PatternID: &p.ID,
		}); err != nil {
			return 0, err
		}
		if err := s.store.Learning.SetPatternStatus(ctx, tenant.ID, p.ID, domain.PatternActive); err != nil {
			return 0, err
		}
		log.Printf("[Learning] tenant %s: pattern %q promoted (lift %.2f, n=%d)", tenant.ID, p.Name, p.Lift, p.SampleSize)
	}
	return len(validated), nil
}

func (s *Stage) describePattern(ctx context.Context, tenant *domain.Tenant, p *domain.LearnedPattern) string {
	llm, err := s.registry.LLMFor(tenant.LLMProvider)
	if err != nil {
		return patternDocument(p)
	}
	reply, err := llm.Chat(ctx, []providers.ChatMessage{{
		Role: "user",
		Content: fmt.Sprintf(
			"Write 2-3 sentences of copywriting guidance for an outbound email writer based on this observed result: emails combining %s achieved a %.1f%% reply rate, %.1fx the account baseline, over %d sends. Be concrete about when to apply it. Plain text only.",
			p.Name, p.ReplyRate*100, p.Lift, p.SampleSize),
	}}, providers.ChatOptions{MaxTokens: ragMaxTokens, Temperature: 0.3})
	if err != nil || strings.TrimSpace(reply.Content) == "" {
		if err != nil {
			log.Printf("[Learning] pattern %q: LLM description failed, using template: %v", p.Name, err)
		}
		return patternDocument(p)
	}
	return strings.TrimSpace(reply.Content)
}

// retire demotes patterns whose lift decayed below the floor and marks
// their RAG documents deprecated. Documents are never deleted.
func (s *Stage) retire(ctx context.Context, tenantID string) (int, error) {
	active, err := s.store.Learning.ListPatterns(ctx, tenantID, domain.PatternActive)
	if err != nil {
		return 0, err
	}
	retired := 0
	for i := range active {
		p := &active[i]
		if p.Lift >= s.cfg.DeprecationLift {
			continue
		}
		if err := s.store.Learning.SetPatternStatus(ctx, tenantID, p.ID, domain.PatternRetired); err != nil {
			return 0, err
		}
		if err := s.store.RAG.DeprecateForPattern(ctx, p.ID); err != nil {
			return 0, err
		}
		retired++
		log.Printf("[Learning] tenant %s: pattern %q retired (lift fell to %.2f)", tenantID, p.Name, p.Lift)
	}
	return retired, nil
}

// evolvePrompts rewrites each evolvable prompt whose injected-pattern set
// drifted from the current active+validated set, then stages the rewrite
// behind an A/B test when an active version exists.
func (s *Stage) evolvePrompts(ctx context.Context, tenant *domain.Tenant) (int, error) {
	current, err := s.store.Learning.ListPatterns(ctx, tenant.ID, domain.PatternActive, domain.PatternValidated)
	if err != nil {
		return 0, err
	}
	desired := make([]string, 0, len(current))
	for _, p := range current {
		desired = append(desired, p.ID)
	}

	evolved := 0
	for _, name := range evolvablePrompts {
		def, err := s.store.Prompts.GetDefinition(ctx, tenant.ID, name)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !def.Evolvable {
			continue
		}

		// One experiment at a time per prompt.
		if _, err := s.store.Prompts.RunningABTest(ctx, tenant.ID, def.ID); err == nil {
			continue
		} else if err != store.ErrNotFound {
			return 0, err
		}

		active, err := s.store.Prompts.ActiveVersion(ctx, def.ID)
		if err != nil && err != store.ErrNotFound {
			return 0, err
		}

		var injected []string
		var base string
		if active != nil {
			injected = active.InjectedPatterns
			base = active.Body
		} else {
			base = defaultBody(name)
		}
		if !patternsChanged(injected, desired) {
			continue
		}

		body := s.rewritePrompt(ctx, tenant, base, current)
		version, err := s.store.Prompts.NextVersionNumber(ctx, def.ID)
		if err != nil {
			return 0, err
		}
		next := &domain.PromptVersion{
			PromptID:         def.ID,
			Version:          version,
			Body:             body,
			InjectedPatterns: desired,
			Status:           domain.PromptVersionTesting,
		}
		if err := s.store.Prompts.InsertVersion(ctx, next); err != nil {
			if err == store.ErrConflict {
				// Another run already wrote this version.
				continue
			}
			return 0, err
		}

		if active == nil {
			if err := s.store.Prompts.ActivateVersion(ctx, def.ID, next.ID); err != nil {
				return 0, err
			}
			log.Printf("[Learning] tenant %s: prompt %q v%d activated directly (no incumbent)", tenant.ID, name, version)
		} else {
			err := s.store.Prompts.InsertABTest(ctx, &domain.PromptABTest{
				TenantID:            tenant.ID,
				PromptID:            def.ID,
				ControlVersionID:    active.ID,
				VariantVersionID:    next.ID,
				SplitPercent:        50,
				MinSamplePerVariant: s.cfg.ABMinSample,
				MaxRuntimeDays:      s.cfg.ABMaxRuntimeDays,
				Status:              domain.ABTestRunning,
			})
			if err != nil && err != store.ErrConflict {
				return 0, err
			}
			log.Printf("[Learning] tenant %s: prompt %q v%d testing against v%d", tenant.ID, name, version, active.Version)
		}
		evolved++
	}
	return evolved, nil
}

func defaultBody(name string) string {
	switch name {
	case prompts.NameQualification:
		return prompts.DefaultQualification
	case prompts.NameReviewer:
		return prompts.DefaultReviewer
	default:
		return prompts.DefaultSequenceWriter
	}
}

// rewritePrompt asks the LLM to integrate the pattern set into the prompt
// body, falling back to the delimited guidance block when the model is
// unavailable or returns something unusable.
func (s *Stage) rewritePrompt(ctx context.Context, tenant *domain.Tenant, base string, patterns []domain.LearnedPattern) string {
	fallback := injectGuidance(base, patterns)

	llm, err := s.registry.LLMFor(tenant.LLMProvider)
	if err != nil {
		return fallback
	}

	var lines strings.Builder
	for _, p := range patterns {
		fmt.Fprintf(&lines, "- %s: %.1fx baseline reply rate over %d sends\n", p.Name, p.Lift, p.SampleSize)
	}
	reply, err := llm.Chat(ctx, []providers.ChatMessage{{
		Role: "user",
		Content: fmt.Sprintf(`Rewrite the prompt below so its guidance reflects these observed results, removing advice they contradict. Keep every {{ placeholder }} exactly as written, keep the required JSON reply format unchanged, and return only the rewritten prompt.

OBSERVED RESULTS
%s
PROMPT
%s`, lines.String(), base),
	}}, providers.ChatOptions{MaxTokens: evolveMaxTokens, Temperature: 0.3})
	if err != nil {
		log.Printf("[Learning] prompt rewrite failed, using templated injection: %v", err)
		return fallback
	}

	body := strings.TrimSpace(reply.Content)
	// A rewrite that lost the template variables would break rendering.
	if body == "" || !strings.Contains(body, "{{") {
		return fallback
	}
	return body
}

// evaluateABTests concludes ripe tests and promotes winners. Losing and
// inconclusive variants are deprecated; the control keeps serving.
func (s *Stage) evaluateABTests(ctx context.Context, tenantID string) (int, error) {
	tests, err := s.store.Prompts.ListRunningABTests(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	concluded := 0
	for i := range tests {
		t := &tests[i]
		cSent, cPos, err := s.store.Prompts.VariantRates(ctx, tenantID, t.ControlVersionID)
		if err != nil {
			return 0, err
		}
		vSent, vPos, err := s.store.Prompts.VariantRates(ctx, tenantID, t.VariantVersionID)
		if err != nil {
			return 0, err
		}

		verdict := evaluateABTest(t, cSent, cPos, vSent, vPos, s.cfg.ABWinnerLiftPercent, s.now())
		if !verdict.Decided {
			continue
		}

		switch verdict.Winner {
		case t.VariantVersionID:
			if err := s.store.Prompts.ActivateVersion(ctx, t.PromptID, t.VariantVersionID); err != nil {
				return 0, err
			}
			if err := s.store.Prompts.ConcludeABTest(ctx, t.ID, &t.VariantVersionID); err != nil {
				return 0, err
			}
			log.Printf("[Learning] tenant %s: ab test %s: variant wins (%.1f%% vs %.1f%% positive replies)",
				tenantID, t.ID, rate(vPos, vSent)*100, rate(cPos, cSent)*100)
		case t.ControlVersionID:
			if err := s.store.Prompts.DeprecateVersion(ctx, t.VariantVersionID); err != nil {
				return 0, err
			}
			if err := s.store.Prompts.ConcludeABTest(ctx, t.ID, &t.ControlVersionID); err != nil {
				return 0, err
			}
			log.Printf("[Learning] tenant %s: ab test %s: control holds", tenantID, t.ID)
		default:
			if err := s.store.Prompts.DeprecateVersion(ctx, t.VariantVersionID); err != nil {
				return 0, err
			}
			if err := s.store.Prompts.ConcludeABTest(ctx, t.ID, nil); err != nil {
				return 0, err
			}
			log.Printf("[Learning] tenant %s: ab test %s: inconclusive, control stands", tenantID, t.ID)
		}
		concluded++
	}
	return concluded, nil
}
