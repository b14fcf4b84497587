// Package orchestrator runs the per-lead cross-channel state machine:
// deployment to providers, a pure event fold, trigger-table evaluation, and
// exactly-once application of at-least-once webhook deliveries.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightline/outreach-engine/internal/attribution"
	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/pkg/distlock"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/sequence"
	"github.com/brightline/outreach-engine/internal/store"
)

const (
	leadLockTTL       = 30 * time.Second
	maxVersionRetries = 3
)

// EventPayload is the internal orchestration.event envelope. The API edge
// translates provider webhooks into this shape with the lead resolved.
type EventPayload struct {
	TenantID           string          `json:"tenant_id"`
	LeadID             string          `json:"lead_id"`
	Type               string          `json:"type"`
	Channel            domain.Channel  `json:"channel"`
	StepNumber         int             `json:"step_number,omitempty"`
	SourceEventID      string          `json:"source_event_id"`
	Sentiment          string          `json:"sentiment,omitempty"`
	InterestLevel      string          `json:"interest_level,omitempty"`
	ProviderCampaignID string          `json:"provider_campaign_id,omitempty"`
	ProviderLeadID     string          `json:"provider_lead_id,omitempty"`
	Subject            string          `json:"subject,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
}

// Stage is the orchestration handler set.
type Stage struct {
	store    *store.Store
	db       *sql.DB
	rdb      *redis.Client
	emitter  ingest.Emitter
	registry *providers.Registry
	recorder *attribution.Recorder
	now      func() time.Time
}

// New creates the stage. rdb may be nil; the per-lead lock then falls back
// to a Postgres advisory lock.
func New(st *store.Store, rdb *redis.Client, em ingest.Emitter, reg *providers.Registry, rec *attribution.Recorder) *Stage {
	return &Stage{
		store:    st,
		db:       st.DB(),
		rdb:      rdb,
		emitter:  em,
		registry: reg,
		recorder: rec,
		now:      time.Now,
	}
}

// deployment is the checkpointed record of provider pushes.
type deployment struct {
	EmailProviderLeadID    string `json:"email_provider_lead_id,omitempty"`
	LinkedInProviderLeadID string `json:"linkedin_provider_lead_id,omitempty"`
}

// HandleSequenceReady deploys an approved sequence: one state row per lead,
// both provider arms pushed, then active.
func (s *Stage) HandleSequenceReady(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p sequence.ReadyPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("orchestrator: bad payload: %v", err)
	}

	seq, err := s.store.Sequences.Get(ctx, p.TenantID, p.SequenceID)
	if err == store.ErrNotFound {
		return runner.Fatalf("orchestrator: sequence %s not found", p.SequenceID)
	}
	if err != nil {
		return fmt.Errorf("orchestrator: load sequence: %w", err)
	}
	if seq.Status != domain.SequenceApproved {
		return runner.Fatalf("orchestrator: sequence %s is %s, not approved", seq.ID, seq.Status)
	}
	lead, err := s.store.Leads.Get(ctx, p.TenantID, p.LeadID)
	if err != nil {
		return fmt.Errorf("orchestrator: load lead: %w", err)
	}
	tenant, err := s.store.Tenants.Get(ctx, p.TenantID)
	if err != nil {
		return fmt.Errorf("orchestrator: load tenant: %w", err)
	}

	// At most one orchestration per lead; a rerun reuses the existing row.
	state, err := runner.Step(ctx, step, "create-state", func(ctx context.Context) (*domain.OrchestrationState, error) {
		st := &domain.OrchestrationState{
			TenantID:            p.TenantID,
			LeadID:              p.LeadID,
			SequenceID:          seq.ID,
			CampaignID:          p.CampaignID,
			Mode:                seq.Mode,
			Status:              domain.OrchPending,
			EmailStepTotal:      len(seq.EmailSteps),
			LinkedInStepTotal:   len(seq.LinkedInSteps),
			EmailStepCurrent:    0,
			LinkedInStepCurrent: 0,
		}
		err := s.store.Orchestration.Create(ctx, st)
		if err == store.ErrConflict {
			return s.store.Orchestration.GetByLead(ctx, p.TenantID, p.LeadID)
		}
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		log.Printf("[Orchestrator] lead %s: orchestration already %s, not redeploying", p.LeadID, state.Status)
		return nil
	}

	dep, err := runner.Step(ctx, step, "deploy-providers", func(ctx context.Context) (*deployment, error) {
		return s.deploy(ctx, tenant, lead, seq, state)
	})
	if err != nil {
		return err
	}

	if _, err := step.Run(ctx, "activate", func(ctx context.Context) (any, error) {
		return nil, s.activate(ctx, lead, seq, state, dep)
	}); err != nil {
		return err
	}

	// Arm the connection-wait timer for linkedin-first sequences.
	if seq.Strategy.WaitForConnection && seq.Strategy.LinkedInFirst && len(seq.LinkedInSteps) > 0 {
		_, err := step.Run(ctx, "arm-connection-wait", func(ctx context.Context) (any, error) {
			return nil, s.applyEvent(ctx, &EventPayload{
				TenantID:      p.TenantID,
				LeadID:        p.LeadID,
				Type:          EventStart,
				Channel:       domain.ChannelInternal,
				SourceEventID: "deploy:" + seq.ID + ":wait",
			}, []domain.Action{{
				Type:         domain.ActionWait,
				Reason:       waitLinkedInConnection,
				TimeoutHours: connectionTimeout(seq),
			}})
		})
		return err
	}
	return nil
}

func connectionTimeout(seq *domain.Sequence) int {
	if seq.Strategy.ConnectionTimeoutHours > 0 {
		return seq.Strategy.ConnectionTimeoutHours
	}
	return 72
}

// deploy pushes each channel arm to its provider. The email provider holds
// the send schedule; bodies travel as custom fields so later copy swaps
// only need a field update.
func (s *Stage) deploy(ctx context.Context, tenant *domain.Tenant, lead *domain.Lead, seq *domain.Sequence, state *domain.OrchestrationState) (*deployment, error) {
	dep := &deployment{}
	payload := providers.LeadPayload{
		Email:       lead.Email,
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		Company:     lead.CompanyName,
		Title:       lead.JobTitle,
		LinkedInURL: lead.LinkedIn,
	}

	if len(seq.EmailSteps) > 0 {
		sender, err := s.registry.EmailFor(tenant.ActiveEmailProvider)
		if err != nil {
			return nil, runner.Fatal(err)
		}
		p := payload
		p.CustomFields = EmailCustomFields(seq, state)
		id, err := sender.AddLeadToCampaign(ctx, seq.CampaignID, p)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: deploy email arm: %w", err)
		}
		dep.EmailProviderLeadID = id
	}

	if len(seq.LinkedInSteps) > 0 {
		auto, err := s.registry.LinkedInFor(tenant.ActiveLinkedInProvider)
		if err != nil {
			return nil, runner.Fatal(err)
		}
		p := payload
		first := &seq.LinkedInSteps[0]
		p.CustomFields = map[string]string{
			"connection_note": SelectConnectionNote(first, lead.FirstName != ""),
		}
		id, err := auto.AddLeadToCampaign(ctx, seq.CampaignID, p)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: deploy linkedin arm: %w", err)
		}
		dep.LinkedInProviderLeadID = id
	}
	return dep, nil
}

func (s *Stage) activate(ctx context.Context, lead *domain.Lead, seq *domain.Sequence, state *domain.OrchestrationState, dep *deployment) error {
	now := s.now()
	state.Status = domain.OrchActive
	state.StartedAt = &now
	state.EmailStarted = len(seq.EmailSteps) > 0
	state.LinkedInStarted = len(seq.LinkedInSteps) > 0
	state.EmailProviderLeadID = dep.EmailProviderLeadID
	state.LinkedInProviderLeadID = dep.LinkedInProviderLeadID
	if err := s.store.Orchestration.Update(ctx, state); err != nil && err != store.ErrVersionConflict {
		return err
	}

	if err := s.store.Leads.SetStatus(ctx, lead.TenantID, lead.ID, domain.LeadActive); err != nil {
		return err
	}
	if err := s.store.Campaigns.Increment(ctx, lead.TenantID, seq.CampaignID, "leads_contacted", 1); err != nil {
		return err
	}

	data, _ := json.Marshal(dep)
	_, err := s.store.Orchestration.AppendEvent(ctx, &domain.OrchestrationEvent{
		TenantID:      lead.TenantID,
		LeadID:        lead.ID,
		SequenceID:    seq.ID,
		EventType:     "deployed",
		Channel:       domain.ChannelInternal,
		SourceEventID: "deploy:" + seq.ID,
		Data:          data,
		Decision:      "activate",
	})
	if err != nil {
		return err
	}
	log.Printf("[Orchestrator] lead %s: deployed (%d email, %d linkedin steps)",
		lead.ID, len(seq.EmailSteps), len(seq.LinkedInSteps))
	return nil
}

// HandleEvent processes one orchestration.event or waiting-timeout
// delivery. Per-lead serialization comes from the distributed lock; the
// append-only uniqueness key turns redeliveries into no-ops.
func (s *Stage) HandleEvent(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p EventPayload
	if err := ev.Bind(&p); err != nil {
		return runner.Fatalf("orchestrator: bad event payload: %v", err)
	}
	if p.LeadID == "" || p.Type == "" {
		return runner.Fatalf("orchestrator: event missing lead or type")
	}
	if p.SourceEventID == "" {
		p.SourceEventID = ev.ID
	}

	lock := distlock.NewLock(s.rdb, s.db, "orch:lead:"+p.LeadID, leadLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: acquire lead lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("orchestrator: lead %s busy", p.LeadID)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Printf("[Orchestrator] release lock for lead %s: %v", p.LeadID, err)
		}
	}()

	_, err = step.Run(ctx, "apply", func(ctx context.Context) (any, error) {
		return nil, s.applyEvent(ctx, &p, nil)
	})
	return err
}

// applyEvent runs the fold under the already-held lead lock. extraActions
// lets deployment arm its initial wait through the same path.
func (s *Stage) applyEvent(ctx context.Context, p *EventPayload, extraActions []domain.Action) error {
	state, err := s.store.Orchestration.GetByLead(ctx, p.TenantID, p.LeadID)
	if err == store.ErrNotFound {
		return runner.Fatalf("orchestrator: no orchestration for lead %s", p.LeadID)
	}
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		log.Printf("[Orchestrator] lead %s: %s while %s, ignoring", p.LeadID, p.Type, state.Status)
		return nil
	}

	var triggers []domain.CrossChannelTrigger
	if p.Channel != domain.ChannelInternal {
		triggers, err = s.store.Triggers.ListApplicable(ctx, p.TenantID, p.Channel, p.Type)
		if err != nil {
			return err
		}
	}

	inbound := InboundEvent{
		Type:          p.Type,
		Channel:       p.Channel,
		StepNumber:    p.StepNumber,
		SourceEventID: p.SourceEventID,
		Sentiment:     p.Sentiment,
		InterestLevel: p.InterestLevel,
	}

	for attempt := 0; ; attempt++ {
		outcome := ProcessEvent(*state, inbound, triggers, s.now())
		for _, a := range extraActions {
			applyAction(&outcome.State, a, s.now())
			outcome.Actions = append(outcome.Actions, a)
		}

		next := outcome.State
		applied, err := s.commitFold(ctx, p, state, &next)
		if err == store.ErrVersionConflict {
			if attempt+1 >= maxVersionRetries {
				return fmt.Errorf("orchestrator: lead %s: version conflict persisted", p.LeadID)
			}
			state, err = s.store.Orchestration.GetByLead(ctx, p.TenantID, p.LeadID)
			if err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if !applied {
			log.Printf("[Orchestrator] lead %s: duplicate %s (%s), skipping", p.LeadID, p.Type, p.SourceEventID)
			return nil
		}

		return s.settle(ctx, p, state, &next, &outcome)
	}
}

// commitFold writes the idempotency record and the folded state in one
// transaction. They commit or roll back together, so a redelivery whose
// append reports a duplicate can only mean the state change is already
// durable; a transient update failure rolls the append back and leaves the
// event fully retriable.
func (s *Stage) commitFold(ctx context.Context, p *EventPayload, prev, next *domain.OrchestrationState) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("orchestrator: begin: %w", err)
	}
	defer tx.Rollback()

	applied, err := s.store.Orchestration.AppendEventTx(ctx, tx, &domain.OrchestrationEvent{
		TenantID:      p.TenantID,
		LeadID:        p.LeadID,
		SequenceID:    prev.SequenceID,
		EventType:     p.Type,
		Channel:       p.Channel,
		StepNumber:    p.StepNumber,
		SourceEventID: p.SourceEventID,
		Data:          p.Data,
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	if err := s.store.Orchestration.UpdateTx(ctx, tx, next); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("orchestrator: commit: %w", err)
	}
	return true, nil
}

// settle performs the side effects of an applied event: audit rows,
// provider calls, attribution, lead status, and wait timers.
func (s *Stage) settle(ctx context.Context, p *EventPayload, prev, next *domain.OrchestrationState, outcome *Outcome) error {
	if outcome.MatchedTrigger != "" {
		data, _ := json.Marshal(outcome.Actions)
		if _, err := s.store.Orchestration.AppendEvent(ctx, &domain.OrchestrationEvent{
			TenantID:      p.TenantID,
			LeadID:        p.LeadID,
			SequenceID:    next.SequenceID,
			EventType:     "cross_channel_trigger",
			Channel:       domain.ChannelInternal,
			StepNumber:    p.StepNumber,
			SourceEventID: p.SourceEventID,
			Data:          data,
			Decision:      outcome.MatchedTrigger,
		}); err != nil {
			return err
		}
	}

	if err := s.recordSendIfAny(ctx, p, next); err != nil {
		return err
	}

	for _, a := range outcome.Actions {
		if err := s.execute(ctx, p, next, a); err != nil {
			return err
		}
	}

	if err := s.reflectLeadStatus(ctx, p, next); err != nil {
		return err
	}

	if next.Status == domain.OrchWaiting && next.WaitingTimeoutAt != nil {
		_, err := s.emitter.Emit(ctx, runner.Emission{
			Name: runner.EvWaitingTimeout,
			Payload: EventPayload{
				TenantID:      p.TenantID,
				LeadID:        p.LeadID,
				Type:          EventWaitingTimeout,
				Channel:       domain.ChannelInternal,
				SourceEventID: fmt.Sprintf("wait:%s:%d", next.WaitingFor, next.WaitingTimeoutAt.Unix()),
			},
			RunAt: *next.WaitingTimeoutAt,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// recordSendIfAny writes the outreach record for send-type events, with the
// verbatim copy the provider used.
func (s *Stage) recordSendIfAny(ctx context.Context, p *EventPayload, state *domain.OrchestrationState) error {
	if p.Type != EventEmailSent && p.Type != EventLinkedInSent {
		return nil
	}
	seq, err := s.store.Sequences.Get(ctx, p.TenantID, state.SequenceID)
	if err != nil {
		return err
	}

	if p.Type == EventEmailSent {
		step := findEmailStep(seq, p.StepNumber)
		if step == nil {
			log.Printf("[Orchestrator] lead %s: sent email step %d not in sequence", p.LeadID, p.StepNumber)
			return nil
		}
		subject := p.Subject
		if subject == "" {
			subject = step.Subject
		}
		_, err = s.recorder.RecordSend(ctx, seq, domain.ChannelEmail, step.StepNumber,
			subject, SelectEmailBody(step, state), p.ProviderCampaignID, p.ProviderLeadID)
		return err
	}

	step := findLinkedInStep(seq, p.StepNumber)
	if step == nil {
		log.Printf("[Orchestrator] lead %s: sent linkedin step %d not in sequence", p.LeadID, p.StepNumber)
		return nil
	}
	_, err = s.recorder.RecordSend(ctx, seq, domain.ChannelLinkedIn, step.StepNumber,
		"", SelectLinkedInBody(step, state), p.ProviderCampaignID, p.ProviderLeadID)
	return err
}

func findEmailStep(seq *domain.Sequence, n int) *domain.EmailStep {
	for i := range seq.EmailSteps {
		if seq.EmailSteps[i].StepNumber == n {
			return &seq.EmailSteps[i]
		}
	}
	return nil
}

func findLinkedInStep(seq *domain.Sequence, n int) *domain.LinkedInStep {
	for i := range seq.LinkedInSteps {
		if seq.LinkedInSteps[i].StepNumber == n {
			return &seq.LinkedInSteps[i]
		}
	}
	return nil
}

// execute performs one action's external side effects. State mutations were
// already applied by the fold.
func (s *Stage) execute(ctx context.Context, p *EventPayload, state *domain.OrchestrationState, a domain.Action) error {
	switch a.Type {
	case domain.ActionCopySync:
		return s.copySync(ctx, p, state)

	case domain.ActionSendLinkedIn:
		return s.sendLinkedIn(ctx, p, state, a.Step)

	case domain.ActionSendEmail:
		// The email provider owns the schedule; a send action refreshes
		// the step's copy so the next provider send picks it up.
		return s.copySync(ctx, p, state)

	case domain.ActionPause, domain.ActionStop:
		return s.pauseProviders(ctx, p, state, a)

	case domain.ActionAlert:
		lead, err := s.store.Leads.Get(ctx, p.TenantID, p.LeadID)
		if err != nil {
			return err
		}
		if err := s.registry.Notifier().Send(ctx, "", providers.Notification{
			Title: "Orchestration alert",
			Text:  fmt.Sprintf("%s %s (%s): %s", lead.FirstName, lead.LastName, lead.CompanyName, a.Reason),
			Fields: map[string]string{
				"tenant": p.TenantID,
				"lead":   p.LeadID,
				"event":  p.Type,
			},
		}); err != nil {
			log.Printf("[Orchestrator] alert failed: %v", err)
		}
		return nil

	case domain.ActionMarkConverted:
		if err := s.store.Leads.SetStatus(ctx, p.TenantID, p.LeadID, domain.LeadConverted); err != nil {
			return err
		}
		return s.store.Campaigns.Increment(ctx, p.TenantID, state.CampaignID, "leads_converted", 1)
	}
	return nil
}

// emailProviderLeadID resolves the email arm's provider lead id: the one
// captured at deployment first, and the event's own id only when the event
// itself came over email. A LinkedIn webhook's id must never address the
// email provider.
func emailProviderLeadID(p *EventPayload, st *domain.OrchestrationState) string {
	if st.EmailProviderLeadID != "" {
		return st.EmailProviderLeadID
	}
	if p.Channel == domain.ChannelEmail {
		return p.ProviderLeadID
	}
	return ""
}

// linkedinProviderLeadID is the LinkedIn-arm counterpart.
func linkedinProviderLeadID(p *EventPayload, st *domain.OrchestrationState) string {
	if st.LinkedInProviderLeadID != "" {
		return st.LinkedInProviderLeadID
	}
	if p.Channel == domain.ChannelLinkedIn {
		return p.ProviderLeadID
	}
	return ""
}

// emailCampaignID prefers the provider's own campaign id when the event
// carried one on the email channel.
func emailCampaignID(p *EventPayload, st *domain.OrchestrationState) string {
	if p.Channel == domain.ChannelEmail && p.ProviderCampaignID != "" {
		return p.ProviderCampaignID
	}
	return st.CampaignID
}

// copySync pushes the freshly selected variants of all unsent email steps
// into the provider's custom fields. Steps already sent are never touched.
func (s *Stage) copySync(ctx context.Context, p *EventPayload, state *domain.OrchestrationState) error {
	leadID := emailProviderLeadID(p, state)
	if leadID == "" {
		log.Printf("[Orchestrator] lead %s: copy sync skipped, email arm was never deployed", p.LeadID)
		return nil
	}
	tenant, err := s.store.Tenants.Get(ctx, p.TenantID)
	if err != nil {
		return err
	}
	sender, err := s.registry.EmailFor(tenant.ActiveEmailProvider)
	if err != nil {
		return runner.Fatal(err)
	}
	seq, err := s.store.Sequences.Get(ctx, p.TenantID, state.SequenceID)
	if err != nil {
		return err
	}

	fields := EmailCustomFields(seq, state)
	if len(fields) == 0 {
		return nil
	}
	if err := sender.UpdateLeadCustomFields(ctx, emailCampaignID(p, state), leadID, fields); err != nil {
		return fmt.Errorf("orchestrator: copy sync: %w", err)
	}
	log.Printf("[Orchestrator] lead %s: synced %d email field(s) after %s", p.LeadID, len(fields), p.Type)
	return nil
}

func (s *Stage) sendLinkedIn(ctx context.Context, p *EventPayload, state *domain.OrchestrationState, stepNumber int) error {
	leadID := linkedinProviderLeadID(p, state)
	if leadID == "" {
		log.Printf("[Orchestrator] lead %s: linkedin send skipped, linkedin arm was never deployed", p.LeadID)
		return nil
	}
	tenant, err := s.store.Tenants.Get(ctx, p.TenantID)
	if err != nil {
		return err
	}
	auto, err := s.registry.LinkedInFor(tenant.ActiveLinkedInProvider)
	if err != nil {
		return runner.Fatal(err)
	}
	seq, err := s.store.Sequences.Get(ctx, p.TenantID, state.SequenceID)
	if err != nil {
		return err
	}
	step := findLinkedInStep(seq, stepNumber)
	if step == nil {
		return runner.Fatalf("orchestrator: linkedin step %d not in sequence %s", stepNumber, seq.ID)
	}

	body := SelectLinkedInBody(step, state)
	if err := auto.SendMessage(ctx, leadID, body); err != nil {
		return fmt.Errorf("orchestrator: send linkedin step %d: %w", stepNumber, err)
	}
	_, err = s.recorder.RecordSend(ctx, seq, domain.ChannelLinkedIn, stepNumber,
		"", body, p.ProviderCampaignID, leadID)
	return err
}

func (s *Stage) pauseProviders(ctx context.Context, p *EventPayload, state *domain.OrchestrationState, a domain.Action) error {
	tenant, err := s.store.Tenants.Get(ctx, p.TenantID)
	if err != nil {
		return err
	}

	pauseEmail := a.Type == domain.ActionStop || a.Channel == domain.ChannelEmail || a.Channel == ""
	pauseLinkedIn := a.Type == domain.ActionStop || a.Channel == domain.ChannelLinkedIn || a.Channel == ""

	// Both arms are addressed from the deployment record, so a reply on one
	// channel silences the other channel's provider too.
	if pauseEmail {
		if id := emailProviderLeadID(p, state); id != "" {
			if sender, err := s.registry.EmailFor(tenant.ActiveEmailProvider); err == nil {
				if err := sender.PauseLead(ctx, emailCampaignID(p, state), id); err != nil {
					log.Printf("[Orchestrator] lead %s: provider email pause failed: %v", p.LeadID, err)
				}
			}
		}
	}
	if pauseLinkedIn {
		if id := linkedinProviderLeadID(p, state); id != "" {
			if auto, err := s.registry.LinkedInFor(tenant.ActiveLinkedInProvider); err == nil {
				if err := auto.UpdateTags(ctx, id, []string{"paused"}); err != nil {
					log.Printf("[Orchestrator] lead %s: provider linkedin pause failed: %v", p.LeadID, err)
				}
			}
		}
	}
	return nil
}

// reflectLeadStatus mirrors terminal orchestration outcomes onto the lead.
func (s *Stage) reflectLeadStatus(ctx context.Context, p *EventPayload, state *domain.OrchestrationState) error {
	switch {
	case state.Status == domain.OrchStopped && (state.StopReason == "positive_reply" || state.StopReason == "negative_reply"):
		if err := s.store.Leads.SetStatus(ctx, p.TenantID, p.LeadID, domain.LeadReplied); err != nil {
			return err
		}
		if state.StopReason == "positive_reply" {
			return s.store.Campaigns.Increment(ctx, p.TenantID, state.CampaignID, "leads_replied", 1)
		}
		return nil
	case state.Status == domain.OrchCompleted:
		return s.store.Leads.SetStatus(ctx, p.TenantID, p.LeadID, domain.LeadCold)
	}
	return nil
}
