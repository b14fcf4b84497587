package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/learning"
	"github.com/brightline/outreach-engine/internal/pkg/httputil"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

// handleManualIngest enqueues one on-demand data pull for a campaign.
func (s *Server) handleManualIngest(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	campaignID := chi.URLParam(r, "campaignID")

	campaign, err := s.store.Campaigns.Get(r.Context(), tenantID, campaignID)
	if err == store.ErrNotFound {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	ids, err := s.emitter.Emit(r.Context(), runner.Emission{
		Name:    runner.EvCampaignManualIngest,
		Payload: ingest.CampaignPayload{TenantID: campaign.TenantID, CampaignID: campaign.ID},
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]any{"status": "queued", "event_ids": ids})
}

// handleLearningAnalyze enqueues one on-demand learning run for a tenant.
func (s *Server) handleLearningAnalyze(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if _, err := s.store.Tenants.Get(r.Context(), tenantID); err == store.ErrNotFound {
		httputil.NotFound(w, "tenant not found")
		return
	} else if err != nil {
		httputil.InternalError(w, err)
		return
	}

	ids, err := s.emitter.Emit(r.Context(), runner.Emission{
		Name:    runner.EvLearningAnalyze,
		Payload: learning.AnalyzePayload{TenantID: tenantID},
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]any{"status": "queued", "event_ids": ids})
}

// handleLeadTimeline returns a lead plus its orchestration audit trail, the
// operator's main debugging view.
func (s *Server) handleLeadTimeline(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	leadID := chi.URLParam(r, "leadID")

	lead, err := s.store.Leads.Get(r.Context(), tenantID, leadID)
	if err == store.ErrNotFound {
		httputil.NotFound(w, "lead not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	state, err := s.store.Orchestration.GetByLead(r.Context(), tenantID, leadID)
	if err != nil && err != store.ErrNotFound {
		httputil.InternalError(w, err)
		return
	}

	events, err := s.store.Orchestration.ListEvents(r.Context(), tenantID, leadID, 200)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"lead":          lead,
		"orchestration": state,
		"events":        events,
	})
}
