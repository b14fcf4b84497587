// Package notify delivers the daily operator digest.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/store"
)

// DigestPayload targets one tenant, or every tenant when empty.
type DigestPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
}

// Stage builds and sends digests.
type Stage struct {
	store    *store.Store
	registry *providers.Registry
	now      func() time.Time
}

// New creates the stage.
func New(st *store.Store, reg *providers.Registry) *Stage {
	return &Stage{store: st, registry: reg, now: time.Now}
}

// digestOrder fixes the line order in the summary.
var digestOrder = []domain.LeadStatus{
	domain.LeadIngested,
	domain.LeadResearched,
	domain.LeadSequenceReady,
	domain.LeadActive,
	domain.LeadReplied,
	domain.LeadConverted,
	domain.LeadHumanReview,
	domain.LeadDisqualified,
	domain.LeadCold,
}

// HandleDailyDigest summarizes the last 24 hours of lead movement per
// tenant. Each tenant is its own checkpointed step so one bad tenant never
// re-sends another's digest on retry.
func (s *Stage) HandleDailyDigest(ctx context.Context, ev *runner.Event, step *runner.StepContext) error {
	var p DigestPayload
	if len(ev.Payload) > 0 {
		if err := ev.Bind(&p); err != nil {
			return runner.Fatalf("notify: bad digest payload: %v", err)
		}
	}

	tenantIDs := []string{p.TenantID}
	if p.TenantID == "" {
		var err error
		tenantIDs, err = s.store.Tenants.ListIDs(ctx)
		if err != nil {
			return err
		}
	}

	since := s.now().Add(-24 * time.Hour)
	for _, id := range tenantIDs {
		tenantID := id
		if _, err := step.Run(ctx, "digest:"+tenantID, func(ctx context.Context) (any, error) {
			return nil, s.sendDigest(ctx, tenantID, since)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) sendDigest(ctx context.Context, tenantID string, since time.Time) error {
	counts, err := s.store.Leads.CountByStatusSince(ctx, tenantID, since)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		log.Printf("[Notify] tenant %s: no lead activity, skipping digest", tenantID)
		return nil
	}

	fields := make(map[string]string, len(counts))
	total := 0
	for _, status := range digestOrder {
		if n, ok := counts[status]; ok {
			fields[string(status)] = fmt.Sprintf("%d", n)
			total += n
		}
	}

	return s.registry.Notifier().Send(ctx, "", providers.Notification{
		Title:  "Daily outreach digest",
		Text:   fmt.Sprintf("%d leads moved in the last 24h for tenant %s", total, tenantID),
		Fields: fields,
	})
}

// Summary renders the digest as one line for logs and tests.
func Summary(counts map[domain.LeadStatus]int) string {
	parts := make([]string, 0, len(counts))
	for _, status := range digestOrder {
		if n, ok := counts[status]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", status, n))
		}
	}
	return strings.Join(parts, " ")
}
