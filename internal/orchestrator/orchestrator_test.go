package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/store"
)

func newMockStage(t *testing.T) (*Stage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Stage{
		store: store.New(db),
		db:    db,
		now:   func() time.Time { return testNow },
	}, mock
}

var orchStateColumns = []string{
	"id", "tenant_id", "lead_id", "sequence_id", "campaign_id", "campaign_mode", "status", "version",
	"email_step_current", "email_step_total", "email_started", "email_paused", "email_completed",
	"linkedin_step_current", "linkedin_step_total", "linkedin_started", "linkedin_paused", "linkedin_completed",
	"email_provider_lead_id", "linkedin_provider_lead_id",
	"last_email_sent_at", "next_email_scheduled_at", "last_linkedin_sent_at", "next_linkedin_scheduled_at",
	"linkedin_connected", "linkedin_connected_at", "linkedin_replied", "linkedin_reply_sentiment",
	"email_opened", "email_opened_count", "email_clicked", "email_replied", "email_reply_sentiment",
	"waiting_for", "waiting_since", "waiting_timeout_at",
	"stop_reason", "started_at", "completed_at", "created_at", "updated_at",
}

func activeStateRows() *sqlmock.Rows {
	return sqlmock.NewRows(orchStateColumns).AddRow(
		"o1", "t1", "l1", "s1", "c1", "standard", "active", 1,
		2, 5, true, false, false,
		0, 3, true, false, false,
		"ep-1", "lp-1",
		nil, nil, nil, nil,
		false, nil, false, "",
		false, 0, false, false, "",
		"", nil, nil,
		"", nil, nil, testNow, testNow,
	)
}

func emptyTriggerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "source_channel", "source_event",
		"conditions", "target_action", "priority", "enabled",
	})
}

func expectFoldRead(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM orchestration_states").WillReturnRows(activeStateRows())
	mock.ExpectQuery("FROM cross_channel_triggers").WillReturnRows(emptyTriggerRows())
}

func openedEvent() *EventPayload {
	return &EventPayload{
		TenantID:      "t1",
		LeadID:        "l1",
		Type:          EventEmailOpened,
		Channel:       domain.ChannelEmail,
		SourceEventID: "wh-123",
	}
}

// A state write that fails after the idempotency record must roll the
// record back with it, so the redelivery applies the event instead of
// treating it as a duplicate.
func TestApplyEventRetriesAfterFailedStateWrite(t *testing.T) {
	s, mock := newMockStage(t)
	ctx := context.Background()

	// First delivery: the append lands, the state write dies, everything
	// rolls back.
	expectFoldRead(mock)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orchestration_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orchestration_states SET").
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	require.Error(t, s.applyEvent(ctx, openedEvent(), nil))

	// Redelivery: the rolled-back append is gone, so the event applies in
	// full this time.
	expectFoldRead(mock)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orchestration_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orchestration_states SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.applyEvent(ctx, openedEvent(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A duplicate append can only mean the paired state write already
// committed, so skipping the delivery is safe and no update is issued.
func TestApplyEventDuplicateDeliveryIsNoop(t *testing.T) {
	s, mock := newMockStage(t)
	ctx := context.Background()

	expectFoldRead(mock)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orchestration_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.NoError(t, s.applyEvent(ctx, openedEvent(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type pauseCall struct{ campaignID, leadID string }

type fakeEmailSender struct {
	paused []pauseCall
}

func (f *fakeEmailSender) Name() string { return "fake-email" }
func (f *fakeEmailSender) AddLeadToCampaign(ctx context.Context, campaignID string, lead providers.LeadPayload) (string, error) {
	return "ep-1", nil
}
func (f *fakeEmailSender) UpdateLeadCustomFields(ctx context.Context, campaignID, providerLeadID string, fields map[string]string) error {
	return nil
}
func (f *fakeEmailSender) PauseLead(ctx context.Context, campaignID, providerLeadID string) error {
	f.paused = append(f.paused, pauseCall{campaignID, providerLeadID})
	return nil
}
func (f *fakeEmailSender) FetchReceivedReplies(ctx context.Context, since time.Time, campaignID string) ([]providers.InboundReply, error) {
	return nil, nil
}

type fakeLinkedInAutomation struct {
	tagged map[string][]string
}

func (f *fakeLinkedInAutomation) Name() string { return "fake-linkedin" }
func (f *fakeLinkedInAutomation) AddLeadToCampaign(ctx context.Context, campaignID string, lead providers.LeadPayload) (string, error) {
	return "lp-1", nil
}
func (f *fakeLinkedInAutomation) SendMessage(ctx context.Context, providerLeadID, message string) error {
	return nil
}
func (f *fakeLinkedInAutomation) UpdateTags(ctx context.Context, providerLeadID string, tags []string) error {
	if f.tagged == nil {
		f.tagged = map[string][]string{}
	}
	f.tagged[providerLeadID] = tags
	return nil
}

func tenantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "active_email_provider", "active_linkedin_provider",
		"llm_provider", "llm_model", "enabled_channels", "enabled_data_sources",
		"credentials", "icp", "preferences", "created_at", "updated_at",
	}).AddRow(
		"t1", "Acme", "smartlead", "heyreach",
		"", "", []byte("{email,linkedin}"), []byte("{pixel}"),
		nil, nil, nil, testNow, testNow,
	)
}

// An email reply must silence the LinkedIn arm too: both provider calls go
// through the ids captured at deployment, not the triggering webhook's id.
func TestStopPausesBothProviderArms(t *testing.T) {
	s, mock := newMockStage(t)
	ctx := context.Background()

	fe := &fakeEmailSender{}
	fl := &fakeLinkedInAutomation{}
	reg := providers.NewStaticRegistry()
	reg.RegisterEmail("smartlead", fe)
	reg.RegisterLinkedIn("heyreach", fl)
	s.registry = reg

	mock.ExpectQuery("FROM tenants").WillReturnRows(tenantRows())

	state := &domain.OrchestrationState{
		TenantID:               "t1",
		LeadID:                 "l1",
		CampaignID:             "c1",
		EmailProviderLeadID:    "ep-1",
		LinkedInProviderLeadID: "lp-1",
	}
	p := &EventPayload{
		TenantID:           "t1",
		LeadID:             "l1",
		Type:               EventEmailReplied,
		Channel:            domain.ChannelEmail,
		ProviderLeadID:     "ep-1",
		ProviderCampaignID: "pc-9",
	}

	require.NoError(t, s.pauseProviders(ctx, p, state, domain.Action{Type: domain.ActionStop, Reason: "positive_reply"}))

	require.Len(t, fe.paused, 1)
	assert.Equal(t, pauseCall{"pc-9", "ep-1"}, fe.paused[0])
	assert.Equal(t, []string{"paused"}, fl.tagged["lp-1"], "linkedin arm paused from state, not from the email webhook")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderLeadIDResolution(t *testing.T) {
	st := &domain.OrchestrationState{
		CampaignID:             "c1",
		EmailProviderLeadID:    "ep-1",
		LinkedInProviderLeadID: "lp-1",
	}
	emailEv := &EventPayload{Channel: domain.ChannelEmail, ProviderLeadID: "wh-email", ProviderCampaignID: "pc-9"}
	linkedinEv := &EventPayload{Channel: domain.ChannelLinkedIn, ProviderLeadID: "wh-li"}

	// Deployment ids win regardless of which channel the event came on.
	assert.Equal(t, "ep-1", emailProviderLeadID(linkedinEv, st))
	assert.Equal(t, "lp-1", linkedinProviderLeadID(emailEv, st))

	// Without a deployment id, only the event's own channel is trusted.
	bare := &domain.OrchestrationState{CampaignID: "c1"}
	assert.Equal(t, "wh-email", emailProviderLeadID(emailEv, bare))
	assert.Empty(t, emailProviderLeadID(linkedinEv, bare))
	assert.Empty(t, linkedinProviderLeadID(emailEv, bare))

	assert.Equal(t, "pc-9", emailCampaignID(emailEv, st))
	assert.Equal(t, "c1", emailCampaignID(linkedinEv, st))
}
