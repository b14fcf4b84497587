package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
)

func activeState() domain.OrchestrationState {
	return domain.OrchestrationState{
		TenantID:          "t1",
		LeadID:            "l1",
		Status:            domain.OrchActive,
		EmailStepTotal:    5,
		LinkedInStepTotal: 3,
		EmailStarted:      true,
		LinkedInStarted:   true,
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func TestProcessEventConnectedDuringEmailSequence(t *testing.T) {
	st := activeState()
	st.EmailStepCurrent = 2

	triggers := []domain.CrossChannelTrigger{{
		Name:          "connected-copy-swap",
		SourceChannel: domain.ChannelLinkedIn,
		SourceEvent:   EventLinkedInConnected,
		Conditions: []domain.TriggerCondition{
			{Field: "linkedin_connected", Flag: boolPtr(true)},
		},
		TargetAction: domain.Action{Type: domain.ActionCopySync},
		Enabled:      true,
	}}

	out := ProcessEvent(st, InboundEvent{
		Type:    EventLinkedInConnected,
		Channel: domain.ChannelLinkedIn,
	}, triggers, testNow)

	assert.True(t, out.State.LinkedInConnected)
	require.NotNil(t, out.State.LinkedInConnectedAt)
	assert.Equal(t, "connected-copy-swap", out.MatchedTrigger)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, domain.ActionCopySync, out.Actions[0].Type)
	// Email progress untouched; only copy changes from here on.
	assert.Equal(t, 2, out.State.EmailStepCurrent)
	assert.Equal(t, domain.OrchActive, out.State.Status)
}

func TestProcessEventPositiveReplyStopsBoth(t *testing.T) {
	st := activeState()

	out := ProcessEvent(st, InboundEvent{
		Type:      EventEmailReplied,
		Channel:   domain.ChannelEmail,
		Sentiment: "positive",
	}, nil, testNow)

	assert.Equal(t, domain.OrchStopped, out.State.Status)
	assert.Equal(t, "positive_reply", out.State.StopReason)
	assert.True(t, out.State.EmailPaused)
	assert.True(t, out.State.LinkedInPaused)
	assert.Equal(t, "positive", out.State.EmailReplySentiment)
	require.NotNil(t, out.State.CompletedAt)
}

func TestProcessEventHotPositiveReplyConverts(t *testing.T) {
	st := activeState()

	out := ProcessEvent(st, InboundEvent{
		Type:          EventLinkedInReplied,
		Channel:       domain.ChannelLinkedIn,
		Sentiment:     "positive",
		InterestLevel: "hot",
	}, nil, testNow)

	assert.Equal(t, domain.OrchConverted, out.State.Status)
	types := make([]domain.ActionType, 0, len(out.Actions))
	for _, a := range out.Actions {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, domain.ActionStop)
	assert.Contains(t, types, domain.ActionMarkConverted)
}

func TestProcessEventNegativeReplyStops(t *testing.T) {
	st := activeState()

	out := ProcessEvent(st, InboundEvent{
		Type:      EventEmailReplied,
		Channel:   domain.ChannelEmail,
		Sentiment: "negative",
	}, nil, testNow)

	assert.Equal(t, domain.OrchStopped, out.State.Status)
	assert.Equal(t, "negative_reply", out.State.StopReason)
}

func TestProcessEventBouncePausesEmailOnly(t *testing.T) {
	st := activeState()

	out := ProcessEvent(st, InboundEvent{
		Type:    EventEmailBounced,
		Channel: domain.ChannelEmail,
	}, nil, testNow)

	assert.True(t, out.State.EmailPaused)
	assert.False(t, out.State.LinkedInPaused)
	assert.Equal(t, domain.OrchActive, out.State.Status)
}

func TestProcessEventConnectClearsWait(t *testing.T) {
	st := activeState()
	st.Status = domain.OrchWaiting
	st.WaitingFor = waitLinkedInConnection
	since := testNow.Add(-2 * time.Hour)
	deadline := testNow.Add(70 * time.Hour)
	st.WaitingSince = &since
	st.WaitingTimeoutAt = &deadline

	out := ProcessEvent(st, InboundEvent{
		Type:    EventLinkedInConnected,
		Channel: domain.ChannelLinkedIn,
	}, nil, testNow)

	assert.Equal(t, domain.OrchActive, out.State.Status)
	assert.Empty(t, out.State.WaitingFor)
	assert.Nil(t, out.State.WaitingTimeoutAt)
	assert.True(t, out.State.LinkedInConnected)
}

func TestProcessEventWaitingTimeoutResumes(t *testing.T) {
	st := activeState()
	st.Status = domain.OrchWaiting
	st.WaitingFor = waitLinkedInConnection

	out := ProcessEvent(st, InboundEvent{
		Type:    EventWaitingTimeout,
		Channel: domain.ChannelInternal,
	}, nil, testNow)

	assert.Equal(t, domain.OrchActive, out.State.Status)
	assert.Empty(t, out.State.WaitingFor)
	// The connection never came; copy stays on the fallback variants.
	assert.False(t, out.State.LinkedInConnected)
}

func TestProcessEventWaitingTimeoutClearsAnyWaitReason(t *testing.T) {
	st := activeState()
	st.Status = domain.OrchWaiting
	st.WaitingFor = "reviewer_decision"
	since := testNow.Add(-48 * time.Hour)
	deadline := testNow.Add(-time.Minute)
	st.WaitingSince = &since
	st.WaitingTimeoutAt = &deadline

	out := ProcessEvent(st, InboundEvent{
		Type:    EventWaitingTimeout,
		Channel: domain.ChannelInternal,
	}, nil, testNow)

	assert.Equal(t, domain.OrchActive, out.State.Status)
	assert.Empty(t, out.State.WaitingFor)
	assert.Nil(t, out.State.WaitingSince)
	assert.Nil(t, out.State.WaitingTimeoutAt)
}

func TestProcessEventInternalSkipsTriggers(t *testing.T) {
	st := activeState()
	st.Status = domain.OrchWaiting
	st.WaitingFor = waitLinkedInConnection

	// A trigger with no conditions matches everything; internal events
	// must never reach it.
	triggers := []domain.CrossChannelTrigger{{
		Name:         "catch-all",
		Enabled:      true,
		TargetAction: domain.Action{Type: domain.ActionStop, Reason: "bad"},
	}}

	out := ProcessEvent(st, InboundEvent{
		Type:    EventWaitingTimeout,
		Channel: domain.ChannelInternal,
	}, triggers, testNow)

	assert.Empty(t, out.MatchedTrigger)
	assert.Equal(t, domain.OrchActive, out.State.Status)
}

func TestProcessEventExhaustionCompletes(t *testing.T) {
	st := activeState()
	st.EmailStepCurrent = 4
	st.LinkedInCompleted = true

	out := ProcessEvent(st, InboundEvent{
		Type:       EventEmailSent,
		Channel:    domain.ChannelEmail,
		StepNumber: 5,
	}, nil, testNow)

	assert.Equal(t, 5, out.State.EmailStepCurrent)
	assert.Equal(t, domain.OrchCompleted, out.State.Status)
	assert.Equal(t, "sequence completed", out.State.StopReason)
	require.NotNil(t, out.State.CompletedAt)
}

func TestProcessEventNoStepsNeverCompletes(t *testing.T) {
	st := domain.OrchestrationState{Status: domain.OrchActive}

	out := ProcessEvent(st, InboundEvent{
		Type:    EventEmailOpened,
		Channel: domain.ChannelEmail,
	}, nil, testNow)

	assert.Equal(t, domain.OrchActive, out.State.Status)
}

func TestProcessEventStepNumbersAreMonotonic(t *testing.T) {
	st := activeState()
	st.EmailStepCurrent = 3

	// A late-delivered step-2 confirmation must not move the cursor back.
	out := ProcessEvent(st, InboundEvent{
		Type:       EventEmailSent,
		Channel:    domain.ChannelEmail,
		StepNumber: 2,
	}, nil, testNow)

	assert.Equal(t, 3, out.State.EmailStepCurrent)
}

func TestProcessEventDeterministic(t *testing.T) {
	st := activeState()
	ev := InboundEvent{Type: EventEmailOpened, Channel: domain.ChannelEmail}

	a := ProcessEvent(st, ev, nil, testNow)
	b := ProcessEvent(st, ev, nil, testNow)
	assert.Equal(t, a, b)
}

func TestConditionHoldsGrammar(t *testing.T) {
	st := activeState()
	st.EmailOpenedCount = 3
	st.EmailReplySentiment = "positive"
	st.LinkedInConnected = true

	cases := []struct {
		name string
		cond domain.TriggerCondition
		want bool
	}{
		{"flag true", domain.TriggerCondition{Field: "linkedin_connected", Flag: boolPtr(true)}, true},
		{"flag false mismatch", domain.TriggerCondition{Field: "linkedin_connected", Flag: boolPtr(false)}, false},
		{"sentiment match", domain.TriggerCondition{Field: "email_reply_sentiment", Sentiment: "positive"}, true},
		{"sentiment mismatch", domain.TriggerCondition{Field: "email_reply_sentiment", Sentiment: "negative"}, false},
		{"min holds", domain.TriggerCondition{Field: "email_opened_count", Min: intPtr(2)}, true},
		{"min fails", domain.TriggerCondition{Field: "email_opened_count", Min: intPtr(4)}, false},
		{"min and max hold", domain.TriggerCondition{Field: "email_opened_count", Min: intPtr(1), Max: intPtr(3)}, true},
		{"max fails", domain.TriggerCondition{Field: "email_opened_count", Max: intPtr(2)}, false},
		{"unknown field never matches", domain.TriggerCondition{Field: "made_up", Flag: boolPtr(true)}, false},
		{"unknown sentiment field", domain.TriggerCondition{Field: "made_up", Sentiment: "positive"}, false},
		{"no operator never matches", domain.TriggerCondition{Field: "email_opened"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, conditionHolds(&st, tc.cond))
		})
	}
}

func TestFirstMatchOrderAndEnabled(t *testing.T) {
	st := activeState()
	st.LinkedInConnected = true

	triggers := []domain.CrossChannelTrigger{
		{
			Name:         "disabled-first",
			Enabled:      false,
			TargetAction: domain.Action{Type: domain.ActionStop},
		},
		{
			Name:    "needs-reply",
			Enabled: true,
			Conditions: []domain.TriggerCondition{
				{Field: "email_replied", Flag: boolPtr(true)},
			},
			TargetAction: domain.Action{Type: domain.ActionAlert},
		},
		{
			Name:    "connected",
			Enabled: true,
			Conditions: []domain.TriggerCondition{
				{Field: "linkedin_connected", Flag: boolPtr(true)},
			},
			TargetAction: domain.Action{Type: domain.ActionCopySync},
		},
	}

	m := firstMatch(&st, triggers)
	require.NotNil(t, m)
	assert.Equal(t, "connected", m.Name)
}

func TestSelectEmailBodyPriority(t *testing.T) {
	step := &domain.EmailStep{
		Body:                  "base",
		BodyLinkedInConnected: "connected",
		BodyLinkedInReplied:   "replied",
	}

	st := &domain.OrchestrationState{}
	assert.Equal(t, "base", SelectEmailBody(step, st))

	st.LinkedInConnected = true
	assert.Equal(t, "connected", SelectEmailBody(step, st))

	st.LinkedInReplied = true
	assert.Equal(t, "replied", SelectEmailBody(step, st))

	// Missing variant falls through.
	step.BodyLinkedInReplied = ""
	assert.Equal(t, "connected", SelectEmailBody(step, st))
}

func TestSelectLinkedInBodyPriority(t *testing.T) {
	step := &domain.LinkedInStep{
		Body:             "base",
		BodyFallback:     "fallback",
		BodyEmailOpened:  "opened",
		BodyEmailReplied: "replied",
	}

	st := &domain.OrchestrationState{}
	assert.Equal(t, "base", SelectLinkedInBody(step, st))

	st.EmailOpened = true
	assert.Equal(t, "opened", SelectLinkedInBody(step, st))

	st.EmailReplied = true
	assert.Equal(t, "replied", SelectLinkedInBody(step, st))

	st = &domain.OrchestrationState{}
	step.Body = ""
	step.BodyEmailOpened = ""
	step.BodyEmailReplied = ""
	assert.Equal(t, "fallback", SelectLinkedInBody(step, st))
}

func TestEmailCustomFieldsSkipsSentSteps(t *testing.T) {
	seq := &domain.Sequence{
		EmailSteps: []domain.EmailStep{
			{StepNumber: 1, Subject: "s1", Body: "b1"},
			{StepNumber: 2, Subject: "s2", Body: "b2", BodyLinkedInConnected: "b2-connected"},
			{StepNumber: 3, Subject: "s3", Body: "b3"},
		},
	}
	st := &domain.OrchestrationState{EmailStepCurrent: 1, LinkedInConnected: true}

	fields := EmailCustomFields(seq, st)
	assert.NotContains(t, fields, "email_1_body")
	assert.Equal(t, "b2-connected", fields["email_2_body"])
	assert.Equal(t, "s3", fields["email_3_subject"])
	assert.Equal(t, "b3", fields["email_3_body"])
	assert.Len(t, fields, 4)
}
