package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/orchestrator"
)

func TestLookupEventEmailMapping(t *testing.T) {
	m, ok := lookupEvent(domain.ChannelEmail, "replied")
	require.True(t, ok)
	assert.Equal(t, orchestrator.EventEmailReplied, m.orchEvent)
	assert.Equal(t, domain.EngagementReply, m.engagement)

	m, ok = lookupEvent(domain.ChannelEmail, "sent")
	require.True(t, ok)
	assert.Equal(t, orchestrator.EventEmailSent, m.orchEvent)
	// Sends are outreach, not engagement.
	assert.Empty(t, m.engagement)

	_, ok = lookupEvent(domain.ChannelEmail, "connected")
	assert.False(t, ok)
}

func TestLookupEventLinkedInMapping(t *testing.T) {
	m, ok := lookupEvent(domain.ChannelLinkedIn, "connected")
	require.True(t, ok)
	assert.Equal(t, orchestrator.EventLinkedInConnected, m.orchEvent)

	// InMail replies fold into the same reply event.
	m, ok = lookupEvent(domain.ChannelLinkedIn, "inmail_replied")
	require.True(t, ok)
	assert.Equal(t, orchestrator.EventLinkedInReplied, m.orchEvent)
	assert.Equal(t, domain.EngagementReply, m.engagement)

	_, ok = lookupEvent(domain.ChannelLinkedIn, "opened")
	assert.False(t, ok)
}

func TestAckOnlyEventsAreNotMapped(t *testing.T) {
	for event := range ackOnlyLinkedInEvents {
		_, ok := lookupEvent(domain.ChannelLinkedIn, event)
		assert.False(t, ok, "event %s must not reach orchestration", event)
	}
}

func TestSyntheticEventIDStableWithinMinute(t *testing.T) {
	at := time.Date(2026, 8, 25, 10, 30, 12, 0, time.UTC)
	a := syntheticEventID(domain.ChannelEmail, &webhookEvent{
		Event: "opened", ProviderLeadID: "pl1", OccurredAt: at,
	})
	b := syntheticEventID(domain.ChannelEmail, &webhookEvent{
		Event: "opened", ProviderLeadID: "pl1", OccurredAt: at.Add(40 * time.Second),
	})
	assert.Equal(t, a, b)

	c := syntheticEventID(domain.ChannelEmail, &webhookEvent{
		Event: "opened", ProviderLeadID: "pl1", OccurredAt: at.Add(2 * time.Minute),
	})
	assert.NotEqual(t, a, c)
}
