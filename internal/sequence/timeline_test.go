package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brightline/outreach-engine/internal/domain"
)

func TestApplyTimelineEmailOnlyDefaults(t *testing.T) {
	seq := &domain.Sequence{
		Mode: domain.ModeEmailOnly,
		EmailSteps: []domain.EmailStep{
			{Subject: "a", Body: "hello there friend"},
			{Subject: "b", Body: "quick bump"},
			{Subject: "c", Body: "one more"},
		},
	}
	applyTimeline(seq)

	assert.Equal(t, []int{1, 2, 3}, []int{seq.EmailSteps[0].StepNumber, seq.EmailSteps[1].StepNumber, seq.EmailSteps[2].StepNumber})
	assert.Equal(t, []int{1, 3, 5}, []int{seq.EmailSteps[0].Day, seq.EmailSteps[1].Day, seq.EmailSteps[2].Day})
	assert.Equal(t, domain.EmailInitial, seq.EmailSteps[0].Type)
	assert.Equal(t, domain.EmailValueAdd, seq.EmailSteps[1].Type)
	assert.Equal(t, 3, seq.EmailSteps[0].WordCount)
}

func TestApplyTimelineKeepsModelDays(t *testing.T) {
	seq := &domain.Sequence{
		Mode: domain.ModeEmailOnly,
		EmailSteps: []domain.EmailStep{
			{Day: 2, Type: domain.EmailBump, Body: "x"},
		},
	}
	applyTimeline(seq)
	assert.Equal(t, 2, seq.EmailSteps[0].Day)
	assert.Equal(t, domain.EmailBump, seq.EmailSteps[0].Type)
}

func TestApplyTimelineLinkedInDefaults(t *testing.T) {
	seq := &domain.Sequence{
		Mode: domain.ModeLinkedInOnly,
		LinkedInSteps: []domain.LinkedInStep{
			{ConnectionNote: "hi"},
			{Body: "msg one"},
			{Body: "msg two"},
		},
	}
	applyTimeline(seq)

	assert.Equal(t, domain.LinkedInConnectionRequest, seq.LinkedInSteps[0].Type)
	assert.False(t, seq.LinkedInSteps[0].RequiresConnection)
	assert.Equal(t, domain.LinkedInMessage, seq.LinkedInSteps[1].Type)
	assert.True(t, seq.LinkedInSteps[1].RequiresConnection, "messages after the connect gate on it")
	assert.Equal(t, []int{1, 3, 7}, []int{seq.LinkedInSteps[0].Day, seq.LinkedInSteps[1].Day, seq.LinkedInSteps[2].Day})
}

func TestApplyTimelineMultiChannelCalendar(t *testing.T) {
	seq := &domain.Sequence{
		Mode:          domain.ModeMultiChannel,
		EmailSteps:    make([]domain.EmailStep, 7),
		LinkedInSteps: make([]domain.LinkedInStep, 4),
	}
	applyTimeline(seq)

	gotEmail := make([]int, len(seq.EmailSteps))
	for i, st := range seq.EmailSteps {
		gotEmail[i] = st.Day
	}
	assert.Equal(t, []int{1, 3, 5, 12, 15, 18, 21}, gotEmail)

	gotLI := make([]int, len(seq.LinkedInSteps))
	for i, st := range seq.LinkedInSteps {
		gotLI[i] = st.Day
	}
	assert.Equal(t, []int{1, 3, 7, 15}, gotLI)
}

func TestApplyTimelineExtendsPastCalendar(t *testing.T) {
	seq := &domain.Sequence{
		Mode:       domain.ModeEmailOnly,
		EmailSteps: make([]domain.EmailStep, 9),
	}
	applyTimeline(seq)
	assert.Equal(t, 24, seq.EmailSteps[7].Day, "three-day interval past the calendar")
	assert.Equal(t, 27, seq.EmailSteps[8].Day)
}

func TestRouteReview(t *testing.T) {
	assert.Equal(t, actionApprove, routeReview(domain.ReviewApprove, 1))
	assert.Equal(t, actionRevise, routeReview(domain.ReviewRevise, 1))
	assert.Equal(t, actionRevise, routeReview(domain.ReviewRevise, 2))
	assert.Equal(t, actionEscalate, routeReview(domain.ReviewRevise, 3), "limit reached")
	assert.Equal(t, actionEscalate, routeReview(domain.ReviewHumanReview, 1))
	assert.Equal(t, actionEscalate, routeReview(domain.ReviewDecision("garbage"), 1))
}
