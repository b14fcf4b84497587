package sequence

import (
	"strings"

	"github.com/brightline/outreach-engine/internal/domain"
)

// Default send-day calendars per campaign mode. The model may override a
// step's day; anything it leaves at zero falls back to these.
var (
	emailOnlyDays     = []int{1, 3, 5, 7, 12, 15, 21}
	multiEmailDays    = []int{1, 3, 5, 12, 15, 18, 21}
	linkedinOnlyDays  = []int{1, 3, 7, 14}
	multiLinkedInDays = []int{1, 3, 7, 15}
)

func defaultEmailDays(mode domain.CampaignMode) []int {
	if mode == domain.ModeMultiChannel {
		return multiEmailDays
	}
	return emailOnlyDays
}

func defaultLinkedInDays(mode domain.CampaignMode) []int {
	if mode == domain.ModeMultiChannel {
		return multiLinkedInDays
	}
	return linkedinOnlyDays
}

// dayAt extends a calendar past its end at three-day intervals.
func dayAt(days []int, i int) int {
	if i < len(days) {
		return days[i]
	}
	return days[len(days)-1] + 3*(i-len(days)+1)
}

// applyTimeline normalizes a generated sequence in place: sequential step
// numbers, default days, first-LinkedIn-step typing, and word counts.
func applyTimeline(seq *domain.Sequence) {
	eDays := defaultEmailDays(seq.Mode)
	for i := range seq.EmailSteps {
		st := &seq.EmailSteps[i]
		st.StepNumber = i + 1
		if st.Day <= 0 {
			st.Day = dayAt(eDays, i)
		}
		if st.Type == "" {
			if i == 0 {
				st.Type = domain.EmailInitial
			} else {
				st.Type = domain.EmailValueAdd
			}
		}
		st.WordCount = len(strings.Fields(st.Body))
	}

	lDays := defaultLinkedInDays(seq.Mode)
	for i := range seq.LinkedInSteps {
		st := &seq.LinkedInSteps[i]
		st.StepNumber = i + 1
		if st.Day <= 0 {
			st.Day = dayAt(lDays, i)
		}
		if st.Type == "" {
			if i == 0 {
				st.Type = domain.LinkedInConnectionRequest
			} else {
				st.Type = domain.LinkedInMessage
			}
		}
		if st.Type == domain.LinkedInMessage && i > 0 {
			st.RequiresConnection = true
		}
	}
}
