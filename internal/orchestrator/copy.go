package orchestrator

import (
	"fmt"

	"github.com/brightline/outreach-engine/internal/domain"
)

// SelectEmailBody picks the send-time variant for an email step: the
// linkedin-replied copy wins over the linkedin-connected copy, which wins
// over the base body.
func SelectEmailBody(step *domain.EmailStep, st *domain.OrchestrationState) string {
	if st.LinkedInReplied && step.BodyLinkedInReplied != "" {
		return step.BodyLinkedInReplied
	}
	if st.LinkedInConnected && step.BodyLinkedInConnected != "" {
		return step.BodyLinkedInConnected
	}
	return step.Body
}

// SelectLinkedInBody is the symmetric selection for LinkedIn messages,
// falling back to the unpersonalized variant when nothing else fits.
func SelectLinkedInBody(step *domain.LinkedInStep, st *domain.OrchestrationState) string {
	if st.EmailReplied && step.BodyEmailReplied != "" {
		return step.BodyEmailReplied
	}
	if st.EmailOpened && step.BodyEmailOpened != "" {
		return step.BodyEmailOpened
	}
	if step.Body != "" {
		return step.Body
	}
	return step.BodyFallback
}

// SelectConnectionNote returns the connection-request note, preferring the
// personalized variant when personalization data exists.
func SelectConnectionNote(step *domain.LinkedInStep, personalized bool) string {
	if personalized && step.ConnectionNote != "" {
		return step.ConnectionNote
	}
	if step.ConnectionNoteFallback != "" {
		return step.ConnectionNoteFallback
	}
	return step.ConnectionNote
}

// EmailCustomFields renders the selected variants of every email step the
// provider has not sent yet, keyed the way the provider's merge templates
// expect. Pushed at deploy and re-pushed on conditional-copy sync.
func EmailCustomFields(seq *domain.Sequence, st *domain.OrchestrationState) map[string]string {
	fields := make(map[string]string)
	for i := range seq.EmailSteps {
		step := &seq.EmailSteps[i]
		if step.StepNumber <= st.EmailStepCurrent {
			continue // already sent; never rewrite history
		}
		fields[fmt.Sprintf("email_%d_subject", step.StepNumber)] = step.Subject
		fields[fmt.Sprintf("email_%d_body", step.StepNumber)] = SelectEmailBody(step, st)
	}
	return fields
}
