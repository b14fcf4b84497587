package orchestrator

import (
	"time"

	"github.com/brightline/outreach-engine/internal/domain"
)

// Channel event types the state machine understands. Webhook payloads are
// translated to these by the API edge.
const (
	EventStart             = "start"
	EventEmailSent         = "email_sent"
	EventEmailOpened       = "email_opened"
	EventEmailClicked      = "email_clicked"
	EventEmailReplied      = "email_replied"
	EventEmailBounced      = "email_bounced"
	EventEmailUnsubscribed = "email_unsubscribed"
	EventEmailCompleted    = "email_campaign_completed"
	EventLinkedInConnSent  = "linkedin_connection_sent"
	EventLinkedInConnected = "linkedin_connected"
	EventLinkedInSent      = "linkedin_message_sent"
	EventLinkedInReplied   = "linkedin_replied"
	EventLinkedInCompleted = "linkedin_campaign_completed"
	EventWaitingTimeout    = "waiting_timeout"
)

// waitLinkedInConnection is the wait reason cleared by a connect.
const waitLinkedInConnection = "linkedin_connection"

// InboundEvent is one signal delivered to a lead's orchestration.
type InboundEvent struct {
	Type          string         `json:"type"`
	Channel       domain.Channel `json:"channel"`
	StepNumber    int            `json:"step_number"`
	SourceEventID string         `json:"source_event_id"`
	Sentiment     string         `json:"sentiment,omitempty"`
	InterestLevel string         `json:"interest_level,omitempty"`
}

// Outcome is the result of one ProcessEvent fold: the next state plus the
// side-effect actions the executor must perform.
type Outcome struct {
	State          domain.OrchestrationState
	Actions        []domain.Action
	MatchedTrigger string
}

// ProcessEvent is the pure per-lead fold: (state, event) -> (state',
// actions). It never touches the store or providers; replaying the same
// event stream always yields the same outcome.
func ProcessEvent(st domain.OrchestrationState, ev InboundEvent, triggers []domain.CrossChannelTrigger, now time.Time) Outcome {
	derive(&st, ev, now)

	out := Outcome{}
	if ev.Channel != domain.ChannelInternal {
		if t := firstMatch(&st, triggers); t != nil {
			out.MatchedTrigger = t.Name
			out.Actions = append(out.Actions, t.TargetAction)
		}
	}
	if out.MatchedTrigger == "" {
		out.Actions = append(out.Actions, defaultActions(&st, ev)...)
	}

	for _, a := range out.Actions {
		applyAction(&st, a, now)
	}

	if st.Status == domain.OrchActive && exhausted(&st) {
		st.Status = domain.OrchCompleted
		st.StopReason = "sequence completed"
		t := now
		st.CompletedAt = &t
	}

	out.State = st
	return out
}

// derive applies the event-type table to counters and flags.
func derive(st *domain.OrchestrationState, ev InboundEvent, now time.Time) {
	switch ev.Type {
	case EventStart:
		st.Status = domain.OrchActive
		t := now
		st.StartedAt = &t

	case EventEmailSent:
		st.EmailStarted = true
		if ev.StepNumber > st.EmailStepCurrent {
			st.EmailStepCurrent = ev.StepNumber
		}
		t := now
		st.LastEmailSentAt = &t
	case EventEmailOpened:
		st.EmailOpened = true
		st.EmailOpenedCount++
	case EventEmailClicked:
		st.EmailClicked = true
	case EventEmailReplied:
		st.EmailReplied = true
		st.EmailReplySentiment = ev.Sentiment
	case EventEmailCompleted:
		st.EmailCompleted = true

	case EventLinkedInConnSent:
		st.LinkedInStarted = true
	case EventLinkedInConnected:
		st.LinkedInConnected = true
		t := now
		st.LinkedInConnectedAt = &t
		if st.WaitingFor == waitLinkedInConnection {
			clearWait(st)
		}
	case EventLinkedInSent:
		st.LinkedInStarted = true
		if ev.StepNumber > st.LinkedInStepCurrent {
			st.LinkedInStepCurrent = ev.StepNumber
		}
		t := now
		st.LastLinkedInSentAt = &t
	case EventLinkedInReplied:
		st.LinkedInReplied = true
		st.LinkedInReplySentiment = ev.Sentiment
	case EventLinkedInCompleted:
		st.LinkedInCompleted = true

	case EventWaitingTimeout:
		if st.WaitingFor != "" {
			clearWait(st)
		}
	}
}

func clearWait(st *domain.OrchestrationState) {
	st.WaitingFor = ""
	st.WaitingSince = nil
	st.WaitingTimeoutAt = nil
	if st.Status == domain.OrchWaiting {
		st.Status = domain.OrchActive
	}
}

// defaultActions is the built-in policy when no trigger matched.
func defaultActions(st *domain.OrchestrationState, ev InboundEvent) []domain.Action {
	switch ev.Type {
	case EventEmailReplied, EventLinkedInReplied:
		if ev.Sentiment == "negative" {
			return []domain.Action{{Type: domain.ActionStop, Reason: "negative_reply"}}
		}
		actions := []domain.Action{{Type: domain.ActionStop, Reason: "positive_reply"}}
		if ev.Sentiment == "positive" && ev.InterestLevel == "hot" {
			actions = append(actions, domain.Action{Type: domain.ActionMarkConverted, Reason: "hot positive reply"})
		}
		return actions
	case EventEmailBounced:
		return []domain.Action{{Type: domain.ActionPause, Channel: domain.ChannelEmail, Reason: "bounce"}}
	case EventEmailUnsubscribed:
		return []domain.Action{{Type: domain.ActionStop, Reason: "unsubscribed"}}
	}
	return nil
}

// firstMatch evaluates triggers in order; every condition must hold on the
// post-derivation state.
func firstMatch(st *domain.OrchestrationState, triggers []domain.CrossChannelTrigger) *domain.CrossChannelTrigger {
	for i := range triggers {
		t := &triggers[i]
		if !t.Enabled {
			continue
		}
		ok := true
		for _, c := range t.Conditions {
			if !conditionHolds(st, c) {
				ok = false
				break
			}
		}
		if ok {
			return t
		}
	}
	return nil
}

// conditionHolds evaluates one restricted-grammar condition. Unknown field
// names never match.
func conditionHolds(st *domain.OrchestrationState, c domain.TriggerCondition) bool {
	switch {
	case c.Sentiment != "":
		v, ok := sentimentField(st, c.Field)
		return ok && v == c.Sentiment
	case c.Flag != nil:
		v, ok := flagField(st, c.Field)
		return ok && v == *c.Flag
	case c.Min != nil || c.Max != nil:
		v, ok := countField(st, c.Field)
		if !ok {
			return false
		}
		if c.Min != nil && v < *c.Min {
			return false
		}
		if c.Max != nil && v > *c.Max {
			return false
		}
		return true
	}
	return false
}

func sentimentField(st *domain.OrchestrationState, field string) (string, bool) {
	switch field {
	case "email_reply_sentiment":
		return st.EmailReplySentiment, true
	case "linkedin_reply_sentiment":
		return st.LinkedInReplySentiment, true
	}
	return "", false
}

func flagField(st *domain.OrchestrationState, field string) (bool, bool) {
	switch field {
	case "email_opened":
		return st.EmailOpened, true
	case "email_clicked":
		return st.EmailClicked, true
	case "email_replied":
		return st.EmailReplied, true
	case "email_paused":
		return st.EmailPaused, true
	case "linkedin_connected":
		return st.LinkedInConnected, true
	case "linkedin_replied":
		return st.LinkedInReplied, true
	case "linkedin_paused":
		return st.LinkedInPaused, true
	}
	return false, false
}

func countField(st *domain.OrchestrationState, field string) (int, bool) {
	switch field {
	case "email_opened_count":
		return st.EmailOpenedCount, true
	case "email_step_current":
		return st.EmailStepCurrent, true
	case "email_step_total":
		return st.EmailStepTotal, true
	case "linkedin_step_current":
		return st.LinkedInStepCurrent, true
	case "linkedin_step_total":
		return st.LinkedInStepTotal, true
	}
	return 0, false
}

// applyAction mutates state for the state-bearing action types. Send,
// copy-sync, and alert actions are pure side effects for the executor.
func applyAction(st *domain.OrchestrationState, a domain.Action, now time.Time) {
	switch a.Type {
	case domain.ActionPause:
		switch a.Channel {
		case domain.ChannelEmail:
			st.EmailPaused = true
		case domain.ChannelLinkedIn:
			st.LinkedInPaused = true
		default:
			st.EmailPaused = true
			st.LinkedInPaused = true
			st.Status = domain.OrchPaused
		}
	case domain.ActionResume:
		switch a.Channel {
		case domain.ChannelEmail:
			st.EmailPaused = false
		case domain.ChannelLinkedIn:
			st.LinkedInPaused = false
		default:
			st.EmailPaused = false
			st.LinkedInPaused = false
		}
		if st.Status == domain.OrchPaused {
			st.Status = domain.OrchActive
		}
	case domain.ActionStop:
		st.Status = domain.OrchStopped
		st.StopReason = a.Reason
		st.EmailPaused = true
		st.LinkedInPaused = true
		t := now
		st.CompletedAt = &t
	case domain.ActionWait:
		st.Status = domain.OrchWaiting
		st.WaitingFor = a.Reason
		t := now
		st.WaitingSince = &t
		deadline := now.Add(time.Duration(a.TimeoutHours) * time.Hour)
		st.WaitingTimeoutAt = &deadline
	case domain.ActionMarkConverted:
		st.Status = domain.OrchConverted
		t := now
		st.CompletedAt = &t
	}
}

// exhausted reports whether every channel that has steps has finished them.
func exhausted(st *domain.OrchestrationState) bool {
	emailDone := st.EmailStepTotal == 0 || st.EmailCompleted || st.EmailStepCurrent >= st.EmailStepTotal
	linkedinDone := st.LinkedInStepTotal == 0 || st.LinkedInCompleted || st.LinkedInStepCurrent >= st.LinkedInStepTotal
	return emailDone && linkedinDone && (st.EmailStepTotal > 0 || st.LinkedInStepTotal > 0)
}
