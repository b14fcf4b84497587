package research

import (
	"sort"
	"strings"

	"github.com/brightline/outreach-engine/internal/domain"
)

// Impact weights for ICP triggers.
var impactWeights = map[string]float64{
	"high":   1.0,
	"medium": 0.6,
	"low":    0.3,
}

// MatchTriggers searches each ICP trigger's keyword list in the enrichment
// text for the trigger's declared source. Matches are ranked by confidence,
// then by raw match count.
func MatchTriggers(icp *domain.ICP, sources map[string]string) []domain.TriggerMatch {
	if icp == nil {
		return nil
	}

	var matches []domain.TriggerMatch
	for _, trigger := range icp.Triggers {
		text := strings.ToLower(sources[trigger.Source])
		if text == "" {
			continue
		}

		count := 0
		var hits []string
		for _, kw := range trigger.WhatToLookFor {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if n := strings.Count(text, kw); n > 0 {
				count += n
				hits = append(hits, kw)
			}
		}
		if count == 0 {
			continue
		}

		impact := impactWeights[trigger.Impact]
		if impact == 0 {
			impact = 0.3
		}
		confidence := 0.5 + 0.1*float64(min(count, 5))
		relevance := float64(len(hits)) / float64(len(trigger.WhatToLookFor))
		recency := 1.0 // sources were fetched this run

		matches = append(matches, domain.TriggerMatch{
			Trigger:    trigger.Name,
			Source:     trigger.Source,
			Matches:    count,
			Confidence: confidence,
			Impact:     impact,
			Recency:    recency,
			Relevance:  relevance,
			Total:      0.4*confidence + 0.3*impact + 0.2*relevance + 0.1*recency,
			Evidence:   strings.Join(hits, ", "),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Matches > matches[j].Matches
	})
	return matches
}

// MatchPersona types the lead's title against the ICP personas: exact when
// a persona title appears in the job title, adjacent on word overlap.
func MatchPersona(icp *domain.ICP, jobTitle string) domain.PersonaMatch {
	title := strings.ToLower(jobTitle)
	if icp == nil || title == "" {
		return domain.PersonaMatch{Level: "none", Confidence: 0.2}
	}

	for _, persona := range icp.Personas {
		for _, t := range persona.Titles {
			if t != "" && strings.Contains(title, strings.ToLower(t)) {
				return domain.PersonaMatch{Persona: persona.Name, Level: "exact", Confidence: 0.9}
			}
		}
	}

	titleWords := significantWords(title)
	for _, persona := range icp.Personas {
		for _, t := range persona.Titles {
			for w := range significantWords(strings.ToLower(t)) {
				if titleWords[w] {
					return domain.PersonaMatch{Persona: persona.Name, Level: "adjacent", Confidence: 0.6}
				}
			}
		}
	}
	return domain.PersonaMatch{Level: "none", Confidence: 0.2}
}

var stopTitleWords = map[string]bool{
	"of": true, "and": true, "the": true, "for": true, "head": true,
	"senior": true, "sr": true, "jr": true, "lead": true,
}

func significantWords(s string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(w) > 2 && !stopTitleWords[w] {
			words[w] = true
		}
	}
	return words
}

// RelationshipType maps external-presence flags to the outreach
// relationship class.
func RelationshipType(lead *domain.Lead) string {
	switch {
	case lead.InCRM:
		return "past_customer"
	case lead.InEmailProvider || lead.InLinkedInProvider:
		return "warm"
	default:
		return "cold"
	}
}

// MessagingAngles proposes generation angles from the ranked triggers and
// the matched persona's pain points.
func MessagingAngles(icp *domain.ICP, persona domain.PersonaMatch, triggers []domain.TriggerMatch) []string {
	var angles []string
	for i, t := range triggers {
		if i == 2 {
			break
		}
		angles = append(angles, "open with their "+t.Trigger+" signal (seen in "+t.Source+")")
	}
	if icp != nil && persona.Persona != "" {
		for _, p := range icp.Personas {
			if p.Name != persona.Persona {
				continue
			}
			for i, pain := range p.PainPoints {
				if i == 2 {
					break
				}
				angles = append(angles, "speak to the "+pain+" pain point")
			}
		}
	}
	if len(angles) == 0 {
		angles = append(angles, "lead with the core value proposition")
	}
	return angles
}

// Snippet truncates text for company intel without splitting a word.
func Snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
