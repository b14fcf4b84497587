package providers

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/brightline/outreach-engine/internal/config"
)

// Registry holds the registered adapters, keyed by name. Tenants name
// their adapters (active_email_provider, active_linkedin_provider,
// llm_provider); the pipeline resolves through here, never by
// compile-time branching on vendor.
type Registry struct {
	email    map[string]EmailSender
	linkedin map[string]LinkedInAutomation
	llms     map[string]LLM
	search   ProspectSearch
	fetcher  EnrichmentFetcher
	notifier Notifier

	defaultLLM string
}

// NewRegistry wires every adapter the config names. A nil Redis client
// disables LLM rate limiting.
func NewRegistry(ctx context.Context, cfg config.ProvidersConfig, rdb *redis.Client) (*Registry, error) {
	r := &Registry{
		email:    make(map[string]EmailSender),
		linkedin: make(map[string]LinkedInAutomation),
		llms:     make(map[string]LLM),
		search:   NewApolloClient(cfg.Apollo),
		fetcher:  NewPageFetcher(),
		notifier: NewSlackNotifier(cfg.Notifier),
	}

	for name, pc := range cfg.Email {
		r.email[name] = NewHTTPEmailSender(name, pc)
	}
	for name, pc := range cfg.LinkedIn {
		r.linkedin[name] = NewHTTPLinkedInAutomation(name, pc)
	}

	limiter := NewRateLimiter(rdb, cfg.LLM.RatePerMinute)

	openai := NewOpenAIClient(cfg.LLM, limiter)
	r.llms[openai.Name()] = openai
	r.defaultLLM = openai.Name()

	if cfg.LLM.BedrockModel != "" {
		bedrock, err := NewBedrockClient(ctx, cfg.LLM, limiter)
		if err != nil {
			log.Printf("[Providers] Bedrock unavailable, continuing without it: %v", err)
		} else {
			r.llms[bedrock.Name()] = bedrock
		}
	}
	if !openai.Validate(ctx) {
		if _, ok := r.llms["bedrock"]; ok {
			r.defaultLLM = "bedrock"
		}
	}

	log.Printf("[Providers] Registered: %d email, %d linkedin, %d llm adapters (default llm=%s)",
		len(r.email), len(r.linkedin), len(r.llms), r.defaultLLM)
	return r, nil
}

// NewStaticRegistry builds an empty registry with no network validation.
// Callers register adapters explicitly; tests plug fakes in this way.
func NewStaticRegistry() *Registry {
	return &Registry{
		email:    make(map[string]EmailSender),
		linkedin: make(map[string]LinkedInAutomation),
		llms:     make(map[string]LLM),
	}
}

// EmailFor resolves an email adapter by name.
func (r *Registry) EmailFor(name string) (EmailSender, error) {
	s, ok := r.email[name]
	if !ok {
		return nil, fmt.Errorf("no email provider registered as %q", name)
	}
	return s, nil
}

// LinkedInFor resolves a LinkedIn adapter by name.
func (r *Registry) LinkedInFor(name string) (LinkedInAutomation, error) {
	s, ok := r.linkedin[name]
	if !ok {
		return nil, fmt.Errorf("no linkedin provider registered as %q", name)
	}
	return s, nil
}

// LLMFor resolves a model adapter by name, falling back to the default
// when the tenant names none.
func (r *Registry) LLMFor(name string) (LLM, error) {
	if name == "" {
		name = r.defaultLLM
	}
	m, ok := r.llms[name]
	if !ok {
		return nil, fmt.Errorf("no llm provider registered as %q", name)
	}
	return m, nil
}

// Search returns the prospect-search adapter.
func (r *Registry) Search() ProspectSearch { return r.search }

// Fetcher returns the page-fetch adapter.
func (r *Registry) Fetcher() EnrichmentFetcher { return r.fetcher }

// Notifier returns the human-alert adapter.
func (r *Registry) Notifier() Notifier { return r.notifier }

// RegisterEmail overrides or adds an email adapter. Tests use this to plug
// fakes in.
func (r *Registry) RegisterEmail(name string, s EmailSender) { r.email[name] = s }

// RegisterLinkedIn overrides or adds a LinkedIn adapter.
func (r *Registry) RegisterLinkedIn(name string, s LinkedInAutomation) { r.linkedin[name] = s }

// RegisterLLM overrides or adds a model adapter.
func (r *Registry) RegisterLLM(name string, m LLM) { r.llms[name] = m }

// SetSearch overrides the prospect-search adapter.
func (r *Registry) SetSearch(s ProspectSearch) { r.search = s }

// SetFetcher overrides the page-fetch adapter.
func (r *Registry) SetFetcher(f EnrichmentFetcher) { r.fetcher = f }

// SetNotifier overrides the notifier.
func (r *Registry) SetNotifier(n Notifier) { r.notifier = n }
