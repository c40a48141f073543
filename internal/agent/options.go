package agent

import (
	"github.com/webauto/agent/internal/observability"
)

// SearchProvider is the closed set of web-search backends an Agent may use
// to resolve a starting point when the plan leaves one unspecified.
type SearchProvider string

const (
	SearchProviderNone       SearchProvider = "none"
	SearchProviderParallel   SearchProvider = "parallel-api"
	SearchProviderSearXNG    SearchProvider = "searxng"
	SearchProviderDuckDuckGo SearchProvider = "duckduckgo"
)

// AgentOptions configures one Agent instance (spec.md 6).
type AgentOptions struct {
	// Provider is the required LLM-provider handle used for planning,
	// action iterations, and validation.
	Provider LLMProvider

	Debug bool
	Vision bool

	MaxIterations            int
	MaxConsecutiveErrors     int
	MaxTotalErrors           int
	MaxValidationAttempts    int
	MaxRepeatedActions       int
	InitialNavigationRetries int

	Guardrails string

	EventBus *EventBus
	Logger   *observability.Logger

	SearchProvider SearchProvider
	SearchAPIKey   string
}

// DefaultAgentOptions returns the spec's default bounds, to be overridden by
// the caller as needed.
func DefaultAgentOptions() AgentOptions {
	return AgentOptions{
		MaxIterations:            25,
		MaxConsecutiveErrors:     5,
		MaxTotalErrors:           10,
		MaxValidationAttempts:    2,
		MaxRepeatedActions:       2,
		InitialNavigationRetries: 2,
		SearchProvider:           SearchProviderNone,
	}
}

// normalize fills in zero-valued bounds with defaults and ensures a non-nil
// EventBus/Logger so the rest of the package can assume both are present.
func (o AgentOptions) normalize() AgentOptions {
	d := DefaultAgentOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if o.MaxTotalErrors <= 0 {
		o.MaxTotalErrors = d.MaxTotalErrors
	}
	if o.MaxValidationAttempts <= 0 {
		o.MaxValidationAttempts = d.MaxValidationAttempts
	}
	if o.MaxRepeatedActions <= 0 {
		o.MaxRepeatedActions = d.MaxRepeatedActions
	}
	if o.InitialNavigationRetries <= 0 {
		o.InitialNavigationRetries = d.InitialNavigationRetries
	}
	if o.SearchProvider == "" {
		o.SearchProvider = SearchProviderNone
	}
	if o.EventBus == nil {
		o.EventBus = NewEventBus()
	}
	if o.Logger == nil {
		o.Logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	}
	return o
}
