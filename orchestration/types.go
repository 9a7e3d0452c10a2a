// Package orchestration implements the tiered API orchestrator: the
// engine that fans out to upstream shopping and travel APIs in ordered
// tiers, evaluates intent-specific sufficiency, and escalates tier by
// tier behind a two-layer consent protocol.
package orchestration

import (
	"context"
	"time"
)

// Intent classifies a user query and selects routing + thresholds
type Intent string

const (
	IntentProduct        Intent = "product"
	IntentComparison     Intent = "comparison"
	IntentPriceCheck     Intent = "price_check"
	IntentReviewDeepDive Intent = "review_deep_dive"
	IntentTravel         Intent = "travel"
)

// Intents lists every known intent in declaration order
func Intents() []Intent {
	return []Intent{IntentProduct, IntentComparison, IntentPriceCheck, IntentReviewDeepDive, IntentTravel}
}

// ParseIntent validates an intent tag
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentProduct, IntentComparison, IntentPriceCheck, IntentReviewDeepDive, IntentTravel:
		return Intent(s), true
	}
	return "", false
}

// MinTier and MaxTier bound the escalation ladder
const (
	MinTier = 1
	MaxTier = 4
)

// APIDescriptor is the static catalog entry for one logical API
type APIDescriptor struct {
	// Name is the unique logical identifier, e.g. "amazon_affiliate"
	Name string `yaml:"name" json:"name"`

	// AdapterKey selects the concrete provider adapter
	AdapterKey string `yaml:"adapter_key" json:"adapter_key"`

	// ProviderTag parameterizes the adapter (amazon vs walmart through
	// one shopping adapter)
	ProviderTag string `yaml:"provider_tag" json:"provider_tag"`

	// CostUnits is the per-call cost in hundredths of a currency unit;
	// 0 for affiliate APIs
	CostUnits int `yaml:"cost_units" json:"cost_units"`

	// Timeout is the per-call deadline (default 5s when zero)
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RequiresConsent marks APIs behind the consent gate
	RequiresConsent bool `yaml:"requires_consent" json:"requires_consent"`

	// FeatureFlag, when non-empty, makes the descriptor inert unless
	// the named flag is enabled
	FeatureFlag string `yaml:"feature_flag,omitempty" json:"feature_flag,omitempty"`
}

// ItemKind tags a normalized result item
type ItemKind string

const (
	KindProduct ItemKind = "product"
	KindHotel   ItemKind = "hotel"
	KindFlight  ItemKind = "flight"
)

// Item is a normalized result from any provider. Model and SKU are
// optional; when present they sharpen the dedup key. For hotels and
// flights a provider locator rides in the SKU field.
type Item struct {
	Kind       ItemKind `json:"kind"`
	Name       string   `json:"name"`
	Model      string   `json:"model,omitempty"`
	SKU        string   `json:"sku,omitempty"`
	PriceCents int64    `json:"price_cents,omitempty"`
	Currency   string   `json:"currency,omitempty"`
	URL        string   `json:"url,omitempty"`

	// Source is the logical API name that produced the item,
	// filled in by the fetcher
	Source string `json:"source,omitempty"`
}

// Snippet is a normalized text fragment (review excerpt, travel note)
type Snippet struct {
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source,omitempty"`
}

// Payload is the normalized result bag one adapter call produces.
// It is a product type with optional fields: each adapter fills the
// slices it knows about and leaves the rest nil.
type Payload struct {
	Products []Item    `json:"products,omitempty"`
	Hotels   []Item    `json:"hotels,omitempty"`
	Flights  []Item    `json:"flights,omitempty"`
	Snippets []Snippet `json:"snippets,omitempty"`
}

// Items flattens the payload's typed slices in declaration order
func (p *Payload) Items() []Item {
	if p == nil {
		return nil
	}
	out := make([]Item, 0, len(p.Products)+len(p.Hotels)+len(p.Flights))
	out = append(out, p.Products...)
	out = append(out, p.Hotels...)
	out = append(out, p.Flights...)
	return out
}

// CallStatus is the outcome class of one API call
type CallStatus string

const (
	CallSuccess     CallStatus = "success"
	CallTimeout     CallStatus = "timeout"
	CallError       CallStatus = "error"
	CallCircuitOpen CallStatus = "circuit_open"
)

// CallEnvelope is the structured result of one API call
type CallEnvelope struct {
	APIName      string        `json:"api_name"`
	Status       CallStatus    `json:"status"`
	Payload      *Payload      `json:"payload,omitempty"`
	Latency      time.Duration `json:"latency"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// ConsentState carries the two orthogonal consent dimensions for a request
type ConsentState struct {
	// AccountToggleOn is the persistent user-profile opt-in
	AccountToggleOn bool `json:"account_toggle_on"`

	// PerQueryConfirmed is transient, set when the session's pending
	// halt record was matched by a confirming reply
	PerQueryConfirmed bool `json:"per_query_confirmed"`
}

// RequestContext is the request-scoped context threaded through the
// fetcher and adapters
type RequestContext struct {
	UserID            string       `json:"user_id,omitempty"`
	SessionID         string       `json:"session_id,omitempty"`
	RequestedProducts []string     `json:"requested_products,omitempty"`
	Consent           ConsentState `json:"consent"`
}

// ResultStatus is the terminal outcome class of an orchestration run
type ResultStatus string

const (
	StatusSuccess         ResultStatus = "success"
	StatusPartial         ResultStatus = "partial"
	StatusConsentRequired ResultStatus = "consent_required"
)

// ConsentType distinguishes the two consent prompts
type ConsentType string

const (
	ConsentAccountToggle ConsentType = "account_toggle"
	ConsentPerQuery      ConsentType = "per_query"
)

// ConsentPrompt describes the consent the caller must collect
type ConsentPrompt struct {
	Type     ConsentType `json:"type"`
	Message  string      `json:"message"`
	NextTier int         `json:"next_tier"`
}

// OrchestrationResult is returned to the caller for every run
type OrchestrationResult struct {
	RunID              string         `json:"run_id"`
	Status             ResultStatus   `json:"status"`
	Items              []Item         `json:"items"`
	Snippets           []Snippet      `json:"snippets"`
	SourcesUsed        []string       `json:"sources_used"`
	SourcesUnavailable []string       `json:"sources_unavailable"`
	TierReached        int            `json:"tier_reached"`
	ConsentPrompt      *ConsentPrompt `json:"consent_prompt,omitempty"`
}

// HaltRecord is the persisted snapshot of an orchestration paused for
// consent, keyed by session id
type HaltRecord struct {
	Intent              Intent      `json:"intent"`
	Query               string      `json:"query"`
	AccumulatedItems    []Item      `json:"accumulated_items"`
	AccumulatedSnippets []Snippet   `json:"accumulated_snippets"`
	SourcesUsedSoFar    []string    `json:"sources_used_so_far"`
	SourcesUnavailable  []string    `json:"sources_unavailable,omitempty"`
	TierReached         int         `json:"tier_reached"`
	PendingConsentType  ConsentType `json:"pending_consent_type"`
	RequestedProducts   []string    `json:"requested_products,omitempty"`
	HaltedAt            time.Time   `json:"halted_at"`
}

// Outcome is the validator's ruling class
type Outcome string

const (
	OutcomeSufficient      Outcome = "sufficient"
	OutcomeEscalate        Outcome = "escalate"
	OutcomeConsentRequired Outcome = "consent_required"
	OutcomeExhausted       Outcome = "exhausted"
)

// Decision is the validator's full ruling
type Decision struct {
	Outcome     Outcome
	NextTier    int         // set for escalate and consent_required(per_query)
	ConsentType ConsentType // set for consent_required
	Partial     bool        // set for exhausted
}

// Evidence is the accumulated, deduplicated state the validator sees
type Evidence struct {
	Items    []Item
	Snippets []Snippet
	Sources  []string // API names that have contributed successfully
}

// CircuitBreaker is the breaker surface the routing table and fetcher
// depend on. resilience.Breaker implements it; tests inject fakes.
type CircuitBreaker interface {
	IsOpen(name string) bool
	RecordSuccess(name string)
	RecordFailure(name string)
}

// Adapter is the provider integration contract. Implementations are
// synchronous-shaped but may suspend on I/O; they must respect the
// deadline on ctx.
type Adapter interface {
	Invoke(ctx context.Context, providerTag, query string, rc RequestContext) (*Payload, error)
}

// AdapterMux resolves an adapter key from a descriptor to a concrete
// adapter implementation
type AdapterMux interface {
	Adapter(key string) (Adapter, error)
}

// Fetcher performs the bounded-parallel fan-out over one tier's APIs
type Fetcher interface {
	Fetch(ctx context.Context, names []string, query string, tier int, rc RequestContext) map[string]CallEnvelope
}

// Validator rules on accumulated evidence after each tier
type Validator interface {
	Validate(intent Intent, tier int, ev Evidence, rc RequestContext) Decision
}

// HaltStore persists halt records keyed by session id
type HaltStore interface {
	Get(ctx context.Context, sessionID string) (*HaltRecord, error)
	Set(ctx context.Context, sessionID string, record *HaltRecord) error
	Delete(ctx context.Context, sessionID string) error
}

// UsageRecord is one append-only usage log entry
type UsageRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	APIName   string        `json:"api_name"`
	Tier      int           `json:"tier"`
	CostUnits int           `json:"cost_units"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// UsageLogger records call outcomes and consent events for cost
// accounting. Implementations must never block orchestration and must
// swallow their own failures.
type UsageLogger interface {
	Record(rec UsageRecord)
	RecordConsent(sessionID, userID string, consentType ConsentType)
}

// NoOpUsageLogger discards all records
type NoOpUsageLogger struct{}

func (NoOpUsageLogger) Record(rec UsageRecord)                                       {}
func (NoOpUsageLogger) RecordConsent(sessionID, userID string, consentType ConsentType) {}
