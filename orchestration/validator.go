package orchestration

import (
	"strings"

	"github.com/askcart/askcart/core"
)

// Thresholds are the inclusive lower bounds one intent must meet.
// Zero means the dimension is not evaluated for that intent.
type Thresholds struct {
	MinItems    int
	MinSnippets int
	MinSources  int

	// CoverRequested requires every requested product name to be
	// covered by a returned item (fuzzy match)
	CoverRequested bool
}

// defaultThresholds is the per-intent sufficiency table
var defaultThresholds = map[Intent]Thresholds{
	IntentProduct:        {MinItems: 3},
	IntentComparison:     {CoverRequested: true},
	IntentPriceCheck:     {MinItems: 1},
	IntentReviewDeepDive: {MinSnippets: 5, MinSources: 2},
	IntentTravel:         {MinItems: 1, MinSnippets: 3},
}

// jaccardThreshold is the token-set similarity floor for comparison
// coverage matching
const jaccardThreshold = 0.45

// SufficiencyValidator rules on accumulated evidence after each tier.
// It is stateless; the orchestrator passes the accumulated state in.
type SufficiencyValidator struct {
	maxAutoTier int
	logger      core.Logger
}

// NewSufficiencyValidator creates a validator. maxAutoTier is the
// highest tier reachable without consent (default 2 when out of range).
func NewSufficiencyValidator(maxAutoTier int, logger core.Logger) *SufficiencyValidator {
	if maxAutoTier < MinTier || maxAutoTier > MaxTier {
		maxAutoTier = 2
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SufficiencyValidator{maxAutoTier: maxAutoTier, logger: logger}
}

// Validate applies the intent's thresholds to the accumulated evidence
// and rules sufficient, escalate, consent_required, or exhausted.
func (v *SufficiencyValidator) Validate(intent Intent, tier int, ev Evidence, rc RequestContext) Decision {
	th, ok := defaultThresholds[intent]
	if !ok {
		// Unknown intents are rejected upstream by routing; an unknown
		// intent here is treated as never sufficient.
		th = Thresholds{MinItems: 1}
	}

	if v.sufficient(th, ev, rc.RequestedProducts) {
		return Decision{Outcome: OutcomeSufficient}
	}

	nextTier := tier + 1
	if nextTier > MaxTier {
		return Decision{Outcome: OutcomeExhausted, Partial: true}
	}
	if nextTier <= v.maxAutoTier {
		return Decision{Outcome: OutcomeEscalate, NextTier: nextTier}
	}

	// Past the auto-escalation ceiling: consult consent, account toggle first
	if !rc.Consent.AccountToggleOn {
		return Decision{Outcome: OutcomeConsentRequired, ConsentType: ConsentAccountToggle, NextTier: nextTier}
	}
	if !rc.Consent.PerQueryConfirmed {
		return Decision{Outcome: OutcomeConsentRequired, ConsentType: ConsentPerQuery, NextTier: nextTier}
	}
	return Decision{Outcome: OutcomeEscalate, NextTier: nextTier}
}

func (v *SufficiencyValidator) sufficient(th Thresholds, ev Evidence, requested []string) bool {
	if th.MinItems > 0 && len(ev.Items) < th.MinItems {
		return false
	}
	if th.MinSnippets > 0 && len(ev.Snippets) < th.MinSnippets {
		return false
	}
	if th.MinSources > 0 && len(ev.Sources) < th.MinSources {
		return false
	}
	if th.CoverRequested {
		if len(requested) == 0 {
			// Comparison with no requested names can never be covered
			return false
		}
		for _, want := range requested {
			if !coveredBy(want, ev.Items) {
				return false
			}
		}
	}
	return true
}

// coveredBy reports whether any returned item name fuzzy-matches the
// requested product name
func coveredBy(requested string, items []Item) bool {
	want := tokenSet(requested)
	if len(want) == 0 {
		return false
	}
	for _, item := range items {
		if jaccard(want, tokenSet(item.Name)) >= jaccardThreshold {
			return true
		}
	}
	return false
}

// tokenSet lowercases and splits a name into its alphanumeric tokens
func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		return !alnum
	}) {
		out[tok] = struct{}{}
	}
	return out
}

// jaccard is |a ∩ b| / |a ∪ b| over token sets
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
