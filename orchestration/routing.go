package orchestration

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/askcart/askcart/core"
)

// RoutingTable maps intent × tier to an ordered list of API names.
// It is data, not code: the built-in table can be replaced by a YAML
// file without recompiling. Immutable after construction.
type RoutingTable struct {
	entries  map[Intent][MaxTier + 1][]string
	registry *Registry
}

// routingFile is the YAML shape: intent → tier (1..4) → names
type routingFile struct {
	Routes map[string]map[int][]string `yaml:"routes"`
}

// NewRoutingTable builds a routing table over a registry.
// routes maps intent → tier → ordered API names; tiers outside 1..4
// are a configuration error. A tier may be absent or empty.
func NewRoutingTable(routes map[Intent]map[int][]string, registry *Registry) (*RoutingTable, error) {
	if registry == nil {
		return nil, fmt.Errorf("routing table requires a registry: %w", core.ErrMissingConfiguration)
	}

	t := &RoutingTable{
		entries:  make(map[Intent][MaxTier + 1][]string, len(routes)),
		registry: registry,
	}
	for intent, tiers := range routes {
		if _, ok := ParseIntent(string(intent)); !ok {
			return nil, fmt.Errorf("routing table has unknown intent %q: %w", intent, core.ErrInvalidConfiguration)
		}
		var byTier [MaxTier + 1][]string
		for tier, names := range tiers {
			if tier < MinTier || tier > MaxTier {
				return nil, fmt.Errorf("intent %q has out-of-range tier %d: %w", intent, tier, core.ErrInvalidConfiguration)
			}
			for _, name := range names {
				if _, exists := registry.byName[name]; !exists {
					return nil, fmt.Errorf("intent %q tier %d references unknown api %q: %w", intent, tier, name, core.ErrInvalidConfiguration)
				}
			}
			byTier[tier] = append([]string(nil), names...)
		}
		t.entries[intent] = byTier
	}
	return t, nil
}

// LoadRoutingFile builds a routing table from a YAML file
func LoadRoutingFile(path string, registry *Registry) (*RoutingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing file %s: %w", path, err)
	}
	var rf routingFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse routing file %s: %w (%v)", path, core.ErrInvalidConfiguration, err)
	}
	routes := make(map[Intent]map[int][]string, len(rf.Routes))
	for intent, tiers := range rf.Routes {
		routes[Intent(intent)] = tiers
	}
	return NewRoutingTable(routes, registry)
}

// APIsFor returns the ordered, dispatchable API names for one tier:
// the raw list minus feature-flag-disabled descriptors minus open
// circuits. Declared order is preserved; it is the dedup tie-break
// (earlier = authoritative). Unknown intents fail with ErrUnknownIntent.
func (t *RoutingTable) APIsFor(intent Intent, tier int, breaker CircuitBreaker) ([]string, error) {
	dispatch, _, err := t.PartitionAPIsFor(intent, tier, breaker)
	return dispatch, err
}

// PartitionAPIsFor splits one tier's routed names into the dispatchable
// list and the circuit-skipped list. Each breaker is consulted exactly
// once per name, so the skipped list is a consistent snapshot even when
// a reset window expires mid-run. Feature-flag-disabled names appear in
// neither list.
func (t *RoutingTable) PartitionAPIsFor(intent Intent, tier int, breaker CircuitBreaker) (dispatch, skipped []string, err error) {
	byTier, ok := t.entries[intent]
	if !ok {
		return nil, nil, fmt.Errorf("apis_for %q: %w", intent, core.ErrUnknownIntent)
	}
	if tier < MinTier || tier > MaxTier {
		return nil, nil, fmt.Errorf("apis_for %q: tier %d out of range: %w", intent, tier, core.ErrInvalidConfiguration)
	}

	for _, name := range byTier[tier] {
		if _, err := t.registry.Lookup(name); err != nil {
			// Feature-flag-disabled or misconfigured: not present
			continue
		}
		if breaker != nil && breaker.IsOpen(name) {
			skipped = append(skipped, name)
			continue
		}
		dispatch = append(dispatch, name)
	}
	return dispatch, skipped, nil
}

// RawAPIsFor returns the declared list for one tier before flag and
// circuit filtering. The orchestrator uses it to account skipped APIs
// as sources_unavailable.
func (t *RoutingTable) RawAPIsFor(intent Intent, tier int) ([]string, error) {
	byTier, ok := t.entries[intent]
	if !ok {
		return nil, fmt.Errorf("apis_for %q: %w", intent, core.ErrUnknownIntent)
	}
	return append([]string(nil), byTier[tier]...), nil
}

// DefaultRoutes is the built-in intent × tier routing table.
// Lower tiers are cheaper and privacy-safer; price_check deliberately
// has empty tiers 3 and 4.
func DefaultRoutes() map[Intent]map[int][]string {
	return map[Intent]map[int][]string{
		IntentProduct: {
			1: {"amazon_affiliate", "walmart_affiliate"},
			2: {"ebay_affiliate", "retail_search"},
			3: {"deal_aggregator", "product_reviews"},
			4: {"premium_catalog", "web_research"},
		},
		IntentComparison: {
			1: {"amazon_affiliate", "walmart_affiliate"},
			2: {"ebay_affiliate", "retail_search"},
			3: {"deal_aggregator"},
			4: {"premium_catalog", "web_research"},
		},
		IntentPriceCheck: {
			1: {"amazon_affiliate", "walmart_affiliate"},
			2: {"price_tracker"},
		},
		IntentReviewDeepDive: {
			1: {"community_reviews"},
			2: {"review_digest"},
			3: {"product_reviews"},
			4: {"web_research"},
		},
		IntentTravel: {
			1: {"hotel_search", "flight_search"},
			2: {"travel_reviews"},
			3: {"travel_concierge"},
			4: {"web_research"},
		},
	}
}
