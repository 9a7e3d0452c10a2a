package orchestration

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/askcart/askcart/core"
)

// Registry is the static API catalog, keyed by logical name.
// It is immutable after construction and read lock-free at runtime.
// A descriptor whose feature flag is disabled is reported not-found,
// so routing cleanly skips it.
type Registry struct {
	byName         map[string]APIDescriptor
	order          []string
	flags          map[string]bool
	defaultTimeout time.Duration
}

// RegistryOptions configures registry construction
type RegistryOptions struct {
	// FeatureFlags gates descriptors carrying a feature_flag name.
	// A flagged descriptor is active only when its flag maps to true.
	FeatureFlags map[string]bool

	// DefaultTimeout applies to descriptors without an explicit timeout
	// (default 5s)
	DefaultTimeout time.Duration
}

// NewRegistry builds a registry from descriptors. Duplicate names are a
// configuration error.
func NewRegistry(descriptors []APIDescriptor, opts RegistryOptions) (*Registry, error) {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Second
	}

	r := &Registry{
		byName:         make(map[string]APIDescriptor, len(descriptors)),
		order:          make([]string, 0, len(descriptors)),
		flags:          opts.FeatureFlags,
		defaultTimeout: opts.DefaultTimeout,
	}
	for _, d := range descriptors {
		if d.Name == "" || d.AdapterKey == "" {
			return nil, fmt.Errorf("descriptor %q missing name or adapter_key: %w", d.Name, core.ErrInvalidConfiguration)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate api descriptor %q: %w", d.Name, core.ErrInvalidConfiguration)
		}
		if d.Timeout <= 0 {
			d.Timeout = opts.DefaultTimeout
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Lookup returns the descriptor for a logical name. Unknown names and
// feature-flag-disabled descriptors both return core.ErrAPINotFound.
func (r *Registry) Lookup(name string) (APIDescriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return APIDescriptor{}, fmt.Errorf("lookup %q: %w", name, core.ErrAPINotFound)
	}
	if d.FeatureFlag != "" && !r.flags[d.FeatureFlag] {
		return APIDescriptor{}, fmt.Errorf("lookup %q: feature flag %q disabled: %w", name, d.FeatureFlag, core.ErrAPINotFound)
	}
	return d, nil
}

// Names returns all descriptor names in declaration order, including
// flag-disabled ones
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// catalogFile is the YAML shape for an external catalog
type catalogFile struct {
	APIs []APIDescriptor `yaml:"apis"`
}

// UnmarshalYAML decodes a catalog entry, with the timeout given in
// time.ParseDuration syntax ("2s", "500ms")
func (d *APIDescriptor) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Name            string `yaml:"name"`
		AdapterKey      string `yaml:"adapter_key"`
		ProviderTag     string `yaml:"provider_tag"`
		CostUnits       int    `yaml:"cost_units"`
		Timeout         string `yaml:"timeout"`
		RequiresConsent bool   `yaml:"requires_consent"`
		FeatureFlag     string `yaml:"feature_flag"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	d.Name = raw.Name
	d.AdapterKey = raw.AdapterKey
	d.ProviderTag = raw.ProviderTag
	d.CostUnits = raw.CostUnits
	d.RequiresConsent = raw.RequiresConsent
	d.FeatureFlag = raw.FeatureFlag
	if raw.Timeout != "" {
		t, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("api %q timeout %q: %w", raw.Name, raw.Timeout, core.ErrInvalidConfiguration)
		}
		d.Timeout = t
	}
	return nil
}

// LoadRegistryFile builds a registry from a YAML catalog file
func LoadRegistryFile(path string, opts RegistryOptions) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w (%v)", path, core.ErrInvalidConfiguration, err)
	}
	return NewRegistry(cf.APIs, opts)
}

// DefaultCatalog is the built-in API catalog. Tier placement lives in
// the routing table; the catalog only knows cost, timeout, and gating.
func DefaultCatalog() []APIDescriptor {
	return []APIDescriptor{
		// Affiliate shopping APIs: free, tier-1 material
		{Name: "amazon_affiliate", AdapterKey: "shopping", ProviderTag: "amazon", CostUnits: 0},
		{Name: "walmart_affiliate", AdapterKey: "shopping", ProviderTag: "walmart", CostUnits: 0},
		{Name: "ebay_affiliate", AdapterKey: "shopping", ProviderTag: "ebay", CostUnits: 0},

		// Paid retail search and price history
		{Name: "retail_search", AdapterKey: "shopping", ProviderTag: "retailscan", CostUnits: 50},
		{Name: "price_tracker", AdapterKey: "shopping", ProviderTag: "pricewatch", CostUnits: 25},

		// Review sources
		{Name: "community_reviews", AdapterKey: "reviews", ProviderTag: "community", CostUnits: 0},
		{Name: "review_digest", AdapterKey: "reviews", ProviderTag: "digest", CostUnits: 30},
		{Name: "product_reviews", AdapterKey: "reviews", ProviderTag: "reviewhub", CostUnits: 75, RequiresConsent: true},

		// Deal and premium catalogs
		{Name: "deal_aggregator", AdapterKey: "shopping", ProviderTag: "dealfinder", CostUnits: 60, RequiresConsent: true},
		{Name: "premium_catalog", AdapterKey: "shopping", ProviderTag: "premium", CostUnits: 120, RequiresConsent: true, FeatureFlag: "premium_catalog"},

		// Travel search
		{Name: "hotel_search", AdapterKey: "travel", ProviderTag: "hotels", CostUnits: 0},
		{Name: "flight_search", AdapterKey: "travel", ProviderTag: "flights", CostUnits: 0},
		{Name: "travel_reviews", AdapterKey: "travel", ProviderTag: "travelnotes", CostUnits: 40},
		{Name: "travel_concierge", AdapterKey: "travel", ProviderTag: "concierge", CostUnits: 150, RequiresConsent: true},

		// Broad web research, most expensive and most sensitive
		{Name: "web_research", AdapterKey: "research", ProviderTag: "websearch", CostUnits: 100, RequiresConsent: true, FeatureFlag: "web_research"},
	}
}

// DefaultFeatureFlags enables the flagged built-ins.
// Deployments disable individual APIs via config without touching code.
func DefaultFeatureFlags() map[string]bool {
	return map[string]bool{
		"premium_catalog": true,
		"web_research":    true,
	}
}
