package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/askcart/askcart/orchestration"
)

// StaticAdapter serves deterministic canned payloads derived from the
// provider tag and query. It backs local runs and demos when no gateway
// is configured; the shape of its output mirrors the HTTP adapter's.
type StaticAdapter struct {
	// ItemsPerCall is how many items each call fabricates (default 3)
	ItemsPerCall int
}

// Invoke fabricates a payload for the provider tag. Shopping and
// research tags yield products, travel yields hotels and flights,
// review tags yield snippets.
func (a *StaticAdapter) Invoke(_ context.Context, providerTag, query string, rc orchestration.RequestContext) (*orchestration.Payload, error) {
	n := a.ItemsPerCall
	if n <= 0 {
		n = 3
	}
	seed := querySeed(providerTag, query)
	p := &orchestration.Payload{}

	switch {
	case reviewTags[providerTag] || strings.Contains(providerTag, "review"):
		for i := 0; i < n+2; i++ {
			p.Snippets = append(p.Snippets, orchestration.Snippet{
				Text: fmt.Sprintf("%s review %d for %q: holds up well after months of use.", providerTag, i+1, query),
				URL:  fmt.Sprintf("https://%s.example/reviews/%d", providerTag, seed+uint64(i)),
			})
		}

	case travelTags[providerTag] || strings.Contains(providerTag, "hotel") || strings.Contains(providerTag, "flight"):
		for i := 0; i < n; i++ {
			p.Hotels = append(p.Hotels, orchestration.Item{
				Kind:       orchestration.KindHotel,
				Name:       fmt.Sprintf("%s stay %d near %s", providerTag, i+1, query),
				SKU:        fmt.Sprintf("H-%d", seed+uint64(i)),
				PriceCents: int64(9900 + 1500*i),
				Currency:   "USD",
			})
			p.Snippets = append(p.Snippets, orchestration.Snippet{
				Text: fmt.Sprintf("Traveler note %d about %s.", i+1, query),
			})
		}

	case providerTag == "websearch":
		// Broad research returns both items and supporting text
		for i := 0; i < n; i++ {
			p.Products = append(p.Products, orchestration.Item{
				Kind: orchestration.KindProduct,
				Name: fmt.Sprintf("%s finding %d", query, i+1),
				SKU:  fmt.Sprintf("W-%d", seed+uint64(i)),
			})
			p.Snippets = append(p.Snippets, orchestration.Snippet{
				Text: fmt.Sprintf("Research note %d on %s.", i+1, query),
				URL:  fmt.Sprintf("https://web.example/%d", seed+uint64(i)),
			})
		}

	default:
		names := rc.RequestedProducts
		if len(names) == 0 {
			names = []string{query}
		}
		for i := 0; i < n; i++ {
			base := names[i%len(names)]
			p.Products = append(p.Products, orchestration.Item{
				Kind:       orchestration.KindProduct,
				Name:       fmt.Sprintf("%s option %d", base, i+1),
				SKU:        fmt.Sprintf("P-%d", seed+uint64(i)),
				PriceCents: int64(4999 + 1000*i),
				Currency:   "USD",
				URL:        fmt.Sprintf("https://%s.example/p/%d", providerTag, seed+uint64(i)),
			})
		}
	}
	return p, nil
}

// Provider tags from the built-in catalog, grouped by payload shape
var (
	reviewTags = map[string]bool{"community": true, "digest": true, "reviewhub": true}
	travelTags = map[string]bool{"hotels": true, "flights": true, "travelnotes": true, "concierge": true}
)

func querySeed(providerTag, query string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(providerTag))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	return h.Sum64() % 100000
}
