package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askcart/askcart/core"
)

func TestHaltStoreRoundtrip(t *testing.T) {
	store := NewHaltStore(core.NewMemoryStore(), 0, nil)
	ctx := context.Background()

	rec := &HaltRecord{
		Intent:              IntentReviewDeepDive,
		Query:               "is the acme blender any good",
		AccumulatedItems:    []Item{{Kind: KindProduct, Name: "acme blender", Source: "amazon_affiliate"}},
		AccumulatedSnippets: []Snippet{{Text: "works great", Source: "community_reviews"}},
		SourcesUsedSoFar:    []string{"amazon_affiliate", "community_reviews"},
		SourcesUnavailable:  []string{"review_digest"},
		TierReached:         2,
		PendingConsentType:  ConsentPerQuery,
		RequestedProducts:   []string{"acme blender"},
		HaltedAt:            time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Set(ctx, "sess-1", rec))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Intent, got.Intent)
	assert.Equal(t, rec.Query, got.Query)
	assert.Equal(t, rec.TierReached, got.TierReached)
	assert.Equal(t, rec.PendingConsentType, got.PendingConsentType)
	assert.Equal(t, rec.AccumulatedItems, got.AccumulatedItems)
	assert.Equal(t, rec.SourcesUnavailable, got.SourcesUnavailable)
	assert.True(t, rec.HaltedAt.Equal(got.HaltedAt))
}

func TestHaltStoreMissingIsNil(t *testing.T) {
	store := NewHaltStore(core.NewMemoryStore(), 0, nil)

	got, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHaltStoreDelete(t *testing.T) {
	store := NewHaltStore(core.NewMemoryStore(), 0, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sess-2", &HaltRecord{Intent: IntentProduct, TierReached: 2}))
	require.NoError(t, store.Delete(ctx, "sess-2"))

	got, err := store.Get(ctx, "sess-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHaltStoreDiscardsCorruptRecord(t *testing.T) {
	memory := core.NewMemoryStore()
	store := NewHaltStore(memory, 0, nil)
	ctx := context.Background()

	require.NoError(t, memory.Set(ctx, "halt:sess-3", "{not json", time.Hour))

	got, err := store.Get(ctx, "sess-3")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The corrupt entry is cleared so later turns start clean
	raw, err := memory.Get(ctx, "halt:sess-3")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestHaltStoreExpiresWithTTL(t *testing.T) {
	clock := newFakeClock()
	memory := core.NewMemoryStore()
	memory.SetClock(clock)
	store := NewHaltStore(memory, 10*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sess-4", &HaltRecord{Intent: IntentProduct, TierReached: 2}))

	clock.Advance(9 * time.Minute)
	got, err := store.Get(ctx, "sess-4")
	require.NoError(t, err)
	assert.NotNil(t, got)

	clock.Advance(2 * time.Minute)
	got, err = store.Get(ctx, "sess-4")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHaltStoreRaisesShortTTL(t *testing.T) {
	store := NewHaltStore(core.NewMemoryStore(), time.Minute, nil)
	assert.Equal(t, 10*time.Minute, store.ttl)
}
