package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/orchestration"
)

func TestHTTPAdapterInvoke(t *testing.T) {
	var gotReq searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(searchResponse{
			Products: []wireItem{
				{Name: "acme kettle", Model: "K-2", PriceCents: 4999, Currency: "USD"},
			},
			Snippets: []wireSnippet{{Text: "boils fast", URL: "https://r.example/1"}},
		})
	}))
	defer server.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	require.NoError(t, err)

	rc := orchestration.RequestContext{UserID: "u1", RequestedProducts: []string{"kettle"}}
	payload, err := adapter.Invoke(context.Background(), "amazon", "best kettle", rc)
	require.NoError(t, err)

	assert.Equal(t, "amazon", gotReq.Provider)
	assert.Equal(t, "best kettle", gotReq.Query)
	assert.Equal(t, "u1", gotReq.UserID)
	assert.Equal(t, []string{"kettle"}, gotReq.Products)

	require.Len(t, payload.Products, 1)
	assert.Equal(t, orchestration.KindProduct, payload.Products[0].Kind)
	assert.Equal(t, "acme kettle", payload.Products[0].Name)
	assert.Equal(t, int64(4999), payload.Products[0].PriceCents)
	require.Len(t, payload.Snippets, 1)
	assert.Equal(t, "boils fast", payload.Snippets[0].Text)
}

func TestHTTPAdapterTypedTravelPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{
			Hotels:  []wireItem{{Name: "grand hotel", SKU: "GH-1"}},
			Flights: []wireItem{{Name: "ORD to LIS", SKU: "FL-9"}},
		})
	}))
	defer server.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	require.NoError(t, err)

	payload, err := adapter.Invoke(context.Background(), "hotels", "lisbon", orchestration.RequestContext{})
	require.NoError(t, err)

	require.Len(t, payload.Hotels, 1)
	assert.Equal(t, orchestration.KindHotel, payload.Hotels[0].Kind)
	require.Len(t, payload.Flights, 1)
	assert.Equal(t, orchestration.KindFlight, payload.Flights[0].Kind)
}

func TestHTTPAdapterNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = adapter.Invoke(context.Background(), "amazon", "q", orchestration.RequestContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAPIError))
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPAdapterMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = adapter.Invoke(context.Background(), "amazon", "q", orchestration.RequestContext{})
	assert.Error(t, err)
}

func TestHTTPAdapterHonorsContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = adapter.Invoke(ctx, "amazon", "q", orchestration.RequestContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPAdapterRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPAdapter(HTTPAdapterConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingConfiguration))
}
