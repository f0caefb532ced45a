package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Nairobi and Mombasa, roughly 440 km apart on the great circle.
var (
	nairobi = Point{Lat: -1.286389, Lng: 36.817223}
	mombasa = Point{Lat: -4.043477, Lng: 39.668206}
)

func TestHaversine(t *testing.T) {
	km := Haversine(nairobi, mombasa)
	assert.InDelta(t, 440, km, 10)

	t.Run("zero distance", func(t *testing.T) {
		assert.InDelta(t, 0, Haversine(nairobi, nairobi), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.InDelta(t, Haversine(nairobi, mombasa), Haversine(mombasa, nairobi), 1e-9)
	})
}

func TestFallbackRouteSpeed(t *testing.T) {
	route := fallbackRoute(nairobi, mombasa, 40)
	assert.Equal(t, SourceFallback, route.Source)
	// minutes = km / kmh * 60
	assert.InDelta(t, route.KM/40*60, route.Minutes, 1e-9)
}

func TestPointValid(t *testing.T) {
	assert.True(t, nairobi.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
}

// newRoutingServer returns a test server answering the /route endpoint
// with one synthetic route per requested pair.
func newRoutingServer(t *testing.T, requests *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			atomic.AddInt64(requests, 1)
		}
		pairs := strings.Split(r.URL.Query().Get("pairs"), "|")
		routes := make([]map[string]float64, len(pairs))
		for i := range pairs {
			routes[i] = map[string]float64{"km": float64(i + 1), "min": float64((i + 1) * 2)}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(routes))
	}))
}

func TestOSRMProviderDistance(t *testing.T) {
	server := newRoutingServer(t, nil)
	defer server.Close()

	provider := NewOSRMProvider(OSRMConfig{BaseURL: server.URL, Timeout: 5 * time.Second}, nil)

	route, err := provider.Distance(context.Background(), nairobi, mombasa)
	require.NoError(t, err)
	assert.Equal(t, SourceOSRM, route.Source)
	assert.Equal(t, 1.0, route.KM)
	assert.Equal(t, 2.0, route.Minutes)
}

func TestOSRMProviderBatchOrderAndChunking(t *testing.T) {
	var requests int64
	server := newRoutingServer(t, &requests)
	defer server.Close()

	provider := NewOSRMProvider(OSRMConfig{BaseURL: server.URL, Timeout: 5 * time.Second, MaxConcurrent: 4}, nil)

	// More pairs than fit in one request forces chunking
	pairs := make([]Pair, 60)
	for i := range pairs {
		pairs[i] = Pair{
			Origin:      Point{Lat: float64(i) * 0.01, Lng: 36},
			Destination: mombasa,
		}
	}

	routes, err := provider.DistanceBatch(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, routes, 60)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&requests), int64(3))
	for i, route := range routes {
		assert.Equal(t, SourceOSRM, route.Source)
		assert.Greater(t, route.KM, 0.0)
		// The server numbers routes by position within each request
		assert.Equal(t, float64(i%maxPairsPerRequest+1), route.KM, "route %d out of order", i)
	}
}

func TestOSRMProviderFallbackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewOSRMProvider(OSRMConfig{BaseURL: server.URL, Timeout: time.Second, FallbackSpeedKMH: 40}, nil)

	route, err := provider.Distance(context.Background(), nairobi, mombasa)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, route.Source)
	assert.InDelta(t, 440, route.KM, 10)
	assert.InDelta(t, route.KM/40*60, route.Minutes, 1e-9)
}

func TestOSRMProviderFallbackOnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	provider := NewOSRMProvider(OSRMConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, nil)

	route, err := provider.Distance(context.Background(), nairobi, mombasa)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, route.Source)
}

func TestOSRMProviderFallbackOnMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	provider := NewOSRMProvider(OSRMConfig{BaseURL: server.URL, Timeout: time.Second}, nil)

	route, err := provider.Distance(context.Background(), nairobi, mombasa)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, route.Source)
}

func TestOSRMProviderCancelled(t *testing.T) {
	server := newRoutingServer(t, nil)
	defer server.Close()

	provider := NewOSRMProvider(OSRMConfig{BaseURL: server.URL, Timeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Distance(ctx, nairobi, mombasa)
	assert.Error(t, err)
}

func TestCacheHitsAndExpiry(t *testing.T) {
	cache := NewCache(50*time.Millisecond, time.Hour)
	defer cache.Close()

	key := cacheKey(nairobi, mombasa)
	cache.Set(key, Route{KM: 440, Minutes: 660, Source: SourceOSRM})

	route, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, 440.0, route.KM)

	time.Sleep(80 * time.Millisecond)

	// Expired entries are lazy-deleted on read
	_, ok = cache.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheSweeper(t *testing.T) {
	cache := NewCache(10*time.Millisecond, 25*time.Millisecond)
	defer cache.Close()

	for i := 0; i < 32; i++ {
		origin := Point{Lat: float64(i), Lng: 0}
		cache.Set(cacheKey(origin, mombasa), Route{KM: 1})
	}
	require.Equal(t, 32, cache.Len())

	assert.Eventually(t, func() bool {
		return cache.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestProviderServesFromCache(t *testing.T) {
	var requests int64
	server := newRoutingServer(t, &requests)
	defer server.Close()

	cache := NewCache(time.Hour, time.Hour)
	defer cache.Close()

	provider := NewOSRMProvider(OSRMConfig{BaseURL: server.URL, Timeout: time.Second}, cache)
	ctx := context.Background()

	first, err := provider.Distance(ctx, nairobi, mombasa)
	require.NoError(t, err)
	assert.Equal(t, SourceOSRM, first.Source)

	second, err := provider.Distance(ctx, nairobi, mombasa)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.KM, second.KM)

	assert.Equal(t, int64(1), atomic.LoadInt64(&requests))
}

func TestCacheKeyRounding(t *testing.T) {
	a := Point{Lat: -1.2863891234, Lng: 36.8172234567}
	b := Point{Lat: -1.2863890999, Lng: 36.8172234999}
	// Differences beyond the sixth decimal collapse to the same key
	assert.Equal(t, cacheKey(a, mombasa), cacheKey(b, mombasa))
}
