package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/pathdx/cdst-go/pkg/errors"
	"github.com/pathdx/cdst-go/pkg/logging"
)

// maxPairsPerRequest bounds how many coordinate pairs ride in a single
// routing request. Larger batches are split and issued concurrently.
const maxPairsPerRequest = 25

// OSRMConfig configures the external routing provider.
type OSRMConfig struct {
	// BaseURL of the OSRM-style endpoint.
	BaseURL string

	// Timeout is the hard per-request deadline.
	Timeout time.Duration

	// MaxConcurrent caps outstanding external requests during batch
	// resolution. The upstream rate limit is roughly 1000/h.
	MaxConcurrent int

	// FallbackSpeedKMH is the assumed average speed used to synthesize
	// travel time when the external endpoint is unavailable.
	FallbackSpeedKMH float64
}

// DefaultOSRMConfig returns the documented defaults.
func DefaultOSRMConfig() OSRMConfig {
	return OSRMConfig{
		BaseURL:          "http://router.project-osrm.org",
		Timeout:          30 * time.Second,
		MaxConcurrent:    8,
		FallbackSpeedKMH: 40,
	}
}

// OSRMProvider resolves routes against an OSRM-style HTTP endpoint with
// a haversine fallback. Results are stored in a shared TTL cache.
type OSRMProvider struct {
	config OSRMConfig
	client *http.Client
	cache  *Cache
	logger *logging.Logger
}

var _ Provider = (*OSRMProvider)(nil)

// NewOSRMProvider creates a provider. The cache may be nil, in which
// case every call goes to the network.
func NewOSRMProvider(config OSRMConfig, cache *Cache) *OSRMProvider {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if config.FallbackSpeedKMH <= 0 {
		config.FallbackSpeedKMH = 40
	}

	return &OSRMProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		cache:  cache,
		logger: logging.GetLogger(),
	}
}

// Distance resolves a single pair, consulting the cache first.
func (p *OSRMProvider) Distance(ctx context.Context, origin, destination Point) (Route, error) {
	routes, err := p.DistanceBatch(ctx, []Pair{{Origin: origin, Destination: destination}})
	if err != nil {
		return Route{}, err
	}
	return routes[0], nil
}

// DistanceBatch resolves many pairs, preserving input order. Pairs
// found in the cache are served without touching the network; the rest
// are chunked and fetched concurrently, capped at MaxConcurrent
// in-flight requests. External failures degrade to haversine estimates
// and never surface as errors; only context cancellation does.
func (p *OSRMProvider) DistanceBatch(ctx context.Context, pairs []Pair) ([]Route, error) {
	if err := errors.CheckContext(ctx, "distance batch"); err != nil {
		return nil, err
	}

	routes := make([]Route, len(pairs))

	// Serve what we can from the cache
	var missIdx []int
	for i, pair := range pairs {
		key := cacheKey(pair.Origin, pair.Destination)
		if p.cache != nil {
			if route, ok := p.cache.Get(key); ok {
				// Cached fallback estimates keep their fallback label
				if route.Source != SourceFallback {
					route.Source = SourceCache
				}
				routes[i] = route
				continue
			}
		}
		missIdx = append(missIdx, i)
	}

	if len(missIdx) == 0 {
		return routes, nil
	}

	// Chunk the misses and fetch concurrently
	chunks := make([][]int, 0, (len(missIdx)+maxPairsPerRequest-1)/maxPairsPerRequest)
	for start := 0; start < len(missIdx); start += maxPairsPerRequest {
		end := start + maxPairsPerRequest
		if end > len(missIdx) {
			end = len(missIdx)
		}
		chunks = append(chunks, missIdx[start:end])
	}

	wp := pool.New().WithMaxGoroutines(p.config.MaxConcurrent)
	for _, chunk := range chunks {
		chunk := chunk
		wp.Go(func() {
			p.fetchChunk(ctx, pairs, chunk, routes)
		})
	}
	wp.Wait()

	if err := errors.CheckContext(ctx, "distance batch"); err != nil {
		return nil, err
	}

	// Populate the cache with fresh measurements
	if p.cache != nil {
		for _, i := range missIdx {
			p.cache.Set(cacheKey(pairs[i].Origin, pairs[i].Destination), routes[i])
		}
	}

	return routes, nil
}

// fetchChunk resolves one request worth of pairs, writing results into
// routes by original index. Any failure fills the chunk with fallback
// estimates.
func (p *OSRMProvider) fetchChunk(ctx context.Context, pairs []Pair, idx []int, routes []Route) {
	fetched, err := p.requestRoutes(ctx, pairs, idx)
	if err != nil {
		p.logger.Warn(ctx, "routing request failed, using haversine fallback: %v", err)
		for _, i := range idx {
			routes[i] = fallbackRoute(pairs[i].Origin, pairs[i].Destination, p.config.FallbackSpeedKMH)
		}
		return
	}

	for n, i := range idx {
		routes[i] = fetched[n]
	}
}

type routeResponse struct {
	KM  float64 `json:"km"`
	Min float64 `json:"min"`
}

func (p *OSRMProvider) requestRoutes(ctx context.Context, pairs []Pair, idx []int) ([]Route, error) {
	var sb strings.Builder
	for n, i := range idx {
		if n > 0 {
			sb.WriteByte('|')
		}
		fmt.Fprintf(&sb, "%.6f,%.6f;%.6f,%.6f",
			pairs[i].Origin.Lat, pairs[i].Origin.Lng,
			pairs[i].Destination.Lat, pairs[i].Destination.Lng)
	}

	reqURL := fmt.Sprintf("%s/route?pairs=%s", strings.TrimRight(p.config.BaseURL, "/"), url.QueryEscape(sb.String()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.RoutingUnavailable, "failed to build routing request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.RoutingUnavailable, "routing request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.RoutingUnavailable, "routing endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.RoutingUnavailable, "failed to read routing response")
	}

	var decoded []routeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errors.Wrap(err, errors.RoutingUnavailable, "malformed routing response")
	}
	if len(decoded) != len(idx) {
		return nil, errors.Newf(errors.RoutingUnavailable, "routing response carried %d routes for %d pairs", len(decoded), len(idx))
	}

	routes := make([]Route, len(decoded))
	for n, r := range decoded {
		routes[n] = Route{KM: r.KM, Minutes: r.Min, Source: SourceOSRM}
	}
	return routes, nil
}
