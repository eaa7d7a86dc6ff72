package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"pricepulse/models"
)

const (
	// UpstreamTimeout bounds one CoinGecko round trip. A timed-out fetch
	// is treated as a fetch failure.
	UpstreamTimeout = 8 * time.Second

	// coinGeckoRatePerSec keeps us inside CoinGecko's free-tier limits.
	coinGeckoRatePerSec = 0.5
	coinGeckoBurst      = 2
)

// coinGeckoMarket is one row of the /coins/markets response.
type coinGeckoMarket struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
}

// MarketDataService is the cache-aside wrapper around the upstream market
// data source. Get never fails and never blocks longer than one upstream
// call: cache hit -> cached snapshot; cache miss -> a single-flight
// upstream fetch shared by all concurrent callers; any failure -> the last
// good snapshot, or an empty list if none ever succeeded.
type MarketDataService struct {
	baseURL       string
	instrumentIDs []string
	ttl           time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	cache      SnapshotCache
	flight     singleflight.Group
	logger     *zap.Logger

	mu          sync.RWMutex
	lastGood    []models.Instrument
	lastFetched time.Time
}

// NewMarketDataService creates the market data service.
func NewMarketDataService(baseURL string, instrumentIDs []string, ttl time.Duration, cache SnapshotCache, logger *zap.Logger) *MarketDataService {
	return &MarketDataService{
		baseURL:       strings.TrimRight(baseURL, "/"),
		instrumentIDs: instrumentIDs,
		ttl:           ttl,
		httpClient:    &http.Client{Timeout: UpstreamTimeout},
		limiter:       rate.NewLimiter(rate.Limit(coinGeckoRatePerSec), coinGeckoBurst),
		cache:         cache,
		logger:        logger,
	}
}

// Get returns the current market snapshot. It never returns an error;
// upstream trouble degrades to stale or empty data and is logged as a
// soft failure.
func (s *MarketDataService) Get(ctx context.Context) []models.Instrument {
	if snapshot, ok := s.cache.Get(ctx); ok {
		s.rememberGood(snapshot, false)
		return snapshot
	}

	// Single-flight: concurrent cache-miss callers share one upstream
	// fetch instead of each issuing their own. The fetch is detached from
	// the leading caller's cancellation so a short-lived request cannot
	// fail the flight for every waiter; fetchUpstream bounds it with its
	// own timeout.
	v, err, _ := s.flight.Do(SnapshotCacheKey, func() (interface{}, error) {
		fctx := context.WithoutCancel(ctx)
		snapshot, err := s.fetchUpstream(fctx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(fctx, snapshot, s.ttl)
		s.rememberGood(snapshot, true)
		return snapshot, nil
	})
	if err != nil {
		s.logger.Warn("market data fetch failed, serving fallback", zap.Error(err))
		return s.fallback()
	}
	return v.([]models.Instrument)
}

// fetchUpstream issues one CoinGecko /coins/markets call and normalizes
// the rows into instruments.
func (s *MarketDataService) fetchUpstream(ctx context.Context) ([]models.Instrument, error) {
	ctx, cancel := context.WithTimeout(ctx, UpstreamTimeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("ids", strings.Join(s.instrumentIDs, ","))
	query.Set("order", "market_cap_desc")
	query.Set("sparkline", "false")
	query.Set("price_change_percentage", "24h")

	endpoint := s.baseURL + "/coins/markets?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream responded with status %d", resp.StatusCode)
	}

	var rows []coinGeckoMarket
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode upstream payload: %w", err)
	}

	snapshot := make([]models.Instrument, 0, len(rows))
	for _, row := range rows {
		snapshot = append(snapshot, models.Instrument{
			ID:        row.ID,
			Name:      row.Name,
			Price:     row.CurrentPrice,
			Change24h: row.PriceChangePercentage24h,
		})
	}
	return snapshot, nil
}

// rememberGood keeps the most recent successful snapshot as the fallback
// for later failures.
func (s *MarketDataService) rememberGood(snapshot []models.Instrument, fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGood = snapshot
	if fresh {
		s.lastFetched = time.Now()
	}
}

// fallback returns the last good snapshot, or an empty list if no fetch
// has ever succeeded. The previous cache entry is never overwritten on
// failure.
func (s *MarketDataService) fallback() []models.Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastGood == nil {
		return []models.Instrument{}
	}
	return s.lastGood
}

// LastFetched returns when the last successful upstream fetch happened.
func (s *MarketDataService) LastFetched() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFetched
}

// Close releases the cache's underlying resources.
func (s *MarketDataService) Close() error {
	return s.cache.Close()
}
