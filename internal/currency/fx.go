package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_market/pkg/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type rateTable map[string]decimal.Decimal

// HTTPRateSource fetches whole rate tables per base currency and keeps them in Redis.
// Concurrent misses for the same base collapse into one upstream call.
type HTTPRateSource struct {
	client  *http.Client
	baseURL string
	cache   *redis.Client
	ttl     time.Duration
	timeout time.Duration
	breaker *circuitbreaker.Breaker[rateTable]
	sfg     singleflight.Group
	logger  *slog.Logger
}

func NewHTTPRateSource(client *http.Client, baseURL string, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *HTTPRateSource {
	return &HTTPRateSource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   cache,
		ttl:     ttl,
		timeout: 3 * time.Second,
		breaker: circuitbreaker.New[rateTable](circuitbreaker.Settings{
			Name:             "fx-rates",
			ConsecutiveFails: 3,
			OpenTimeout:      time.Minute,
			Logger:           logger,
		}),
		logger: logger,
	}
}

func (s *HTTPRateSource) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	table, err := s.table(ctx, base)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	rate, ok := table[quote]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no %s rate for %s", ErrRateUnavailable, quote, base)
	}
	return rate, nil
}

func (s *HTTPRateSource) table(ctx context.Context, base string) (rateTable, error) {
	if cached, err := s.fromCache(ctx, base); err == nil {
		return cached, nil
	} else if !errors.Is(err, redis.Nil) {
		s.logger.WarnContext(ctx, "fx cache get error", "base", base, "error", err)
	}

	v, err, _ := s.sfg.Do(base, func() (interface{}, error) {
		table, err := s.breaker.Execute(func() (rateTable, error) {
			return s.fetch(ctx, base)
		})
		if err != nil {
			return nil, err
		}
		s.toCache(ctx, base, table)
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(rateTable), nil
}

func (s *HTTPRateSource) fetch(ctx context.Context, base string) (rateTable, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/latest/%s", s.baseURL, base), nil)
	if err != nil {
		return nil, fmt.Errorf("build fx request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fx request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fx service returned %d", resp.StatusCode)
	}

	var body struct {
		Result string                     `json:"result"`
		Rates  map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode fx response: %w", err)
	}
	if body.Result != "" && body.Result != "success" {
		return nil, fmt.Errorf("fx service result %q", body.Result)
	}
	if len(body.Rates) == 0 {
		return nil, errors.New("fx service returned no rates")
	}
	return body.Rates, nil
}

func (s *HTTPRateSource) fromCache(ctx context.Context, base string) (rateTable, error) {
	if s.cache == nil {
		return nil, redis.Nil
	}
	data, err := s.cache.Get(ctx, cacheKey(base)).Bytes()
	if err != nil {
		return nil, err
	}
	var table rateTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("unmarshal fx table failed: %w", err)
	}
	return table, nil
}

func (s *HTTPRateSource) toCache(ctx context.Context, base string, table rateTable) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(table)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal fx table failed", "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(base), data, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "fx cache set error", "base", base, "error", err)
	}
}

func cacheKey(base string) string {
	return fmt.Sprintf("fx:%s", base)
}
