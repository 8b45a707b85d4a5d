package currency

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrRateUnavailable = errors.New("fx rate unavailable")

// RateSource quotes how many units of quote one unit of base buys.
type RateSource interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Allowlist is implemented by payment providers.
type Allowlist interface {
	Supports(currency string) bool
}

type Resolution struct {
	ViewerCurrency string
	BaseCurrency   string
	PaidCurrency   string
	FxRate         decimal.Decimal
	BaseAmount     decimal.Decimal
	PaidAmount     decimal.Decimal
}

type Converter struct {
	rates    RateSource
	base     string
	fallback string
	logger   *slog.Logger
	// onFallback is called with the candidate currency whose rate could not be used.
	onFallback func(currency string)
}

func NewConverter(rates RateSource, base, fallback string, logger *slog.Logger, onFallback func(string)) *Converter {
	if onFallback == nil {
		onFallback = func(string) {}
	}
	return &Converter{
		rates:      rates,
		base:       strings.ToUpper(base),
		fallback:   strings.ToUpper(fallback),
		logger:     logger,
		onFallback: onFallback,
	}
}

// Resolve picks the charge currency for total (in the base currency). Candidates are tried in
// the order viewer currency, base currency, fallback currency; the first one the provider
// accepts and that has a usable rate wins. Rate lookups never fail the checkout: when nothing
// else works the charge goes out in the base currency at rate 1.
func (c *Converter) Resolve(ctx context.Context, total decimal.Decimal, country string, provider Allowlist) Resolution {
	viewer := CurrencyForCountry(country)
	res := Resolution{
		ViewerCurrency: viewer,
		BaseCurrency:   c.base,
		BaseAmount:     total,
	}

	for _, candidate := range c.candidates(viewer) {
		if !provider.Supports(candidate) {
			continue
		}
		if candidate == c.base {
			return c.atBase(res)
		}

		rate, err := c.rates.Rate(ctx, c.base, candidate)
		if err != nil || !rate.IsPositive() {
			c.logger.WarnContext(ctx, "fx rate lookup failed, trying next currency",
				"base", c.base, "quote", candidate, "error", err)
			c.onFallback(candidate)
			continue
		}

		res.PaidCurrency = candidate
		res.FxRate = rate
		res.PaidAmount = RoundAmount(total.Mul(rate), candidate)
		return res
	}
	return c.atBase(res)
}

func (c *Converter) atBase(res Resolution) Resolution {
	res.PaidCurrency = c.base
	res.FxRate = decimal.NewFromInt(1)
	res.PaidAmount = RoundAmount(res.BaseAmount, c.base)
	return res
}

func (c *Converter) candidates(viewer string) []string {
	seen := make(map[string]bool, 3)
	var out []string
	for _, cur := range []string{viewer, c.base, c.fallback} {
		if cur == "" || seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}
