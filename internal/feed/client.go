package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/voltmesh/auction-engine/internal/model"
)

const (
	realTimeURL = "/prices/real-time"
	dayAheadURL = "/prices/day-ahead"
	summaryURL  = "/prices/summary"
)

// Client fetches market data from a gridstatus-style HTTP API. Outbound
// requests are rate limited so repricing ticks and clearing fallbacks never
// hammer the provider.
type Client struct {
	c       *resty.Client
	limiter *rate.Limiter
}

// NewClient creates a market-data client for the given base URL. The API
// key may be empty for providers that do not require one.
func NewClient(baseURL, apiKey string, timeout time.Duration, rps float64) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if apiKey != "" {
		c.SetHeader("x-api-key", apiKey)
	}

	return &Client{
		c:       c,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type quoteResponse struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Region    string    `json:"region"`
}

func (cl *Client) ReferencePrice(ctx context.Context, region string) (*Quote, error) {
	if err := cl.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := cl.c.R().
		SetContext(ctx).
		SetQueryParam("region", region).
		SetResult(&quoteResponse{}).
		Get(realTimeURL)
	if err != nil {
		return nil, fmt.Errorf("%w: real-time price request failed: %v", model.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("%w: real-time price: %s", model.ErrPriceUnavailable, resp.Status())
	}

	out := resp.Result().(*quoteResponse)
	if out.Price <= 0 {
		return nil, fmt.Errorf("%w: non-positive price %f", model.ErrPriceUnavailable, out.Price)
	}

	return &Quote{
		Price:  decimal.NewFromFloat(out.Price),
		AsOf:   out.Timestamp,
		Region: region,
	}, nil
}

type curveResponse struct {
	Prices []struct {
		Hour  int     `json:"hour"`
		Price float64 `json:"price"`
	} `json:"prices"`
}

func (cl *Client) DayAheadCurve(ctx context.Context, region, tradingDate string) ([]HourlyPrice, error) {
	if err := cl.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := cl.c.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"region": region,
			"date":   tradingDate,
		}).
		SetResult(&curveResponse{}).
		Get(dayAheadURL)
	if err != nil {
		return nil, fmt.Errorf("%w: day-ahead curve request failed: %v", model.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("%w: day-ahead curve: %s", model.ErrPriceUnavailable, resp.Status())
	}

	out := resp.Result().(*curveResponse)
	curve := make([]HourlyPrice, 0, len(out.Prices))
	for _, p := range out.Prices {
		curve = append(curve, HourlyPrice{Hour: p.Hour, Price: decimal.NewFromFloat(p.Price)})
	}
	return curve, nil
}

type summaryResponse struct {
	CurrentPrice float64   `json:"current_price"`
	Change24h    float64   `json:"change_24h"`
	High24h      float64   `json:"high_24h"`
	Low24h       float64   `json:"low_24h"`
	Average24h   float64   `json:"average_24h"`
	LastUpdated  time.Time `json:"last_updated"`
}

func (cl *Client) MarketSummary(ctx context.Context, region string) (*Summary, error) {
	if err := cl.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := cl.c.R().
		SetContext(ctx).
		SetQueryParam("region", region).
		SetResult(&summaryResponse{}).
		Get(summaryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: summary request failed: %v", model.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("%w: summary: %s", model.ErrPriceUnavailable, resp.Status())
	}

	out := resp.Result().(*summaryResponse)
	return &Summary{
		CurrentPrice: decimal.NewFromFloat(out.CurrentPrice),
		Change24h:    decimal.NewFromFloat(out.Change24h),
		High24h:      decimal.NewFromFloat(out.High24h),
		Low24h:       decimal.NewFromFloat(out.Low24h),
		Average24h:   decimal.NewFromFloat(out.Average24h),
		LastUpdated:  out.LastUpdated,
		Region:       region,
	}, nil
}
