package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the production Twelve Data endpoint.
const DefaultBaseURL = "https://api.twelvedata.com"

// maxHistoricalFallbackDays is how many days a historical lookup walks
// backwards past weekends and holidays before giving up.
const maxHistoricalFallbackDays = 5

// TwelveDataClient fetches prices from the Twelve Data REST API.
type TwelveDataClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewTwelveDataClient creates a client. baseURL falls back to
// DefaultBaseURL when empty.
func NewTwelveDataClient(baseURL, apiKey string) *TwelveDataClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TwelveDataClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type quoteResponse struct {
	Code          int           `json:"code"`
	Message       string        `json:"message"`
	Symbol        string        `json:"symbol"`
	Close         string        `json:"close"`
	Price         string        `json:"price"`
	Change        string        `json:"change"`
	PercentChange string        `json:"percent_change"`
	Values        []seriesValue `json:"values"`
}

type seriesValue struct {
	Datetime string `json:"datetime"`
	Close    string `json:"close"`
}

// Price implements Source. Empty asOf fetches the live quote; otherwise
// the daily close for asOf, walking back up to maxHistoricalFallbackDays
// when the date falls on a non-trading day.
func (c *TwelveDataClient) Price(ctx context.Context, symbol, asOf string) (Quote, error) {
	if asOf != "" {
		return c.historical(ctx, symbol, asOf)
	}
	return c.live(ctx, symbol)
}

func (c *TwelveDataClient) live(ctx context.Context, symbol string) (Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "/quote", url.Values{"symbol": {strings.ToUpper(symbol)}}, &resp); err != nil {
		return Quote{}, err
	}
	if err := resp.apiError(symbol); err != nil {
		return Quote{}, err
	}

	priceStr := resp.Close
	if priceStr == "" {
		priceStr = resp.Price
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: bad price %q for %s: %w", priceStr, symbol, err)
	}

	q := Quote{
		Symbol: strings.ToUpper(symbol),
		Price:  price,
		AsOf:   time.Now().UTC(),
	}
	// Change fields are optional in the provider response.
	q.Change, _ = decimal.NewFromString(resp.Change)
	q.ChangePercent, _ = decimal.NewFromString(resp.PercentChange)
	return q, nil
}

func (c *TwelveDataClient) historical(ctx context.Context, symbol, asOf string) (Quote, error) {
	date, err := time.Parse(DateLayout, asOf)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: bad date %q: %w", asOf, err)
	}

	// Weekends and market holidays have no bar; walk backwards to the most
	// recent trading day.
	for i := 0; i <= maxHistoricalFallbackDays; i++ {
		day := date.AddDate(0, 0, -i).Format(DateLayout)

		var resp quoteResponse
		err := c.get(ctx, "/time_series", url.Values{
			"symbol":     {strings.ToUpper(symbol)},
			"interval":   {"1day"},
			"start_date": {day},
			"end_date":   {day},
		}, &resp)
		if err != nil {
			return Quote{}, err
		}
		if err := resp.apiError(symbol); err != nil {
			return Quote{}, err
		}
		if len(resp.Values) == 0 {
			continue
		}

		price, err := decimal.NewFromString(resp.Values[0].Close)
		if err != nil {
			return Quote{}, fmt.Errorf("quote: bad close %q for %s: %w", resp.Values[0].Close, symbol, err)
		}
		ts, _ := time.Parse(DateLayout, day)
		if i > 0 {
			slog.Debug("historical quote fell back to prior trading day",
				"symbol", symbol, "requested", asOf, "used", day)
		}
		return Quote{Symbol: strings.ToUpper(symbol), Price: price, AsOf: ts}, nil
	}

	return Quote{}, fmt.Errorf("quote: no trading data for %s near %s: %w", symbol, asOf, ErrSymbolNotFound)
}

func (c *TwelveDataClient) get(ctx context.Context, path string, params url.Values, out *quoteResponse) error {
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("quote: provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote: provider returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError maps Twelve Data's in-body error envelope to sentinel errors.
func (r *quoteResponse) apiError(symbol string) error {
	switch r.Code {
	case 0:
		return nil
	case 400, 404:
		return fmt.Errorf("quote: %s: %w", symbol, ErrSymbolNotFound)
	case 429:
		return ErrRateLimited
	default:
		return fmt.Errorf("quote: provider error %d: %s", r.Code, r.Message)
	}
}
