// Package quotes provides access to the external level-1..5 tick feed.
// A polling HTTP client backs the hot path; an optional websocket
// streamer keeps a local tick table hot; an in-memory provider backs
// tests and dev runs.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ashare/papertrade/internal/domain"
)

// Client fetches ticks from the quote provider over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

var _ domain.QuoteProvider = (*Client)(nil)

// NewClient creates a quote provider client. timeout bounds each request;
// the matching loop relies on it instead of retrying.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "quotes").Logger(),
	}
}

// tickResponse is the provider's wire shape for one tick.
type tickResponse struct {
	Current   decimal.Decimal `json:"current"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	LastClose decimal.Decimal `json:"last_close"`

	Bid1P decimal.Decimal `json:"bid1_p"`
	Bid2P decimal.Decimal `json:"bid2_p"`
	Bid3P decimal.Decimal `json:"bid3_p"`
	Bid4P decimal.Decimal `json:"bid4_p"`
	Bid5P decimal.Decimal `json:"bid5_p"`
	Bid1V int64           `json:"bid1_v"`
	Bid2V int64           `json:"bid2_v"`
	Bid3V int64           `json:"bid3_v"`
	Bid4V int64           `json:"bid4_v"`
	Bid5V int64           `json:"bid5_v"`

	Ask1P decimal.Decimal `json:"ask1_p"`
	Ask2P decimal.Decimal `json:"ask2_p"`
	Ask3P decimal.Decimal `json:"ask3_p"`
	Ask4P decimal.Decimal `json:"ask4_p"`
	Ask5P decimal.Decimal `json:"ask5_p"`
	Ask1V int64           `json:"ask1_v"`
	Ask2V int64           `json:"ask2_v"`
	Ask3V int64           `json:"ask3_v"`
	Ask4V int64           `json:"ask4_v"`
	Ask5V int64           `json:"ask5_v"`

	Timestamp int64 `json:"timestamp"`
}

// GetTicks fetches the current tick for one stock code, e.g. "600519.SH".
func (c *Client) GetTicks(ctx context.Context, stockCode string) (*domain.Quotes, error) {
	symbol, exchange, err := domain.ParseStockCode(stockCode)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/ticks/%s", c.baseURL, url.PathEscape(stockCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ticks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticks request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("ticks for %s: %w", stockCode, domain.ErrEntityDoesNotExist)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticks API returned status %d", resp.StatusCode)
	}

	var tick tickResponse
	if err := json.NewDecoder(resp.Body).Decode(&tick); err != nil {
		return nil, fmt.Errorf("failed to parse ticks response: %w", err)
	}

	q := tick.toQuotes(symbol, exchange)
	c.log.Debug().
		Str("stock", stockCode).
		Str("current", q.Current.String()).
		Msg("Ticks fetched")
	return q, nil
}

func (t *tickResponse) toQuotes(symbol string, exchange domain.Exchange) *domain.Quotes {
	q := &domain.Quotes{
		Symbol:    symbol,
		Exchange:  exchange,
		Current:   t.Current,
		Open:      t.Open,
		High:      t.High,
		Low:       t.Low,
		LastClose: t.LastClose,
		Bids: [5]domain.Level{
			{Price: t.Bid1P, Volume: t.Bid1V},
			{Price: t.Bid2P, Volume: t.Bid2V},
			{Price: t.Bid3P, Volume: t.Bid3V},
			{Price: t.Bid4P, Volume: t.Bid4V},
			{Price: t.Bid5P, Volume: t.Bid5V},
		},
		Asks: [5]domain.Level{
			{Price: t.Ask1P, Volume: t.Ask1V},
			{Price: t.Ask2P, Volume: t.Ask2V},
			{Price: t.Ask3P, Volume: t.Ask3V},
			{Price: t.Ask4P, Volume: t.Ask4V},
			{Price: t.Ask5P, Volume: t.Ask5V},
		},
	}
	if t.Timestamp > 0 {
		q.Timestamp = time.Unix(t.Timestamp, 0)
	} else {
		q.Timestamp = time.Now()
	}
	return q
}
