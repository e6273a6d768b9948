package price

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crypto-tracker/internal/types"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultCoinMarketCapURL = "https://pro-api.coinmarketcap.com/v1"
	DefaultTimeout          = 10 * time.Second

	apiKeyHeader = "X-CMC_PRO_API_KEY"
	quoteUSD     = "USD"
)

// Provider fetches quotes for a batch of symbols in one round trip.
type Provider interface {
	FetchQuotes(ctx context.Context, symbols []string) (map[string]types.Quote, error)
}

// Lister returns the market leaders by capitalisation.
type Lister interface {
	TopListings(ctx context.Context, limit int) ([]types.Listing, error)
}

type CoinMarketCap struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewCoinMarketCap(baseURL, apiKey string, timeout time.Duration) *CoinMarketCap {
	if baseURL == "" {
		baseURL = DefaultCoinMarketCapURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CoinMarketCap{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type cmcQuote struct {
	Price            *float64 `json:"price"`
	PercentChange24h *float64 `json:"percent_change_24h"`
	MarketCap        *float64 `json:"market_cap"`
}

type cmcEntry struct {
	Symbol  string               `json:"symbol"`
	Name    string               `json:"name"`
	CMCRank int                  `json:"cmc_rank"`
	Quote   map[string]*cmcQuote `json:"quote"`
}

// FetchQuotes calls quotes/latest once for all symbols.
func (c *CoinMarketCap) FetchQuotes(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	values := url.Values{}
	values.Set("symbol", strings.Join(symbols, ","))
	values.Set("convert", quoteUSD)
	// unknown symbols are dropped from data instead of failing the whole batch
	values.Set("skip_invalid", "true")

	var payload struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := c.get(ctx, "/cryptocurrency/quotes/latest", values, &payload); err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	quotes := make(map[string]types.Quote, len(symbols))
	for _, symbol := range symbols {
		raw, ok := payload.Data[symbol]
		if !ok {
			log.Debugf("No quote returned for %s", symbol)
			continue
		}

		quote, err := parseQuote(symbol, raw)
		if err != nil {
			log.WithField("symbol", symbol).Warn(err)
			continue
		}
		quote.FetchedAt = fetchedAt
		quotes[symbol] = quote
	}

	return quotes, nil
}

// parseQuote accepts either a single entry or a list of entries, in which case the first is used.
func parseQuote(symbol string, raw json.RawMessage) (types.Quote, error) {
	var entry cmcEntry

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []cmcEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return types.Quote{}, &ParseError{Symbol: symbol, Reason: err.Error()}
		}
		if len(entries) == 0 {
			return types.Quote{}, &ParseError{Symbol: symbol, Reason: "empty list"}
		}
		entry = entries[0]
	} else if err := json.Unmarshal(trimmed, &entry); err != nil {
		return types.Quote{}, &ParseError{Symbol: symbol, Reason: err.Error()}
	}

	usd, ok := entry.Quote[quoteUSD]
	if !ok || usd == nil {
		return types.Quote{}, &ParseError{Symbol: symbol, Reason: "no USD quote"}
	}
	if usd.Price == nil {
		return types.Quote{}, &ParseError{Symbol: symbol, Reason: "USD quote without price"}
	}

	return types.Quote{
		Symbol:           symbol,
		Price:            *usd.Price,
		PercentChange24h: deref(usd.PercentChange24h),
		MarketCap:        deref(usd.MarketCap),
	}, nil
}

func (c *CoinMarketCap) TopListings(ctx context.Context, limit int) ([]types.Listing, error) {
	values := url.Values{}
	values.Set("limit", strconv.Itoa(limit))
	values.Set("convert", quoteUSD)

	var payload struct {
		Data []cmcEntry `json:"data"`
	}
	if err := c.get(ctx, "/cryptocurrency/listings/latest", values, &payload); err != nil {
		return nil, err
	}

	listings := make([]types.Listing, 0, len(payload.Data))
	for _, entry := range payload.Data {
		usd := entry.Quote[quoteUSD]
		if usd == nil || usd.Price == nil {
			continue
		}
		listings = append(listings, types.Listing{
			Rank:             entry.CMCRank,
			Symbol:           entry.Symbol,
			Name:             entry.Name,
			Price:            *usd.Price,
			PercentChange24h: deref(usd.PercentChange24h),
			MarketCap:        deref(usd.MarketCap),
		})
	}
	return listings, nil
}

func (c *CoinMarketCap) get(ctx context.Context, path string, values url.Values, out interface{}) error {
	endpoint := c.baseURL + path + "?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &InternalError{Err: errors.Wrap(err, "create coinmarketcap request")}
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return classify(errors.Wrap(err, "decode coinmarketcap response"))
	}
	return nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
