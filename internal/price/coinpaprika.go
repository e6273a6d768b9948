package price

import (
	"context"
	"net/http"
	"strings"
	"time"

	"crypto-tracker/internal/types"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
)

// CoinPaprika serves quotes from the full ticker list, one request per batch.
type CoinPaprika struct {
	client *coinpaprika.Client
}

func NewCoinPaprika(httpClient *http.Client, apiProKey string) *CoinPaprika {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if apiProKey != "" {
		return &CoinPaprika{client: coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(apiProKey))}
	}
	return &CoinPaprika{client: coinpaprika.NewClient(httpClient)}
}

// tickers runs the blocking client call so that ctx can still cut the wait short.
func (p *CoinPaprika) tickers(ctx context.Context) ([]*coinpaprika.Ticker, error) {
	type result struct {
		tickers []*coinpaprika.Ticker
		err     error
	}
	done := make(chan result, 1)
	go func() {
		tickers, err := p.client.Tickers.List(&coinpaprika.TickersOptions{Quotes: quoteUSD})
		done <- result{tickers, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &TimeoutError{Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			classified := classify(r.err)
			if _, internal := classified.(*InternalError); internal {
				// the client does not expose the status code, only its message
				return nil, &UpstreamError{Body: r.err.Error()}
			}
			return nil, classified
		}
		return r.tickers, nil
	}
}

func (p *CoinPaprika) FetchQuotes(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	tickers, err := p.tickers(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}

	fetchedAt := time.Now().UTC()
	quotes := make(map[string]types.Quote, len(symbols))
	// the list is rank ordered, so the first ticker for a symbol is the best ranked one
	for _, ticker := range tickers {
		if ticker == nil || ticker.Symbol == nil {
			continue
		}
		symbol := strings.ToUpper(*ticker.Symbol)
		if _, ok := wanted[symbol]; !ok {
			continue
		}
		if _, seen := quotes[symbol]; seen {
			continue
		}

		usd, ok := ticker.Quotes[quoteUSD]
		if !ok || usd.Price == nil {
			continue
		}
		quotes[symbol] = types.Quote{
			Symbol:           symbol,
			Price:            *usd.Price,
			PercentChange24h: deref(usd.PercentChange24h),
			MarketCap:        deref(usd.MarketCap),
			FetchedAt:        fetchedAt,
		}
	}

	return quotes, nil
}

func (p *CoinPaprika) TopListings(ctx context.Context, limit int) ([]types.Listing, error) {
	tickers, err := p.tickers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coinpaprika tickers")
	}

	listings := make([]types.Listing, 0, limit)
	for _, ticker := range tickers {
		if len(listings) >= limit {
			break
		}
		if ticker == nil || ticker.Symbol == nil || ticker.Name == nil {
			continue
		}
		usd, ok := ticker.Quotes[quoteUSD]
		if !ok || usd.Price == nil {
			continue
		}
		listings = append(listings, types.Listing{
			Rank:             len(listings) + 1,
			Symbol:           *ticker.Symbol,
			Name:             *ticker.Name,
			Price:            *usd.Price,
			PercentChange24h: deref(usd.PercentChange24h),
			MarketCap:        deref(usd.MarketCap),
		})
	}
	return listings, nil
}
