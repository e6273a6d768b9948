package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

// rewriteTransport sends every request to the test server regardless of host.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func newPaprikaServer(t *testing.T, body string) (*CoinPaprika, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	target, _ := url.Parse(srv.URL)
	client := &http.Client{Timeout: time.Second, Transport: rewriteTransport{target: target}}
	return NewCoinPaprika(client, ""), srv.Close
}

const tickersPayload = `[
	{"id": "btc-bitcoin", "name": "Bitcoin", "symbol": "BTC", "quotes": {"USD": {"price": 100000, "market_cap": 2000000000000, "percent_change_24h": 1.5}}},
	{"id": "eth-ethereum", "name": "Ethereum", "symbol": "ETH", "quotes": {"USD": {"price": 4000, "market_cap": 480000000000, "percent_change_24h": -2}}},
	{"id": "btc-bitcoin-fork", "name": "Bitcoin Fork", "symbol": "BTC", "quotes": {"USD": {"price": 1, "market_cap": 10, "percent_change_24h": 0}}}
]`

func TestCoinPaprikaFetchQuotes(t *testing.T) {
	p, closeFn := newPaprikaServer(t, tickersPayload)
	defer closeFn()

	quotes, err := p.FetchQuotes(context.Background(), []string{"BTC", "SOL"})
	if err != nil {
		t.Fatalf("fetch quotes: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected only BTC, got %+v", quotes)
	}
	if quotes["BTC"].Price != 100000 {
		t.Fatalf("expected best ranked BTC ticker, got %+v", quotes["BTC"])
	}
}

func TestCoinPaprikaTopListings(t *testing.T) {
	p, closeFn := newPaprikaServer(t, tickersPayload)
	defer closeFn()

	listings, err := p.TopListings(context.Background(), 2)
	if err != nil {
		t.Fatalf("top listings: %v", err)
	}
	if len(listings) != 2 || listings[0].Name != "Bitcoin" || listings[1].Rank != 2 {
		t.Fatalf("unexpected listings %+v", listings)
	}
}
