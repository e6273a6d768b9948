package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crypto-tracker/internal/alert"
	"crypto-tracker/internal/database"
	"crypto-tracker/internal/metrics"
	"crypto-tracker/internal/portfolio"
	"crypto-tracker/internal/price"
	"crypto-tracker/internal/types"
)

type fakeProvider struct {
	mu     sync.Mutex
	quotes map[string]float64
	err    error
}

func (f *fakeProvider) set(quotes map[string]float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes, f.err = quotes, err
}

func (f *fakeProvider) FetchQuotes(_ context.Context, symbols []string) (map[string]types.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]types.Quote)
	for _, s := range symbols {
		if p, ok := f.quotes[s]; ok {
			out[s] = types.Quote{Symbol: s, Price: p}
		}
	}
	return out, nil
}

func (f *fakeProvider) TopListings(_ context.Context, limit int) ([]types.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []types.Listing{{Rank: 1, Symbol: "BTC", Name: "Bitcoin", Price: f.quotes["BTC"]}}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.TriggeredEvent
}

func (n *recordingNotifier) Notify(e types.TriggeredEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

type testEnv struct {
	server   *Server
	store    *database.Store
	provider *fakeProvider
	notifier *recordingNotifier
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New()
	provider := &fakeProvider{quotes: map[string]float64{"BTC": 60000, "ETH": 3000}}
	// zero TTL keeps every request hitting the provider so tests can change prices
	cache := price.NewCache(provider, time.Nanosecond, m)
	notifier := &recordingNotifier{}
	evaluator := alert.NewEvaluator(store, cache, notifier, m)
	scheduler := alert.NewScheduler(evaluator, time.Hour, m)

	server := NewServer(Options{
		Store:     store,
		Portfolio: portfolio.NewService(store, cache),
		Checker:   evaluator,
		Scheduler: scheduler,
		Market:    provider,
	})
	return &testEnv{server: server, store: store, provider: provider, notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	resp := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", resp.Body.String(), err)
	}
}

func TestAssetHandlers(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodPost, "/portfolio/assets", map[string]interface{}{"symbol": "btc", "amount": 0.5})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created types.Asset
	decode(t, resp, &created)
	if created.Symbol != "BTC" || created.Amount != 0.5 {
		t.Fatalf("unexpected asset %+v", created)
	}

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/portfolio/assets/%d", created.ID), map[string]interface{}{"amount": 1.5})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(t, http.MethodGet, "/portfolio/assets", nil)
	var assets []types.Asset
	decode(t, resp, &assets)
	if len(assets) != 1 || assets[0].Amount != 1.5 {
		t.Fatalf("unexpected assets %+v", assets)
	}

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/portfolio/assets/%d", created.ID), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/portfolio/assets/%d", created.ID), nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestAssetValidation(t *testing.T) {
	env := setupServer(t)

	cases := []map[string]interface{}{
		{"symbol": "B", "amount": 1},
		{"symbol": "TOOLONGSYMBOL", "amount": 1},
		{"symbol": "BTC", "amount": 0},
		{"symbol": "BTC", "amount": -1},
	}
	for _, body := range cases {
		if resp := env.do(t, http.MethodPost, "/portfolio/assets", body); resp.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", body, resp.Code)
		}
	}
	if resp := env.do(t, http.MethodPut, "/portfolio/assets/abc", map[string]interface{}{"amount": 1}); resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", resp.Code)
	}
}

func TestValuationAndDiversification(t *testing.T) {
	env := setupServer(t)
	env.do(t, http.MethodPost, "/portfolio/assets", map[string]interface{}{"symbol": "BTC", "amount": 1})
	env.do(t, http.MethodPost, "/portfolio/assets", map[string]interface{}{"symbol": "ETH", "amount": 10})

	resp := env.do(t, http.MethodGet, "/portfolio/valuation?currency=EUR", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var v portfolio.Valuation
	decode(t, resp, &v)
	if v.Currency != "EUR" || v.TotalValue != 82800 || v.TotalValueUSD != 90000 {
		t.Errorf("unexpected valuation %+v", v)
	}

	if resp := env.do(t, http.MethodGet, "/portfolio/valuation?currency=JPY", nil); resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported currency, got %d", resp.Code)
	}

	resp = env.do(t, http.MethodGet, "/portfolio/diversification", nil)
	var d portfolio.Diversification
	decode(t, resp, &d)
	if len(d.Diversification) != 2 || d.Diversification[0].Symbol != "BTC" || d.Diversification[0].Percentage != 66.67 {
		t.Errorf("unexpected diversification %+v", d)
	}
}

func TestHistoryHandlers(t *testing.T) {
	env := setupServer(t)
	env.do(t, http.MethodPost, "/portfolio/assets", map[string]interface{}{"symbol": "BTC", "amount": 1})

	resp := env.do(t, http.MethodPost, "/portfolio/history/save", nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	if resp := env.do(t, http.MethodGet, "/portfolio/history/chart?days=7", nil); resp.Code != http.StatusNotFound {
		t.Errorf("expected 404 with a single snapshot, got %d", resp.Code)
	}

	env.provider.set(map[string]float64{"BTC": 66000}, nil)
	env.do(t, http.MethodPost, "/portfolio/history/save", nil)

	resp = env.do(t, http.MethodGet, "/portfolio/history?days=7", nil)
	var h portfolio.HistorySummary
	decode(t, resp, &h)
	if h.DataPoints != 2 || h.PercentChange != 10 {
		t.Errorf("unexpected history %+v", h)
	}

	resp = env.do(t, http.MethodGet, "/portfolio/history/chart?days=7", nil)
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != "image/png" {
		t.Errorf("expected a PNG, got %d %s", resp.Code, resp.Header().Get("Content-Type"))
	}

	if resp := env.do(t, http.MethodGet, "/portfolio/history?days=0", nil); resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.Code)
	}

	resp = env.do(t, http.MethodDelete, "/portfolio/history?older_than_days=30", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var purged struct {
		Deleted int64 `json:"deleted"`
	}
	decode(t, resp, &purged)
	if purged.Deleted != 0 {
		t.Errorf("recent snapshots must survive, deleted %d", purged.Deleted)
	}
}

func TestAlertHandlersAndManualCheck(t *testing.T) {
	env := setupServer(t)

	for _, body := range []map[string]interface{}{
		{"symbol": "BTC", "target_price": 60000, "condition": "above"},
		{"symbol": "ETH", "target_price": 2000, "condition": "below"},
		{"symbol": "SOL", "target_price": 10, "condition": "above"},
	} {
		if resp := env.do(t, http.MethodPost, "/alerts", body); resp.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
		}
	}

	resp := env.do(t, http.MethodPost, "/alerts/check", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var check checkResponse
	decode(t, resp, &check)
	if check.Checked != 3 || len(check.Triggered) != 1 || check.Triggered[0].Symbol != "BTC" {
		t.Errorf("unexpected check response %+v", check)
	}
	if check.SchedulerStatus != "stopped" || check.SchedulerInterval != "3600s" {
		t.Errorf("unexpected scheduler fields %+v", check)
	}
	if len(env.notifier.events) != 1 {
		t.Errorf("expected 1 notification, got %d", len(env.notifier.events))
	}

	resp = env.do(t, http.MethodGet, "/alerts?status=triggered", nil)
	var triggered []types.PriceAlert
	decode(t, resp, &triggered)
	if len(triggered) != 1 || triggered[0].TriggeredAt == nil {
		t.Fatalf("unexpected triggered alerts %+v", triggered)
	}

	// a second check must not fire the same alert again
	resp = env.do(t, http.MethodPost, "/alerts/check", nil)
	decode(t, resp, &check)
	if check.Checked != 2 || len(check.Triggered) != 0 {
		t.Errorf("unexpected second check %+v", check)
	}

	if resp := env.do(t, http.MethodPost, fmt.Sprintf("/alerts/%d/cancel", triggered[0].ID), nil); resp.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling a triggered alert, got %d", resp.Code)
	}
	if resp := env.do(t, http.MethodDelete, fmt.Sprintf("/alerts/%d", triggered[0].ID), nil); resp.Code != http.StatusOK {
		t.Errorf("expected 200 deleting, got %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/alerts?status=bogus", nil); resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad status filter, got %d", resp.Code)
	}
}

func TestCreateAlertValidation(t *testing.T) {
	env := setupServer(t)
	cases := []map[string]interface{}{
		{"symbol": "BTC", "target_price": 0, "condition": "above"},
		{"symbol": "BTC", "target_price": 10, "condition": "sideways"},
		{"symbol": "X", "target_price": 10, "condition": "below"},
	}
	for _, body := range cases {
		if resp := env.do(t, http.MethodPost, "/alerts", body); resp.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestManualCheckMapsProviderErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&price.UpstreamError{StatusCode: 429, Body: "rate limited"}, http.StatusBadGateway},
		{&price.TimeoutError{Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&price.InternalError{Err: fmt.Errorf("unexpected EOF")}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		env := setupServer(t)
		env.do(t, http.MethodPost, "/alerts", map[string]interface{}{"symbol": "BTC", "target_price": 1, "condition": "above"})
		env.provider.set(nil, tc.err)

		resp := env.do(t, http.MethodPost, "/alerts/check", nil)
		if resp.Code != tc.want {
			t.Errorf("%T: expected %d, got %d", tc.err, tc.want, resp.Code)
		}
		if resp := env.do(t, http.MethodGet, "/market/top", nil); resp.Code != tc.want {
			t.Errorf("market %T: expected %d, got %d", tc.err, tc.want, resp.Code)
		}
	}
}

func TestSchedulerStatusAndRoot(t *testing.T) {
	env := setupServer(t)

	resp := env.do(t, http.MethodGet, "/alerts/status", nil)
	var st alert.Status
	decode(t, resp, &st)
	if st.Running || st.IntervalSeconds != 3600 {
		t.Errorf("unexpected status %+v", st)
	}

	if resp := env.do(t, http.MethodGet, "/", nil); resp.Code != http.StatusOK {
		t.Errorf("expected 200 for index, got %d", resp.Code)
	}

	resp = env.do(t, http.MethodGet, "/market/top?limit=1", nil)
	var top struct {
		TopCryptos []types.Listing `json:"top_cryptos"`
	}
	decode(t, resp, &top)
	if len(top.TopCryptos) != 1 || top.TopCryptos[0].Symbol != "BTC" {
		t.Errorf("unexpected listings %+v", top)
	}
	if resp := env.do(t, http.MethodGet, "/market/top?limit=0", nil); resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.Code)
	}
}
