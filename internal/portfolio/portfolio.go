package portfolio

import (
	"context"
	"sort"
	"strings"
	"time"

	"crypto-tracker/internal/types"
	"crypto-tracker/lib/helpers"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

// rates are fixed amounts of each currency per USD.
var rates = map[string]decimal.Decimal{
	"USD":  decimal.NewFromInt(1),
	"EUR":  decimal.RequireFromString("0.92"),
	"FCFA": decimal.NewFromInt(605),
}

type Store interface {
	ListAssets(ctx context.Context) ([]types.Asset, error)
	CreateSnapshot(ctx context.Context, totalValueUSD float64) (types.HistorySnapshot, error)
	ListSnapshotsSince(ctx context.Context, since time.Time) ([]types.HistorySnapshot, error)
	PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]types.Quote, error)
}

type AssetValuation struct {
	Symbol           string  `json:"symbol"`
	Amount           float64 `json:"amount"`
	CurrentPrice     float64 `json:"current_price"`
	ValueUSD         float64 `json:"value_usd"`
	PercentChange24h float64 `json:"percent_change_24h"`
}

type Valuation struct {
	TotalValue    float64          `json:"total_value"`
	TotalValueUSD float64          `json:"total_value_usd"`
	Currency      string           `json:"currency"`
	Assets        []AssetValuation `json:"assets"`
	Unpriced      []string         `json:"unpriced,omitempty"`
	LastUpdated   time.Time        `json:"last_updated"`
}

type Allocation struct {
	Symbol     string  `json:"symbol"`
	ValueUSD   float64 `json:"value_usd"`
	Percentage float64 `json:"percentage"`
}

type Diversification struct {
	TotalValueUSD   float64      `json:"total_value_usd"`
	Diversification []Allocation `json:"diversification"`
}

type HistorySummary struct {
	PeriodDays    int                     `json:"period_days"`
	DataPoints    int                     `json:"data_points"`
	PercentChange float64                 `json:"percent_change"`
	Data          []types.HistorySnapshot `json:"data"`
}

// Service computes portfolio figures from stored holdings and cached quotes.
type Service struct {
	store  Store
	prices PriceSource
	now    func() time.Time
}

func NewService(store Store, prices PriceSource) *Service {
	return &Service{
		store:  store,
		prices: prices,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func Currencies() []string {
	out := make([]string, 0, len(rates))
	for c := range rates {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (s *Service) pricedAssets(ctx context.Context) ([]types.Asset, map[string]types.Quote, error) {
	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not list assets")
	}
	if len(assets) == 0 {
		return assets, map[string]types.Quote{}, nil
	}

	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		symbols = append(symbols, a.Symbol)
	}
	quotes, err := s.prices.GetPrices(ctx, symbols)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not fetch asset prices")
	}
	return assets, quotes, nil
}

func (s *Service) Valuation(ctx context.Context, currency string) (Valuation, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	if _, ok := rates[currency]; !ok {
		return Valuation{}, errors.Wrapf(ErrUnsupportedCurrency, "%q, use one of %s", currency, strings.Join(Currencies(), ", "))
	}

	assets, quotes, err := s.pricedAssets(ctx)
	if err != nil {
		return Valuation{}, err
	}

	out := Valuation{Currency: currency, Assets: make([]AssetValuation, 0, len(assets)), LastUpdated: s.now()}
	total := decimal.Zero
	for _, a := range assets {
		q, ok := quotes[a.Symbol]
		if !ok {
			log.WithField("symbol", a.Symbol).Warn("No price for asset, excluded from valuation")
			out.Unpriced = append(out.Unpriced, a.Symbol)
			continue
		}
		value := decimal.NewFromFloat(a.Amount).Mul(decimal.NewFromFloat(q.Price))
		total = total.Add(value)
		out.Assets = append(out.Assets, AssetValuation{
			Symbol:           a.Symbol,
			Amount:           a.Amount,
			CurrentPrice:     q.Price,
			ValueUSD:         value.InexactFloat64(),
			PercentChange24h: q.PercentChange24h,
		})
	}

	out.TotalValueUSD = total.Round(2).InexactFloat64()
	out.TotalValue = total.Mul(rates[currency]).Round(2).InexactFloat64()
	log.Debugf("Portfolio valued at %s over %d assets", helpers.FormatUSD(out.TotalValueUSD), len(out.Assets))
	return out, nil
}

// Diversification groups holdings by symbol, largest position first.
func (s *Service) Diversification(ctx context.Context) (Diversification, error) {
	assets, quotes, err := s.pricedAssets(ctx)
	if err != nil {
		return Diversification{}, err
	}

	bySymbol := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, a := range assets {
		q, ok := quotes[a.Symbol]
		if !ok {
			continue
		}
		value := decimal.NewFromFloat(a.Amount).Mul(decimal.NewFromFloat(q.Price))
		bySymbol[a.Symbol] = bySymbol[a.Symbol].Add(value)
		total = total.Add(value)
	}

	items := make([]Allocation, 0, len(bySymbol))
	for symbol, value := range bySymbol {
		pct := decimal.Zero
		if total.IsPositive() {
			pct = value.Div(total).Mul(decimal.NewFromInt(100))
		}
		items = append(items, Allocation{
			Symbol:     symbol,
			ValueUSD:   value.Round(2).InexactFloat64(),
			Percentage: pct.Round(2).InexactFloat64(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ValueUSD != items[j].ValueUSD {
			return items[i].ValueUSD > items[j].ValueUSD
		}
		return items[i].Symbol < items[j].Symbol
	})

	return Diversification{TotalValueUSD: total.Round(2).InexactFloat64(), Diversification: items}, nil
}

// SaveSnapshot records the current USD valuation in the history.
func (s *Service) SaveSnapshot(ctx context.Context) (types.HistorySnapshot, error) {
	v, err := s.Valuation(ctx, "USD")
	if err != nil {
		return types.HistorySnapshot{}, err
	}
	snap, err := s.store.CreateSnapshot(ctx, v.TotalValueUSD)
	if err != nil {
		return types.HistorySnapshot{}, errors.Wrap(err, "could not save portfolio snapshot")
	}
	log.Infof("Portfolio snapshot saved: %s", helpers.FormatUSD(snap.TotalValueUSD))
	return snap, nil
}

// History returns the snapshots of the last days with the change between first and last.
func (s *Service) History(ctx context.Context, days int) (HistorySummary, error) {
	if days < 1 {
		return HistorySummary{}, errors.Errorf("days must be positive, got %d", days)
	}
	since := s.now().AddDate(0, 0, -days)
	snaps, err := s.store.ListSnapshotsSince(ctx, since)
	if err != nil {
		return HistorySummary{}, errors.Wrap(err, "could not load portfolio history")
	}

	out := HistorySummary{PeriodDays: days, DataPoints: len(snaps), Data: snaps}
	if len(snaps) >= 2 {
		initial := decimal.NewFromFloat(snaps[0].TotalValueUSD)
		final := decimal.NewFromFloat(snaps[len(snaps)-1].TotalValueUSD)
		if initial.IsPositive() {
			out.PercentChange = final.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
	}
	return out, nil
}

// Purge deletes snapshots older than the retention window.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.Errorf("retention must be positive, got %s", retention)
	}
	n, err := s.store.PurgeSnapshotsBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, errors.Wrap(err, "could not purge portfolio history")
	}
	if n > 0 {
		log.Infof("Purged %d portfolio snapshots older than %s", n, retention)
	}
	return n, nil
}
