package alert

import (
	"context"
	"sort"
	"time"

	"crypto-tracker/internal/metrics"
	"crypto-tracker/internal/notify"
	"crypto-tracker/internal/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Store is the persistence the evaluator needs.
type Store interface {
	ListActiveAlerts(ctx context.Context) ([]types.PriceAlert, error)
	TransitionAlertStatus(ctx context.Context, id int64, expected, next types.AlertStatus, at time.Time) (bool, error)
}

type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]types.Quote, error)
}

type CheckResult struct {
	Checked   int                    `json:"checked"`
	Triggered []types.TriggeredEvent `json:"triggered"`
}

// Evaluator compares active alerts with current quotes and fires the ones that crossed.
type Evaluator struct {
	store    Store
	prices   PriceSource
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEvaluator(store Store, prices PriceSource, notifier notify.Notifier, m *metrics.Metrics) *Evaluator {
	if m == nil {
		m = metrics.New()
	}
	return &Evaluator{
		store:    store,
		prices:   prices,
		notifier: notifier,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate fires every active alert whose symbol has a quote that crosses its target.
// Alerts already moved out of active by a concurrent caller are not fired twice.
func (e *Evaluator) Evaluate(ctx context.Context, alerts []types.PriceAlert) ([]types.TriggeredEvent, error) {
	e.metrics.AlertChecks.Inc()

	active := make([]types.PriceAlert, 0, len(alerts))
	seen := make(map[string]struct{})
	symbols := make([]string, 0)
	for _, a := range alerts {
		if a.Status != types.StatusActive {
			continue
		}
		a.Symbol = types.NormalizeSymbol(a.Symbol)
		active = append(active, a)
		if _, ok := seen[a.Symbol]; !ok {
			seen[a.Symbol] = struct{}{}
			symbols = append(symbols, a.Symbol)
		}
	}
	if len(active) == 0 {
		return []types.TriggeredEvent{}, nil
	}
	sort.Strings(symbols)

	quotes, err := e.prices.GetPrices(ctx, symbols)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch prices for alert evaluation")
	}

	fired := make([]types.TriggeredEvent, 0)
	for _, a := range active {
		quote, ok := quotes[a.Symbol]
		if !ok {
			log.WithFields(log.Fields{"alert_id": a.ID, "symbol": a.Symbol}).Warn("No price data for alert symbol, skipping")
			continue
		}

		log.Debugf("Checking alert %d | %s %s %.8f | current %.8f", a.ID, a.Symbol, a.Condition, a.TargetPrice, quote.Price)
		if !a.Crossed(quote.Price) {
			continue
		}

		at := e.now()
		ok, err := e.store.TransitionAlertStatus(ctx, a.ID, types.StatusActive, types.StatusTriggered, at)
		if err != nil {
			return fired, errors.Wrapf(err, "could not trigger alert %d", a.ID)
		}
		if !ok {
			log.Debugf("Alert %d was already moved out of active, not firing", a.ID)
			continue
		}

		event := types.TriggeredEvent{
			ID:               uuid.NewString(),
			AlertID:          a.ID,
			Symbol:           a.Symbol,
			CurrentPrice:     quote.Price,
			TargetPrice:      a.TargetPrice,
			Condition:        a.Condition,
			PercentChange24h: quote.PercentChange24h,
			MarketCap:        quote.MarketCap,
			Timestamp:        at,
		}
		e.metrics.AlertsTriggered.Inc()
		if e.notifier != nil {
			e.notifier.Notify(event)
		}
		log.WithFields(log.Fields{"alert_id": a.ID, "symbol": a.Symbol, "price": quote.Price}).Info("Alert triggered")
		fired = append(fired, event)
	}

	return fired, nil
}

// CheckActive loads the active alerts from the store and evaluates them.
func (e *Evaluator) CheckActive(ctx context.Context) (CheckResult, error) {
	alerts, err := e.store.ListActiveAlerts(ctx)
	if err != nil {
		return CheckResult{}, errors.Wrap(err, "could not load active alerts")
	}

	fired, err := e.Evaluate(ctx, alerts)
	if err != nil {
		return CheckResult{Checked: len(alerts), Triggered: fired}, err
	}
	e.metrics.ActiveAlerts.Set(float64(len(alerts) - len(fired)))

	return CheckResult{Checked: len(alerts), Triggered: fired}, nil
}
