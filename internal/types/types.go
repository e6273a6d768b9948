package types

import (
	"strings"
	"time"
)

type AlertCondition string

const (
	ConditionAbove AlertCondition = "above"
	ConditionBelow AlertCondition = "below"
)

func (c AlertCondition) Valid() bool {
	return c == ConditionAbove || c == ConditionBelow
}

type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusTriggered AlertStatus = "triggered"
	StatusCancelled AlertStatus = "cancelled"
)

func (s AlertStatus) Valid() bool {
	return s == StatusActive || s == StatusTriggered || s == StatusCancelled
}

// Terminal reports whether no further transition is allowed.
func (s AlertStatus) Terminal() bool {
	return s == StatusTriggered || s == StatusCancelled
}

type Asset struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PriceAlert struct {
	ID          int64          `json:"id"`
	Symbol      string         `json:"symbol"`
	TargetPrice float64        `json:"target_price"`
	Condition   AlertCondition `json:"condition"`
	Status      AlertStatus    `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	TriggeredAt *time.Time     `json:"triggered_at"`
}

// Crossed reports whether price satisfies the alert condition. Equality fires.
func (a PriceAlert) Crossed(price float64) bool {
	switch a.Condition {
	case ConditionAbove:
		return price >= a.TargetPrice
	case ConditionBelow:
		return price <= a.TargetPrice
	}
	return false
}

type HistorySnapshot struct {
	ID            int64     `json:"id"`
	TotalValueUSD float64   `json:"value_usd"`
	Timestamp     time.Time `json:"timestamp"`
}

// Quote is a provider's current USD market data for one symbol.
type Quote struct {
	Symbol           string    `json:"symbol"`
	Price            float64   `json:"price"`
	PercentChange24h float64   `json:"percent_change_24h"`
	MarketCap        float64   `json:"market_cap"`
	FetchedAt        time.Time `json:"fetched_at"`
}

type Listing struct {
	Rank             int     `json:"rank"`
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Price            float64 `json:"price"`
	PercentChange24h float64 `json:"percent_change_24h"`
	MarketCap        float64 `json:"market_cap"`
}

type TriggeredEvent struct {
	ID               string         `json:"id"`
	AlertID          int64          `json:"alert_id"`
	Symbol           string         `json:"symbol"`
	CurrentPrice     float64        `json:"current_price"`
	TargetPrice      float64        `json:"target_price"`
	Condition        AlertCondition `json:"condition"`
	PercentChange24h float64        `json:"percent_change_24h"`
	MarketCap        float64        `json:"market_cap"`
	Timestamp        time.Time      `json:"triggered_at"`
}

// NormalizeSymbol trims and uppercases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
