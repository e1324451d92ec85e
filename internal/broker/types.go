package broker

import "time"

// Timeframe identifies the bar aggregation interval
type Timeframe string

const (
	TimeframeMinute  Timeframe = "1Min"
	Timeframe5Minute Timeframe = "5Min"
	TimeframeHour    Timeframe = "1Hour"
	TimeframeDay     Timeframe = "1Day"
)

// Bar is a timestamped OHLCV tuple for one symbol at one timeframe
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Position is a non-zero holding in one symbol, refreshed from the broker
// at cycle start.
type Position struct {
	Symbol           string  `json:"symbol"`
	Qty              float64 `json:"qty"` // signed; negative is short
	AvgEntryPrice    float64 `json:"avg_entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	MarketValue      float64 `json:"market_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	DaysHeld         int     `json:"days_held"`
}

// AccountState is a point-in-time snapshot of the brokerage account.
// The broker remains the source of truth; this is never persisted as
// authoritative.
type AccountState struct {
	Equity         float64    `json:"equity"`
	Cash           float64    `json:"cash"`
	BuyingPower    float64    `json:"buying_power"`
	DaytradeCount  int        `json:"daytrade_count"`
	Positions      []Position `json:"positions"`
	Timestamp      time.Time  `json:"timestamp"`
	IsPaperAccount bool       `json:"is_paper_account"`
}

// Holding reports whether the account holds a non-zero position in symbol
func (a *AccountState) Holding(symbol string) bool {
	for _, p := range a.Positions {
		if p.Symbol == symbol && p.Qty != 0 {
			return true
		}
	}
	return false
}

// PositionFor returns the position for symbol, if held
func (a *AccountState) PositionFor(symbol string) (Position, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol && p.Qty != 0 {
			return p, true
		}
	}
	return Position{}, false
}

// GrossExposure returns sum(|market_value|) across positions
func (a *AccountState) GrossExposure() float64 {
	var total float64
	for _, p := range a.Positions {
		mv := p.MarketValue
		if mv < 0 {
			mv = -mv
		}
		total += mv
	}
	return total
}

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus is the broker-reported lifecycle state of an order
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether the order will not change state again
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// Order is a market order as reported by the broker
type Order struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Qty            float64     `json:"qty"`
	Side           OrderSide   `json:"side"`
	Status         OrderStatus `json:"status"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
}

// MarketStatus is the broker's view of the trading session
type MarketStatus struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// NewsArticle is one news item attributed to one or more symbols.
// ID is the source URL when available, else a hash of headline+timestamp.
type NewsArticle struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	Symbols   []string  `json:"symbols"`
}
