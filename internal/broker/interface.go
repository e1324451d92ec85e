package broker

import (
	"context"
	"time"
)

// Broker is the paper-trading brokerage contract. Implementations must be
// safe for concurrent use; callers bound in-flight requests.
type Broker interface {
	// GetAccount returns the current account snapshot including positions
	GetAccount(ctx context.Context) (*AccountState, error)

	// GetPositions returns all open positions
	GetPositions(ctx context.Context) ([]Position, error)

	// GetBars returns OHLCV bars for a symbol in [start, end]
	GetBars(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]Bar, error)

	// GetLatestPrice returns the most recent trade price for a symbol
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)

	// GetMarketStatus returns the broker's market clock
	GetMarketStatus(ctx context.Context) (*MarketStatus, error)

	// PlaceMarketOrder submits a market order and returns the accepted order
	PlaceMarketOrder(ctx context.Context, symbol string, qty float64, side OrderSide) (*Order, error)

	// GetOrder returns the current state of an order
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// NewsProvider delivers news articles per symbol. The broker may double as
// the news provider.
type NewsProvider interface {
	GetNews(ctx context.Context, symbols []string, since time.Time) ([]NewsArticle, error)
}
