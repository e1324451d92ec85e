package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/akindell/marketmind/internal/config"
)

// AlpacaBroker implements Broker and NewsProvider against the Alpaca
// paper-trading API.
type AlpacaBroker struct {
	tradeClient *alpaca.Client
	mdClient    *marketdata.Client
	feed        marketdata.Feed
	retry       RetryConfig
	logger      zerolog.Logger
}

var (
	_ Broker       = (*AlpacaBroker)(nil)
	_ NewsProvider = (*AlpacaBroker)(nil)
)

// NewAlpacaBroker creates a broker bound to the configured endpoint and
// verifies paper mode. A non-paper endpoint is a startup failure
// (ErrNotPaperEndpoint, exit code 3).
func NewAlpacaBroker(ctx context.Context, cfg config.BrokerConfig) (*AlpacaBroker, error) {
	if !strings.Contains(cfg.BaseURL, "paper") {
		return nil, fmt.Errorf("base url %q: %w", cfg.BaseURL, ErrNotPaperEndpoint)
	}

	b := &AlpacaBroker{
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		feed:   marketdata.Feed(cfg.Feed),
		retry:  DefaultRetryConfig(),
		logger: zerolog.Nop(),
	}
	if b.feed == "" {
		b.feed = marketdata.IEX
	}

	if err := b.probePaperMode(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// WithLogger attaches a component logger
func (b *AlpacaBroker) WithLogger(logger zerolog.Logger) *AlpacaBroker {
	b.logger = logger
	return b
}

// probePaperMode fetches the account and checks the paper-account marker.
// Alpaca paper account numbers carry a "PA" prefix.
func (b *AlpacaBroker) probePaperMode(ctx context.Context) error {
	acct, err := b.getRawAccount(ctx)
	if err != nil {
		return fmt.Errorf("paper-mode probe: %w", err)
	}
	if !strings.HasPrefix(acct.AccountNumber, "PA") {
		return fmt.Errorf("account %s: %w", acct.AccountNumber, ErrNotPaperEndpoint)
	}
	b.logger.Info().
		Str("account", acct.AccountNumber).
		Msg("Paper-mode probe passed")
	return nil
}

func (b *AlpacaBroker) getRawAccount(ctx context.Context) (*alpaca.Account, error) {
	var acct *alpaca.Account
	err := WithRetry(ctx, b.retry, "get_account", func() error {
		var opErr error
		acct, opErr = b.tradeClient.GetAccount()
		return classify("get_account", opErr)
	})
	return acct, err
}

// GetAccount returns the account snapshot including positions
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*AccountState, error) {
	acct, err := b.getRawAccount(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	return &AccountState{
		Equity:         acct.Equity.InexactFloat64(),
		Cash:           acct.Cash.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		DaytradeCount:  int(acct.DaytradeCount),
		Positions:      positions,
		Timestamp:      time.Now(),
		IsPaperAccount: strings.HasPrefix(acct.AccountNumber, "PA"),
	}, nil
}

// GetPositions returns all open positions
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]Position, error) {
	var raw []alpaca.Position
	err := WithRetry(ctx, b.retry, "get_positions", func() error {
		var opErr error
		raw, opErr = b.tradeClient.GetPositions()
		return classify("get_positions", opErr)
	})
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, mapPosition(p))
	}
	return positions, nil
}

func mapPosition(p alpaca.Position) Position {
	pos := Position{
		Symbol:        p.Symbol,
		Qty:           p.Qty.InexactFloat64(),
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
	}
	if p.CurrentPrice != nil {
		pos.CurrentPrice = p.CurrentPrice.InexactFloat64()
	}
	if p.MarketValue != nil {
		pos.MarketValue = p.MarketValue.InexactFloat64()
	}
	if p.UnrealizedPL != nil {
		pos.UnrealizedPnL = p.UnrealizedPL.InexactFloat64()
	}
	if p.UnrealizedPLPC != nil {
		pos.UnrealizedPnLPct = p.UnrealizedPLPC.InexactFloat64() * 100
	}
	return pos
}

// GetBars returns OHLCV bars for a symbol in [start, end]
func (b *AlpacaBroker) GetBars(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]Bar, error) {
	var raw []marketdata.Bar
	err := WithRetry(ctx, b.retry, "get_bars", func() error {
		var opErr error
		raw, opErr = b.mdClient.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: mapTimeframe(timeframe),
			Start:     start,
			End:       end,
			Feed:      b.feed,
		})
		return classify("get_bars", opErr)
	})
	if err != nil {
		return nil, err
	}

	bars := make([]Bar, 0, len(raw))
	for _, bar := range raw {
		bars = append(bars, Bar{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}
	return bars, nil
}

func mapTimeframe(tf Timeframe) marketdata.TimeFrame {
	switch tf {
	case TimeframeMinute:
		return marketdata.OneMin
	case Timeframe5Minute:
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case TimeframeHour:
		return marketdata.OneHour
	default:
		return marketdata.OneDay
	}
}

// GetLatestPrice returns the most recent trade price for a symbol
func (b *AlpacaBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	var trade *marketdata.Trade
	err := WithRetry(ctx, b.retry, "get_latest_price", func() error {
		var opErr error
		trade, opErr = b.mdClient.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: b.feed})
		return classify("get_latest_price", opErr)
	})
	if err != nil {
		return 0, err
	}
	if trade == nil {
		return 0, fmt.Errorf("no trade data for %s", symbol)
	}
	return trade.Price, nil
}

// GetMarketStatus returns the broker's market clock
func (b *AlpacaBroker) GetMarketStatus(ctx context.Context) (*MarketStatus, error) {
	var clock *alpaca.Clock
	err := WithRetry(ctx, b.retry, "get_market_status", func() error {
		var opErr error
		clock, opErr = b.tradeClient.GetClock()
		return classify("get_market_status", opErr)
	})
	if err != nil {
		return nil, err
	}
	return &MarketStatus{
		IsOpen:    clock.IsOpen,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// PlaceMarketOrder submits a day market order. The submission itself is not
// retried: a timeout after the network write has started must not produce a
// duplicate order.
func (b *AlpacaBroker) PlaceMarketOrder(ctx context.Context, symbol string, qty float64, side OrderSide) (*Order, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("invalid order qty %v for %s", qty, symbol)
	}

	q := decimal.NewFromFloat(qty)
	raw, err := b.tradeClient.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &q,
		Side:        alpaca.Side(side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		return nil, classify("place_market_order", err)
	}

	b.logger.Info().
		Str("symbol", symbol).
		Float64("qty", qty).
		Str("side", string(side)).
		Str("order_id", raw.ID).
		Msg("Market order submitted")

	order := mapOrder(raw)
	return &order, nil
}

// GetOrder returns the current state of an order
func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var raw *alpaca.Order
	err := WithRetry(ctx, b.retry, "get_order", func() error {
		var opErr error
		raw, opErr = b.tradeClient.GetOrder(orderID)
		return classify("get_order", opErr)
	})
	if err != nil {
		return nil, err
	}
	order := mapOrder(raw)
	return &order, nil
}

func mapOrder(o *alpaca.Order) Order {
	order := Order{
		ID:          o.ID,
		Symbol:      o.Symbol,
		Side:        OrderSide(o.Side),
		Status:      OrderStatus(o.Status),
		FilledQty:   o.FilledQty.InexactFloat64(),
		SubmittedAt: o.SubmittedAt,
		FilledAt:    o.FilledAt,
	}
	if o.Qty != nil {
		order.Qty = o.Qty.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		order.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return order
}

// GetNews returns news articles for the given symbols since a timestamp
func (b *AlpacaBroker) GetNews(ctx context.Context, symbols []string, since time.Time) ([]NewsArticle, error) {
	var raw []marketdata.News
	err := WithRetry(ctx, b.retry, "get_news", func() error {
		var opErr error
		raw, opErr = b.mdClient.GetNews(marketdata.GetNewsRequest{
			Symbols:    symbols,
			Start:      since,
			TotalLimit: 50 * max(len(symbols), 1),
		})
		return classify("get_news", opErr)
	})
	if err != nil {
		return nil, err
	}

	articles := make([]NewsArticle, 0, len(raw))
	for _, n := range raw {
		articles = append(articles, NewsArticle{
			ID:        newsArticleID(n.URL, n.Headline, n.CreatedAt),
			Timestamp: n.CreatedAt,
			Headline:  n.Headline,
			Summary:   n.Summary,
			Source:    n.Author,
			Symbols:   n.Symbols,
		})
	}
	return articles, nil
}

// newsArticleID prefers the source URL, falling back to a hash of
// headline+timestamp for items without one.
func newsArticleID(url, headline string, ts time.Time) string {
	if url != "" {
		return url
	}
	sum := sha256.Sum256([]byte(headline + strconv.FormatInt(ts.Unix(), 10)))
	return hex.EncodeToString(sum[:16])
}
