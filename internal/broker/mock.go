package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockBroker is an in-memory Broker and NewsProvider for tests. Prices,
// bars, and failures are set explicitly by the test.
type MockBroker struct {
	mu sync.Mutex

	Account      AccountState
	Bars         map[string][]Bar
	Prices       map[string]float64
	News         []NewsArticle
	Market       MarketStatus
	FillOrders   bool // when true, placed orders fill immediately
	FailNextOp   error
	PlacedOrders []Order

	orderSeq int
	orders   map[string]*Order
}

var (
	_ Broker       = (*MockBroker)(nil)
	_ NewsProvider = (*MockBroker)(nil)
)

// NewMockBroker creates a mock with a funded flat paper account
func NewMockBroker() *MockBroker {
	return &MockBroker{
		Account: AccountState{
			Equity:         100000,
			Cash:           100000,
			BuyingPower:    100000,
			IsPaperAccount: true,
			Timestamp:      time.Now(),
		},
		Bars:       make(map[string][]Bar),
		Prices:     make(map[string]float64),
		Market:     MarketStatus{IsOpen: true},
		FillOrders: true,
		orders:     make(map[string]*Order),
	}
}

func (m *MockBroker) takeFailure() error {
	err := m.FailNextOp
	m.FailNextOp = nil
	return err
}

// SetPosition installs or replaces a position on the mock account
func (m *MockBroker) SetPosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Account.Positions {
		if m.Account.Positions[i].Symbol == p.Symbol {
			m.Account.Positions[i] = p
			return
		}
	}
	m.Account.Positions = append(m.Account.Positions, p)
}

func (m *MockBroker) GetAccount(ctx context.Context) (*AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	snapshot := m.Account
	snapshot.Positions = append([]Position(nil), m.Account.Positions...)
	snapshot.Timestamp = time.Now()
	return &snapshot, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	return append([]Position(nil), m.Account.Positions...), nil
}

func (m *MockBroker) GetBars(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	return append([]Bar(nil), m.Bars[symbol]...), nil
}

func (m *MockBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price set for %s", symbol)
	}
	return price, nil
}

func (m *MockBroker) GetMarketStatus(ctx context.Context) (*MarketStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	status := m.Market
	return &status, nil
}

func (m *MockBroker) PlaceMarketOrder(ctx context.Context, symbol string, qty float64, side OrderSide) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("invalid order qty %v for %s", qty, symbol)
	}

	m.orderSeq++
	order := &Order{
		ID:          fmt.Sprintf("mock-order-%d", m.orderSeq),
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Status:      OrderStatusAccepted,
		SubmittedAt: time.Now(),
	}
	if m.FillOrders {
		now := time.Now()
		order.Status = OrderStatusFilled
		order.FilledQty = qty
		order.FilledAvgPrice = m.Prices[symbol]
		order.FilledAt = &now
	}
	m.orders[order.ID] = order
	m.PlacedOrders = append(m.PlacedOrders, *order)
	return order, nil
}

func (m *MockBroker) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	copied := *order
	return &copied, nil
}

func (m *MockBroker) GetNews(ctx context.Context, symbols []string, since time.Time) ([]NewsArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []NewsArticle
	for _, a := range m.News {
		if a.Timestamp.Before(since) {
			continue
		}
		for _, s := range a.Symbols {
			if want[s] {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}
