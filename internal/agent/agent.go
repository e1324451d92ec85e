// Package agent runs the trading decision cycle: account refresh, overnight
// hand-off, position reviews, and new-opportunity scans, with every decision
// validated by the risk gate and recorded before capital moves.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/akindell/marketmind/internal/alerts"
	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/indicators"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/marketclock"
	"github.com/akindell/marketmind/internal/metrics"
	"github.com/akindell/marketmind/internal/news"
	"github.com/akindell/marketmind/internal/prompt"
	"github.com/akindell/marketmind/internal/response"
	"github.com/akindell/marketmind/internal/risk"
	"github.com/akindell/marketmind/internal/store"
	"github.com/akindell/marketmind/internal/universe"
)

// ErrTradingHalted is returned by cycle entry points after a fatal broker
// error has stopped the engine.
var ErrTradingHalted = errors.New("trading halted")

const (
	// capitalConstraintRatio is the buying-power-to-equity ratio below
	// which cycles run under CAPITAL_CONSTRAINT and opportunity scans stop.
	capitalConstraintRatio = 0.05

	// overnightMaxAge bounds how old an overnight sell recommendation may
	// be and still be executed at the next open.
	overnightMaxAge = 18 * time.Hour

	// orderPollInterval is the fill-wait polling cadence
	orderPollInterval = time.Second

	defaultOpportunityBudget = 10
	barLookbackDays          = 200
)

// Deps are the collaborators the agent drives. News, Universe, and Alerts
// are optional; nil gets a working default or disables the concern.
type Deps struct {
	Broker   broker.Broker
	Model    llm.Model
	Clock    *marketclock.Clock
	Store    *store.Store
	News     *news.Service
	Universe *universe.Manager
	Alerts   *alerts.Manager
}

// Agent owns the trading cycle. One cycle runs at a time; collaborator
// concurrency is bounded by the semaphores regardless of caller behavior.
type Agent struct {
	cfg       *config.Config
	broker    broker.Broker
	model     llm.Model
	clock     *marketclock.Clock
	store     *store.Store
	news      *news.Service
	universe  *universe.Manager
	alerts    *alerts.Manager
	engine    *indicators.Engine
	assembler *prompt.Assembler
	parser    *response.Parser
	gate      *risk.Gate
	profile   prompt.Profile
	logger    zerolog.Logger

	brokerSem *semaphore.Weighted
	modelSem  *semaphore.Weighted

	mu      sync.Mutex
	day     dayLedger
	halted  bool
	haltErr error
	regime  *prompt.RegimeContext
}

// dayLedger tracks per-date trade counts and the opening equity used for
// drawdown checks. It resets on the first cycle of each market date.
type dayLedger struct {
	date        string
	startEquity float64
	trades      int
}

// New creates an agent. The risk gate, prompt assembler, and parser are
// internal; callers supply only the external collaborators.
func New(cfg *config.Config, deps Deps) *Agent {
	logger := config.NewLogger("agent")

	if deps.Alerts == nil {
		deps.Alerts = alerts.NewManager()
	}
	if deps.Universe == nil {
		deps.Universe = universe.NewManager(cfg.Universe)
	}

	brokerInflight := int64(cfg.Broker.MaxInflight)
	if brokerInflight < 1 {
		brokerInflight = 4
	}
	modelInflight := int64(cfg.Model.MaxInflight)
	if modelInflight < 1 {
		modelInflight = 1
	}

	profile := prompt.Profile(cfg.Trading.Profile)
	return &Agent{
		cfg:       cfg,
		broker:    deps.Broker,
		model:     deps.Model,
		clock:     deps.Clock,
		store:     deps.Store,
		news:      deps.News,
		universe:  deps.Universe,
		alerts:    deps.Alerts,
		engine:    indicators.NewEngine(config.NewLogger("indicators")),
		assembler: prompt.NewAssembler(),
		parser:    response.NewParser(),
		gate:      risk.NewGate(cfg.Risk, profile),
		profile:   profile,
		logger:    logger,
		brokerSem: semaphore.NewWeighted(brokerInflight),
		modelSem:  semaphore.NewWeighted(modelInflight),
	}
}

// Halted reports whether a fatal broker error has stopped trading
func (a *Agent) Halted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.halted
}

func (a *Agent) halt(err error) {
	a.mu.Lock()
	a.halted = true
	a.haltErr = err
	a.mu.Unlock()
}

// cycleRun is the per-cycle working state. Routing is fixed against the
// positions held when the cycle began: a symbol bought mid-cycle is not
// reviewed, and a symbol sold mid-cycle is not re-bought.
type cycleRun struct {
	state       marketclock.State
	trigger     prompt.Trigger
	account     *broker.AccountState
	heldAtStart map[string]broker.Position
	sold        map[string]bool
	safeMode    bool
	alerted     bool
}

// RunCycle executes one full trading cycle for the given session state.
// States other than ACTIVE_TRADING are a no-op. A returned error means the
// cycle aborted and the scheduler should simply wait for the next slot.
func (a *Agent) RunCycle(ctx context.Context, state marketclock.State) error {
	if a.Halted() {
		return ErrTradingHalted
	}
	if state != marketclock.StateActiveTrading {
		a.logger.Debug().Str("state", string(state)).Msg("Cycle skipped outside active trading")
		return nil
	}

	c, err := a.beginCycle(ctx, state)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("aborted").Inc()
		return err
	}

	if err := a.overnightHandoff(ctx, c); err != nil {
		return a.abortCycle(err)
	}
	if err := a.reviewPositions(ctx, c); err != nil {
		return a.abortCycle(err)
	}
	if err := a.scanOpportunities(ctx, c); err != nil {
		return a.abortCycle(err)
	}

	status := "completed"
	if c.safeMode {
		status = "safe_mode"
	}
	metrics.CyclesTotal.WithLabelValues(status).Inc()
	a.logger.Info().
		Str("status", status).
		Str("trigger", string(c.trigger)).
		Int("positions", len(c.heldAtStart)).
		Msg("Trading cycle finished")
	return nil
}

func (a *Agent) abortCycle(err error) error {
	metrics.CyclesTotal.WithLabelValues("aborted").Inc()
	return err
}

// beginCycle refreshes the account and classifies the cycle trigger. The
// broker snapshot is the sole source of position truth.
func (a *Agent) beginCycle(ctx context.Context, state marketclock.State) (*cycleRun, error) {
	account, err := a.refreshAccount(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("Account refresh failed, aborting cycle")
		return nil, fmt.Errorf("account refresh: %w", err)
	}

	a.rollDay(account)
	metrics.AccountEquity.Set(account.Equity)
	if account.Equity > 0 {
		metrics.PortfolioExposurePct.Set(account.GrossExposure() / account.Equity * 100)
	}

	trigger := prompt.TriggerScheduledCycle
	if account.Equity > 0 && account.BuyingPower/account.Equity < capitalConstraintRatio {
		trigger = prompt.TriggerCapitalConstraint
		a.logger.Warn().
			Float64("buying_power", account.BuyingPower).
			Float64("equity", account.Equity).
			Msg("Capital constrained cycle")
	}

	held := make(map[string]broker.Position, len(account.Positions))
	for _, p := range account.Positions {
		if p.Qty != 0 {
			held[p.Symbol] = p
		}
	}

	return &cycleRun{
		state:       state,
		trigger:     trigger,
		account:     account,
		heldAtStart: held,
		sold:        make(map[string]bool),
	}, nil
}

func (a *Agent) refreshAccount(ctx context.Context) (*broker.AccountState, error) {
	if err := a.brokerSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.brokerSem.Release(1)

	var account *broker.AccountState
	err := broker.WithRetry(ctx, broker.DefaultRetryConfig(), "get_account", func() error {
		bctx, cancel := context.WithTimeout(ctx, a.cfg.BrokerTimeout())
		defer cancel()
		var inner error
		account, inner = a.broker.GetAccount(bctx)
		return inner
	})
	if err != nil {
		metrics.BrokerErrorsTotal.WithLabelValues(metrics.NormalizeBrokerError(err)).Inc()
		return nil, err
	}
	return account, nil
}

func (a *Agent) rollDay(account *broker.AccountState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	date := a.clock.Now().Format("2006-01-02")
	if a.day.date != date {
		a.day = dayLedger{date: date, startEquity: account.Equity}
	}
}

func (a *Agent) dayState(account *broker.AccountState) risk.DayState {
	a.mu.Lock()
	defer a.mu.Unlock()
	var drawdown float64
	if a.day.startEquity > 0 && account.Equity < a.day.startEquity {
		drawdown = (a.day.startEquity - account.Equity) / a.day.startEquity * 100
	}
	return risk.DayState{TradesExecuted: a.day.trades, DrawdownPct: drawdown}
}

func (a *Agent) countTrade() {
	a.mu.Lock()
	a.day.trades++
	a.mu.Unlock()
}

// overnightHandoff executes fresh, confident overnight sell recommendations
// for held symbols before any intraday analysis runs.
func (a *Agent) overnightHandoff(ctx context.Context, c *cycleRun) error {
	now := a.clock.Now()
	dates := []string{
		now.Format("2006-01-02"),
		now.AddDate(0, 0, -1).Format("2006-01-02"),
	}
	minSell := float64(a.profile.Params().MinSellConf)

	for symbol, pos := range c.heldAtStart {
		var rec *store.OvernightRecord
		for _, date := range dates {
			r, err := a.store.OvernightAnalysis(ctx, symbol, date)
			if err != nil {
				return a.storageFailure(ctx, symbol, err)
			}
			if r != nil {
				rec = r
				break
			}
		}
		if rec == nil || rec.Action != "sell" {
			continue
		}
		if rec.Confidence < minSell {
			a.logger.Debug().
				Str("symbol", symbol).
				Float64("confidence", rec.Confidence).
				Msg("Overnight sell below profile threshold, skipping")
			continue
		}
		if now.Sub(rec.Timestamp) > overnightMaxAge {
			a.logger.Debug().Str("symbol", symbol).Msg("Overnight sell too old, skipping")
			continue
		}

		d := &response.Decision{
			Symbol:        symbol,
			Action:        "sell",
			Shares:        int(math.Abs(pos.Qty)),
			PriceSnapshot: pos.CurrentPrice,
			Confidence:    int(rec.Confidence),
			Sentiment:     "bearish",
			Reasoning:     "overnight handoff: " + rec.Reasoning,
			Timestamp:     now,
			Trigger:       c.trigger,
			QueryType:     prompt.QueryPositionReview,
		}
		executed, err := a.finalize(ctx, c, d, &pos)
		if err != nil {
			return err
		}
		if executed {
			c.sold[symbol] = true
		}
	}
	return nil
}

// reviewPositions runs POSITION_REVIEW for every symbol held at cycle
// start that survived the overnight hand-off.
func (a *Agent) reviewPositions(ctx context.Context, c *cycleRun) error {
	for symbol, pos := range c.heldAtStart {
		if c.sold[symbol] {
			continue
		}
		d, err := a.analyze(ctx, c, symbol, prompt.QueryPositionReview, &pos)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		if _, err := a.finalize(ctx, c, d, &pos); err != nil {
			return err
		}
	}
	return nil
}

// scanOpportunities runs NEW_OPPORTUNITY queries over the tracked universe
// after re-reading the account, stopping at the query budget or when
// buying power drops below the floor.
func (a *Agent) scanOpportunities(ctx context.Context, c *cycleRun) error {
	account, err := a.refreshAccount(ctx)
	if err != nil {
		return fmt.Errorf("account refresh before opportunity scan: %w", err)
	}
	c.account = account

	budget := a.cfg.Trading.NewOpportunityBudget
	if budget <= 0 {
		budget = defaultOpportunityBudget
	}
	floor := capitalConstraintRatio * account.Equity

	holdings := make([]string, 0, len(c.heldAtStart))
	for s := range c.heldAtStart {
		holdings = append(holdings, s)
	}
	entries := a.universe.Build(holdings, a.cfg.Trading.Symbols)

	for _, entry := range entries {
		if budget <= 0 {
			break
		}
		if _, held := c.heldAtStart[entry.Symbol]; held {
			continue
		}
		if c.sold[entry.Symbol] {
			continue
		}
		if c.account.BuyingPower < floor {
			a.logger.Info().
				Float64("buying_power", c.account.BuyingPower).
				Float64("floor", floor).
				Msg("Buying power below floor, ending opportunity scan")
			break
		}

		budget--
		d, err := a.analyze(ctx, c, entry.Symbol, prompt.QueryNewOpportunity, nil)
		if err != nil {
			return err
		}
		if d == nil {
			continue
		}
		if _, err := a.finalize(ctx, c, d, nil); err != nil {
			return err
		}
	}
	return nil
}

// analyze runs the fetch, prompt, model, and parse pipeline for one symbol.
// A nil decision with nil error means the symbol was skipped; the raw
// exchange is still on record.
func (a *Agent) analyze(ctx context.Context, c *cycleRun, symbol string, qt prompt.QueryType, pos *broker.Position) (*response.Decision, error) {
	now := a.clock.Now()

	price, snap := a.marketData(ctx, symbol, pos)

	if c.safeMode {
		return a.safeHold(c, symbol, qt, price, now), nil
	}

	qc := &prompt.QueryContext{
		QueryType:      qt,
		Trigger:        c.trigger,
		Profile:        a.profile,
		PrimarySymbol:  symbol,
		ExpectedFormat: prompt.FormatStandardDecision,
		IncludeNews:    a.news != nil,
		DetailLevel:    prompt.DetailStandard,
		Technical:      snap,
		Position:       pos,
		News:           a.newsContext(symbol),
		Regime:         a.cachedRegime(),
	}
	qc.IncludeMarketRegime = qc.Regime != nil
	if qt == prompt.QueryPositionReview {
		qc.Overnight = a.overnightContext(ctx, symbol, now)
	}

	userPrompt, err := a.assembler.Build(qc)
	if err != nil {
		// Enumeration violations are configuration bugs, not model faults.
		return nil, fmt.Errorf("prompt for %s: %w", symbol, err)
	}

	comp, err := a.completeModel(ctx, userPrompt)
	if err != nil {
		if llm.IsUnavailable(err) {
			a.enterSafeMode(ctx, c, err)
			return a.safeHold(c, symbol, qt, price, now), nil
		}
		a.logger.Error().Err(err).Str("symbol", symbol).Msg("Model call failed, skipping symbol")
		return nil, nil
	}

	result := a.parser.Parse(response.ParseInput{
		Raw:           comp.Text,
		Format:        prompt.FormatStandardDecision,
		QueryType:     qt,
		Trigger:       c.trigger,
		Symbol:        symbol,
		PriceSnapshot: price,
		Timestamp:     now,
	})
	metrics.ParseResultsTotal.WithLabelValues(string(result.Status)).Inc()

	if err := a.recordInteraction(ctx, symbol, qt, userPrompt, comp, string(result.Status)); err != nil {
		return nil, err
	}

	if !result.Ok() {
		a.logger.Warn().
			Str("symbol", symbol).
			Str("status", string(result.Status)).
			Msg("Unusable model response, skipping symbol")
		return nil, nil
	}
	return result.Decision, nil
}

// marketData fetches the latest price and indicator snapshot. Both are
// best effort: a prompt renders what is present and marks the rest absent.
func (a *Agent) marketData(ctx context.Context, symbol string, pos *broker.Position) (float64, *indicators.Snapshot) {
	var price float64
	if pos != nil {
		price = pos.CurrentPrice
	}

	if err := a.brokerSem.Acquire(ctx, 1); err != nil {
		return price, nil
	}
	defer a.brokerSem.Release(1)

	bctx, cancel := context.WithTimeout(ctx, a.cfg.BrokerTimeout())
	defer cancel()

	if p, err := a.broker.GetLatestPrice(bctx, symbol); err == nil && p > 0 {
		price = p
	} else if err != nil {
		metrics.BrokerErrorsTotal.WithLabelValues(metrics.NormalizeBrokerError(err)).Inc()
	}

	now := a.clock.Now()
	bars, err := a.broker.GetBars(bctx, symbol, now.AddDate(0, 0, -barLookbackDays), now, broker.TimeframeDay)
	if err != nil {
		metrics.BrokerErrorsTotal.WithLabelValues(metrics.NormalizeBrokerError(err)).Inc()
		return price, nil
	}
	if len(bars) == 0 {
		return price, nil
	}

	snap, err := a.engine.Compute(symbol, bars)
	if err != nil && !errors.Is(err, indicators.ErrInsufficientData) {
		a.logger.Warn().Err(err).Str("symbol", symbol).Msg("Indicator computation failed")
		return price, nil
	}
	if price == 0 && snap != nil {
		price = snap.Close
	}
	return price, snap
}

func (a *Agent) completeModel(ctx context.Context, userPrompt string) (*llm.Completion, error) {
	if err := a.modelSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.modelSem.Release(1)

	mctx, cancel := context.WithTimeout(ctx, a.cfg.ModelTimeout())
	defer cancel()

	start := time.Now()
	comp, err := a.model.CompleteText(mctx, prompt.SystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	metrics.ModelLatency.Observe(time.Since(start).Seconds())
	return comp, nil
}

func (a *Agent) enterSafeMode(ctx context.Context, c *cycleRun, err error) {
	c.safeMode = true
	if !c.alerted {
		c.alerted = true
		a.alerts.SafeMode(ctx, err)
	}
	a.logger.Error().Err(err).Msg("Model unavailable, cycle continuing in safe mode")
}

// safeHold is the fallback decision recorded for every symbol while the
// model is unreachable. Zero confidence guarantees the gate never passes it.
func (a *Agent) safeHold(c *cycleRun, symbol string, qt prompt.QueryType, price float64, now time.Time) *response.Decision {
	return &response.Decision{
		Symbol:        symbol,
		Action:        "hold",
		PriceSnapshot: price,
		Confidence:    0,
		Sentiment:     "neutral",
		Reasoning:     "safe_mode: model unavailable, holding by default",
		Timestamp:     now,
		Trigger:       c.trigger,
		QueryType:     qt,
	}
}

func (a *Agent) recordInteraction(ctx context.Context, symbol string, qt prompt.QueryType, userPrompt string, comp *llm.Completion, classification string) error {
	rec := &store.InteractionRecord{
		Timestamp:        a.clock.Now(),
		Symbol:           symbol,
		QueryType:        string(qt),
		Model:            comp.Model,
		Prompt:           userPrompt,
		Response:         comp.Text,
		Classification:   classification,
		LatencyMs:        comp.LatencyMs,
		PromptTokens:     comp.PromptTokens,
		CompletionTokens: comp.CompletionTokens,
	}
	if err := a.store.RecordInteraction(ctx, rec); err != nil {
		return a.storageFailure(ctx, symbol, err)
	}
	return nil
}

// storageFailure alerts and converts a persistence error into a cycle
// abort. No order is ever submitted after the store stops accepting writes.
func (a *Agent) storageFailure(ctx context.Context, symbol string, err error) error {
	a.alerts.StorageFailure(ctx, symbol, err)
	return fmt.Errorf("storage failure on %s: %w", symbol, err)
}

// finalize applies sizing defaults, runs the risk gate, executes approved
// orders, and records the decision. It reports whether an order filled.
func (a *Agent) finalize(ctx context.Context, c *cycleRun, d *response.Decision, pos *broker.Position) (bool, error) {
	metrics.DecisionsTotal.WithLabelValues(d.Action).Inc()

	if d.Action == "hold" {
		return false, a.saveDecision(ctx, d, false, "hold", "", nil)
	}

	a.applyShareDefaults(c, d, pos)

	side := broker.SideBuy
	if d.Action == "sell" {
		side = broker.SideSell
	}

	verdict := a.gate.Check(risk.Proposal{
		Symbol:     d.Symbol,
		Side:       side,
		Shares:     d.Shares,
		Price:      d.PriceSnapshot,
		Confidence: d.Confidence,
	}, c.account, c.state, a.dayState(c.account))

	if !verdict.Approved {
		metrics.RiskRejectionsTotal.WithLabelValues(riskCheckLabel(verdict.Reason)).Inc()
		a.logger.Info().
			Str("symbol", d.Symbol).
			Str("action", d.Action).
			Str("reason", verdict.Reason).
			Msg("Risk gate rejected trade")
		return false, a.saveDecision(ctx, d, false, verdict.Reason, "", nil)
	}
	for _, w := range verdict.Warnings {
		a.logger.Warn().Str("symbol", d.Symbol).Msg(w)
	}

	if a.cfg.Trading.DryRun {
		a.logger.Info().Str("symbol", d.Symbol).Str("action", d.Action).Msg("Dry run, order not submitted")
		return false, a.saveDecision(ctx, d, false, "dry_run", "", nil)
	}

	outcome, err := a.submitAndAwait(ctx, d.Symbol, d.Shares, side)
	if err != nil {
		var fatal *broker.FatalError
		if errors.As(err, &fatal) {
			a.halt(err)
			a.alerts.TradingHalted(ctx, err)
			if saveErr := a.saveDecision(ctx, d, false, "broker_fatal", "", nil); saveErr != nil {
				return false, saveErr
			}
			return false, fmt.Errorf("%w: %v", ErrTradingHalted, err)
		}
		// Transient submission failure: record and retry on a later cycle.
		metrics.BrokerErrorsTotal.WithLabelValues(metrics.NormalizeBrokerError(err)).Inc()
		metrics.OrdersTotal.WithLabelValues(string(side), "error").Inc()
		a.logger.Warn().Err(err).Str("symbol", d.Symbol).Msg("Order submission failed")
		return false, a.saveDecision(ctx, d, false, "broker_error", "", nil)
	}

	if outcome.executed {
		a.countTrade()
		c.account.BuyingPower -= float64(d.Shares) * d.PriceSnapshot
		if side == broker.SideSell && pos != nil {
			// Best effort: outcome bookkeeping never blocks the cycle.
			if err := a.store.UpdateOutcome(ctx, d.Symbol, pos.UnrealizedPnL, pos.UnrealizedPnLPct, a.clock.Now()); err != nil {
				a.logger.Warn().Err(err).Str("symbol", d.Symbol).Msg("Outcome update failed")
			}
		}
	}
	return outcome.executed, a.saveDecision(ctx, d, outcome.executed, outcome.reason, outcome.orderID, outcome.fillPrice)
}

// applyShareDefaults fills a missing share count: buys size to the position
// cap, sells liquidate the whole position.
func (a *Agent) applyShareDefaults(c *cycleRun, d *response.Decision, pos *broker.Position) {
	if d.Action == "buy" && d.Shares == 0 && d.PriceSnapshot > 0 {
		d.Shares = int(math.Floor(a.cfg.Risk.MaxPositionSizePct / 100 * c.account.Equity / d.PriceSnapshot))
	}
	if d.Action == "sell" && pos != nil {
		qty := int(math.Abs(pos.Qty))
		if d.Shares == 0 || d.Shares > qty {
			d.Shares = qty
		}
	}
}

// orderOutcome is the terminal result of one submission attempt
type orderOutcome struct {
	executed  bool
	reason    string
	orderID   string
	fillPrice *float64
}

// submitAndAwait places a market order and waits for a terminal status up
// to the fill timeout. A submission is never cancelled once started; a
// cancellation arriving after submission is recorded, not acted on.
func (a *Agent) submitAndAwait(ctx context.Context, symbol string, shares int, side broker.OrderSide) (orderOutcome, error) {
	if err := a.brokerSem.Acquire(ctx, 1); err != nil {
		return orderOutcome{}, err
	}
	defer a.brokerSem.Release(1)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.BrokerTimeout())
	defer cancel()

	order, err := a.broker.PlaceMarketOrder(bctx, symbol, float64(shares), side)
	if err != nil {
		return orderOutcome{}, err
	}

	a.logger.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Int("shares", shares).
		Str("order_id", order.ID).
		Msg("Order submitted")

	deadline := time.Now().Add(a.cfg.FillTimeout())
	for {
		if order.Status == broker.OrderStatusFilled {
			metrics.OrdersTotal.WithLabelValues(string(side), "filled").Inc()
			fill := order.FilledAvgPrice
			return orderOutcome{executed: true, reason: "filled", orderID: order.ID, fillPrice: &fill}, nil
		}
		if order.Status.Terminal() {
			metrics.OrdersTotal.WithLabelValues(string(side), "rejected").Inc()
			return orderOutcome{reason: string(order.Status), orderID: order.ID}, nil
		}
		if ctx.Err() != nil {
			// Submission already happened; record the late cancellation.
			return orderOutcome{reason: "cancelled_post_submit", orderID: order.ID}, nil
		}
		if time.Now().After(deadline) {
			metrics.OrdersTotal.WithLabelValues(string(side), "fill_timeout").Inc()
			a.alerts.FillTimeout(ctx, symbol, order.ID)
			return orderOutcome{reason: "fill_timeout", orderID: order.ID}, nil
		}

		select {
		case <-time.After(orderPollInterval):
		case <-ctx.Done():
			return orderOutcome{reason: "cancelled_post_submit", orderID: order.ID}, nil
		}

		pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.BrokerTimeout())
		refreshed, err := a.broker.GetOrder(pctx, order.ID)
		pcancel()
		if err != nil {
			a.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Order poll failed")
			continue
		}
		order = refreshed
	}
}

func (a *Agent) saveDecision(ctx context.Context, d *response.Decision, executed bool, reason, orderID string, fillPrice *float64) error {
	rec := store.NewDecisionRecord(d, executed, reason, orderID, fillPrice)
	if err := a.store.SaveDecision(ctx, rec); err != nil {
		return a.storageFailure(ctx, d.Symbol, err)
	}
	a.logger.Info().
		Str("symbol", d.Symbol).
		Str("action", d.Action).
		Int("confidence", d.Confidence).
		Bool("executed", executed).
		Str("reason", reason).
		Msg("Decision recorded")
	return nil
}

// newsContext converts today's narrative synthesis and recent headlines
// into prompt form, when the news pipeline is wired.
func (a *Agent) newsContext(symbol string) *prompt.NewsContext {
	if a.news == nil {
		return nil
	}
	date := a.clock.Now().Format("20060102")
	syn := a.news.SynthesisFor(symbol, date)
	articles := a.news.RecentArticles(symbol, date, 5)
	if syn == nil && len(articles) == 0 {
		return nil
	}

	nc := &prompt.NewsContext{}
	if syn != nil {
		nc.Narrative = syn.Narrative
		nc.NetSentiment = syn.NetSentiment
		nc.Confidence = syn.Confidence
		nc.KeyThemes = syn.KeyThemes
		nc.Contradictions = syn.Contradictions
		nc.Recommendation = string(syn.Recommendation)
		nc.Stale = syn.Stale
	}
	for _, art := range articles {
		nc.Headlines = append(nc.Headlines, prompt.Headline{
			Time:   art.Timestamp,
			Text:   art.Headline,
			Source: art.Source,
		})
	}
	return nc
}

// overnightContext loads the latest fresh deep-analysis conclusion for a
// held symbol, for rendering into its review prompt.
func (a *Agent) overnightContext(ctx context.Context, symbol string, now time.Time) *prompt.OvernightContext {
	dates := []string{
		now.Format("2006-01-02"),
		now.AddDate(0, 0, -1).Format("2006-01-02"),
	}
	for _, date := range dates {
		rec, err := a.store.OvernightAnalysis(ctx, symbol, date)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", symbol).Msg("Overnight lookup failed")
			return nil
		}
		if rec == nil {
			continue
		}
		if now.Sub(rec.Timestamp) > overnightMaxAge {
			return nil
		}
		return &prompt.OvernightContext{
			Action:     rec.Action,
			Confidence: rec.Confidence,
			Reasoning:  rec.Reasoning,
			AnalyzedAt: rec.Timestamp,
		}
	}
	return nil
}

func (a *Agent) cachedRegime() *prompt.RegimeContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regime
}

func (a *Agent) setRegime(r *prompt.RegimeContext) {
	a.mu.Lock()
	a.regime = r
	a.mu.Unlock()
}

// riskCheckLabel maps a gate rejection reason onto the bounded metric
// label set.
func riskCheckLabel(reason string) string {
	switch {
	case strings.Contains(reason, "confidence"):
		return "confidence"
	case strings.Contains(reason, "not allowed during"):
		return "session_state"
	case strings.Contains(reason, "position cap"):
		return "position_size"
	case strings.Contains(reason, "buying power"):
		return "buying_power"
	case strings.Contains(reason, "exposure"):
		return "exposure"
	case strings.Contains(reason, "drawdown"):
		return "daily_loss"
	case strings.Contains(reason, "trade limit"):
		return "frequency"
	default:
		return "other"
	}
}
