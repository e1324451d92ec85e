// Package scheduler owns the main loop. A single goroutine reads the market
// clock, fires the tasks due for the current session state, and sleeps until
// the next task or state boundary. Background-safe tasks run on a bounded
// worker pool; everything else completes before the clock is read again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/akindell/marketmind/internal/agent"
	"github.com/akindell/marketmind/internal/alerts"
	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/marketclock"
	"github.com/akindell/marketmind/internal/metrics"
	"github.com/akindell/marketmind/internal/news"
	"github.com/akindell/marketmind/internal/overnight"
)

const (
	// maxSleep caps the loop's sleep so state demotions (broker outage,
	// unscheduled halt) are noticed within a minute.
	maxSleep = time.Minute
	minSleep = time.Second

	defaultCycleInterval = 5 * time.Minute
	backgroundWorkers    = 2
)

// allStates feeds the one-hot session-state gauge
var allStates = []string{
	string(marketclock.StateActiveTrading),
	string(marketclock.StateMarketClosing),
	string(marketclock.StateEveningAnalysis),
	string(marketclock.StateOvernightSleep),
	string(marketclock.StatePremarketPrep),
	string(marketclock.StateUnknown),
}

// task is one scheduled unit of work. Cadence tasks set every; once-per-day
// tasks set at ("15:04" market time, a not-before gate) and fire the first
// tick at or past it.
type task struct {
	name  string
	state marketclock.State
	every time.Duration
	at    string
	// weekday restricts a once task to one day of the week
	weekday *time.Weekday
	// tradingDayOnly suppresses the task on weekends and holidays
	tradingDayOnly bool
	// backgroundSafe tasks run on the worker pool instead of blocking
	// the loop.
	backgroundSafe bool
	// modelBound background tasks are skipped, not queued, while another
	// model-bound task holds the slot. The trading cycle is foreground
	// and never skipped for this reason.
	modelBound bool
	priority   int
	run        func(ctx context.Context) error
}

// Deps are the scheduler's collaborators
type Deps struct {
	Clock   *marketclock.Clock
	Agent   *agent.Agent
	Analyst *overnight.Analyst
	News    *news.Service
	Broker  broker.Broker
	Alerts  *alerts.Manager
}

// Scheduler drives the state-keyed task table from one goroutine
type Scheduler struct {
	cfg     *config.Config
	clock   *marketclock.Clock
	agent   *agent.Agent
	analyst *overnight.Analyst
	news    *news.Service
	broker  broker.Broker
	alerts  *alerts.Manager
	logger  zerolog.Logger

	tasks   []task
	lastRun map[string]time.Time
	firedOn map[string]string

	workers   *semaphore.Weighted
	modelBusy atomic.Bool

	prevState    marketclock.State
	stateCtx     context.Context
	cancelState  context.CancelFunc
	lastNewsPull time.Time
}

// New creates a scheduler with the full task table wired to its
// collaborators.
func New(cfg *config.Config, deps Deps) *Scheduler {
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewManager()
	}
	s := &Scheduler{
		cfg:     cfg,
		clock:   deps.Clock,
		agent:   deps.Agent,
		analyst: deps.Analyst,
		news:    deps.News,
		broker:  deps.Broker,
		alerts:  deps.Alerts,
		logger:  config.NewLogger("scheduler"),
		lastRun: make(map[string]time.Time),
		firedOn: make(map[string]string),
		workers: semaphore.NewWeighted(backgroundWorkers),
	}
	s.tasks = s.buildTasks()
	return s
}

func (s *Scheduler) cycleInterval() time.Duration {
	if iv := s.cfg.CycleInterval(); iv > 0 {
		return iv
	}
	return defaultCycleInterval
}

func (s *Scheduler) buildTasks() []task {
	friday := time.Friday
	tasks := []task{
		{
			name: "run_cycle", state: marketclock.StateActiveTrading,
			every: s.cycleInterval(), tradingDayOnly: true, priority: 100,
			run: func(ctx context.Context) error {
				return s.agent.RunCycle(ctx, marketclock.StateActiveTrading)
			},
		},
		{
			name: "quick_market_intelligence", state: marketclock.StateActiveTrading,
			every: 30 * time.Minute, tradingDayOnly: true,
			backgroundSafe: true, modelBound: true, priority: 50,
			run: s.agent.QuickMarketIntelligence,
		},
		{
			name: "deep_sector_analysis", state: marketclock.StateActiveTrading,
			every: 2 * time.Hour, tradingDayOnly: true,
			backgroundSafe: true, modelBound: true, priority: 40,
			run: s.agent.DeepSectorAnalysis,
		},
		{
			name: "pre_close_assessment", state: marketclock.StateMarketClosing,
			at: "15:00", tradingDayOnly: true, priority: 80,
			run: s.agent.PreCloseAssessment,
		},
		{
			name: "daily_summary", state: marketclock.StateMarketClosing,
			at: "16:00", tradingDayOnly: true, priority: 70,
			run: s.agent.DailySummary,
		},
		{
			name: "news_start_accumulation", state: marketclock.StateEveningAnalysis,
			at: "16:30", backgroundSafe: true, priority: 60,
			run: s.accumulateNews,
		},
		{
			name: "evening_deep_learning", state: marketclock.StateEveningAnalysis,
			at: "16:30", tradingDayOnly: true, priority: 90,
			run: s.analyst.EveningDeepLearning,
		},
		{
			name: "earnings_analysis", state: marketclock.StateEveningAnalysis,
			at: "17:00", tradingDayOnly: true, priority: 30,
			run: s.analyst.EarningsAnalysis,
		},
		{
			name: "weekly_self_critique", state: marketclock.StateEveningAnalysis,
			at: "18:00", weekday: &friday, tradingDayOnly: true, priority: 20,
			run: s.analyst.WeeklySelfCritique,
		},
		{
			name: "news_accumulate", state: marketclock.StateOvernightSleep,
			every: 30 * time.Minute, backgroundSafe: true, priority: 60,
			run: s.accumulateNews,
		},
		{
			name: "news_synthesize", state: marketclock.StateOvernightSleep,
			at: "02:00", priority: 70,
			run: s.synthesizeNews,
		},
		{
			name: "morning_handoff", state: marketclock.StatePremarketPrep,
			at: "06:00", tradingDayOnly: true, priority: 90,
			run: s.analyst.MorningHandoff,
		},
		{
			name: "premarket_scanner", state: marketclock.StatePremarketPrep,
			at: "07:00", tradingDayOnly: true, priority: 80,
			run: s.analyst.PremarketScanner,
		},
		{
			name: "market_open_preflight", state: marketclock.StatePremarketPrep,
			at: "09:00", tradingDayOnly: true, priority: 70,
			run: s.preflight,
		},
	}
	return tasks
}

// Run drives the loop until the context is cancelled or trading halts on a
// fatal broker error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("cycle_interval", s.cycleInterval()).
		Int("tasks", len(s.tasks)).
		Msg("Scheduler starting")

	for {
		sleep, err := s.Tick(ctx)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if s.cancelState != nil {
				s.cancelState()
			}
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Tick processes one scheduling pass and returns how long to sleep before
// the next. Split out from Run so tests can drive the loop with a fake
// clock.
func (s *Scheduler) Tick(ctx context.Context) (time.Duration, error) {
	state := s.clock.CurrentState(ctx)
	metrics.SetMarketState(string(state), allStates)
	if state != s.prevState {
		s.transition(state)
	}

	now := s.clock.Now()
	for _, t := range s.due(state, now) {
		if err := s.dispatch(ctx, t, now); err != nil {
			if errors.Is(err, agent.ErrTradingHalted) {
				s.logger.Error().Err(err).Msg("Trading halted, scheduler stopping")
				return 0, err
			}
			s.logger.Error().Err(err).Str("task", t.name).Msg("Task failed")
		}
	}
	return s.sleepFor(state, s.clock.Now()), nil
}

// transition rotates the state-scoped context. Background tasks started in
// the old state observe the cancellation; foreground tasks have already
// completed.
func (s *Scheduler) transition(state marketclock.State) {
	if s.cancelState != nil {
		s.cancelState()
	}
	s.stateCtx, s.cancelState = context.WithCancel(context.Background())
	s.logger.Info().
		Str("from", string(s.prevState)).
		Str("to", string(state)).
		Msg("Session state transition")
	s.prevState = state
}

// due returns the tasks ready to fire in this state, highest priority first
func (s *Scheduler) due(state marketclock.State, now time.Time) []task {
	var out []task
	for _, t := range s.tasks {
		if t.state != state {
			continue
		}
		if t.tradingDayOnly && !s.clock.TradingDay(now) {
			continue
		}
		if t.weekday != nil && now.Weekday() != *t.weekday {
			continue
		}
		switch {
		case t.every > 0:
			last, ran := s.lastRun[t.name]
			if !ran || now.Sub(last) >= t.every {
				out = append(out, t)
			}
		case t.at != "":
			if s.firedOn[t.name] == now.Format("2006-01-02") {
				continue
			}
			if !now.Before(fireTime(t.at, now)) {
				out = append(out, t)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority > out[j].priority })
	return out
}

// fireTime resolves an "HH:MM" gate against now's date in now's location
func fireTime(at string, now time.Time) time.Time {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return now
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
}

// dispatch runs one due task and records the firing. Background-safe tasks
// that cannot get a worker, or model-bound tasks while the model slot is
// held, are skipped without recording so they retry next tick.
func (s *Scheduler) dispatch(ctx context.Context, t task, now time.Time) error {
	if !t.backgroundSafe {
		s.record(t, now)
		return t.run(ctx)
	}

	if t.modelBound && s.modelBusy.Load() {
		s.logger.Debug().Str("task", t.name).Msg("Model saturated, skipping background task")
		return nil
	}
	if !s.workers.TryAcquire(1) {
		s.logger.Debug().Str("task", t.name).Msg("Worker pool full, skipping background task")
		return nil
	}

	s.record(t, now)
	if t.modelBound {
		s.modelBusy.Store(true)
	}
	bctx := s.stateCtx
	if bctx == nil {
		bctx = ctx
	}
	go func() {
		defer s.workers.Release(1)
		if t.modelBound {
			defer s.modelBusy.Store(false)
		}
		if err := t.run(bctx); err != nil {
			s.logger.Error().Err(err).Str("task", t.name).Msg("Background task failed")
		}
	}()
	return nil
}

func (s *Scheduler) record(t task, now time.Time) {
	if t.every > 0 {
		s.lastRun[t.name] = now
	} else {
		s.firedOn[t.name] = now.Format("2006-01-02")
	}
}

// sleepFor returns the time until the next task fire or state boundary,
// clamped to [minSleep, maxSleep].
func (s *Scheduler) sleepFor(state marketclock.State, now time.Time) time.Duration {
	next := s.clock.NextTransition(now)

	for _, t := range s.tasks {
		if t.state != state {
			continue
		}
		var fire time.Time
		switch {
		case t.every > 0:
			last, ran := s.lastRun[t.name]
			if !ran {
				fire = now
			} else {
				fire = last.Add(t.every)
			}
		case t.at != "":
			if s.firedOn[t.name] == now.Format("2006-01-02") {
				continue
			}
			fire = fireTime(t.at, now)
		}
		if fire.After(now) && fire.Before(next) {
			next = fire
		}
	}

	sleep := next.Sub(now)
	if sleep > maxSleep {
		sleep = maxSleep
	}
	if sleep < minSleep {
		sleep = minSleep
	}
	return sleep
}

// newsDate returns the trading date a news pull belongs to. Evening and
// late-night accumulation feeds the next morning's synthesis, so anything
// after 16:00 is tagged with tomorrow's date.
func (s *Scheduler) newsDate(now time.Time) string {
	if now.Hour() >= 16 {
		return now.AddDate(0, 0, 1).Format("20060102")
	}
	return now.Format("20060102")
}

func (s *Scheduler) accumulateNews(ctx context.Context) error {
	if s.news == nil {
		return nil
	}
	now := s.clock.Now()
	since := s.lastNewsPull
	if since.IsZero() {
		since = now.Add(-12 * time.Hour)
	}
	s.lastNewsPull = now

	symbols := s.newsSymbols(ctx)
	if len(symbols) == 0 {
		return nil
	}
	return s.news.Accumulate(ctx, symbols, s.newsDate(now), since)
}

func (s *Scheduler) synthesizeNews(ctx context.Context) error {
	if s.news == nil {
		return nil
	}
	return s.news.Synthesize(ctx, s.newsDate(s.clock.Now()))
}

// newsSymbols merges current holdings into the configured watchlist
func (s *Scheduler) newsSymbols(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	for _, sym := range s.cfg.Trading.Symbols {
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Positions unavailable for news accumulation")
		return out
	}
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

// preflight verifies the broker and account are reachable before the open.
// Failure raises an alert; trading itself stays gated on the market clock.
func (s *Scheduler) preflight(ctx context.Context) error {
	account, err := s.broker.GetAccount(ctx)
	if err != nil {
		s.alerts.SendWarning(ctx, "Market-open preflight failed",
			fmt.Sprintf("broker unreachable before the open: %v", err), nil)
		return fmt.Errorf("preflight: %w", err)
	}
	status, err := s.broker.GetMarketStatus(ctx)
	if err != nil {
		s.alerts.SendWarning(ctx, "Market-open preflight failed",
			fmt.Sprintf("market status unreachable before the open: %v", err), nil)
		return fmt.Errorf("preflight: %w", err)
	}
	s.logger.Info().
		Float64("equity", account.Equity).
		Float64("buying_power", account.BuyingPower).
		Time("next_open", status.NextOpen).
		Msg("Market-open preflight passed")
	return nil
}
