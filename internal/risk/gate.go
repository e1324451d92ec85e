package risk

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/marketclock"
	"github.com/akindell/marketmind/internal/prompt"
)

// Proposal is one model-approved trade awaiting hard validation
type Proposal struct {
	Symbol     string
	Side       broker.OrderSide
	Shares     int
	Price      float64 // latest trade price; notional = Shares * Price
	Confidence int     // 0..100, from the parsed decision
}

// Notional returns the proposed dollar amount
func (p Proposal) Notional() float64 {
	return float64(p.Shares) * p.Price
}

// Result is the gate's verdict. Warnings accompany approvals that deserve
// operator attention; a rejected result names the first failed check.
type Result struct {
	Approved bool
	Reason   string
	Warnings []string
}

// DayState is the intra-day trading ledger the gate checks frequency and
// drawdown against. The caller owns it; the gate never mutates it.
type DayState struct {
	TradesExecuted int
	// DrawdownPct is today's realized plus unrealized loss as a positive
	// percentage of starting equity. 0 when flat or up.
	DrawdownPct float64
}

// Gate applies the hard pre-trade checks. It is deliberately independent
// of the model: no field of the raw response other than action, shares,
// and confidence ever reaches it.
type Gate struct {
	cfg     config.RiskConfig
	profile prompt.Profile
	logger  zerolog.Logger
}

// NewGate creates a gate for one trading profile
func NewGate(cfg config.RiskConfig, profile prompt.Profile) *Gate {
	return &Gate{cfg: cfg, profile: profile, logger: config.NewLogger("risk")}
}

func reject(reason string) Result {
	return Result{Approved: false, Reason: reason}
}

// Check runs the checks in order; the first failure short-circuits, except
// the exposure check on sells which downgrades to a warning.
func (g *Gate) Check(p Proposal, account *broker.AccountState, state marketclock.State, day DayState) Result {
	var warnings []string

	// 1. Confidence threshold, profile-keyed with optional config override.
	minConf := g.minConfidence(p.Side)
	if float64(p.Confidence) < minConf {
		return reject(fmt.Sprintf("confidence %d below %s threshold %.0f", p.Confidence, p.Side, minConf))
	}

	// 2. Action-type gate.
	switch p.Side {
	case broker.SideBuy:
		if state != marketclock.StateActiveTrading {
			return reject(fmt.Sprintf("buys not allowed during %s", state))
		}
	case broker.SideSell:
		if state != marketclock.StateActiveTrading && state != marketclock.StateMarketClosing {
			return reject(fmt.Sprintf("sells not allowed during %s", state))
		}
	default:
		return reject(fmt.Sprintf("unknown order side %q", p.Side))
	}

	if p.Shares <= 0 {
		return reject("share count must be positive")
	}
	if account.Equity <= 0 {
		return reject("account equity is not positive")
	}

	notional := p.Notional()

	// 3. Position size cap.
	maxNotional := g.cfg.MaxPositionSizePct / 100 * account.Equity
	if notional > maxNotional {
		return reject(fmt.Sprintf("notional $%.2f exceeds position cap $%.2f (%.0f%% of equity)",
			notional, maxNotional, g.cfg.MaxPositionSizePct))
	}

	// 4. Buying power, buys only.
	if p.Side == broker.SideBuy && notional > account.BuyingPower {
		return reject(fmt.Sprintf("notional $%.2f exceeds buying power $%.2f", notional, account.BuyingPower))
	}

	// 5. Portfolio exposure. Asymmetric: an over-exposed account must
	// still be allowed to sell its way back under the cap.
	exposure := account.GrossExposure()
	if p.Side == broker.SideBuy {
		exposure += notional
	}
	exposurePct := exposure / account.Equity * 100
	if exposurePct > g.cfg.MaxPortfolioExposurePct {
		msg := fmt.Sprintf("gross exposure %.1f%% exceeds cap %.1f%%", exposurePct, g.cfg.MaxPortfolioExposurePct)
		if p.Side == broker.SideBuy {
			return reject(msg)
		}
		warnings = append(warnings, msg+" (sell approved to reduce exposure)")
	}

	// 6. Daily loss limit stops new buying, never exits.
	if day.DrawdownPct >= g.cfg.MaxDailyLossPct {
		if p.Side == broker.SideBuy {
			return reject(fmt.Sprintf("daily drawdown %.2f%% at or beyond limit %.2f%%",
				day.DrawdownPct, g.cfg.MaxDailyLossPct))
		}
		warnings = append(warnings, fmt.Sprintf("selling with daily drawdown %.2f%% beyond limit", day.DrawdownPct))
	}

	// 7. Trade frequency, both sides.
	if day.TradesExecuted >= g.cfg.MaxTradesPerDay {
		return reject(fmt.Sprintf("daily trade limit %d reached", g.cfg.MaxTradesPerDay))
	}

	g.logger.Debug().
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Float64("notional", notional).
		Strs("warnings", warnings).
		Msg("Trade approved")

	return Result{Approved: true, Warnings: warnings}
}

func (g *Gate) minConfidence(side broker.OrderSide) float64 {
	if g.cfg.MinConfidenceThreshold > 0 {
		return g.cfg.MinConfidenceThreshold
	}
	params := g.profile.Params()
	if side == broker.SideSell {
		return float64(params.MinSellConf)
	}
	return float64(params.MinBuyConf)
}
