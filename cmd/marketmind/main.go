// Command marketmind runs the paper-trading engine: an LLM-narrated decision
// loop over a small equity watchlist against a paper brokerage account.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/akindell/marketmind/internal/agent"
	"github.com/akindell/marketmind/internal/alerts"
	"github.com/akindell/marketmind/internal/broker"
	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/llm"
	"github.com/akindell/marketmind/internal/marketclock"
	"github.com/akindell/marketmind/internal/metrics"
	"github.com/akindell/marketmind/internal/news"
	"github.com/akindell/marketmind/internal/overnight"
	"github.com/akindell/marketmind/internal/scheduler"
	"github.com/akindell/marketmind/internal/store"
	"github.com/akindell/marketmind/internal/universe"
)

const version = "v0.4.0"

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitBrokerProbe = 3
)

var cfgPath string

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var cfgErr *config.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			return exitConfig
		case errors.Is(err, broker.ErrNotPaperEndpoint):
			fmt.Fprintf(os.Stderr, "broker probe failed: %v\n", err)
			return exitBrokerProbe
		case errors.Is(err, context.Canceled):
			return exitOK
		default:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitFailure
		}
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "marketmind",
		Short:         "LLM-narrated algorithmic paper trading",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (default ./configs/config.yaml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newBackfillCmd())
	root.AddCommand(newReplayCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	return cfg, nil
}

// dataDir anchors the store at the directory holding the configured
// database file.
func dataDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Store.DatabasePath)
}

func newModel(cfg *config.Config) *llm.Client {
	return llm.NewClient(llm.ClientConfig{
		Endpoint:    cfg.Model.Endpoint,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		Timeout:     cfg.ModelTimeout(),
	})
}

func newClock(cfg *config.Config, b broker.Broker) (*marketclock.Clock, error) {
	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "market.timezone", Reason: err.Error()}
	}
	return marketclock.New(loc, b, config.NewLogger("marketclock")), nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and trade until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := broker.NewAlpacaBroker(ctx, cfg.Broker)
			if err != nil {
				return err
			}
			b = b.WithLogger(config.NewLogger("broker"))

			clock, err := newClock(cfg, b)
			if err != nil {
				return err
			}

			st, err := store.Open(dataDir(cfg))
			if err != nil {
				return err
			}
			defer st.Close()

			model := newModel(cfg)
			uni := universe.NewManager(cfg.Universe)
			nsvc := news.NewService(b, model, st, cfg.News.MaxInflight)
			alertMgr := alerts.NewManager(alerts.NewLogSink())

			ag := agent.New(cfg, agent.Deps{
				Broker: b, Model: model, Clock: clock, Store: st,
				News: nsvc, Universe: uni, Alerts: alertMgr,
			})
			an := overnight.New(cfg, overnight.Deps{
				Broker: b, Model: model, Clock: clock, Store: st,
				News: nsvc, Universe: uni,
			})
			sched := scheduler.New(cfg, scheduler.Deps{
				Clock: clock, Agent: ag, Analyst: an,
				News: nsvc, Broker: b, Alerts: alertMgr,
			})

			if cfg.Monitoring.EnableMetrics {
				srv := metrics.NewServer(cfg.Monitoring.MetricsPort)
				if err := srv.Start(); err != nil {
					return fmt.Errorf("metrics server: %w", err)
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
			}

			return sched.Run(ctx)
		},
	}
}

// statusReport is the operator-facing status document
type statusReport struct {
	Timestamp   time.Time     `json:"timestamp"`
	ClockState  string        `json:"clock_state"`
	BrokerOK    bool          `json:"broker_ok"`
	BrokerError string        `json:"broker_error,omitempty"`
	ModelOK     bool          `json:"model_ok"`
	ModelError  string        `json:"model_error,omitempty"`
	Account     *agent.Status `json:"account,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the market clock state and collaborator reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			report := statusReport{Timestamp: time.Now()}

			b, err := broker.NewAlpacaBroker(ctx, cfg.Broker)
			if errors.Is(err, broker.ErrNotPaperEndpoint) {
				return err
			}
			if err != nil {
				report.BrokerError = err.Error()
			} else {
				report.BrokerOK = true
			}

			var clockBroker broker.Broker
			if report.BrokerOK {
				clockBroker = b
			}
			clock, err := newClock(cfg, clockBroker)
			if err != nil {
				return err
			}
			report.ClockState = string(clock.CurrentState(ctx))

			model := newModel(cfg)
			pctx, pcancel := context.WithTimeout(ctx, 10*time.Second)
			if _, err := model.CompleteText(pctx, "You are a readiness probe.", "Reply with the single word OK."); err != nil {
				report.ModelError = err.Error()
			} else {
				report.ModelOK = true
			}
			pcancel()

			if report.BrokerOK {
				st, err := store.Open(dataDir(cfg))
				if err != nil {
					return err
				}
				defer st.Close()
				ag := agent.New(cfg, agent.Deps{Broker: b, Model: model, Clock: clock, Store: st})
				if status, err := ag.CurrentStatus(ctx); err == nil {
					report.Account = status
				}
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Rebuild the universe cache and database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			// Opening the store applies any pending schema migrations.
			st, err := store.Open(dataDir(cfg))
			if err != nil {
				return err
			}
			defer st.Close()

			b, err := broker.NewAlpacaBroker(ctx, cfg.Broker)
			if err != nil {
				return err
			}

			var holdings []string
			positions, err := b.GetPositions(ctx)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			for _, p := range positions {
				holdings = append(holdings, p.Symbol)
			}

			if cfg.Universe.CachePath != "" {
				if err := os.Remove(cfg.Universe.CachePath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("backfill: %w", err)
				}
			}
			entries := universe.NewManager(cfg.Universe).Build(holdings, cfg.Trading.Symbols)

			fmt.Fprintf(cmd.OutOrStdout(), "universe rebuilt: %d entries (%d holdings)\n",
				len(entries), len(holdings))
			return nil
		},
	}
}
