package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	_ "modernc.org/sqlite"

	"github.com/akindell/marketmind/internal/config"
	"github.com/akindell/marketmind/internal/response"
)

// StorageError wraps a failed write. The trading layer treats it as a
// hard stop for the affected order: a decision that cannot be recorded is
// never executed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Store is the durable memory: an embedded relational database for
// queryable records plus append-only JSON-lines streams for bulky
// artifacts. At most two writers run concurrently.
type Store struct {
	db      *sqlx.DB
	dir     string
	writers *semaphore.Weighted
	streams *streamSet
	logger  zerolog.Logger
}

// Open opens (creating if needed) the store rooted at dir. The database
// lives at dir/marketmind.db; streams live under dir/streams/.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("mkdir", err)
	}

	dsn := filepath.Join(dir, "marketmind.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	// A single connection sidesteps sqlite writer contention entirely;
	// the semaphore still bounds callers so reads queue fairly.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}

	s := &Store{
		db:      db,
		dir:     dir,
		writers: semaphore.NewWeighted(2),
		streams: newStreamSet(filepath.Join(dir, "streams")),
		logger:  config.NewLogger("store"),
	}
	s.logger.Info().Str("dir", dir).Msg("Learning store opened")
	return s, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) acquireWriter(ctx context.Context) (func(), error) {
	if err := s.writers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.writers.Release(1) }, nil
}

// SaveDecision records one parsed decision plus its execution outcome
// fields. The row is also mirrored to the decisions stream for replay.
func (s *Store) SaveDecision(ctx context.Context, rec *DecisionRecord) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return storageErr("save_decision", err)
	}
	defer release()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO decisions (
			id, timestamp, symbol, action, shares, price_snapshot, confidence,
			sentiment, reasoning, risk_factors, quality_scores, trigger_reason,
			query_type, executed, execution_reason, order_id, fill_price
		) VALUES (
			:id, :timestamp, :symbol, :action, :shares, :price_snapshot, :confidence,
			:sentiment, :reasoning, :risk_factors, :quality_scores, :trigger_reason,
			:query_type, :executed, :execution_reason, :order_id, :fill_price
		)`, rec)
	if err != nil {
		return storageErr("save_decision", err)
	}

	if err := s.streams.append("decisions", rec); err != nil {
		// The row is durable; the stream mirror is best effort.
		s.logger.Warn().Err(err).Msg("Decision stream append failed")
	}
	return nil
}

// NewDecisionRecord converts a parsed decision into its storage row
func NewDecisionRecord(d *response.Decision, executed bool, executionReason, orderID string, fillPrice *float64) *DecisionRecord {
	riskJSON, _ := json.Marshal(d.RiskFactors)
	qualityJSON, _ := json.Marshal(d.QualityScores)
	return &DecisionRecord{
		ID:              uuid.NewString(),
		Timestamp:       d.Timestamp,
		Symbol:          d.Symbol,
		Action:          d.Action,
		Shares:          d.Shares,
		PriceSnapshot:   d.PriceSnapshot,
		Confidence:      d.Confidence,
		Sentiment:       d.Sentiment,
		Reasoning:       d.Reasoning,
		RiskFactorsJSON: string(riskJSON),
		QualityJSON:     string(qualityJSON),
		Trigger:         string(d.Trigger),
		QueryType:       string(d.QueryType),
		Executed:        executed,
		ExecutionReason: executionReason,
		OrderID:         orderID,
		FillPrice:       fillPrice,
	}
}

// UpdateOutcome fills the outcome fields of the most recent executed buy
// decision for symbol that has no outcome yet.
func (s *Store) UpdateOutcome(ctx context.Context, symbol string, pnl, pnlPct float64, closedAt time.Time) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return storageErr("update_outcome", err)
	}
	defer release()

	_, err = s.db.ExecContext(ctx, `
		UPDATE decisions SET outcome_pnl = ?, outcome_pnl_pct = ?, closed_at = ?
		WHERE id = (
			SELECT id FROM decisions
			WHERE symbol = ? AND action = 'buy' AND executed = 1 AND closed_at IS NULL
			ORDER BY timestamp DESC LIMIT 1
		)`, pnl, pnlPct, closedAt, symbol)
	if err != nil {
		return storageErr("update_outcome", err)
	}
	return nil
}

// DecisionsSince returns decisions recorded at or after the cutoff,
// oldest first. Missing ranges yield an empty slice, never an error.
func (s *Store) DecisionsSince(ctx context.Context, cutoff time.Time) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM decisions WHERE timestamp >= ? ORDER BY timestamp ASC`, cutoff)
	if err != nil {
		return nil, storageErr("decisions_since", err)
	}
	return out, nil
}

// ExecutedTradesOn counts executed decisions on the given market date
func (s *Store) ExecutedTradesOn(ctx context.Context, date string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM decisions WHERE executed = 1 AND date(timestamp) = ?`, date)
	if err != nil {
		return 0, storageErr("executed_trades_on", err)
	}
	return n, nil
}

// RecordInteraction persists one raw model exchange
func (s *Store) RecordInteraction(ctx context.Context, rec *InteractionRecord) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return storageErr("record_interaction", err)
	}
	defer release()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO llm_interactions (
			id, timestamp, symbol, query_type, model, prompt, response,
			classification, latency_ms, prompt_tokens, completion_tokens
		) VALUES (
			:id, :timestamp, :symbol, :query_type, :model, :prompt, :response,
			:classification, :latency_ms, :prompt_tokens, :completion_tokens
		)`, rec)
	if err != nil {
		return storageErr("record_interaction", err)
	}
	return nil
}

// SavePattern upserts a discovered pattern by id
func (s *Store) SavePattern(ctx context.Context, rec *PatternRecord) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return storageErr("save_pattern", err)
	}
	defer release()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO patterns (id, type, conditions, success_rate, sample_size, avg_return, risk_reward, discovered_at)
		VALUES (:id, :type, :conditions, :success_rate, :sample_size, :avg_return, :risk_reward, :discovered_at)
		ON CONFLICT(id) DO UPDATE SET
			conditions = excluded.conditions,
			success_rate = excluded.success_rate,
			sample_size = excluded.sample_size,
			avg_return = excluded.avg_return,
			risk_reward = excluded.risk_reward,
			discovered_at = excluded.discovered_at`, rec)
	if err != nil {
		return storageErr("save_pattern", err)
	}
	return nil
}

// Patterns returns all discovered patterns, strongest first
func (s *Store) Patterns(ctx context.Context) ([]PatternRecord, error) {
	var out []PatternRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM patterns ORDER BY success_rate DESC, sample_size DESC`)
	if err != nil {
		return nil, storageErr("patterns", err)
	}
	return out, nil
}

// UpsertDailyPerformance writes the per-date aggregate row
func (s *Store) UpsertDailyPerformance(ctx context.Context, rec *DailyPerformance) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return storageErr("daily_performance", err)
	}
	defer release()

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO daily_performance (date, pnl, win_rate, trades, regime)
		VALUES (:date, :pnl, :win_rate, :trades, :regime)
		ON CONFLICT(date) DO UPDATE SET
			pnl = excluded.pnl,
			win_rate = excluded.win_rate,
			trades = excluded.trades,
			regime = excluded.regime`, rec)
	if err != nil {
		return storageErr("daily_performance", err)
	}
	return nil
}

// DailyPerformanceRange returns aggregates between two dates inclusive
func (s *Store) DailyPerformanceRange(ctx context.Context, from, to string) ([]DailyPerformance, error) {
	var out []DailyPerformance
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM daily_performance WHERE date >= ? AND date <= ? ORDER BY date ASC`, from, to)
	if err != nil {
		return nil, storageErr("daily_performance_range", err)
	}
	return out, nil
}

// SaveOvernightAnalysis persists one deep-analysis artifact. A second
// write for the same (symbol, date) replaces the stored row; the full
// history stays in the overnight stream.
func (s *Store) SaveOvernightAnalysis(ctx context.Context, rec *OvernightRecord) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return storageErr("save_overnight", err)
	}
	defer release()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO overnight_analyses (
			id, symbol, date, timestamp, iterations, depth, conversation,
			action, confidence, entry_price, target_price, stop_loss, reasoning
		) VALUES (
			:id, :symbol, :date, :timestamp, :iterations, :depth, :conversation,
			:action, :confidence, :entry_price, :target_price, :stop_loss, :reasoning
		)
		ON CONFLICT(symbol, date) DO UPDATE SET
			timestamp = excluded.timestamp,
			iterations = excluded.iterations,
			depth = excluded.depth,
			conversation = excluded.conversation,
			action = excluded.action,
			confidence = excluded.confidence,
			entry_price = excluded.entry_price,
			target_price = excluded.target_price,
			stop_loss = excluded.stop_loss,
			reasoning = excluded.reasoning`, rec)
	if err != nil {
		return storageErr("save_overnight", err)
	}

	if err := s.streams.append("overnight", rec); err != nil {
		s.logger.Warn().Err(err).Msg("Overnight stream append failed")
	}
	return nil
}

// OvernightAnalysis returns the artifact for (symbol, date), or nil when
// none exists.
func (s *Store) OvernightAnalysis(ctx context.Context, symbol, date string) (*OvernightRecord, error) {
	var rec OvernightRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT * FROM overnight_analyses WHERE symbol = ? AND date = ?`, symbol, date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("overnight_analysis", err)
	}
	return &rec, nil
}

// OvernightAnalysesOn returns all artifacts for one date
func (s *Store) OvernightAnalysesOn(ctx context.Context, date string) ([]OvernightRecord, error) {
	var out []OvernightRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM overnight_analyses WHERE date = ? ORDER BY symbol ASC`, date)
	if err != nil {
		return nil, storageErr("overnight_analyses_on", err)
	}
	return out, nil
}

// SaveLesson records one learned lesson
func (s *Store) SaveLesson(ctx context.Context, rec *LessonRecord) error {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return storageErr("save_lesson", err)
	}
	defer release()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO learned_lessons (id, timestamp, source, symbol, lesson)
		VALUES (:id, :timestamp, :source, :symbol, :lesson)`, rec)
	if err != nil {
		return storageErr("save_lesson", err)
	}
	return nil
}

// Lessons returns the most recent lessons, newest first
func (s *Store) Lessons(ctx context.Context, limit int) ([]LessonRecord, error) {
	var out []LessonRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM learned_lessons ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("lessons", err)
	}
	return out, nil
}

// AppendCritique writes one self-critique artifact to its stream
func (s *Store) AppendCritique(v any) error {
	if err := s.streams.append("self_critique", v); err != nil {
		return storageErr("append_critique", err)
	}
	return nil
}

// AppendConversation writes one full model conversation to its stream.
// Conversations also live inside their overnight rows; the stream keeps
// them greppable without SQL.
func (s *Store) AppendConversation(v any) error {
	if err := s.streams.append("llm_conversations", v); err != nil {
		return storageErr("append_conversation", err)
	}
	return nil
}

// AppendOvernightSummary writes one morning hand-off document to its stream
func (s *Store) AppendOvernightSummary(v any) error {
	if err := s.streams.append("overnight_summary", v); err != nil {
		return storageErr("append_overnight_summary", err)
	}
	return nil
}

// AppendPremarketScan writes one premarket scan artifact to its stream
func (s *Store) AppendPremarketScan(v any) error {
	if err := s.streams.append("premarket_scanner", v); err != nil {
		return storageErr("append_premarket_scan", err)
	}
	return nil
}

// AppendEarningsAnalysis writes one earnings artifact to its stream
func (s *Store) AppendEarningsAnalysis(v any) error {
	if err := s.streams.append("earnings_analysis", v); err != nil {
		return storageErr("append_earnings_analysis", err)
	}
	return nil
}

// StreamPath returns the on-disk path of a named stream, for replay tooling
func (s *Store) StreamPath(name string) string {
	return filepath.Join(s.dir, "streams", name+".jsonl")
}

// DecisionsOn returns every decision recorded on one market date,
// oldest first.
func (s *Store) DecisionsOn(ctx context.Context, date string) ([]DecisionRecord, error) {
	var out []DecisionRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM decisions WHERE date(timestamp) = ? ORDER BY timestamp ASC`, date)
	if err != nil {
		return nil, storageErr("decisions_on", err)
	}
	return out, nil
}

// InteractionsOn returns every raw model exchange recorded on one market
// date, oldest first.
func (s *Store) InteractionsOn(ctx context.Context, date string) ([]InteractionRecord, error) {
	var out []InteractionRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM llm_interactions WHERE date(timestamp) = ? ORDER BY timestamp ASC`, date)
	if err != nil {
		return nil, storageErr("interactions_on", err)
	}
	return out, nil
}

// SaveNewsDocument persists the full news timeline document for one date
func (s *Store) SaveNewsDocument(date string, doc any) error {
	dir := filepath.Join(s.dir, "news")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("save_news", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return storageErr("save_news", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("news_timeline_%s.json", date))
	// Write-then-rename keeps readers from ever seeing a torn document.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storageErr("save_news", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return storageErr("save_news", err)
	}
	return nil
}

// LoadNewsDocument reads the news timeline document for one date into v.
// A missing document leaves v untouched and returns false.
func (s *Store) LoadNewsDocument(date string, v any) (bool, error) {
	path := filepath.Join(s.dir, "news", fmt.Sprintf("news_timeline_%s.json", date))
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("load_news", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, storageErr("load_news", err)
	}
	return true, nil
}
