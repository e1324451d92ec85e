package universe

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/akindell/marketmind/internal/config"
)

// Reason records why a symbol is tracked
type Reason string

const (
	ReasonHoldings     Reason = "holdings"
	ReasonWatchlist    Reason = "watchlist"
	ReasonSectorLeader Reason = "sector_leader"
	ReasonHighVolume   Reason = "high_volume"
	ReasonRecentMover  Reason = "recent_mover"
	ReasonNewsPromoted Reason = "news_promoted"
)

// Entry is one tracked symbol. Priority 1 is always included, 2 next, 3
// fills to the cap.
type Entry struct {
	Symbol   string    `json:"symbol"`
	Reason   Reason    `json:"reason"`
	Priority int       `json:"priority"`
	AddedAt  time.Time `json:"added_at"`
}

// Manager maintains the prioritized tracked-symbol set
type Manager struct {
	size      int
	cachePath string
	cacheTTL  time.Duration
	nowFn     func() time.Time
	logger    zerolog.Logger

	mu         sync.Mutex
	promotions map[string]Entry
}

// NewManager creates a universe manager. Cache settings come from config;
// a zero TTL disables caching.
func NewManager(cfg config.UniverseConfig) *Manager {
	size := cfg.Size
	if size <= 0 {
		size = 100
	}
	return &Manager{
		size:       size,
		cachePath:  cfg.CachePath,
		cacheTTL:   time.Duration(cfg.CacheHours) * time.Hour,
		nowFn:      time.Now,
		logger:     config.NewLogger("universe"),
		promotions: make(map[string]Entry),
	}
}

// WithNow overrides the clock for tests
func (m *Manager) WithNow(fn func() time.Time) *Manager {
	m.nowFn = fn
	return m
}

// Build assembles the universe from current holdings, the configured
// watchlist, sector leaders, promotions, and discovery candidates. The
// result is capped at the configured size and priority-1 entries are never
// evicted.
func (m *Manager) Build(holdings, watchlist []string) []Entry {
	if cached, ok := m.loadCache(holdings); ok {
		return cached
	}

	now := m.nowFn()
	seen := make(map[string]bool)
	var entries []Entry

	add := func(symbol string, reason Reason, priority int) {
		if symbol == "" || seen[symbol] {
			return
		}
		seen[symbol] = true
		entries = append(entries, Entry{Symbol: symbol, Reason: reason, Priority: priority, AddedAt: now})
	}

	// Priority 1: everything currently held. The invariant that held
	// symbols are always tracked lives here.
	for _, s := range holdings {
		add(s, ReasonHoldings, 1)
	}

	// Priority 2: watchlist, promotions, then sector leaders.
	for _, s := range watchlist {
		add(s, ReasonWatchlist, 2)
	}
	m.mu.Lock()
	promoted := make([]Entry, 0, len(m.promotions))
	for _, e := range m.promotions {
		promoted = append(promoted, e)
	}
	m.mu.Unlock()
	sort.Slice(promoted, func(i, j int) bool { return promoted[i].Symbol < promoted[j].Symbol })
	for _, e := range promoted {
		add(e.Symbol, e.Reason, 2)
	}

	sectors := make([]string, 0, len(sectorLeaders))
	for sector := range sectorLeaders {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)
	for _, sector := range sectors {
		for _, s := range sectorLeaders[sector] {
			add(s, ReasonSectorLeader, 2)
		}
	}

	// Priority 3: discovery fills whatever room is left.
	for _, s := range discoveryCandidates {
		add(s, ReasonHighVolume, 3)
	}

	entries = m.cap(entries)
	m.saveCache(entries, holdings)

	m.logger.Info().Int("symbols", len(entries)).Msg("Universe built")
	return entries
}

// cap trims to size, evicting priority-3 before priority-2; priority-1 is
// untouchable even if holdings alone exceed the cap.
func (m *Manager) cap(entries []Entry) []Entry {
	if len(entries) <= m.size {
		return entries
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Priority < entries[j].Priority })

	cut := m.size
	// Never cut inside priority 1.
	for cut < len(entries) && entries[cut-1].Priority == 1 {
		cut++
	}
	return entries[:cut]
}

// Promote inserts symbols at priority 2 for subsequent builds and
// invalidates the cache so they take effect immediately.
func (m *Manager) Promote(symbols []string, reason Reason) {
	m.mu.Lock()
	now := m.nowFn()
	for _, s := range symbols {
		if s == "" {
			continue
		}
		m.promotions[s] = Entry{Symbol: s, Reason: reason, Priority: 2, AddedAt: now}
	}
	m.mu.Unlock()

	m.invalidateCache()
	m.logger.Info().Strs("symbols", symbols).Str("reason", string(reason)).Msg("Symbols promoted")
}

// Symbols flattens entries into a symbol list, priority order preserved
func Symbols(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Symbol)
	}
	return out
}

type cacheFile struct {
	BuiltAt  time.Time `json:"built_at"`
	Holdings []string  `json:"holdings"`
	Entries  []Entry   `json:"entries"`
}

func (m *Manager) loadCache(holdings []string) ([]Entry, bool) {
	if m.cachePath == "" || m.cacheTTL <= 0 {
		return nil, false
	}
	data, err := os.ReadFile(m.cachePath)
	if err != nil {
		return nil, false
	}
	var cached cacheFile
	if err := json.Unmarshal(data, &cached); err != nil {
		m.logger.Warn().Err(err).Msg("Universe cache unreadable, rebuilding")
		return nil, false
	}
	if m.nowFn().Sub(cached.BuiltAt) > m.cacheTTL {
		return nil, false
	}
	// Holdings changing invalidates the cache: held symbols must always
	// be priority-1 members.
	if !sameStrings(cached.Holdings, holdings) {
		return nil, false
	}
	return cached.Entries, true
}

func (m *Manager) saveCache(entries []Entry, holdings []string) {
	if m.cachePath == "" || m.cacheTTL <= 0 {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.cachePath), 0o755); err != nil {
		m.logger.Warn().Err(err).Msg("Universe cache dir")
		return
	}
	data, err := json.MarshalIndent(cacheFile{BuiltAt: m.nowFn(), Holdings: holdings, Entries: entries}, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(m.cachePath, data, 0o644); err != nil {
		m.logger.Warn().Err(err).Msg("Universe cache write")
	}
}

func (m *Manager) invalidateCache() {
	if m.cachePath == "" {
		return
	}
	if err := os.Remove(m.cachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn().Err(err).Msg("Universe cache remove")
	}
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
