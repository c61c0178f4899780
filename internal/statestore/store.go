package statestore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/persistence"
)

var (
	// ErrBusy is returned by BeginCycle when another cycle already holds the
	// write token. Callers are expected to skip the tick, not to queue.
	ErrBusy = errors.New("statestore: a cycle is already in flight")

	// ErrStaleToken is returned when a commit arrives without a matching
	// active write token.
	ErrStaleToken = errors.New("statestore: write token is not active")

	// ErrInvariantViolation marks data that must never reach the store
	// (negative quantities, probabilities outside [0,1], ...).
	ErrInvariantViolation = errors.New("statestore: invariant violation")
)

// Token proves its holder is the sole active writer for one cycle.
type Token struct {
	id uint64
}

// Options configures a Store.
type Options struct {
	MaxTradeHistory int
	MaxLogHistory   int
	QuoteAsset      string
	SimulationMode  bool
}

// StatusPatch is the partial RunStatus update applied by a commit.
// Nil pointer fields are left untouched.
type StatusPatch struct {
	IsRunning      *bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastError      *string
	CycleCompleted bool // increments CycleCount
	ErrorOccurred  bool // increments ErrorCount
}

// Update is one atomic batch of changes. Position and prediction maps are
// replaced wholesale when non-nil; trades and logs are appended to their
// bounded histories.
type Update struct {
	Positions   map[string]models.Position
	Predictions map[string]models.PredictionSnapshot
	Trades      []models.TradeRecord
	Logs        []models.LogEntry
	Status      StatusPatch
}

// Store is the concurrency-safe owner of all observable strategy state.
// Exactly one writer may hold the cycle token at a time; any number of
// readers may call Read concurrently, each receiving its own deep copy.
type Store struct {
	mu   sync.RWMutex
	snap models.Snapshot

	maxTrades  int
	maxLogs    int
	quoteAsset string

	cycleActive bool
	tokenSeq    uint64
	activeID    uint64

	repo      persistence.SnapshotRepository
	persistCh chan *models.Snapshot
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *zap.SugaredLogger
}

// New creates a Store. repo may be nil, in which case snapshots are not
// persisted. When the repository holds a previous snapshot, histories,
// positions, predictions and performance counters are restored from it.
func New(opts Options, repo persistence.SnapshotRepository, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.MaxTradeHistory <= 0 {
		opts.MaxTradeHistory = 1000
	}
	if opts.MaxLogHistory <= 0 {
		opts.MaxLogHistory = 1000
	}
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}

	s := &Store{
		snap: models.Snapshot{
			Status: models.RunStatus{
				SimulationMode: opts.SimulationMode,
				LastUpdate:     time.Now(),
			},
			Positions:   make(map[string]models.Position),
			Predictions: make(map[string]models.PredictionSnapshot),
		},
		maxTrades:  opts.MaxTradeHistory,
		maxLogs:    opts.MaxLogHistory,
		quoteAsset: opts.QuoteAsset,
		repo:       repo,
		persistCh:  make(chan *models.Snapshot, 16),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger,
	}

	if repo != nil {
		if prev, err := repo.Load(); err != nil {
			logger.Warnf("无法恢复历史状态快照: %v，将以全新状态启动。", err)
		} else if prev != nil {
			s.restore(prev)
		}
	}

	return s
}

// restore carries persisted state across restarts. Run-time fields are reset:
// a restored process has no running cycle.
func (s *Store) restore(prev *models.Snapshot) {
	if prev.Positions != nil {
		s.snap.Positions = prev.Positions
	}
	if prev.Predictions != nil {
		s.snap.Predictions = prev.Predictions
	}
	s.snap.Trades = truncateTrades(prev.Trades, s.maxTrades)
	s.snap.Logs = truncateLogs(prev.Logs, s.maxLogs)
	s.snap.Performance = prev.Performance
	s.snap.Status.CycleCount = prev.Status.CycleCount
	s.snap.Status.ErrorCount = prev.Status.ErrorCount
	s.snap.Status.LastRunAt = prev.Status.LastRunAt
	s.snap.Risk = DeriveRiskMetrics(s.snap.Positions, s.quoteAsset)
	s.logger.Infof("已从持久化快照恢复状态: %d 条交易, %d 条日志, 周期计数 %d",
		len(s.snap.Trades), len(s.snap.Logs), s.snap.Status.CycleCount)
}

// Start begins the async persistence loop.
func (s *Store) Start() {
	go s.persistenceLoop()
}

// Stop shuts the persistence loop down and flushes the last pending snapshot.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Read returns a deep copy of the current snapshot. Two reads with no
// intervening commit return identical data.
func (s *Store) Read() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySnapshot(&s.snap)
}

// BeginCycle acquires the exclusive write token. It never blocks: when a
// cycle is already in flight the caller receives ErrBusy immediately.
func (s *Store) BeginCycle() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cycleActive {
		return nil, ErrBusy
	}
	s.cycleActive = true
	s.tokenSeq++
	s.activeID = s.tokenSeq
	return &Token{id: s.tokenSeq}, nil
}

// Commit atomically applies an update batch. The batch is validated up front;
// a violated invariant rejects the whole batch and the store is unchanged.
// Commit may be called multiple times while the token is held.
func (s *Store) Commit(tok *Token, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok == nil || !s.cycleActive || tok.id != s.activeID {
		return ErrStaleToken
	}
	if err := validateUpdate(&u); err != nil {
		return err
	}

	now := time.Now()

	if u.Positions != nil {
		s.snap.Positions = copyPositions(u.Positions)
		s.snap.Risk = DeriveRiskMetrics(s.snap.Positions, s.quoteAsset)
	}
	if u.Predictions != nil {
		s.snap.Predictions = copyPredictions(u.Predictions)
	}

	for _, tr := range u.Trades {
		s.snap.Trades = append(s.snap.Trades, tr)
		s.snap.Performance.TotalTrades++
		if tr.Status == models.TradeSuccess {
			s.snap.Performance.SuccessfulTrades++
		} else {
			s.snap.Performance.FailedTrades++
		}
		s.snap.Performance.TotalVolume += tr.Notional
	}
	s.snap.Trades = truncateTrades(s.snap.Trades, s.maxTrades)

	s.snap.Logs = append(s.snap.Logs, u.Logs...)
	s.snap.Logs = truncateLogs(s.snap.Logs, s.maxLogs)

	applyStatusPatch(&s.snap.Status, u.Status)
	s.snap.Status.LastUpdate = now
	s.snap.TakenAt = now

	return nil
}

// EndCycle releases the write token and schedules an async snapshot persist.
// Releasing a token that is no longer active is a no-op.
func (s *Store) EndCycle(tok *Token) {
	s.mu.Lock()
	if tok == nil || !s.cycleActive || tok.id != s.activeID {
		s.mu.Unlock()
		return
	}
	s.cycleActive = false
	s.activeID = 0
	snap := copySnapshot(&s.snap)
	s.mu.Unlock()

	if s.repo == nil {
		return
	}
	select {
	case s.persistCh <- &snap:
	default:
		// The persistence worker is behind; a newer snapshot will follow.
		s.logger.Warn("持久化队列已满，丢弃本次状态快照。")
	}
}

// persistenceLoop writes snapshots to the repository off the writer's
// critical path.
func (s *Store) persistenceLoop() {
	defer close(s.doneCh)
	for {
		select {
		case snap := <-s.persistCh:
			s.persist(snap)
		case <-s.stopCh:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case snap := <-s.persistCh:
					s.persist(snap)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) persist(snap *models.Snapshot) {
	if err := s.repo.Save(snap); err != nil {
		s.logger.Errorf("CRITICAL: 保存状态快照失败: %v", err)
	}
}

func applyStatusPatch(st *models.RunStatus, p StatusPatch) {
	if p.IsRunning != nil {
		st.IsRunning = *p.IsRunning
	}
	if p.LastRunAt != nil {
		st.LastRunAt = *p.LastRunAt
	}
	if p.NextRunAt != nil {
		st.NextRunAt = *p.NextRunAt
	}
	if p.LastError != nil {
		st.LastError = *p.LastError
	}
	if p.CycleCompleted {
		st.CycleCount++
	}
	if p.ErrorOccurred {
		st.ErrorCount++
	}
}

func validateUpdate(u *Update) error {
	for asset, p := range u.Positions {
		if p.FreeAmount < 0 || p.LockedAmount < 0 {
			return fmt.Errorf("%w: 资产 %s 的持仓数量为负", ErrInvariantViolation, asset)
		}
		if p.LastPrice < 0 || p.USDValue < 0 {
			return fmt.Errorf("%w: 资产 %s 的价格或价值为负", ErrInvariantViolation, asset)
		}
	}
	for sym, pr := range u.Predictions {
		if pr.UpsideProbability < 0 || pr.UpsideProbability > 1 {
			return fmt.Errorf("%w: %s 的上涨概率 %f 超出 [0,1]", ErrInvariantViolation, sym, pr.UpsideProbability)
		}
		if pr.VolatilityAmplification < 0 {
			return fmt.Errorf("%w: %s 的波动放大系数为负", ErrInvariantViolation, sym)
		}
	}
	for _, tr := range u.Trades {
		if tr.Quantity < 0 || tr.Price < 0 || tr.Notional < 0 {
			return fmt.Errorf("%w: 交易记录 %s 含负值", ErrInvariantViolation, tr.Symbol)
		}
	}
	return nil
}

// DeriveRiskMetrics recomputes portfolio risk from the position set. The
// quote asset counts as reserve, everything else as exposure.
func DeriveRiskMetrics(positions map[string]models.Position, quoteAsset string) models.RiskMetrics {
	var m models.RiskMetrics
	for asset, p := range positions {
		m.TotalValue += p.USDValue
		if asset == quoteAsset {
			m.USDTReserve += p.USDValue
			continue
		}
		if p.USDValue > 0 {
			m.PositionCount++
		}
		if p.USDValue > m.MaxSinglePosition {
			m.MaxSinglePosition = p.USDValue
		}
	}
	if m.TotalValue > 0 {
		m.TotalExposureRatio = (m.TotalValue - m.USDTReserve) / m.TotalValue
	}
	return m
}

func truncateTrades(trades []models.TradeRecord, max int) []models.TradeRecord {
	if len(trades) <= max {
		return trades
	}
	kept := make([]models.TradeRecord, max)
	copy(kept, trades[len(trades)-max:])
	return kept
}

func truncateLogs(logs []models.LogEntry, max int) []models.LogEntry {
	if len(logs) <= max {
		return logs
	}
	kept := make([]models.LogEntry, max)
	copy(kept, logs[len(logs)-max:])
	return kept
}

func copyPositions(in map[string]models.Position) map[string]models.Position {
	out := make(map[string]models.Position, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyPredictions(in map[string]models.PredictionSnapshot) map[string]models.PredictionSnapshot {
	out := make(map[string]models.PredictionSnapshot, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// copySnapshot creates a deep copy so readers never share memory with the
// store's canonical state.
func copySnapshot(s *models.Snapshot) models.Snapshot {
	out := *s
	out.Positions = copyPositions(s.Positions)
	out.Predictions = copyPredictions(s.Predictions)
	out.Trades = make([]models.TradeRecord, len(s.Trades))
	copy(out.Trades, s.Trades)
	out.Logs = make([]models.LogEntry, len(s.Logs))
	copy(out.Logs, s.Logs)
	return out
}
