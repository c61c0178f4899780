package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/statestore"
)

// defaultHistoryLimit 是历史类接口未指定 limit 时返回的条数。
const defaultHistoryLimit = 100

// CycleTrigger 允许看板请求立即运行一个周期。
type CycleTrigger interface {
	TriggerNow()
}

// Server 是面向看板的只读查询层，外加一个手动触发入口。
// 所有读接口都从状态快照取数，互不阻塞，也不阻塞策略循环。
type Server struct {
	store   *statestore.Store
	trigger CycleTrigger
	hub     *Hub
	httpSrv *http.Server
	logger  *zap.SugaredLogger
}

// NewServer 组装 HTTP 服务。
func NewServer(addr string, store *statestore.Store, trigger CycleTrigger, hub *Hub, logger *zap.SugaredLogger) *Server {
	s := &Server{
		store:   store,
		trigger: trigger,
		hub:     hub,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/predictions", s.handlePredictions)
	mux.HandleFunc("/api/trading-history", s.handleTradingHistory)
	mux.HandleFunc("/api/strategy-logs", s.handleStrategyLogs)
	mux.HandleFunc("/api/performance", s.handlePerformance)
	mux.HandleFunc("/api/risk-metrics", s.handleRiskMetrics)
	mux.HandleFunc("/api/run-now", s.handleRunNow)
	mux.HandleFunc("/ws", hub.ServeWS)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start 在独立协程中启动监听。
func (s *Server) Start() {
	go func() {
		s.logger.Infof("看板服务已启动: http://%s", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("看板服务异常退出: %v", err)
		}
	}()
}

// Stop 优雅关闭 HTTP 服务与所有 WebSocket 连接。
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	writeJSON(w, snap.Status)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	writeJSON(w, snap.Positions)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	writeJSON(w, snap.Predictions)
}

// handleTradingHistory 返回最近 limit 条交易，按时间从旧到新排列。
func (s *Server) handleTradingHistory(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	limit := parseLimit(r, defaultHistoryLimit)
	writeJSON(w, tailTrades(snap.Trades, limit))
}

// handleStrategyLogs 返回最近 limit 条策略日志，按时间从旧到新排列。
func (s *Server) handleStrategyLogs(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	limit := parseLimit(r, defaultHistoryLimit)
	writeJSON(w, tailLogs(snap.Logs, limit))
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	writeJSON(w, snap.Performance)
}

func (s *Server) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	writeJSON(w, snap.Risk)
}

// handleRunNow 请求立即运行一个周期。若已有周期在运行，该请求会被
// 调度器合并或跳过，接口本身总是立即返回。
func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.trigger.TriggerNow()
	writeJSON(w, map[string]string{"status": "triggered"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func tailTrades(trades []models.TradeRecord, limit int) []models.TradeRecord {
	if len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	if trades == nil {
		trades = []models.TradeRecord{}
	}
	return trades
}

func tailLogs(logs []models.LogEntry, limit int) []models.LogEntry {
	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	if logs == nil {
		logs = []models.LogEntry{}
	}
	return logs
}
