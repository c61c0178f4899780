package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"binance-ai-trader-go/internal/models"
)

// wsMessage 是推送给前端的信封格式。
type wsMessage struct {
	Type      string          `json:"type"`
	Data      models.Snapshot `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// HubOptions 配置推送中心。
type HubOptions struct {
	QueueSize    int           // 每个订阅者的发送队列长度
	PingInterval time.Duration // 心跳间隔
	PongTimeout  time.Duration // 等待 pong 的超时
}

// Hub 管理所有 WebSocket 订阅者。每个周期的完整快照推送给所有连接；
// 消费慢的订阅者丢弃最旧的待发消息，不会拖慢发布方。
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	opts   HubOptions
	source func() models.Snapshot // 连接建立时的初始快照来源
	logger *zap.SugaredLogger

	upgrader websocket.Upgrader
}

type subscriber struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewHub 创建推送中心。source 提供新连接的首帧快照。
func NewHub(opts HubOptions, source func() models.Snapshot, logger *zap.SugaredLogger) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 8
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 75 * time.Second
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		opts:   opts,
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 看板与引擎同机部署，放行所有来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Publish 将快照编码一次并广播给所有订阅者。
func (h *Hub) Publish(snap models.Snapshot) {
	payload, err := json.Marshal(wsMessage{
		Type:      "state_update",
		Data:      snap,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Errorf("编码状态推送失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.enqueue(payload)
	}
}

// SubscriberCount 返回当前连接数。
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeWS 升级连接并注册订阅者，连接后立即收到一帧当前快照。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket 升级失败: %v", err)
		return
	}

	sub := &subscriber{
		conn:   conn,
		sendCh: make(chan []byte, h.opts.QueueSize),
		closed: make(chan struct{}),
	}

	if payload, err := json.Marshal(wsMessage{
		Type:      "state_update",
		Data:      h.source(),
		Timestamp: time.Now().Unix(),
	}); err == nil {
		sub.enqueue(payload)
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Infof("看板订阅者接入: %s", conn.RemoteAddr())

	go h.writePump(sub)
	go h.readPump(sub)
}

// Close 断开所有订阅者。
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.drop(sub)
	}
}

// enqueue 非阻塞入队。队列满时丢弃最旧的一条，保证最新快照总能入队。
func (s *subscriber) enqueue(payload []byte) {
	select {
	case s.sendCh <- payload:
		return
	default:
	}
	select {
	case <-s.sendCh:
	default:
	}
	select {
	case s.sendCh <- payload:
	default:
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.once.Do(func() {
		close(sub.closed)
		sub.conn.Close()
	})
}

// writePump 串行发送队列消息并维持心跳。
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	defer h.drop(sub)

	for {
		select {
		case payload := <-sub.sendCh:
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.closed:
			return
		}
	}
}

// readPump 消费入站帧以驱动 pong 处理，连接失效时注销订阅者。
func (h *Hub) readPump(sub *subscriber) {
	defer h.drop(sub)

	sub.conn.SetReadLimit(1024)
	sub.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
