package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/types"
)

const (
	broadcastQueueSize = 256
	wsWriteTimeout     = 5 * time.Second
)

// DashboardStats 定义了仪表盘所需的实时统计数据
type DashboardStats struct {
	Timestamp      time.Time `json:"timestamp"`
	State          string    `json:"state"`
	ActiveSessions int64     `json:"active_sessions"`
	CompletedEqps  int       `json:"completed_eqps"`
	TotalEqps      int       `json:"total_eqps"`
	RxRate         uint64    `json:"rx_rate"` // bytes per second
	TxRate         uint64    `json:"tx_rate"` // bytes per second
}

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub keeps the monitor websocket clients and fans messages out to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

var _ types.EventSink = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastQueueSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run serves register, unregister and broadcast requests until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info().Str("event", "ws_client_registered").Str("remote_addr", conn.RemoteAddr().String()).Send()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("event", "ws_client_unregistered").Str("remote_addr", conn.RemoteAddr().String()).Send()
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// the read pump unregisters broken clients
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
				}
			}
			h.mu.Unlock()
		case <-h.quit:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// ClientCount returns the number of connected monitor clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PublishEqpEvent 广播单条 EQP 事件 (收发帧, 场景进度, 故障)
func (h *Hub) PublishEqpEvent(ev *types.EqpEvent) {
	h.send(WebSocketMessage{Type: "eqp_event", Data: ev})
}

// BroadcastDashboardUpdate 广播仪表盘的实时统计数据
func (h *Hub) BroadcastDashboardUpdate(stats *DashboardStats) {
	h.send(WebSocketMessage{Type: "dashboard_update", Data: stats})
}

func (h *Hub) send(msg WebSocketMessage) {
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Str("type", msg.Type).Msg("Hub: Failed to marshal message")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		// Do not log warning for full channel to avoid log spam
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.quit:
		conn.Close()
		return
	}

	// This is a read pump. It's needed to detect when a client closes the connection.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.quit:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
