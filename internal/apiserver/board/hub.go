// Package board 看板实时推送
//
// 线索的创建/更新/删除/改派事件通过 WebSocket 广播给所有已连接的看板页面，
// 前端收到事件后局部刷新，避免轮询。
package board

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 线索事件类型
const (
	ActionLeadCreated  = "lead_created"
	ActionLeadUpdated  = "lead_updated"
	ActionLeadDeleted  = "lead_deleted"
	ActionLeadAssigned = "lead_assigned"
)

// Event 推送给看板的事件
type Event struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload,omitempty"`
	Time    time.Time   `json:"time"`
}

// AuthorizeFunc 握手鉴权回调，返回错误则拒绝升级
//
// 线索事件带客户联系方式，看板连接必须和 REST API 一样出示会话凭据。
type AuthorizeFunc func(r *http.Request) error

// Hub 看板 WebSocket 集线器
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	upgrader  websocket.Upgrader
	authorize AuthorizeFunc
}

// NewHub 创建集线器
func NewHub(authorize AuthorizeFunc) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		authorize: authorize,
		upgrader: websocket.Upgrader{
			// 会话靠 Cookie，跨域由反向代理/CORS 层把关
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes 注册看板路由
func (h *Hub) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/board", h.HandleWS)
}

// HandleWS 升级连接并挂入客户端集合
// GET /ws/board
//
// 鉴权在升级前完成：握手请求自带会话 Cookie，无有效会话的连接在这里拦下。
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.authorize != nil {
		if err := h.authorize(r); err != nil {
			log.Printf("[board] WebSocket handshake rejected: %v", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Not logged in"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[board] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[board] Client connected (%d online)", count)

	// 只读循环：看板是单向推送，客户端消息仅用于探活，读错误即断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// BroadcastLeadEvent 向所有在线看板广播线索事件
// 写失败的连接就地摘除
func (h *Hub) BroadcastLeadEvent(action string, payload interface{}) {
	event := Event{Action: action, Payload: payload, Time: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount 当前在线客户端数（测试与诊断用）
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
