package interfaces

import (
	"checkout/internal/pkg/logger"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// WatchHub 维护按订单分组的 websocket 连接，把订单状态变化推送给正在等待支付结果的页面。
// 推送只是提示，页面仍以 GET /orders/{id} 的结果为准。
type WatchHub struct {
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	watchers map[string]map[*watcher]struct{} // orderID -> watchers
}

// watcher 是一个 websocket 连接
type watcher struct {
	hub     *WatchHub
	conn    *websocket.Conn
	send    chan []byte
	orderID string
	once    sync.Once
}

func NewWatchHub() *WatchHub {
	return &WatchHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// Serve 升级连接、推送当前快照并开始转发该订单后续的状态变化
func (h *WatchHub) Serve(w http.ResponseWriter, r *http.Request, orderID string, snapshot interface{}) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Str("order_id", orderID).Msg("websocket upgrade failed")
		return
	}
	c := &watcher{hub: h, conn: conn, send: make(chan []byte, sendBuffer), orderID: orderID}
	if payload, err := json.Marshal(snapshot); err == nil {
		c.send <- payload
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

// Broadcast 向订单的所有观察者推送一条消息，返回送达的连接数。发送缓冲已满的慢连接会被断开
func (h *WatchHub) Broadcast(orderID string, payload []byte) int {
	h.mu.RLock()
	var slow []*watcher
	delivered := 0
	for c := range h.watchers[orderID] {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
	return delivered
}

// watchers 返回某订单当前的连接数
func (h *WatchHub) watchers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[orderID])
}

// Close 断开所有连接
func (h *WatchHub) Close() {
	h.mu.RLock()
	var all []*watcher
	for _, set := range h.watchers {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

func (h *WatchHub) register(c *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.watchers[c.orderID]
	if !ok {
		set = make(map[*watcher]struct{})
		h.watchers[c.orderID] = set
	}
	set[c] = struct{}{}
}

func (h *WatchHub) unregister(c *watcher) {
	c.once.Do(func() {
		h.mu.Lock()
		if set, ok := h.watchers[c.orderID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.watchers, c.orderID)
			}
		}
		h.mu.Unlock()
		close(c.send)
	})
}

// writePump 把 send 中的消息写入连接，并定期发送 ping
func (c *watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}

// readPump 只处理 pong 与关闭，客户端发来的内容被丢弃
func (c *watcher) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
