package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/gowvp/forensight/internal/core/vision"
	"github.com/ixugo/goddd/pkg/conc"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// LiveHub 通过 websocket 向浏览器推送实时告警
// 客户端发送缓冲满时丢弃该条消息，不阻塞流水线
type LiveHub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	clients  conc.Map[*liveClient, struct{}]
	dropped  atomic.Uint64
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewLiveHub 返回的清理函数断开所有客户端
func NewLiveHub(log *slog.Logger) (*LiveHub, func()) {
	h := LiveHub{
		log: log.With("component", "live_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	return &h, h.Close
}

// Emit 实现告警出口
func (h *LiveHub) Emit(_ context.Context, ev vision.AlertEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.clients.Range(func(c *liveClient, _ struct{}) bool {
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
		}
		return true
	})
	return nil
}

// Clients 在线客户端数量
func (h *LiveHub) Clients() int {
	var n int
	h.clients.Range(func(*liveClient, struct{}) bool {
		n++
		return true
	})
	return n
}

// Dropped 因客户端过慢丢弃的消息数
func (h *LiveHub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeWS 升级连接并阻塞到客户端断开
func (h *LiveHub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "err", err)
		return
	}
	cli := &liveClient{conn: conn, send: make(chan []byte, 16), done: make(chan struct{})}
	h.clients.Store(cli, struct{}{})
	h.log.Debug("client connected", "remote", c.Request.RemoteAddr)

	go h.writeLoop(cli)
	h.readLoop(cli)
}

// readLoop 只处理 pong 与关闭
func (h *LiveHub) readLoop(c *liveClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *LiveHub) writeLoop(c *liveClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			_ = c.conn.Close()
			return
		}
	}
}

func (h *LiveHub) remove(c *liveClient) {
	c.once.Do(func() {
		h.clients.Delete(c)
		close(c.done)
	})
}

// Close 断开所有客户端
func (h *LiveHub) Close() {
	h.clients.Range(func(c *liveClient, _ struct{}) bool {
		h.remove(c)
		return true
	})
}
