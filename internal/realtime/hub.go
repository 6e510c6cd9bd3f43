// Package realtime keeps the process-local registry of websocket subscribers
// grouped by room and pushes reconciled records to them.
//
// The registry lives in one process. Subscribers connected to another
// instance never see its broadcasts; a multi-instance deployment needs an
// external pub/sub bus in front of Broadcast.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"helpdesk-sync/contracts/ws"
	"helpdesk-sync/pkg/config"
	"helpdesk-sync/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultFanoutLimit = 32
	defaultGlobalRoom  = "global"
)

var errClosed = errors.New("connection closed")

// Hub 房间到连接集合的注册表
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}

	sendTimeout time.Duration
	fanoutLimit int
	globalRoom  string
	logger      *zap.Logger
}

func NewHub(cfg config.RealtimeConfig, logger *zap.Logger) *Hub {
	h := &Hub{
		rooms:       make(map[string]map[*Conn]struct{}),
		sendTimeout: cfg.SendTimeout,
		fanoutLimit: cfg.FanoutLimit,
		globalRoom:  cfg.GlobalRoom,
		logger:      logger,
	}
	if h.sendTimeout <= 0 {
		h.sendTimeout = defaultSendTimeout
	}
	if h.fanoutLimit <= 0 {
		h.fanoutLimit = defaultFanoutLimit
	}
	if h.globalRoom == "" {
		h.globalRoom = defaultGlobalRoom
	}
	return h
}

// GlobalRoom 所有 Deal 更新都会推送到的房间
func (h *Hub) GlobalRoom() string {
	return h.globalRoom
}

// Connect 先置为 Open 再注册，广播看到的连接一定可写
func (h *Hub) Connect(room, identity string, s socket) *Conn {
	c := newConn(room, identity, s)
	c.open()

	h.mu.Lock()
	conns, ok := h.rooms[room]
	if !ok {
		conns = make(map[*Conn]struct{})
		h.rooms[room] = conns
	}
	conns[c] = struct{}{}
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	h.logger.Debug("Realtime connection opened", zap.String("room", room), zap.String("identity", identity))
	return c
}

// Disconnect 移除连接，房间为空时一并删除。可重复调用
func (h *Hub) Disconnect(room string, c *Conn) {
	h.mu.Lock()
	removed := false
	if conns, ok := h.rooms[room]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			removed = true
		}
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.close(websocket.StatusNormalClosure, "")
	if removed {
		metrics.ActiveConnections.Dec()
		h.logger.Debug("Realtime connection closed", zap.String("room", room), zap.String("identity", c.identity))
	}
}

// Count 房间内的连接数
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Rooms 当前存在的房间数
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) snapshot(room string, targets []string) []*Conn {
	var want map[string]struct{}
	if len(targets) > 0 {
		want = make(map[string]struct{}, len(targets))
		for _, t := range targets {
			want[t] = struct{}{}
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if want != nil {
			if _, ok := want[c.identity]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// Broadcast 把 msg 推送给房间内的连接；targets 非空时只推给这些 identity。
// 单个连接发送失败或超时会被断开，不影响其它连接。
func (h *Hub) Broadcast(ctx context.Context, room string, msg any, targets ...string) (delivered, failed int) {
	conns := h.snapshot(room, targets)
	if len(conns) == 0 {
		return 0, 0
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode realtime message", zap.String("room", room), zap.Error(err))
		return 0, len(conns)
	}

	var ok, bad atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(h.fanoutLimit)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()

			if err := c.send(sendCtx, payload); err != nil {
				bad.Add(1)
				h.logger.Info("Dropping realtime connection after failed send",
					zap.String("room", room),
					zap.String("identity", c.identity),
					zap.Error(err))
				h.Disconnect(room, c)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	delivered, failed = int(ok.Load()), int(bad.Load())
	metrics.RecordBroadcast(delivered, failed)
	return delivered, failed
}

// Notify 推送到 Deal 自己的房间和全局房间
func (h *Hub) Notify(ctx context.Context, msg ws.Message) {
	h.Broadcast(ctx, DealRoom(msg.DealID), msg)
	h.Broadcast(ctx, h.globalRoom, msg)
}

// DealRoom Deal 房间名即远端 Deal ID
func DealRoom(remoteDealID int64) string {
	return strconv.FormatInt(remoteDealID, 10)
}

// CloseAll 关闭所有连接，用于优雅退出
func (h *Hub) CloseAll() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*Conn]struct{})
	h.mu.Unlock()

	for _, conns := range rooms {
		for c := range conns {
			if c.close(websocket.StatusGoingAway, "server shutting down") {
				metrics.ActiveConnections.Dec()
			}
		}
	}
}
