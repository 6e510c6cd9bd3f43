package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"
)

// State 连接状态，只会单向前进
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// socket 是 *websocket.Conn 中用到的部分
type socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn 一个订阅者连接
type Conn struct {
	room     string
	identity string
	ws       socket

	state     atomic.Int32
	closeOnce sync.Once
}

func newConn(room, identity string, ws socket) *Conn {
	return &Conn{room: room, identity: identity, ws: ws}
}

func (c *Conn) Room() string     { return c.room }
func (c *Conn) Identity() string { return c.identity }
func (c *Conn) State() State     { return State(c.state.Load()) }

// open Connecting -> Open；已关闭的连接不会重新打开
func (c *Conn) open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

func (c *Conn) send(ctx context.Context, payload []byte) error {
	if c.State() != StateOpen {
		return errClosed
	}
	return c.ws.Write(ctx, websocket.MessageText, payload)
}

// close 幂等；返回是否由本次调用完成关闭
func (c *Conn) close(code websocket.StatusCode, reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		_ = c.ws.Close(code, reason)
		closed = true
	})
	return closed
}
