package realtime

import (
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Serve 升级为 websocket 并阻塞到连接关闭。服务端只推送，客户端消息被丢弃
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, room, identity string) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Info("Websocket upgrade failed", zap.String("room", room), zap.Error(err))
		return
	}

	c := h.Connect(room, identity, wsConn)
	defer h.Disconnect(room, c)

	ctx := wsConn.CloseRead(r.Context())
	<-ctx.Done()
}
