// Package ws exposes the chat over a websocket: one connection per sender,
// JSON frames in both directions.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"joanabot/internal/conversation"
	"joanabot/internal/transport"
	logx "joanabot/pkg/logx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type frame struct {
	Text string `json:"text"`
}

type Handler struct {
	chat transport.Handler
	log  logx.Logger
}

// New returns the /ws endpoint. The sender is taken from the "from" query
// parameter.
func New(chat transport.Handler, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{chat: chat, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sender := strings.TrimSpace(r.URL.Query().Get("from"))
	if sender == "" {
		http.Error(w, conversation.MsgMissingSender, http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}
	c := &client{conn: conn, sender: sender, chat: h.chat, log: h.log.With(logx.String("from", sender))}
	c.run(r.Context())
}

type client struct {
	conn   *websocket.Conn
	sender string
	chat   transport.Handler
	log    logx.Logger
	wmu    sync.Mutex
}

func (c *client) run(parent context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer c.conn.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.log.Debug("websocket connected")
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("websocket closed", logx.Err(err))
			}
			return
		}
		var in frame
		if err := json.Unmarshal(data, &in); err != nil {
			in.Text = string(data)
		}
		out := c.chat.Handle(ctx, c.sender, in.Text)
		reply, ok := transport.Render(out)
		if !ok {
			continue
		}
		if err := c.write(websocket.TextMessage, reply); err != nil {
			c.log.Warn("websocket write failed", logx.Err(err))
			return
		}
	}
}

func (c *client) write(kind int, v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if kind == websocket.PingMessage {
		return c.conn.WriteMessage(kind, nil)
	}
	return c.conn.WriteJSON(v)
}

func (c *client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
