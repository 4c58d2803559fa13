package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/presence"
)

// Socket is the part of *websocket.Conn the gateway drives.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type connection struct {
	g       *Gateway
	sock    Socket
	client  *presence.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// Serve runs one authenticated connection until the socket closes. The
// connection is registered (joining its personal room) before any event is
// read and unregistered after the reader stops.
func (g *Gateway) Serve(ctx context.Context, sock Socket, userID string) {
	client := presence.NewClient(userID, g.opts.SendBuffer)
	c := &connection{
		g:       g,
		sock:    sock,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(g.opts.RatePerSecond), g.opts.RateBurst),
		log:     g.log.With(zap.String("user_id", userID), zap.String("conn_id", client.ID)),
	}

	g.hub.Register(client)
	g.recordPresence(true, client)
	c.log.Info("ws connected")

	done := make(chan struct{})
	go c.writePump(done)
	c.readPump(ctx)

	g.hub.Unregister(client)
	<-done
	g.recordPresence(false, client)
	_ = sock.Close()
	c.log.Info("ws disconnected")
}

func (g *Gateway) recordPresence(online bool, c *presence.Client) {
	if g.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if online {
		err = g.presence.AddConnection(ctx, c.UserID, c.ID)
	} else {
		err = g.presence.RemoveConnection(ctx, c.UserID, c.ID)
	}
	if err != nil {
		g.log.Warn("presence update failed", zap.String("user_id", c.UserID), zap.Bool("online", online), zap.Error(err))
	}
}

func (g *Gateway) refreshPresence(c *presence.Client) {
	if g.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.presence.Refresh(ctx, c.UserID); err != nil {
		g.log.Warn("presence refresh failed", zap.String("user_id", c.UserID), zap.Error(err))
	}
}

func (c *connection) writePump(done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.g.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case b, ok := <-c.client.Send():
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.g.opts.WriteDeadline))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Warn("write msg error", zap.Error(err))
				// unblock the reader; Serve unregisters and drains
				_ = c.sock.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.g.opts.WriteDeadline))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warn("ping error", zap.Error(err))
				_ = c.sock.Close()
				c.drain()
				return
			}
			c.g.refreshPresence(c.client)
		}
	}
}

// drain discards queued frames until the hub closes the queue.
func (c *connection) drain() {
	for range c.client.Send() {
	}
}

func (c *connection) readPump(ctx context.Context) {
	pongWait := 2 * c.g.opts.PingInterval
	c.sock.SetReadLimit(c.g.opts.MaxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, msg, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("ws read error", zap.Error(err))
			}
			return
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			c.sendError("", apperr.ErrRateLimited)
			continue
		}
		var env presence.Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Type == "" {
			c.sendError("", errInvalidFrame)
			continue
		}
		c.g.metrics.Event(env.Type)
		c.handle(ctx, env)
	}
}

type errorPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

// sendError answers the originating connection only.
func (c *connection) sendError(event string, err error) {
	frame, encErr := presence.Encode(presence.EventError, errorPayload{Event: event, Error: apperr.Public(err)})
	if encErr != nil {
		return
	}
	c.g.hub.SendTo(c.client, frame)
}
