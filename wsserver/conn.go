package wsserver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn adapts a websocket connection to engine.Transport.
type conn struct {
	ws           *websocket.Conn
	log          *slog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration

	// wmu serializes writers; gorilla allows one concurrent writer.
	wmu sync.Mutex

	cbmu      sync.Mutex
	onMessage func(ctx context.Context, data []byte)
	onClose   func(code int, reason string)

	closeOnce   sync.Once
	done        chan struct{}
	localCode   int
	localReason string
}

func newConn(ws *websocket.Conn, log *slog.Logger, writeTimeout, pingInterval time.Duration) *conn {
	return &conn{
		ws:           ws,
		log:          log,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
}

func (c *conn) Write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) OnMessage(fn func(ctx context.Context, data []byte)) {
	c.cbmu.Lock()
	defer c.cbmu.Unlock()
	c.onMessage = fn
}

func (c *conn) OnClose(fn func(code int, reason string)) {
	c.cbmu.Lock()
	defer c.cbmu.Unlock()
	c.onClose = fn
}

// serve runs the read loop until the connection fails, then fires the close
// callback once. Frames are handed to the message callback one at a time.
func (c *conn) serve(ctx context.Context) {
	if c.pingInterval > 0 {
		pongWait := 2 * c.pingInterval
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.keepalive()
	}

	code, reason := websocket.CloseAbnormalClosure, ""
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			} else {
				reason = err.Error()
			}
			break
		}
		if c.pingInterval > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
		}
		if mt != websocket.TextMessage {
			c.log.WarnContext(ctx, "wsserver.frame.binary_ignored", slog.Int("len", len(data)))
			continue
		}

		c.cbmu.Lock()
		fn := c.onMessage
		c.cbmu.Unlock()
		if fn != nil {
			fn(ctx, data)
		}
	}

	c.shutdown()

	c.cbmu.Lock()
	if c.localCode != 0 {
		code, reason = c.localCode, c.localReason
	}
	fn := c.onClose
	c.cbmu.Unlock()
	if fn != nil {
		fn(code, reason)
	}
}

func (c *conn) keepalive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.wmu.Unlock()
			if err != nil {
				c.log.Debug("wsserver.ping.fail", slog.String("err", err.Error()))
				_ = c.ws.Close()
				return
			}
		}
	}
}

// close sends a close frame and tears the connection down; the read loop
// then observes the failure and fires the close callback.
func (c *conn) close(code int, reason string) {
	c.cbmu.Lock()
	if c.localCode == 0 {
		c.localCode, c.localReason = code, reason
	}
	c.cbmu.Unlock()

	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeTimeout))
	c.wmu.Unlock()
	c.shutdown()
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
