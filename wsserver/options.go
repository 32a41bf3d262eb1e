package wsserver

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/ocpp-server-go/engine"
	"github.com/ggoodman/ocpp-server-go/registry"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20
)

// Option configures the Server.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	registry     *registry.Registry
	subprotocols []string
	callTimeout  *time.Duration
	pingInterval time.Duration
	writeTimeout time.Duration
	readLimit    int64
	attach       []func(*engine.Engine)
	handlers     []func(*engine.Engine)
}

// WithLogger sets the logger used by the server and the engines it creates.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRegistry records connected engines in r. By default the server keeps a
// private registry.
func WithRegistry(r *registry.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithSubprotocols sets the accepted OCPP versions. By default they are the
// versions known to the validator, or "ocpp1.6".
func WithSubprotocols(protocols ...string) Option {
	return func(c *config) {
		c.subprotocols = c.subprotocols[:0]
		for _, p := range protocols {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.subprotocols = append(c.subprotocols, p)
			}
		}
	}
}

// WithCallTimeout sets the engine pending-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) { c.callTimeout = &d }
}

// WithPingInterval sets the keepalive ping period. Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(c *config) { c.pingInterval = d }
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithReadLimit caps the size of an inbound frame in bytes.
func WithReadLimit(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithAttach adds a callback run on every new engine before the connection
// is validated, typically to attach hook observers.
func WithAttach(fn func(*engine.Engine)) Option {
	return func(c *config) {
		if fn != nil {
			c.attach = append(c.attach, fn)
		}
	}
}

// WithHandlers adds a callback run on every validated engine to register its
// action handlers.
func WithHandlers(fn func(*engine.Engine)) Option {
	return func(c *config) {
		if fn != nil {
			c.handlers = append(c.handlers, fn)
		}
	}
}
