package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/ocpp-server-go/hooks"
	"github.com/ggoodman/ocpp-server-go/internal/logctx"
	"github.com/ggoodman/ocpp-server-go/internal/outbound"
	"github.com/google/uuid"
)

const defaultCallTimeout = 30 * time.Second

var emptyObject = json.RawMessage("{}")

// Validator checks a payload against the schema for (version, action,
// direction). It returns nil when the payload is acceptable, including when
// no schema exists. *schema.Registry satisfies it.
type Validator interface {
	Check(version, action string, payload []byte, isResponse bool) error
}

// Transport is the live connection to one charge point.
type Transport interface {
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// OnMessage installs the callback for inbound text frames. The transport
	// must invoke it for one frame at a time, in arrival order.
	OnMessage(fn func(ctx context.Context, data []byte))
	// OnClose installs the callback invoked once when the connection closes.
	OnClose(fn func(code int, reason string))
}

// Handler answers an inbound CALL through res. Returning an error without
// having answered makes the engine answer with an InternalError CALLERROR,
// or with the CALLERROR itself when the error is a *CallError.
type Handler func(ctx context.Context, payload json.RawMessage, res *Response) error

// Engine is the protocol engine for one charge point connection.
type Engine struct {
	cpid        string
	version     string
	validator   Validator
	log         *slog.Logger
	hooks       *hooks.Registry
	newID       func() string
	callTimeout time.Duration

	mu        sync.RWMutex
	transport Transport
	handlers  map[string]Handler
	closed    bool

	// inbound serializes HandleIncomingFrame.
	inbound sync.Mutex

	calls *outbound.Table
}

// Option configures an Engine.
type Option func(*Engine)

// WithProtocolVersion sets the negotiated sub-protocol, e.g. "ocpp1.6".
func WithProtocolVersion(v string) Option {
	return func(e *Engine) { e.version = strings.ToLower(strings.TrimSpace(v)) }
}

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithCallTimeout bounds how long an outbound CALL waits for its response.
// Zero disables the timeout. Default is 30s.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.callTimeout = d
		}
	}
}

// WithIDGenerator overrides the correlation id generator (default uuid.NewString).
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithHooks uses r instead of a fresh hooks.Registry.
func WithHooks(r *hooks.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.hooks = r
		}
	}
}

// New constructs the engine for charge point cpid. A nil validator accepts
// every payload.
func New(cpid string, validator Validator, opts ...Option) *Engine {
	e := &Engine{
		cpid:        cpid,
		validator:   validator,
		log:         slog.Default(),
		hooks:       hooks.New(),
		newID:       uuid.NewString,
		callTimeout: defaultCallTimeout,
		handlers:    make(map[string]Handler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.calls = outbound.New(e.callTimeout)
	return e
}

// CPID returns the charge point id.
func (e *Engine) CPID() string { return e.cpid }

// ProtocolVersion returns the negotiated sub-protocol ("" when none was negotiated).
func (e *Engine) ProtocolVersion() string { return e.version }

// Hooks returns the engine's hook registry.
func (e *Engine) Hooks() *hooks.Registry { return e.hooks }

// Pending returns the number of outbound calls awaiting a response.
func (e *Engine) Pending() int { return e.calls.Len() }

// Connected reports whether a transport is bound and the engine is not closed.
func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transport != nil && !e.closed
}

// AttachTransport binds t to the engine. An engine accepts exactly one
// transport over its lifetime.
func (e *Engine) AttachTransport(t Transport) error {
	if t == nil {
		return fmt.Errorf("%w: nil transport", ErrInvalidArgument)
	}

	e.mu.Lock()
	if e.transport != nil {
		e.mu.Unlock()
		return ErrAlreadyBound
	}
	if e.closed {
		e.mu.Unlock()
		return ErrConnectionClosed
	}
	e.transport = t
	e.mu.Unlock()

	t.OnMessage(e.HandleIncomingFrame)
	t.OnClose(func(code int, reason string) {
		e.Close(&CloseError{Code: code, Reason: reason})
	})
	return nil
}

// RegisterHandler installs h for action, replacing any previous handler.
func (e *Engine) RegisterHandler(action string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		delete(e.handlers, action)
		return
	}
	e.handlers[action] = h
}

// ValidateConnection runs the validConnection hook point once at connect
// time. An observer rejects the charge point by returning an error.
func (e *Engine) ValidateConnection(ctx context.Context, username, password string) error {
	info := e.newInfo()
	info.Username, info.Password = username, password
	_, err := e.hooks.Execute(ctx, hooks.ValidateConnection, nil, info)
	return err
}

// Close stops dispatch to handlers and rejects every pending call with
// ErrConnectionClosed. It is safe to call more than once.
func (e *Engine) Close(cause error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	err := ErrConnectionClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}
	pending := e.calls.Len()
	e.calls.Close(err)

	e.log.InfoContext(e.logContext(context.Background()), "engine.closed",
		slog.Int("pending_rejected", pending),
		slog.String("cause", errString(cause)))
}

func (e *Engine) handler(action string) Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handlers[action]
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) check(action string, payload []byte, isResponse bool) error {
	if e.validator == nil {
		return nil
	}
	return e.validator.Check(e.version, action, payload, isResponse)
}

func (e *Engine) newInfo() *hooks.Info {
	return &hooks.Info{CPID: e.cpid, ProtocolVersion: e.version}
}

func (e *Engine) logContext(ctx context.Context) context.Context {
	if cp, ok := logctx.ChargePointFrom(ctx); ok && cp.ID == e.cpid {
		return ctx
	}
	return logctx.WithChargePoint(ctx, &logctx.ChargePointData{ID: e.cpid, ProtocolVersion: e.version})
}

func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		return rawPayload(p)
	case []byte:
		return rawPayload(p)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}

func rawPayload(p []byte) (json.RawMessage, error) {
	if len(p) == 0 {
		return emptyObject, nil
	}
	if !json.Valid(p) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(p), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
