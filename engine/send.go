package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/ocpp-server-go/hooks"
	"github.com/ggoodman/ocpp-server-go/internal/logctx"
	"github.com/ggoodman/ocpp-server-go/internal/outbound"
	"github.com/ggoodman/ocpp-server-go/ocpp"
)

// Call is an outbound CALL waiting for its CALLRESULT or CALLERROR.
type Call struct {
	p *outbound.Pending
}

// ID returns the correlation id of the CALL.
func (c *Call) ID() string { return c.p.ID() }

// Action returns the action of the CALL.
func (c *Call) Action() string { return c.p.Action() }

// Done is closed once the call has an outcome.
func (c *Call) Done() <-chan struct{} { return c.p.Done() }

// Wait blocks until the call has an outcome or ctx is done. The outcome is
// the CALLRESULT payload, or one of *CallError, ErrMalformedResponse,
// ErrCallTimeout and ErrConnectionClosed. Abandoning a wait leaves the call
// pending; Engine.Call removes it.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.p.Done():
		return c.p.Outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send validates payload against the request schema of action, registers a
// pending call and writes the CALL. Nothing is written when validation
// fails. payload may be a json.RawMessage, raw bytes, nil (sent as {}) or any
// value encoding/json can marshal.
func (e *Engine) Send(ctx context.Context, action string, payload any) (*Call, error) {
	if action == "" {
		return nil, fmt.Errorf("%w: empty action", ErrInvalidArgument)
	}
	body, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := e.check(action, body, false); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if !e.Connected() {
		return nil, ErrNotConnected
	}

	id := e.newID()
	// Register before writing so a fast response always finds its entry.
	p, err := e.calls.Register(id, action)
	if err != nil {
		return nil, fmt.Errorf("register call %s: %w", id, err)
	}

	frame := ocpp.NewCall(id, action, body)
	if err := e.emit(ctx, hooks.SendCall, frame); err != nil {
		e.calls.Remove(id)
		return nil, err
	}

	e.log.DebugContext(e.messageContext(ctx, frame), "engine.call.sent")
	return &Call{p: p}, nil
}

// Call sends a CALL and waits for its outcome. When ctx ends first, the
// pending entry is removed and any later response is dropped.
func (e *Engine) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	c, err := e.Send(ctx, action, payload)
	if err != nil {
		return nil, err
	}
	res, err := c.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		e.calls.Remove(c.ID())
	}
	return res, err
}

// emit encodes frame and writes it inside point, which itself wraps the
// sendWsMsg point.
func (e *Engine) emit(ctx context.Context, point hooks.Point, frame *ocpp.Frame) error {
	raw, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	return e.emitEncoded(ctx, point, frame, raw)
}

func (e *Engine) emitEncoded(ctx context.Context, point hooks.Point, frame *ocpp.Frame, raw []byte) error {
	info := e.frameInfo(frame, raw)
	_, err := e.hooks.Execute(ctx, point, func(ctx context.Context) (any, error) {
		return nil, e.write(ctx, frame, raw)
	}, info)
	return err
}

func encodeFrame(frame *ocpp.Frame) ([]byte, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	return raw, nil
}

func (e *Engine) write(ctx context.Context, frame *ocpp.Frame, raw []byte) error {
	e.mu.RLock()
	t, closed := e.transport, e.closed
	e.mu.RUnlock()
	if t == nil || closed {
		return ErrNotConnected
	}

	_, err := e.hooks.Execute(ctx, hooks.SendMessage, func(ctx context.Context) (any, error) {
		if err := t.Write(ctx, raw); err != nil {
			return nil, fmt.Errorf("write %s frame: %w", frame.Type, err)
		}
		return nil, nil
	}, e.frameInfo(frame, raw))
	return err
}

func (e *Engine) frameInfo(frame *ocpp.Frame, raw []byte) *hooks.Info {
	info := e.newInfo()
	info.Raw = raw
	if frame != nil {
		info.Frame = frame
		info.MessageID = frame.ID
		info.Action = frame.Action
		switch frame.Type {
		case ocpp.CallError:
			info.Payload = frame.ErrorDetails
		default:
			info.Payload = frame.Payload
		}
	}
	return info
}

func (e *Engine) messageContext(ctx context.Context, frame *ocpp.Frame) context.Context {
	return logctx.WithMessage(e.logContext(ctx), &logctx.MessageData{
		ID:     frame.ID,
		Action: frame.Action,
		Type:   frame.Type.String(),
	})
}
