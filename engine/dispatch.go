package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ggoodman/ocpp-server-go/hooks"
	"github.com/ggoodman/ocpp-server-go/internal/outbound"
	"github.com/ggoodman/ocpp-server-go/ocpp"
	"github.com/ggoodman/ocpp-server-go/schema"
)

// HandleIncomingFrame processes one inbound text frame. Frames are handled
// one at a time; failures are logged and never returned or panicked.
func (e *Engine) HandleIncomingFrame(ctx context.Context, raw []byte) {
	e.inbound.Lock()
	defer e.inbound.Unlock()

	ctx = e.logContext(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			e.log.ErrorContext(ctx, "engine.frame.panic",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if e.isClosed() {
		e.log.DebugContext(ctx, "engine.frame.dropped", slog.String("reason", "closed"))
		return
	}

	info := e.newInfo()
	info.Raw = raw
	_, err := e.hooks.Execute(ctx, hooks.MessageReceived, func(ctx context.Context) (any, error) {
		frame, err := ocpp.ParseFrame(raw)
		if err != nil {
			return nil, err
		}
		info.Frame = frame
		info.MessageID = frame.ID
		info.Action = frame.Action

		ctx = e.messageContext(ctx, frame)
		switch frame.Type {
		case ocpp.Call:
			info.Payload = frame.Payload
			return e.handleCall(ctx, frame)
		case ocpp.CallResult:
			info.Payload = frame.Payload
			return e.handleCallResult(ctx, frame)
		case ocpp.CallError:
			info.Payload = frame.ErrorDetails
			return e.handleCallError(ctx, frame)
		}
		return nil, fmt.Errorf("%w: message type %d", ocpp.ErrMalformedFrame, frame.Type)
	}, info)

	switch {
	case err == nil:
	case errors.Is(err, ocpp.ErrMalformedFrame):
		e.log.WarnContext(ctx, "engine.frame.malformed",
			slog.String("err", err.Error()),
			slog.Int("len", len(raw)))
	default:
		e.log.ErrorContext(ctx, "engine.frame.fail", slog.String("err", err.Error()))
	}
}

func (e *Engine) handleCall(ctx context.Context, f *ocpp.Frame) (any, error) {
	res := newResponse(e, f.ID, f.Action)
	info := e.frameInfo(f, nil)

	return e.hooks.Execute(ctx, hooks.ExecuteCallHandler, func(ctx context.Context) (any, error) {
		if err := e.check(f.Action, f.Payload, false); err != nil {
			e.log.InfoContext(ctx, "engine.call.invalid", slog.String("err", err.Error()))
			desc := fmt.Sprintf("Payload for Action %s is syntactically incorrect or not conform the PDU structure", f.Action)
			return res, res.Error(ctx, ocpp.ErrorCodeFormationViolation, desc, validationDetails(err))
		}

		h := e.handler(f.Action)
		if h == nil {
			e.log.InfoContext(ctx, "engine.call.unhandled")
			desc := fmt.Sprintf("Action %s is not implemented", f.Action)
			return res, res.Error(ctx, ocpp.ErrorCodeNotImplemented, desc, nil)
		}

		if err := e.invoke(ctx, h, f, res); err != nil {
			if !res.Responded() {
				if rerr := res.respondWith(ctx, err); rerr != nil {
					return res, fmt.Errorf("handler %s: %w (responding: %w)", f.Action, err, rerr)
				}
			}
			if _, ok := asCallError(err); ok {
				return res, nil
			}
			return res, fmt.Errorf("handler %s: %w", f.Action, err)
		}

		if !res.Responded() {
			e.log.DebugContext(ctx, "engine.call.deferred")
		}
		return res, nil
	}, info)
}

func (e *Engine) invoke(ctx context.Context, h Handler, f *ocpp.Frame, res *Response) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.ErrorContext(ctx, "engine.handler.panic",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, f.Payload, res)
}

func (e *Engine) handleCallResult(ctx context.Context, f *ocpp.Frame) (any, error) {
	p, ok := e.calls.Resolve(f.ID)
	if !ok {
		e.log.DebugContext(ctx, "engine.result.unmatched")
		return nil, nil
	}

	info := e.frameInfo(f, nil)
	info.Action = p.Action()
	res, err := e.hooks.Execute(ctx, hooks.ExecuteCallResultHandler, func(ctx context.Context) (any, error) {
		if err := e.check(p.Action(), f.Payload, true); err != nil {
			e.log.WarnContext(ctx, "engine.result.malformed",
				slog.String("action", p.Action()),
				slog.String("err", err.Error()))
			p.Deliver(nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err))
			return nil, nil
		}
		p.Deliver(f.Payload, nil)
		return f.Payload, nil
	}, info)
	settle(p, err)
	return res, err
}

func (e *Engine) handleCallError(ctx context.Context, f *ocpp.Frame) (any, error) {
	p, ok := e.calls.Resolve(f.ID)
	if !ok {
		e.log.DebugContext(ctx, "engine.error.unmatched")
		return nil, nil
	}

	info := e.frameInfo(f, nil)
	info.Action = p.Action()
	ce := &CallError{Code: f.ErrorCode, Description: f.ErrorDescription, Details: f.ErrorDetails}
	res, err := e.hooks.Execute(ctx, hooks.ExecuteCallErrorHandler, func(ctx context.Context) (any, error) {
		p.Deliver(nil, ce)
		return ce, nil
	}, info)
	settle(p, err)
	return res, err
}

// settle makes sure a resolved call receives an outcome even when an
// observer stopped the hook point before the task ran.
func settle(p *outbound.Pending, err error) {
	if err != nil {
		p.Deliver(nil, err)
	}
}

func validationDetails(err error) any {
	var ve *schema.ValidationError
	if errors.As(err, &ve) && len(ve.Details) > 0 {
		return map[string]any{"errors": ve.Details}
	}
	return nil
}

func asCallError(err error) (*CallError, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
