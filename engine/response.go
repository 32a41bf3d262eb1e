package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ggoodman/ocpp-server-go/hooks"
	"github.com/ggoodman/ocpp-server-go/ocpp"
)

// Response answers exactly one inbound CALL.
type Response struct {
	e         *Engine
	id        string
	action    string
	responded atomic.Bool
}

func newResponse(e *Engine, id, action string) *Response {
	return &Response{e: e, id: id, action: action}
}

// ID returns the correlation id of the CALL being answered.
func (r *Response) ID() string { return r.id }

// Action returns the action of the CALL being answered.
func (r *Response) Action() string { return r.action }

// Responded reports whether a CALLRESULT or CALLERROR has been sent.
func (r *Response) Responded() bool { return r.responded.Load() }

// Success answers with a CALLRESULT. A payload that fails the response
// schema is replaced by an InternalError CALLERROR and ErrInvalidPayload is
// returned.
func (r *Response) Success(ctx context.Context, payload any) error {
	if r.responded.Load() {
		return ErrAlreadyResponded
	}
	if !r.e.Connected() {
		return ErrNotConnected
	}

	body, err := encodePayload(payload)
	if err == nil {
		err = r.e.check(r.action, body, true)
	}
	if err != nil {
		r.e.log.WarnContext(r.e.logContext(ctx), "engine.response.invalid",
			slog.String("action", r.action),
			slog.String("id", r.id),
			slog.String("err", err.Error()))
		if sendErr := r.Error(ctx, ocpp.ErrorCodeInternalError, "An internal error occurred and the receiver was not able to process the requested Action successfully", nil); sendErr != nil {
			return fmt.Errorf("%w: %w (sending CALLERROR: %w)", ErrInvalidPayload, err, sendErr)
		}
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return r.send(ctx, hooks.SendCallResult, ocpp.NewCallResult(r.id, body))
}

// Error answers with a CALLERROR. details may be nil.
func (r *Response) Error(ctx context.Context, code ocpp.ErrorCode, description string, details any) error {
	if r.responded.Load() {
		return ErrAlreadyResponded
	}
	if !r.e.Connected() {
		return ErrNotConnected
	}

	raw, err := encodePayload(details)
	if err != nil {
		raw = emptyObject
	}
	return r.send(ctx, hooks.SendCallError, ocpp.NewCallError(r.id, code, description, raw))
}

// send marks the CALL answered only once the frame is encoded, so an
// unencodable answer still leaves room for a CALLERROR.
func (r *Response) send(ctx context.Context, point hooks.Point, frame *ocpp.Frame) error {
	raw, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	if !r.responded.CompareAndSwap(false, true) {
		return ErrAlreadyResponded
	}
	return r.e.emitEncoded(ctx, point, frame, raw)
}

// respondWith answers with err when it is a *CallError, and with an
// InternalError otherwise.
func (r *Response) respondWith(ctx context.Context, err error) error {
	if ce, ok := asCallError(err); ok {
		var details any
		if len(ce.Details) > 0 {
			details = json.RawMessage(ce.Details)
		}
		return r.Error(ctx, ce.Code, ce.Description, details)
	}
	return r.Error(ctx, ocpp.ErrorCodeInternalError, "An internal error occurred and the receiver was not able to process the requested Action successfully", nil)
}
