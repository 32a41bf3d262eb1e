// Package logctx carries charge point and frame attributes through a
// context.Context and adds them to every slog record logged with it.
package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the attributes stored in the context.
type Handler struct {
	slog.Handler
}

// NewHandler wraps h. A Handler is returned unchanged.
func NewHandler(h slog.Handler) Handler {
	if lh, ok := h.(Handler); ok {
		return lh
	}
	return Handler{Handler: h}
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cp, ok := ctx.Value(chargePointKey{}).(*ChargePointData); ok {
		r.AddAttrs(slog.Group("cp",
			slog.String("id", cp.ID),
			slog.String("protocol", cp.ProtocolVersion),
			slog.String("remote_addr", cp.RemoteAddr),
		))
	}

	if msg, ok := ctx.Value(messageKey{}).(*MessageData); ok {
		r.AddAttrs(slog.Group("ocpp",
			slog.String("id", msg.ID),
			slog.String("action", msg.Action),
			slog.String("type", msg.Type),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type chargePointKey struct{}

type ChargePointData struct {
	ID              string
	ProtocolVersion string
	RemoteAddr      string
}

func WithChargePoint(ctx context.Context, data *ChargePointData) context.Context {
	return context.WithValue(ctx, chargePointKey{}, data)
}

func ChargePointFrom(ctx context.Context) (*ChargePointData, bool) {
	data, ok := ctx.Value(chargePointKey{}).(*ChargePointData)
	return data, ok
}

type messageKey struct{}

type MessageData struct {
	ID     string
	Action string
	Type   string
}

func WithMessage(ctx context.Context, data *MessageData) context.Context {
	return context.WithValue(ctx, messageKey{}, data)
}
