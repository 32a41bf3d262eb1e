package engine

import (
	"context"
	"log/slog"

	"github.com/ggoodman/ocpp-server-go/hooks"
)

// AttachLogging installs the default observers: every inbound frame is
// logged before it is processed and every outbound frame after it has been
// written.
func AttachLogging(e *Engine, log *slog.Logger) {
	if log == nil {
		log = e.log
	}

	e.Hooks().Before(hooks.MessageReceived, func(ctx context.Context, info *hooks.Info) error {
		log.InfoContext(ctx, "engine.message.received",
			slog.String("cpid", info.CPID),
			slog.String("raw", string(info.Raw)))
		return nil
	})

	e.Hooks().After(hooks.SendMessage, func(ctx context.Context, info *hooks.Info, _ any) error {
		log.InfoContext(ctx, "engine.message.sent",
			slog.String("cpid", info.CPID),
			slog.String("raw", string(info.Raw)))
		return nil
	})
}
