package middleware

import (
	"context"
	"log/slog"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/outbox"
)

// OutboxFlush wakes the relay after a command succeeds. The command has
// already committed, so a failed wake-up is logged and the next poll picks
// the records up.
func OutboxFlush(flusher outbox.Flusher, logger *slog.Logger) CommandMiddleware {
	if flusher == nil {
		return nil
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := nextFn(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := flusher.Flush(ctx); err != nil && logger != nil {
				logger.WarnContext(ctx, "outbox flush failed", "command", cmd.Key(), "error", err)
			}
			return res, nil
		})
	}
}
