package commands

import (
	"context"
	"errors"
	"fmt"
)

// Command is a booking write intent: submit, decide, cancel, release or
// reconcile. Key names the registered handler.
type Command interface {
	Key() string
}

// Attributed is implemented by commands issued on behalf of a user. Actor is
// the authenticated caller, not necessarily the booking's requester.
type Attributed interface {
	Actor() string
}

// Handler processes one command type and returns its typed result.
type Handler[C Command, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// HandlerFunc lets a plain function serve as a Handler.
type HandlerFunc[C Command, R any] func(ctx context.Context, cmd C) (R, error)

// Handle calls f(ctx, cmd).
func (f HandlerFunc[C, R]) Handle(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}

// Bus dispatches commands, usually through the middleware chain built by
// middleware.ChainCommands.
type Bus interface {
	Dispatch(ctx context.Context, cmd Command) (any, error)
}

var (
	ErrHandlerNotFound = errors.New("commands: handler not found")
	ErrInvalidCommand  = errors.New("commands: invalid command for handler")
	ErrResultType      = errors.New("commands: result type mismatch")
	ErrNilBus          = errors.New("commands: nil bus")
)

// ActorOf returns the acting user of cmd, or "" for system commands.
func ActorOf(cmd Command) string {
	if a, ok := cmd.(Attributed); ok {
		return a.Actor()
	}
	return ""
}

// Dispatch sends cmd through bus and asserts the result type. A nil result
// (an idempotent replay of a command without output) yields the zero R.
func Dispatch[C Command, R any](ctx context.Context, bus Bus, cmd C) (R, error) {
	var zero R
	if bus == nil {
		return zero, ErrNilBus
	}
	res, err := bus.Dispatch(ctx, cmd)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	value, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", ErrResultType, cmd.Key(), res)
	}
	return value, nil
}
