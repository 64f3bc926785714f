package uow

import (
	"context"
	"errors"
)

var ErrUnitOfWorkMissing = errors.New("uow: unit of work missing from context")

type ctxKey struct{}

// ContextWithUnitOfWork stores the provided unit of work in context.
func ContextWithUnitOfWork(ctx context.Context, unit UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, unit)
}

// FromContext retrieves a unit of work from context if present.
func FromContext(ctx context.Context) (UnitOfWork, bool) {
	val := ctx.Value(ctxKey{})
	if val == nil {
		return nil, false
	}
	unit, ok := val.(UnitOfWork)
	return unit, ok
}

type contextInjector interface {
	InjectContext(context.Context) context.Context
}

// Begin opens a unit and returns the context repositories must be called
// with (some backends bind their session to it).
func Begin(ctx context.Context, factory UoWFactory, opts TxOptions) (UnitOfWork, context.Context, error) {
	if factory == nil {
		return nil, ctx, ErrUnitOfWorkMissing
	}
	unit, err := factory.Begin(ctx, opts)
	if err != nil {
		return nil, ctx, err
	}
	execCtx := ctx
	if injector, ok := unit.(contextInjector); ok {
		execCtx = injector.InjectContext(ctx)
	}
	return unit, ContextWithUnitOfWork(execCtx, unit), nil
}

// BeginReadOnly reuses a unit already in ctx or opens a read-only one. The
// returned cleanup is nil when the unit was reused.
func BeginReadOnly(ctx context.Context, factory UoWFactory) (UnitOfWork, context.Context, func(), error) {
	if unit, ok := FromContext(ctx); ok {
		return unit, ctx, nil, nil
	}
	unit, execCtx, err := Begin(ctx, factory, TxOptions{ReadOnly: true})
	if err != nil {
		return nil, ctx, nil, err
	}
	return unit, execCtx, func() { _ = unit.Rollback(execCtx) }, nil
}

// Within runs fn inside a fresh unit and commits when fn succeeds. Any error
// rolls the unit back, so nothing fn wrote becomes visible.
func Within(ctx context.Context, factory UoWFactory, opts TxOptions, fn func(ctx context.Context, unit UnitOfWork) error) error {
	unit, execCtx, err := Begin(ctx, factory, opts)
	if err != nil {
		return err
	}
	if err := fn(execCtx, unit); err != nil {
		if rbErr := unit.Rollback(execCtx); rbErr != nil && !errors.Is(rbErr, ErrUnitClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return unit.Commit(execCtx)
}
