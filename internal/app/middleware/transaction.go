package middleware

import (
	"context"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/uow"
)

// Transactional commands run inside a unit opened by the Transaction
// middleware. Commands that manage their own units (the coordinator retries
// whole units) simply do not implement it.
type Transactional interface {
	TxOptions() uow.TxOptions
}

func Transaction(factory uow.UoWFactory) CommandMiddleware {
	if factory == nil {
		panic("middleware: uow factory required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			tx, ok := cmd.(Transactional)
			if !ok {
				return nextFn(ctx, cmd)
			}
			if _, inUnit := uow.FromContext(ctx); inUnit {
				return nextFn(ctx, cmd)
			}
			var res any
			err := uow.Within(ctx, factory, tx.TxOptions(), func(execCtx context.Context, _ uow.UnitOfWork) error {
				out, err := nextFn(execCtx, cmd)
				res = out
				return err
			})
			if err != nil {
				return nil, err
			}
			return res, nil
		})
	}
}
