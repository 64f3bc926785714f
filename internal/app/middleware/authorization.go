package middleware

import (
	"context"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/policies"
	"rentalcore/internal/app/queries"
	"rentalcore/internal/domain/shared/fault"
)

var ErrAdminRequired = fault.Authorization("middleware: administrator role required")

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// AdminOnly is implemented by messages reserved for administrators.
type AdminOnly interface {
	AdminActor() string
}

// RoleAuthorizer rejects AdminOnly messages from non-admins. Ownership checks
// need the booking and stay with the handlers.
type RoleAuthorizer struct {
	Policies policies.Authorizer
}

func (a RoleAuthorizer) Authorize(ctx context.Context, message any) error {
	admin, ok := message.(AdminOnly)
	if !ok {
		return nil
	}
	if a.Policies == nil {
		return ErrAdminRequired
	}
	isAdmin, err := a.Policies.IsAdmin(ctx, admin.AdminActor())
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrAdminRequired
	}
	return nil
}

func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := a.Authorize(ctx, cmd); err != nil {
				return nil, err
			}
			return nextFn(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next queries.Bus) queries.Bus {
		nextFn := wrapQuery(next)
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := a.Authorize(ctx, q); err != nil {
				return nil, err
			}
			return nextFn(ctx, q)
		})
	}
}
