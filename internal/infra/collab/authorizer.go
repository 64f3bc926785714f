package collab

import (
	"context"
	"strings"

	"rentalcore/internal/app/policies"
	"rentalcore/internal/app/uow"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

// Authorizer reads ownership from the accommodation row. Admins come from
// configuration or from the admin role of the principal on the context.
// Inside a unit of work it reads through that unit.
type Authorizer struct {
	Units  uow.UoWFactory
	admins map[string]struct{}
}

func NewAuthorizer(units uow.UoWFactory, adminIDs []string) *Authorizer {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Authorizer{Units: units, admins: admins}
}

func (a *Authorizer) IsOwner(ctx context.Context, id domainoccupancy.AccommodationID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	unit, execCtx, cleanup, err := uow.BeginReadOnly(ctx, a.Units)
	if err != nil {
		return false, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	room, err := unit.Accommodations().ByID(execCtx, id)
	if err != nil {
		return false, err
	}
	return room.OwnerID == userID, nil
}

func (a *Authorizer) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if _, ok := a.admins[userID]; ok {
		return true, nil
	}
	if p, ok := policies.PrincipalFromContext(ctx); ok && p.ID == userID {
		return p.HasRole(policies.RoleAdmin), nil
	}
	return false, nil
}

var _ policies.Authorizer = (*Authorizer)(nil)
