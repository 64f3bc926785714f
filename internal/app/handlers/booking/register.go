package booking

import (
	"log/slog"
	"time"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/dto"
	"rentalcore/internal/app/effects"
	"rentalcore/internal/app/outbox"
	"rentalcore/internal/app/policies"
	"rentalcore/internal/app/queries"
	"rentalcore/internal/app/uow"
)

type Deps struct {
	UoWFactory  uow.UoWFactory
	Coordinator Transitioner
	Authorizer  policies.Authorizer
	Encoder     outbox.EventEncoder
	Planner     effects.Planner
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Register wires every booking command and query onto the buses.
func Register(cbus *commands.InMemoryBus, qbus *queries.InMemoryBus, d Deps) {
	commands.RegisterHandler(cbus, SubmitBookingCommand{}.Key(), &SubmitBookingHandler{
		UoWFactory:  d.UoWFactory,
		Encoder:     d.Encoder,
		Planner:     d.Planner,
		IDGenerator: d.IDGenerator,
		Now:         d.Now,
		Logger:      d.Logger,
	})
	commands.RegisterHandler(cbus, DecideBookingCommand{}.Key(), &DecideBookingHandler{Coordinator: d.Coordinator})
	commands.RegisterHandler(cbus, CancelBookingCommand{}.Key(), &CancelBookingHandler{Coordinator: d.Coordinator})
	commands.RegisterHandler(cbus, ReleaseBookingCommand{}.Key(), &ReleaseBookingHandler{Coordinator: d.Coordinator})
	commands.RegisterHandler(cbus, ReconcilePropertyCommand{}.Key(), &ReconcilePropertyHandler{Coordinator: d.Coordinator})

	lists := &ListBookingsHandler{UoWFactory: d.UoWFactory, Logger: d.Logger}
	queries.RegisterHandler(qbus, ListRequesterBookingsQuery{}.Key(), queries.HandlerFunc[ListRequesterBookingsQuery, dto.BookingCollection](lists.HandleRequester))
	queries.RegisterHandler(qbus, ListOwnerBookingsQuery{}.Key(), queries.HandlerFunc[ListOwnerBookingsQuery, dto.BookingCollection](lists.HandleOwner))
	queries.RegisterHandler(qbus, GetBookingQuery{}.Key(), &GetBookingHandler{UoWFactory: d.UoWFactory, Authorizer: d.Authorizer})
	queries.RegisterHandler(qbus, GetOccupancyQuery{}.Key(), &GetOccupancyHandler{UoWFactory: d.UoWFactory})
}
