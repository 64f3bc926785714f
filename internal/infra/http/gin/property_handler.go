package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/dto"
	bookingapp "rentalcore/internal/app/handlers/booking"
	"rentalcore/internal/app/queries"
)

type PropertyHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h PropertyHandler) Occupancy(c *gin.Context) {
	if _, ok := requirePrincipal(c); !ok {
		return
	}
	query := bookingapp.GetOccupancyQuery{PropertyID: c.Param("id")}
	result, err := queries.Ask[bookingapp.GetOccupancyQuery, dto.Occupancy](c.Request.Context(), h.Queries, query)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h PropertyHandler) Reconcile(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	cmd := bookingapp.ReconcilePropertyCommand{PropertyID: c.Param("id"), ActorID: user.ID}
	result, err := commands.Dispatch[bookingapp.ReconcilePropertyCommand, *dto.Drift](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

var _ PropertyHTTP = PropertyHandler{}
