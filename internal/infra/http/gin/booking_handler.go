package ginserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/dto"
	bookingapp "rentalcore/internal/app/handlers/booking"
	"rentalcore/internal/app/queries"
	"rentalcore/internal/domain/shared/fault"
)

var (
	errBadDate  = fault.Validation("http: requested_date must be YYYY-MM-DD or RFC3339")
	errBadPage  = fault.Validation("http: limit and offset must be non-negative integers")
	errBadInput = fault.Validation("http: malformed request body")
)

type BookingHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type submitBookingRequest struct {
	AccommodationID string `json:"accommodation_id"`
	RequestedDate   string `json:"requested_date"`
	NumOfPeople     int    `json:"num_of_people"`
	PhoneNumber     string `json:"phone_number"`
	Note            string `json:"note"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h BookingHandler) Submit(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req submitBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.Logger, errBadInput)
		return
	}
	requested, err := parseDate(req.RequestedDate)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	cmd := bookingapp.SubmitBookingCommand{
		AccommodationID: req.AccommodationID,
		RequesterID:     user.ID,
		RequestedDate:   requested,
		NumOfPeople:     req.NumOfPeople,
		PhoneNumber:     req.PhoneNumber,
		Note:            req.Note,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[bookingapp.SubmitBookingCommand, *dto.Booking](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h BookingHandler) Get(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	query := bookingapp.GetBookingQuery{BookingID: c.Param("id"), ViewerID: user.ID}
	result, err := queries.Ask[bookingapp.GetBookingQuery, dto.Booking](c.Request.Context(), h.Queries, query)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) Decide(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.Logger, errBadInput)
		return
	}
	cmd := bookingapp.DecideBookingCommand{BookingID: c.Param("id"), Decision: req.Decision, DeciderID: user.ID}
	h.transition(c, func() (*dto.TransitionResult, error) {
		return commands.Dispatch[bookingapp.DecideBookingCommand, *dto.TransitionResult](c.Request.Context(), h.Commands, cmd)
	})
}

func (h BookingHandler) Cancel(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, h.Logger, errBadInput)
		return
	}
	cmd := bookingapp.CancelBookingCommand{BookingID: c.Param("id"), RequesterID: user.ID, Reason: req.Reason}
	h.transition(c, func() (*dto.TransitionResult, error) {
		return commands.Dispatch[bookingapp.CancelBookingCommand, *dto.TransitionResult](c.Request.Context(), h.Commands, cmd)
	})
}

func (h BookingHandler) Release(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	cmd := bookingapp.ReleaseBookingCommand{BookingID: c.Param("id"), ActorID: user.ID}
	h.transition(c, func() (*dto.TransitionResult, error) {
		return commands.Dispatch[bookingapp.ReleaseBookingCommand, *dto.TransitionResult](c.Request.Context(), h.Commands, cmd)
	})
}

func (h BookingHandler) transition(c *gin.Context, run func() (*dto.TransitionResult, error)) {
	result, err := run()
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) ListMine(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	limit, offset, err := pageParams(c)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	query := bookingapp.ListRequesterBookingsQuery{RequesterID: user.ID, Statuses: c.QueryArray("status"), Limit: limit, Offset: offset}
	result, err := queries.Ask[bookingapp.ListRequesterBookingsQuery, dto.BookingCollection](c.Request.Context(), h.Queries, query)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) ListOwned(c *gin.Context) {
	user, ok := requirePrincipal(c)
	if !ok {
		return
	}
	limit, offset, err := pageParams(c)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	query := bookingapp.ListOwnerBookingsQuery{OwnerID: user.ID, Statuses: c.QueryArray("status"), Limit: limit, Offset: offset}
	result, err := queries.Ask[bookingapp.ListOwnerBookingsQuery, dto.BookingCollection](c.Request.Context(), h.Queries, query)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errBadDate
	}
	return t, nil
}

func pageParams(c *gin.Context) (int, int, error) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errBadPage
	}
	return n, nil
}

var _ BookingHTTP = BookingHandler{}
