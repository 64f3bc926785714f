package queries

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mineQuery struct{ requester string }

func (q mineQuery) Key() string    { return "booking.list.requester" }
func (q mineQuery) Viewer() string { return q.requester }

type occupancyQuery struct{}

func (occupancyQuery) Key() string { return "property.occupancy" }

func TestAskTypedResult(t *testing.T) {
	bus := NewInMemoryBus()
	RegisterHandler[mineQuery, []string](bus, "booking.list.requester", HandlerFunc[mineQuery, []string](func(ctx context.Context, q mineQuery) ([]string, error) {
		return []string{"b-1", "b-2"}, nil
	}))

	out, err := Ask[mineQuery, []string](context.Background(), bus, mineQuery{requester: "tenant"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-1", "b-2"}, out)

	_, err = Ask[mineQuery, int](context.Background(), bus, mineQuery{requester: "tenant"})
	require.ErrorIs(t, err, ErrResultType)
	assert.Contains(t, err.Error(), "booking.list.requester returned []string")

	_, err = Ask[occupancyQuery, int](context.Background(), bus, occupancyQuery{})
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestViewerOf(t *testing.T) {
	assert.Equal(t, "tenant", ViewerOf(mineQuery{requester: "tenant"}))
	assert.Empty(t, ViewerOf(occupancyQuery{}))
}
