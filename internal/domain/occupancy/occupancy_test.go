package occupancy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalcore/internal/domain/shared/fault"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOccupyStandalone(t *testing.T) {
	room := &Accommodation{ID: "a-1", Status: RoomAvailable}

	require.NoError(t, Occupy(room, nil, now))
	assert.Equal(t, RoomRented, room.Status)

	err := Occupy(room, nil, now)
	assert.ErrorIs(t, err, fault.ErrCapacityExceeded)
	assert.Equal(t, RoomRented, room.Status)
}

func TestOccupyPropertyPoolIsBounded(t *testing.T) {
	prop := &Property{ID: "p-1", TotalRooms: 1}
	first := &Accommodation{ID: "a-1", PropertyID: "p-1", Status: RoomAvailable}
	second := &Accommodation{ID: "a-2", PropertyID: "p-1", Status: RoomAvailable}

	require.NoError(t, Occupy(first, prop, now))
	assert.Equal(t, 1, prop.OccupiedRooms)

	err := Occupy(second, prop, now)
	assert.ErrorIs(t, err, ErrPropertyFull)
	assert.Equal(t, 1, prop.OccupiedRooms)
	assert.Equal(t, RoomAvailable, second.Status, "failed occupy must not touch the room")
}

func TestOccupyRejectsForeignProperty(t *testing.T) {
	prop := &Property{ID: "p-1", TotalRooms: 3}
	room := &Accommodation{ID: "a-1", PropertyID: "p-2", Status: RoomAvailable}
	assert.ErrorIs(t, Occupy(room, prop, now), ErrPropertyMismatch)
	assert.Equal(t, 0, prop.OccupiedRooms)
}

func TestVacate(t *testing.T) {
	prop := &Property{ID: "p-1", TotalRooms: 2, OccupiedRooms: 1}
	room := &Accommodation{ID: "a-1", PropertyID: "p-1", Status: RoomRented}

	changed, err := Vacate(room, prop, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, prop.OccupiedRooms)
	assert.Equal(t, RoomAvailable, room.Status)

	changed, err = Vacate(room, prop, now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, prop.OccupiedRooms)
}

func TestRecount(t *testing.T) {
	prop := &Property{ID: "p-1", TotalRooms: 3, OccupiedRooms: 3}
	rooms := []*Accommodation{
		{ID: "a-1", PropertyID: "p-1", Status: RoomRented},
		{ID: "a-2", PropertyID: "p-1", Status: RoomAvailable},
		{ID: "a-3", PropertyID: "p-9", Status: RoomRented},
	}

	drift, err := Recount(prop, rooms, now)
	require.NoError(t, err)
	assert.True(t, drift.Repaired())
	assert.Equal(t, 3, drift.Stored)
	assert.Equal(t, 1, drift.Counted)
	assert.Equal(t, 1, prop.OccupiedRooms)

	drift, err = Recount(prop, rooms, now)
	require.NoError(t, err)
	assert.False(t, drift.Repaired())
}

func TestRecountOverCapacity(t *testing.T) {
	prop := &Property{ID: "p-1", TotalRooms: 1, OccupiedRooms: 1}
	rooms := []*Accommodation{
		{ID: "a-1", PropertyID: "p-1", Status: RoomRented},
		{ID: "a-2", PropertyID: "p-1", Status: RoomRented},
	}
	_, err := Recount(prop, rooms, now)
	assert.ErrorIs(t, err, ErrOverCapacity)
	assert.Equal(t, 1, prop.OccupiedRooms)
}

func TestAcceptsRequests(t *testing.T) {
	assert.NoError(t, (&Accommodation{Status: RoomAvailable}).AcceptsRequests())
	assert.NoError(t, (&Accommodation{Status: RoomRented}).AcceptsRequests())
	assert.ErrorIs(t, (&Accommodation{Status: RoomPending}).AcceptsRequests(), fault.ErrValidation)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "accommodation:a-1", (&Accommodation{ID: "a-1"}).LockKey())
	assert.Equal(t, "property:p-1", (&Accommodation{ID: "a-1", PropertyID: "p-1"}).LockKey())
}
