package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSentinelMatchesWrappedError(t *testing.T) {
	errFull := CapacityExceeded("occupancy: no rooms left")
	wrapped := fmt.Errorf("confirm booking b-1: %w", errFull)

	assert.ErrorIs(t, wrapped, ErrCapacityExceeded)
	assert.ErrorIs(t, wrapped, errFull)
	assert.NotErrorIs(t, wrapped, ErrConflict)
	assert.Equal(t, KindCapacityExceeded, KindOf(wrapped))
}

func TestDistinctMessagesDoNotMatch(t *testing.T) {
	a := Validation("booking: a")
	b := Validation("booking: b")
	assert.False(t, errors.Is(a, b))
	assert.True(t, errors.Is(a, ErrValidation))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("mongo: connection refused")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
