package consultation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		to   Status
		ok   bool
	}{
		{StatusPending, EventConfirm, StatusWaiting, true},
		{StatusPending, EventDecline, StatusCancelled, true},
		{StatusPending, EventCancel, StatusCancelled, true},
		{StatusPending, EventAttend, StatusPending, false},
		{StatusWaiting, EventAttend, StatusAttended, true},
		{StatusWaiting, EventCancel, StatusCancelled, true},
		{StatusWaiting, EventConfirm, StatusWaiting, false},
		{StatusAttended, EventCancel, StatusAttended, false},
		{StatusCancelled, EventConfirm, StatusCancelled, false},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.ev)
		assert.Equal(t, c.to, got, "%s --%s-->", c.from, c.ev)
		if c.ok {
			assert.NoError(t, err)
			continue
		}
		var inv *InvalidTransitionError
		assert.True(t, errors.As(err, &inv), "%s --%s--> deveria falhar", c.from, c.ev)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusWaiting))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.True(t, CanTransition(StatusWaiting, StatusAttended))
	assert.True(t, CanTransition(StatusWaiting, StatusCancelled))
	assert.True(t, CanTransition(StatusAttended, StatusAttended), "mesmo status é no-op")

	assert.False(t, CanTransition(StatusPending, StatusAttended))
	assert.False(t, CanTransition(StatusAttended, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition(Status("Remarcado"), Status("Remarcado")))
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusWaiting, StatusAttended, StatusCancelled} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("").Valid())
	assert.False(t, Status("aguardando").Valid())
}
