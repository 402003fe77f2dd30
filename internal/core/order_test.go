package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{Open, PartiallyFilled, true},
		{Open, Filled, true},
		{Open, Cancelled, true},
		{PartiallyFilled, PartiallyFilled, true},
		{PartiallyFilled, Filled, true},
		{PartiallyFilled, Cancelled, true},
		{Filled, Open, false},
		{Filled, Cancelled, false},
		{Cancelled, Open, false},
		{Cancelled, PartiallyFilled, false},
		{Filled, Filled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionRejectsTerminalRevert(t *testing.T) {
	o := limitOrder(Buy, "100", "1")
	assert.NoError(t, o.Transition(Filled))
	assert.Error(t, o.Transition(Cancelled))
	assert.Equal(t, Filled, o.Status)
}

func TestTerminal(t *testing.T) {
	assert.False(t, Open.Terminal())
	assert.False(t, PartiallyFilled.Terminal())
	assert.True(t, Filled.Terminal())
	assert.True(t, Cancelled.Terminal())
}

func TestSideAndKindValidation(t *testing.T) {
	assert.True(t, Buy.Valid())
	assert.True(t, Sell.Valid())
	assert.False(t, Side("short").Valid())
	assert.True(t, Limit.Valid())
	assert.True(t, Market.Valid())
	assert.False(t, Kind("stop").Valid())
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}
