package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusPending, true},
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusPending, OrderStatusSuccessful, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusProcessing, OrderStatusSuccessful, true},
		{OrderStatusProcessing, OrderStatusFailed, true},
		{OrderStatusSuccessful, OrderStatusPending, false},
		{OrderStatusSuccessful, OrderStatusFailed, false},
		{OrderStatusSuccessful, OrderStatusSuccessful, false},
		{OrderStatusFailed, OrderStatusPending, false},
		{OrderStatusFailed, OrderStatusSuccessful, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	assert.True(t, OrderStatusSuccessful.IsTerminal())
	assert.True(t, OrderStatusFailed.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.False(t, OrderStatusProcessing.IsTerminal())
	assert.True(t, OrderStatusProcessing.IsOpen())
}
