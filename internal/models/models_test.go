package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending to confirmed", OrderStatusPending, OrderStatusConfirmed, true},
		{"confirmed to in progress", OrderStatusConfirmed, OrderStatusInProgress, true},
		{"in progress to completed", OrderStatusInProgress, OrderStatusCompleted, true},
		{"skip ahead confirmed to completed", OrderStatusConfirmed, OrderStatusCompleted, true},
		{"cancel from pending", OrderStatusPending, OrderStatusCancelled, true},
		{"refund from in progress", OrderStatusInProgress, OrderStatusRefunded, true},
		{"regression completed to pending", OrderStatusCompleted, OrderStatusPending, false},
		{"regression in progress to confirmed", OrderStatusInProgress, OrderStatusConfirmed, false},
		{"terminal cancelled stays", OrderStatusCancelled, OrderStatusConfirmed, false},
		{"terminal refunded stays", OrderStatusRefunded, OrderStatusCancelled, false},
		{"completed cannot cancel", OrderStatusCompleted, OrderStatusCancelled, false},
		{"self transition", OrderStatusPending, OrderStatusPending, false},
		{"unknown target", OrderStatusPending, "SHIPPED", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(OrderStatusCompleted))
	assert.True(t, IsTerminalStatus(OrderStatusCancelled))
	assert.True(t, IsTerminalStatus(OrderStatusRefunded))
	assert.False(t, IsTerminalStatus(OrderStatusPending))
	assert.False(t, IsTerminalStatus(OrderStatusInProgress))
}

func TestSLADeadline(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, createdAt.Add(1440*time.Minute), SLADeadline(createdAt, PriorityLow))
	assert.Equal(t, createdAt.Add(240*time.Minute), SLADeadline(createdAt, PriorityNormal))
	assert.Equal(t, createdAt.Add(60*time.Minute), SLADeadline(createdAt, PriorityHigh))
	assert.Equal(t, createdAt.Add(15*time.Minute), SLADeadline(createdAt, PriorityUrgent))

	// unknown priorities fall back to NORMAL
	assert.Equal(t, createdAt.Add(240*time.Minute), SLADeadline(createdAt, "WHENEVER"))
}

func TestIsOverdue(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	urgent := &Order{Status: OrderStatusPending, Priority: PriorityUrgent, CreatedAt: createdAt}
	assert.False(t, IsOverdue(urgent, createdAt.Add(10*time.Minute)))
	assert.True(t, IsOverdue(urgent, createdAt.Add(20*time.Minute)))

	// terminal-successful and cancelled orders are never overdue
	done := &Order{Status: OrderStatusCompleted, Priority: PriorityUrgent, CreatedAt: createdAt}
	assert.False(t, IsOverdue(done, createdAt.Add(24*time.Hour)))

	cancelled := &Order{Status: OrderStatusCancelled, Priority: PriorityUrgent, CreatedAt: createdAt}
	assert.False(t, IsOverdue(cancelled, createdAt.Add(24*time.Hour)))
}

func TestProviderValid(t *testing.T) {
	assert.True(t, Provider("ride").Valid())
	assert.True(t, Provider("food").Valid())
	assert.True(t, Provider("grocery").Valid())
	assert.False(t, Provider("drone").Valid())
	assert.False(t, Provider("").Valid())
}
