package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr error
	}{
		{name: "pending to running", from: StatusPending, to: StatusRunning, wantErr: nil},
		{name: "pending to cancelled", from: StatusPending, to: StatusCancelled, wantErr: nil},
		{name: "pending to completed", from: StatusPending, to: StatusCompleted, wantErr: ErrInvalidTransition},
		{name: "pending to failed", from: StatusPending, to: StatusFailed, wantErr: ErrInvalidTransition},
		{name: "pending to pending", from: StatusPending, to: StatusPending, wantErr: ErrInvalidTransition},
		{name: "running to running", from: StatusRunning, to: StatusRunning, wantErr: nil},
		{name: "running to completed", from: StatusRunning, to: StatusCompleted, wantErr: nil},
		{name: "running to failed", from: StatusRunning, to: StatusFailed, wantErr: nil},
		{name: "running to cancelled", from: StatusRunning, to: StatusCancelled, wantErr: nil},
		{name: "running to pending", from: StatusRunning, to: StatusPending, wantErr: ErrInvalidTransition},
		{name: "completed to running", from: StatusCompleted, to: StatusRunning, wantErr: ErrTerminalImmutable},
		{name: "completed to completed", from: StatusCompleted, to: StatusCompleted, wantErr: ErrTerminalImmutable},
		{name: "failed to cancelled", from: StatusFailed, to: StatusCancelled, wantErr: ErrTerminalImmutable},
		{name: "cancelled to running", from: StatusCancelled, to: StatusRunning, wantErr: ErrTerminalImmutable},
		{name: "unknown from", from: Status("bogus"), to: StatusRunning, wantErr: ErrInvalidTransition},
		{name: "unknown to", from: StatusRunning, to: Status("bogus"), wantErr: ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)

			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, Status("bogus").IsTerminal())
}

func TestKind_IsValid(t *testing.T) {
	for _, kind := range Kinds() {
		assert.True(t, kind.IsValid(), "kind %s should be valid", kind)
	}

	assert.False(t, Kind("rebalance").IsValid())
	assert.False(t, Kind("").IsValid())
}
