package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// replay feeds a sequence of outcomes ('f' failure, 's' success) and returns
// the open/closed position after each one.
func replay(b *Breaker, outcomes string) []bool {
	open := make([]bool, 0, len(outcomes))
	for _, o := range outcomes {
		if o == 'f' {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
		open = append(open, b.IsOpen())
	}
	return open
}

func TestBreakerSequences(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		outcomes string
		open     []bool
	}{
		{
			name:     "opens on the third consecutive failure",
			opts:     []Option{WithFailureThreshold(3)},
			outcomes: "fff",
			open:     []bool{false, false, true},
		},
		{
			name:     "a success clears the failure streak",
			opts:     []Option{WithFailureThreshold(3)},
			outcomes: "ffsfff",
			open:     []bool{false, false, false, false, false, true},
		},
		{
			name:     "closes after enough successes",
			opts:     []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			outcomes: "fss",
			open:     []bool{true, true, false},
		},
		{
			name:     "a failure while open restarts the success count",
			opts:     []Option{WithFailureThreshold(1), WithSuccessThreshold(3)},
			outcomes: "fssfsss",
			open:     []bool{true, true, true, true, true, true, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, replay(New("outbox-relay", tt.opts...), tt.outcomes))
		})
	}
}

func TestBreakerReportsChanges(t *testing.T) {
	b := New("notify-kafka", WithFailureThreshold(2))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "notify-kafka", b.Name())

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.Equal(t, Change{}, change)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)

	_, change = b.RecordFailure()
	assert.False(t, change.Opened, "already open")

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
}

func TestBreakerAllowsProbeAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("outbox-relay", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(func() time.Time { return now }))

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow())

	now = now.Add(30 * time.Second)
	assert.False(t, b.Allow())

	now = now.Add(30 * time.Second)
	assert.True(t, b.Allow())

	// a failed probe restarts the cooldown
	b.RecordFailure()
	assert.False(t, b.Allow())
}
