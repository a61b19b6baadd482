package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("venue", 2, 10*time.Second)
	b.SetClock(func() time.Time { return now })
	b.SetStateChangeHandler(func(string, State, State) {})

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(10 * time.Second)
	assert.True(t, b.Allow(), "probe after cooldown")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe at a time")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("venue", 1, time.Second)
	b.SetClock(func() time.Time { return now })
	b.SetStateChangeHandler(func(string, State, State) {})

	b.RecordFailure()
	now = now.Add(time.Second)
	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestDisabledBreaker(t *testing.T) {
	b := New("venue", 0, time.Second)
	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	assert.True(t, b.Allow())

	var nilBreaker *Breaker
	assert.True(t, nilBreaker.Allow())
}
