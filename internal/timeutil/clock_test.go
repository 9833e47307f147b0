package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock(t *testing.T) {
	t.Parallel()

	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, clock.Since(before), time.Duration(0))

	timer := clock.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())

	ticker := clock.NewTicker(time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not tick")
	}
}

func TestMockClockAdvanceFiresTimer(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	assert.Equal(t, start, clock.Now())

	timer := clock.NewTimer(10 * time.Second)

	clock.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	clock.Advance(5 * time.Second)
	select {
	case fired := <-timer.C():
		assert.Equal(t, start.Add(10*time.Second), fired)
	default:
		t.Fatal("timer did not fire")
	}

	assert.Equal(t, 10*time.Second, clock.Since(start))
}

func TestMockClockStoppedTimerDoesNotFire(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)
	require.True(t, timer.Stop())

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockClockTicker(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not tick")
	}

	// Each period yields another tick.
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not tick again")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker ticked")
	default:
	}
}
