package realtime

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestWindowLimiter(t *testing.T) {
	mock := clock.NewMock()
	l := newWindowLimiter(mock, 3, 5*time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow(), "event %d", i+1)
	}
	assert.False(t, l.allow())

	// exactly one window later is still the same window
	mock.Add(5 * time.Second)
	assert.False(t, l.allow())

	mock.Add(time.Millisecond)
	assert.True(t, l.allow(), "window resets once fully elapsed")
	assert.True(t, l.allow())
	assert.True(t, l.allow())
	assert.False(t, l.allow())
}

func TestWindowLimiterStartsOnFirstEvent(t *testing.T) {
	mock := clock.NewMock()
	l := newWindowLimiter(mock, 1, time.Second)

	mock.Add(time.Hour)
	assert.True(t, l.allow())
	mock.Add(500 * time.Millisecond)
	assert.False(t, l.allow())
}
