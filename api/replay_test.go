package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, capacity int, retention time.Duration) (*ReplayLedger, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	l, err := NewReplayLedger(capacity, retention, WithLedgerClock(mock))
	require.NoError(t, err)
	return l, mock
}

func TestReplayLedger_SeenRecordsFirstUse(t *testing.T) {
	l, _ := newTestLedger(t, 10, time.Hour)

	assert.False(t, l.Seen("evt-1"), "first use is novel")
	assert.True(t, l.Seen("evt-1"), "second use is a replay")
	assert.False(t, l.Seen("evt-2"))
	assert.Equal(t, 2, l.Len())
}

func TestReplayLedger_ExpiredIDIsNovel(t *testing.T) {
	l, mock := newTestLedger(t, 10, time.Hour)

	require.False(t, l.Seen("evt-1"))
	mock.Add(time.Hour)
	assert.True(t, l.Seen("evt-1"), "still inside retention at exactly the boundary")

	mock.Add(time.Millisecond)
	assert.False(t, l.Seen("evt-1"), "expired id counts as novel")
	assert.True(t, l.Seen("evt-1"), "and is recorded again")
}

func TestReplayLedger_Sweep(t *testing.T) {
	l, mock := newTestLedger(t, 10, time.Hour)

	l.Seen("old-1")
	l.Seen("old-2")
	mock.Add(30 * time.Minute)
	l.Seen("fresh")
	mock.Add(31 * time.Minute)

	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Seen("old-1"), "swept id is novel again")
	assert.True(t, l.Seen("fresh"))
}

func TestReplayLedger_CapacityEvictsOldest(t *testing.T) {
	l, _ := newTestLedger(t, 2, time.Hour)

	l.Seen("a")
	l.Seen("b")
	l.Seen("c")

	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Seen("c"))
	assert.False(t, l.Seen("a"), "oldest id was evicted")
}

func TestReplayLedger_Defaults(t *testing.T) {
	l, err := NewReplayLedger(0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultReplayRetention, l.retention)
}

func TestReplayLedger_RunSweepsOnTick(t *testing.T) {
	l, mock := newTestLedger(t, 10, time.Minute)
	l.Seen("evt")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, 5*time.Minute)
		close(done)
	}()

	// Wait for the ticker to be installed before advancing.
	time.Sleep(10 * time.Millisecond)
	mock.Add(5 * time.Minute)
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestReplayLedger_SweepPanicIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewReplayLedger(10, time.Minute,
		WithLedgerLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, err)

	l.entries = nil
	assert.NotPanics(t, l.sweepSafely)
	assert.Contains(t, buf.String(), "replay ledger sweep panicked")
}

func TestReplayLedger_ConcurrentSeen(t *testing.T) {
	l, _ := newTestLedger(t, 1000, time.Hour)

	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() { results <- l.Seen("same") }()
	}
	novel := 0
	for i := 0; i < 50; i++ {
		if !<-results {
			novel++
		}
	}
	assert.Equal(t, 1, novel, "exactly one caller sees the id as novel")

	for i := 0; i < 5; i++ {
		assert.False(t, l.Seen(fmt.Sprintf("id-%d", i)))
	}
}
