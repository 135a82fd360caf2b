package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInitOnce(t *testing.T) {
	var r Registry
	_, err := r.Hub()
	assert.ErrorIs(t, err, ErrNotInitialized)

	quiet := WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var wg sync.WaitGroup
	hubs := make([]*Hub, 8)
	for i := range hubs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hubs[i] = r.Init(quiet)
		}(i)
	}
	wg.Wait()

	for _, h := range hubs[1:] {
		assert.Same(t, hubs[0], h)
	}
	got, err := r.Hub()
	require.NoError(t, err)
	assert.Same(t, hubs[0], got)
	assert.Same(t, hubs[0], r.Init(WithRateLimit(1, 0)), "later options are ignored")
	assert.Equal(t, DefaultRateLimit, got.rateLimit)
}
