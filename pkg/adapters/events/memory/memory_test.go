package memory

import (
	"context"
	"testing"

	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventBus(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryEventBus()

	var got []ports.Event
	require.NoError(t, bus.Subscribe(ctx, "task.events", func(ctx context.Context, e ports.Event) error {
		got = append(got, e)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "task.events", ports.Event{ID: "1", Type: ports.EventTypeTaskStarted}))
	require.NoError(t, bus.Publish(ctx, "other", ports.Event{ID: "2"}))

	assert.Len(t, got, 1)
	assert.Len(t, bus.Published(), 2)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Publish(ctx, "task.events", ports.Event{ID: "3"}))
	assert.Len(t, got, 1)
}
