package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "pages", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "events", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "pages", msgs[0].Topic)
	require.Equal(t, "events", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "pages", pub.Messages()[0].Topic)

	only := pub.Messages("events")
	require.Len(t, only, 1)
	require.Equal(t, "memory-2", only[0].ID)
}

func TestPublisherHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "pages", nil)
	require.ErrorIs(t, err, context.Canceled)
}
