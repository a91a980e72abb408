package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestLocalBrokerFanOut(t *testing.T) {
	b := NewLocalBroker()
	defer b.Close()
	ctx := context.Background()

	first, cleanupFirst, err := b.Subscribe(ctx)
	require.NoError(t, err)
	second, cleanupSecond, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cleanupSecond()
	assert.Equal(t, 2, b.Subscribers())

	event := NewContentUpdated(`[{"type":"text","content":"a"}]`, 1)
	require.NoError(t, b.Publish(ctx, event))

	assert.Equal(t, event, receive(t, first))
	assert.Equal(t, event, receive(t, second))

	cleanupFirst()
	cleanupFirst()
	_, ok := <-first
	assert.False(t, ok)
	assert.Equal(t, 1, b.Subscribers())

	last, found, err := b.Last(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, event.ID, last.ID)
}

func TestLocalBrokerUnsubscribesOnContextDone(t *testing.T) {
	b := NewLocalBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := b.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Equal(t, 0, b.Subscribers())
}

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	s := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://"+s.Addr(), zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, found, err := b.Last(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	ch, cleanup, err := b.Subscribe(ctx)
	require.NoError(t, err)
	defer cleanup()

	event := NewContentUpdated("fp", 3)
	require.NoError(t, b.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, "fp", got.Fingerprint)
	assert.Equal(t, 3, got.Items)

	last, found, err := b.Last(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, event.ID, last.ID)
	assert.NoError(t, b.Ping(ctx))
}

func TestNewRedisBrokerRejectsBadURL(t *testing.T) {
	_, err := NewRedisBroker("not a url", nil)
	assert.Error(t, err)
}

func TestEventStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	first := NewContentUpdated("one", 1)
	second := NewContentUpdated("two", 2)
	require.NoError(t, WriteEvent(&buf, first))
	require.NoError(t, WriteComment(&buf, "ping"))
	require.NoError(t, WriteEvent(&buf, second))

	var got []Event
	require.NoError(t, ReadEvents(&buf, func(e Event) { got = append(got, e) }))
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Fingerprint)
	assert.Equal(t, "two", got[1].Fingerprint)
	assert.Equal(t, EventContentUpdated, got[1].Type)
}
