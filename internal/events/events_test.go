package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBusDeliversPublishedEvents(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(ctx, Event{
		Type:           NotificationRead,
		NotificationID: "n1",
		Status:         model.StatusRead,
		OccurredAt:     at,
	}))

	select {
	case e := <-sub:
		assert.Equal(t, NotificationRead, e.Type)
		assert.Equal(t, "n1", e.NotificationID)
		assert.True(t, at.Equal(e.OccurredAt))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestForStatus(t *testing.T) {
	assert.Equal(t, NotificationArchived, ForStatus(model.StatusArchived))
	assert.Equal(t, NotificationActionTaken, ForStatus(model.StatusActionTaken))
	assert.Equal(t, NotificationCreated, ForStatus(model.StatusNew))
}
