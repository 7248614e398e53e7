package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/booking-engine/pkg/circuitbreaker"
	"github.com/jwalitptl/booking-engine/pkg/messaging"
)

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	broker := NewRedisBroker(client, nil)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := broker.Subscribe(ctx, "booking-events")
	require.NoError(t, err)

	msg, err := messaging.NewMessage("slot-1", "booking.confirmed", map[string]string{"slot_id": "slot-1"})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(ctx, "booking-events", msg))

	select {
	case got := <-ch:
		assert.Equal(t, "booking.confirmed", got.Type)
		assert.Equal(t, "slot-1", got.Key)
		assert.JSONEq(t, `{"slot_id":"slot-1"}`, string(got.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBrokerOpensBreakerWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	broker := NewRedisBroker(client, nil)
	defer broker.Close()
	mr.Close()

	msg := messaging.Message{Type: "booking.cancelled"}
	for i := 0; i < 5; i++ {
		assert.Error(t, broker.Publish(context.Background(), "t", msg))
	}
	assert.ErrorIs(t, broker.Publish(context.Background(), "t", msg), circuitbreaker.ErrOpen)
}
