package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/browserbridge/authcore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherSink_RoundTrip(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, publishTopic)
	require.NoError(t, err)

	sink := NewPublisherSink(pubSub, nil)
	sink.Emit(ctx, Event{
		ID:       "evt-1",
		Type:     EventTokenReplay,
		Severity: SeverityAlert,
		UserID:   "u1",
		IP:       "1.2.3.4",
		Reason:   "refresh token replayed",
	})

	select {
	case msg := <-messages:
		assert.Equal(t, "evt-1", msg.UUID)

		var got Event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, EventTokenReplay, got.Type)
		assert.Equal(t, SeverityAlert, got.Severity)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, "1.2.3.4", got.IP)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no message arrived on the audit topic")
	}
}

func TestPublisherSink_ThroughDispatcher(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, publishTopic)
	require.NoError(t, err)

	dispatcher := NewDispatcher(
		&config.AuditConfig{Enabled: true, BufferSize: 8},
		NewPublisherSink(pubSub, nil),
		nil,
	)
	require.NotNil(t, dispatcher)

	dispatcher.Emit(ctx, Event{Type: EventLogin, UserID: "u2"})
	dispatcher.Close()

	select {
	case msg := <-messages:
		var got Event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, EventLogin, got.Type)
		assert.Equal(t, "u2", got.UserID)
		assert.NotEmpty(t, got.ID, "dispatcher must assign an event id")
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("dispatched event never reached the broker")
	}
}

func TestPublisherSink_NilSafety(t *testing.T) {
	var sink *PublisherSink
	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), Event{Type: EventLogin})
	})
}
