package audit

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
)

const publishTopic = "authcore.audit"

// PublisherSink forwards events to a message broker so external consumers
// (SIEM pipelines, alerting) can subscribe to the security stream.
type PublisherSink struct {
	publisher message.Publisher
	topic     string
	logger    *logging.Service
}

func NewPublisherSink(publisher message.Publisher, logger *logging.Service) *PublisherSink {
	return &PublisherSink{
		publisher: publisher,
		topic:     publishTopic,
		logger:    logger,
	}
}

func (s *PublisherSink) Emit(_ context.Context, event Event) {
	if s == nil || s.publisher == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to marshal audit event", zap.Error(err))
		}
		return
	}

	msg := message.NewMessage(event.ID, payload)
	if err := s.publisher.Publish(s.topic, msg); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to publish audit event",
				zap.Error(err),
				zap.String("topic", s.topic),
				zap.String("event_id", event.ID))
		}
	}
}
