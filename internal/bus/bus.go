// Package bus wraps the message-bus client used to publish metadata and
// frame responses and to subscribe to inbound frame requests. The spec
// treats the bus library itself as an external collaborator (spec §1, §6);
// this package binds that collaborator to Kafka via IBM/sarama, grounded on
// the teacher's producer/consumer wrapper shape.
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher publishes a JSON-encodable payload to a topic.
type Publisher interface {
	Publish(topic string, payload any) error
	Close() error
}

// messageSender is the narrow slice of sarama.SyncProducer this package
// actually calls; kept separate from the full interface so tests can supply
// a fake without modeling sarama's transactional producer methods.
type messageSender interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
}

// SaramaPublisher implements Publisher using a synchronous Sarama producer,
// grounded on producer/kafka/producer.go's PushToQueue.
type SaramaPublisher struct {
	logger   *zap.Logger
	producer messageSender
	closer   func() error
}

// NewPublisher constructs a Publisher over the given brokers.
func NewPublisher(logger *zap.Logger, brokers []string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &SaramaPublisher{logger: logger, producer: producer, closer: producer.Close}, nil
}

// Publish JSON-encodes payload and sends it synchronously to topic.
func (p *SaramaPublisher) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Warn("bus publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	p.logger.Debug("bus publish ok",
		zap.String("topic", topic), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

// Close releases the underlying producer.
func (p *SaramaPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// FrameRequest is the inbound payload on the frame_request topic.
type FrameRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// RequestHandler receives inbound frame requests. Implementations must not
// block: the callback fires on the Sarama consumer-group goroutine, not the
// tick thread (spec §9's "asynchronous inbound request" design note).
type RequestHandler interface {
	OnFrameRequest(req FrameRequest)
}

// groupHandler adapts a RequestHandler to sarama.ConsumerGroupHandler,
// grounded on consumer/kafka/group_consumer.go's OrderConsumerHandler.
type groupHandler struct {
	logger  *zap.Logger
	handler RequestHandler
	ready   chan struct{}
	once    sync.Once
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var req FrameRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			h.logger.Warn("malformed frame_request payload", zap.Error(err))
			session.MarkMessage(msg, "")
			continue
		}
		h.handler.OnFrameRequest(req)
		session.MarkMessage(msg, "")
	}
	return nil
}

// Subscriber runs a consumer group against a topic, delivering decoded
// frame requests to a RequestHandler.
type Subscriber struct {
	logger        *zap.Logger
	consumerGroup sarama.ConsumerGroup
}

// NewSubscriber constructs a Subscriber over the given brokers and consumer
// group id.
func NewSubscriber(logger *zap.Logger, brokers []string, groupID string) (*Subscriber, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	cg, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Subscriber{logger: logger, consumerGroup: cg}, nil
}

// Run starts the consumer group loop against topic in a background
// goroutine, delivering decoded requests to handler until ctx is cancelled.
// Mirrors group_consumer.go's restart-on-return loop: sarama's Consume
// returns when the group rebalances, so the goroutine calls Consume again
// until ctx is done. Run itself returns once the first session is set up or
// ctx is cancelled, whichever comes first.
func (s *Subscriber) Run(ctx context.Context, topic string, handler RequestHandler) error {
	gh := &groupHandler{logger: s.logger, handler: handler, ready: make(chan struct{})}

	go func() {
		for {
			if err := s.consumerGroup.Consume(ctx, []string{topic}, gh); err != nil {
				s.logger.Warn("consumer group error", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	select {
	case <-gh.ready:
	case <-ctx.Done():
	}
	return nil
}

// Close releases the underlying consumer group.
func (s *Subscriber) Close() error {
	return s.consumerGroup.Close()
}
