package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/domain/entity"
	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

// TopicFieldLocks 软锁变化，内容同步引擎消费
const TopicFieldLocks = "canvas.field.locks"

// Config 为空 Brokers 表示不发布
type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LockPublisher 按画布分区，保证同一画布的锁变化有序
type LockPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewLockPublisher(cfg Config) (*LockPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 10 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewLockPublisherWithProducer(producer, cfg.Topic), nil
}

func NewLockPublisherWithProducer(producer sarama.SyncProducer, topic string) *LockPublisher {
	if topic == "" {
		topic = TopicFieldLocks
	}
	return &LockPublisher{producer: producer, topic: topic}
}

var _ out.LockEventPublisher = (*LockPublisher)(nil)

func (p *LockPublisher) PublishLockChanges(_ context.Context, changes []entity.LockChange) error {
	if len(changes) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(changes))
	for _, ch := range changes {
		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("marshal lock change failed: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ch.CanvasID),
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event_type"), Value: []byte("field_lock_" + string(ch.Op))},
				{Key: []byte("timestamp"), Value: []byte(ch.At.UTC().Format(time.RFC3339Nano))},
			},
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish lock changes failed: %w", err)
	}
	return nil
}

func (p *LockPublisher) Close() error {
	return p.producer.Close()
}
