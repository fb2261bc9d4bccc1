// Package kafka implements the work queue on a Kafka topic with franz-go.
//
// Records are keyed by database name, so every table of a database lands on
// one partition and is consumed in send order. The batch id travels in the
// ExecutionBatchId record header. The receiver consumes in a consumer group
// with auto-commit disabled; Ack commits the handled records and Nack rewinds
// the fetch position to the first unhandled record of each partition.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/versiongc/versiongc/internal/queue"
)

const defaultPollTimeout = 5 * time.Second

// Client is the subset of *kgo.Client used here.
type Client interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(offsets map[string]map[int32]kgo.EpochOffset)
	Close()
}

// Config configures a producer or consumer.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string

	// Partitions and ReplicationFactor size the topic NewProducer creates
	// when it is missing. Partitions <= 0 skips topic creation.
	Partitions        int32
	ReplicationFactor int16

	// MaxPollRecords bounds one Receive. Defaults to 10.
	MaxPollRecords int

	// PollTimeout bounds how long Receive waits for records. Defaults to 5s.
	PollTimeout time.Duration
}

func (c Config) validate(needGroup bool) error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	if needGroup && c.ConsumerGroup == "" {
		return errors.New("kafka: consumer group is required")
	}
	return nil
}

// Producer is a queue.Sender.
type Producer struct {
	client Client
	topic  string
}

// NewProducer connects a producer to cfg.Brokers and creates cfg.Topic
// when it is missing.
func NewProducer(ctx context.Context, cfg Config, opts ...kgo.Opt) (*Producer, error) {
	if err := cfg.validate(false); err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create producer: %w", err)
	}
	if cfg.Partitions > 0 {
		if err := EnsureTopic(ctx, kadm.NewClient(client), cfg.Topic, cfg.Partitions, cfg.ReplicationFactor); err != nil {
			client.Close()
			return nil, err
		}
	}
	return NewProducerWithClient(client, cfg.Topic), nil
}

// NewProducerWithClient wraps an existing client.
func NewProducerWithClient(client Client, topic string) *Producer {
	return &Producer{client: client, topic: topic}
}

// Send produces one record and waits for the broker acknowledgement.
func (p *Producer) Send(ctx context.Context, item queue.WorkItem, batchID int64) error {
	body, err := item.Encode()
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(item.DatabaseName),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: queue.BatchIDAttribute, Value: []byte(strconv.FormatInt(batchID, 10))},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: send %s: %w", item.Key(), err)
	}
	return nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// Consumer is a queue.Receiver.
type Consumer struct {
	client      Client
	maxRecords  int
	pollTimeout time.Duration
}

// NewConsumer joins cfg.ConsumerGroup on cfg.Topic.
func NewConsumer(cfg Config, opts ...kgo.Opt) (*Consumer, error) {
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create consumer: %w", err)
	}
	return NewConsumerWithClient(client, cfg), nil
}

// NewConsumerWithClient wraps an existing client.
func NewConsumerWithClient(client Client, cfg Config) *Consumer {
	c := &Consumer{
		client:      client,
		maxRecords:  cfg.MaxPollRecords,
		pollTimeout: cfg.PollTimeout,
	}
	if c.maxRecords <= 0 {
		c.maxRecords = 10
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = defaultPollTimeout
	}
	return c
}

// Receive polls for up to MaxPollRecords records. An elapsed poll window
// returns an empty slice.
func (c *Consumer) Receive(ctx context.Context) ([]queue.Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	fetches := c.client.PollRecords(pollCtx, c.maxRecords)
	if fetches.IsClientClosed() {
		return nil, errors.New("kafka: client closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		errs = append(errs, fmt.Errorf("kafka: fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	records := fetches.Records()
	msgs := make([]queue.Message, 0, len(records))
	for _, r := range records {
		attrs := make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			attrs[h.Key] = string(h.Value)
		}
		msgs = append(msgs, queue.Message{
			ID:         fmt.Sprintf("%s/%d/%d", r.Topic, r.Partition, r.Offset),
			Body:       r.Value,
			Attributes: attrs,
			Handle:     r,
		})
	}
	return msgs, nil
}

func recordsOf(msgs []queue.Message) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		r, ok := m.Handle.(*kgo.Record)
		if !ok {
			return nil, fmt.Errorf("kafka: message %s has no record handle", m.ID)
		}
		records = append(records, r)
	}
	return records, nil
}

// Ack commits the offsets of msgs for the consumer group.
func (c *Consumer) Ack(ctx context.Context, msgs []queue.Message) error {
	records, err := recordsOf(msgs)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("kafka: commit: %w", err)
	}
	return nil
}

// Nack moves each partition's fetch position back to the lowest offset in
// msgs. Buffered records past that offset are dropped and fetched again, so
// a later Ack can never commit past an unhandled record.
func (c *Consumer) Nack(_ context.Context, msgs []queue.Message) error {
	records, err := recordsOf(msgs)
	if err != nil {
		return err
	}
	rewind := make(map[string]map[int32]kgo.EpochOffset)
	for _, r := range records {
		parts, ok := rewind[r.Topic]
		if !ok {
			parts = make(map[int32]kgo.EpochOffset)
			rewind[r.Topic] = parts
		}
		if cur, ok := parts[r.Partition]; !ok || r.Offset < cur.Offset {
			parts[r.Partition] = kgo.EpochOffset{Epoch: r.LeaderEpoch, Offset: r.Offset}
		}
	}
	if len(rewind) > 0 {
		c.client.SetOffsets(rewind)
	}
	return nil
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// TopicCreator is the subset of *kadm.Client used by EnsureTopic.
type TopicCreator interface {
	CreateTopics(ctx context.Context, partitions int32, replicationFactor int16, configs map[string]*string, topics ...string) (kadm.CreateTopicResponses, error)
}

// EnsureTopic creates the work topic if it does not exist.
func EnsureTopic(ctx context.Context, adm TopicCreator, topic string, partitions int32, replicationFactor int16) error {
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

var (
	_ queue.Sender   = (*Producer)(nil)
	_ queue.Receiver = (*Consumer)(nil)
	_ Client         = (*kgo.Client)(nil)
	_ TopicCreator   = (*kadm.Client)(nil)
)
