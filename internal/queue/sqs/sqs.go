// Package sqs implements the work queue on Amazon SQS.
//
// FIFO queues (URL ending in ".fifo") get MessageGroupId set to the database
// name, so items for one database are delivered in order, and a
// deterministic MessageDeduplicationId, so a retried send within the
// deduplication window is not delivered twice.
package sqs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/versiongc/versiongc/internal/queue"
)

// maxBatchDelete is the DeleteMessageBatch entry limit.
const maxBatchDelete = 10

// API is the subset of the SQS client used by Queue.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config configures a Queue.
type Config struct {
	QueueURL                 string
	WaitTimeSeconds          int32
	MaxMessages              int32
	VisibilityTimeoutSeconds int32
}

// Queue is an SQS-backed queue.Sender and queue.Receiver.
type Queue struct {
	api  API
	cfg  Config
	fifo bool
}

// New creates a Queue. QueueURL is required.
func New(api API, cfg Config) (*Queue, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs: queue URL is required")
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	return &Queue{
		api:  api,
		cfg:  cfg,
		fifo: strings.HasSuffix(cfg.QueueURL, ".fifo"),
	}, nil
}

// DeduplicationID derives the FIFO deduplication id for an item of a batch.
func DeduplicationID(item queue.WorkItem, batchID int64) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(batchID, 10) + "|" + item.Key()))
	return hex.EncodeToString(sum[:])
}

// Send publishes item with the batch id as a String message attribute.
func (q *Queue) Send(ctx context.Context, item queue.WorkItem, batchID int64) error {
	body, err := item.Encode()
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.cfg.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			queue.BatchIDAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(strconv.FormatInt(batchID, 10)),
			},
		},
	}
	if q.fifo {
		input.MessageGroupId = aws.String(item.DatabaseName)
		input.MessageDeduplicationId = aws.String(DeduplicationID(item, batchID))
	}

	if _, err := q.api.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs: send %s: %w", item.Key(), err)
	}
	return nil
}

// Receive long-polls for up to MaxMessages messages.
func (q *Queue) Receive(ctx context.Context) ([]queue.Message, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.cfg.QueueURL),
		MaxNumberOfMessages:   q.cfg.MaxMessages,
		WaitTimeSeconds:       q.cfg.WaitTimeSeconds,
		MessageAttributeNames: []string{"All"},
	}
	if q.cfg.VisibilityTimeoutSeconds > 0 {
		input.VisibilityTimeout = q.cfg.VisibilityTimeoutSeconds
	}

	out, err := q.api.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs: receive: %w", err)
	}

	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		attrs := make(map[string]string, len(m.MessageAttributes))
		for name, a := range m.MessageAttributes {
			if a.StringValue != nil {
				attrs[name] = *a.StringValue
			}
		}
		msgs = append(msgs, queue.Message{
			ID:         aws.ToString(m.MessageId),
			Body:       []byte(aws.ToString(m.Body)),
			Attributes: attrs,
			Handle:     aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

// Ack deletes messages in batches of ten. Per-entry failures are joined
// into the returned error.
func (q *Queue) Ack(ctx context.Context, msgs []queue.Message) error {
	var errs []error
	for start := 0; start < len(msgs); start += maxBatchDelete {
		end := min(start+maxBatchDelete, len(msgs))

		entries := make([]types.DeleteMessageBatchRequestEntry, 0, end-start)
		for i, m := range msgs[start:end] {
			handle, ok := m.Handle.(string)
			if !ok || handle == "" {
				errs = append(errs, fmt.Errorf("sqs: message %s has no receipt handle", m.ID))
				continue
			}
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(start + i)),
				ReceiptHandle: aws.String(handle),
			})
		}
		if len(entries) == 0 {
			continue
		}

		out, err := q.api.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("sqs: delete batch: %w", err))
			continue
		}
		for _, f := range out.Failed {
			errs = append(errs, fmt.Errorf("sqs: delete entry %s: %s %s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message)))
		}
	}
	return errors.Join(errs...)
}

// Nack leaves msgs to reappear once their visibility timeout expires.
func (q *Queue) Nack(context.Context, []queue.Message) error {
	return nil
}

// Depth reports the approximate visible and in-flight message counts.
func (q *Queue) Depth(ctx context.Context) (pending, inFlight int, err error) {
	out, err := q.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.cfg.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("sqs: queue attributes: %w", err)
	}
	attr := func(name types.QueueAttributeName) (int, error) {
		v, ok := out.Attributes[string(name)]
		if !ok {
			return 0, nil
		}
		return strconv.Atoi(v)
	}
	if pending, err = attr(types.QueueAttributeNameApproximateNumberOfMessages); err != nil {
		return 0, 0, fmt.Errorf("sqs: queue attributes: %w", err)
	}
	if inFlight, err = attr(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible); err != nil {
		return 0, 0, fmt.Errorf("sqs: queue attributes: %w", err)
	}
	return pending, inFlight, nil
}

// Close is a no-op; the SQS client holds no per-queue resources.
func (q *Queue) Close() error {
	return nil
}

var (
	_ queue.Sender   = (*Queue)(nil)
	_ queue.Receiver = (*Queue)(nil)
	_ API            = (*sqs.Client)(nil)
)
