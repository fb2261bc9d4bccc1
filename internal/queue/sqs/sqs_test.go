package sqs

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versiongc/versiongc/internal/queue"
)

type fakeSQS struct {
	sent      []*sqs.SendMessageInput
	sendErr   error
	receive   *sqs.ReceiveMessageOutput
	received  []*sqs.ReceiveMessageInput
	deletes   []*sqs.DeleteMessageBatchInput
	failFirst bool
	attrs     map[string]string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("id")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received = append(f.received, in)
	if f.receive == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return f.receive, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.deletes = append(f.deletes, in)
	out := &sqs.DeleteMessageBatchOutput{}
	if f.failFirst {
		out.Failed = []types.BatchResultErrorEntry{{
			Id:      in.Entries[0].Id,
			Code:    aws.String("ReceiptHandleIsInvalid"),
			Message: aws.String("expired"),
		}}
	}
	return out, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if f.attrs == nil {
		return nil, errors.New("AWS.SimpleQueueService.NonExistentQueue")
	}
	return &sqs.GetQueueAttributesOutput{Attributes: f.attrs}, nil
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(&fakeSQS{}, Config{})
	require.Error(t, err)
}

func TestSend_FIFO(t *testing.T) {
	api := &fakeSQS{}
	q, err := New(api, Config{QueueURL: "https://sqs.us-east-1.amazonaws.com/123/cleanup.fifo"})
	require.NoError(t, err)

	item := queue.WorkItem{DatabaseName: "sales", TableName: "orders"}
	require.NoError(t, q.Send(context.Background(), item, 1714521600000))

	require.Len(t, api.sent, 1)
	in := api.sent[0]
	assert.JSONEq(t, `{"databaseName":"sales","tableName":"orders"}`, aws.ToString(in.MessageBody))
	assert.Equal(t, "sales", aws.ToString(in.MessageGroupId))
	assert.Equal(t, DeduplicationID(item, 1714521600000), aws.ToString(in.MessageDeduplicationId))

	attr := in.MessageAttributes[queue.BatchIDAttribute]
	assert.Equal(t, "String", aws.ToString(attr.DataType))
	assert.Equal(t, "1714521600000", aws.ToString(attr.StringValue))
}

func TestSend_StandardQueueOmitsGroup(t *testing.T) {
	api := &fakeSQS{}
	q, err := New(api, Config{QueueURL: "https://sqs.us-east-1.amazonaws.com/123/cleanup"})
	require.NoError(t, err)

	require.NoError(t, q.Send(context.Background(), queue.WorkItem{DatabaseName: "d", TableName: "t"}, 1))
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Nil(t, api.sent[0].MessageDeduplicationId)
}

func TestSend_Error(t *testing.T) {
	api := &fakeSQS{sendErr: errors.New("throttled")}
	q, _ := New(api, Config{QueueURL: "u.fifo"})

	err := q.Send(context.Background(), queue.WorkItem{DatabaseName: "d", TableName: "t"}, 1)
	require.ErrorContains(t, err, "throttled")
	require.ErrorContains(t, err, "d|t")
}

func TestDeduplicationID(t *testing.T) {
	a := queue.WorkItem{DatabaseName: "d", TableName: "t"}
	b := queue.WorkItem{DatabaseName: "d", TableName: "u"}

	assert.Equal(t, DeduplicationID(a, 1), DeduplicationID(a, 1))
	assert.NotEqual(t, DeduplicationID(a, 1), DeduplicationID(a, 2))
	assert.NotEqual(t, DeduplicationID(a, 1), DeduplicationID(b, 1))
	assert.LessOrEqual(t, len(DeduplicationID(a, 1)), 128)
}

func TestReceive(t *testing.T) {
	api := &fakeSQS{receive: &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"DatabaseName":"sales","TableName":"orders"}`),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"ExecutionBatchId": {DataType: aws.String("String.ExecutionBatchId"), StringValue: aws.String("5")},
		},
	}}}}
	q, _ := New(api, Config{QueueURL: "u", WaitTimeSeconds: 20, MaxMessages: 50, VisibilityTimeoutSeconds: 900})

	msgs, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	in := api.received[0]
	assert.Equal(t, int32(10), in.MaxNumberOfMessages, "capped at the SQS limit")
	assert.Equal(t, int32(20), in.WaitTimeSeconds)
	assert.Equal(t, int32(900), in.VisibilityTimeout)
	assert.Equal(t, []string{"All"}, in.MessageAttributeNames)

	item, batchID, err := msgs[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "orders", item.TableName)
	assert.Equal(t, int64(5), batchID)
	assert.Equal(t, "rh-1", msgs[0].Handle)
}

func TestAck_BatchesOfTen(t *testing.T) {
	api := &fakeSQS{}
	q, _ := New(api, Config{QueueURL: "u"})

	var msgs []queue.Message
	for i := 0; i < 23; i++ {
		msgs = append(msgs, queue.Message{ID: strconv.Itoa(i), Handle: "rh-" + strconv.Itoa(i)})
	}
	require.NoError(t, q.Ack(context.Background(), msgs))

	require.Len(t, api.deletes, 3)
	assert.Len(t, api.deletes[0].Entries, 10)
	assert.Len(t, api.deletes[1].Entries, 10)
	assert.Len(t, api.deletes[2].Entries, 3)
	assert.Equal(t, "rh-22", aws.ToString(api.deletes[2].Entries[2].ReceiptHandle))
}

func TestAck_ReportsFailures(t *testing.T) {
	api := &fakeSQS{failFirst: true}
	q, _ := New(api, Config{QueueURL: "u"})

	err := q.Ack(context.Background(), []queue.Message{
		{ID: "a", Handle: "rh-a"},
		{ID: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ReceiptHandleIsInvalid")
	assert.Contains(t, err.Error(), "no receipt handle")
	require.Len(t, api.deletes, 1)
	assert.Len(t, api.deletes[0].Entries, 1)
}

func TestDepth(t *testing.T) {
	api := &fakeSQS{attrs: map[string]string{
		"ApproximateNumberOfMessages":           "42",
		"ApproximateNumberOfMessagesNotVisible": "7",
	}}
	q, err := New(api, Config{QueueURL: "https://sqs.us-east-1.amazonaws.com/123/cleanup"})
	require.NoError(t, err)

	pending, inFlight, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, pending)
	assert.Equal(t, 7, inFlight)

	api.attrs = map[string]string{"ApproximateNumberOfMessages": "many"}
	_, _, err = q.Depth(context.Background())
	assert.Error(t, err)

	api.attrs = nil
	_, _, err = q.Depth(context.Background())
	assert.Error(t, err)
}
