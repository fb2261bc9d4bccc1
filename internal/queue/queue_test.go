package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkItem_EncodeDecode(t *testing.T) {
	item := WorkItem{DatabaseName: "sales", TableName: "orders"}
	body, err := item.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"databaseName":"sales","tableName":"orders"}`, string(body))
	assert.Equal(t, "sales|orders", item.Key())

	got, err := DecodeWorkItem(body)
	require.NoError(t, err)
	assert.Equal(t, item, got)
}

func TestDecodeWorkItem_CaseInsensitiveKeys(t *testing.T) {
	got, err := DecodeWorkItem([]byte(`{"DatabaseName":"sales","TableName":"orders"}`))
	require.NoError(t, err)
	assert.Equal(t, WorkItem{DatabaseName: "sales", TableName: "orders"}, got)
}

func TestDecodeWorkItem_Malformed(t *testing.T) {
	for _, body := range []string{
		``,
		`not json`,
		`{"databaseName":"sales"}`,
		`{"tableName":"orders"}`,
		`{"databaseName":"","tableName":"orders"}`,
		`[]`,
	} {
		_, err := DecodeWorkItem([]byte(body))
		if !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("DecodeWorkItem(%q) error = %v, want ErrMalformedMessage", body, err)
		}
	}
}

func TestBatchIDFromAttributes(t *testing.T) {
	tests := []struct {
		name    string
		attrs   map[string]string
		want    int64
		wantErr bool
	}{
		{"exact", map[string]string{"ExecutionBatchId": "1714521600000"}, 1714521600000, false},
		{"lowercase key", map[string]string{"executionbatchid": "42"}, 42, false},
		{"whitespace", map[string]string{"ExecutionBatchId": " 42 "}, 42, false},
		{"missing", map[string]string{"Other": "1"}, 0, true},
		{"nil", nil, 0, true},
		{"not numeric", map[string]string{"ExecutionBatchId": "abc"}, 0, true},
		{"zero", map[string]string{"ExecutionBatchId": "0"}, 0, true},
		{"negative", map[string]string{"ExecutionBatchId": "-5"}, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BatchIDFromAttributes(tc.attrs)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMessage_Decode(t *testing.T) {
	m := Message{
		Body:       []byte(`{"databaseName":"sales","tableName":"orders"}`),
		Attributes: map[string]string{"ExecutionBatchId": "7"},
	}
	item, batchID, err := m.Decode()
	require.NoError(t, err)
	assert.Equal(t, "orders", item.TableName)
	assert.Equal(t, int64(7), batchID)

	m.Attributes = nil
	_, _, err = m.Decode()
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestMemory_SendReceiveAck(t *testing.T) {
	q := NewMemory(2)
	ctx := context.Background()

	for _, tbl := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, WorkItem{DatabaseName: "db", TableName: tbl}, 99))
	}

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	item, batchID, err := first[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "a", item.TableName)
	assert.Equal(t, int64(99), batchID)

	pending, inFlight := q.Len()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 2, inFlight)

	require.NoError(t, q.Ack(ctx, first))
	_, inFlight = q.Len()
	assert.Zero(t, inFlight)

	rest, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	empty, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Send(ctx, WorkItem{DatabaseName: "db", TableName: "d"}, 1), ErrClosed)
}

func TestMemory_NackRequeuesAtHead(t *testing.T) {
	q := NewMemory(2)
	ctx := context.Background()
	for _, tbl := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, WorkItem{DatabaseName: "db", TableName: tbl}, 1))
	}

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, first))
	require.NoError(t, q.Nack(ctx, first), "second nack is a no-op")

	pending, inFlight := q.Len()
	assert.Equal(t, 3, pending)
	assert.Zero(t, inFlight)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first[0].ID, first[1].ID}, []string{again[0].ID, again[1].ID})
}

func TestMemory_ReceiveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemory(0).Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSQSEvent(t *testing.T) {
	batch := "1714521600000"
	ev := events.SQSEvent{Records: []events.SQSMessage{
		{
			MessageId:     "m-1",
			ReceiptHandle: "rh-1",
			Body:          `{"databaseName":"sales","tableName":"orders"}`,
			MessageAttributes: map[string]events.SQSMessageAttribute{
				"ExecutionBatchId": {DataType: "String.ExecutionBatchId", StringValue: &batch},
				"Binary":           {DataType: "Binary", BinaryValue: []byte{1}},
			},
		},
	}}

	msgs := FromSQSEvent(ev)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-1", msgs[0].ID)
	assert.Equal(t, "rh-1", msgs[0].Handle)
	assert.Equal(t, map[string]string{"ExecutionBatchId": batch}, msgs[0].Attributes)

	item, batchID, err := msgs[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, WorkItem{DatabaseName: "sales", TableName: "orders"}, item)
	assert.Equal(t, int64(1714521600000), batchID)
}
