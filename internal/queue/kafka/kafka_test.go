package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/versiongc/versiongc/internal/queue"
)

type fakeClient struct {
	produced   []*kgo.Record
	produceErr error
	fetches    kgo.Fetches
	committed  []*kgo.Record
	rewinds    []map[string]map[int32]kgo.EpochOffset
	closed     bool
}

func (f *fakeClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		f.produced = append(f.produced, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.produceErr})
	}
	return results
}

func (f *fakeClient) PollRecords(context.Context, int) kgo.Fetches {
	return f.fetches
}

func (f *fakeClient) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	f.committed = append(f.committed, rs...)
	return nil
}

func (f *fakeClient) SetOffsets(offsets map[string]map[int32]kgo.EpochOffset) {
	f.rewinds = append(f.rewinds, offsets)
}

func (f *fakeClient) Close() { f.closed = true }

// partitionLog serves one partition from a fetch position that PollRecords
// advances and SetOffsets rewinds.
type partitionLog struct {
	fakeClient
	records []*kgo.Record
	pos     int64
}

func (l *partitionLog) PollRecords(_ context.Context, max int) kgo.Fetches {
	var out []*kgo.Record
	for _, r := range l.records {
		if r.Offset >= l.pos && len(out) < max {
			out = append(out, r)
		}
	}
	if len(out) > 0 {
		l.pos = out[len(out)-1].Offset + 1
	}
	return fetchOf(out...)
}

func (l *partitionLog) SetOffsets(offsets map[string]map[int32]kgo.EpochOffset) {
	l.fakeClient.SetOffsets(offsets)
	if eo, ok := offsets[testTopic][0]; ok {
		l.pos = eo.Offset
	}
}

const testTopic = "glue-table-versions-cleanup"

func workRecord(offset int64, table string) *kgo.Record {
	return &kgo.Record{
		Topic:       testTopic,
		Partition:   0,
		Offset:      offset,
		LeaderEpoch: 3,
		Value:       []byte(`{"databaseName":"sales","tableName":"` + table + `"}`),
		Headers:     []kgo.RecordHeader{{Key: queue.BatchIDAttribute, Value: []byte("9")}},
	}
}

func offsetsOf(msgs []queue.Message) []int64 {
	var out []int64
	for _, m := range msgs {
		out = append(out, m.Handle.(*kgo.Record).Offset)
	}
	return out
}

func fetchOf(records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      testTopic,
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{Topic: "t"}.validate(false))
	assert.Error(t, Config{Brokers: []string{"b:9092"}}.validate(false))
	assert.Error(t, Config{Brokers: []string{"b:9092"}, Topic: "t"}.validate(true))
	assert.NoError(t, Config{Brokers: []string{"b:9092"}, Topic: "t", ConsumerGroup: "g"}.validate(true))
}

func TestProducer_Send(t *testing.T) {
	client := &fakeClient{}
	p := NewProducerWithClient(client, "cleanup")

	item := queue.WorkItem{DatabaseName: "sales", TableName: "orders"}
	require.NoError(t, p.Send(context.Background(), item, 1714521600000))

	require.Len(t, client.produced, 1)
	rec := client.produced[0]
	assert.Equal(t, "cleanup", rec.Topic)
	assert.Equal(t, []byte("sales"), rec.Key, "keyed by database for per-database ordering")
	assert.JSONEq(t, `{"databaseName":"sales","tableName":"orders"}`, string(rec.Value))
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, queue.BatchIDAttribute, rec.Headers[0].Key)
	assert.Equal(t, "1714521600000", string(rec.Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, client.closed)
}

func TestProducer_SendError(t *testing.T) {
	client := &fakeClient{produceErr: errors.New("not leader")}
	p := NewProducerWithClient(client, "cleanup")

	err := p.Send(context.Background(), queue.WorkItem{DatabaseName: "d", TableName: "t"}, 1)
	require.ErrorContains(t, err, "not leader")
}

func TestConsumer_ReceiveAndAck(t *testing.T) {
	rec := &kgo.Record{
		Topic:     "glue-table-versions-cleanup",
		Partition: 0,
		Offset:    41,
		Value:     []byte(`{"databaseName":"sales","tableName":"orders"}`),
		Headers:   []kgo.RecordHeader{{Key: "ExecutionBatchId", Value: []byte("9")}},
	}
	client := &fakeClient{fetches: fetchOf(rec)}
	c := NewConsumerWithClient(client, Config{PollTimeout: time.Second})

	msgs, err := c.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "glue-table-versions-cleanup/0/41", msgs[0].ID)

	item, batchID, err := msgs[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, queue.WorkItem{DatabaseName: "sales", TableName: "orders"}, item)
	assert.Equal(t, int64(9), batchID)

	require.NoError(t, c.Ack(context.Background(), msgs))
	assert.Equal(t, []*kgo.Record{rec}, client.committed)
}

func TestConsumer_PollTimeoutIsEmpty(t *testing.T) {
	client := &fakeClient{fetches: kgo.NewErrFetch(context.DeadlineExceeded)}
	c := NewConsumerWithClient(client, Config{})

	msgs, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConsumer_FetchError(t *testing.T) {
	client := &fakeClient{fetches: kgo.NewErrFetch(errors.New("unknown topic"))}
	c := NewConsumerWithClient(client, Config{})

	_, err := c.Receive(context.Background())
	require.ErrorContains(t, err, "unknown topic")
}

func TestConsumer_AckRejectsForeignHandle(t *testing.T) {
	c := NewConsumerWithClient(&fakeClient{}, Config{})
	err := c.Ack(context.Background(), []queue.Message{{ID: "x", Handle: "receipt"}})
	require.Error(t, err)

	require.NoError(t, c.Ack(context.Background(), nil))
}

func TestConsumer_NackRedeliversBeforeLaterAck(t *testing.T) {
	client := &partitionLog{records: []*kgo.Record{
		workRecord(0, "orders"),
		workRecord(1, "refunds"),
		workRecord(2, "customers"),
		workRecord(3, "invoices"),
	}}
	c := NewConsumerWithClient(client, Config{MaxPollRecords: 2})
	ctx := context.Background()

	failed, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, offsetsOf(failed))
	require.NoError(t, c.Nack(ctx, failed))

	require.Len(t, client.rewinds, 1)
	assert.Equal(t, kgo.EpochOffset{Epoch: 3, Offset: 0}, client.rewinds[0][testTopic][0])

	retried, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, offsetsOf(retried), "failed records are polled again")
	require.NoError(t, c.Ack(ctx, retried))

	next, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, offsetsOf(next))
	require.NoError(t, c.Ack(ctx, next))

	var committed []int64
	for _, r := range client.committed {
		committed = append(committed, r.Offset)
	}
	assert.Equal(t, []int64{0, 1, 2, 3}, committed, "no commit skips an unhandled record")
}

func TestConsumer_NackRewindsToLowestOffsetPerPartition(t *testing.T) {
	client := &fakeClient{}
	c := NewConsumerWithClient(client, Config{})

	rec := func(partition int32, offset int64) queue.Message {
		return queue.Message{Handle: &kgo.Record{Topic: testTopic, Partition: partition, Offset: offset, LeaderEpoch: 1}}
	}
	require.NoError(t, c.Nack(context.Background(), []queue.Message{
		rec(0, 12), rec(1, 40), rec(0, 10), rec(0, 11),
	}))

	require.Len(t, client.rewinds, 1)
	assert.Equal(t, map[int32]kgo.EpochOffset{
		0: {Epoch: 1, Offset: 10},
		1: {Epoch: 1, Offset: 40},
	}, client.rewinds[0][testTopic])

	require.NoError(t, c.Nack(context.Background(), nil))
	assert.Len(t, client.rewinds, 1, "nothing to rewind")

	err := c.Nack(context.Background(), []queue.Message{{ID: "x", Handle: "receipt"}})
	require.Error(t, err)
}

type fakeAdmin struct {
	resp kadm.CreateTopicResponses
	err  error
	got  []string
}

func (f *fakeAdmin) CreateTopics(_ context.Context, partitions int32, rf int16, _ map[string]*string, topics ...string) (kadm.CreateTopicResponses, error) {
	f.got = append(f.got, topics...)
	return f.resp, f.err
}

func TestEnsureTopic(t *testing.T) {
	ctx := context.Background()

	adm := &fakeAdmin{resp: kadm.CreateTopicResponses{testTopic: {Topic: testTopic}}}
	require.NoError(t, EnsureTopic(ctx, adm, testTopic, 16, 3))
	assert.Equal(t, []string{testTopic}, adm.got)

	adm = &fakeAdmin{resp: kadm.CreateTopicResponses{testTopic: {Topic: testTopic, Err: kerr.TopicAlreadyExists}}}
	require.NoError(t, EnsureTopic(ctx, adm, testTopic, 16, 3))

	adm = &fakeAdmin{resp: kadm.CreateTopicResponses{testTopic: {Topic: testTopic, Err: kerr.InvalidReplicationFactor}}}
	require.ErrorIs(t, EnsureTopic(ctx, adm, testTopic, 16, 3), kerr.InvalidReplicationFactor)

	adm = &fakeAdmin{err: errors.New("broker unreachable")}
	require.ErrorContains(t, EnsureTopic(ctx, adm, testTopic, 16, 3), "broker unreachable")
}

func TestNewProducer_ValidatesConfig(t *testing.T) {
	_, err := NewProducer(context.Background(), Config{Topic: testTopic})
	require.Error(t, err)
}
