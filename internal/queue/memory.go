package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// ErrClosed is returned by Memory.Send after Close.
var ErrClosed = errors.New("queue closed")

// Memory is an in-process queue implementing Sender and Receiver.
// Received messages stay in flight until acknowledged or handed back with
// Nack.
type Memory struct {
	mu       sync.Mutex
	pending  []Message
	inFlight map[string]Message
	nextID   int
	max      int
	closed   bool
}

// NewMemory creates an empty queue returning at most maxPerReceive messages
// per Receive (all pending messages when maxPerReceive <= 0).
func NewMemory(maxPerReceive int) *Memory {
	return &Memory{
		inFlight: make(map[string]Message),
		max:      maxPerReceive,
	}
}

func (q *Memory) Send(_ context.Context, item WorkItem, batchID int64) error {
	body, err := item.Encode()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.nextID++
	id := strconv.Itoa(q.nextID)
	q.pending = append(q.pending, Message{
		ID:         id,
		Body:       body,
		Attributes: map[string]string{BatchIDAttribute: strconv.FormatInt(batchID, 10)},
		Handle:     id,
	})
	return nil
}

// Receive returns pending messages without blocking.
func (q *Memory) Receive(ctx context.Context) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.max > 0 && n > q.max {
		n = q.max
	}
	out := make([]Message, n)
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	for _, m := range out {
		q.inFlight[m.ID] = m
	}
	return out, nil
}

func (q *Memory) Ack(_ context.Context, msgs []Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		delete(q.inFlight, m.ID)
	}
	return nil
}

// Nack moves in-flight msgs back to the head of the queue, in order.
func (q *Memory) Nack(_ context.Context, msgs []Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var back []Message
	for _, m := range msgs {
		if _, ok := q.inFlight[m.ID]; !ok {
			continue
		}
		delete(q.inFlight, m.ID)
		back = append(back, m)
	}
	q.pending = append(back, q.pending...)
	return nil
}

// Len reports pending and in-flight message counts.
func (q *Memory) Len() (pending, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inFlight)
}

// Depth reports Len.
func (q *Memory) Depth(context.Context) (pending, inFlight int, err error) {
	pending, inFlight = q.Len()
	return pending, inFlight, nil
}

// Put enqueues a raw message, for tests that need malformed input.
func (q *Memory) Put(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m.ID == "" {
		q.nextID++
		m.ID = strconv.Itoa(q.nextID)
	}
	q.pending = append(q.pending, m)
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

var (
	_ Sender   = (*Memory)(nil)
	_ Receiver = (*Memory)(nil)
)
