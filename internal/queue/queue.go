// Package queue carries per-table work items from the planner to the cleaner.
//
// A work item's JSON body names the table; the planner run it belongs to
// travels out of band in the ExecutionBatchId attribute (an SQS message
// attribute or a Kafka record header). Backends live in the sqs and kafka
// subpackages; [Memory] serves tests and single-process runs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// BatchIDAttribute is the message attribute carrying the planner batch id.
const BatchIDAttribute = "ExecutionBatchId"

// ErrMalformedMessage is returned for messages the cleaner cannot act on.
var ErrMalformedMessage = errors.New("malformed work item")

// WorkItem names one table to clean.
type WorkItem struct {
	DatabaseName string `json:"databaseName"`
	TableName    string `json:"tableName"`
}

// Key returns "database|table", the planner tracking range key.
func (w WorkItem) Key() string {
	return w.DatabaseName + "|" + w.TableName
}

// Encode returns the JSON message body.
func (w WorkItem) Encode() ([]byte, error) {
	return json.Marshal(w)
}

// DecodeWorkItem parses a message body. Keys match case-insensitively, so
// bodies written as {"DatabaseName": ..., "TableName": ...} decode too.
func DecodeWorkItem(body []byte) (WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(body, &w); err != nil {
		return WorkItem{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if w.DatabaseName == "" || w.TableName == "" {
		return WorkItem{}, fmt.Errorf("%w: missing database or table name", ErrMalformedMessage)
	}
	return w, nil
}

// BatchIDFromAttributes extracts the planner batch id. The attribute name is
// matched case-insensitively; the value must be a positive integer.
func BatchIDFromAttributes(attrs map[string]string) (int64, error) {
	raw, ok := attrs[BatchIDAttribute]
	if !ok {
		for k, v := range attrs {
			if strings.EqualFold(k, BatchIDAttribute) {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing %s attribute", ErrMalformedMessage, BatchIDAttribute)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrMalformedMessage, BatchIDAttribute, raw)
	}
	return id, nil
}

// Message is a received work item before decoding.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string

	// Handle is backend state needed to acknowledge the message: an SQS
	// receipt handle or a Kafka record.
	Handle any
}

// Decode returns the work item and batch id carried by m.
func (m Message) Decode() (WorkItem, int64, error) {
	batchID, err := BatchIDFromAttributes(m.Attributes)
	if err != nil {
		return WorkItem{}, 0, err
	}
	item, err := DecodeWorkItem(m.Body)
	if err != nil {
		return WorkItem{}, 0, err
	}
	return item, batchID, nil
}

// Sender publishes work items.
type Sender interface {
	// Send publishes item tagged with batchID. Items for one database are
	// delivered in send order.
	Send(ctx context.Context, item WorkItem, batchID int64) error
	Close() error
}

// Receiver consumes work items.
type Receiver interface {
	// Receive blocks until messages are available, the backend's poll
	// window elapses (returning an empty slice), or ctx is done.
	Receive(ctx context.Context) ([]Message, error)

	// Ack marks messages handled so they are not redelivered.
	Ack(ctx context.Context, msgs []Message) error

	// Nack hands back messages that were received but not handled so a
	// later Receive returns them again.
	Nack(ctx context.Context, msgs []Message) error
	Close() error
}
