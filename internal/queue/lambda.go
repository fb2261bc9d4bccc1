package queue

import (
	"github.com/aws/aws-lambda-go/events"
)

// FromSQSEvent converts the records of a Lambda SQS event. Only string
// attributes are carried over.
func FromSQSEvent(ev events.SQSEvent) []Message {
	msgs := make([]Message, 0, len(ev.Records))
	for _, r := range ev.Records {
		attrs := make(map[string]string, len(r.MessageAttributes))
		for name, a := range r.MessageAttributes {
			if a.StringValue != nil {
				attrs[name] = *a.StringValue
			}
		}
		msgs = append(msgs, Message{
			ID:         r.MessageId,
			Body:       []byte(r.Body),
			Attributes: attrs,
			Handle:     r.ReceiptHandle,
		})
	}
	return msgs
}
