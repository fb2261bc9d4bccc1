// Package tracking records planner emissions and cleanup outcomes in DynamoDB.
//
// Key attribute names are configurable; every other attribute name is fixed
// and matches the tables created for the Lambda deployment, so
// existing tables keep working.
package tracking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MessageSentTimeLayout formats PlannerRecord.MessageSentTime.
const MessageSentTimeLayout = "2006-01-02 15:04:05"

// API is the subset of the DynamoDB client used by the tracking store and
// the lease manager.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Table names a tracking table and its key attributes.
type Table struct {
	Name     string
	HashKey  string
	RangeKey string
}

// PlannerRecord is one work item the planner sent.
type PlannerRecord struct {
	BatchID         int64  `dynamodbav:"-"`
	DatabaseName    string `dynamodbav:"database_name"`
	TableName       string `dynamodbav:"table_name"`
	MessageSentTime string `dynamodbav:"message_sent_time"`
}

// Key returns "database|table".
func (r PlannerRecord) Key() string {
	return r.DatabaseName + "|" + r.TableName
}

// CleanupOutcome is the result of cleaning one table.
type CleanupOutcome struct {
	ExecutionID      int64  `dynamodbav:"-"`
	BatchID          int64  `dynamodbav:"-"`
	DatabaseName     string `dynamodbav:"database_name"`
	TableName        string `dynamodbav:"table_name"`
	VersionsBefore   int    `dynamodbav:"number_of_versions_before_cleanup"`
	VersionsRetained int    `dynamodbav:"number_of_versions_retained"`
	VersionsDeleted  int    `dynamodbav:"number_of_versions_deleted"`
}

// Store writes and reads tracking rows.
type Store struct {
	api     API
	planner Table
	cleanup Table
}

// New creates a Store. Either table may be left zero when the process only
// runs the other job.
func New(api API, planner, cleanup Table) *Store {
	return &Store{api: api, planner: planner, cleanup: cleanup}
}

// PutPlannerRecord writes one planner row keyed by (batch id, "db|table").
func (s *Store) PutPlannerRecord(ctx context.Context, r PlannerRecord) error {
	if s.planner.Name == "" {
		return fmt.Errorf("tracking: planner table not configured")
	}
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("tracking: marshal planner record: %w", err)
	}
	item[s.planner.HashKey] = number(r.BatchID)
	item[s.planner.RangeKey] = &types.AttributeValueMemberS{Value: r.Key()}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.planner.Name),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("tracking: put planner record %s: %w", r.Key(), err)
	}
	return nil
}

// PutCleanupOutcome writes one cleanup row keyed by (execution id, batch id).
func (s *Store) PutCleanupOutcome(ctx context.Context, o CleanupOutcome) error {
	if s.cleanup.Name == "" {
		return fmt.Errorf("tracking: cleanup table not configured")
	}
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("tracking: marshal cleanup outcome: %w", err)
	}
	item[s.cleanup.HashKey] = number(o.ExecutionID)
	item[s.cleanup.RangeKey] = number(o.BatchID)

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cleanup.Name),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("tracking: put cleanup outcome %s.%s: %w", o.DatabaseName, o.TableName, err)
	}
	return nil
}

// PlannerRecords returns every planner row of a batch.
func (s *Store) PlannerRecords(ctx context.Context, batchID int64) ([]PlannerRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.planner.Name),
		KeyConditionExpression: aws.String("#hk = :batch"),
		ExpressionAttributeNames: map[string]string{
			"#hk": s.planner.HashKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":batch": number(batchID),
		},
	}

	var out []PlannerRecord
	paginator := dynamodb.NewQueryPaginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("tracking: query planner records: %w", err)
		}
		for _, item := range page.Items {
			var r PlannerRecord
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, fmt.Errorf("tracking: unmarshal planner record: %w", err)
			}
			r.BatchID = batchID
			out = append(out, r)
		}
	}
	return out, nil
}

// CleanupOutcomes returns every cleanup row of a batch. The cleanup table is
// keyed by execution id, so this scans with a filter on the range key.
func (s *Store) CleanupOutcomes(ctx context.Context, batchID int64) ([]CleanupOutcome, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.cleanup.Name),
		FilterExpression: aws.String("#rk = :batch"),
		ExpressionAttributeNames: map[string]string{
			"#rk": s.cleanup.RangeKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":batch": number(batchID),
		},
	}

	var out []CleanupOutcome
	paginator := dynamodb.NewScanPaginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("tracking: scan cleanup outcomes: %w", err)
		}
		for _, item := range page.Items {
			var o CleanupOutcome
			if err := attributevalue.UnmarshalMap(item, &o); err != nil {
				return nil, fmt.Errorf("tracking: unmarshal cleanup outcome: %w", err)
			}
			o.BatchID = batchID
			if o.ExecutionID, err = numberValue(item[s.cleanup.HashKey]); err != nil {
				return nil, fmt.Errorf("tracking: cleanup outcome execution id: %w", err)
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// FormatSentTime renders t as stored in message_sent_time.
func FormatSentTime(t time.Time) string {
	return t.Format(MessageSentTimeLayout)
}

func number(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func numberValue(av types.AttributeValue) (int64, error) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute is %T, want number", av)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

var _ API = (*dynamodb.Client)(nil)
