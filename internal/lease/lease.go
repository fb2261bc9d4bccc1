// Package lease implements one-cleaner-per-table leasing on DynamoDB.
//
// A lease is an item keyed by "database|table" holding the owner id and an
// expiry. Acquisition is a conditional put that succeeds when no lease
// exists, the existing lease has expired, or the caller already owns it.
// Leases also carry a "ttl" attribute (epoch seconds) so DynamoDB TTL can
// reap abandoned items.
package lease

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Lease errors.
var (
	// ErrLeaseHeld is returned by Acquire when another owner holds a live lease.
	ErrLeaseHeld = errors.New("lease: held by another owner")

	// ErrInvalidKey is returned for an empty lease key.
	ErrInvalidKey = errors.New("lease: invalid key")
)

const keyAttribute = "lease_key"

// API is the subset of the DynamoDB client used by Manager.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Lease is the stored lease item.
type Lease struct {
	Key          string `dynamodbav:"lease_key"`
	OwnerID      string `dynamodbav:"owner_id"`
	ExecutionID  int64  `dynamodbav:"execution_id,omitempty"`
	AcquiredAtMs int64  `dynamodbav:"acquired_at_ms"`
	ExpiresAtMs  int64  `dynamodbav:"expires_at_ms"`
	TTL          int64  `dynamodbav:"ttl"`
}

// Options configures a Manager.
type Options struct {
	TableName string

	// OwnerID identifies this process. A random UUID when empty.
	OwnerID string

	// TTL is the lease duration. Defaults to 15 minutes.
	TTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Manager acquires and releases table leases.
type Manager struct {
	api     API
	table   string
	ownerID string
	ttl     time.Duration
	now     func() time.Time

	mu   sync.Mutex
	held map[string]Lease
}

// NewManager creates a lease manager.
func NewManager(api API, opts Options) *Manager {
	m := &Manager{
		api:     api,
		table:   opts.TableName,
		ownerID: opts.OwnerID,
		ttl:     opts.TTL,
		now:     opts.Now,
		held:    make(map[string]Lease),
	}
	if m.ownerID == "" {
		m.ownerID = uuid.NewString()
	}
	if m.ttl <= 0 {
		m.ttl = 15 * time.Minute
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Key returns the lease key for a table.
func Key(database, table string) string {
	return database + "|" + table
}

// Acquire takes or renews the lease for key. When another owner holds a
// live lease it returns that lease and an error matching ErrLeaseHeld.
func (m *Manager) Acquire(ctx context.Context, key string, executionID int64) (Lease, error) {
	if key == "" {
		return Lease{}, ErrInvalidKey
	}

	now := m.now()
	l := Lease{
		Key:          key,
		OwnerID:      m.ownerID,
		ExecutionID:  executionID,
		AcquiredAtMs: now.UnixMilli(),
		ExpiresAtMs:  now.Add(m.ttl).UnixMilli(),
		TTL:          now.Add(m.ttl).Unix(),
	}
	item, err := attributevalue.MarshalMap(l)
	if err != nil {
		return Lease{}, fmt.Errorf("lease: marshal: %w", err)
	}

	_, err = m.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(m.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#key) OR #exp < :now OR #owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#key":   keyAttribute,
			"#exp":   "expires_at_ms",
			"#owner": "owner_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":owner": &types.AttributeValueMemberS{Value: m.ownerID},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			var holder Lease
			if len(ccf.Item) > 0 {
				if uerr := attributevalue.UnmarshalMap(ccf.Item, &holder); uerr != nil {
					return Lease{}, fmt.Errorf("lease: unmarshal holder: %w", uerr)
				}
			}
			return holder, fmt.Errorf("%w: %s by %s", ErrLeaseHeld, key, holder.OwnerID)
		}
		return Lease{}, fmt.Errorf("lease: acquire %s: %w", key, err)
	}

	m.mu.Lock()
	m.held[key] = l
	m.mu.Unlock()
	return l, nil
}

// Release deletes the lease if this manager owns it. Releasing a lease that
// expired and was taken over, or that does not exist, succeeds.
func (m *Manager) Release(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()

	_, err := m.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.table),
		Key: map[string]types.AttributeValue{
			keyAttribute: &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: m.ownerID},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("lease: release %s: %w", key, err)
	}
	return nil
}

// Held returns the keys this manager believes it holds, sorted.
func (m *Manager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.held))
}

// ReleaseAll releases every held lease. Used on shutdown.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	var errs []error
	for _, key := range m.Held() {
		if err := m.Release(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ API = (*dynamodb.Client)(nil)
