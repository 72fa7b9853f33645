package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// ErrNotInProgress is returned when finishing a record that is not IN_PROGRESS.
var ErrNotInProgress = errors.New("idempotency record is not in progress")

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// ScopedKey namespaces a client supplied key by user so one user can never
// replay another user's stored checkout response.
func ScopedKey(userID, key string) string {
	return userID + "#" + key
}

// NewClaim builds the IN_PROGRESS record that the orders store writes in the
// same transaction as the order it guards.
func (s *Store) NewClaim(key, orderID string) orders.IdempotencyClaim {
	now := s.nowFunc().UTC()
	return orders.IdempotencyClaim{
		Table: s.tableName,
		Item: IdempotencyRecord{
			IdempotencyKey: key,
			Status:         StatusInProgress,
			OrderID:        orderID,
			CreatedAt:      now,
			UpdatedAt:      now,
			ExpiresAt:      now.Add(s.ttlWindow).Unix(),
		},
	}
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(key),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if rec.ExpiresAt > 0 && s.nowFunc().Unix() > rec.ExpiresAt {
		// DynamoDB TTL deletes lazily; treat expired records as absent.
		return nil, nil
	}
	return &rec, nil
}

// MarkDone moves IN_PROGRESS -> DONE and stores the response to replay.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	return s.finish(ctx, key, "SET #s = :done, response_body = :rb, response_status = :rs, updated_at = :ua",
		map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":rb":   &types.AttributeValueMemberS{Value: responseBody},
			":rs":   &types.AttributeValueMemberN{Value: strconv.Itoa(responseStatus)},
		})
}

// MarkFailed moves IN_PROGRESS -> FAILED with a note; the client may retry
// with a fresh key.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.finish(ctx, key, "SET #s = :failed, note = :n, updated_at = :ua",
		map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
		})
}

func (s *Store) finish(ctx context.Context, key, expr string, values map[string]types.AttributeValue) error {
	values[":ua"] = &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)}
	values[":inprogress"] = &types.AttributeValueMemberS{Value: StatusInProgress}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       recordKey(key),
		UpdateExpression:          awsString(expr),
		ConditionExpression:       awsString("#s = :inprogress"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		// detect conditional check failure
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return fmt.Errorf("%w: %s", ErrNotInProgress, key)
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"idempotency_key": &types.AttributeValueMemberS{Value: key}}
}

// Helper
func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
