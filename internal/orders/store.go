package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

// Secondary index and pointer-item layout of the orders table.
const (
	UserIndex = "user_id-index"

	// providerRefPrefix keys the pointer item that maps a provider order ref
	// to its order. It is written in the same transaction as the ref itself so
	// reconciliation can resolve the ref with a consistent read instead of an
	// eventually consistent index query.
	providerRefPrefix = "provider_ref#"
)

// Expressions used by the store. The test mock evaluates these by name.
const (
	condOrderNotExists = "attribute_not_exists(order_id)"
	condClaimFree      = "attribute_not_exists(idempotency_key) OR expires_at < :now"
	condRefUnset       = "attribute_exists(order_id) AND attribute_not_exists(provider_order_ref)"
	condMarkPaid       = "attribute_exists(order_id) AND is_paid = :false AND payment_type = :online"
	condStatus         = "#s = :expected"
	updateMarkPaid     = "SET is_paid = :true, payment_id = :pid, paid_at = :now, updated_at = :now"
	updateRef          = "SET provider_order_ref = :ref, updated_at = :ua"
	updateStatus       = "SET #s = :new, updated_at = :ua"
	filterOrdersOnly   = "attribute_exists(user_id)"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	newID     func() string
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// prepare assigns id and timestamps, forces the initial lifecycle state and
// checks the pricing invariants.
func (s *Store) prepare(order Order) (Order, error) {
	if order.OrderID == "" {
		order.OrderID = s.newID()
	}
	now := s.nowFunc().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = StatusPlaced
	}
	order.IsPaid = false
	order.PaymentID = ""
	order.PaidAt = nil
	order.ProviderOrderRef = ""

	if err := validate(order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func validate(o Order) error {
	switch {
	case o.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrValidation)
	case len(o.Items) == 0:
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	case o.Address.IsZero():
		return fmt.Errorf("%w: address is required", ErrValidation)
	case !o.PaymentType.Valid():
		return fmt.Errorf("%w: unknown payment type %q", ErrValidation, o.PaymentType)
	}
	for i, it := range o.Items {
		if it.ProductID == "" || it.Quantity < 1 {
			return fmt.Errorf("%w: item %d needs a product and a quantity >= 1", ErrValidation, i)
		}
	}
	if !o.Amount.Equal(o.Subtotal.Add(o.Tax.Decimal)) {
		return fmt.Errorf("%w: amount %s != subtotal %s + tax %s", ErrValidation, o.Amount, o.Subtotal, o.Tax)
	}
	if o.PaymentType == PaymentCashOnDelivery && !o.Tax.IsZero() {
		return fmt.Errorf("%w: cash on delivery orders carry no tax", ErrValidation)
	}
	return nil
}

// Create persists a new order and returns the stored record.
func (s *Store) Create(ctx context.Context, order Order) (*Order, error) {
	order, err := s.prepare(order)
	if err != nil {
		return nil, err
	}
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condOrderNotExists),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: put order: %w", ErrPersistence, err)
	}
	return &order, nil
}

// CreateWithIdempotencyTransaction atomically creates:
//   - the idempotency claim, unless a live claim with the same key exists
//   - the order record in the orders table
//
// A claim whose expires_at has passed is overwritten; TTL deletion lags, so
// the item can outlive its window. Returns ErrDuplicateRequest only when the
// claim itself was rejected.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, order Order, claim IdempotencyClaim) (*Order, error) {
	order, err := s.prepare(order)
	if err != nil {
		return nil, err
	}
	claimMap, err := attributevalue.MarshalMap(claim.Item)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency item: %w", err)
	}
	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &claim.Table,
					Item:                claimMap,
					ConditionExpression: awsString(condClaimFree),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.nowFunc().Unix(), 10)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString(condOrderNotExists),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && claimRejected(tce) {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateRequest, err)
		}
		return nil, fmt.Errorf("%w: transact write: %w", ErrPersistence, err)
	}
	return &order, nil
}

// claimRejected reports whether the cancellation came from the claim Put,
// which is always the first item of the transaction.
func claimRejected(tce *types.TransactionCanceledException) bool {
	if len(tce.CancellationReasons) == 0 {
		return false
	}
	code := tce.CancellationReasons[0].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

// FindByID fetches an order by order_id.
func (s *Store) FindByID(ctx context.Context, orderID string) (*Order, error) {
	item, err := s.getItem(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(item) == 0 || isPointer(item) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return unmarshalOrder(item)
}

// FindByProviderOrderRef resolves the payment provider's order ref to the
// order it was registered for. This is the only lookup reconciliation uses.
func (s *Store) FindByProviderOrderRef(ctx context.Context, ref string) (*Order, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty provider order ref", ErrOrderNotFound)
	}
	ptr, err := s.getItem(ctx, providerRefPrefix+ref)
	if err != nil {
		return nil, err
	}
	target, ok := ptr["ref_target"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: provider order ref %s", ErrOrderNotFound, ref)
	}
	return s.FindByID(ctx, target.Value)
}

// FindByUser returns a user's orders, newest first.
func (s *Store) FindByUser(ctx context.Context, userID string) ([]Order, error) {
	var (
		out  []Order
		last map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &s.tableName,
			IndexName:                 awsString(UserIndex),
			KeyConditionExpression:    awsString("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":uid": &types.AttributeValueMemberS{Value: userID}},
			ScanIndexForward:          boolPtr(false),
			ExclusiveStartKey:         last,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: query orders by user: %w", ErrPersistence, err)
		}
		page, err := unmarshalOrders(res.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		last = res.LastEvaluatedKey
	}
	sortNewestFirst(out)
	return out, nil
}

// ListAll returns every order, newest first. Used by the seller dashboard.
func (s *Store) ListAll(ctx context.Context) ([]Order, error) {
	var (
		out  []Order
		last map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			FilterExpression:  awsString(filterOrdersOnly),
			ExclusiveStartKey: last,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scan orders: %w", ErrPersistence, err)
		}
		page, err := unmarshalOrders(res.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		last = res.LastEvaluatedKey
	}
	sortNewestFirst(out)
	return out, nil
}

// SetProviderOrderRef records the provider's order ref on an order. The ref is
// write-once: a second call fails with ErrProviderRefConflict.
func (s *Store) SetProviderOrderRef(ctx context.Context, orderID, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: empty provider order ref", ErrValidation)
	}
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           &s.tableName,
					Key:                 orderKey(orderID),
					UpdateExpression:    awsString(updateRef),
					ConditionExpression: awsString(condRefUnset),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":ref": &types.AttributeValueMemberS{Value: ref},
						":ua":  &types.AttributeValueMemberS{Value: now},
					},
				},
			},
			{
				Put: &types.Put{
					TableName: &s.tableName,
					Item: map[string]types.AttributeValue{
						"order_id":   &types.AttributeValueMemberS{Value: providerRefPrefix + ref},
						"ref_target": &types.AttributeValueMemberS{Value: orderID},
						"created_at": &types.AttributeValueMemberS{Value: now},
					},
					ConditionExpression: awsString(condOrderNotExists),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: order %s: %w", ErrProviderRefConflict, orderID, err)
		}
		return fmt.Errorf("%w: set provider order ref: %w", ErrPersistence, err)
	}
	return nil
}

// MarkPaid is the compare-and-set that settles an online order as paid. The
// single conditional UpdateItem only applies while is_paid is false, so racing
// confirmations cannot both win.
//
// applied is true only for the call that performed the transition. A repeat
// with the same paymentID returns the stored order with applied=false. A
// different paymentID on a paid order returns ErrPaymentConflict together with
// the stored order.
func (s *Store) MarkPaid(ctx context.Context, orderID, paymentID string) (order *Order, applied bool, err error) {
	if paymentID == "" {
		return nil, false, fmt.Errorf("%w: payment id is required", ErrValidation)
	}
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 orderKey(orderID),
		UpdateExpression:    awsString(updateMarkPaid),
		ConditionExpression: awsString(condMarkPaid),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":   &types.AttributeValueMemberBOOL{Value: true},
			":false":  &types.AttributeValueMemberBOOL{Value: false},
			":online": &types.AttributeValueMemberS{Value: string(PaymentOnline)},
			":pid":    &types.AttributeValueMemberS{Value: paymentID},
			":now":    &types.AttributeValueMemberS{Value: now},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		o, err := unmarshalOrder(out.Attributes)
		if err != nil {
			return nil, false, err
		}
		return o, true, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return nil, false, fmt.Errorf("%w: mark paid: %w", ErrPersistence, err)
	}

	// The condition failed; work out why from the item as it stood.
	current := ccf.Item
	if len(current) == 0 {
		if current, err = s.getItem(ctx, orderID); err != nil {
			return nil, false, err
		}
	}
	if len(current) == 0 || isPointer(current) {
		return nil, false, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	existing, err := unmarshalOrder(current)
	if err != nil {
		return nil, false, err
	}
	switch {
	case existing.PaymentType != PaymentOnline:
		return existing, false, fmt.Errorf("%w: %s", ErrNotPayable, orderID)
	case existing.IsPaid && existing.PaymentID == paymentID:
		return existing, false, nil
	case existing.IsPaid:
		return existing, false, fmt.Errorf("%w: order %s has %s, got %s", ErrPaymentConflict, orderID, existing.PaymentID, paymentID)
	default:
		return nil, false, fmt.Errorf("%w: mark paid condition failed on unpaid order %s", ErrPersistence, orderID)
	}
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString(updateStatus),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString(condStatus),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("%w: update status: %w", ErrPersistence, err)
	}
	return nil
}

func (s *Store) getItem(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(id),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get item: %w", ErrPersistence, err)
	}
	return out.Item, nil
}

func unmarshalOrder(item map[string]types.AttributeValue) (*Order, error) {
	var o Order
	if err := attributevalue.UnmarshalMap(item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func unmarshalOrders(items []map[string]types.AttributeValue) ([]Order, error) {
	out := make([]Order, 0, len(items))
	for _, it := range items {
		if isPointer(it) {
			continue
		}
		o, err := unmarshalOrder(it)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

func sortNewestFirst(list []Order) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}

func isPointer(item map[string]types.AttributeValue) bool {
	_, ok := item["ref_target"]
	return ok
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: id}}
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
