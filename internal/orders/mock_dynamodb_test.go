package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory table set that understands the handful of
// expressions the store issues. Every call holds the mutex for its whole
// duration, which gives conditional writes the same atomicity DynamoDB does.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
	// failNext makes the next call of any kind return this error.
	failNext error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func (m *mockDynamo) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func pkOf(item map[string]types.AttributeValue) (string, error) {
	for _, attr := range []string{"order_id", "idempotency_key"} {
		if v, ok := item[attr].(*types.AttributeValueMemberS); ok {
			return v.Value, nil
		}
	}
	return "", errors.New("no primary key")
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func boolAttr(item map[string]types.AttributeValue, name string) (bool, bool) {
	v, ok := item[name].(*types.AttributeValueMemberBOOL)
	if !ok {
		return false, false
	}
	return v.Value, true
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	tbl := m.table(*in.TableName)
	pk, err := pkOf(in.Item)
	if err != nil {
		return nil, err
	}
	if in.ConditionExpression != nil {
		if _, exists := tbl[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	tbl[pk] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	pk, err := pkOf(in.Key)
	if err != nil {
		return nil, err
	}
	return &dyn.GetItemOutput{Item: clone(m.table(*in.TableName)[pk])}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	tbl := m.table(*in.TableName)
	pk, err := pkOf(in.Key)
	if err != nil {
		return nil, err
	}
	item, exists := tbl[pk]
	vals := in.ExpressionAttributeValues

	failed := func() error {
		ccf := &types.ConditionalCheckFailedException{}
		if exists && in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
			ccf.Item = clone(item)
		}
		return ccf
	}

	switch *in.UpdateExpression {
	case updateMarkPaid:
		if *in.ConditionExpression != condMarkPaid {
			return nil, fmt.Errorf("unexpected condition %q", *in.ConditionExpression)
		}
		paid, _ := boolAttr(item, "is_paid")
		if !exists || paid || strAttr(item, "payment_type") != vals[":online"].(*types.AttributeValueMemberS).Value {
			return nil, failed()
		}
		item = clone(item)
		item["is_paid"] = vals[":true"]
		item["payment_id"] = vals[":pid"]
		item["paid_at"] = vals[":now"]
		item["updated_at"] = vals[":now"]
	case updateStatus:
		if !exists || strAttr(item, "status") != vals[":expected"].(*types.AttributeValueMemberS).Value {
			return nil, failed()
		}
		item = clone(item)
		item["status"] = vals[":new"]
		item["updated_at"] = vals[":ua"]
	default:
		return nil, fmt.Errorf("unsupported update expression %q", *in.UpdateExpression)
	}

	tbl[pk] = item
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = clone(item)
	}
	return out, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if in.IndexName == nil || *in.IndexName != UserIndex {
		return nil, errors.New("unsupported index")
	}
	uid := in.ExpressionAttributeValues[":uid"].(*types.AttributeValueMemberS).Value
	out := &dyn.QueryOutput{}
	for _, item := range m.table(*in.TableName) {
		if strAttr(item, "user_id") == uid {
			out.Items = append(out.Items, clone(item))
		}
	}
	return out, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	out := &dyn.ScanOutput{}
	for _, item := range m.table(*in.TableName) {
		if in.FilterExpression != nil && *in.FilterExpression == filterOrdersOnly {
			if _, ok := item["user_id"]; !ok {
				continue
			}
		}
		out.Items = append(out.Items, clone(item))
	}
	return out, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	// First pass: every condition must hold. Like DynamoDB, a cancellation
	// carries one reason per item, "None" for the items that passed.
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false
	for i, it := range in.TransactItems {
		ok, err := m.transactConditionHolds(it)
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			cancelled = true
		}
		reasons[i] = types.CancellationReason{Code: &code}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	// Second pass: apply.
	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			pk, _ := pkOf(it.Put.Item)
			m.table(*it.Put.TableName)[pk] = clone(it.Put.Item)
		case it.Update != nil:
			tbl := m.table(*it.Update.TableName)
			pk, _ := pkOf(it.Update.Key)
			item := clone(tbl[pk])
			item["provider_order_ref"] = it.Update.ExpressionAttributeValues[":ref"]
			item["updated_at"] = it.Update.ExpressionAttributeValues[":ua"]
			tbl[pk] = item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) transactConditionHolds(it types.TransactWriteItem) (bool, error) {
	switch {
	case it.Put != nil:
		pk, err := pkOf(it.Put.Item)
		if err != nil {
			return false, err
		}
		existing, exists := m.table(*it.Put.TableName)[pk]
		if !exists || it.Put.ConditionExpression == nil {
			return true, nil
		}
		switch *it.Put.ConditionExpression {
		case condOrderNotExists:
			return false, nil
		case condClaimFree:
			exp, ok := existing["expires_at"].(*types.AttributeValueMemberN)
			if !ok {
				return false, nil
			}
			expiresAt, err := strconv.ParseInt(exp.Value, 10, 64)
			if err != nil {
				return false, err
			}
			now, err := strconv.ParseInt(it.Put.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
			if err != nil {
				return false, err
			}
			return expiresAt < now, nil
		default:
			return false, fmt.Errorf("unexpected condition %q", *it.Put.ConditionExpression)
		}
	case it.Update != nil:
		if *it.Update.ConditionExpression != condRefUnset {
			return false, fmt.Errorf("unexpected condition %q", *it.Update.ConditionExpression)
		}
		pk, err := pkOf(it.Update.Key)
		if err != nil {
			return false, err
		}
		item, exists := m.table(*it.Update.TableName)[pk]
		_, has := item["provider_order_ref"]
		return exists && !has, nil
	}
	return false, errors.New("unsupported transact item")
}
