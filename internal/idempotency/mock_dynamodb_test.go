package idempotency

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
)

// simpleMock is a small in-memory mock for GetItem/UpdateItem used in unit tests.
// Records are seeded directly into table.
type simpleMock struct {
	aws.DynamoDBAPI
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	getCalls    int
	updateCalls int
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	keyAttr, ok := params.Key["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing key")
	}
	item, ok := m.table[keyAttr.Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	keyAttr, ok := params.Key["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing key")
	}
	item, ok := m.table[keyAttr.Value]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	// condition: #s = :inprogress
	if st, _ := item["status"].(*types.AttributeValueMemberS); st == nil ||
		st.Value != params.ExpressionAttributeValues[":inprogress"].(*types.AttributeValueMemberS).Value {
		return nil, &types.ConditionalCheckFailedException{}
	}
	updated := make(map[string]types.AttributeValue, len(item)+4)
	for k, v := range item {
		updated[k] = v
	}
	for placeholder, attr := range map[string]string{
		":rb": "response_body", ":rs": "response_status", ":ua": "updated_at",
		":done": "status", ":failed": "status", ":n": "note",
	} {
		if v, ok := params.ExpressionAttributeValues[placeholder]; ok {
			updated[attr] = v
		}
	}
	m.table[keyAttr.Value] = updated
	return &dyn.UpdateItemOutput{}, nil
}
