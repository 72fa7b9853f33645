// Package catalog reads product records from DynamoDB. Checkout prices every
// order from these records, never from prices the client sends.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// ErrProductNotFound is returned when a referenced product no longer exists.
var ErrProductNotFound = errors.New("product not found")

// Product is the item stored in the products table.
type Product struct {
	ProductID   string       `dynamodbav:"product_id" json:"_id"` // PK
	Name        string       `dynamodbav:"name" json:"name"`
	Description []string     `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Category    string       `dynamodbav:"category,omitempty" json:"category,omitempty"`
	Price       money.Amount `dynamodbav:"price" json:"price"`
	OfferPrice  money.Amount `dynamodbav:"offer_price" json:"offerPrice"`
	Images      []string     `dynamodbav:"images,omitempty" json:"image,omitempty"`
	InStock     bool         `dynamodbav:"in_stock" json:"inStock"`
	CreatedAt   time.Time    `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt   time.Time    `dynamodbav:"updated_at" json:"updatedAt"`
}

// Store encapsulates product lookups against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new catalog Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get fetches a product with a strongly consistent read so price edits made by
// the seller are seen by the very next checkout.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: productID}},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Put writes a product record. Seller-side management lives outside this
// service; the api binary calls Put to seed a local catalog.
func (s *Store) Put(ctx context.Context, p Product) error {
	now := s.nowFunc()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
