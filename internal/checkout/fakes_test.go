package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payment"
)

type fakeCatalog map[string]catalog.Product

func (f fakeCatalog) Get(ctx context.Context, id string) (*catalog.Product, error) {
	p, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	return &p, nil
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"p1": {ProductID: "p1", Name: "Apples", Price: money.MustParse("12.00"), OfferPrice: money.MustParse("10.00"), InStock: true},
		"p2": {ProductID: "p2", Name: "Bread", Price: money.MustParse("6.00"), OfferPrice: money.MustParse("5.00"), InStock: true},
	}
}

// fakeOrders records writes in memory.
type fakeOrders struct {
	mu      sync.Mutex
	orders  map[string]orders.Order
	claims  map[string]orders.IdempotencyClaim
	refs    map[string]string
	failErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		orders: map[string]orders.Order{},
		claims: map[string]orders.IdempotencyClaim{},
		refs:   map[string]string{},
	}
}

func (f *fakeOrders) Create(ctx context.Context, o orders.Order) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.orders[o.OrderID] = o
	return &o, nil
}

func (f *fakeOrders) CreateWithIdempotencyTransaction(ctx context.Context, o orders.Order, claim orders.IdempotencyClaim) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	key := fmt.Sprint(claim.Item)
	if _, dup := f.claims[key]; dup {
		return nil, orders.ErrDuplicateRequest
	}
	f.claims[key] = claim
	f.orders[o.OrderID] = o
	return &o, nil
}

func (f *fakeOrders) SetProviderOrderRef(ctx context.Context, orderID, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.ProviderOrderRef != "" {
		return orders.ErrProviderRefConflict
	}
	o.ProviderOrderRef = ref
	f.orders[orderID] = o
	f.refs[ref] = orderID
	return nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

// fakeProvider hands out sequential intent ids.
type fakeProvider struct {
	mu    sync.Mutex
	calls []payment.IntentRequest
	err   error
}

func (p *fakeProvider) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	return &payment.Intent{
		ID:       fmt.Sprintf("order_rzp_%d", len(p.calls)),
		Amount:   req.AmountMinor,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}, nil
}

func (p *fakeProvider) KeyID() string { return "rzp_test_public" }

// keyClaims keys claims by the idempotency key only.
type keyClaims struct{}

func (keyClaims) NewClaim(key, orderID string) orders.IdempotencyClaim {
	return orders.IdempotencyClaim{Table: "idempotency", Item: key}
}
