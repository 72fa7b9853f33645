package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// memStore mirrors orders.Store semantics: MarkPaid is a compare-and-set
// performed under one lock.
type memStore struct {
	mu      sync.Mutex
	byID    map[string]orders.Order
	byRef   map[string]string
	failErr error
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]orders.Order{}, byRef: map[string]string{}}
}

func (m *memStore) add(o orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.OrderID] = o
	if o.ProviderOrderRef != "" {
		m.byRef[o.ProviderOrderRef] = o.OrderID
	}
}

func (m *memStore) get(id string) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *memStore) FindByProviderOrderRef(ctx context.Context, ref string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[ref]
	if !ok {
		return nil, fmt.Errorf("%w: provider order ref %s", orders.ErrOrderNotFound, ref)
	}
	o := m.byID[id]
	return &o, nil
}

func (m *memStore) MarkPaid(ctx context.Context, id, paymentID string) (*orders.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, false, m.failErr
	}
	o, ok := m.byID[id]
	switch {
	case !ok:
		return nil, false, orders.ErrOrderNotFound
	case o.PaymentType != orders.PaymentOnline:
		return &o, false, orders.ErrNotPayable
	case o.IsPaid && o.PaymentID == paymentID:
		return &o, false, nil
	case o.IsPaid:
		return &o, false, orders.ErrPaymentConflict
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o.IsPaid = true
	o.PaymentID = paymentID
	o.PaidAt = &now
	m.byID[id] = o
	return &o, true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	attrs  []map[string]string
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, body []byte, attributes map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies = append(p.bodies, body)
	p.attrs = append(p.attrs, attributes)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *recordingMetrics) Count(ctx context.Context, name string, dims map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[dims["Channel"]+"/"+dims["Outcome"]]++
	return nil
}

func (r *recordingMetrics) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func onlineOrder(id, ref string) orders.Order {
	return orders.Order{
		OrderID:          id,
		UserID:           "user-1",
		Items:            []orders.LineItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		Subtotal:         money.MustParse("25.00"),
		Tax:              money.MustParse("0.53"),
		Amount:           money.MustParse("25.53"),
		Status:           orders.StatusPlaced,
		PaymentType:      orders.PaymentOnline,
		ProviderOrderRef: ref,
	}
}
