package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

const ordersTable = "orders"

func newTestStore(mock *mockDynamo) *Store {
	s := NewStore(mock, ordersTable)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("order-%d", n)
	}
	return s
}

func onlineOrder(user string) Order {
	return Order{
		UserID:      user,
		Items:       []LineItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
		Subtotal:    money.MustParse("25.00"),
		Tax:         money.MustParse("0.53"),
		Amount:      money.MustParse("25.53"),
		Address:     Address{Street: "1 MG Road", City: "Bengaluru", Country: "IN"},
		PaymentType: PaymentOnline,
	}
}

func codOrder(user string) Order {
	o := onlineOrder(user)
	o.PaymentType = PaymentCashOnDelivery
	o.Tax = money.Zero
	o.Amount = money.MustParse("25.00")
	return o
}

// createOnline stores an online order with provider ref "rzp_<id>".
func createOnline(t *testing.T, s *Store) *Order {
	t.Helper()
	o, err := s.Create(context.Background(), onlineOrder("u1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetProviderOrderRef(context.Background(), o.OrderID, "rzp_"+o.OrderID); err != nil {
		t.Fatalf("set ref: %v", err)
	}
	return o
}

func TestCreate_Success(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)

	in := onlineOrder("u1")
	in.IsPaid = true // callers cannot pre-pay an order
	in.PaymentID = "pay_forged"

	got, err := s.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got.OrderID != "order-1" || got.Status != StatusPlaced || got.IsPaid || got.PaymentID != "" {
		t.Fatalf("unexpected initial state: %+v", got)
	}

	var stored Order
	if err := attributevalue.UnmarshalMap(mock.tables[ordersTable]["order-1"], &stored); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if stored.Amount.String() != "25.53" || stored.PaymentType != PaymentOnline {
		t.Fatalf("stored order mismatch: %+v", stored)
	}
}

func TestCreate_Validation(t *testing.T) {
	s := newTestStore(newMockDynamo())

	cases := map[string]func(o *Order){
		"missing user":    func(o *Order) { o.UserID = "" },
		"missing items":   func(o *Order) { o.Items = nil },
		"missing address": func(o *Order) { o.Address = Address{} },
		"bad quantity":    func(o *Order) { o.Items[0].Quantity = 0 },
		"bad type":        func(o *Order) { o.PaymentType = "Crypto" },
		"amount mismatch": func(o *Order) { o.Amount = money.MustParse("30") },
		"taxed cod": func(o *Order) {
			o.PaymentType = PaymentCashOnDelivery
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := onlineOrder("u1")
			mutate(&o)
			if _, err := s.Create(context.Background(), o); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreate_PersistenceFailure(t *testing.T) {
	mock := newMockDynamo()
	mock.failNext = errors.New("provisioned throughput exceeded")
	s := newTestStore(mock)

	if _, err := s.Create(context.Background(), codOrder("u1")); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestCreateWithIdempotencyTransaction(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)
	claim := IdempotencyClaim{
		Table: "idempotency",
		Item: map[string]interface{}{
			"idempotency_key": "key-1",
			"status":          "IN_PROGRESS",
		},
	}

	got, err := s.CreateWithIdempotencyTransaction(context.Background(), codOrder("u1"), claim)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if _, ok := mock.tables["idempotency"]["key-1"]; !ok {
		t.Fatalf("idempotency item not stored")
	}
	if _, ok := mock.tables[ordersTable][got.OrderID]; !ok {
		t.Fatalf("order item not stored")
	}

	_, err = s.CreateWithIdempotencyTransaction(context.Background(), codOrder("u1"), claim)
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	if len(mock.tables[ordersTable]) != 1 {
		t.Fatalf("duplicate request must not create a second order")
	}
}

func TestCreateWithIdempotencyTransaction_ExpiredClaimIsReplaced(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }

	claim := func(expires time.Time) IdempotencyClaim {
		return IdempotencyClaim{
			Table: "idempotency",
			Item: map[string]interface{}{
				"idempotency_key": "key-1",
				"status":          "DONE",
				"expires_at":      expires.Unix(),
			},
		}
	}

	first, err := s.CreateWithIdempotencyTransaction(context.Background(), codOrder("u1"), claim(now.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The seeded claim expired a minute ago but TTL has not swept it yet.
	second, err := s.CreateWithIdempotencyTransaction(context.Background(), codOrder("u1"), claim(now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("expected expired claim to be replaced, got %v", err)
	}
	if second.OrderID == first.OrderID {
		t.Fatalf("expected a new order")
	}
	got := mock.tables["idempotency"]["key-1"]["expires_at"].(*types.AttributeValueMemberN).Value
	if want := fmt.Sprint(now.Add(time.Hour).Unix()); got != want {
		t.Fatalf("claim not replaced: expires_at=%s want %s", got, want)
	}

	// the replacement is live, so the key is taken again
	_, err = s.CreateWithIdempotencyTransaction(context.Background(), codOrder("u1"), claim(now.Add(time.Hour)))
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestCreateWithIdempotencyTransaction_OrderCollisionIsNotDuplicate(t *testing.T) {
	mock := newMockDynamo()
	s := NewStore(mock, ordersTable)
	s.newID = func() string { return "fixed" }

	claim := func(key string) IdempotencyClaim {
		return IdempotencyClaim{Table: "idempotency", Item: map[string]interface{}{"idempotency_key": key}}
	}
	if _, err := s.CreateWithIdempotencyTransaction(context.Background(), codOrder("u1"), claim("key-1")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := s.CreateWithIdempotencyTransaction(context.Background(), codOrder("u1"), claim("key-2"))
	if errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("order put cancellation must not read as a duplicate key: %v", err)
	}
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, ok := mock.tables["idempotency"]["key-2"]; ok {
		t.Fatalf("cancelled transaction must not store the claim")
	}
}

func TestProviderOrderRef_SetOnceAndLookup(t *testing.T) {
	s := newTestStore(newMockDynamo())
	ctx := context.Background()
	o := createOnline(t, s)

	found, err := s.FindByProviderOrderRef(ctx, "rzp_"+o.OrderID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found.OrderID != o.OrderID || found.ProviderOrderRef != "rzp_"+o.OrderID {
		t.Fatalf("unexpected order: %+v", found)
	}

	if err := s.SetProviderOrderRef(ctx, o.OrderID, "rzp_other"); !errors.Is(err, ErrProviderRefConflict) {
		t.Fatalf("expected ErrProviderRefConflict, got %v", err)
	}
	if _, err := s.FindByProviderOrderRef(ctx, "rzp_other"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("rejected ref must not resolve, got %v", err)
	}

	if err := s.SetProviderOrderRef(ctx, "missing", "rzp_x"); !errors.Is(err, ErrProviderRefConflict) {
		t.Fatalf("expected conflict for unknown order, got %v", err)
	}
}

func TestFindByProviderOrderRef_Unknown(t *testing.T) {
	s := newTestStore(newMockDynamo())
	if _, err := s.FindByProviderOrderRef(context.Background(), "rzp_unknown"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := s.FindByProviderOrderRef(context.Background(), ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for empty ref, got %v", err)
	}
}

func TestFindByID_PointerItemIsNotAnOrder(t *testing.T) {
	s := newTestStore(newMockDynamo())
	o := createOnline(t, s)
	if _, err := s.FindByID(context.Background(), providerRefPrefix+"rzp_"+o.OrderID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestMarkPaid_AppliesOnce(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)
	ctx := context.Background()
	o := createOnline(t, s)

	paid, applied, err := s.MarkPaid(ctx, o.OrderID, "pay_1")
	if err != nil || !applied {
		t.Fatalf("first MarkPaid: applied=%v err=%v", applied, err)
	}
	if !paid.IsPaid || paid.PaymentID != "pay_1" || paid.PaidAt == nil {
		t.Fatalf("unexpected paid order: %+v", paid)
	}
	if paid.Amount.String() != "25.53" {
		t.Fatalf("amount must not change, got %s", paid.Amount)
	}
	snapshot := clone(mock.tables[ordersTable][o.OrderID])

	// same payment id again: no-op
	s.nowFunc = func() time.Time { return time.Now().Add(time.Hour) }
	again, applied, err := s.MarkPaid(ctx, o.OrderID, "pay_1")
	if err != nil || applied {
		t.Fatalf("repeat MarkPaid: applied=%v err=%v", applied, err)
	}
	if again.PaymentID != "pay_1" || !again.PaidAt.Equal(*paid.PaidAt) {
		t.Fatalf("repeat must return the stored record, got %+v", again)
	}
	after := mock.tables[ordersTable][o.OrderID]
	if strAttr(after, "updated_at") != strAttr(snapshot, "updated_at") || strAttr(after, "paid_at") != strAttr(snapshot, "paid_at") {
		t.Fatalf("repeat MarkPaid must leave the item untouched")
	}
}

func TestMarkPaid_DifferentPaymentIDRejected(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)
	ctx := context.Background()
	o := createOnline(t, s)

	if _, _, err := s.MarkPaid(ctx, o.OrderID, "pay_1"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	existing, applied, err := s.MarkPaid(ctx, o.OrderID, "pay_2")
	if !errors.Is(err, ErrPaymentConflict) || applied {
		t.Fatalf("expected ErrPaymentConflict, got applied=%v err=%v", applied, err)
	}
	if existing == nil || existing.PaymentID != "pay_1" {
		t.Fatalf("conflict must report the stored payment, got %+v", existing)
	}
	if strAttr(mock.tables[ordersTable][o.OrderID], "payment_id") != "pay_1" {
		t.Fatalf("payment id overwritten")
	}
}

func TestMarkPaid_RaceHasSingleWinner(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)
	o := createOnline(t, s)

	const racers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		pid := fmt.Sprintf("pay_%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, applied, err := s.MarkPaid(context.Background(), o.OrderID, pid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case applied && err == nil:
				winners = append(winners, pid)
			case errors.Is(err, ErrPaymentConflict):
				losers++
			default:
				t.Errorf("unexpected result applied=%v err=%v", applied, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 || losers != racers-1 {
		t.Fatalf("expected exactly one winner, got winners=%v losers=%d", winners, losers)
	}
	stored, err := s.FindByID(context.Background(), o.OrderID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.PaymentID != winners[0] || !stored.IsPaid {
		t.Fatalf("stored payment %q does not match winner %q", stored.PaymentID, winners[0])
	}
}

func TestMarkPaid_CashOnDeliveryNeverPaid(t *testing.T) {
	s := newTestStore(newMockDynamo())
	o, err := s.Create(context.Background(), codOrder("u1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, applied, err := s.MarkPaid(context.Background(), o.OrderID, "pay_1"); !errors.Is(err, ErrNotPayable) || applied {
		t.Fatalf("expected ErrNotPayable, got applied=%v err=%v", applied, err)
	}
	stored, _ := s.FindByID(context.Background(), o.OrderID)
	if stored.IsPaid {
		t.Fatalf("cash on delivery order must stay unpaid")
	}
}

func TestMarkPaid_UnknownOrderAndFailures(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)
	ctx := context.Background()

	if _, _, err := s.MarkPaid(ctx, "missing", "pay_1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, _, err := s.MarkPaid(ctx, "missing", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	o := createOnline(t, s)
	mock.failNext = errors.New("service unavailable")
	if _, _, err := s.MarkPaid(ctx, o.OrderID, "pay_1"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	stored, _ := s.FindByID(ctx, o.OrderID)
	if stored.IsPaid {
		t.Fatalf("failed MarkPaid must not change state")
	}
}

func TestUpdateStatus_Condition_SuccessAndFail(t *testing.T) {
	s := newTestStore(newMockDynamo())
	o := createOnline(t, s)

	// success: Order Placed -> Processing
	if err := s.UpdateStatus(context.Background(), o.OrderID, StatusPlaced, StatusProcessing); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// failure: Order Placed -> Shipped (but current is Processing)
	err := s.UpdateStatus(context.Background(), o.OrderID, StatusPlaced, StatusShipped)
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
}

func TestFindByUserAndListAll(t *testing.T) {
	mock := newMockDynamo()
	s := newTestStore(mock)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, user := range []string{"u1", "u2", "u1"} {
		at := base.Add(time.Duration(i) * time.Minute)
		s.nowFunc = func() time.Time { return at }
		o, err := s.Create(ctx, codOrder(user))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if i == 0 {
			// the pointer item shares the table and must never surface as an order
			mock.tables[ordersTable][providerRefPrefix+"rzp"] = map[string]types.AttributeValue{
				"order_id":   &types.AttributeValueMemberS{Value: providerRefPrefix + "rzp"},
				"ref_target": &types.AttributeValueMemberS{Value: o.OrderID},
			}
		}
	}

	mine, err := s.FindByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("find by user: %v", err)
	}
	if len(mine) != 2 || mine[0].OrderID != "order-3" || mine[1].OrderID != "order-1" {
		t.Fatalf("unexpected user orders: %+v", mine)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].OrderID != "order-3" {
		t.Fatalf("unexpected order list: %+v", all)
	}
}
