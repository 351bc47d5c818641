package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seedStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore()
	store.SeedVariant(domain.Variant{ID: 1, SKU: "SKU-1", ProductName: "Widget", Price: decimal.RequireFromString("10.00"), StockQuantity: 5})
	store.SeedVariant(domain.Variant{ID: 2, SKU: "SKU-2", ProductName: "Gadget", Price: decimal.RequireFromString("2.50"), StockQuantity: 0})
	return store
}

func testOrder(id, number string) domain.Order {
	price := decimal.RequireFromString("10.00")
	return domain.Order{
		ID:         id,
		Number:     number,
		Type:       domain.OrderTypeB2C,
		Status:     domain.OrderStatusPending,
		CustomerID: "customer-1",
		Currency:   "USD",
		Subtotal:   price,
		Total:      price,
		Items: []domain.OrderItem{
			{ID: id + "-1", VariantID: 1, Quantity: 1, UnitPrice: price, LineTotal: price},
		},
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestStore_SetStockVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	v, err := uow.Variants().GetForUpdate(ctx, 1)
	if err != nil {
		t.Fatalf("lock variant: %v", err)
	}
	if err := uow.Variants().SetStock(ctx, 1, v.StockQuantity-2); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	if committed, _ := store.Variant(1); committed.StockQuantity != 5 {
		t.Fatalf("uncommitted write leaked: stock %d", committed.StockQuantity)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	committed, _ := store.Variant(1)
	if committed.StockQuantity != 3 {
		t.Fatalf("expected stock 3 after commit, got %d", committed.StockQuantity)
	}
	if committed.Version != 1 {
		t.Fatalf("expected version bump, got %d", committed.Version)
	}
}

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	uow, _ := store.Begin(ctx)
	if _, err := uow.Variants().GetForUpdate(ctx, 1); err != nil {
		t.Fatalf("lock variant: %v", err)
	}
	if err := uow.Variants().SetStock(ctx, 1, 0); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if err := uow.Orders().Create(ctx, testOrder("o-1", "ORD-2026-000001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := uow.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if v, _ := store.Variant(1); v.StockQuantity != 5 {
		t.Fatalf("rollback must restore stock, got %d", v.StockQuantity)
	}
	if store.OrderCount() != 0 {
		t.Fatalf("rollback must discard orders, got %d", store.OrderCount())
	}
	if err := uow.Commit(ctx); !errors.Is(err, domain.ErrTxDone) {
		t.Fatalf("expected ErrTxDone after rollback, got %v", err)
	}
}

func TestStore_SetStockRequiresLock(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	uow, _ := store.Begin(ctx)
	defer func() { _ = uow.Rollback(ctx) }()

	if err := uow.Variants().SetStock(ctx, 1, 1); !errors.Is(err, domain.ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld, got %v", err)
	}
}

func TestStore_GetForUpdateBlocksUntilRelease(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	first, _ := store.Begin(ctx)
	if _, err := first.Variants().GetForUpdate(ctx, 1); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	acquired := make(chan int32, 1)
	go func() {
		second, _ := store.Begin(ctx)
		defer func() { _ = second.Rollback(ctx) }()
		v, err := second.Variants().GetForUpdate(ctx, 1)
		if err != nil {
			acquired <- -1
			return
		}
		acquired <- v.StockQuantity
	}()

	select {
	case <-acquired:
		t.Fatal("second transaction acquired a held row lock")
	case <-time.After(30 * time.Millisecond):
	}

	if err := first.Variants().SetStock(ctx, 1, 4); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	select {
	case stock := <-acquired:
		if stock != 4 {
			t.Fatalf("waiter must observe committed stock 4, got %d", stock)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released after commit")
	}
}

func TestStore_GetForUpdateHonoursContext(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	holder, _ := store.Begin(ctx)
	defer func() { _ = holder.Rollback(ctx) }()
	if _, err := holder.Variants().GetForUpdate(ctx, 1); err != nil {
		t.Fatalf("lock: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	waiter, _ := store.Begin(ctx)
	defer func() { _ = waiter.Rollback(ctx) }()

	if _, err := waiter.Variants().GetForUpdate(waitCtx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStore_VariantNotFound(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	uow, _ := store.Begin(ctx)
	defer func() { _ = uow.Rollback(ctx) }()

	if _, err := uow.Variants().GetForUpdate(ctx, 42); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
	prices, err := uow.Variants().GetPrices(ctx, []int64{1, 42})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if _, ok := prices[42]; ok {
		t.Fatal("unknown variant must be absent from price map")
	}
	if !prices[1].Price.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unexpected price %s", prices[1].Price)
	}
}

func TestStore_OrderNumberConflictOnCommit(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	first, _ := store.Begin(ctx)
	second, _ := store.Begin(ctx)

	if err := first.Orders().Create(ctx, testOrder("o-1", "ORD-2026-000001")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := second.Orders().Create(ctx, testOrder("o-2", "ORD-2026-000001")); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := second.Commit(ctx); !domain.IsOrderNumberConflict(err) {
		t.Fatalf("expected number conflict, got %v", err)
	}
	if store.OrderCount() != 1 {
		t.Fatalf("expected exactly one order, got %d", store.OrderCount())
	}

	third, _ := store.Begin(ctx)
	defer func() { _ = third.Rollback(ctx) }()
	if err := third.Orders().Create(ctx, testOrder("o-3", "ORD-2026-000001")); !domain.IsOrderNumberConflict(err) {
		t.Fatalf("expected early number conflict, got %v", err)
	}
}

func TestStore_CountForYearIncludesOwnStagedOrders(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	uow, _ := store.Begin(ctx)
	defer func() { _ = uow.Rollback(ctx) }()

	if err := uow.Orders().Create(ctx, testOrder("o-1", "ORD-2026-000001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	count, err := uow.Orders().CountForYear(ctx, 2026)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	if count, _ := uow.Orders().CountForYear(ctx, 2025); count != 0 {
		t.Fatalf("expected 0 for other year, got %d", count)
	}
}

func TestStore_StatusUpdateHistoryAndOutbox(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	create, _ := store.Begin(ctx)
	if err := create.Orders().Create(ctx, testOrder("o-1", "ORD-2026-000001")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := create.Outbox().Enqueue(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "o-1", EventType: domain.EventOrderCreated}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := create.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	uow, _ := store.Begin(ctx)
	if err := uow.Orders().UpdateStatus(ctx, "o-1", domain.OrderStatusProcessing, time.Now().UTC()); !errors.Is(err, domain.ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld, got %v", err)
	}
	if _, err := uow.Orders().GetForUpdate(ctx, "o-1"); err != nil {
		t.Fatalf("lock order: %v", err)
	}
	if err := uow.Orders().UpdateStatus(ctx, "o-1", domain.OrderStatusProcessing, time.Now().UTC()); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := uow.History().Append(ctx, domain.StatusHistoryEntry{OrderID: "o-1", From: domain.OrderStatusPending, To: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("append history: %v", err)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	orders := store.Orders()
	if len(orders) != 1 || orders[0].Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected orders %+v", orders)
	}
	if orders[0].Version != 1 {
		t.Fatalf("expected version 1, got %d", orders[0].Version)
	}

	read, _ := store.Begin(ctx)
	defer func() { _ = read.Rollback(ctx) }()
	history, err := read.History().List(ctx, "o-1")
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 || history[0].ID == "" {
		t.Fatalf("unexpected history %+v", history)
	}

	outbox := NewOutboxRepository(store)
	pending := outbox.AllPending()
	if len(pending) != 1 || pending[0].EventType != domain.EventOrderCreated {
		t.Fatalf("unexpected pending outbox %+v", pending)
	}
	stats, err := outbox.Stats(ctx)
	if err != nil || stats.PendingCount != 1 {
		t.Fatalf("unexpected stats %+v (%v)", stats, err)
	}
	if err := outbox.MarkSent(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if len(outbox.AllPending()) != 0 {
		t.Fatal("sent message must leave pending set")
	}
	if err := outbox.MarkFailed(ctx, "missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
}

func TestStore_GetOrderNotFound(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	uow, _ := store.Begin(ctx)
	defer func() { _ = uow.Rollback(ctx) }()

	if _, err := uow.Orders().Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestStore_SetPrice(t *testing.T) {
	store := seedStore(t)

	if err := store.SetPrice(1, decimal.RequireFromString("11.00")); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if v, _ := store.Variant(1); !v.Price.Equal(decimal.RequireFromString("11")) {
		t.Fatalf("price not updated: %s", v.Price)
	}
	if err := store.SetPrice(99, decimal.Zero); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
}

func TestStore_CommitKeepsPriceChangedUnderLock(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	uow, _ := store.Begin(ctx)
	v, err := uow.Variants().GetForUpdate(ctx, 1)
	if err != nil {
		t.Fatalf("lock variant: %v", err)
	}
	if err := uow.Variants().SetStock(ctx, 1, v.StockQuantity-1); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if err := store.SetPrice(1, decimal.RequireFromString("25.00")); err != nil {
		t.Fatalf("set price: %v", err)
	}

	prices, err := uow.Variants().GetPrices(ctx, []int64{1})
	if err != nil {
		t.Fatalf("get prices: %v", err)
	}
	if prices[1].StockQuantity != 4 || !prices[1].Price.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("expected own stock 4 with committed price 25, got %d / %s", prices[1].StockQuantity, prices[1].Price)
	}
	if err := uow.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	committed, _ := store.Variant(1)
	if !committed.Price.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("commit reverted concurrent price change: %s", committed.Price)
	}
	if committed.StockQuantity != 4 {
		t.Fatalf("expected stock 4, got %d", committed.StockQuantity)
	}
	if committed.Version != 2 {
		t.Fatalf("expected version 2 after price change and commit, got %d", committed.Version)
	}
}

func TestStore_CrossOrderLocksTimeOut(t *testing.T) {
	ctx := context.Background()
	store := NewStore(WithLockTimeout(50 * time.Millisecond))
	store.SeedVariant(domain.Variant{ID: 1, SKU: "SKU-1", Price: decimal.RequireFromString("1.00"), StockQuantity: 5})
	store.SeedVariant(domain.Variant{ID: 2, SKU: "SKU-2", Price: decimal.RequireFromString("1.00"), StockQuantity: 5})

	first, _ := store.Begin(ctx)
	second, _ := store.Begin(ctx)
	if _, err := first.Variants().GetForUpdate(ctx, 1); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := second.Variants().GetForUpdate(ctx, 2); err != nil {
		t.Fatalf("second lock: %v", err)
	}

	results := make(chan error, 2)
	cross := func(uow domain.UnitOfWork, id int64) {
		if _, err := uow.Variants().GetForUpdate(ctx, id); err != nil {
			_ = uow.Rollback(ctx)
			results <- err
			return
		}
		results <- uow.Commit(ctx)
	}
	go cross(first, 2)
	go cross(second, 1)

	timeouts := 0
	for range 2 {
		select {
		case err := <-results:
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrLockTimeout):
				timeouts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("cross-ordered transactions are still waiting")
		}
	}
	if timeouts == 0 {
		t.Fatal("expected at least one lock wait to time out")
	}

	after, _ := store.Begin(ctx)
	defer func() { _ = after.Rollback(ctx) }()
	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for _, id := range []int64{1, 2} {
		if _, err := after.Variants().GetForUpdate(lockCtx, id); err != nil {
			t.Fatalf("row %d stayed locked: %v", id, err)
		}
	}
}
