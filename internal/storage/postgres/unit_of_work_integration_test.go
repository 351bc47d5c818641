package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

func seedVariantForIntegrationTest(t *testing.T, store *Store, id int64, price string, stock int32) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, store.UpsertVariant(ctx, domain.Variant{
		ID:            id,
		SKU:           fmt.Sprintf("SKU-%d", id),
		ProductName:   fmt.Sprintf("Variant %d", id),
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}))
}

func integrationOrder(number string, variantID int64, createdAt time.Time) domain.Order {
	price := decimal.RequireFromString("10.50")
	line := domain.LineTotal(2, price)
	return domain.Order{
		ID:                uuid.NewString(),
		Number:            number,
		Type:              domain.OrderTypeB2C,
		Status:            domain.OrderStatusPending,
		CustomerID:        "customer-1",
		Currency:          "USD",
		Subtotal:          line,
		Total:             line,
		ShippingAddressID: 1,
		BillingAddressID:  1,
		Items: []domain.OrderItem{{
			ID:          uuid.NewString(),
			VariantID:   variantID,
			ProductName: "Variant",
			Quantity:    2,
			UnitPrice:   price,
			LineTotal:   line,
			CreatedAt:   createdAt,
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestUnitOfWork_PostgresStockLockAndCommit(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedVariantForIntegrationTest(t, store, 1, "10.50", 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, uow.Variants().SetStock(ctx, 1, 4), domain.ErrLockNotHeld)

	v, err := uow.Variants().GetForUpdate(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int32(5), v.StockQuantity)
	require.True(t, v.Price.Equal(decimal.RequireFromString("10.50")))

	require.NoError(t, uow.Variants().SetStock(ctx, 1, 3))
	require.NoError(t, uow.Commit(ctx))
	require.ErrorIs(t, uow.Commit(ctx), domain.ErrTxDone)

	check, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = check.Rollback(ctx) }()

	prices, err := check.Variants().GetPrices(ctx, []int64{1, 99})
	require.NoError(t, err)
	require.Len(t, prices, 1)
	require.Equal(t, int32(3), prices[1].StockQuantity)

	_, err = check.Variants().GetForUpdate(ctx, 99)
	require.ErrorIs(t, err, domain.ErrVariantNotFound)
}

func TestUnitOfWork_PostgresRollbackDiscardsChanges(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedVariantForIntegrationTest(t, store, 1, "10.50", 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	order := integrationOrder("ORD-2026-000001", 1, now)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.Variants().GetForUpdate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, uow.Variants().SetStock(ctx, 1, 0))
	require.NoError(t, uow.Orders().Create(ctx, order))
	require.NoError(t, uow.Rollback(ctx))
	require.ErrorIs(t, uow.Rollback(ctx), domain.ErrTxDone)

	check, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = check.Rollback(ctx) }()

	_, err = check.Orders().Get(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	prices, err := check.Variants().GetPrices(ctx, []int64{1})
	require.NoError(t, err)
	require.Equal(t, int32(5), prices[1].StockQuantity)
}

func TestUnitOfWork_PostgresOrderLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedVariantForIntegrationTest(t, store, 1, "10.50", 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	order := integrationOrder("ORD-2026-000001", 1, now)

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Orders().Create(ctx, order))
	require.NoError(t, uow.History().Append(ctx, domain.StatusHistoryEntry{
		OrderID: order.ID,
		To:      domain.OrderStatusPending,
		Reason:  "order created",
		ActorID: order.CustomerID,
	}))
	msg, err := domain.NewOrderCreatedMessage(order)
	require.NoError(t, err)
	_, err = uow.Outbox().Enqueue(ctx, msg)
	require.NoError(t, err)

	count, err := uow.Orders().CountForYear(ctx, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.NoError(t, uow.Commit(ctx))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, tx.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusProcessing, now), domain.ErrLockNotHeld)

	locked, err := tx.Orders().GetForUpdate(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.Number, locked.Number)
	require.Len(t, locked.Items, 1)
	require.True(t, locked.Total.Equal(order.Total))

	require.NoError(t, tx.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusProcessing, now.Add(time.Minute)))
	require.NoError(t, tx.History().Append(ctx, domain.StatusHistoryEntry{
		OrderID: order.ID,
		From:    domain.OrderStatusPending,
		To:      domain.OrderStatusProcessing,
		Reason:  "picked",
	}))
	require.NoError(t, tx.Commit(ctx))

	read, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = read.Rollback(ctx) }()

	got, err := read.Orders().Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, got.Status)
	require.Equal(t, int64(1), got.Version)

	history, err := read.History().List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, domain.OrderStatusProcessing, history[1].To)

	outbox := NewOutboxRepository(store)
	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType)

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)

	require.NoError(t, outbox.MarkSent(ctx, pending[0].ID))
	pending, err = outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.ErrorIs(t, outbox.MarkFailed(ctx, uuid.NewString()), domain.ErrOutboxPublish)
}

func TestUnitOfWork_PostgresOrderNumberConflict(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedVariantForIntegrationTest(t, store, 1, "10.50", 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	first, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Orders().Create(ctx, integrationOrder("ORD-2026-000007", 1, now)))
	require.NoError(t, first.Commit(ctx))

	second, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = second.Rollback(ctx) }()

	err = second.Orders().Create(ctx, integrationOrder("ORD-2026-000007", 1, now))
	require.Error(t, err)
	require.True(t, domain.IsOrderNumberConflict(err), "unexpected error: %v", err)
}

func TestUnitOfWork_PostgresConcurrentDecrementsSerialize(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedVariantForIntegrationTest(t, store, 1, "1.00", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const workers = 15
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			uow, err := store.Begin(ctx)
			if err != nil {
				return
			}
			v, err := uow.Variants().GetForUpdate(ctx, 1)
			if err != nil || v.StockQuantity < 1 {
				_ = uow.Rollback(ctx)
				return
			}
			if err := uow.Variants().SetStock(ctx, 1, v.StockQuantity-1); err != nil {
				_ = uow.Rollback(ctx)
				return
			}
			if err := uow.Commit(ctx); err != nil {
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)

	check, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = check.Rollback(ctx) }()
	prices, err := check.Variants().GetPrices(ctx, []int64{1})
	require.NoError(t, err)
	require.Equal(t, int32(0), prices[1].StockQuantity)
}

func TestUnitOfWork_PostgresPriceReadThenLockDoesNotDeadlock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedVariantForIntegrationTest(t, store, 1, "1.00", 5)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		soldOut   int
		failures  []error
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			err := func() error {
				uow, err := store.Begin(ctx)
				if err != nil {
					return err
				}
				// Порядок как при оформлении заказа: сверка цены, затем блокировка строки.
				if _, err := uow.Variants().GetPrices(ctx, []int64{1}); err != nil {
					_ = uow.Rollback(ctx)
					return err
				}
				v, err := uow.Variants().GetForUpdate(ctx, 1)
				if err != nil {
					_ = uow.Rollback(ctx)
					return err
				}
				if v.StockQuantity < 1 {
					_ = uow.Rollback(ctx)
					return domain.ErrStockNotAvailable
				}
				if err := uow.Variants().SetStock(ctx, 1, v.StockQuantity-1); err != nil {
					_ = uow.Rollback(ctx)
					return err
				}
				return uow.Commit(ctx)
			}()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrStockNotAvailable):
				soldOut++
			default:
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, failures)
	require.Equal(t, 5, succeeded)
	require.Equal(t, workers-5, soldOut)

	check, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = check.Rollback(ctx) }()
	prices, err := check.Variants().GetPrices(ctx, []int64{1})
	require.NoError(t, err)
	require.Equal(t, int32(0), prices[1].StockQuantity)
}
