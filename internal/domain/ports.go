package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRepository описывает доступ к заказам внутри транзакции.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями.
	// Возвращает ErrOrderNumberConflict, если номер уже занят, и ErrOrderVersionConflict,
	// если занят идентификатор.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate блокирует строку заказа до конца транзакции и возвращает её.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// UpdateStatus сохраняет новый статус заказа, заблокированного той же транзакцией.
	UpdateStatus(ctx context.Context, id string, status OrderStatus, updatedAt time.Time) error
	// CountForYear возвращает количество заказов, созданных в указанном году.
	CountForYear(ctx context.Context, year int) (int64, error)
}

// VariantRepository даёт доступ к строкам склада.
type VariantRepository interface {
	// GetForUpdate берёт эксклюзивную блокировку строки (SELECT ... FOR UPDATE).
	GetForUpdate(ctx context.Context, id int64) (Variant, error)
	// SetStock записывает остаток строки, заблокированной этой же транзакцией.
	SetStock(ctx context.Context, id int64, quantity int32) error
	// GetPrices читает текущие варианты без блокировки. Отсутствующие идентификаторы не попадают в map.
	GetPrices(ctx context.Context, ids []int64) (map[int64]Variant, error)
}

// StatusHistoryRepository хранит журнал смены статусов.
type StatusHistoryRepository interface {
	Append(ctx context.Context, entry StatusHistoryEntry) error
	List(ctx context.Context, orderID string) ([]StatusHistoryEntry, error)
}

// OutboxWriter кладёт событие в transactional outbox текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// Tx это явный дескриптор открытой транзакции. Репозитории привязаны к ней.
type Tx interface {
	Orders() OrderRepository
	Variants() VariantRepository
	History() StatusHistoryRepository
	Outbox() OutboxWriter
}

// UnitOfWork задаёт границу бизнес-транзакции.
// После Commit или Rollback повторные вызовы возвращают ErrTxDone.
type UnitOfWork interface {
	Tx
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxManager открывает транзакции.
type TxManager interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// CreditLimitService описывает внешний сервис кредитных лимитов B2B-компаний.
type CreditLimitService interface {
	GetAvailableCredit(ctx context.Context, companyID string) (decimal.Decimal, error)
}

// StockReleaser возвращает зарезервированный остаток на склад внутри транзакции вызывающего.
type StockReleaser interface {
	ReleaseStock(ctx context.Context, tx Tx, items []StockReservationItem) error
}

// OrderSequence выдаёт порядковый номер заказа в пределах года.
type OrderSequence interface {
	Next(ctx context.Context, tx Tx, year int) (int64, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository используется воркером публикации вне бизнес-транзакций.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы событий outbox.
const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)
