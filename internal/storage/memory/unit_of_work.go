package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type statusUpdate struct {
	status    domain.OrderStatus
	updatedAt time.Time
}

// unitOfWork копит изменения и применяет их к Store атомарно при Commit.
type unitOfWork struct {
	store *Store

	mu      sync.Mutex
	done    bool
	held    []string
	heldSet map[string]struct{}
	// stock хранит новые остатки заблокированных строк, цену транзакция не меняет.
	stock   map[int64]int32
	created []domain.Order
	updates map[string]statusUpdate
	history []domain.StatusHistoryEntry
	outbox  []domain.OutboxMessage
}

func newUnitOfWork(store *Store) *unitOfWork {
	return &unitOfWork{
		store:   store,
		heldSet: make(map[string]struct{}),
		stock:   make(map[int64]int32),
		updates: make(map[string]statusUpdate),
	}
}

func (u *unitOfWork) Orders() domain.OrderRepository          { return orderRepository{u} }
func (u *unitOfWork) Variants() domain.VariantRepository      { return variantRepository{u} }
func (u *unitOfWork) History() domain.StatusHistoryRepository { return historyRepository{u} }
func (u *unitOfWork) Outbox() domain.OutboxWriter             { return outboxWriter{u} }

// lock захватывает строку. Повторный захват той же транзакцией ничего не делает.
func (u *unitOfWork) lock(ctx context.Context, key string) error {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return domain.ErrTxDone
	}
	if _, ok := u.heldSet[key]; ok {
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()

	if err := u.store.locks.acquire(ctx, key); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		u.store.locks.release(key)
		return domain.ErrTxDone
	}
	u.held = append(u.held, key)
	u.heldSet[key] = struct{}{}
	return nil
}

func (u *unitOfWork) holds(key string) bool {
	_, ok := u.heldSet[key]
	return ok
}

// Commit применяет изменения. Конфликт номера заказа откатывает всю транзакцию.
func (u *unitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done {
		return domain.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		u.finishLocked()
		return err
	}

	s := u.store
	s.mu.Lock()
	seen := make(map[string]struct{}, len(u.created))
	for _, order := range u.created {
		if _, exists := s.numbers[order.Number]; exists {
			s.mu.Unlock()
			u.finishLocked()
			return fmt.Errorf("commit order %s: %w", order.Number, domain.ErrOrderNumberConflict)
		}
		if _, exists := seen[order.Number]; exists {
			s.mu.Unlock()
			u.finishLocked()
			return fmt.Errorf("commit order %s: %w", order.Number, domain.ErrOrderNumberConflict)
		}
		seen[order.Number] = struct{}{}
	}

	now := time.Now().UTC()
	// Переносим только остаток: цену могли поменять через SetPrice, пока строка была заблокирована.
	for id, quantity := range u.stock {
		v, ok := s.variants[id]
		if !ok {
			continue
		}
		v.StockQuantity = quantity
		v.Version++
		v.UpdatedAt = now
		s.variants[id] = v
	}
	for _, order := range u.created {
		s.orders[order.ID] = cloneOrder(order)
		s.numbers[order.Number] = order.ID
	}
	for id, upd := range u.updates {
		order, ok := s.orders[id]
		if !ok {
			continue
		}
		order.Status = upd.status
		order.UpdatedAt = upd.updatedAt
		order.Version++
		s.orders[id] = order
	}
	for _, entry := range u.history {
		s.history[entry.OrderID] = append(s.history[entry.OrderID], entry)
	}
	for _, msg := range u.outbox {
		s.outbox[msg.ID] = &outboxRecord{msg: msg, status: outboxStatusPending, createdAt: msg.CreatedAt, updatedAt: msg.CreatedAt}
	}
	s.mu.Unlock()

	u.finishLocked()
	return nil
}

// Rollback отбрасывает изменения и снимает блокировки.
func (u *unitOfWork) Rollback(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.done {
		return domain.ErrTxDone
	}
	u.finishLocked()
	return nil
}

func (u *unitOfWork) finishLocked() {
	u.done = true
	for i := len(u.held) - 1; i >= 0; i-- {
		u.store.locks.release(u.held[i])
	}
	u.held = nil
	u.heldSet = map[string]struct{}{}
	u.stock = nil
	u.created = nil
	u.updates = nil
	u.history = nil
	u.outbox = nil
}

func (u *unitOfWork) checkOpen() error {
	if u.done {
		return domain.ErrTxDone
	}
	return nil
}

func variantKey(id int64) string { return "variant:" + strconv.FormatInt(id, 10) }
func orderKey(id string) string  { return "order:" + id }

type orderRepository struct{ u *unitOfWork }

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return err
	}

	for _, staged := range u.created {
		if staged.ID == order.ID {
			return domain.ErrOrderVersionConflict
		}
		if staged.Number == order.Number {
			return domain.ErrOrderNumberConflict
		}
	}

	u.store.mu.RLock()
	_, idTaken := u.store.orders[order.ID]
	_, numberTaken := u.store.numbers[order.Number]
	u.store.mu.RUnlock()
	if idTaken {
		return domain.ErrOrderVersionConflict
	}
	if numberTaken {
		return domain.ErrOrderNumberConflict
	}

	u.created = append(u.created, cloneOrder(order))
	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return domain.Order{}, err
	}
	return u.readOrderLocked(id)
}

func (u *unitOfWork) readOrderLocked(id string) (domain.Order, error) {
	var (
		order domain.Order
		found bool
	)
	for _, staged := range u.created {
		if staged.ID == id {
			order, found = cloneOrder(staged), true
			break
		}
	}
	if !found {
		u.store.mu.RLock()
		committed, ok := u.store.orders[id]
		u.store.mu.RUnlock()
		if !ok {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		order = cloneOrder(committed)
	}
	if upd, ok := u.updates[id]; ok {
		order.Status = upd.status
		order.UpdatedAt = upd.updatedAt
	}
	return order, nil
}

func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	if err := r.u.lock(ctx, orderKey(id)); err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, id)
}

func (r orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return err
	}
	if !u.holds(orderKey(id)) {
		return fmt.Errorf("update order %s: %w", id, domain.ErrLockNotHeld)
	}
	if _, err := u.readOrderLocked(id); err != nil {
		return err
	}
	u.updates[id] = statusUpdate{status: status, updatedAt: updatedAt}
	return nil
}

func (r orderRepository) CountForYear(ctx context.Context, year int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return 0, err
	}

	var count int64
	u.store.mu.RLock()
	for _, order := range u.store.orders {
		if order.CreatedAt.Year() == year {
			count++
		}
	}
	u.store.mu.RUnlock()
	for _, order := range u.created {
		if order.CreatedAt.Year() == year {
			count++
		}
	}
	return count, nil
}

type variantRepository struct{ u *unitOfWork }

func (r variantRepository) GetForUpdate(ctx context.Context, id int64) (domain.Variant, error) {
	u := r.u
	if err := u.lock(ctx, variantKey(id)); err != nil {
		return domain.Variant{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return domain.Variant{}, err
	}
	return u.readVariantLocked(id)
}

func (r variantRepository) SetStock(ctx context.Context, id int64, quantity int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return err
	}
	if !u.holds(variantKey(id)) {
		return fmt.Errorf("set stock for variant %d: %w", id, domain.ErrLockNotHeld)
	}
	if quantity < 0 {
		return fmt.Errorf("set stock for variant %d: %w", id, domain.ErrInvalidQuantity)
	}

	if _, err := u.readVariantLocked(id); err != nil {
		return err
	}
	u.stock[id] = quantity
	return nil
}

func (r variantRepository) GetPrices(ctx context.Context, ids []int64) (map[int64]domain.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return nil, err
	}

	result := make(map[int64]domain.Variant, len(ids))
	for _, id := range ids {
		if v, err := u.readVariantLocked(id); err == nil {
			result[id] = v
		}
	}
	return result, nil
}

// readVariantLocked возвращает зафиксированную строку с остатком, изменённым в этой транзакции.
// Вызывается под u.mu.
func (u *unitOfWork) readVariantLocked(id int64) (domain.Variant, error) {
	u.store.mu.RLock()
	v, ok := u.store.variants[id]
	u.store.mu.RUnlock()
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	if quantity, staged := u.stock[id]; staged {
		v.StockQuantity = quantity
	}
	return v, nil
}

type historyRepository struct{ u *unitOfWork }

func (r historyRepository) Append(ctx context.Context, entry domain.StatusHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	u.history = append(u.history, entry)
	return nil
}

// List возвращает записи в хронологическом порядке, включая ещё не зафиксированные.
func (r historyRepository) List(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := r.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return nil, err
	}

	u.store.mu.RLock()
	committed := u.store.history[orderID]
	result := make([]domain.StatusHistoryEntry, len(committed), len(committed)+len(u.history))
	copy(result, committed)
	u.store.mu.RUnlock()

	for _, entry := range u.history {
		if entry.OrderID == orderID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type outboxWriter struct{ u *unitOfWork }

func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}
	u := w.u
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(); err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	u.outbox = append(u.outbox, msg)
	return msg, nil
}

var _ domain.UnitOfWork = (*unitOfWork)(nil)
