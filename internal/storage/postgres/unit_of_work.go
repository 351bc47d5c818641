package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// unitOfWork привязывает репозитории к одной *sql.Tx.
type unitOfWork struct {
	tx *sql.Tx

	mu             sync.Mutex
	lockedVariants map[int64]struct{}
	lockedOrders   map[string]struct{}
}

func newUnitOfWork(tx *sql.Tx) *unitOfWork {
	return &unitOfWork{
		tx:             tx,
		lockedVariants: make(map[int64]struct{}),
		lockedOrders:   make(map[string]struct{}),
	}
}

func (u *unitOfWork) Orders() domain.OrderRepository          { return orderRepository{u: u} }
func (u *unitOfWork) Variants() domain.VariantRepository      { return variantRepository{u: u} }
func (u *unitOfWork) History() domain.StatusHistoryRepository { return historyRepository{u: u} }
func (u *unitOfWork) Outbox() domain.OutboxWriter             { return outboxWriter{u: u} }

// Commit фиксирует транзакцию. Нарушение уникальности номера превращается в ErrOrderNumberConflict.
func (u *unitOfWork) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		_ = u.tx.Rollback()
		return err
	}
	if err := u.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return domain.ErrTxDone
		}
		if isUniqueViolation(err, orderNumberIndex) {
			return fmt.Errorf("commit: %w", domain.ErrOrderNumberConflict)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback откатывает транзакцию и снимает все блокировки строк.
func (u *unitOfWork) Rollback(context.Context) error {
	if err := u.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return domain.ErrTxDone
		}
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (u *unitOfWork) markVariantLocked(id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lockedVariants[id] = struct{}{}
}

func (u *unitOfWork) variantLocked(id int64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.lockedVariants[id]
	return ok
}

func (u *unitOfWork) markOrderLocked(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lockedOrders[id] = struct{}{}
}

func (u *unitOfWork) orderLocked(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.lockedOrders[id]
	return ok
}

func mapTxErr(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return domain.ErrTxDone
	}
	if isLockFailure(err) {
		return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
	}
	return err
}

var _ domain.UnitOfWork = (*unitOfWork)(nil)
