// Package statemachine описывает жизненный цикл заказа и выполняет переходы статусов.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/metrics"
)

// Machine валидирует и применяет переходы статусов заказа.
type Machine struct {
	txm      domain.TxManager
	releaser domain.StockReleaser
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Machine.
type Option func(*Machine)

// WithStockReleaser задаёт сервис возврата остатков при отмене.
func WithStockReleaser(releaser domain.StockReleaser) Option {
	return func(m *Machine) {
		m.releaser = releaser
	}
}

// WithMetrics задаёт метрики переходов.
func WithMetrics(orderMetrics *metrics.OrderMetrics) Option {
	return func(m *Machine) {
		m.metrics = orderMetrics
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// New создаёт машину состояний поверх менеджера транзакций.
func New(txm domain.TxManager, options ...Option) *Machine {
	m := &Machine{
		txm:    txm,
		logger: log.WithField("component", "order-state-machine"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// ValidateTransition принимает решение по таблице переходов и ничего не изменяет.
func (m *Machine) ValidateTransition(from, to domain.OrderStatus, orderType domain.OrderType) domain.OrderStateTransitionResult {
	return ValidateTransition(from, to, orderType)
}

// ValidNextStates перечисляет допустимые следующие статусы.
func (m *Machine) ValidNextStates(current domain.OrderStatus, orderType domain.OrderType) iter.Seq[domain.OrderStatus] {
	return ValidNextStates(current, orderType)
}

// ValidateTransition проверяет пару статусов для типа заказа.
func ValidateTransition(from, to domain.OrderStatus, orderType domain.OrderType) domain.OrderStateTransitionResult {
	result := domain.OrderStateTransitionResult{From: from, To: to, OrderType: orderType}
	if allowed(from, to, orderType) {
		result.Valid = true
		return result
	}
	result.Code = domain.CodeInvalidStateTransition
	result.Message = fmt.Sprintf("transition %s -> %s is not allowed for %s orders", from, to, orderType)
	return result
}

// Transition переводит заказ в новый статус в отдельной транзакции.
//
// Строка заказа блокируется, текущий статус сверяется с таблицей, затем
// сохраняются статус, запись журнала и событие outbox. Вход в Cancelled
// возвращает зарезервированные остатки в той же транзакции.
// Недопустимый переход возвращает *domain.InvalidStateTransitionError.
func (m *Machine) Transition(ctx context.Context, orderID string, to domain.OrderStatus, reason, actorID string) (order domain.Order, err error) {
	uow, err := m.txm.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin transition: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := uow.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, domain.ErrTxDone) {
			m.logger.WithError(rbErr).WithField("order_id", orderID).Warn("rollback transition")
		}
	}()

	order, err = uow.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	from := order.Status
	if result := ValidateTransition(from, to, order.Type); !result.Valid {
		m.logger.WithFields(log.Fields{
			"order_id": orderID,
			"from":     from,
			"to":       to,
			"type":     order.Type,
		}).Warn("rejected status transition")
		return domain.Order{}, result.Err()
	}

	now := m.now()
	if err := uow.Orders().UpdateStatus(ctx, orderID, to, now); err != nil {
		return domain.Order{}, fmt.Errorf("update status: %w", err)
	}

	entry := domain.StatusHistoryEntry{
		OrderID:    orderID,
		From:       from,
		To:         to,
		Reason:     reason,
		ActorID:    actorID,
		OccurredAt: now,
	}
	if err := uow.History().Append(ctx, entry); err != nil {
		return domain.Order{}, fmt.Errorf("append status history: %w", err)
	}

	var released int64
	if to == domain.OrderStatusCancelled && m.releaser != nil && len(order.Items) > 0 {
		if err := m.releaser.ReleaseStock(ctx, uow, order.ReservationItems()); err != nil {
			return domain.Order{}, fmt.Errorf("release stock: %w", err)
		}
		for _, item := range order.Items {
			released += int64(item.Quantity)
		}
	}

	msg, err := domain.NewStatusChangedMessage(order, entry)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := uow.Outbox().Enqueue(ctx, msg); err != nil {
		return domain.Order{}, fmt.Errorf("enqueue status event: %w", err)
	}

	if err := uow.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit transition: %w", err)
	}
	committed = true

	m.metrics.RecordTransition(from, to)
	if released > 0 {
		m.metrics.RecordReleasedUnits(released)
	}
	entryLog := m.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"order_number": order.Number,
		"from":         from,
		"to":           to,
		"actor_id":     actorID,
		"terminal":     to.Terminal(),
	})
	if to.Terminal() {
		entryLog.Info("order reached terminal status")
	} else {
		entryLog.Info("order status changed")
	}

	order.Status = to
	order.UpdatedAt = now
	order.Version++
	return order, nil
}
