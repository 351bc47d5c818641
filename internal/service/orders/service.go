// Package orders оформляет B2C/B2B-заказы в одной транзакции и отдаёт их на чтение.
package orders

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/metrics"
	"github.com/vladislavdragonenkov/ordercore/internal/service/pricing"
	"github.com/vladislavdragonenkov/ordercore/internal/service/statemachine"
)

// DefaultMaxAttempts ограничивает число попыток оформления при конфликте номера.
const DefaultMaxAttempts = 3

const initialStatusReason = "order created"

// RuleValidator проверяет бизнес-правила (см. пакет rules).
type RuleValidator interface {
	ValidateB2COrder(ctx context.Context, req domain.CreateOrderRequest) (domain.OrderValidationResult, error)
	ValidateB2BOrder(ctx context.Context, req domain.CreateOrderRequest, companyID string) (domain.OrderValidationResult, error)
}

// PriceValidator сверяет цены корзины внутри транзакции.
type PriceValidator interface {
	ValidatePrices(ctx context.Context, tx domain.Tx, items []domain.PriceCheckItem) (domain.PriceValidationResult, error)
}

// StockReserver резервирует остатки внутри транзакции.
type StockReserver interface {
	ReserveStock(ctx context.Context, tx domain.Tx, items []domain.StockReservationItem) (domain.StockReservationResult, error)
}

// Options задаёт необязательные зависимости и настройки Service.
type Options struct {
	// MaxAttempts ограничивает повторы при конфликте номера заказа.
	MaxAttempts int
	// Sequence по умолчанию CountSequence.
	Sequence domain.OrderSequence
	Metrics  *metrics.OrderMetrics
	Logger   *log.Entry
	Clock    func() time.Time
}

// Service оркестрирует оформление заказов.
type Service struct {
	txm         domain.TxManager
	rules       RuleValidator
	prices      PriceValidator
	stock       StockReserver
	sequence    domain.OrderSequence
	metrics     *metrics.OrderMetrics
	logger      *log.Entry
	now         func() time.Time
	maxAttempts int
}

// NewService создаёт оркестратор.
func NewService(txm domain.TxManager, rules RuleValidator, prices PriceValidator, stock StockReserver, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Sequence == nil {
		opts.Sequence = CountSequence{}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "order-service")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		txm:         txm,
		rules:       rules,
		prices:      prices,
		stock:       stock,
		sequence:    opts.Sequence,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Clock,
		maxAttempts: opts.MaxAttempts,
	}
}

// CreateB2COrder оформляет розничный заказ.
func (s *Service) CreateB2COrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	return s.create(ctx, req, domain.OrderTypeB2C, "")
}

// CreateB2BOrder оформляет заказ компании с проверкой кредитного лимита.
func (s *Service) CreateB2BOrder(ctx context.Context, req domain.CreateOrderRequest, companyID string) (domain.Order, error) {
	if companyID == "" {
		return domain.Order{}, domain.ErrCompanyRequired
	}
	return s.create(ctx, req, domain.OrderTypeB2B, companyID)
}

// GenerateOrderNumber возвращает номер, который получит следующий заказ.
// Номер не резервируется: уникальность гарантируется только при сохранении заказа.
func (s *Service) GenerateOrderNumber(ctx context.Context) (string, error) {
	uow, err := s.txm.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer s.rollback(ctx, uow)

	year := s.now().Year()
	seq, err := s.sequence.Next(ctx, uow, year)
	if err != nil {
		return "", err
	}
	return FormatOrderNumber(year, seq), nil
}

// GetOrder возвращает заказ с позициями.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	uow, err := s.txm.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin: %w", err)
	}
	defer s.rollback(ctx, uow)

	return uow.Orders().Get(ctx, orderID)
}

// StatusHistory возвращает журнал статусов заказа в хронологическом порядке.
func (s *Service) StatusHistory(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	uow, err := s.txm.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer s.rollback(ctx, uow)

	if _, err := uow.Orders().Get(ctx, orderID); err != nil {
		return nil, err
	}
	return uow.History().List(ctx, orderID)
}

// ValidNextStates перечисляет статусы, в которые заказ может перейти из current.
func (s *Service) ValidNextStates(current domain.OrderStatus, orderType domain.OrderType) iter.Seq[domain.OrderStatus] {
	return statemachine.ValidNextStates(current, orderType)
}

func (s *Service) create(ctx context.Context, req domain.CreateOrderRequest, orderType domain.OrderType, companyID string) (domain.Order, error) {
	start := time.Now()
	defer func() { s.metrics.RecordCreateDuration(time.Since(start)) }()

	logger := s.logger.WithFields(log.Fields{
		"customer_id": req.CustomerID,
		"order_type":  orderType,
	})

	if err := checkRequest(req); err != nil {
		s.recordFailure(err)
		return domain.Order{}, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		order, err := s.attempt(ctx, req, orderType, companyID)
		if err == nil {
			s.metrics.RecordOrderCreated(orderType, totalUnits(order))
			logger.WithFields(log.Fields{
				"order_id":     order.ID,
				"order_number": order.Number,
				"attempt":      attempt,
			}).Info("order created")
			return order, nil
		}

		if !retryable(err) {
			s.recordFailure(err)
			entry := logger.WithError(err).WithField("attempt", attempt)
			if _, coded := domain.CodeOf(err); coded {
				entry.Warn("order rejected")
			} else {
				entry.Error("order creation failed")
			}
			return domain.Order{}, err
		}

		if domain.IsVersionConflict(err) {
			logger.WithError(err).WithField("attempt", attempt).Warn("order id conflict, retrying")
			continue
		}
		s.metrics.RecordNumberConflict()
		logger.WithError(err).WithField("attempt", attempt).Warn("order number conflict, retrying")
	}

	err := fmt.Errorf("%w: order still conflicting after %d attempts", domain.ErrOrderCreationFailed, s.maxAttempts)
	s.recordFailure(err)
	logger.WithError(err).Error("order creation failed")
	return domain.Order{}, err
}

// attempt выполняет одну транзакцию: правила -> цены -> склад -> номер -> сохранение.
func (s *Service) attempt(ctx context.Context, req domain.CreateOrderRequest, orderType domain.OrderType, companyID string) (domain.Order, error) {
	uow, err := s.txm.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			s.rollback(ctx, uow)
		}
	}()

	var validation domain.OrderValidationResult
	if orderType == domain.OrderTypeB2B {
		validation, err = s.rules.ValidateB2BOrder(ctx, req, companyID)
	} else {
		validation, err = s.rules.ValidateB2COrder(ctx, req)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("validate rules: %w", err)
	}
	if err := validation.Err(); err != nil {
		return domain.Order{}, err
	}

	priceResult, err := s.prices.ValidatePrices(ctx, uow, req.PriceCheckItems())
	if err != nil {
		return domain.Order{}, fmt.Errorf("validate prices: %w", err)
	}
	if err := priceResult.Err(); err != nil {
		return domain.Order{}, err
	}

	reservation, err := s.stock.ReserveStock(ctx, uow, req.ReservationItems())
	if err != nil {
		return domain.Order{}, fmt.Errorf("reserve stock: %w", err)
	}
	if err := reservation.Err(); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	seq, err := s.sequence.Next(ctx, uow, now.Year())
	if err != nil {
		return domain.Order{}, fmt.Errorf("next order number: %w", err)
	}

	order, err := s.buildOrder(req, reservation.Items, orderType, companyID, FormatOrderNumber(now.Year(), seq), now)
	if err != nil {
		return domain.Order{}, err
	}

	if err := uow.Orders().Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("persist order %s: %w", order.Number, err)
	}
	if err := uow.History().Append(ctx, domain.StatusHistoryEntry{
		OrderID:    order.ID,
		To:         order.Status,
		Reason:     initialStatusReason,
		ActorID:    req.CustomerID,
		OccurredAt: now,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("append status history: %w", err)
	}

	msg, err := domain.NewOrderCreatedMessage(order)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := uow.Outbox().Enqueue(ctx, msg); err != nil {
		return domain.Order{}, fmt.Errorf("enqueue order created: %w", err)
	}

	if err := uow.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit order %s: %w", order.Number, err)
	}
	committed = true
	return order, nil
}

// buildOrder собирает агрегат со снимком цен и названий на момент оформления.
// Снимок берётся из резерва, то есть из строк под FOR UPDATE. Цена, изменившаяся между
// сверкой и блокировкой, отклоняет заказ так же, как расхождение при сверке.
func (s *Service) buildOrder(req domain.CreateOrderRequest, reserved []domain.ReservedItem, orderType domain.OrderType, companyID, number string, now time.Time) (domain.Order, error) {
	snapshot := make(map[int64]domain.ReservedItem, len(reserved))
	for _, item := range reserved {
		snapshot[item.VariantID] = item
	}

	order := domain.Order{
		ID:                uuid.NewString(),
		Number:            number,
		Type:              orderType,
		Status:            domain.OrderStatusPending,
		CustomerID:        req.CustomerID,
		CompanyID:         companyID,
		Currency:          req.Currency,
		Discount:          req.Discount,
		Tax:               req.Tax,
		Shipping:          req.Shipping,
		Note:              req.Note,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		Items:             make([]domain.OrderItem, 0, len(req.Items)),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	subtotal := decimal.Zero
	var changes []domain.PriceChangeDetail
	for _, line := range req.Items {
		item, ok := snapshot[line.VariantID]
		if !ok {
			return domain.Order{}, fmt.Errorf("variant %d: %w", line.VariantID, domain.ErrVariantNotFound)
		}
		if !item.UnitPrice.Equal(line.ExpectedUnitPrice) {
			changes = append(changes, pricing.NewChangeDetail(domain.Variant{
				ID:          item.VariantID,
				ProductName: item.ProductName,
				Price:       item.UnitPrice,
			}, line.ExpectedUnitPrice))
			continue
		}
		lineTotal := domain.LineTotal(line.Quantity, item.UnitPrice)
		order.Items = append(order.Items, domain.OrderItem{
			ID:          uuid.NewString(),
			VariantID:   line.VariantID,
			ProductName: item.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   lineTotal,
			CreatedAt:   now,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	if len(changes) > 0 {
		s.logger.WithField("changed_items", len(changes)).Warn("price changed after validation")
		return domain.Order{}, &domain.PriceChangedError{Changes: changes}
	}
	order.Subtotal = subtotal
	order.Total = domain.OrderTotal(subtotal, order.Discount, order.Tax, order.Shipping)

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}
	return order, nil
}

func (s *Service) rollback(ctx context.Context, uow domain.UnitOfWork) {
	if err := uow.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, domain.ErrTxDone) {
		s.logger.WithError(err).Warn("rollback failed")
	}
}

func (s *Service) recordFailure(err error) {
	code := "internal"
	if c, ok := domain.CodeOf(err); ok {
		code = string(c)
	} else {
		switch {
		case errors.Is(err, domain.ErrOrderCreationFailed):
			code = "number_conflict"
		case errors.Is(err, domain.ErrLockTimeout):
			code = "lock_timeout"
		}
	}
	s.metrics.RecordCreationFailure(code)
}

// retryable сообщает, что попытку можно повторить в новой транзакции.
// Конфликт номера лечится следующим номером, конфликт идентификатора новым UUID.
func retryable(err error) bool {
	return domain.IsOrderNumberConflict(err) || domain.IsVersionConflict(err)
}

// checkRequest отсекает синтаксически неполные запросы до открытия транзакции.
func checkRequest(req domain.CreateOrderRequest) error {
	if req.CustomerID == "" {
		return domain.ErrCustomerRequired
	}
	if req.Currency == "" {
		return domain.ErrCurrencyRequired
	}
	for _, amount := range []decimal.Decimal{req.Discount, req.Tax, req.Shipping} {
		if amount.IsNegative() {
			return domain.ErrAmountNegative
		}
	}
	for _, line := range req.Items {
		if line.ExpectedUnitPrice.IsNegative() {
			return domain.ErrItemPriceInvalid
		}
	}
	return nil
}

func totalUnits(order domain.Order) int64 {
	var units int64
	for _, item := range order.Items {
		units += int64(item.Quantity)
	}
	return units
}
