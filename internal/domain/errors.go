package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего идентификатора компании для B2B.
	ErrCompanyRequired = errors.New("company_id is required for B2B orders")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка неизвестного типа заказа.
	ErrOrderTypeInvalid = errors.New("order type must be B2C or B2B")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной денежной суммы.
	ErrAmountNegative = errors.New("amounts must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия сумм заказа и позиций.
	ErrAmountMismatch = errors.New("order amounts do not match items")
	// ErrDuplicateVariant возвращается, если один и тот же вариант передан в запросе дважды.
	ErrDuplicateVariant = errors.New("duplicate variant in request")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVariantNotFound возвращается, если вариант товара не найден.
	ErrVariantNotFound = errors.New("product variant not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderNumberConflict означает нарушение уникальности номера заказа. Попытку можно повторить с новым номером.
	ErrOrderNumberConflict = errors.New("order number already exists")
	// ErrOrderCreationFailed возвращается, когда исчерпаны попытки создать заказ с уникальным номером.
	ErrOrderCreationFailed = errors.New("order creation failed")
	// ErrTxDone означает, что транзакция уже зафиксирована или откачена.
	ErrTxDone = errors.New("transaction already finished")
	// ErrLockNotHeld возвращается при изменении строки без предварительной блокировки.
	ErrLockNotHeld = errors.New("row is not locked by transaction")
	// ErrLockTimeout возвращается, если строку не удалось заблокировать за отведённое время.
	ErrLockTimeout = errors.New("row lock wait timeout")
	// ErrOutboxPublish оборачивает ошибку публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Сентинелы типизированных отказов. errors.Is(err, ErrStockNotAvailable) срабатывает и для *StockNotAvailableError.
var (
	ErrStockNotAvailable      = errors.New("stock not available")
	ErrPriceChanged           = errors.New("price changed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrBusinessRuleViolation  = errors.New("order business rule violation")
)

// ErrorCode это стабильный машиночитаемый код отказа.
type ErrorCode string

const (
	CodeStockNotAvailable      ErrorCode = "STOCK_1001"
	CodePriceChanged           ErrorCode = "PRICE_2001"
	CodeInvalidStateTransition ErrorCode = "ORDER_3001"
	// CodeOrderNoItems означает, что в заказе нет ни одной позиции.
	CodeOrderNoItems ErrorCode = "ORDER_4001"
	// CodeOrderTooManyLines означает превышение максимального количества позиций.
	CodeOrderTooManyLines ErrorCode = "ORDER_4002"
	// CodeOrderLineQuantity означает количество в позиции вне допустимого диапазона.
	CodeOrderLineQuantity ErrorCode = "ORDER_4003"
	// CodeOrderAddressRequired означает, что не указан адрес доставки или оплаты.
	CodeOrderAddressRequired ErrorCode = "ORDER_4004"
	// CodeOrderCreditLimit означает, что заказ выходит за кредитный лимит компании.
	CodeOrderCreditLimit ErrorCode = "ORDER_4005"
)

// Coded реализуют все типизированные отказы ядра.
type Coded interface {
	error
	Code() ErrorCode
}

// StockNotAvailableError возвращается, когда запрошено больше, чем есть на складе.
type StockNotAvailableError struct {
	VariantID int64
	Requested int32
	Available int32
}

func (e *StockNotAvailableError) Error() string {
	return fmt.Sprintf("stock not available for variant %d: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

func (e *StockNotAvailableError) Code() ErrorCode { return CodeStockNotAvailable }

func (e *StockNotAvailableError) Is(target error) bool { return target == ErrStockNotAvailable }

// PriceChangedError несёт все расхождения цен сразу.
type PriceChangedError struct {
	Changes []PriceChangeDetail
}

func (e *PriceChangedError) Error() string {
	ids := make([]string, 0, len(e.Changes))
	for _, change := range e.Changes {
		ids = append(ids, fmt.Sprintf("%d", change.VariantID))
	}
	return fmt.Sprintf("price changed for %d item(s): variants %s", len(e.Changes), strings.Join(ids, ","))
}

func (e *PriceChangedError) Code() ErrorCode { return CodePriceChanged }

func (e *PriceChangedError) Is(target error) bool { return target == ErrPriceChanged }

// InvalidStateTransitionError фиксирует точную недопустимую пару статусов.
type InvalidStateTransitionError struct {
	From      OrderStatus
	To        OrderStatus
	OrderType OrderType
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s for %s order", e.From, e.To, e.OrderType)
}

func (e *InvalidStateTransitionError) Code() ErrorCode { return CodeInvalidStateTransition }

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// BusinessRuleViolationError описывает нарушение структурного или канального правила.
type BusinessRuleViolationError struct {
	RuleCode ErrorCode
	Message  string
}

func (e *BusinessRuleViolationError) Error() string {
	return fmt.Sprintf("%s: %s", e.RuleCode, e.Message)
}

func (e *BusinessRuleViolationError) Code() ErrorCode { return e.RuleCode }

func (e *BusinessRuleViolationError) Is(target error) bool {
	return target == ErrBusinessRuleViolation
}

// CodeOf извлекает код типизированного отказа из цепочки ошибок.
func CodeOf(err error) (ErrorCode, bool) {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code(), true
	}
	return "", false
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsOrderNumberConflict сообщает, что попытку можно повторить с новым номером.
func IsOrderNumberConflict(err error) bool {
	return errors.Is(err, ErrOrderNumberConflict)
}
