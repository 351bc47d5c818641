package domain

// OrderValidationResult хранит итог проверки бизнес-правил.
type OrderValidationResult struct {
	Valid   bool
	Code    ErrorCode
	Message string
}

// ValidOrder возвращает успешный результат проверки.
func ValidOrder() OrderValidationResult {
	return OrderValidationResult{Valid: true}
}

// RuleViolation возвращает неуспешный результат с кодом правила.
func RuleViolation(code ErrorCode, message string) OrderValidationResult {
	return OrderValidationResult{Code: code, Message: message}
}

// Err превращает нарушение в *BusinessRuleViolationError.
func (r OrderValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &BusinessRuleViolationError{RuleCode: r.Code, Message: r.Message}
}

// OrderStateTransitionResult хранит итог проверки перехода статуса.
type OrderStateTransitionResult struct {
	Valid     bool
	From      OrderStatus
	To        OrderStatus
	OrderType OrderType
	Code      ErrorCode
	Message   string
}

// Err превращает недопустимый переход в *InvalidStateTransitionError.
func (r OrderStateTransitionResult) Err() error {
	if r.Valid {
		return nil
	}
	return &InvalidStateTransitionError{From: r.From, To: r.To, OrderType: r.OrderType}
}
