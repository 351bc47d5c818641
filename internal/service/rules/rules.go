// Package rules проверяет структурные и канальные правила заказа до мутирующей фазы.
package rules

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	// DefaultMaxLines ограничивает число позиций в одном заказе.
	DefaultMaxLines = 50
	// DefaultMaxLineQuantity ограничивает число единиц в одной позиции.
	DefaultMaxLineQuantity = 100
)

// Limits задаёт числовые границы правил B2C/B2B.
type Limits struct {
	MaxLines        int
	MaxLineQuantity int32
}

// DefaultLimits возвращает лимиты по умолчанию.
func DefaultLimits() Limits {
	return Limits{MaxLines: DefaultMaxLines, MaxLineQuantity: DefaultMaxLineQuantity}
}

// Rules выполняет read-only проверки. Ничего не блокирует и не изменяет.
type Rules struct {
	limits Limits
	credit domain.CreditLimitService
	logger *log.Entry
}

// New создаёт проверку правил. credit может быть nil, если B2B-заказы не принимаются.
func New(limits Limits, credit domain.CreditLimitService, logger *log.Entry) *Rules {
	if limits.MaxLines <= 0 {
		limits.MaxLines = DefaultMaxLines
	}
	if limits.MaxLineQuantity <= 0 {
		limits.MaxLineQuantity = DefaultMaxLineQuantity
	}
	if logger == nil {
		logger = log.WithField("component", "order-rules")
	}
	return &Rules{limits: limits, credit: credit, logger: logger}
}

// Limits возвращает действующие лимиты.
func (r *Rules) Limits() Limits {
	return r.limits
}

// ValidateB2COrder проверяет форму заказа. Нарушение возвращается как результат с кодом, а не как ошибка.
func (r *Rules) ValidateB2COrder(ctx context.Context, req domain.CreateOrderRequest) (domain.OrderValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderValidationResult{}, err
	}
	return r.validateShape(req), nil
}

// ValidateB2BOrder выполняет проверки B2C и сверяет итог заказа с доступным кредитом компании.
func (r *Rules) ValidateB2BOrder(ctx context.Context, req domain.CreateOrderRequest, companyID string) (domain.OrderValidationResult, error) {
	if companyID == "" {
		return domain.OrderValidationResult{}, domain.ErrCompanyRequired
	}
	if err := ctx.Err(); err != nil {
		return domain.OrderValidationResult{}, err
	}

	if result := r.validateShape(req); !result.Valid {
		return result, nil
	}
	if r.credit == nil {
		return domain.OrderValidationResult{}, fmt.Errorf("credit limit service is not configured")
	}

	available, err := r.credit.GetAvailableCredit(ctx, companyID)
	if err != nil {
		return domain.OrderValidationResult{}, fmt.Errorf("get available credit for %s: %w", companyID, err)
	}

	amount := req.ExpectedTotal()
	if amount.GreaterThan(available) {
		r.logger.WithFields(log.Fields{
			"company_id": companyID,
			"amount":     amount.String(),
			"available":  available.String(),
		}).Warn("credit limit exceeded")
		return domain.RuleViolation(domain.CodeOrderCreditLimit,
			fmt.Sprintf("order amount %s exceeds available credit %s", amount.StringFixed(2), available.StringFixed(2))), nil
	}
	return domain.ValidOrder(), nil
}

func (r *Rules) validateShape(req domain.CreateOrderRequest) domain.OrderValidationResult {
	if len(req.Items) == 0 {
		return domain.RuleViolation(domain.CodeOrderNoItems, "order must contain at least one item")
	}
	if len(req.Items) > r.limits.MaxLines {
		return domain.RuleViolation(domain.CodeOrderTooManyLines,
			fmt.Sprintf("order has %d lines, maximum is %d", len(req.Items), r.limits.MaxLines))
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.Quantity > r.limits.MaxLineQuantity {
			return domain.RuleViolation(domain.CodeOrderLineQuantity,
				fmt.Sprintf("variant %d quantity %d is outside 1..%d", item.VariantID, item.Quantity, r.limits.MaxLineQuantity))
		}
	}
	if req.ShippingAddressID <= 0 {
		return domain.RuleViolation(domain.CodeOrderAddressRequired, "shipping address is required")
	}
	if req.BillingAddressID <= 0 {
		return domain.RuleViolation(domain.CodeOrderAddressRequired, "billing address is required")
	}
	return domain.ValidOrder()
}
