package credit

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// MockService это конфигурируемая заглушка CreditLimitService для тестов.
type MockService struct {
	Available decimal.Decimal
	Err       error

	Calls int
}

// NewMockService возвращает mock с заданным доступным кредитом.
func NewMockService(available decimal.Decimal) *MockService {
	return &MockService{Available: available}
}

// GetAvailableCredit возвращает заранее настроенные значения и считает вызовы.
func (m *MockService) GetAvailableCredit(context.Context, string) (decimal.Decimal, error) {
	m.Calls++
	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	return m.Available, nil
}

var _ domain.CreditLimitService = (*MockService)(nil)
