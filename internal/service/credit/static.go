// Package credit содержит реализации CreditLimitService для локального запуска и тестов.
package credit

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// ErrUnknownCompany возвращается, если для компании не задан лимит и нет лимита по умолчанию.
var ErrUnknownCompany = errors.New("credit limit is not configured for company")

// StaticService хранит доступный кредит компаний в памяти.
type StaticService struct {
	mu       sync.RWMutex
	limits   map[string]decimal.Decimal
	fallback *decimal.Decimal
}

// NewStaticService создаёт сервис с лимитом по умолчанию. При nil неизвестная компания получает ошибку.
func NewStaticService(fallback *decimal.Decimal) *StaticService {
	return &StaticService{limits: make(map[string]decimal.Decimal), fallback: fallback}
}

// SetLimit задаёт доступный кредит компании.
func (s *StaticService) SetLimit(companyID string, available decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[companyID] = available
}

// GetAvailableCredit возвращает доступный кредит компании.
func (s *StaticService) GetAvailableCredit(ctx context.Context, companyID string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit, ok := s.limits[companyID]; ok {
		return limit, nil
	}
	if s.fallback != nil {
		return *s.fallback, nil
	}
	return decimal.Zero, ErrUnknownCompany
}

var _ domain.CreditLimitService = (*StaticService)(nil)
