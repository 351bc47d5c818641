package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/credit"
)

func validRequest() domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		CustomerID: "customer-1",
		Currency:   "USD",
		Items: []domain.OrderLineRequest{
			{VariantID: 1, Quantity: 2, ExpectedUnitPrice: decimal.RequireFromString("10.00")},
			{VariantID: 2, Quantity: 1, ExpectedUnitPrice: decimal.RequireFromString("5.00")},
		},
		Tax:               decimal.RequireFromString("2.50"),
		Shipping:          decimal.RequireFromString("4.00"),
		ShippingAddressID: 10,
		BillingAddressID:  11,
	}
}

func TestValidateB2COrder(t *testing.T) {
	r := New(Limits{MaxLines: 2, MaxLineQuantity: 5}, nil, nil)

	tests := []struct {
		name   string
		mutate func(*domain.CreateOrderRequest)
		code   domain.ErrorCode
	}{
		{name: "valid", mutate: func(*domain.CreateOrderRequest) {}},
		{name: "no items", mutate: func(req *domain.CreateOrderRequest) { req.Items = nil }, code: domain.CodeOrderNoItems},
		{name: "too many lines", mutate: func(req *domain.CreateOrderRequest) {
			req.Items = append(req.Items, domain.OrderLineRequest{VariantID: 3, Quantity: 1})
		}, code: domain.CodeOrderTooManyLines},
		{name: "quantity above limit", mutate: func(req *domain.CreateOrderRequest) { req.Items[0].Quantity = 6 }, code: domain.CodeOrderLineQuantity},
		{name: "zero quantity", mutate: func(req *domain.CreateOrderRequest) { req.Items[1].Quantity = 0 }, code: domain.CodeOrderLineQuantity},
		{name: "missing shipping address", mutate: func(req *domain.CreateOrderRequest) { req.ShippingAddressID = 0 }, code: domain.CodeOrderAddressRequired},
		{name: "missing billing address", mutate: func(req *domain.CreateOrderRequest) { req.BillingAddressID = 0 }, code: domain.CodeOrderAddressRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			result, err := r.ValidateB2COrder(context.Background(), req)
			require.NoError(t, err)
			if tt.code == "" {
				require.True(t, result.Valid)
				require.NoError(t, result.Err())
				return
			}
			require.False(t, result.Valid)
			require.Equal(t, tt.code, result.Code)
			require.NotEmpty(t, result.Message)

			violation := result.Err()
			require.ErrorIs(t, violation, domain.ErrBusinessRuleViolation)
			code, ok := domain.CodeOf(violation)
			require.True(t, ok)
			require.Equal(t, tt.code, code)
		})
	}
}

func TestValidateB2BOrder_CreditLimit(t *testing.T) {
	req := validRequest()
	// 2*10 + 5 + 2.50 + 4.00
	total := decimal.RequireFromString("31.50")
	require.True(t, req.ExpectedTotal().Equal(total))

	tests := []struct {
		name      string
		available string
		valid     bool
	}{
		{name: "exactly available", available: "31.50", valid: true},
		{name: "plenty", available: "1000", valid: true},
		{name: "one cent short", available: "31.49", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := credit.NewMockService(decimal.RequireFromString(tt.available))
			r := New(DefaultLimits(), mock, nil)

			result, err := r.ValidateB2BOrder(context.Background(), req, "acme")
			require.NoError(t, err)
			require.Equal(t, tt.valid, result.Valid)
			require.Equal(t, 1, mock.Calls)
			if !tt.valid {
				require.Equal(t, domain.CodeOrderCreditLimit, result.Code)
			}
		})
	}
}

func TestValidateB2BOrder_ShapeFailureSkipsCreditCheck(t *testing.T) {
	mock := credit.NewMockService(decimal.NewFromInt(1000))
	r := New(DefaultLimits(), mock, nil)

	req := validRequest()
	req.Items = nil

	result, err := r.ValidateB2BOrder(context.Background(), req, "acme")
	require.NoError(t, err)
	require.Equal(t, domain.CodeOrderNoItems, result.Code)
	require.Zero(t, mock.Calls)
}

func TestValidateB2BOrder_Errors(t *testing.T) {
	mock := credit.NewMockService(decimal.Zero)
	mock.Err = errors.New("credit backend unavailable")
	r := New(DefaultLimits(), mock, nil)

	_, err := r.ValidateB2BOrder(context.Background(), validRequest(), "")
	require.ErrorIs(t, err, domain.ErrCompanyRequired)

	_, err = r.ValidateB2BOrder(context.Background(), validRequest(), "acme")
	require.ErrorIs(t, err, mock.Err)

	_, err = New(DefaultLimits(), nil, nil).ValidateB2BOrder(context.Background(), validRequest(), "acme")
	require.Error(t, err)
}

func TestNew_DefaultsLimits(t *testing.T) {
	r := New(Limits{}, nil, nil)
	if got := r.Limits(); got != DefaultLimits() {
		t.Fatalf("expected default limits, got %+v", got)
	}
}
