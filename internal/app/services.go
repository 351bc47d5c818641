package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/metrics"
	"github.com/vladislavdragonenkov/ordercore/internal/service/credit"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
	"github.com/vladislavdragonenkov/ordercore/internal/service/pricing"
	"github.com/vladislavdragonenkov/ordercore/internal/service/rules"
	"github.com/vladislavdragonenkov/ordercore/internal/service/statemachine"
	"github.com/vladislavdragonenkov/ordercore/internal/service/stock"
)

// Services содержит собранное ядро заказов.
type Services struct {
	Orders       *orders.Service
	StateMachine *statemachine.Machine
	Credit       *credit.StaticService
}

func newServices(deps *runtimeDependencies, cfg Config, orderMetrics *metrics.OrderMetrics, logger *log.Entry) (*Services, error) {
	fallback, err := cfg.creditDefaultLimit()
	if err != nil {
		return nil, err
	}
	creditSvc := credit.NewStaticService(fallback)

	stockSvc := stock.NewService(stock.WithLogger(logger.WithField("component", "stock")))
	ruleSet := rules.New(rules.Limits{
		MaxLines:        cfg.OrderMaxLines,
		MaxLineQuantity: cfg.OrderMaxLineQuantity,
	}, creditSvc, logger.WithField("component", "order-rules"))

	orderSvc := orders.NewService(
		deps.txm,
		ruleSet,
		pricing.NewService(logger.WithField("component", "pricing")),
		stockSvc,
		orders.Options{
			MaxAttempts: cfg.OrderNumberAttempts,
			Sequence:    deps.sequence,
			Metrics:     orderMetrics,
			Logger:      logger.WithField("component", "order-service"),
		},
	)

	machine := statemachine.New(
		deps.txm,
		statemachine.WithStockReleaser(stockSvc),
		statemachine.WithMetrics(orderMetrics),
		statemachine.WithLogger(logger.WithField("component", "state-machine")),
	)

	return &Services{Orders: orderSvc, StateMachine: machine, Credit: creditSvc}, nil
}
