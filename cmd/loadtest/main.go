// Command loadtest оформляет заказы конкурентно против in-memory ядра и
// проверяет, что склад не уходит в минус, а номера заказов уникальны.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/ordercore/internal/app"
	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const codeOK = "OK"

type loadMode string

const (
	modeB2C   loadMode = "b2c"
	modeB2B   loadMode = "b2b"
	modeMixed loadMode = "mixed"
)

type config struct {
	total       int
	concurrency int
	variants    int
	stock       int
	quantity    int
	price       decimal.Decimal
	mode        loadMode
	cancelRate  int
	creditLimit string
	attempts    int
	timeout     time.Duration
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// verification собирает проверки целостности после прогона.
type verification struct {
	OrdersCommitted int      `json:"orders_committed"`
	UniqueNumbers   bool     `json:"unique_numbers"`
	StockBalanced   bool     `json:"stock_balanced"`
	NegativeStock   bool     `json:"negative_stock"`
	Violations      []string `json:"violations,omitempty"`
}

func (v verification) ok() bool {
	return len(v.Violations) == 0
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Verification      verification            `json:"verification"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codeOK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue, priceValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.variants, "variants", 3, "number of product variants competing for stock")
	fs.IntVar(&cfg.stock, "stock", 100, "initial stock per variant")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order line")
	fs.StringVar(&priceValue, "price", "10.00", "unit price of every variant")
	fs.StringVar(&modeValue, "mode", string(modeB2C), "order channel: b2c | b2b | mixed")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "share of created orders to cancel, percent (0..100)")
	fs.StringVar(&cfg.creditLimit, "credit-limit", "1000000", "available credit of every B2B company")
	fs.IntVar(&cfg.attempts, "number-attempts", 10, "order number retry budget per order")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-scenario timeout")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	switch {
	case cfg.total <= 0:
		return cfg, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.variants <= 0:
		return cfg, errors.New("variants must be > 0")
	case cfg.stock < 0 || cfg.stock > math.MaxInt32:
		return cfg, errors.New("stock must be within int32 range")
	case cfg.quantity <= 0 || cfg.quantity > math.MaxInt32:
		return cfg, errors.New("qty must be > 0")
	case cfg.price.IsNegative():
		return cfg, errors.New("price must be non-negative")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case cfg.attempts <= 0:
		return cfg, errors.New("number-attempts must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.ToLower(strings.TrimSpace(value))) {
	case modeB2C:
		return modeB2C, nil
	case modeB2B:
		return modeB2B, nil
	case modeMixed:
		return modeMixed, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	// на нагрузке info-логи ядра только мешают
	log.SetLevel(log.WarnLevel)

	result, err := run(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
	}

	if !result.Verification.ok() {
		os.Exit(3)
	}
}

// run поднимает ядро на in-memory хранилище, прогоняет сценарии и сверяет склад.
func run(ctx context.Context, cfg config) (report, error) {
	appCfg := app.DefaultConfig()
	appCfg.SeedDemoCatalog = false
	appCfg.CreditDefaultLimit = cfg.creditLimit
	appCfg.OrderMaxLineQuantity = int32(cfg.quantity)
	appCfg.OrderNumberAttempts = cfg.attempts

	core, err := app.New(ctx, appCfg)
	if err != nil {
		return report{}, fmt.Errorf("build order core: %w", err)
	}
	defer core.Close()

	store := core.MemoryStore()
	for i := 1; i <= cfg.variants; i++ {
		store.SeedVariant(domain.Variant{
			ID:            int64(i),
			SKU:           fmt.Sprintf("LOAD-%03d", i),
			ProductName:   fmt.Sprintf("Load variant %d", i),
			Price:         cfg.price,
			StockQuantity: int32(cfg.stock),
		})
	}

	stats := newCollector()
	startedAt := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.total; i++ {
		g.Go(func() error {
			runScenario(gctx, core.Services, stats, cfg, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report{}, err
	}

	result := stats.buildReport(startedAt, time.Since(startedAt))
	result.Verification = verify(store.Orders(), func(id int64) int32 {
		v, _ := store.Variant(id)
		return v.StockQuantity
	}, cfg)
	return result, nil
}

// runScenario оформляет один заказ и, если выпало, отменяет его.
func runScenario(ctx context.Context, services *app.Services, stats *collector, cfg config, index int) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	scenarioStart := time.Now()
	req := scenarioRequest(cfg, index)

	createStart := time.Now()
	var (
		order domain.Order
		err   error
	)
	if scenarioType(cfg.mode, index) == domain.OrderTypeB2B {
		order, err = services.Orders.CreateB2BOrder(ctx, req, fmt.Sprintf("load-company-%d", index%10))
	} else {
		order, err = services.Orders.CreateB2COrder(ctx, req)
	}
	stats.record("create", time.Since(createStart), resultCode(err))
	if err != nil {
		stats.record("scenario", time.Since(scenarioStart), resultCode(err))
		return
	}

	if shouldCancelScenario(index, cfg.cancelRate) {
		cancelStart := time.Now()
		_, err = services.StateMachine.Transition(ctx, order.ID, domain.OrderStatusCancelled, "load test", "loadtest")
		stats.record("cancel", time.Since(cancelStart), resultCode(err))
	}

	stats.record("scenario", time.Since(scenarioStart), resultCode(err))
}

func scenarioRequest(cfg config, index int) domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		CustomerID: fmt.Sprintf("load-customer-%d", index),
		Currency:   "USD",
		Items: []domain.OrderLineRequest{{
			VariantID:         int64(index%cfg.variants) + 1,
			Quantity:          int32(cfg.quantity),
			ExpectedUnitPrice: cfg.price,
		}},
		ShippingAddressID: 1,
		BillingAddressID:  1,
	}
}

func scenarioType(mode loadMode, index int) domain.OrderType {
	switch mode {
	case modeB2B:
		return domain.OrderTypeB2B
	case modeMixed:
		if index%2 == 1 {
			return domain.OrderTypeB2B
		}
	}
	return domain.OrderTypeB2C
}

// resultCode сводит ошибку к коду отказа, контекстной ошибке или ERROR.
func resultCode(err error) string {
	if err == nil {
		return codeOK
	}
	if code, ok := domain.CodeOf(err); ok {
		return string(code)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "DEADLINE_EXCEEDED"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	case errors.Is(err, domain.ErrOrderCreationFailed):
		return "CREATION_FAILED"
	default:
		return "ERROR"
	}
}

// verify проверяет, что остаток вместе с резервом активных заказов равен начальному запасу.
func verify(orders []domain.Order, stockOf func(int64) int32, cfg config) verification {
	result := verification{
		OrdersCommitted: len(orders),
		UniqueNumbers:   true,
		StockBalanced:   true,
	}

	seen := make(map[string]struct{}, len(orders))
	reserved := make(map[int64]int64, cfg.variants)
	for _, order := range orders {
		if _, dup := seen[order.Number]; dup {
			result.UniqueNumbers = false
			result.Violations = append(result.Violations, fmt.Sprintf("duplicate order number %s", order.Number))
		}
		seen[order.Number] = struct{}{}

		if order.Status == domain.OrderStatusCancelled {
			continue
		}
		for _, item := range order.Items {
			reserved[item.VariantID] += int64(item.Quantity)
		}
	}

	for id := int64(1); id <= int64(cfg.variants); id++ {
		left := stockOf(id)
		if left < 0 {
			result.NegativeStock = true
			result.Violations = append(result.Violations, fmt.Sprintf("variant %d has negative stock %d", id, left))
		}
		if int64(left)+reserved[id] != int64(cfg.stock) {
			result.StockBalanced = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("variant %d: left %d + reserved %d != initial %d", id, left, reserved[id], cfg.stock))
		}
	}

	return result
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	fmt.Fprintln(w, "Load test summary")
	fmt.Fprintf(w, "mode=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}

	v := result.Verification
	fmt.Fprintf(w, "verification: orders=%d unique_numbers=%t stock_balanced=%t negative_stock=%t\n",
		v.OrdersCommitted, v.UniqueNumbers, v.StockBalanced, v.NegativeStock)
	for _, violation := range v.Violations {
		fmt.Fprintf(w, "VIOLATION: %s\n", violation)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
