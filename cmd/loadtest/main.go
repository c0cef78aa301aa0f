package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/ordercore/internal/service/grpc"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceCancel loadMode = "place-cancel"
	modePlaceReturn loadMode = "place-return"
)

// scenarioMetric — псевдометод, под которым учитывается сценарий целиком.
const scenarioMetric = "scenario"

type config struct {
	addr        string
	total       int
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	productID   string
	variantID   string
	price       string
	userTag     string
	outputPath  string
}

// caller — подмножество OrderCoreClient, которое нужно сценариям.
type caller interface {
	Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
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
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	Scenarios       int64                   `json:"scenarios"`
	FailedScenarios int64                   `json:"failed_scenarios"`
	RPS             float64                 `json:"rps"`
	Methods         map[string]methodReport `json:"methods"`
}

type methodStats struct {
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector накапливает задержки и коды ответов по методам.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}
	if code != codes.OK {
		stats.failed++
	}
	stats.codes[code.String()]++
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
	for name, stats := range c.methods {
		calls := int64(len(stats.latencies))
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     calls,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	if scenario, ok := result.Methods[scenarioMetric]; ok {
		result.Scenarios = scenario.Calls
		result.FailedScenarios = scenario.Failed
	}
	if duration > 0 {
		result.RPS = float64(result.Scenarios) / duration.Seconds()
	}
	return result
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "loadtest",
		Usage:  "drive order placement scenarios against an ordercore gRPC endpoint",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "localhost:50051", Usage: "gRPC target address"},
			&cli.IntFlag{Name: "total", Value: 400, Usage: "scenarios to run; with --duration it caps the run"},
			&cli.DurationFlag{Name: "duration", Usage: "time-based run (e.g. 10m)"},
			&cli.IntFlag{Name: "concurrency", Value: 40, Usage: "concurrent scenarios"},
			&cli.IntFlag{Name: "connections", Value: 8, Usage: "gRPC client connections"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per-RPC timeout"},
			&cli.StringFlag{Name: "mode", Value: string(modePlace), Usage: "place | place-cancel | place-return"},
			&cli.StringFlag{Name: "product", Value: "p-1", Usage: "product id"},
			&cli.StringFlag{Name: "variant", Value: "v-1", Usage: "variant id"},
			&cli.StringFlag{Name: "price", Value: "500", Usage: "unit price sent with the cart"},
			&cli.StringFlag{Name: "user-tag", Value: "load", Usage: "user id prefix"},
			&cli.StringFlag{Name: "output", Usage: "optional JSON report path"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := configFromCLI(c)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runLoad(c.Context, cfg, c.App.Writer)
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFromCLI(c *cli.Context) (config, error) {
	cfg := config{
		addr:        c.String("addr"),
		duration:    c.Duration("duration"),
		concurrency: c.Int("concurrency"),
		connections: c.Int("connections"),
		timeout:     c.Duration("timeout"),
		mode:        loadMode(strings.TrimSpace(c.String("mode"))),
		productID:   c.String("product"),
		variantID:   c.String("variant"),
		price:       c.String("price"),
		userTag:     c.String("user-tag"),
		outputPath:  c.String("output"),
	}
	// В режиме по времени --total ограничивает прогон, только если задан явно.
	if cfg.duration == 0 || c.IsSet("total") {
		cfg.total = c.Int("total")
	}
	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	switch cfg.mode {
	case modePlace, modePlaceCancel, modePlaceReturn:
	default:
		return fmt.Errorf("unsupported mode: %s", cfg.mode)
	}
	switch {
	case cfg.duration < 0:
		return errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return errors.New("timeout must be > 0")
	case strings.TrimSpace(cfg.productID) == "" || strings.TrimSpace(cfg.variantID) == "":
		return errors.New("product and variant are required")
	case strings.TrimSpace(cfg.userTag) == "":
		return errors.New("user-tag is required")
	}
	return nil
}

func runLoad(ctx context.Context, cfg config, out io.Writer) error {
	clients := make([]caller, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("create grpc client: %w", err)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewOrderCoreClient(conn))
	}

	result := execute(ctx, cfg, clients)
	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if result.FailedScenarios > 0 {
		return fmt.Errorf("%d of %d scenarios failed", result.FailedScenarios, result.Scenarios)
	}
	return nil
}

// execute прогоняет сценарии с ограничением параллелизма.
func execute(ctx context.Context, cfg config, clients []caller) report {
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d", startedAt.UnixNano())
	col := newCollector()

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for i := 0; cfg.total <= 0 || i < cfg.total; i++ {
		if ctx.Err() != nil {
			break
		}
		client := clients[i%len(clients)]
		g.Go(func() error {
			runScenario(client, cfg, i, runID, col)
			return nil
		})
	}
	_ = g.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func runScenario(client caller, cfg config, index int, runID string, col *collector) {
	start := time.Now()
	code := codes.OK
	defer func() { col.record(scenarioMetric, time.Since(start), code) }()

	userID := fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)
	key := func(name string) string { return fmt.Sprintf("lt-%s-%s-%d", name, runID, index) }

	order, err := invoke(client, cfg.timeout, grpcsvc.MethodPlaceOrder, key("place"), placeRequest(cfg, userID), col)
	if err != nil {
		code = status.Code(err)
		return
	}
	lineID, err := firstLineID(order)
	if err != nil {
		code = codes.Internal
		return
	}

	for i, st := range scenarioSteps(cfg.mode, lineID) {
		req, err := structpb.NewStruct(st.fields)
		if err != nil {
			code = codes.Internal
			return
		}
		if _, err := invoke(client, cfg.timeout, st.method, key(fmt.Sprintf("step%d", i)), req, col); err != nil {
			code = status.Code(err)
			return
		}
	}
}

type step struct {
	method string
	fields map[string]any
}

// scenarioSteps — вызовы после размещения заказа для выбранного режима.
func scenarioSteps(mode loadMode, lineID string) []step {
	switch mode {
	case modePlaceCancel:
		return []step{
			{grpcsvc.MethodCancelOrderItem, map[string]any{"line_id": lineID, "reason": "load-cancel"}},
		}
	case modePlaceReturn:
		return []step{
			{grpcsvc.MethodUpdateOrderStatus, map[string]any{"line_id": lineID, "status": "Shipped"}},
			{grpcsvc.MethodUpdateOrderStatus, map[string]any{"line_id": lineID, "status": "Delivered"}},
			{grpcsvc.MethodRequestReturn, map[string]any{"line_id": lineID, "reason": "load-return"}},
			{grpcsvc.MethodApproveReturn, map[string]any{"line_id": lineID}},
		}
	default:
		return nil
	}
}
func invoke(client caller, timeout time.Duration, method, key string, req *structpb.Struct, col *collector) (*structpb.Struct, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, key)

	resp, err := client.Call(ctx, method, req)
	col.record(method, time.Since(start), status.Code(err))
	return resp, err
}

func placeRequest(cfg config, userID string) *structpb.Struct {
	req, _ := structpb.NewStruct(map[string]any{
		"user_id": userID,
		"lines": []any{
			map[string]any{"product_id": cfg.productID, "variant_id": cfg.variantID, "quantity": 1, "price": cfg.price},
		},
		"shipping": map[string]any{
			"name":         "Load Test",
			"address_line": "1 Bench Street",
			"city":         "Kazan",
			"state":        "Tatarstan",
			"pin_code":     "420000",
			"mobile":       "+79000000000",
		},
		"payment": map[string]any{"method": "Online", "status": "Paid", "transaction_id": "lt-" + userID},
		"prices":  map[string]any{"subtotal": cfg.price, "total": cfg.price},
	})
	return req
}

func firstLineID(order *structpb.Struct) (string, error) {
	lines := order.GetFields()["lines"].GetListValue().GetValues()
	if len(lines) == 0 {
		return "", errors.New("order without lines")
	}
	id := lines[0].GetStructValue().GetFields()["id"].GetStringValue()
	if id == "" {
		return "", errors.New("line without id")
	}
	return id, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}

	// #nosec G304 -- путь задаётся явно флагом --output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintf(out, "mode=%s scenarios=%d failed=%d duration=%.2fs rps=%.2f\n",
		cfg.mode, result.Scenarios, result.FailedScenarios, result.DurationSeconds, result.RPS)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d failed=%d p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name, stats.Calls, stats.Failed, stats.LatencyMs.P50, stats.LatencyMs.P95, stats.LatencyMs.P99)
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

// percentile интерполирует линейно между соседними рангами.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower, upper := int(math.Floor(rank)), int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
