package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/lzhtan/intdb/internal/engineobs"
	"github.com/lzhtan/intdb/internal/model"
	"github.com/lzhtan/intdb/internal/query"
	"github.com/lzhtan/intdb/internal/retention"
	"github.com/lzhtan/intdb/internal/storage"
)

func main() {
	timeBucketSeconds := flag.Int64("time-bucket-seconds", 60, "Width of the time index's epoch buckets, in seconds")
	maxFlows := flag.Int("max-flows", 1_000_000, "Maximum number of flows held before InsertFlow rejects new ids (0 uses the default of 1000000)")
	retentionHours := flag.Int64("retention-hours", 24, "Hours a flow is kept after its end time before the reaper expires it")
	readOnly := flag.Bool("read-only", false, "Reject all inserts")
	metricsEnabled := flag.Bool("metrics-enabled", false, "Enable internal OpenTelemetry instrumentation")
	metricsExporter := flag.String("metrics-exporter", "none", "Metrics exporter: none, stdout, otlp-grpc, otlp-http")
	metricsOTLPEndpoint := flag.String("metrics-otlp-endpoint", "", "OTLP endpoint for the otlp-grpc/otlp-http exporters")
	tracingEnabled := flag.Bool("tracing-enabled", false, "Enable internal OpenTelemetry tracing")
	tracingExporter := flag.String("tracing-exporter", "none", "Trace exporter: none, stdout, otlp-grpc, otlp-http")
	tracingOTLPEndpoint := flag.String("tracing-otlp-endpoint", "", "OTLP endpoint for the otlp-grpc/otlp-http trace exporters")
	mode := flag.String("mode", "demo", "Run mode: demo, stats")
	flag.Parse()

	if *maxFlows < 0 {
		slog.Error("max-flows cannot be negative")
		os.Exit(1)
	}
	if *retentionHours <= 0 {
		slog.Error("retention-hours must be positive")
		os.Exit(1)
	}
	if *timeBucketSeconds <= 0 {
		slog.Error("time-bucket-seconds must be positive")
		os.Exit(1)
	}

	config := storage.Config{
		TimeBucketSizeSeconds: *timeBucketSeconds,
		MaxFlows:              *maxFlows,
		RetentionHours:        *retentionHours,
		ReadOnly:              *readOnly,
	}
	engine := storage.New(config)

	metrics, err := engineobs.New(context.Background(), engineobs.Config{
		Enabled:      *metricsEnabled,
		ServiceName:  "intdb",
		ExporterType: engineobs.ExporterType(*metricsExporter),
		OTLPEndpoint: *metricsOTLPEndpoint,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing metrics: %v\n", err)
		os.Exit(1)
	}
	engine.SetMetrics(metrics)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown failed", "error", err)
		}
	}()

	tracer, err := engineobs.NewTracer(context.Background(), engineobs.TraceConfig{
		Enabled:      *tracingEnabled,
		ServiceName:  "intdb",
		ExporterType: engineobs.ExporterType(*tracingExporter),
		OTLPEndpoint: *tracingOTLPEndpoint,
		SampleRate:   1.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing tracing: %v\n", err)
		os.Exit(1)
	}
	engine.SetTracer(tracer)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	reaper := retention.NewManager(retention.Config{RetentionHours: *retentionHours}, engine)
	reaper.Start()
	defer reaper.Stop()

	switch *mode {
	case "demo":
		runDemo(engine)
	case "stats":
		runStats(engine)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q: expected demo or stats\n", *mode)
		os.Exit(1)
	}
}

// runDemo inserts three flows, runs five example queries, and prints
// the details of the last query's flows, the way a smoke-test harness
// would.
func runDemo(engine *storage.Engine) {
	fmt.Println("IntDB storage engine demo")

	now := time.Now()

	flow1, err := buildDemoFlow("flow_001", []string{"s1", "s2", "s3"}, now,
		[]demoHopMetrics{{0.1, 100}, {0.3, 200}, {0.5, 300}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building flow_001: %v\n", err)
		os.Exit(1)
	}
	flow2, err := buildDemoFlow("flow_002", []string{"s1", "s2", "s4"}, now.Add(30*time.Second),
		[]demoHopMetrics{{0.2, 150}, {0.4, 250}, {0.1, 100}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building flow_002: %v\n", err)
		os.Exit(1)
	}
	flow3, err := buildDemoFlow("flow_003", []string{"s2", "s3", "s4"}, now.Add(2*time.Minute),
		[]demoHopMetrics{{0.6, 400}, {0.2, 200}, {0.3, 300}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building flow_003: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nInserting flows...")
	for _, f := range []*model.Flow{flow1, flow2, flow3} {
		if err := engine.InsertFlow(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error inserting %s: %v\n", f.FlowID, err)
			os.Exit(1)
		}
	}
	fmt.Printf("Inserted %d flows\n", engine.FlowCount())

	fmt.Println("\nQuery examples:")

	fmt.Println("\n1. Flows with exact path [s1 -> s2 -> s3]:")
	result, err := engine.Query(query.ExactPathQuery(flow1.Path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running query: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Found %d flows: %v\n", result.Count(), result.FlowIDs)

	fmt.Println("\n2. Flows passing through switch s2:")
	result, err = engine.Query(query.ThroughSwitchQuery("s2"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running query: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Found %d flows: %v\n", result.Count(), result.FlowIDs)

	fmt.Println("\n3. Flows in the last 5 minutes:")
	result, err = engine.Query(query.InLastMinutesQuery(5))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running query: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Found %d flows: %v\n", result.Count(), result.FlowIDs)

	fmt.Println("\n4. Flows with total delay > 500ns:")
	result, err = engine.Query(query.WithHighDelayQuery(500))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running query: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Found %d flows: %v\n", result.Count(), result.FlowIDs)

	fmt.Println("\n5. Flows through s2 with max queue utilization > 0.4:")
	complexQuery := query.New().
		WithPathCondition(query.ThroughSwitch("s2")).
		WithMetricCondition(query.MaxQueueUtilGreaterThan(0.4))
	result, err = engine.Query(complexQuery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running query: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Found %d flows: %v\n", result.Count(), result.FlowIDs)

	fmt.Println("\n6. Flow details for the last result:")
	for _, f := range engine.GetFlows(result.FlowIDs) {
		delay, _ := f.TotalDelay()
		maxUtil, _ := f.MaxQueueUtilization()
		fmt.Printf("   %s: path=%s delay=%dns max_queue_util=%.2f\n", f.FlowID, f.Path.String(), delay, maxUtil)
	}

	fmt.Println("\nDemo completed.")
}

type demoHopMetrics struct {
	queueUtil float64
	delayNs   uint64
}

func buildDemoFlow(flowID string, switches []string, start time.Time, metrics []demoHopMetrics) (*model.Flow, error) {
	hops := make([]model.Hop, len(switches))
	for i, sw := range switches {
		m := metrics[i]
		hops[i] = model.NewHopWithBasicMetrics(uint32(i), sw, start.Add(time.Duration(i)*10*time.Millisecond), m.queueUtil, m.delayNs)
	}
	return model.NewFlow(flowID, hops)
}

// runStats reports the engine's advisory memory estimate next to the
// process's actual resident set size, so the advisory estimate's drift
// from reality is visible at a glance.
func runStats(engine *storage.Engine) {
	fmt.Printf("Flow count: %d\n", engine.FlowCount())
	fmt.Printf("Estimated memory (advisory): %d bytes\n", engine.EstimateMemoryUsage())

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not read process info: %v\n", err)
		return
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		fmt.Fprintf(os.Stderr, "Could not read process memory info: %v\n", err)
		return
	}
	fmt.Printf("Process RSS: %d bytes\n", memInfo.RSS)
}
