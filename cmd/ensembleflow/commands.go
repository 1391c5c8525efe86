package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ensembleflow/config"
	"github.com/BaSui01/ensembleflow/inference"
	"github.com/BaSui01/ensembleflow/internal/cache"
	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/internal/server"
	"github.com/BaSui01/ensembleflow/internal/telemetry"
	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

const shutdownTimeout = 5 * time.Second

// =============================================================================
// 🗺️ plan 命令
// =============================================================================

func runPlan(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workflowPath := fs.String("workflow", "", "Workflow definition (YAML or JSON)")
	asJSON := fs.Bool("json", false, "Print the order as a JSON array")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *workflowPath == "" {
		fmt.Fprintln(stderr, "Error: --workflow is required")
		return exitUsage
	}

	def, graph, err := loadWorkflow(*workflowPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	scheduler := workflow.NewScheduler(graph, nil, workflow.WithWorkflowName(def.Name))
	order, err := scheduler.Plan(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		if err := enc.Encode(order); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		return exitOK
	}
	for _, name := range order {
		ref, _ := graph.Node(name)
		fmt.Fprintf(stdout, "%s\t%s\n", name, ref.Service)
	}
	return exitOK
}

// =============================================================================
// 🚀 run 命令
// =============================================================================

type runOptions struct {
	workflowPath string
	configPath   string
	baseURL      string
	timeout      time.Duration
	metricsFile  string
	parallel     int
	inputs       keyValueFlag
	headers      keyValueFlag
	requestFiles stringsFlag
}

func parseRunOptions(args []string, stderr io.Writer) (*runOptions, error) {
	opts := &runOptions{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.workflowPath, "workflow", "", "Workflow definition (YAML or JSON)")
	fs.StringVar(&opts.configPath, "config", "", "Configuration file (YAML)")
	fs.StringVar(&opts.baseURL, "base-url", "", "Override inference.base_url")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Abort the run after this long")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to a textfile after the run")
	fs.IntVar(&opts.parallel, "parallel", 4, "Maximum concurrent runs when several requests are given")
	fs.Var(&opts.inputs, "input", "Request parameter as name=path (repeatable)")
	fs.Var(&opts.headers, "header", "Request header as key=value (repeatable)")
	fs.Var(&opts.requestFiles, "request", "JSON request file (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.workflowPath == "" {
		return nil, errors.New("--workflow is required")
	}
	if len(opts.inputs.pairs) > 0 && len(opts.requestFiles) > 0 {
		return nil, errors.New("--input and --request cannot be combined")
	}
	if opts.parallel < 1 {
		return nil, errors.New("--parallel must be at least 1")
	}
	return opts, nil
}

func runRun(args []string, stdout, stderr io.Writer) int {
	opts, err := parseRunOptions(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitUsage
	}

	cfg, err := config.NewLoader().
		WithConfigPath(opts.configPath).
		WithValidator(func(c *config.Config) error {
			if opts.baseURL != "" {
				c.Inference.BaseURL = opts.baseURL
			}
			return c.Validate()
		}).
		Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	def, graph, err := loadWorkflow(opts.workflowPath)
	if err != nil {
		logger.Error("failed to load workflow", zap.String("path", opts.workflowPath), zap.Error(err))
		return exitError
	}

	requests, err := buildRequests(opts)
	if err != nil {
		logger.Error("failed to build requests", zap.Error(err))
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		if cfg.Metrics.Addr != "" {
			srvCfg := server.DefaultConfig()
			srvCfg.Addr = cfg.Metrics.Addr
			srv := server.NewManager(collector.Handler(), srvCfg, logger)
			if err := srv.Start(); err != nil {
				logger.Error("failed to start metrics server", zap.Error(err))
				return exitError
			}
			defer func() { _ = srv.Shutdown(context.Background()) }()
		}
	}

	var invoker workflow.Invoker
	httpInvoker, err := inference.NewHTTPInvoker(cfg.Inference,
		inference.WithLogger(logger),
		inference.WithMetrics(collector),
	)
	if err != nil {
		logger.Error("failed to create invoker", zap.Error(err))
		return exitError
	}
	invoker = httpInvoker

	if cfg.Cache.Enabled {
		mgr, err := cache.NewManager(ctx, cfg.Cache, logger)
		if err != nil {
			logger.Error("failed to connect to cache", zap.Error(err))
			return exitError
		}
		defer func() { _ = mgr.Close() }()
		invoker = inference.NewCachingInvoker(invoker, mgr, cfg.Cache.TTL,
			inference.WithLogger(logger),
			inference.WithMetrics(collector),
		)
	}

	policy, err := workflow.ParseFailurePolicy(cfg.Scheduler.FailurePolicy)
	if err != nil {
		logger.Error("invalid failure policy", zap.Error(err))
		return exitError
	}

	schedOpts := []workflow.SchedulerOption{
		workflow.WithWorkflowName(def.Name),
		workflow.WithWorkers(cfg.Scheduler.Workers),
		workflow.WithFailurePolicy(policy),
		workflow.WithDrainCompletions(cfg.Scheduler.DrainCompletions),
		workflow.WithLogger(logger),
		workflow.WithMetrics(collector),
	}

	if cfg.History.Driver != "" {
		repo, closeRepo, err := openHistory(ctx, cfg.History, logger)
		if err != nil {
			logger.Error("failed to open execution history", zap.Error(err))
			return exitError
		}
		defer closeRepo()
		schedOpts = append(schedOpts, workflow.WithHistory(repo))
	}

	scheduler := workflow.NewScheduler(graph, invoker, schedOpts...)

	results, runErr := executeBatch(ctx, scheduler, requests, opts.parallel)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		logger.Error("failed to write results", zap.Error(err))
		return exitError
	}

	if opts.metricsFile != "" && collector != nil {
		if err := prometheus.WriteToTextfile(opts.metricsFile, collector.Registry()); err != nil {
			logger.Error("failed to write metrics file", zap.String("path", opts.metricsFile), zap.Error(err))
			return exitError
		}
	}

	if runErr != nil {
		logger.Error("workflow run aborted", zap.Error(runErr))
		return exitError
	}
	for _, r := range results {
		if r.Error != "" {
			return exitError
		}
	}
	return exitOK
}

// =============================================================================
// 📥 输入构建
// =============================================================================

func loadWorkflow(path string) (*workflow.Definition, *workflow.Graph, error) {
	def, err := workflow.LoadDefinitionFile(path)
	if err != nil {
		return nil, nil, err
	}
	graph, err := def.Graph()
	if err != nil {
		return nil, nil, err
	}
	return def, graph, nil
}

type labeledRequest struct {
	label string
	req   *types.Request
}

// buildRequests turns the command line into the batch of requests to run.
// Each --request file is one run; otherwise --input flags form a single run.
// --header values are set on every request and override file headers.
func buildRequests(opts *runOptions) ([]labeledRequest, error) {
	headers := make(map[string]string, len(opts.headers.pairs))
	for _, kv := range opts.headers.pairs {
		headers[kv[0]] = kv[1]
	}

	if len(opts.requestFiles) == 0 {
		req := types.NewRequest(headers)
		for _, kv := range opts.inputs.pairs {
			data, err := os.ReadFile(kv[1])
			if err != nil {
				return nil, fmt.Errorf("read input %s: %w", kv[0], err)
			}
			req.AddParameter(kv[0], data)
		}
		return []labeledRequest{{label: "cli", req: req}}, nil
	}

	batch := make([]labeledRequest, 0, len(opts.requestFiles))
	for _, path := range opts.requestFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read request %s: %w", path, err)
		}
		var req types.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse request %s: %w", path, err)
		}
		if req.Headers == nil {
			req.Headers = make(map[string]string, len(headers))
		}
		maps.Copy(req.Headers, headers)
		label := req.ID
		if label == "" {
			label = path
		}
		batch = append(batch, labeledRequest{label: label, req: &req})
	}
	return batch, nil
}

// =============================================================================
// 📤 批量执行
// =============================================================================

type runResult struct {
	Request string          `json:"request"`
	Outputs []outputRecord  `json:"outputs"`
	Error   string          `json:"error,omitempty"`
	Code    types.ErrorCode `json:"code,omitempty"`
}

type outputRecord struct {
	Node    string          `json:"node"`
	Payload any             `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    types.ErrorCode `json:"code,omitempty"`
}

// executeBatch runs every request through the scheduler with at most
// parallel runs in flight. An interrupted run cancels the rest.
func executeBatch(ctx context.Context, scheduler *workflow.Scheduler, batch []labeledRequest, parallel int) ([]runResult, error) {
	results := make([]runResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, item := range batch {
		g.Go(func() error {
			outputs, err := scheduler.Execute(gctx, item.req)
			res := runResult{Request: item.label, Outputs: make([]outputRecord, 0, len(outputs))}
			for _, out := range outputs {
				res.Outputs = append(res.Outputs, toOutputRecord(out))
			}
			if err != nil {
				res.Error = err.Error()
				res.Code = types.GetErrorCode(err)
			}
			results[i] = res
			if types.IsErrorCode(err, types.ErrInterrupted) {
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// toOutputRecord renders a payload inline when it is JSON and as a string
// otherwise.
func toOutputRecord(out types.NodeOutput) outputRecord {
	rec := outputRecord{Node: out.NodeName}
	if out.Err != nil {
		rec.Error = out.Err.Error()
		rec.Code = types.GetErrorCode(out.Err)
	}
	if out.Payload != nil {
		if json.Valid(out.Payload) {
			rec.Payload = json.RawMessage(out.Payload)
		} else {
			rec.Payload = string(out.Payload)
		}
	}
	return rec
}
