package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/config"
	"github.com/BaSui01/ensembleflow/internal/database"
	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

// =============================================================================
// 🗄️ 执行历史
// =============================================================================

// openHistory 打开历史数据库并确保表结构存在
func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *zap.Logger) (*database.HistoryRepository, func(), error) {
	pm, err := database.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	repo := database.NewHistoryRepository(pm, logger)
	if err := repo.Migrate(ctx); err != nil {
		_ = pm.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if err := pm.Close(); err != nil {
			logger.Warn("failed to close history database", zap.Error(err))
		}
	}
	return repo, closeFn, nil
}

type historyRecord struct {
	ID        string                   `json:"id"`
	Workflow  string                   `json:"workflow"`
	Status    workflow.ExecutionStatus `json:"status"`
	StartTime time.Time                `json:"start_time"`
	Duration  string                   `json:"duration"`
	Error     string                   `json:"error,omitempty"`
	Nodes     []historyNodeRecord      `json:"nodes,omitempty"`
}

type historyNodeRecord struct {
	Node        string                   `json:"node"`
	Service     string                   `json:"service"`
	Status      workflow.ExecutionStatus `json:"status"`
	Duration    string                   `json:"duration"`
	PayloadSize int                      `json:"payload_size"`
	Error       string                   `json:"error,omitempty"`
	Code        types.ErrorCode          `json:"code,omitempty"`
}

func toHistoryRecord(h *workflow.ExecutionHistory, withNodes bool) historyRecord {
	rec := historyRecord{
		ID:        h.ExecutionID,
		Workflow:  h.WorkflowName,
		Status:    h.Status,
		StartTime: h.StartTime,
		Duration:  h.Duration.String(),
		Error:     h.Error,
	}
	if !withNodes {
		return rec
	}
	for _, n := range h.Nodes {
		rec.Nodes = append(rec.Nodes, historyNodeRecord{
			Node:        n.NodeName,
			Service:     n.Service.String(),
			Status:      n.Status,
			Duration:    n.Duration.String(),
			PayloadSize: n.PayloadSize,
			Error:       n.Error,
			Code:        n.ErrorCode,
		})
	}
	return rec
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Configuration file (YAML)")
	workflowName := fs.String("workflow-name", "", "Only runs of this workflow")
	status := fs.String("status", "", "Only runs with this status")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	id := fs.String("id", "", "Show a single run with its nodes")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *limit < 0 {
		fmt.Fprintln(stderr, "Error: --limit must not be negative")
		return exitUsage
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if cfg.History.Driver == "" {
		fmt.Fprintln(stderr, "Error: history.driver is not configured")
		return exitError
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	repo, closeRepo, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer closeRepo()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *id != "" {
		h, err := repo.Get(ctx, *id)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			if errors.Is(err, database.ErrHistoryNotFound) {
				return exitUsage
			}
			return exitError
		}
		if err := enc.Encode(toHistoryRecord(h, true)); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		return exitOK
	}

	runs, err := repo.List(ctx, database.HistoryQuery{
		WorkflowName: *workflowName,
		Status:       workflow.ExecutionStatus(*status),
		Limit:        *limit,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	records := make([]historyRecord, 0, len(runs))
	for _, h := range runs {
		records = append(records, toHistoryRecord(h, false))
	}
	if err := enc.Encode(records); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}
