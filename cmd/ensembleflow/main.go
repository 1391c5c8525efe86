// =============================================================================
// EnsembleFlow 主入口
// =============================================================================
// 推理工作流命令行工具
//
// 使用方法:
//
//	ensembleflow plan --workflow wf.yaml                      # 打印拓扑执行顺序
//	ensembleflow run --workflow wf.yaml --input body=img.jpg  # 执行工作流
//	ensembleflow run --workflow wf.yaml --request a.json --request b.json
//	ensembleflow history --config config.yaml                 # 查看执行历史
//	ensembleflow version                                      # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ensembleflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	switch args[0] {
	case "plan":
		return runPlan(args[1:], stdout, stderr)
	case "run":
		return runRun(args[1:], stdout, stderr)
	case "history":
		return runHistory(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return exitUsage
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "EnsembleFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `EnsembleFlow - inference workflow DAG runner

Usage:
  ensembleflow <command> [options]

Commands:
  plan      Print the order in which nodes would run
  run       Execute a workflow against a model server
  history   List recorded workflow runs
  version   Show version information
  help      Show this help message

Options for 'plan':
  --workflow <path>     Workflow definition (YAML or JSON)
  --json                Print the order as a JSON array

Options for 'run':
  --workflow <path>     Workflow definition (YAML or JSON)
  --config <path>       Configuration file (YAML)
  --input name=path     Request parameter read from a file (repeatable)
  --header key=value    Request header (repeatable)
  --request <path>      JSON request file; each one is a separate run (repeatable)
  --base-url <url>      Override inference.base_url
  --timeout <duration>  Abort the run after this long
  --metrics-file <path> Write Prometheus metrics to a textfile after the run
  --parallel <n>        Maximum concurrent runs for --request batches (default 4)

Options for 'history':
  --config <path>       Configuration file with a history section
  --workflow-name <n>   Only runs of this workflow
  --status <status>     Only runs with this status (completed, degraded, failed)
  --limit <n>           Maximum number of runs to list (default 20)
  --id <execution-id>   Show a single run with its nodes

Examples:
  ensembleflow plan --workflow ensemble.yaml
  ensembleflow run --workflow ensemble.yaml --input body=kitten.jpg --header X-Tenant=demo
  ensembleflow history --config config.yaml --status degraded
  ensembleflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

// =============================================================================
// 🧩 重复参数
// =============================================================================

// keyValueFlag collects repeated key=value flags in order.
type keyValueFlag struct {
	pairs [][2]string
}

func (f *keyValueFlag) String() string {
	parts := make([]string, len(f.pairs))
	for i, p := range f.pairs {
		parts[i] = p[0] + "=" + p[1]
	}
	return strings.Join(parts, ",")
}

func (f *keyValueFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	f.pairs = append(f.pairs, [2]string{key, val})
	return nil
}

// stringsFlag collects repeated string flags in order.
type stringsFlag []string

func (f *stringsFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *stringsFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}
