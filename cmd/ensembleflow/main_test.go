package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ensembleflow/types"
)

const ensembleWorkflow = `
name: ensemble
models:
  pre:
    model: preprocess
  m1:
    model: resnet
    version: "2"
  m2:
    model: vgg
  agg:
    model: aggregate
dag:
  pre: [m1, m2]
  m1: [agg]
  m2: [agg]
`

const quietConfig = `
log:
  level: error
metrics:
  enabled: true
  namespace: cli
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// modelServer echoes the invoked path as JSON and records request headers
// per path. Paths listed in fail answer 404.
type modelServer struct {
	mu      sync.Mutex
	tenants map[string][]string
	fail    map[string]bool
}

func newModelServer(t *testing.T, fail ...string) (*modelServer, *httptest.Server) {
	t.Helper()
	ms := &modelServer{tenants: make(map[string][]string), fail: make(map[string]bool)}
	for _, p := range fail {
		ms.fail[p] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		ms.mu.Lock()
		ms.tenants[r.URL.Path] = append(ms.tenants[r.URL.Path], r.Header.Get("X-Tenant"))
		failed := ms.fail[r.URL.Path]
		ms.mu.Unlock()

		if failed {
			http.Error(w, `{"code":404,"type":"ModelNotFoundException","message":"gone"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path})
	}))
	t.Cleanup(srv.Close)
	return ms, srv
}

func (ms *modelServer) tenantsFor(path string) []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.tenants[path]...)
}

func decodeResults(t *testing.T, out *bytes.Buffer) []runResult {
	t.Helper()
	var results []runResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results), out.String())
	return results
}

func TestDispatch_Commands(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{name: "no args", args: nil, wantCode: exitUsage, wantErr: "Usage:"},
		{name: "version", args: []string{"version"}, wantCode: exitOK, wantOut: "EnsembleFlow dev"},
		{name: "help", args: []string{"help"}, wantCode: exitOK, wantOut: "Commands:"},
		{name: "unknown", args: []string{"serve"}, wantCode: exitUsage, wantErr: "Unknown command: serve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := dispatch(tt.args, &stdout, &stderr)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantOut != "" {
				assert.Contains(t, stdout.String(), tt.wantOut)
			}
			if tt.wantErr != "" {
				assert.Contains(t, stderr.String(), tt.wantErr)
			}
		})
	}
}

func TestRunPlan(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)

	t.Run("json", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, exitOK, runPlan([]string{"--workflow", wf, "--json"}, &stdout, &stderr), stderr.String())

		var order []string
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &order))
		require.Len(t, order, 4)
		assert.Equal(t, "pre", order[0])
		assert.Equal(t, "agg", order[3])
		assert.ElementsMatch(t, []string{"m1", "m2"}, order[1:3])
	})

	t.Run("text", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.Equal(t, exitOK, runPlan([]string{"--workflow", wf}, &stdout, &stderr), stderr.String())

		lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "pre\tpreprocess", lines[0])
		assert.Contains(t, lines, "m1\tresnet/2")
	})

	t.Run("missing workflow flag", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitUsage, runPlan(nil, &stdout, &stderr))
	})

	t.Run("cyclic workflow", func(t *testing.T) {
		cyclic := writeFile(t, dir, "cyclic.yaml", `
models:
  a: {model: a}
  b: {model: b}
dag:
  a: [b]
  b: [a]
`)
		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitError, runPlan([]string{"--workflow", cyclic}, &stdout, &stderr))
		assert.Contains(t, stderr.String(), "GRAPH_INVALID")
	})
}

func TestRunRun_Ensemble(t *testing.T) {
	ms, srv := newModelServer(t)
	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)
	cfg := writeFile(t, dir, "config.yaml", quietConfig)
	img := writeFile(t, dir, "kitten.jpg", "raw-image-bytes")
	metricsFile := filepath.Join(dir, "metrics.prom")

	var stdout, stderr bytes.Buffer
	code := runRun([]string{
		"--workflow", wf,
		"--config", cfg,
		"--base-url", srv.URL,
		"--input", "body=" + img,
		"--header", "X-Tenant=acme",
		"--metrics-file", metricsFile,
	}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	results := decodeResults(t, &stdout)
	require.Len(t, results, 1)
	assert.Equal(t, "cli", results[0].Request)
	assert.Empty(t, results[0].Error)
	require.Len(t, results[0].Outputs, 1)

	out := results[0].Outputs[0]
	assert.Equal(t, "agg", out.Node)
	assert.Equal(t, map[string]any{"path": "/predictions/aggregate"}, out.Payload)

	for _, path := range []string{
		"/predictions/preprocess",
		"/predictions/resnet/2",
		"/predictions/vgg",
		"/predictions/aggregate",
	} {
		assert.Equal(t, []string{"acme"}, ms.tenantsFor(path), path)
	}

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `cli_workflow_runs_total{mode="execute",status="completed"} 1`)
}

func TestRunRun_FailedNodeDegradesRun(t *testing.T) {
	ms, srv := newModelServer(t, "/predictions/vgg")
	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)
	cfg := writeFile(t, dir, "config.yaml", quietConfig)

	var stdout, stderr bytes.Buffer
	code := runRun([]string{"--workflow", wf, "--config", cfg, "--base-url", srv.URL}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	results := decodeResults(t, &stdout)
	require.Len(t, results, 1)
	require.Len(t, results[0].Outputs, 1)
	assert.Equal(t, "agg", results[0].Outputs[0].Node)
	assert.Empty(t, results[0].Outputs[0].Error)
	assert.Len(t, ms.tenantsFor("/predictions/aggregate"), 1, "aggregate still runs after a failed parent")
}

func TestRunRun_RequestBatch(t *testing.T) {
	ms, srv := newModelServer(t)
	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)
	cfg := writeFile(t, dir, "config.yaml", quietConfig)

	first := writeFile(t, dir, "first.json", `{"id":"req-1","headers":{"X-Tenant":"one"}}`)
	second := writeFile(t, dir, "second.json", `{"headers":{"X-Tenant":"two"},"parameters":[{"name":"body","value":"aGVsbG8="}]}`)

	var stdout, stderr bytes.Buffer
	code := runRun([]string{
		"--workflow", wf,
		"--config", cfg,
		"--base-url", srv.URL,
		"--request", first,
		"--request", second,
		"--parallel", "2",
	}, &stdout, &stderr)
	require.Equal(t, exitOK, code, stderr.String())

	results := decodeResults(t, &stdout)
	require.Len(t, results, 2)
	assert.Equal(t, "req-1", results[0].Request)
	assert.Equal(t, second, results[1].Request)
	assert.ElementsMatch(t, []string{"one", "two"}, ms.tenantsFor("/predictions/aggregate"))
}

func TestRunRun_UsageErrors(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing workflow", args: nil},
		{name: "input and request", args: []string{"--workflow", wf, "--input", "body=x", "--request", "r.json"}},
		{name: "bad header", args: []string{"--workflow", wf, "--header", "novalue"}},
		{name: "zero parallel", args: []string{"--workflow", wf, "--parallel", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, exitUsage, runRun(tt.args, &stdout, &stderr))
			assert.Empty(t, stdout.String())
		})
	}
}

func TestRunRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)
	cfg := writeFile(t, dir, "config.yaml", "scheduler:\n  failure_policy: retry\n")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitError, runRun([]string{"--workflow", wf, "--config", cfg}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "failure_policy")
}

func TestBuildRequests_Inputs(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.bin", "alpha")

	opts := &runOptions{}
	require.NoError(t, opts.inputs.Set("body="+a))
	require.NoError(t, opts.headers.Set("X-Trace=abc"))

	batch, err := buildRequests(opts)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	req := batch[0].req
	assert.Equal(t, map[string]string{"X-Trace": "abc"}, req.Headers)
	assert.Equal(t, []types.Parameter{{Name: "body", Value: []byte("alpha")}}, req.Parameters)
}

func TestBuildRequests_HeaderFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "r.json", `{"headers":{"X-Tenant":"file","X-Keep":"yes"}}`)

	opts := &runOptions{requestFiles: stringsFlag{path}}
	require.NoError(t, opts.headers.Set("X-Tenant=flag"))

	batch, err := buildRequests(opts)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, path, batch[0].label)
	assert.Equal(t, map[string]string{"X-Tenant": "flag", "X-Keep": "yes"}, batch[0].req.Headers)
}

func TestBuildRequests_Errors(t *testing.T) {
	dir := t.TempDir()

	missing := &runOptions{}
	require.NoError(t, missing.inputs.Set("body="+filepath.Join(dir, "nope")))
	_, err := buildRequests(missing)
	assert.Error(t, err)

	bad := &runOptions{requestFiles: stringsFlag{writeFile(t, dir, "bad.json", "{")}}
	_, err = buildRequests(bad)
	assert.Error(t, err)
}

func TestToOutputRecord(t *testing.T) {
	rec := toOutputRecord(types.NodeOutput{NodeName: "n", Payload: []byte(`{"label":"cat"}`)})
	assert.Equal(t, json.RawMessage(`{"label":"cat"}`), rec.Payload)

	rec = toOutputRecord(types.NodeOutput{NodeName: "n", Payload: []byte("plain text")})
	assert.Equal(t, "plain text", rec.Payload)

	rec = toOutputRecord(types.NodeOutput{
		NodeName: "n",
		Err:      types.NewError(types.ErrTargetNotFound, "missing"),
	})
	assert.Nil(t, rec.Payload)
	assert.Equal(t, types.ErrTargetNotFound, rec.Code)
	assert.NotEmpty(t, rec.Error)
}

func TestKeyValueFlag(t *testing.T) {
	var f keyValueFlag
	require.NoError(t, f.Set("a=1"))
	require.NoError(t, f.Set("b=x=y"))
	assert.Equal(t, "a=1,b=x=y", f.String())

	assert.Error(t, f.Set("=v"))
	assert.Error(t, f.Set("novalue"))
}

func TestRunRun_CachedResultsSkipModelServer(t *testing.T) {
	mr := miniredis.RunT(t)
	ms, srv := newModelServer(t)
	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)
	img := writeFile(t, dir, "kitten.jpg", "raw-image-bytes")
	cfg := writeFile(t, dir, "config.yaml", `
log:
  level: error
cache:
  enabled: true
  addr: `+mr.Addr()+`
  ttl: 1m
`)

	args := []string{
		"--workflow", wf,
		"--config", cfg,
		"--base-url", srv.URL,
		"--input", "body=" + img,
		"--header", "X-Tenant=acme",
	}

	var first, second, stderr bytes.Buffer
	require.Equal(t, exitOK, runRun(args, &first, &stderr), stderr.String())
	require.Equal(t, exitOK, runRun(args, &second, &stderr), stderr.String())

	assert.Equal(t, decodeResults(t, &first), decodeResults(t, &second))
	assert.Len(t, ms.tenantsFor("/predictions/aggregate"), 1)
	assert.Len(t, ms.tenantsFor("/predictions/preprocess"), 1)
	assert.Len(t, mr.Keys(), 4)
}

func TestRunRun_CacheUnreachable(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	dir := t.TempDir()
	wf := writeFile(t, dir, "wf.yaml", ensembleWorkflow)
	cfg := writeFile(t, dir, "config.yaml", `
log:
  level: error
cache:
  enabled: true
  addr: `+addr+`
`)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitError, runRun([]string{"--workflow", wf, "--config", cfg, "--base-url", "http://127.0.0.1:1"}, &stdout, &stderr))
}
