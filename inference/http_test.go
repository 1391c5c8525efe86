package inference

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ensembleflow/config"
	"github.com/BaSui01/ensembleflow/internal/ctxkeys"
	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

func newInvoker(t *testing.T, url string, mutate ...func(*config.InferenceConfig)) *HTTPInvoker {
	t.Helper()
	cfg := config.InferenceConfig{BaseURL: url, Timeout: 5 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	inv, err := NewHTTPInvoker(cfg)
	require.NoError(t, err)
	return inv
}

func TestHTTPInvoker_RawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predictions/resnet/2.0", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.Equal(t, "tenant-a", r.Header.Get("X-Tenant"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "image-bytes", string(body))
		_, _ = w.Write([]byte(`{"label":"cat"}`))
	}))
	defer srv.Close()

	req := types.NewRequest(map[string]string{"X-Tenant": "tenant-a"}, types.Parameter{Name: "body", Value: []byte("image-bytes")})
	req.ID = "req-1"

	out, err := newInvoker(t, srv.URL).Invoke(context.Background(), workflow.ServiceRef{Model: "resnet", Version: "2.0"}, req)
	require.NoError(t, err)
	assert.Equal(t, `{"label":"cat"}`, string(out))
}

func TestHTTPInvoker_Multipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predictions/aggregate", r.URL.Path)

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "multipart/form-data", mediaType)

		parts := map[string]string{}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if !assert.NoError(t, err) {
				return
			}
			data, _ := io.ReadAll(p)
			parts[p.FormName()] = string(data)
		}
		assert.Equal(t, map[string]string{"m1": "cat", "m2": ""}, parts)
		_, _ = w.Write([]byte("cat"))
	}))
	defer srv.Close()

	req := types.NewRequest(nil,
		types.Parameter{Name: "m1", Value: []byte("cat")},
		types.Parameter{Name: "m2", Value: nil},
	)

	out, err := newInvoker(t, srv.URL+"/").Invoke(context.Background(), workflow.ServiceRef{Model: "aggregate"}, req)
	require.NoError(t, err)
	assert.Equal(t, "cat", string(out))
}

func TestHTTPInvoker_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		ref    workflow.ServiceRef
		want   types.ErrorCode
		msg    string
	}{
		{
			name:   "model not found",
			status: http.StatusNotFound,
			body:   `{"code":404,"type":"ModelNotFoundException","message":"Model not found: resnet"}`,
			ref:    workflow.ServiceRef{Model: "resnet", Version: "1.0"},
			want:   types.ErrTargetNotFound,
			msg:    "Model not found: resnet",
		},
		{
			name:   "version not found",
			status: http.StatusNotFound,
			body:   `{"code":404,"type":"ModelVersionNotFoundException","message":"Model version 3 not found"}`,
			ref:    workflow.ServiceRef{Model: "resnet", Version: "3"},
			want:   types.ErrTargetVersionNotFound,
			msg:    "Model version 3 not found",
		},
		{
			name:   "plain 404 with version",
			status: http.StatusNotFound,
			ref:    workflow.ServiceRef{Model: "resnet", Version: "3"},
			want:   types.ErrTargetVersionNotFound,
			msg:    "Not Found",
		},
		{
			name:   "plain 404 without version",
			status: http.StatusNotFound,
			ref:    workflow.ServiceRef{Model: "resnet"},
			want:   types.ErrTargetNotFound,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "worker died",
			ref:    workflow.ServiceRef{Model: "resnet"},
			want:   types.ErrExecutionFault,
			msg:    "worker died",
		},
		{
			name:   "service unavailable",
			status: http.StatusServiceUnavailable,
			ref:    workflow.ServiceRef{Model: "resnet"},
			want:   types.ErrExecutionFault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out, err := newInvoker(t, srv.URL).Invoke(context.Background(), tt.ref, types.NewRequest(nil))
			assert.Nil(t, out)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, tt.want), "got %v", err)

			te, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, te.HTTPStatus)
			assert.Equal(t, tt.ref.Model, te.Model)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, te.Message)
			}
		})
	}
}

func TestHTTPInvoker_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newInvoker(t, srv.URL).Invoke(ctx, workflow.ServiceRef{Model: "slow"}, types.NewRequest(nil))
	assert.True(t, types.IsErrorCode(err, types.ErrInterrupted), "got %v", err)
}

func TestHTTPInvoker_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newInvoker(t, url).Invoke(context.Background(), workflow.ServiceRef{Model: "m"}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionFault), "got %v", err)
}

func TestHTTPInvoker_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	inv := newInvoker(t, srv.URL, func(c *config.InferenceConfig) {
		c.RateLimitRPS = 0.1
		c.RateLimitBurst = 1
	})

	_, err := inv.Invoke(context.Background(), workflow.ServiceRef{Model: "m"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, workflow.ServiceRef{Model: "m"}, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInterrupted), "got %v", err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPInvoker_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predictions/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	collector := metrics.NewCollector("http", nil)
	inv, err := NewHTTPInvoker(config.InferenceConfig{BaseURL: srv.URL}, WithMetrics(collector))
	require.NoError(t, err)

	_, _ = inv.Invoke(context.Background(), workflow.ServiceRef{Model: "ok"}, nil)
	_, _ = inv.Invoke(context.Background(), workflow.ServiceRef{Model: "missing"}, nil)

	families, err := collector.Registry().Gather()
	require.NoError(t, err)
	codesSeen := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "http_inference_invocations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "code" {
					codesSeen[l.GetValue()] = true
				}
			}
		}
	}
	assert.Equal(t, map[string]bool{"OK": true, "TARGET_NOT_FOUND": true}, codesSeen)
}

func TestNewHTTPInvoker_InvalidBaseURL(t *testing.T) {
	_, err := NewHTTPInvoker(config.InferenceConfig{BaseURL: "ftp://models"})
	assert.Error(t, err)

	_, err = NewHTTPInvoker(config.InferenceConfig{BaseURL: "://bad"})
	assert.Error(t, err)

	_, err = NewHTTPInvoker(config.InferenceConfig{BaseURL: "https://models", CAFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}

func TestHTTPInvoker_CorrelationHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "run-42", r.Header.Get("X-Workflow-Run-ID"))
		assert.Equal(t, "m1", r.Header.Get("X-Workflow-Node"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx := ctxkeys.WithNode(ctxkeys.WithRunID(context.Background(), "run-42"), "m1")
	out, err := newInvoker(t, srv.URL).Invoke(ctx, workflow.ServiceRef{Model: "resnet"}, types.NewRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}

func TestHTTPInvoker_TLSInsecureSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	_, err := newInvoker(t, srv.URL).Invoke(context.Background(), workflow.ServiceRef{Model: "m"}, types.NewRequest(nil))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecutionFault))

	inv := newInvoker(t, srv.URL, func(c *config.InferenceConfig) { c.InsecureSkipVerify = true })
	out, err := inv.Invoke(context.Background(), workflow.ServiceRef{Model: "m"}, types.NewRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "secure", string(out))
}

func TestHTTPInvoker_Endpoint(t *testing.T) {
	inv := newInvoker(t, "http://models:8080/api/")
	assert.Equal(t, "http://models:8080/api/predictions/resnet", inv.Endpoint(workflow.ServiceRef{Model: "resnet"}))
	assert.Equal(t, "http://models:8080/api/predictions/resnet/2.0", inv.Endpoint(workflow.ServiceRef{Model: "resnet", Version: "2.0"}))
}
