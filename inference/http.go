package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/ensembleflow/config"
	"github.com/BaSui01/ensembleflow/internal/ctxkeys"
	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/internal/pool"
	"github.com/BaSui01/ensembleflow/internal/tlsutil"
	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

const instrumentationName = "github.com/BaSui01/ensembleflow/inference"

// bodyParameter is the parameter sent as the raw request body when it is the
// only one.
const bodyParameter = "body"

// Correlation headers added to every prediction request.
const (
	headerRequestID = "X-Request-ID"
	headerRunID     = "X-Workflow-Run-ID"
	headerNode      = "X-Workflow-Node"
)

// HTTPInvoker calls a model server predictions API:
//
//	POST {base}/predictions/{model}[/{version}]
//
// A request holding only a "body" parameter is sent as the raw body; any
// other request is sent as multipart/form-data with one part per parameter.
type HTTPInvoker struct {
	baseURL *url.URL
	client  *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewHTTPInvoker creates an invoker from the inference configuration.
func NewHTTPInvoker(cfg config.InferenceConfig, opts ...Option) (*HTTPInvoker, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid inference base_url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid inference base_url %q: scheme must be http or https", cfg.BaseURL)
	}

	tlsCfg, err := tlsutil.ClientConfig(cfg.CAFile, cfg.InsecureSkipVerify)
	if err != nil {
		return nil, fmt.Errorf("invalid inference TLS settings: %w", err)
	}

	o := applyOptions(opts)

	inv := &HTTPInvoker{
		baseURL: base,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout, tlsCfg),
		tracer:  otel.Tracer(instrumentationName),
		logger:  o.logger.With(zap.String("component", "http_invoker")),
		metrics: o.metrics,
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		inv.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return inv, nil
}

// Endpoint returns the predictions URL for ref.
func (h *HTTPInvoker) Endpoint(ref workflow.ServiceRef) string {
	u := *h.baseURL
	segments := []string{"predictions", ref.Model}
	if ref.Version != "" {
		segments = append(segments, ref.Version)
	}
	return u.JoinPath(segments...).String()
}

// Invoke implements workflow.Invoker.
func (h *HTTPInvoker) Invoke(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error) {
	ctx, span := h.tracer.Start(ctx, "inference.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("inference.model", ref.Model),
			attribute.String("inference.version", ref.Version),
		))
	defer span.End()

	start := time.Now()
	payload, err := h.invoke(ctx, ref, req)

	if h.metrics != nil {
		h.metrics.RecordInvocation(ref.Model, string(types.GetErrorCode(err)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	h.logger.Debug("model invocation succeeded",
		zap.String("model", ref.String()),
		zap.Int("payload_size", len(payload)),
		zap.Duration("duration", time.Since(start)),
	)
	return payload, nil
}

func (h *HTTPInvoker) invoke(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrInterrupted, "rate limiter wait aborted").WithCause(err).WithModel(ref.Model)
		}
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, types.NewError(types.ErrExecutionFault, "failed to encode request").WithCause(err).WithModel(ref.Model)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint(ref), body)
	if err != nil {
		return nil, types.NewError(types.ErrExecutionFault, "failed to build request").WithCause(err).WithModel(ref.Model)
	}
	if req != nil {
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if req.ID != "" {
			httpReq.Header.Set(headerRequestID, req.ID)
		}
	}
	if runID, ok := ctxkeys.RunID(ctx); ok {
		httpReq.Header.Set(headerRunID, runID)
	}
	if node, ok := ctxkeys.Node(ctx); ok {
		httpReq.Header.Set(headerNode, node)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err, ref)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, kind := readErrMsg(resp.Body)
		return nil, mapHTTPError(resp.StatusCode, msg, kind, ref)
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, transportError(ctx, err, ref)
	}
	return bytes.Clone(buf.Bytes()), nil
}

// encodeBody renders the parameters of req as an HTTP body.
func encodeBody(req *types.Request) (io.Reader, string, error) {
	if req == nil || len(req.Parameters) == 0 {
		return http.NoBody, "", nil
	}

	if len(req.Parameters) == 1 && req.Parameters[0].Name == bodyParameter {
		return bytes.NewReader(req.Parameters[0].Value), "application/octet-stream", nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range req.Parameters {
		part, err := mw.CreateFormField(p.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(p.Value); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
