package inference

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

// Handler runs inference in-process for one model version.
type Handler interface {
	Handle(ctx context.Context, req *types.Request) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *types.Request) ([]byte, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *types.Request) ([]byte, error) {
	return f(ctx, req)
}

// Option configures a Registry or an HTTPInvoker.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Collector
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records invocation outcomes into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type modelEntry struct {
	versions       map[string]Handler
	defaultVersion string
}

// Registry is an in-process model registry that satisfies workflow.Invoker.
// The first version registered for a model becomes its default.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]*modelEntry
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := applyOptions(opts)
	return &Registry{
		models:  make(map[string]*modelEntry),
		logger:  o.logger.With(zap.String("component", "model_registry")),
		metrics: o.metrics,
	}
}

// Register adds a handler for a model version.
func (r *Registry) Register(model, version string, h Handler) error {
	if model == "" || version == "" {
		return fmt.Errorf("model and version are required")
	}
	if h == nil {
		return fmt.Errorf("handler for %s/%s is nil", model, version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.models[model]
	if !ok {
		entry = &modelEntry{versions: make(map[string]Handler), defaultVersion: version}
		r.models[model] = entry
	}
	if _, exists := entry.versions[version]; exists {
		return fmt.Errorf("model %s version %s already registered", model, version)
	}
	entry.versions[version] = h

	r.logger.Debug("model registered", zap.String("model", model), zap.String("version", version))
	return nil
}

// SetDefaultVersion selects the version used when a reference names none.
func (r *Registry) SetDefaultVersion(model, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.models[model]
	if !ok {
		return types.NewError(types.ErrTargetNotFound, "model not registered").WithModel(model)
	}
	if _, ok := entry.versions[version]; !ok {
		return types.NewError(types.ErrTargetVersionNotFound, "model version not registered: "+version).WithModel(model)
	}
	entry.defaultVersion = version
	return nil
}

// Unregister removes a model version. Removing the default version promotes
// the lowest remaining version.
func (r *Registry) Unregister(model, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.models[model]
	if !ok {
		return
	}
	delete(entry.versions, version)
	if len(entry.versions) == 0 {
		delete(r.models, model)
		return
	}
	if entry.defaultVersion == version {
		remaining := make([]string, 0, len(entry.versions))
		for v := range entry.versions {
			remaining = append(remaining, v)
		}
		sort.Strings(remaining)
		entry.defaultVersion = remaining[0]
	}
}

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve finds the handler for ref.
func (r *Registry) Resolve(ref workflow.ServiceRef) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.models[ref.Model]
	if !ok {
		return nil, types.NewError(types.ErrTargetNotFound, "model not registered").WithModel(ref.Model)
	}

	version := ref.Version
	if version == "" {
		version = entry.defaultVersion
	}
	h, ok := entry.versions[version]
	if !ok {
		return nil, types.NewError(types.ErrTargetVersionNotFound, "model version not registered: "+version).WithModel(ref.Model)
	}
	return h, nil
}

// Invoke implements workflow.Invoker.
func (r *Registry) Invoke(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error) {
	payload, err := r.invoke(ctx, ref, req)
	if r.metrics != nil {
		r.metrics.RecordInvocation(ref.Model, string(types.GetErrorCode(err)))
	}
	return payload, err
}

func (r *Registry) invoke(ctx context.Context, ref workflow.ServiceRef, req *types.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrInterrupted, "invocation interrupted").WithCause(err).WithModel(ref.Model)
	}

	h, err := r.Resolve(ref)
	if err != nil {
		return nil, err
	}

	payload, err := h.Handle(ctx, req)
	if err != nil {
		if te, ok := types.AsError(err); ok {
			return nil, te
		}
		code := types.ErrExecutionFault
		if ctx.Err() != nil {
			code = types.ErrInterrupted
		}
		return nil, types.NewError(code, "model handler failed").WithCause(err).WithModel(ref.Model)
	}
	return payload, nil
}
