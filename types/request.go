package types

// Parameter is a named, opaque input payload. A nil Value means the
// producing node failed and no data is available.
type Parameter struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Request carries headers and an ordered parameter list. It is used both for
// the caller's top-level request and for the per-node requests the scheduler
// synthesizes from upstream outputs.
type Request struct {
	ID         string            `json:"id,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Parameters []Parameter       `json:"parameters,omitempty"`
}

// NewRequest creates a request with the given headers and parameters.
func NewRequest(headers map[string]string, params ...Parameter) *Request {
	return &Request{
		Headers:    headers,
		Parameters: params,
	}
}

// AddParameter appends a parameter.
func (r *Request) AddParameter(name string, value []byte) {
	r.Parameters = append(r.Parameters, Parameter{Name: name, Value: value})
}

// Parameter returns the first parameter with the given name.
func (r *Request) Parameter(name string) (Parameter, bool) {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ParameterNames returns the parameter names in order.
func (r *Request) ParameterNames() []string {
	names := make([]string, len(r.Parameters))
	for i, p := range r.Parameters {
		names[i] = p.Name
	}
	return names
}

// CloneHeaders returns a copy of the header map.
func (r *Request) CloneHeaders() map[string]string {
	if r.Headers == nil {
		return nil
	}
	h := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		h[k] = v
	}
	return h
}

// Clone returns a copy whose header map and parameter slice are independent
// of r. Payload bytes are shared; they are treated as immutable.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := &Request{
		ID:      r.ID,
		Headers: r.CloneHeaders(),
	}
	if r.Parameters != nil {
		c.Parameters = make([]Parameter, len(r.Parameters))
		copy(c.Parameters, r.Parameters)
	}
	return c
}

// NodeOutput is the result of invoking one node. Err is nil on success; on
// failure Payload is nil.
type NodeOutput struct {
	NodeName string `json:"node"`
	Payload  []byte `json:"payload"`
	Err      error  `json:"-"`
}

// OK reports whether the invocation succeeded.
func (o NodeOutput) OK() bool {
	return o.Err == nil
}
