package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/agentgraph/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// httpSpec is the parsed Spec of an http tool definition.
type httpSpec struct {
	URL        string            `json:"url" yaml:"url"`
	Method     string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout    schema.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// HTTPTool calls a JSON HTTP endpoint. GET-style methods send arguments as
// query parameters; other methods send them as a JSON body.
type HTTPTool struct {
	id          string
	description string
	spec        httpSpec
	client      *http.Client
}

// NewHTTPTool creates an http tool from its definition. The definition's
// Spec field holds the endpoint description as JSON.
func NewHTTPTool(def *schema.ToolDefinition) (*HTTPTool, error) {
	var spec httpSpec
	if def.Spec == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "tool %q: http tool requires a spec", def.ID)
	}
	if err := json.Unmarshal([]byte(def.Spec), &spec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: invalid http spec: %s", def.ID, err.Error()).WithCause(err)
	}

	u, err := url.ParseRequestURI(spec.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "tool %q: invalid url %q", def.ID, spec.URL)
	}
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	spec.Method = strings.ToUpper(spec.Method)

	timeout := defaultHTTPTimeout
	if spec.Timeout > 0 {
		timeout = spec.Timeout.Std()
	}

	return &HTTPTool{
		id:          def.ID,
		description: def.Description,
		spec:        spec,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *HTTPTool) ID() string          { return t.id }
func (t *HTTPTool) Description() string { return t.description }

func (t *HTTPTool) Parameters() map[string]any {
	if t.spec.Parameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.spec.Parameters
}

func (t *HTTPTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var bodyReader io.Reader
	target := t.spec.URL

	if t.spec.Method == http.MethodGet || t.spec.Method == http.MethodHead {
		if len(args) > 0 {
			vals := url.Values{}
			for k, v := range args {
				vals.Set(k, fmt.Sprintf("%v", v))
			}
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + vals.Encode()
		}
	} else {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTool,
				"tool %q: cannot encode arguments: %s", t.id, err.Error()).WithCause(err)
		}
		bodyReader = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, t.spec.Method, target, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTool,
			"tool %q: cannot build request: %s", t.id, err.Error()).WithCause(err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range t.spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTool,
			"tool %q: request failed: %s", t.id, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTool,
			"tool %q: cannot read response: %s", t.id, err.Error()).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeTool,
			"tool %q: endpoint returned %d", t.id, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(bodyBytes)})
	}

	var parsed any
	if len(bodyBytes) == 0 {
		parsed = nil
	} else if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
			parsed = string(bodyBytes)
		}
	} else {
		parsed = string(bodyBytes)
	}

	return parsed, nil
}

var _ Tool = (*HTTPTool)(nil)
