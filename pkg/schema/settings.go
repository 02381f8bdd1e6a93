package schema

// Backoff strategies for retry policies.
const (
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// CallSettings are the tunable parameters of one model call. They layer:
// node parameters override agent defaults override engine defaults, field
// by field (nil or zero means inherit).
type CallSettings struct {
	Model       string       `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64     `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout     Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry       *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// RetryPolicy controls retry of a failing call.
type RetryPolicy struct {
	Max      int      `json:"max,omitempty" yaml:"max,omitempty"`
	Backoff  string   `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Delay    Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	MaxDelay Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// MergeCallSettings layers override on top of base, field by field.
// Either argument may be nil.
func MergeCallSettings(base, override *CallSettings) *CallSettings {
	if base == nil && override == nil {
		return &CallSettings{}
	}
	merged := &CallSettings{}
	if base != nil {
		*merged = *base
	}
	if override == nil {
		return merged
	}
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.Temperature != nil {
		merged.Temperature = override.Temperature
	}
	if override.TopP != nil {
		merged.TopP = override.TopP
	}
	if override.MaxTokens != 0 {
		merged.MaxTokens = override.MaxTokens
	}
	if override.Timeout != 0 {
		merged.Timeout = override.Timeout
	}
	if override.Retry != nil {
		merged.Retry = override.Retry
	}
	return merged
}
