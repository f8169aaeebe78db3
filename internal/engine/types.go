package engine

import (
	"fmt"
	"time"

	"github.com/covenantql/covenant/pkg/types"
)

// Config tunes engine behavior. Zero values are filled by Validate.
type Config struct {
	// LLMEnabled turns the LLM planner on. When false every query runs the
	// rule-based plan.
	LLMEnabled bool

	// Mode is the default execution mode for inputs that leave it unset.
	Mode types.ExecutionMode

	// LLMTimeout bounds the LLM planning call.
	LLMTimeout time.Duration

	// QueryTimeout bounds the whole planning+execution call when the caller
	// supplies no deadline. Zero means no engine-imposed deadline.
	QueryTimeout time.Duration

	// CacheSize is the plan cache capacity in entries.
	CacheSize int

	// CacheTTL is the plan cache entry lifetime.
	CacheTTL time.Duration

	// RatePerSecond caps outbound LLM calls. Zero disables the limiter.
	RatePerSecond float64

	// VectorTopK is the similarity-search result count.
	VectorTopK int

	// MaxResults caps documents returned by any plan.
	MaxResults int

	// TraceDir is where trace artifact pairs are written. Empty disables
	// trace files (traces are still returned to the caller).
	TraceDir string
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		LLMEnabled:   true,
		Mode:         types.ModeExecution,
		LLMTimeout:   5 * time.Second,
		QueryTimeout: 30 * time.Second,
		CacheSize:    1024,
		CacheTTL:     time.Hour,
		VectorTopK:   10,
		MaxResults:   100,
	}
}

// Validate fills zero values with defaults and rejects malformed settings.
func (c *Config) Validate() error {
	if c.Mode == "" {
		c.Mode = types.ModeExecution
	}
	if !types.IsValidExecutionMode(c.Mode) {
		return fmt.Errorf("engine config: unknown mode %q", c.Mode)
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 5 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.VectorTopK <= 0 {
		c.VectorTopK = 10
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 100
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("engine config: negative rate limit")
	}
	return nil
}

// Answer is the caller-facing result of one query call: the result set,
// the executed plan, and the full trace.
type Answer struct {
	Result *Result             `json:"result"`
	Plan   *types.StrategyPlan `json:"plan"`
	Trace  *ExecutionTrace     `json:"trace"`
}
