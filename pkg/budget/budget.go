// Package budget defines the layered timeout budget shared by the gateway
// and the client retry loop.
//
// Three tiers wait on each chat turn: the agent invocation inside the
// gateway, the gateway request handler, and the client. Each outer tier must
// wait strictly longer than the tier it contains, otherwise an outer give-up
// can fire while the inner tier could still legitimately finish. The ordering
// AgentProcessing < Gateway < UI is validated at process start and treated as
// fatal when violated.
package budget

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults applied when no environment override is set.
const (
	DefaultAgentProcessing = 30 * time.Second
	DefaultGateway         = 45 * time.Second
	DefaultUI              = 60 * time.Second
	DefaultRetryAttempts   = 2
	DefaultRetryDelayBase  = 1 * time.Second
)

// nonProductionScale relaxes budgets outside production, where local model
// backends are slower and debugging pauses are common.
const nonProductionScale = 1.5

// Budget is the validated, process-wide timeout table. Copy by value; there
// is no mutation after Load.
type Budget struct {
	// AgentProcessing bounds the agent graph invocation inside the gateway.
	AgentProcessing time.Duration

	// Gateway bounds the whole gateway request handler.
	Gateway time.Duration

	// UI bounds a single client-side attempt, including network transfer.
	UI time.Duration

	// RetryAttempts is the client retry ceiling for retryable (5xx) failures.
	RetryAttempts int

	// RetryDelayBase is the base backoff delay; attempt n waits 2^n * base.
	RetryDelayBase time.Duration
}

// Load builds the budget from environment overrides over the defaults and
// validates the tier ordering. Overrides are integer milliseconds:
// AGENT_TIMEOUT_MS, GATEWAY_TIMEOUT_MS, UI_TIMEOUT_MS, RETRY_DELAY_MS, and
// RETRY_ATTEMPTS (a count). A malformed override or an ordering violation is
// an error; callers at process entry should treat it as fatal.
func Load() (Budget, error) {
	b := Budget{
		AgentProcessing: DefaultAgentProcessing,
		Gateway:         DefaultGateway,
		UI:              DefaultUI,
		RetryAttempts:   DefaultRetryAttempts,
		RetryDelayBase:  DefaultRetryDelayBase,
	}

	var err error
	if b.AgentProcessing, err = durationFromEnv("AGENT_TIMEOUT_MS", b.AgentProcessing); err != nil {
		return Budget{}, err
	}
	if b.Gateway, err = durationFromEnv("GATEWAY_TIMEOUT_MS", b.Gateway); err != nil {
		return Budget{}, err
	}
	if b.UI, err = durationFromEnv("UI_TIMEOUT_MS", b.UI); err != nil {
		return Budget{}, err
	}
	if b.RetryDelayBase, err = durationFromEnv("RETRY_DELAY_MS", b.RetryDelayBase); err != nil {
		return Budget{}, err
	}
	if raw := os.Getenv("RETRY_ATTEMPTS"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			return Budget{}, fmt.Errorf("invalid RETRY_ATTEMPTS %q: must be a non-negative integer", raw)
		}
		b.RetryAttempts = n
	}

	if err := b.Validate(); err != nil {
		return Budget{}, err
	}
	return b, nil
}

// Validate checks the standing ordering invariant.
func (b Budget) Validate() error {
	if b.AgentProcessing <= 0 || b.Gateway <= 0 || b.UI <= 0 {
		return fmt.Errorf("timeout budget: all tier timeouts must be positive (agent=%s gateway=%s ui=%s)",
			b.AgentProcessing, b.Gateway, b.UI)
	}
	if b.AgentProcessing >= b.Gateway {
		return fmt.Errorf("timeout budget: agent processing timeout (%s) must be strictly less than gateway timeout (%s)",
			b.AgentProcessing, b.Gateway)
	}
	if b.Gateway >= b.UI {
		return fmt.Errorf("timeout budget: gateway timeout (%s) must be strictly less than UI timeout (%s)",
			b.Gateway, b.UI)
	}
	if b.RetryDelayBase <= 0 {
		return fmt.Errorf("timeout budget: retry delay base must be positive, got %s", b.RetryDelayBase)
	}
	return nil
}

// ForEnvironment returns the budget scaled for the named deployment
// environment. Production keeps the table as-is; everything else is relaxed
// by a fixed multiplier. The scaled table is re-validated so the ordering
// invariant holds after scaling too.
func (b Budget) ForEnvironment(env string) (Budget, error) {
	if env == "production" {
		return b, nil
	}
	scaled := b
	scaled.AgentProcessing = time.Duration(float64(b.AgentProcessing) * nonProductionScale)
	scaled.Gateway = time.Duration(float64(b.Gateway) * nonProductionScale)
	scaled.UI = time.Duration(float64(b.UI) * nonProductionScale)
	if err := scaled.Validate(); err != nil {
		return Budget{}, fmt.Errorf("scaled for %q: %w", env, err)
	}
	return scaled, nil
}

// RetryDelay returns the backoff delay before re-sending attempt+1.
func (b Budget) RetryDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * b.RetryDelayBase
}

func durationFromEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer of milliseconds", name, raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
