package orchestrator

import "fmt"

// The gateway maps every failure to one of these types at its top-level
// boundary; no raw error or stack trace reaches the client.

// ClientError is a malformed or incomplete request. Mapped to 400 and never
// retried automatically.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// ConfigurationError is a missing credential or environment variable for a
// chosen backend. Fatal at provisioning time, surfaced as 500 with the
// variable named.
type ConfigurationError struct {
	Variable string
	Message  string
}

func (e *ConfigurationError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("configuration error: %s (%s)", e.Message, e.Variable)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// DegradedModeError is raised only in production when the model credential is
// absent or a placeholder. It must fail loudly rather than silently serving a
// mock answer.
type DegradedModeError struct {
	Message string
}

func (e *DegradedModeError) Error() string {
	return fmt.Sprintf("critical configuration error: %s", e.Message)
}

// UpstreamError is a model or retriever backend failure. Retryable by the
// client loop; the gateway does not retry it server-side.
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream failure: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("upstream failure: %s", e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
