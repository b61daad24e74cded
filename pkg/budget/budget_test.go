package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	b, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultAgentProcessing, b.AgentProcessing)
	assert.Equal(t, DefaultGateway, b.Gateway)
	assert.Equal(t, DefaultUI, b.UI)
	assert.Equal(t, DefaultRetryAttempts, b.RetryAttempts)
	assert.Equal(t, DefaultRetryDelayBase, b.RetryDelayBase)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENT_TIMEOUT_MS", "10000")
	t.Setenv("GATEWAY_TIMEOUT_MS", "20000")
	t.Setenv("UI_TIMEOUT_MS", "30000")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("RETRY_DELAY_MS", "250")

	b, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, b.AgentProcessing)
	assert.Equal(t, 20*time.Second, b.Gateway)
	assert.Equal(t, 30*time.Second, b.UI)
	assert.Equal(t, 5, b.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, b.RetryDelayBase)
}

func TestLoad_RejectsInvertedOrdering(t *testing.T) {
	t.Setenv("AGENT_TIMEOUT_MS", "30000")
	t.Setenv("GATEWAY_TIMEOUT_MS", "30000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly less")
}

func TestLoad_RejectsMalformedOverride(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT_MS", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate_OrderingInvariant(t *testing.T) {
	tests := []struct {
		name   string
		b      Budget
		wantOK bool
	}{
		{
			name:   "strictly increasing",
			b:      Budget{AgentProcessing: 1 * time.Second, Gateway: 2 * time.Second, UI: 3 * time.Second, RetryDelayBase: time.Second},
			wantOK: true,
		},
		{
			name:   "agent equals gateway",
			b:      Budget{AgentProcessing: 2 * time.Second, Gateway: 2 * time.Second, UI: 3 * time.Second, RetryDelayBase: time.Second},
			wantOK: false,
		},
		{
			name:   "gateway exceeds ui",
			b:      Budget{AgentProcessing: 1 * time.Second, Gateway: 4 * time.Second, UI: 3 * time.Second, RetryDelayBase: time.Second},
			wantOK: false,
		},
		{
			name:   "zero tier",
			b:      Budget{AgentProcessing: 0, Gateway: 2 * time.Second, UI: 3 * time.Second, RetryDelayBase: time.Second},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.b.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestForEnvironment_ProductionUnchanged(t *testing.T) {
	b, err := Load()
	require.NoError(t, err)

	scaled, err := b.ForEnvironment("production")
	require.NoError(t, err)
	assert.Equal(t, b, scaled)
}

func TestForEnvironment_NonProductionScalesAndRevalidates(t *testing.T) {
	b, err := Load()
	require.NoError(t, err)

	scaled, err := b.ForEnvironment("development")
	require.NoError(t, err)

	assert.Equal(t, time.Duration(float64(b.AgentProcessing)*1.5), scaled.AgentProcessing)
	assert.Equal(t, time.Duration(float64(b.Gateway)*1.5), scaled.Gateway)
	assert.Equal(t, time.Duration(float64(b.UI)*1.5), scaled.UI)

	// Scaling preserves ordering.
	assert.Less(t, scaled.AgentProcessing, scaled.Gateway)
	assert.Less(t, scaled.Gateway, scaled.UI)

	// Retry parameters are not scaled.
	assert.Equal(t, b.RetryAttempts, scaled.RetryAttempts)
	assert.Equal(t, b.RetryDelayBase, scaled.RetryDelayBase)
}

func TestRetryDelay_ExponentialBackoff(t *testing.T) {
	b := Budget{RetryDelayBase: time.Second}
	assert.Equal(t, 1*time.Second, b.RetryDelay(0))
	assert.Equal(t, 2*time.Second, b.RetryDelay(1))
	assert.Equal(t, 4*time.Second, b.RetryDelay(2))
}
