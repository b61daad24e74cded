package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_Missing(t *testing.T) {
	assert.Equal(t, Missing, Resolve(""))
	assert.Equal(t, Missing, Resolve("   "))
}

func TestResolve_Placeholder(t *testing.T) {
	cases := []string{
		"your-openai-api-key",
		"YOUR_API_KEY_HERE_1234567890",
		"sk-test-1234567890abcdefghij",
		"changeme",
		"placeholder-value-that-is-long-enough",
		"sk-short",
	}
	for _, v := range cases {
		assert.Equal(t, Placeholder, Resolve(v), "value: %q", v)
	}
}

func TestResolve_Present(t *testing.T) {
	cases := []string{
		"sk-proj-A1b2C3d4E5f6G7h8I9j0K1L2M3N4",
		"lsv2_pt_8f14e45fceea167a5a36dedd4bea2543",
	}
	for _, v := range cases {
		assert.Equal(t, Present, Resolve(v), "value: %q", v)
	}
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("CRED_TEST_VAR", "sk-proj-A1b2C3d4E5f6G7h8I9j0K1L2M3N4")
	assert.Equal(t, Present, ResolveEnv("CRED_TEST_VAR"))

	t.Setenv("CRED_TEST_VAR", "")
	assert.Equal(t, Missing, ResolveEnv("CRED_TEST_VAR"))
}

func TestStatus_Usable(t *testing.T) {
	assert.False(t, Missing.Usable())
	assert.False(t, Placeholder.Usable())
	assert.True(t, Present.Usable())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "missing", Missing.String())
	assert.Equal(t, "placeholder", Placeholder.String())
	assert.Equal(t, "present", Present.String())
}
