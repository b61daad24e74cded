package agent

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviswhitehead/chef-chopsky-sub000/services/retrieval"
)

func TestLastUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{
			name: "picks most recent user turn",
			messages: []Message{
				{Role: "user", Content: "what can I do with kale?"},
				{Role: "assistant", Content: "Here are some ideas."},
				{Role: "user", Content: "something quicker"},
			},
			want: "something quicker",
		},
		{
			name: "skips trailing assistant turn",
			messages: []Message{
				{Role: "user", Content: "plan my week"},
				{Role: "assistant", Content: "Sure."},
			},
			want: "plan my week",
		},
		{
			name:     "empty history",
			messages: nil,
			want:     "",
		},
		{
			name: "no user turns",
			messages: []Message{
				{Role: "system", Content: "persona"},
				{Role: "assistant", Content: "hello"},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lastUserMessage(tt.messages))
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Run("no documents returns bare persona", func(t *testing.T) {
		assert.Equal(t, systemPersona, buildSystemPrompt(nil))
	})

	t.Run("documents are numbered with sources", func(t *testing.T) {
		prompt := buildSystemPrompt([]retrieval.Document{
			{Source: "recipes/roasted-root-bowl.md", Content: "Roast the vegetables at 425F."},
			{Source: "guides/batch-cooking.md", Content: "Cook grains in bulk on Sunday."},
		})

		assert.True(t, strings.HasPrefix(prompt, systemPersona))
		assert.Contains(t, prompt, "[Document 1: recipes/roasted-root-bowl.md]")
		assert.Contains(t, prompt, "Roast the vegetables at 425F.")
		assert.Contains(t, prompt, "[Document 2: guides/batch-cooking.md]")
		assert.Contains(t, prompt, "Cook grains in bulk on Sunday.")
	})
}

func TestNewOpenAIClient(t *testing.T) {
	t.Run("missing api key fails", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		os.Unsetenv("OPENAI_API_KEY")

		_, err := NewOpenAIClient("gpt-4o-mini")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	})

	t.Run("defaults model when unset", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test-not-a-real-key-but-long-enough")

		client, err := NewOpenAIClient("")
		require.NoError(t, err)
		assert.NotEmpty(t, client.model)
	})
}
