package registry

import "testing"

func TestAliasModel(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected string
	}{
		// Already namespaced identifiers pass through untouched.
		{"namespaced custom model", "custom-provider/custom-model", "custom-provider/custom-model"},
		{"namespaced known model", "anthropic/claude-sonnet-4", "anthropic/claude-sonnet-4"},

		// Keyword aliasing.
		{"sonnet", "claude-sonnet-4-20250514", "anthropic/claude-sonnet-4"},
		{"opus", "claude-opus-4-1-20250805", "anthropic/claude-opus-4.1"},
		{"haiku", "claude-haiku-4-5", "google/gemini-2.5-flash"},
		{"uppercase model name", "Claude-Sonnet-4", "anthropic/claude-sonnet-4"},

		// Keyword precedence: "claude-3-opus" matches both the
		// "claude-3-opus" and "opus" keywords; the earlier entry wins.
		{"claude-3-opus beats opus", "claude-3-opus", "deepseek/deepseek-r1-0528"},
		{"claude-3-opus dated", "claude-3-opus-20240229", "deepseek/deepseek-r1-0528"},
		{"claude-3-5-haiku beats haiku", "claude-3-5-haiku-20241022", "openai/gpt-5-mini"},

		// No keyword match returns the input unchanged.
		{"unknown model", "grok-4", "grok-4"},
		{"empty model", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AliasModel(tt.model); got != tt.expected {
				t.Errorf("AliasModel(%q) = %q, expected %q", tt.model, got, tt.expected)
			}
		})
	}
}

func TestAliasModelIdempotent(t *testing.T) {
	// Aliasing an already aliased identifier must be a no-op.
	for _, alias := range modelAliases {
		if got := AliasModel(alias.Target); got != alias.Target {
			t.Errorf("AliasModel(%q) = %q, expected unchanged", alias.Target, got)
		}
	}
}

func TestSupportsTools(t *testing.T) {
	if SupportsTools("deepseek/deepseek-r1-0528") {
		t.Error("deepseek/deepseek-r1-0528 must not support tools")
	}
	if !SupportsTools("anthropic/claude-sonnet-4") {
		t.Error("anthropic/claude-sonnet-4 must support tools")
	}
	if !SupportsTools("custom-provider/custom-model") {
		t.Error("unknown models default to tool support")
	}
}

func TestSupportsPromptCaching(t *testing.T) {
	if !SupportsPromptCaching("anthropic/claude-opus-4.1") {
		t.Error("anthropic models support prompt caching")
	}
	if SupportsPromptCaching("google/gemini-2.5-flash") {
		t.Error("non-anthropic models do not get cache markers")
	}
}
