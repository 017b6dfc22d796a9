// Package registry holds the static routing tables used across the proxy:
// the ordered model alias table that maps Anthropic model names to OpenRouter
// identifiers, the set of targets that cannot accept tool declarations, and
// the per-model provider directives.
// All tables are read-only after process start.
package registry

import "strings"

// ModelAlias maps a keyword found in an inbound Anthropic model name to a
// fully namespaced OpenRouter model identifier.
type ModelAlias struct {
	Keyword string
	Target  string
}

// modelAliases is scanned in order and the first keyword contained in the
// inbound model name wins. Ordering is deliberate: the specific
// "claude-3-opus" entry must shadow the generic "opus" entry.
var modelAliases = []ModelAlias{
	{Keyword: "claude-3-5-haiku", Target: "openai/gpt-5-mini"},
	{Keyword: "haiku", Target: "google/gemini-2.5-flash"},
	{Keyword: "claude-3-opus", Target: "deepseek/deepseek-r1-0528"},
	{Keyword: "opus", Target: "anthropic/claude-opus-4.1"},
	{Keyword: "sonnet", Target: "anthropic/claude-sonnet-4"},
}

// noToolSupport lists target models whose upstream rejects requests that
// carry tool declarations or tool messages.
var noToolSupport = map[string]struct{}{
	"deepseek/deepseek-r1-0528": {},
}

// AliasModel resolves an inbound model name to an OpenRouter identifier.
// Names that already contain a namespace separator are assumed to be
// OpenRouter identifiers and pass through unchanged, as do names that match
// no keyword. This never fails; an unknown model is the upstream's problem.
func AliasModel(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	lower := strings.ToLower(model)
	for _, alias := range modelAliases {
		if strings.Contains(lower, alias.Keyword) {
			return alias.Target
		}
	}
	return model
}

// SupportsTools reports whether the target model accepts tool declarations
// and tool messages.
func SupportsTools(target string) bool {
	_, blocked := noToolSupport[target]
	return !blocked
}

// SupportsPromptCaching reports whether the target model family honors
// ephemeral cache_control markers on system text parts.
func SupportsPromptCaching(target string) bool {
	return strings.HasPrefix(target, "anthropic/")
}
