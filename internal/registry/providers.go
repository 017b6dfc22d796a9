package registry

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ProviderDirective carries OpenRouter provider-preference hints attached to
// an outbound payload as its "provider" field. All fields are optional;
// pointer booleans distinguish "unset" from "false".
type ProviderDirective struct {
	// Only restricts routing to the listed provider identifiers.
	Only []string `json:"only,omitempty"`

	// Ignore excludes the listed provider identifiers from routing.
	Ignore []string `json:"ignore,omitempty"`

	// AllowFallbacks permits routing to providers outside Only when the
	// preferred ones are unavailable.
	AllowFallbacks *bool `json:"allow_fallbacks,omitempty"`

	// DataCollection is the data-collection policy tag ("allow" or "deny").
	DataCollection string `json:"data_collection,omitempty"`

	// ZDR requires zero-data-retention endpoints.
	ZDR *bool `json:"zdr,omitempty"`
}

// providerDirectives is the single static directive table, keyed by target
// model identifier. Both the translator (model-based injection) and the
// request-level resolver read from it; there is intentionally no second
// copy anywhere else.
var providerDirectives = map[string]ProviderDirective{
	"deepseek/deepseek-r1-0528": {
		Only:           []string{"deepseek"},
		AllowFallbacks: boolPtr(false),
	},
	"google/gemini-2.5-flash": {
		Ignore:         []string{"google-vertex"},
		DataCollection: "deny",
	},
	"anthropic/claude-sonnet-4": {
		Only:           []string{"anthropic"},
		AllowFallbacks: boolPtr(false),
		ZDR:            boolPtr(true),
	},
	"anthropic/claude-opus-4.1": {
		Only:           []string{"anthropic"},
		AllowFallbacks: boolPtr(false),
		ZDR:            boolPtr(true),
	},
}

// directiveHeaders are the inbound headers consulted by the resolver, in
// priority order.
var directiveHeaders = []string{"X-Provider", "X-Provider-Config"}

func boolPtr(v bool) *bool { return &v }

// ModelProviderDirectiveJSON returns the serialized directive for a target
// model, or ok=false when the model has no entry in the static table.
func ModelProviderDirectiveJSON(model string) (string, bool) {
	directive, ok := providerDirectives[model]
	if !ok {
		return "", false
	}
	raw, err := json.Marshal(directive)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// ResolveProviderDirective resolves a provider directive for one request.
// Precedence: the request body "provider" field (inline object or named
// key), then the directive headers (named key or inline JSON object), then
// the process-wide default key. The first level that supplies a value is
// authoritative: a named key unknown to the static table yields no
// directive rather than falling through or erroring.
//
// The returned string is the raw JSON of the directive, suitable for
// sjson.SetRaw injection.
func ResolveProviderDirective(provider gjson.Result, headers http.Header, defaultKey string) (string, bool) {
	if provider.Exists() {
		if provider.IsObject() {
			return provider.Raw, true
		}
		if provider.Type == gjson.String {
			return ModelProviderDirectiveJSON(provider.String())
		}
	}

	if headers != nil {
		for _, name := range directiveHeaders {
			value := strings.TrimSpace(headers.Get(name))
			if value == "" {
				continue
			}
			if strings.HasPrefix(value, "{") {
				if parsed := gjson.Parse(value); parsed.IsObject() {
					return parsed.Raw, true
				}
				return "", false
			}
			return ModelProviderDirectiveJSON(value)
		}
	}

	if defaultKey != "" {
		return ModelProviderDirectiveJSON(defaultKey)
	}
	return "", false
}
