// Package claude provides request translation from the Anthropic Messages
// API format into the OpenAI Chat Completions format used by OpenRouter.
// It extracts the model name, system instruction, message contents, and tool
// declarations from the raw JSON request, applies model aliasing and
// model-specific capability stripping, and guarantees the output contains no
// orphaned tool calls or tool results.
package claude

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/loomino-brkh/claude-proxy/internal/registry"
)

// ConvertClaudeRequestToOpenAI parses and transforms an Anthropic Messages
// API request into OpenAI Chat Completions format.
//
// The returned payload has the shape
// {model, messages, temperature?, stream, provider?, tools?}. Errors are
// either *ValidationError or *SerializationError; everything else that is
// structurally odd about the input (unmatched tool calls, unknown aliases,
// unsupported content in non-core roles) is resolved by silent adjustment.
func ConvertClaudeRequestToOpenAI(inputRawJSON []byte) ([]byte, error) {
	root := gjson.ParseBytes(inputRawJSON)
	if err := validateClaudeRequest(root); err != nil {
		return nil, err
	}

	model := registry.AliasModel(root.Get("model").String())
	toolsAllowed := registry.SupportsTools(model)

	out := `{"model":"","messages":[]}`
	out, _ = sjson.Set(out, "model", model)

	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.Set(out, "temperature", temp.Float())
	}
	out, _ = sjson.Set(out, "stream", root.Get("stream").Bool())

	// Expand each Anthropic message into zero or more OpenAI messages.
	expanded := "[]"
	var expandErr error
	root.Get("messages").ForEach(func(_, message gjson.Result) bool {
		msgs, err := expandMessage(message)
		if err != nil {
			expandErr = err
			return false
		}
		for _, msg := range msgs {
			expanded, _ = sjson.SetRaw(expanded, "-1", msg)
		}
		return true
	})
	if expandErr != nil {
		return nil, expandErr
	}

	if toolsAllowed {
		if tools := root.Get("tools"); tools.Exists() && tools.IsArray() && len(tools.Array()) > 0 {
			declarations, err := convertToolDeclarations(tools)
			if err != nil {
				return nil, err
			}
			out, _ = sjson.SetRaw(out, "tools", declarations)
		}
		expanded = fixToolCallSequences(expanded)
	} else {
		// The target model rejects anything tool shaped; strip it all and
		// skip the consistency pass, which would have nothing left to check.
		expanded = stripToolCapability(expanded)
	}

	// System messages go first, untouched by the consistency pass.
	systemMessages := buildSystemMessages(root.Get("system"), registry.SupportsPromptCaching(model))
	for _, msg := range systemMessages {
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	}
	gjson.Parse(expanded).ForEach(func(_, msg gjson.Result) bool {
		out, _ = sjson.SetRaw(out, "messages.-1", msg.Raw)
		return true
	})

	if directive, ok := registry.ModelProviderDirectiveJSON(model); ok {
		out, _ = sjson.SetRaw(out, "provider", directive)
	}

	return []byte(out), nil
}

// buildSystemMessages converts the Anthropic system prompt into OpenAI
// system messages. An array of segments yields one message per segment; a
// string (or absent) system prompt yields exactly one message. Each text
// part carries an ephemeral cache marker when the target model family
// supports prompt caching; the marker never alters the text itself.
func buildSystemMessages(system gjson.Result, cacheable bool) []string {
	textPart := func(text string) string {
		part := `{"type":"text","text":""}`
		part, _ = sjson.Set(part, "text", text)
		if cacheable {
			part, _ = sjson.SetRaw(part, "cache_control", `{"type":"ephemeral"}`)
		}
		return part
	}
	systemMessage := func(text string) string {
		msg := `{"role":"system","content":[]}`
		msg, _ = sjson.SetRaw(msg, "content.-1", textPart(text))
		return msg
	}

	if system.IsArray() {
		var msgs []string
		system.ForEach(func(_, segment gjson.Result) bool {
			text := segment.Get("text").String()
			if segment.Type == gjson.String {
				text = segment.String()
			}
			msgs = append(msgs, systemMessage(text))
			return true
		})
		return msgs
	}
	return []string{systemMessage(system.String())}
}

// expandMessage maps one Anthropic message to zero or more OpenAI messages.
func expandMessage(message gjson.Result) ([]string, error) {
	role := message.Get("role").String()
	content := message.Get("content")

	if content.Type == gjson.String {
		msg := `{"role":"","content":""}`
		msg, _ = sjson.Set(msg, "role", role)
		msg, _ = sjson.Set(msg, "content", content.String())
		return []string{msg}, nil
	}

	switch role {
	case "assistant":
		return expandAssistantMessage(content)
	case "user":
		return expandUserMessage(content), nil
	default:
		// Array content on other roles carries no mappable parts; only
		// plain-string content is honored for them.
		return nil, nil
	}
}

// expandAssistantMessage produces at most one assistant message: the
// concatenated text parts as content (null when empty) and the tool_use
// parts as tool_calls. A message with neither is dropped. Validation has
// already guaranteed every tool_use input is an object.
func expandAssistantMessage(content gjson.Result) ([]string, error) {
	text := concatTextParts(content)

	toolCalls := "[]"
	hasToolCalls := false
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() != "tool_use" {
			return true
		}
		call := `{"id":"","type":"function","function":{"name":"","arguments":""}}`
		call, _ = sjson.Set(call, "id", part.Get("id").String())
		call, _ = sjson.Set(call, "function.name", part.Get("name").String())
		call, _ = sjson.Set(call, "function.arguments", part.Get("input").Raw)
		toolCalls, _ = sjson.SetRaw(toolCalls, "-1", call)
		hasToolCalls = true
		return true
	})

	if text == "" && !hasToolCalls {
		return nil, nil
	}

	msg := `{"role":"assistant"}`
	if text != "" {
		msg, _ = sjson.Set(msg, "content", text)
	} else {
		msg, _ = sjson.SetRaw(msg, "content", "null")
	}
	if hasToolCalls {
		msg, _ = sjson.SetRaw(msg, "tool_calls", toolCalls)
	}
	return []string{msg}, nil
}

// expandUserMessage produces one user message with the concatenated text
// (only when non-empty), followed by one tool message per tool_result part
// in source order.
func expandUserMessage(content gjson.Result) []string {
	var msgs []string
	if text := concatTextParts(content); text != "" {
		msg := `{"role":"user","content":""}`
		msg, _ = sjson.Set(msg, "content", text)
		msgs = append(msgs, msg)
	}
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() != "tool_result" {
			return true
		}
		msg := `{"role":"tool","tool_call_id":"","content":""}`
		msg, _ = sjson.Set(msg, "tool_call_id", part.Get("tool_use_id").String())
		msg, _ = sjson.Set(msg, "content", toolResultContentToString(part.Get("content")))
		msgs = append(msgs, msg)
		return true
	})
	return msgs
}

// concatTextParts joins every text part with a newline after each, trimming
// the result once at the end.
func concatTextParts(content gjson.Result) string {
	var b strings.Builder
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			b.WriteString(part.Get("text").String())
			b.WriteString("\n")
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

// toolResultContentToString serializes tool_result content into the string
// form the tool role requires.
func toolResultContentToString(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	return content.Raw
}

// convertToolDeclarations maps Anthropic tool schemas to OpenAI function
// declarations. A declaration whose input_schema is not a JSON object has no
// representable parameter shape and fails with a *SerializationError naming
// the tool.
func convertToolDeclarations(tools gjson.Result) (string, error) {
	out := "[]"
	var serErr error
	tools.ForEach(func(_, tool gjson.Result) bool {
		declaration := `{"type":"function","function":{"name":"","description":""}}`
		declaration, _ = sjson.Set(declaration, "function.name", tool.Get("name").String())
		declaration, _ = sjson.Set(declaration, "function.description", tool.Get("description").String())
		if schema := tool.Get("input_schema"); schema.Exists() {
			if !schema.IsObject() {
				serErr = &SerializationError{Tool: tool.Get("name").String(), Reason: "input_schema is not a JSON object"}
				return false
			}
			declaration, _ = sjson.SetRaw(declaration, "function.parameters", schema.Raw)
		}
		out, _ = sjson.SetRaw(out, "-1", declaration)
		return true
	})
	if serErr != nil {
		return "", serErr
	}
	return out, nil
}

// stripToolCapability removes every trace of tool use for models that cannot
// accept it: tool messages disappear, assistant messages lose their
// tool_calls and are dropped outright when no text remains.
func stripToolCapability(messagesJSON string) string {
	out := "[]"
	gjson.Parse(messagesJSON).ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		if role == "tool" {
			return true
		}
		raw := message.Raw
		if role == "assistant" && message.Get("tool_calls").Exists() {
			if !hasTextContent(message) {
				return true
			}
			raw, _ = sjson.Delete(raw, "tool_calls")
		}
		out, _ = sjson.SetRaw(out, "-1", raw)
		return true
	})
	return out
}
