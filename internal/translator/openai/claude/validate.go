package claude

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// validateClaudeRequest checks the structural shape of an inbound Anthropic
// request before any conversion happens. Only shape is checked here; tool
// call/result pairing is repaired later by fixToolCallSequences rather than
// rejected.
func validateClaudeRequest(root gjson.Result) error {
	if !root.Exists() || !root.IsObject() {
		return &ValidationError{Reason: "request body must be a JSON object"}
	}

	model := root.Get("model")
	if !model.Exists() || model.Type != gjson.String || model.String() == "" {
		return &ValidationError{Path: "model", Reason: "must be a non-empty string"}
	}

	messages := root.Get("messages")
	if !messages.Exists() || !messages.IsArray() {
		return &ValidationError{Path: "messages", Reason: "must be an array"}
	}

	var err error
	index := 0
	messages.ForEach(func(_, message gjson.Result) bool {
		err = validateMessage(index, message)
		index++
		return err == nil
	})
	return err
}

func validateMessage(index int, message gjson.Result) error {
	path := fmt.Sprintf("messages.%d", index)
	if !message.IsObject() {
		return &ValidationError{Path: path, Reason: "must be an object"}
	}
	if role := message.Get("role"); role.Type != gjson.String || role.String() == "" {
		return &ValidationError{Path: path + ".role", Reason: "missing role"}
	}

	content := message.Get("content")
	if !content.Exists() {
		return &ValidationError{Path: path + ".content", Reason: "missing content"}
	}
	if content.Type == gjson.String {
		return nil
	}
	if !content.IsArray() {
		return &ValidationError{Path: path + ".content", Reason: "must be a string or an array of content parts"}
	}

	var err error
	partIndex := 0
	content.ForEach(func(_, part gjson.Result) bool {
		err = validateContentPart(fmt.Sprintf("%s.content.%d", path, partIndex), part)
		partIndex++
		return err == nil
	})
	return err
}

func validateContentPart(path string, part gjson.Result) error {
	switch part.Get("type").String() {
	case "text":
		if part.Get("text").Type != gjson.String {
			return &ValidationError{Path: path + ".text", Reason: "text part requires a string text field"}
		}
	case "tool_use":
		if part.Get("id").Type != gjson.String {
			return &ValidationError{Path: path + ".id", Reason: "tool_use part requires a string id"}
		}
		if part.Get("name").Type != gjson.String {
			return &ValidationError{Path: path + ".name", Reason: "tool_use part requires a string name"}
		}
		if input := part.Get("input"); !input.Exists() || !input.IsObject() {
			return &ValidationError{Path: path + ".input", Reason: "tool_use part requires an object input"}
		}
	case "tool_result":
		if part.Get("tool_use_id").Type != gjson.String {
			return &ValidationError{Path: path + ".tool_use_id", Reason: "tool_result part requires a string tool_use_id"}
		}
		if resultContent := part.Get("content"); !resultContent.Exists() ||
			(resultContent.Type == gjson.String && resultContent.String() == "") {
			return &ValidationError{Path: path + ".content", Reason: "tool_result part requires non-empty content"}
		}
	default:
		return &ValidationError{Path: path + ".type", Reason: "unrecognized content part type"}
	}
	return nil
}
