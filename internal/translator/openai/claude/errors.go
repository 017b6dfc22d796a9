package claude

import "fmt"

// ValidationError reports a structurally malformed inbound request. Path
// identifies the offending field using gjson path syntax, for example
// "messages.3.content.1.id".
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// SerializationError reports a tool_use input that could not be serialized
// into the OpenAI function-arguments string.
type SerializationError struct {
	Tool   string
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
}
