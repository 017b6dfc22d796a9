package claude

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// fixToolCallSequences enforces the adjacency contract the upstream applies
// to tool calls: every assistant tool_call must be answered by a tool
// message inside the contiguous run of tool messages immediately following
// it, and every tool message must answer a matching tool_call on the nearest
// non-tool message before it, which must be an assistant message.
//
// Unmatched records are silently dropped, not rejected: partial
// conversations still forward cleanly. An assistant message left with
// neither text content nor surviving tool_calls is removed entirely. All
// other roles pass through in order.
func fixToolCallSequences(messagesJSON string) string {
	messages := gjson.Parse(messagesJSON).Array()
	out := "[]"

	for i, message := range messages {
		switch message.Get("role").String() {
		case "assistant":
			raw, keep := filterAssistantToolCalls(messages, i)
			if keep {
				out, _ = sjson.SetRaw(out, "-1", raw)
			}
		case "tool":
			if toolMessageMatched(messages, i) {
				out, _ = sjson.SetRaw(out, "-1", message.Raw)
			}
		default:
			out, _ = sjson.SetRaw(out, "-1", message.Raw)
		}
	}
	return out
}

// filterAssistantToolCalls removes tool_calls that have no answering tool
// message in the run immediately following the assistant message at index.
// keep is false when the message carries no information afterwards.
func filterAssistantToolCalls(messages []gjson.Result, index int) (raw string, keep bool) {
	message := messages[index]
	raw = message.Raw

	toolCalls := message.Get("tool_calls")
	if !toolCalls.Exists() || !toolCalls.IsArray() {
		return raw, true
	}

	answered := make(map[string]struct{})
	for j := index + 1; j < len(messages) && messages[j].Get("role").String() == "tool"; j++ {
		answered[messages[j].Get("tool_call_id").String()] = struct{}{}
	}

	kept := "[]"
	keptAny := false
	toolCalls.ForEach(func(_, call gjson.Result) bool {
		if _, ok := answered[call.Get("id").String()]; ok {
			kept, _ = sjson.SetRaw(kept, "-1", call.Raw)
			keptAny = true
		}
		return true
	})

	if keptAny {
		raw, _ = sjson.SetRaw(raw, "tool_calls", kept)
		return raw, true
	}

	raw, _ = sjson.Delete(raw, "tool_calls")
	return raw, hasTextContent(message)
}

// toolMessageMatched walks backward over the contiguous run of tool messages
// containing index; the message directly before the run must be an assistant
// message carrying a tool_call with this message's tool_call_id.
func toolMessageMatched(messages []gjson.Result, index int) bool {
	anchor := index
	for anchor-1 >= 0 && messages[anchor-1].Get("role").String() == "tool" {
		anchor--
	}
	if anchor == 0 {
		return false
	}

	previous := messages[anchor-1]
	if previous.Get("role").String() != "assistant" {
		return false
	}

	id := messages[index].Get("tool_call_id").String()
	matched := false
	previous.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		if call.Get("id").String() == id {
			matched = true
			return false
		}
		return true
	})
	return matched
}

func hasTextContent(message gjson.Result) bool {
	content := message.Get("content")
	return content.Exists() && content.Type == gjson.String && content.String() != ""
}
