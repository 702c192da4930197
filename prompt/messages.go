package prompt

import "github.com/aschepis/backscratcher/promptcall/llm"

// System returns a system message.
func System(text string) llm.Message { return llm.NewTextMessage(llm.RoleSystem, text) }

// User returns a user message.
func User(text string) llm.Message { return llm.NewTextMessage(llm.RoleUser, text) }

// Assistant returns an assistant message.
func Assistant(text string) llm.Message { return llm.NewTextMessage(llm.RoleAssistant, text) }

// AppendToLastUser returns a copy of msgs with suffix appended to the last
// user message, adding a new user message when there is none.
func AppendToLastUser(msgs []llm.Message, suffix string) []llm.Message {
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)

	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != llm.RoleUser {
			continue
		}
		content := make([]llm.ContentBlock, len(out[i].Content), len(out[i].Content)+1)
		copy(content, out[i].Content)
		out[i].Content = append(content, llm.ContentBlock{
			Type: llm.ContentBlockTypeText,
			Text: "\n\n" + suffix,
		})
		return out
	}
	return append(out, User(suffix))
}
