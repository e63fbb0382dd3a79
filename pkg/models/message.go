package models

// MessageRole tags one entry in a session's chat history.
type MessageRole string

const (
	// RoleUser marks text the user (or orchestrator on their behalf) sent.
	RoleUser MessageRole = "user"
	// RoleAssistant marks text a backend produced.
	RoleAssistant MessageRole = "assistant"
	// RoleSystem marks engine-generated status text.
	RoleSystem MessageRole = "system"
)

// Message is one entry in a session's ordered chat history. Speaker is only
// set for assistant messages and names the account that produced the text.
type Message struct {
	Role    MessageRole `json:"role"`
	Speaker string      `json:"speaker,omitempty"`
	Text    string      `json:"text"`
}

// UserMessage builds a user-role message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantMessage builds an assistant-role message attributed to speaker.
func AssistantMessage(speaker, text string) Message {
	return Message{Role: RoleAssistant, Speaker: speaker, Text: text}
}

// SystemMessage builds a system-role message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text}
}
