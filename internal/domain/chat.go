package domain

// Role of a chat message author.
type Role string

// Known chat roles. RoleError marks failed turns kept in the UI history;
// they are never sent to a model.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// DefaultHistoryLimit is the number of recent turns forwarded to a model.
const DefaultHistoryLimit = 10

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest is the normalized input to a chat backend.
type ChatRequest struct {
	Provider     string
	Model        string
	Messages     []Message
	SystemPrompt string
}

// ChatResponse is the normalized output of a chat backend.
type ChatResponse struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// TrimHistory drops error turns and keeps the last limit messages.
// A non-positive limit falls back to DefaultHistoryLimit.
func TrimHistory(messages []Message, limit int) []Message {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	kept := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleError {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}

// LastUserMessage returns the content of the most recent user turn.
func LastUserMessage(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}
