// Package gemini implements the conversation provider for the Gemini-style
// store: one JSON document per logical session holding every entry, fully
// rewritten on each save. Because the document is mutable in place, the
// handler keeps an explicit pre-write backup copy as the sync baseline.
package gemini

// ProviderName identifies this provider in canonical metadata and state files.
const ProviderName = "gemini"

// Entry type discriminators. Config and summary entries are store metadata
// and are filtered before validation.
const (
	entryTypeUser    = "user"
	entryTypeGemini  = "gemini"
	entryTypeConfig  = "config"
	entryTypeSummary = "summary"
)

// Document is the whole on-disk session snapshot.
type Document struct {
	SessionID   string  `json:"sessionId"`
	Cwd         string  `json:"cwd,omitempty"`
	Version     string  `json:"version,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	LastUpdated string  `json:"lastUpdated,omitempty"`
	Messages    []Entry `json:"messages"`
}

// Entry is one conversational turn in the document. Its parts may interleave
// text with function traffic.
type Entry struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Parts     []Part `json:"parts"`
}

// Part is one content element. Exactly one field is set; Thought marks
// internal reasoning text that never crosses providers.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// FunctionCall is a tool invocation request.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is a tool invocation outcome.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Response any    `json:"response,omitempty"`
	IsError  bool   `json:"isError,omitempty"`
}

func isConversationEntry(entryType string) bool {
	return entryType == entryTypeUser || entryType == entryTypeGemini
}

func isFilteredEntry(entryType string) bool {
	return entryType == entryTypeConfig || entryType == entryTypeSummary
}
