// Package claude implements the conversation provider for the Claude-style
// store: one append-only JSONL file per provider-assigned session id, each
// line a self-describing record. Session files are never mutated in place
// except by full atomic rewrite.
package claude

import (
	"encoding/json"
	"fmt"
)

// ProviderName identifies this provider in canonical metadata and state files.
const ProviderName = "claude"

// Record type discriminators found in session files. Only user and assistant
// records carry conversation content; the rest are stream metadata and are
// filtered before validation.
const (
	recordTypeUser      = "user"
	recordTypeAssistant = "assistant"
	recordTypeSystem    = "system"
	recordTypeSummary   = "summary"
	recordTypeSnapshot  = "file-history-snapshot"
	recordTypeQueueOp   = "queue-operation"
)

// Content block types inside a record's message.
const (
	blockTypeText       = "text"
	blockTypeToolUse    = "tool_use"
	blockTypeToolResult = "tool_result"
	blockTypeThinking   = "thinking"
)

// Record is one line of a session file.
type Record struct {
	ParentUUID  *string `json:"parentUuid"`
	IsSidechain bool    `json:"isSidechain"`
	UserType    string  `json:"userType,omitempty"`
	Cwd         string  `json:"cwd,omitempty"`
	SessionID   string  `json:"sessionId"`
	Version     string  `json:"version,omitempty"`
	GitBranch   string  `json:"gitBranch,omitempty"`
	Type        string  `json:"type"`

	Message   *RecordMessage `json:"message,omitempty"`
	UUID      string         `json:"uuid,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`

	// RequestID is present on assistant records only.
	RequestID string `json:"requestId,omitempty"`

	// ToolUseResult is the side-channel blob (stdout/stderr/interrupted
	// flags) attached to tool-result records. Carried opaquely.
	ToolUseResult map[string]any `json:"toolUseResult,omitempty"`
}

// RecordMessage is the message body of a user or assistant record. Content is
// either a bare JSON string (plain user input) or an array of content blocks.
type RecordMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`

	// API-shaped fields present on assistant records.
	ID         string      `json:"id,omitempty"`
	Type       string      `json:"type,omitempty"`
	Model      string      `json:"model,omitempty"`
	StopReason *string     `json:"stop_reason,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`
}

// ContentBlock is one element of a structured content array.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TokenUsage mirrors the API usage object on assistant records. All fields
// are emitted even when zero so written records stay structurally complete.
type TokenUsage struct {
	InputTokens              int    `json:"input_tokens"`
	OutputTokens             int    `json:"output_tokens"`
	CacheCreationInputTokens int    `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int    `json:"cache_read_input_tokens"`
	ServiceTier              string `json:"service_tier"`
}

// isConversationRecord reports whether a record type carries conversation
// content. Unknown types are not conversation records but are also not in the
// known-filterable set; callers distinguish via isFilteredRecord.
func isConversationRecord(recordType string) bool {
	return recordType == recordTypeUser || recordType == recordTypeAssistant
}

// isFilteredRecord reports whether a record type is known stream metadata to
// skip silently before validation.
func isFilteredRecord(recordType string) bool {
	switch recordType {
	case recordTypeSummary, recordTypeSnapshot, recordTypeQueueOp, recordTypeSystem:
		return true
	}
	return false
}

// contentString interprets the message content as a bare JSON string.
func (m *RecordMessage) contentString() (string, bool) {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// contentBlocks interprets the message content as a block array.
func (m *RecordMessage) contentBlocks() ([]ContentBlock, error) {
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("parse content blocks: %w", err)
	}
	return blocks, nil
}
