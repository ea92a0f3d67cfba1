// Package message defines the canonical, provider-neutral representation of a
// conversation. Every provider converter translates its native on-disk records
// to and from this model; the sync engine only ever reasons about these types.
package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

// Roles recognized by the canonical model.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Type classifies a canonical message.
type Type string

// Message types. A plain conversational turn is TypeMessage; tool invocations
// and their outcomes are split into TypeToolUse and TypeToolResult.
const (
	TypeMessage    Type = "message"
	TypeToolUse    Type = "tool_use"
	TypeToolResult Type = "tool_result"
)

// ContentKind tags the content union.
type ContentKind string

// Content kinds.
const (
	ContentText       ContentKind = "text"
	ContentParts      ContentKind = "parts"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

// PartKind tags one element of a mixed-content list.
type PartKind string

// Part kinds.
const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

// UnknownToolName is the sentinel a tool result's name degrades to when no
// prior tool call with a matching correlation id was observed.
const UnknownToolName = "unknown"

// Validation errors.
var (
	ErrInvalidRole     = errors.New("invalid role")
	ErrInvalidType     = errors.New("invalid message type")
	ErrContentMismatch = errors.New("content kind does not match message type")
)

// Message is one canonical conversational turn or tool event.
type Message struct {
	// ID is an opaque unique identifier generated at conversion time. It is
	// never reused across conversions.
	ID string `json:"id"`

	// ParentID references the logically preceding message in the same
	// provider's original thread. Empty means root of its provider's thread
	// segment. It is a back-reference for ordering, not an ownership edge.
	ParentID string `json:"parentId,omitempty"`

	// SessionID is the provider-assigned session this message came from.
	SessionID string `json:"sessionId"`

	// Timestamp is an ISO-8601 string.
	Timestamp string `json:"timestamp"`

	Role Role `json:"role"`
	Type Type `json:"type"`

	Content  Content  `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Content is a tagged union: exactly one of Text, Parts, ToolCall, ToolResult
// is meaningful, selected by Kind.
type Content struct {
	Kind       ContentKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Parts      []Part      `json:"parts,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// Part is one element of a mixed-content list.
type Part struct {
	Kind       PartKind    `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// ToolCall describes a tool invocation request.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult describes the outcome of a tool invocation. Name is resolved
// from the ToolCall with the same ID; see UnknownToolName.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  any    `json:"result,omitempty"`
	IsError bool   `json:"isError,omitempty"`
}

// Usage carries token accounting. Numeric fields default to zero and the tier
// to "standard" so native schemas stay structurally complete.
type Usage struct {
	InputTokens              int    `json:"inputTokens"`
	OutputTokens             int    `json:"outputTokens"`
	CacheCreationInputTokens int    `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int    `json:"cacheReadInputTokens"`
	ServiceTier              string `json:"serviceTier"`
}

// DefaultServiceTier is used when a native record omits the tier.
const DefaultServiceTier = "standard"

// Normalize fills defaulted fields in place and returns the receiver.
func (u *Usage) Normalize() *Usage {
	if u.ServiceTier == "" {
		u.ServiceTier = DefaultServiceTier
	}
	return u
}

// Metadata traces a canonical message back to its origin.
type Metadata struct {
	// Provider is the source provider name ("claude", "gemini").
	Provider string `json:"provider"`

	// OriginalID is the provider-native record id this message came from.
	// Required for idempotent re-conversion and delta computation.
	OriginalID string `json:"originalId"`

	Cwd     string `json:"cwd,omitempty"`
	Version string `json:"version,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`

	// Extra holds genuinely unknown provider fields only. Known provider
	// quirks are mapped to typed fields on the native record types.
	Extra map[string]any `json:"extra,omitempty"`
}

// NewID returns a fresh canonical message id.
func NewID() string {
	return uuid.New().String()
}

// timestampLayout matches the millisecond-precision UTC form the providers
// write, e.g. 2024-05-04T10:12:03.250Z.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical ISO-8601 form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a canonical or RFC3339 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Time parses the message timestamp. A zero time and an error are returned
// for malformed values.
func (m *Message) Time() (time.Time, error) {
	return ParseTimestamp(m.Timestamp)
}

// ToolCalls returns every tool call in the content, whether it is the direct
// union arm or embedded in a parts list.
func (c *Content) ToolCalls() []ToolCall {
	var out []ToolCall
	if c.Kind == ContentToolCall && c.ToolCall != nil {
		out = append(out, *c.ToolCall)
	}
	if c.Kind == ContentParts {
		for _, p := range c.Parts {
			if p.Kind == PartToolCall && p.ToolCall != nil {
				out = append(out, *p.ToolCall)
			}
		}
	}
	return out
}

// ToolResults returns every tool result in the content, direct or embedded.
func (c *Content) ToolResults() []ToolResult {
	var out []ToolResult
	if c.Kind == ContentToolResult && c.ToolResult != nil {
		out = append(out, *c.ToolResult)
	}
	if c.Kind == ContentParts {
		for _, p := range c.Parts {
			if p.Kind == PartToolResult && p.ToolResult != nil {
				out = append(out, *p.ToolResult)
			}
		}
	}
	return out
}

// Validate checks structural coherence: recognized role and type, a well-formed
// content union, and a type that agrees with the tool events the content
// carries. A tool_use message may carry mixed parts (text alongside the call),
// matching native records that interleave text and tool invocations.
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
	}

	switch m.Content.Kind {
	case ContentText:
	case ContentParts:
		if len(m.Content.Parts) == 0 {
			return fmt.Errorf("%w: empty parts list", ErrContentMismatch)
		}
	case ContentToolCall:
		if m.Content.ToolCall == nil {
			return fmt.Errorf("%w: tool_call content without a tool call", ErrContentMismatch)
		}
	case ContentToolResult:
		if m.Content.ToolResult == nil {
			return fmt.Errorf("%w: tool_result content without a tool result", ErrContentMismatch)
		}
	default:
		return fmt.Errorf("%w: unknown content kind %q", ErrContentMismatch, m.Content.Kind)
	}

	calls := len(m.Content.ToolCalls())
	results := len(m.Content.ToolResults())

	switch m.Type {
	case TypeMessage:
		if calls > 0 || results > 0 {
			return fmt.Errorf("%w: type %q carrying tool events", ErrContentMismatch, m.Type)
		}
	case TypeToolUse:
		if calls == 0 {
			return fmt.Errorf("%w: type %q without a tool call", ErrContentMismatch, m.Type)
		}
		if results > 0 {
			return fmt.Errorf("%w: type %q carrying a tool result", ErrContentMismatch, m.Type)
		}
	case TypeToolResult:
		if results == 0 {
			return fmt.Errorf("%w: type %q without a tool result", ErrContentMismatch, m.Type)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	return nil
}

// TextContent returns the plain-text view of the content: the text itself for
// ContentText, the concatenated text parts for ContentParts, empty otherwise.
func (m *Message) TextContent() string {
	switch m.Content.Kind {
	case ContentText:
		return m.Content.Text
	case ContentParts:
		var out string
		for _, p := range m.Content.Parts {
			if p.Kind == PartText {
				if out != "" {
					out += "\n"
				}
				out += p.Text
			}
		}
		return out
	}
	return ""
}

// TextMessage builds a canonical plain-text message with a fresh id.
func TextMessage(role Role, sessionID, text string, ts time.Time) Message {
	return Message{
		ID:        NewID(),
		SessionID: sessionID,
		Timestamp: FormatTimestamp(ts),
		Role:      role,
		Type:      TypeMessage,
		Content:   Content{Kind: ContentText, Text: text},
	}
}
