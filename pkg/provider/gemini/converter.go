package gemini

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/pkg/message"
	"github.com/tandem-dev/tandem/pkg/provider"
)

// Converter translates between the session document and canonical messages.
//
// The forward direction splits each entry into one canonical message per
// part, all stamped with the entry's timestamp. The reverse direction undoes
// exactly that split through the shared grouping policy, so a text produced
// alongside a function call folds back into a single entry.
type Converter struct{}

// NewConverter returns a stateless converter.
func NewConverter() *Converter {
	return &Converter{}
}

// ToCanonical parses a session document into canonical messages. Config and
// summary entries are filtered before validation; any structurally invalid
// entry aborts the conversion with an index-qualified error.
func (c *Converter) ToCanonical(data []byte, sessionID string) ([]message.Message, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed session document: %w", err)
	}

	msgs := []message.Message{}
	toolNames := make(map[string]string) // call id -> tool name
	prevID := ""

	for i, entry := range doc.Messages {
		if isFilteredEntry(entry.Type) {
			continue
		}
		if !isConversationEntry(entry.Type) {
			return nil, &provider.RecordError{Line: i + 1, Err: fmt.Errorf("unrecognized entry type %q", entry.Type)}
		}
		if err := validateEntry(&entry); err != nil {
			return nil, &provider.RecordError{Line: i + 1, Err: err}
		}

		role := message.RoleUser
		if entry.Type == entryTypeGemini {
			role = message.RoleAssistant
		}

		for p, part := range entry.Parts {
			if part.Thought {
				continue
			}
			msg := partToCanonical(&entry, p, part, role, sessionID, toolNames)
			msg.ParentID = prevID
			prevID = msg.ID
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func validateEntry(entry *Entry) error {
	if entry.ID == "" {
		return errors.New("missing entry id")
	}
	if entry.Timestamp == "" {
		return errors.New("missing timestamp")
	}
	if len(entry.Parts) == 0 {
		return errors.New("entry has no parts")
	}
	for i, part := range entry.Parts {
		if part.FunctionCall != nil && part.FunctionResponse != nil {
			return fmt.Errorf("part %d sets both function call and response", i)
		}
		if part.Text != "" && (part.FunctionCall != nil || part.FunctionResponse != nil) {
			return fmt.Errorf("part %d mixes text with function content", i)
		}
		if part.FunctionCall != nil && part.FunctionCall.Name == "" {
			return fmt.Errorf("part %d: function call missing name", i)
		}
	}
	return nil
}

// partToCanonical maps one entry part to one canonical message. The original
// id is entry-qualified with the part index so every split message keeps a
// stable, unique source identity for delta computation.
func partToCanonical(entry *Entry, partIdx int, part Part, role message.Role, sessionID string, toolNames map[string]string) message.Message {
	originalID := fmt.Sprintf("%s#%d", entry.ID, partIdx)
	msg := message.Message{
		ID:        message.NewID(),
		SessionID: sessionID,
		Timestamp: entry.Timestamp,
		Role:      role,
		Metadata:  message.Metadata{Provider: ProviderName, OriginalID: originalID},
	}

	switch {
	case part.FunctionCall != nil:
		fc := part.FunctionCall
		id := fc.ID
		if id == "" {
			id = originalID
		}
		toolNames[id] = fc.Name
		msg.Type = message.TypeToolUse
		msg.Content = message.Content{
			Kind:     message.ContentToolCall,
			ToolCall: &message.ToolCall{ID: id, Name: fc.Name, Args: fc.Args},
		}

	case part.FunctionResponse != nil:
		fr := part.FunctionResponse
		name, ok := toolNames[fr.ID]
		if !ok {
			name = message.UnknownToolName
		}
		msg.Type = message.TypeToolResult
		msg.Content = message.Content{
			Kind:       message.ContentToolResult,
			ToolResult: &message.ToolResult{ID: fr.ID, Name: name, Result: fr.Response, IsError: fr.IsError},
		}

	default:
		msg.Type = message.TypeMessage
		msg.Content = message.Content{Kind: message.ContentText, Text: part.Text}
	}

	return msg
}

// FromCanonical renders canonical messages into a complete session document.
// Grouped messages fold into a single entry with mixed parts.
func (c *Converter) FromCanonical(msgs []message.Message, sessionID, cwd, version string) ([]byte, error) {
	doc := Document{
		SessionID: sessionID,
		Cwd:       cwd,
		Version:   version,
		Messages:  make([]Entry, 0, len(msgs)),
	}

	groups := provider.Group(msgs, provider.DefaultGroupWindow)
	for i, group := range groups {
		entry, err := groupToEntry(group)
		if err != nil {
			return nil, fmt.Errorf("render entry %d: %w", i+1, err)
		}
		doc.Messages = append(doc.Messages, *entry)
	}

	if len(doc.Messages) > 0 {
		doc.CreatedAt = doc.Messages[0].Timestamp
		doc.LastUpdated = doc.Messages[len(doc.Messages)-1].Timestamp
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session document: %w", err)
	}
	return data, nil
}

func groupToEntry(group []message.Message) (*Entry, error) {
	first := group[0]
	entry := &Entry{
		ID:        uuid.New().String(),
		Timestamp: first.Timestamp,
		Type:      entryTypeUser,
	}
	if first.Role == message.RoleAssistant {
		entry.Type = entryTypeGemini
	}

	for i := range group {
		parts, err := messageParts(&group[i])
		if err != nil {
			return nil, err
		}
		entry.Parts = append(entry.Parts, parts...)
	}
	return entry, nil
}

func messageParts(msg *message.Message) ([]Part, error) {
	var src []message.Part
	switch msg.Content.Kind {
	case message.ContentText:
		src = []message.Part{{Kind: message.PartText, Text: msg.Content.Text}}
	case message.ContentToolCall:
		src = []message.Part{{Kind: message.PartToolCall, ToolCall: msg.Content.ToolCall}}
	case message.ContentToolResult:
		src = []message.Part{{Kind: message.PartToolResult, ToolResult: msg.Content.ToolResult}}
	case message.ContentParts:
		src = msg.Content.Parts
	default:
		return nil, fmt.Errorf("unknown content kind %q", msg.Content.Kind)
	}

	parts := make([]Part, 0, len(src))
	for _, p := range src {
		switch p.Kind {
		case message.PartText:
			parts = append(parts, Part{Text: p.Text})
		case message.PartToolCall:
			if p.ToolCall == nil {
				return nil, errors.New("tool call part without a tool call")
			}
			parts = append(parts, Part{FunctionCall: &FunctionCall{
				ID:   p.ToolCall.ID,
				Name: p.ToolCall.Name,
				Args: p.ToolCall.Args,
			}})
		case message.PartToolResult:
			if p.ToolResult == nil {
				return nil, errors.New("tool result part without a tool result")
			}
			parts = append(parts, Part{FunctionResponse: &FunctionResponse{
				ID:       p.ToolResult.ID,
				Name:     p.ToolResult.Name,
				Response: p.ToolResult.Result,
				IsError:  p.ToolResult.IsError,
			}})
		default:
			return nil, fmt.Errorf("unknown part kind %q", p.Kind)
		}
	}
	return parts, nil
}
