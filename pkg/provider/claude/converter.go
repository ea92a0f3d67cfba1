package claude

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tandem-dev/tandem/pkg/message"
	"github.com/tandem-dev/tandem/pkg/provider"
)

// Session files can carry very large tool results on a single line; the
// scanner must not treat an oversized record as end of input.
const (
	scanBufSize   = 64 * 1024
	maxRecordSize = 16 * 1024 * 1024
)

// Converter translates between session-file JSONL and canonical messages.
type Converter struct{}

// NewConverter returns a stateless converter. Tool correlation state lives in
// each conversion pass, never on the converter.
func NewConverter() *Converter {
	return &Converter{}
}

// ToCanonical parses a session file's bytes into canonical messages.
// Known non-conversation records (summaries, file history snapshots, queue
// operations, system events) are filtered before validation; any other
// structural problem aborts the conversion with a line-qualified error.
func (c *Converter) ToCanonical(data []byte, sessionID string) ([]message.Message, error) {
	msgs := []message.Message{}
	toolNames := make(map[string]string)       // tool call id -> tool name
	canonicalByUUID := make(map[string]string) // native uuid -> canonical id

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, scanBufSize), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &provider.RecordError{Line: line, Err: fmt.Errorf("malformed record: %w", err)}
		}
		if isFilteredRecord(rec.Type) {
			continue
		}
		if !isConversationRecord(rec.Type) {
			return nil, &provider.RecordError{Line: line, Err: fmt.Errorf("unrecognized record type %q", rec.Type)}
		}
		if err := validateRecord(&rec); err != nil {
			return nil, &provider.RecordError{Line: line, Err: err}
		}

		msg, err := recordToCanonical(&rec, sessionID, toolNames)
		if err != nil {
			return nil, &provider.RecordError{Line: line, Err: err}
		}
		if rec.ParentUUID != nil {
			msg.ParentID = canonicalByUUID[*rec.ParentUUID]
		}
		canonicalByUUID[rec.UUID] = msg.ID
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session data: %w", err)
	}
	return msgs, nil
}

func validateRecord(rec *Record) error {
	if rec.UUID == "" {
		return errors.New("missing uuid")
	}
	if rec.Timestamp == "" {
		return errors.New("missing timestamp")
	}
	if rec.Message == nil {
		return errors.New("missing message body")
	}
	switch rec.Type {
	case recordTypeUser:
		if rec.Message.Role != string(message.RoleUser) {
			return fmt.Errorf("role %q on user record", rec.Message.Role)
		}
	case recordTypeAssistant:
		if rec.Message.Role != string(message.RoleAssistant) {
			return fmt.Errorf("role %q on assistant record", rec.Message.Role)
		}
	}
	content := bytes.TrimSpace(rec.Message.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return errors.New("missing message content")
	}
	return nil
}

// recordToCanonical maps one native record to exactly one canonical message.
// Tool correlation is strictly forward: tool_use blocks register their id in
// toolNames, later tool_result blocks resolve against it and degrade to the
// "unknown" sentinel when no mapping exists.
func recordToCanonical(rec *Record, sessionID string, toolNames map[string]string) (message.Message, error) {
	var parts []message.Part

	if s, ok := rec.Message.contentString(); ok {
		parts = append(parts, message.Part{Kind: message.PartText, Text: s})
	} else {
		blocks, err := rec.Message.contentBlocks()
		if err != nil {
			return message.Message{}, err
		}
		for _, b := range blocks {
			switch b.Type {
			case blockTypeText:
				parts = append(parts, message.Part{Kind: message.PartText, Text: b.Text})
			case blockTypeToolUse:
				if b.ID == "" {
					return message.Message{}, errors.New("tool_use block missing id")
				}
				toolNames[b.ID] = b.Name
				parts = append(parts, message.Part{
					Kind:     message.PartToolCall,
					ToolCall: &message.ToolCall{ID: b.ID, Name: b.Name, Args: b.Input},
				})
			case blockTypeToolResult:
				if b.ToolUseID == "" {
					return message.Message{}, errors.New("tool_result block missing tool_use_id")
				}
				name, ok := toolNames[b.ToolUseID]
				if !ok {
					name = message.UnknownToolName
				}
				parts = append(parts, message.Part{
					Kind:       message.PartToolResult,
					ToolResult: &message.ToolResult{ID: b.ToolUseID, Name: name, Result: b.Content, IsError: b.IsError},
				})
			default:
				// Thinking and other non-conversational blocks carry no
				// cross-provider content.
			}
		}
	}

	content := collapseParts(parts)
	msg := message.Message{
		ID:        message.NewID(),
		SessionID: sessionID,
		Timestamp: rec.Timestamp,
		Role:      message.Role(rec.Message.Role),
		Type:      classify(&content),
		Content:   content,
		Metadata: message.Metadata{
			Provider:   ProviderName,
			OriginalID: rec.UUID,
			Cwd:        rec.Cwd,
			Version:    rec.Version,
		},
	}
	if u := rec.Message.Usage; u != nil {
		msg.Metadata.Usage = (&message.Usage{
			InputTokens:              u.InputTokens,
			OutputTokens:             u.OutputTokens,
			CacheCreationInputTokens: u.CacheCreationInputTokens,
			CacheReadInputTokens:     u.CacheReadInputTokens,
			ServiceTier:              u.ServiceTier,
		}).Normalize()
	}
	attachQuirks(&msg.Metadata, quirksFromRecord(rec))
	return msg, nil
}

// collapseParts picks the tightest content encoding: single parts collapse to
// their direct union arm, mixed lists stay as parts.
func collapseParts(parts []message.Part) message.Content {
	switch len(parts) {
	case 0:
		return message.Content{Kind: message.ContentText}
	case 1:
		p := parts[0]
		switch p.Kind {
		case message.PartText:
			return message.Content{Kind: message.ContentText, Text: p.Text}
		case message.PartToolCall:
			return message.Content{Kind: message.ContentToolCall, ToolCall: p.ToolCall}
		case message.PartToolResult:
			return message.Content{Kind: message.ContentToolResult, ToolResult: p.ToolResult}
		}
	}
	return message.Content{Kind: message.ContentParts, Parts: parts}
}

func classify(content *message.Content) message.Type {
	if len(content.ToolResults()) > 0 {
		return message.TypeToolResult
	}
	if len(content.ToolCalls()) > 0 {
		return message.TypeToolUse
	}
	return message.TypeMessage
}

// FromCanonical renders canonical messages to session-file JSONL. Messages
// the forward direction of another provider split apart are re-grouped per
// the shared tie-break policy, so a text and its companion tool call land in
// one assistant record.
func (c *Converter) FromCanonical(msgs []message.Message, sessionID, cwd, version string) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	groups := provider.Group(msgs, provider.DefaultGroupWindow)
	var buf bytes.Buffer
	var prevUUID *string
	for i, group := range groups {
		rec, err := groupToRecord(group, sessionID, cwd, version)
		if err != nil {
			return nil, fmt.Errorf("render record %d: %w", i+1, err)
		}
		rec.ParentUUID = prevUUID
		u := rec.UUID
		prevUUID = &u

		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %d: %w", i+1, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func groupToRecord(group []message.Message, sessionID, cwd, version string) (*Record, error) {
	first := group[0]
	quirks := decodeQuirks(&first.Metadata)

	rec := &Record{
		SessionID: sessionID,
		Cwd:       cwd,
		Version:   version,
		UUID:      uuid.New().String(),
		Timestamp: first.Timestamp,
	}
	if quirks != nil {
		rec.UserType = quirks.UserType
		rec.GitBranch = quirks.GitBranch
		rec.IsSidechain = quirks.IsSidechain
	}

	var blocks []ContentBlock
	for i := range group {
		bs, err := messageBlocks(&group[i])
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, bs...)
	}

	switch first.Role {
	case message.RoleUser:
		rec.Type = recordTypeUser
		rec.Message = &RecordMessage{Role: string(message.RoleUser)}
		if len(group) == 1 && first.Content.Kind == message.ContentText {
			raw, err := json.Marshal(first.Content.Text)
			if err != nil {
				return nil, fmt.Errorf("marshal text content: %w", err)
			}
			rec.Message.Content = raw
		} else {
			raw, err := json.Marshal(blocks)
			if err != nil {
				return nil, fmt.Errorf("marshal content blocks: %w", err)
			}
			rec.Message.Content = raw
		}
		if quirks != nil && first.Type == message.TypeToolResult {
			rec.ToolUseResult = quirks.ToolUseResult
		}

	case message.RoleAssistant:
		rec.Type = recordTypeAssistant
		raw, err := json.Marshal(blocks)
		if err != nil {
			return nil, fmt.Errorf("marshal content blocks: %w", err)
		}
		apiID := "msg_" + strings.ReplaceAll(rec.UUID, "-", "")[:24]
		rec.Message = &RecordMessage{
			Role:    string(message.RoleAssistant),
			Content: raw,
			ID:      apiID,
			Type:    "message",
			Usage:   usageFor(group),
		}
		if quirks != nil {
			rec.Message.Model = quirks.Model
			rec.Message.StopReason = quirks.StopReason
			rec.RequestID = quirks.RequestID
		}

	default:
		return nil, fmt.Errorf("unsupported role %q", first.Role)
	}
	return rec, nil
}

// messageBlocks flattens one canonical message into native content blocks.
func messageBlocks(msg *message.Message) ([]ContentBlock, error) {
	var parts []message.Part
	switch msg.Content.Kind {
	case message.ContentText:
		parts = []message.Part{{Kind: message.PartText, Text: msg.Content.Text}}
	case message.ContentToolCall:
		parts = []message.Part{{Kind: message.PartToolCall, ToolCall: msg.Content.ToolCall}}
	case message.ContentToolResult:
		parts = []message.Part{{Kind: message.PartToolResult, ToolResult: msg.Content.ToolResult}}
	case message.ContentParts:
		parts = msg.Content.Parts
	default:
		return nil, fmt.Errorf("unknown content kind %q", msg.Content.Kind)
	}

	blocks := make([]ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case message.PartText:
			blocks = append(blocks, ContentBlock{Type: blockTypeText, Text: p.Text})
		case message.PartToolCall:
			if p.ToolCall == nil {
				return nil, errors.New("tool call part without a tool call")
			}
			blocks = append(blocks, ContentBlock{
				Type:  blockTypeToolUse,
				ID:    p.ToolCall.ID,
				Name:  p.ToolCall.Name,
				Input: p.ToolCall.Args,
			})
		case message.PartToolResult:
			if p.ToolResult == nil {
				return nil, errors.New("tool result part without a tool result")
			}
			blocks = append(blocks, ContentBlock{
				Type:      blockTypeToolResult,
				ToolUseID: p.ToolResult.ID,
				Content:   p.ToolResult.Result,
				IsError:   p.ToolResult.IsError,
			})
		default:
			return nil, fmt.Errorf("unknown part kind %q", p.Kind)
		}
	}
	return blocks, nil
}

// usageFor picks the group's usage, preferring an explicit value and falling
// back to a structurally complete zero record.
func usageFor(group []message.Message) *TokenUsage {
	for i := range group {
		if u := group[i].Metadata.Usage; u != nil {
			return &TokenUsage{
				InputTokens:              u.InputTokens,
				OutputTokens:             u.OutputTokens,
				CacheCreationInputTokens: u.CacheCreationInputTokens,
				CacheReadInputTokens:     u.CacheReadInputTokens,
				ServiceTier:              u.ServiceTier,
			}
		}
	}
	return &TokenUsage{ServiceTier: message.DefaultServiceTier}
}
