package message

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name: "plain text",
			msg: Message{
				Role: RoleUser, Type: TypeMessage,
				Content: Content{Kind: ContentText, Text: "hello"},
			},
		},
		{
			name: "mixed parts",
			msg: Message{
				Role: RoleAssistant, Type: TypeMessage,
				Content: Content{Kind: ContentParts, Parts: []Part{{Kind: PartText, Text: "hi"}}},
			},
		},
		{
			name: "tool use",
			msg: Message{
				Role: RoleAssistant, Type: TypeToolUse,
				Content: Content{Kind: ContentToolCall, ToolCall: &ToolCall{ID: "t1", Name: "read"}},
			},
		},
		{
			name: "tool result",
			msg: Message{
				Role: RoleUser, Type: TypeToolResult,
				Content: Content{Kind: ContentToolResult, ToolResult: &ToolResult{ID: "t1", Name: "read"}},
			},
		},
		{
			name: "tool use with mixed parts",
			msg: Message{
				Role: RoleAssistant, Type: TypeToolUse,
				Content: Content{Kind: ContentParts, Parts: []Part{
					{Kind: PartText, Text: "let me check"},
					{Kind: PartToolCall, ToolCall: &ToolCall{ID: "t1", Name: "bash"}},
				}},
			},
		},
		{
			name:    "bad role",
			msg:     Message{Role: "system", Type: TypeMessage, Content: Content{Kind: ContentText}},
			wantErr: ErrInvalidRole,
		},
		{
			name:    "bad type",
			msg:     Message{Role: RoleUser, Type: "summary", Content: Content{Kind: ContentText}},
			wantErr: ErrInvalidType,
		},
		{
			name:    "tool use without call",
			msg:     Message{Role: RoleAssistant, Type: TypeToolUse, Content: Content{Kind: ContentText, Text: "x"}},
			wantErr: ErrContentMismatch,
		},
		{
			name:    "tool result without result",
			msg:     Message{Role: RoleUser, Type: TypeToolResult, Content: Content{Kind: ContentToolResult}},
			wantErr: ErrContentMismatch,
		},
		{
			name:    "message with tool call content",
			msg:     Message{Role: RoleAssistant, Type: TypeMessage, Content: Content{Kind: ContentToolCall, ToolCall: &ToolCall{ID: "t"}}},
			wantErr: ErrContentMismatch,
		},
		{
			name:    "empty parts",
			msg:     Message{Role: RoleUser, Type: TypeMessage, Content: Content{Kind: ContentParts}},
			wantErr: ErrContentMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want %v", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want wrapped %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 4, 10, 12, 3, 250_000_000, time.UTC)
	s := FormatTimestamp(ts)
	if s != "2024-05-04T10:12:03.250Z" {
		t.Fatalf("FormatTimestamp() = %q", s)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("round trip = %v, want %v", parsed, ts)
	}
}

func TestParseTimestampRFC3339Fallback(t *testing.T) {
	parsed, err := ParseTimestamp("2024-05-04T10:12:03Z")
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if parsed.Hour() != 10 || parsed.Second() != 3 {
		t.Errorf("unexpected parsed time %v", parsed)
	}

	if _, err := ParseTimestamp("not a time"); err == nil {
		t.Error("ParseTimestamp() with garbage expected error")
	}
}

func TestContentUnionJSON(t *testing.T) {
	msg := Message{
		ID:        NewID(),
		SessionID: "s1",
		Timestamp: FormatTimestamp(time.Now()),
		Role:      RoleAssistant,
		Type:      TypeToolUse,
		Content: Content{
			Kind:     ContentToolCall,
			ToolCall: &ToolCall{ID: "toolu_01", Name: "bash", Args: map[string]any{"command": "ls"}},
		},
		Metadata: Metadata{Provider: "claude", OriginalID: "orig-1"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Content.Kind != ContentToolCall || back.Content.ToolCall == nil {
		t.Fatal("tool call content lost in round trip")
	}
	if back.Content.ToolCall.Name != "bash" {
		t.Errorf("tool name = %q, want bash", back.Content.ToolCall.Name)
	}
	if back.Content.Text != "" || back.Content.ToolResult != nil {
		t.Error("inactive union arms should stay empty")
	}
	if back.Metadata.OriginalID != "orig-1" {
		t.Errorf("originalId = %q", back.Metadata.OriginalID)
	}
}

func TestTextContent(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "plain",
			msg:  Message{Content: Content{Kind: ContentText, Text: "hello"}},
			want: "hello",
		},
		{
			name: "parts joined",
			msg: Message{Content: Content{Kind: ContentParts, Parts: []Part{
				{Kind: PartText, Text: "a"},
				{Kind: PartToolCall, ToolCall: &ToolCall{ID: "t"}},
				{Kind: PartText, Text: "b"},
			}}},
			want: "a\nb",
		},
		{
			name: "tool call has no text",
			msg:  Message{Content: Content{Kind: ContentToolCall, ToolCall: &ToolCall{ID: "t"}}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.TextContent(); got != tt.want {
				t.Errorf("TextContent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUsageNormalize(t *testing.T) {
	u := (&Usage{InputTokens: 5}).Normalize()
	if u.ServiceTier != DefaultServiceTier {
		t.Errorf("ServiceTier = %q, want %q", u.ServiceTier, DefaultServiceTier)
	}
	u2 := (&Usage{ServiceTier: "batch"}).Normalize()
	if u2.ServiceTier != "batch" {
		t.Errorf("explicit tier overwritten: %q", u2.ServiceTier)
	}
}

func TestContentToolAccessors(t *testing.T) {
	c := Content{Kind: ContentParts, Parts: []Part{
		{Kind: PartText, Text: "running"},
		{Kind: PartToolCall, ToolCall: &ToolCall{ID: "t1", Name: "bash"}},
		{Kind: PartToolResult, ToolResult: &ToolResult{ID: "t1", Name: "bash", Result: "ok"}},
	}}
	if got := c.ToolCalls(); len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("ToolCalls() = %+v", got)
	}
	if got := c.ToolResults(); len(got) != 1 || got[0].Result != "ok" {
		t.Errorf("ToolResults() = %+v", got)
	}

	direct := Content{Kind: ContentToolCall, ToolCall: &ToolCall{ID: "t2", Name: "read"}}
	if got := direct.ToolCalls(); len(got) != 1 || got[0].Name != "read" {
		t.Errorf("ToolCalls() direct = %+v", got)
	}
	if got := direct.ToolResults(); len(got) != 0 {
		t.Errorf("ToolResults() direct = %+v", got)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
