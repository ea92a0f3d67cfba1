package claude

import (
	"bufio"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tandem-dev/tandem/pkg/message"
	"github.com/tandem-dev/tandem/pkg/provider"
)

const sampleSession = `{"parentUuid":null,"isSidechain":false,"userType":"external","cwd":"/home/u/proj","sessionId":"sess-1","version":"1.0.44","gitBranch":"main","type":"user","message":{"role":"user","content":"run the tests"},"uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}
{"parentUuid":"u-1","isSidechain":false,"userType":"external","cwd":"/home/u/proj","sessionId":"sess-1","version":"1.0.44","gitBranch":"main","type":"assistant","message":{"id":"msg_01","type":"message","role":"assistant","model":"sonnet-4","content":[{"type":"text","text":"Running them now."},{"type":"tool_use","id":"toolu_01","name":"bash","input":{"command":"go test ./..."}}],"stop_reason":"tool_use","usage":{"input_tokens":12,"output_tokens":34,"cache_creation_input_tokens":0,"cache_read_input_tokens":0,"service_tier":"standard"}},"uuid":"a-1","timestamp":"2024-05-04T10:00:01.000Z","requestId":"req_01"}
{"parentUuid":"a-1","isSidechain":false,"userType":"external","cwd":"/home/u/proj","sessionId":"sess-1","version":"1.0.44","type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok: all tests pass"}]},"uuid":"u-2","timestamp":"2024-05-04T10:00:05.000Z","toolUseResult":{"stdout":"ok","stderr":"","interrupted":false}}
`

func parseRecords(t *testing.T, data []byte) []Record {
	t.Helper()
	var recs []Record
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal written record: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestToCanonicalExampleScenario(t *testing.T) {
	conv := NewConverter()
	msgs, err := conv.ToCanonical([]byte(sampleSession), "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}

	first := msgs[0]
	if first.Type != message.TypeMessage || first.Role != message.RoleUser {
		t.Errorf("first message type/role = %s/%s", first.Type, first.Role)
	}
	if first.Content.Kind != message.ContentText || first.Content.Text != "run the tests" {
		t.Errorf("first content = %+v", first.Content)
	}
	if first.ParentID != "" {
		t.Errorf("root message has parent %q", first.ParentID)
	}
	if first.Metadata.OriginalID != "u-1" || first.Metadata.Provider != ProviderName {
		t.Errorf("first metadata = %+v", first.Metadata)
	}

	second := msgs[1]
	if second.Type != message.TypeToolUse {
		t.Errorf("second type = %s, want tool_use", second.Type)
	}
	if second.ParentID != first.ID {
		t.Errorf("second parent = %q, want %q", second.ParentID, first.ID)
	}
	if second.Content.Kind != message.ContentParts || len(second.Content.Parts) != 2 {
		t.Fatalf("second content = %+v", second.Content)
	}
	calls := second.Content.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "toolu_01" || calls[0].Name != "bash" {
		t.Errorf("tool calls = %+v", calls)
	}
	if second.Metadata.Usage == nil || second.Metadata.Usage.InputTokens != 12 {
		t.Errorf("usage = %+v", second.Metadata.Usage)
	}

	third := msgs[2]
	if third.Type != message.TypeToolResult {
		t.Errorf("third type = %s, want tool_result", third.Type)
	}
	if third.ParentID != second.ID {
		t.Errorf("third parent = %q, want %q", third.ParentID, second.ID)
	}
	results := third.Content.ToolResults()
	if len(results) != 1 {
		t.Fatalf("tool results = %+v", results)
	}
	if results[0].ID != "toolu_01" || results[0].Name != "bash" {
		t.Errorf("result correlation = %+v", results[0])
	}

	if msgs[0].ID == msgs[1].ID || msgs[1].ID == msgs[2].ID {
		t.Error("canonical ids must be unique")
	}
}

func TestToCanonicalUnknownToolSentinel(t *testing.T) {
	data := `{"parentUuid":null,"sessionId":"s","type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_99","content":"orphan"}]},"uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}
`
	conv := NewConverter()
	msgs, err := conv.ToCanonical([]byte(data), "s")
	if err != nil {
		t.Fatalf("ToCanonical() error = %v", err)
	}
	results := msgs[0].Content.ToolResults()
	if len(results) != 1 || results[0].Name != message.UnknownToolName {
		t.Errorf("orphan result name = %+v, want %q", results, message.UnknownToolName)
	}
}

func TestToCanonicalFiltersNonMessageRecords(t *testing.T) {
	data := `{"type":"summary","summary":"earlier work","leafUuid":"x"}
{"type":"file-history-snapshot","messageId":"m","isSnapshotUpdate":false,"snapshot":{}}
{"type":"queue-operation","operation":"enqueue","timestamp":"2024-05-04T10:00:00.000Z","sessionId":"s","content":"c"}
{"type":"system","subtype":"turn_duration","durationMs":1200,"uuid":"sys-1","timestamp":"2024-05-04T10:00:00.000Z"}
{"parentUuid":null,"sessionId":"s","type":"user","message":{"role":"user","content":"hi"},"uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}
`
	conv := NewConverter()
	msgs, err := conv.ToCanonical([]byte(data), "s")
	if err != nil {
		t.Fatalf("ToCanonical() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 after filtering", len(msgs))
	}
}

func TestToCanonicalMalformedLineFailsFast(t *testing.T) {
	data := `{"parentUuid":null,"sessionId":"s","type":"user","message":{"role":"user","content":"hi"},"uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}
{not json at all
`
	conv := NewConverter()
	_, err := conv.ToCanonical([]byte(data), "s")
	if err == nil {
		t.Fatal("ToCanonical() with malformed line expected error")
	}
	var recErr *provider.RecordError
	if !errors.As(err, &recErr) {
		t.Fatalf("error type = %T, want *provider.RecordError", err)
	}
	if recErr.Line != 2 {
		t.Errorf("error line = %d, want 2", recErr.Line)
	}
}

func TestToCanonicalValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"unknown type", `{"type":"banana","uuid":"u","timestamp":"t"}`},
		{"missing uuid", `{"type":"user","message":{"role":"user","content":"hi"},"timestamp":"2024-05-04T10:00:00.000Z"}`},
		{"missing timestamp", `{"type":"user","message":{"role":"user","content":"hi"},"uuid":"u-1"}`},
		{"missing message", `{"type":"user","uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}`},
		{"role mismatch", `{"type":"user","message":{"role":"assistant","content":"hi"},"uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}`},
		{"null content", `{"type":"user","message":{"role":"user","content":null},"uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}`},
		{"tool_use without id", `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"bash"}]},"uuid":"a-1","timestamp":"2024-05-04T10:00:00.000Z"}`},
		{"tool_result without id", `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","content":"x"}]},"uuid":"u-1","timestamp":"2024-05-04T10:00:00.000Z"}`},
	}

	conv := NewConverter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conv.ToCanonical([]byte(tt.line+"\n"), "s")
			if err == nil {
				t.Fatal("expected validation error")
			}
			var recErr *provider.RecordError
			if !errors.As(err, &recErr) {
				t.Fatalf("error type = %T, want *provider.RecordError", err)
			}
			if recErr.Line != 1 {
				t.Errorf("line = %d, want 1", recErr.Line)
			}
		})
	}
}

func TestToCanonicalEmptyInput(t *testing.T) {
	conv := NewConverter()
	msgs, err := conv.ToCanonical(nil, "s")
	if err != nil {
		t.Fatalf("ToCanonical(nil) error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestFromCanonicalExampleScenario(t *testing.T) {
	conv := NewConverter()
	msgs, err := conv.ToCanonical([]byte(sampleSession), "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical() error = %v", err)
	}

	data, err := conv.FromCanonical(msgs, "sess-2", "/tmp/proj", "1.0.50")
	if err != nil {
		t.Fatalf("FromCanonical() error = %v", err)
	}
	recs := parseRecords(t, data)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}

	if recs[0].Type != recordTypeUser {
		t.Errorf("rec0 type = %s", recs[0].Type)
	}
	var text string
	if err := json.Unmarshal(recs[0].Message.Content, &text); err != nil || text != "run the tests" {
		t.Errorf("rec0 content = %s (err %v)", recs[0].Message.Content, err)
	}
	if recs[0].ParentUUID != nil {
		t.Error("rec0 should be the thread root")
	}

	assistant := recs[1]
	if assistant.Type != recordTypeAssistant {
		t.Fatalf("rec1 type = %s", assistant.Type)
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(assistant.Message.Content, &blocks); err != nil {
		t.Fatalf("rec1 blocks: %v", err)
	}
	if len(blocks) != 2 || blocks[0].Type != blockTypeText || blocks[1].Type != blockTypeToolUse {
		t.Errorf("rec1 blocks = %+v, want text then tool_use in one record", blocks)
	}
	if blocks[1].ID != "toolu_01" || blocks[1].Name != "bash" {
		t.Errorf("tool_use block = %+v", blocks[1])
	}
	if assistant.Message.Usage == nil || assistant.Message.Usage.InputTokens != 12 {
		t.Errorf("usage not carried: %+v", assistant.Message.Usage)
	}
	if assistant.Message.Model != "sonnet-4" {
		t.Errorf("model = %q", assistant.Message.Model)
	}
	if assistant.RequestID != "req_01" {
		t.Errorf("requestId = %q", assistant.RequestID)
	}
	if assistant.ParentUUID == nil || *assistant.ParentUUID != recs[0].UUID {
		t.Error("rec1 parent must chain to rec0")
	}

	result := recs[2]
	if result.Type != recordTypeUser {
		t.Fatalf("rec2 type = %s, want separate user record", result.Type)
	}
	if err := json.Unmarshal(result.Message.Content, &blocks); err != nil {
		t.Fatalf("rec2 blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Type != blockTypeToolResult || blocks[0].ToolUseID != "toolu_01" {
		t.Errorf("rec2 blocks = %+v", blocks)
	}
	if result.ToolUseResult == nil || result.ToolUseResult["stdout"] != "ok" {
		t.Errorf("toolUseResult blob not reattached: %+v", result.ToolUseResult)
	}

	for _, rec := range recs {
		if rec.SessionID != "sess-2" {
			t.Errorf("sessionId = %q, want sess-2", rec.SessionID)
		}
		if rec.Cwd != "/tmp/proj" || rec.Version != "1.0.50" {
			t.Errorf("cwd/version = %q/%q", rec.Cwd, rec.Version)
		}
	}
}

func TestFromCanonicalGroupsSplitMessages(t *testing.T) {
	base := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	text := message.TextMessage(message.RoleAssistant, "g-1", "checking the file", base)
	text.Metadata.Provider = "gemini"
	call := message.Message{
		ID:        message.NewID(),
		SessionID: "g-1",
		Timestamp: message.FormatTimestamp(base.Add(100 * time.Millisecond)),
		Role:      message.RoleAssistant,
		Type:      message.TypeToolUse,
		Content: message.Content{
			Kind:     message.ContentToolCall,
			ToolCall: &message.ToolCall{ID: "call-1", Name: "read_file", Args: map[string]any{"path": "main.go"}},
		},
		Metadata: message.Metadata{Provider: "gemini", OriginalID: "g-orig-2"},
	}

	conv := NewConverter()
	data, err := conv.FromCanonical([]message.Message{text, call}, "sess-x", "", "")
	if err != nil {
		t.Fatalf("FromCanonical() error = %v", err)
	}
	recs := parseRecords(t, data)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 merged assistant record", len(recs))
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(recs[0].Message.Content, &blocks); err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v, want text and tool_use", blocks)
	}
	if recs[0].Message.Usage == nil || recs[0].Message.Usage.ServiceTier != message.DefaultServiceTier {
		t.Errorf("default usage = %+v, want zero counts with standard tier", recs[0].Message.Usage)
	}
}

func TestFromCanonicalTwoTextsStaySeparate(t *testing.T) {
	base := time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)
	a := message.TextMessage(message.RoleAssistant, "g-1", "first thought", base)
	a.Metadata.Provider = "gemini"
	b := message.TextMessage(message.RoleAssistant, "g-1", "second thought", base.Add(100*time.Millisecond))
	b.Metadata.Provider = "gemini"

	conv := NewConverter()
	data, err := conv.FromCanonical([]message.Message{a, b}, "sess-x", "", "")
	if err != nil {
		t.Fatalf("FromCanonical() error = %v", err)
	}
	if recs := parseRecords(t, data); len(recs) != 2 {
		t.Fatalf("got %d records, want 2 unmerged text records", len(recs))
	}
}

func TestFromCanonicalEmptyInput(t *testing.T) {
	conv := NewConverter()
	data, err := conv.FromCanonical(nil, "s", "", "")
	if err != nil {
		t.Fatalf("FromCanonical(nil) error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("got %d bytes, want 0", len(data))
	}
}

func TestRoundTripPreservesContent(t *testing.T) {
	conv := NewConverter()
	msgs, err := conv.ToCanonical([]byte(sampleSession), "sess-1")
	if err != nil {
		t.Fatalf("ToCanonical() error = %v", err)
	}
	data, err := conv.FromCanonical(msgs, "sess-1", "/home/u/proj", "1.0.44")
	if err != nil {
		t.Fatalf("FromCanonical() error = %v", err)
	}
	again, err := conv.ToCanonical(data, "sess-1")
	if err != nil {
		t.Fatalf("second ToCanonical() error = %v", err)
	}

	if len(again) != len(msgs) {
		t.Fatalf("round trip count = %d, want %d", len(again), len(msgs))
	}
	for i := range msgs {
		if again[i].Role != msgs[i].Role || again[i].Type != msgs[i].Type {
			t.Errorf("message %d role/type changed: %s/%s -> %s/%s",
				i, msgs[i].Role, msgs[i].Type, again[i].Role, again[i].Type)
		}
		if again[i].TextContent() != msgs[i].TextContent() {
			t.Errorf("message %d text changed: %q -> %q", i, msgs[i].TextContent(), again[i].TextContent())
		}
		if again[i].ID == msgs[i].ID {
			t.Errorf("message %d reused a canonical id across conversions", i)
		}
	}

	wantCalls := msgs[1].Content.ToolCalls()
	gotCalls := again[1].Content.ToolCalls()
	if len(gotCalls) != 1 || gotCalls[0].ID != wantCalls[0].ID || gotCalls[0].Name != wantCalls[0].Name {
		t.Errorf("tool pairing lost: %+v -> %+v", wantCalls, gotCalls)
	}
	gotResults := again[2].Content.ToolResults()
	if len(gotResults) != 1 || gotResults[0].ID != "toolu_01" || gotResults[0].Name != "bash" {
		t.Errorf("result pairing lost: %+v", gotResults)
	}
}
