package claude

import (
	"encoding/json"

	"github.com/tandem-dev/tandem/pkg/message"
)

// quirksKey is the reserved metadata key this provider's typed quirks travel
// under. Loose keys in the extra map are reserved for genuinely unknown
// fields.
const quirksKey = ProviderName

// Quirks is the closed set of provider-specific record fields that have no
// canonical equivalent but must survive a round trip back into a native
// record.
type Quirks struct {
	UserType      string         `json:"userType,omitempty"`
	GitBranch     string         `json:"gitBranch,omitempty"`
	IsSidechain   bool           `json:"isSidechain,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	Model         string         `json:"model,omitempty"`
	StopReason    *string        `json:"stopReason,omitempty"`
	ToolUseResult map[string]any `json:"toolUseResult,omitempty"`
}

func (q *Quirks) empty() bool {
	return q.UserType == "" && q.GitBranch == "" && !q.IsSidechain &&
		q.RequestID == "" && q.Model == "" && q.StopReason == nil && q.ToolUseResult == nil
}

func quirksFromRecord(rec *Record) *Quirks {
	q := &Quirks{
		UserType:      rec.UserType,
		GitBranch:     rec.GitBranch,
		IsSidechain:   rec.IsSidechain,
		RequestID:     rec.RequestID,
		ToolUseResult: rec.ToolUseResult,
	}
	if rec.Message != nil {
		q.Model = rec.Message.Model
		q.StopReason = rec.Message.StopReason
	}
	return q
}

func attachQuirks(meta *message.Metadata, q *Quirks) {
	if q == nil || q.empty() {
		return
	}
	if meta.Extra == nil {
		meta.Extra = make(map[string]any)
	}
	meta.Extra[quirksKey] = q
}

// decodeQuirks recovers typed quirks from canonical metadata. The value may
// be the in-memory *Quirks or, after the canonical message itself crossed a
// JSON boundary, a generic map; both decode through a marshal round trip.
func decodeQuirks(meta *message.Metadata) *Quirks {
	if meta.Provider != ProviderName || meta.Extra == nil {
		return nil
	}
	v, ok := meta.Extra[quirksKey]
	if !ok {
		return nil
	}
	if q, ok := v.(*Quirks); ok {
		return q
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var q Quirks
	if err := json.Unmarshal(data, &q); err != nil {
		return nil
	}
	return &q
}
