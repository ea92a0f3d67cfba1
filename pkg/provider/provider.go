// Package provider defines the contracts a conversation provider implements:
// a two-way converter between its native on-disk records and the canonical
// model, and a file handler that locates, reads, and writes the per-session
// conversation state those records live in.
//
// Components are wired explicitly at construction. There is deliberately no
// global provider registry; the process builds one owned graph and passes
// handlers where they are needed.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/tandem-dev/tandem/pkg/message"
)

// Sentinel errors shared by provider implementations.
var (
	// ErrConversionLoss reports that a non-empty canonical input produced
	// zero native records. Silent data loss is never acceptable, so writers
	// treat this as fatal.
	ErrConversionLoss = errors.New("conversion produced no native records for non-empty input")

	// ErrNoCurrentSession reports that the provider's reference store has no
	// current session id recorded for a tag.
	ErrNoCurrentSession = errors.New("no current provider session recorded")
)

// RecordError qualifies a structural validation failure with the position of
// the offending native record: the 1-based line for line-delimited stores,
// the array index for document stores.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Converter translates between a provider's native blob and canonical
// messages.
//
// ToCanonical validates record by record and fails fast with a RecordError on
// the first structurally invalid record. Known non-message records are
// silently filtered before validation; skipping is not a failure.
//
// FromCanonical groups canonical messages per the grouping policy (see Group)
// and renders native records; it never drops a message silently.
type Converter interface {
	ToCanonical(data []byte, sessionID string) ([]message.Message, error)
	FromCanonical(msgs []message.Message, sessionID, cwd, version string) ([]byte, error)
}

// Handler is the per-provider conversation file contract the sync engine
// drives. All paths are absolute. Implementations resolve "before" according
// to their storage model: append-only stores point at the previous
// provider-session file recorded in the checkpoint, snapshot stores keep an
// explicit pre-write backup copy. On the very first sync for a tag, BeforeFile
// returns an empty path and no error, which readers treat as an empty
// conversation.
type Handler interface {
	// Name returns the provider name ("claude", "gemini").
	Name() string

	// BeforeFile resolves the baseline snapshot for the tag. An empty path
	// with nil error means no prior state.
	BeforeFile(ctx context.Context, tag string) (string, error)

	// AfterFile resolves the current conversation file for the tag.
	AfterFile(ctx context.Context, tag string) (string, error)

	// ReadConversation parses the file into canonical messages. A missing,
	// zero-byte, or malformed file yields an empty slice, never an error:
	// "no prior state" and "unreadable state" are treated identically.
	ReadConversation(ctx context.Context, path string) ([]message.Message, error)

	// WriteConversation renders the messages to native records and writes
	// them atomically. A non-empty input rendering to zero records fails
	// with ErrConversionLoss.
	WriteConversation(ctx context.Context, path string, msgs []message.Message) error

	// UpdateAfterSync advances the sync checkpoint for the tag. It is the
	// only checkpoint writer, reads the authoritative current session id
	// from the reference store, and must be called only after a successful
	// destination write.
	UpdateAfterSync(ctx context.Context, tag string) error

	// FileExists reports whether path exists as a regular file.
	FileExists(path string) bool

	// InitializeState prepares on-disk state for a tag (directories,
	// checkpoint seed). Idempotent.
	InitializeState(ctx context.Context, tag string) error
}
