// Package registry maintains the cross-process directory of logical sessions:
// which tags exist, which OS process owns each one, and which provider-native
// session ids and paths back it. The document lives in shared storage and every
// mutation runs under an exclusive cross-process lock, so concurrent tandem
// processes never interleave partial updates.
package registry

import (
	"time"
)

// DocumentVersion is stamped on every written registry document.
const DocumentVersion = 1

// Status is a session's lifecycle state.
type Status string

// Session states. Archived sessions stay listed until explicitly removed.
const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ProviderInfo records one provider's backing state for a session.
type ProviderInfo struct {
	// SessionID is the provider-assigned session id currently in use.
	SessionID string `json:"sessionId"`

	// SessionPaths are the conversation files known for this provider.
	SessionPaths []string `json:"sessionPaths,omitempty"`

	// Metadata carries provider-specific annotations (model, project, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Entry is one session's registry record. Tag is the primary key.
type Entry struct {
	Tag          string                   `json:"tag"`
	PID          int                      `json:"pid"`
	CreatedAt    time.Time                `json:"createdAt"`
	LastActivity time.Time                `json:"lastActivity"`
	Status       Status                   `json:"status"`
	Providers    map[string]*ProviderInfo `json:"providers"`
}

// Document is the whole registry file: read fully, mutated in memory, and
// written back fully on every successful lock acquisition.
type Document struct {
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"createdAt"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Sessions    map[string]*Entry `json:"sessions"`
}

// NewDocument returns an empty registry document.
func NewDocument() *Document {
	now := time.Now().UTC()
	return &Document{
		Version:   DocumentVersion,
		CreatedAt: now,
		Sessions:  make(map[string]*Entry),
	}
}

// Stats summarizes the registry for status reporting.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Archived int `json:"archived"`

	// Owned counts active sessions owned by the calling process.
	Owned int `json:"owned"`
}
