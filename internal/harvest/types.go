package harvest

import (
	"strconv"
	"strings"
	"time"
)

// Cursor is the 1-based position of a record in the paginated result set.
type Cursor int

// Valid reports whether the cursor addresses a record.
func (c Cursor) Valid() bool {
	return c >= 1
}

func (c Cursor) String() string {
	return strconv.Itoa(int(c))
}

// Credentials authenticate against the remote site.
type Credentials struct {
	Username string
	Password string
}

// SessionContext is the token derived after login that record-addressing
// requests need. It stays valid until the remote side shows the expiry marker.
type SessionContext struct {
	Token string
}

// Valid reports whether a token has been derived.
func (s SessionContext) Valid() bool {
	return s.Token != ""
}

// Redacted returns a log-safe form of the token: its first four characters
// followed by "***".
func (s SessionContext) Redacted() string {
	const keep = 4
	if len(s.Token) <= keep {
		return "***"
	}
	return s.Token[:keep] + "***"
}

// RedactIn replaces the token wherever it occurs in text.
func (s SessionContext) RedactIn(text string) string {
	if !s.Valid() {
		return text
	}
	return strings.ReplaceAll(text, s.Token, s.Redacted())
}

// Fields is the best-effort content pulled from a rendered record page.
type Fields struct {
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	Database    string     `json:"database"`
	Abstract    string     `json:"abstract"`
	FullText    string     `json:"full_text"`
	PublishedOn *time.Time `json:"published_on,omitempty"`
}

// Record is a persisted record. Cursor is the natural key.
type Record struct {
	Cursor Cursor `json:"cursor"`
	RunID  string `json:"run_id"`
	URL    string `json:"url"`
	Fields
	IngestedAt time.Time `json:"ingested_at"`
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID        string `json:"run_id"`
	FirstCursor  Cursor `json:"first_cursor"`
	LastCursor   Cursor `json:"last_cursor"`
	Processed    int    `json:"processed"`
	SinkFailures int    `json:"sink_failures"`
	Recoveries   int    `json:"recoveries"`
	Exhausted    bool   `json:"exhausted"`
}

// LoopState is the crawl loop lifecycle.
type LoopState int

// Crawl loop states.
const (
	LoopIdle LoopState = iota
	LoopBootstrap
	LoopPositioning
	LoopIterating
	LoopDone
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopBootstrap:
		return "bootstrap"
	case LoopPositioning:
		return "positioning"
	case LoopIterating:
		return "iterating"
	case LoopDone:
		return "done"
	default:
		return "unknown"
	}
}

// RecoveryState is the session-expiry supervisor state.
type RecoveryState int

// Recovery supervisor states.
const (
	RecoveryActive RecoveryState = iota
	RecoveryExpired
	RecoveryReauthenticating
	RecoveryResumed
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryActive:
		return "active"
	case RecoveryExpired:
		return "expired"
	case RecoveryReauthenticating:
		return "reauthenticating"
	case RecoveryResumed:
		return "resumed"
	default:
		return "unknown"
	}
}
