package harvest

import (
	"context"
	"io"
	"time"
)

// SelectorKind picks the query language of a Selector.
type SelectorKind int

// Selector kinds understood by every PageAgent.
const (
	ByCSS SelectorKind = iota
	ByXPath
)

// Selector addresses elements on the current page.
type Selector struct {
	Kind SelectorKind
	Expr string
}

// CSS builds a CSS selector.
func CSS(expr string) Selector {
	return Selector{Kind: ByCSS, Expr: expr}
}

// XPath builds an XPath selector.
func XPath(expr string) Selector {
	return Selector{Kind: ByXPath, Expr: expr}
}

func (s Selector) String() string {
	if s.Kind == ByXPath {
		return "xpath:" + s.Expr
	}
	return "css:" + s.Expr
}

// Element is an opaque handle to a node on the current page. Handles are only
// valid until the page changes.
type Element interface {
	Selector() Selector
}

// Cookie is a browser cookie as seen by the page.
type Cookie struct {
	Name  string
	Value string
}

// PageAgent drives whatever renders pages and dispatches input.
type PageAgent interface {
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, sel Selector) (Element, bool, error)
	FindElements(ctx context.Context, sel Selector) ([]Element, error)
	Click(ctx context.Context, el Element) error
	SendKeys(ctx context.Context, el Element, text string) error
	RunScript(ctx context.Context, code string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Cookie(ctx context.Context, name string) (Cookie, bool, error)
	PageSource(ctx context.Context) (string, error)
}

// RecordSink persists extracted records.
type RecordSink interface {
	Save(ctx context.Context, record Record) error
}

// CheckpointStore durably holds the last attempted cursor.
type CheckpointStore interface {
	// Read returns false when no checkpoint has been written yet.
	Read(ctx context.Context) (Cursor, bool, error)
	Write(ctx context.Context, cursor Cursor) error
}

// PageArchive stores raw page snapshots and returns a URI.
type PageArchive interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a fixed delay. Implementations return early with the
// context error when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Establisher produces a fresh, fully positioned session: logged in, scope
// selected and search issued.
type Establisher interface {
	Establish(ctx context.Context) (SessionContext, error)
}

// Pager moves between records.
type Pager interface {
	JumpTo(ctx context.Context, session SessionContext, cursor Cursor) error
	OpenFirst(ctx context.Context) error
	Advance(ctx context.Context) (bool, error)
}

// ExpiryGuard checks for session expiry before each iteration and recovers
// from it. recovered is true when a recovery cycle ran; the caller must then
// retry the same cursor. Recover runs the same cycle on demand when a page
// could not be read.
type ExpiryGuard interface {
	Check(ctx context.Context, cursor Cursor, session SessionContext) (next SessionContext, recovered bool, err error)
	Recover(ctx context.Context, cursor Cursor, session SessionContext, cause error) (SessionContext, error)
}

// FieldExtractor maps a rendered page to record fields.
type FieldExtractor interface {
	Extract(html string) Fields
}

// Observer receives progress notifications from the loop and the supervisor.
type Observer interface {
	LoopStateChanged(state LoopState)
	RecoveryStateChanged(state RecoveryState)
	RecordProcessed(cursor Cursor, sinkErr error)
}

// Observers fans notifications out to several observers.
type Observers []Observer

// LoopStateChanged implements Observer.
func (o Observers) LoopStateChanged(state LoopState) {
	for _, obs := range o {
		obs.LoopStateChanged(state)
	}
}

// RecoveryStateChanged implements Observer.
func (o Observers) RecoveryStateChanged(state RecoveryState) {
	for _, obs := range o {
		obs.RecoveryStateChanged(state)
	}
}

// RecordProcessed implements Observer.
func (o Observers) RecordProcessed(cursor Cursor, sinkErr error) {
	for _, obs := range o {
		obs.RecordProcessed(cursor, sinkErr)
	}
}

type nopObserver struct{}

func (nopObserver) LoopStateChanged(LoopState)         {}
func (nopObserver) RecoveryStateChanged(RecoveryState) {}
func (nopObserver) RecordProcessed(Cursor, error)      {}
