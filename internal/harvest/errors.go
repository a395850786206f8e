package harvest

import (
	"context"
	"errors"
)

var (
	// ErrSignatureMismatch means the landing page is not the expected site.
	ErrSignatureMismatch = errors.New("landing page does not match site signature")
	// ErrSessionCookieMissing means the session cookie was absent after login.
	ErrSessionCookieMissing = errors.New("session cookie missing")
	// ErrNoSession is returned when a record is addressed without a session token.
	ErrNoSession = errors.New("session context is empty")
	// ErrNoResults means the search returned an empty result list.
	ErrNoResults = errors.New("search returned no results")
	// ErrRecoveryExhausted means the recovery attempt cap was reached.
	ErrRecoveryExhausted = errors.New("session recovery attempts exhausted")
	// ErrInvalidCursor is returned for cursors below 1.
	ErrInvalidCursor = errors.New("cursor must be >= 1")
	// ErrElementMissing means a required page element could not be found.
	ErrElementMissing = errors.New("required element not found")
	// ErrPageUnreadable means the current record page could not be read.
	ErrPageUnreadable = errors.New("record page unreadable")
)

// IsFatal reports whether err indicates a broken precondition that must abort
// the run instead of being retried. A deadline is not fatal: single browser
// actions time out on their own.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSignatureMismatch),
		errors.Is(err, ErrSessionCookieMissing),
		errors.Is(err, ErrRecoveryExhausted),
		errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}
