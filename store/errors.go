package store

import "errors"

var (
	// Returned by AddBookmark when the bookmark ceiling is reached.
	// No write is performed.
	ErrBookmarkLimit = errors.New("store: bookmark limit exceeded")

	// Returned by lookups for a row that does not exist.
	ErrNotFound = errors.New("store: not found")

	// Returned by SaveSpace when DefaultChannelID does not resolve to a
	// channel in any group.
	ErrDanglingDefaultChannel = errors.New("store: default channel does not exist in space")
)
