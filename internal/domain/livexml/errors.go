package livexml

import "errors"

// Sentinel errors for document handling.
var (
	ErrNoDocuments  = errors.New("livexml: no score documents in payload")
	ErrMalformed    = errors.New("livexml: malformed document")
	ErrMissingField = errors.New("livexml: missing mandatory field")
	ErrBadTimestamp = errors.New("livexml: unparseable timestamp")
)
