package downloader

import (
	"errors"
	"fmt"
)

// ErrEmptyDownload is returned when a stream ended without any data.
var ErrEmptyDownload = errors.New("downloaded file is empty, no data received from server")

// Kind classifies why a retrieval failed.
type Kind int

const (
	// KindTransport covers request failures and non-success statuses.
	KindTransport Kind = iota + 1
	// KindEntitlement is the server refusing for missing decryption keys.
	KindEntitlement
	// KindStream covers unreadable bodies, read errors and empty payloads.
	KindStream
	// KindPersistence means no save target accepted the payload.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindEntitlement:
		return "entitlement"
	case KindStream:
		return "stream"
	case KindPersistence:
		return "persistence"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a failed retrieval.
//
// Use errors.As to extract it from the error passed to Options.OnFinish.
type Error struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s: %s: %v", e.ID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the text shown to the user.
func (e *Error) Message() string {
	if e.Err == nil {
		return "unknown error occurred"
	}
	return e.Err.Error()
}
