// Package materialize turns a finished byte stream into a saved file.
//
// Chunks are assembled into a single payload, a file name is resolved from
// the response headers or the item title, and the payload is handed to a
// primary Trigger. When the primary fails a Fallback trigger is tried.
package materialize

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by Materializer.Save.
var (
	ErrNoTarget   = errors.New("materialize: no save target available")
	ErrSaveFailed = errors.New("materialize: all save targets failed")
)

// Via names the trigger that stored a payload.
type Via string

const (
	ViaPrimary  Via = "primary"
	ViaFallback Via = "fallback"
)

// Result describes a saved payload.
type Result struct {
	Filename string
	Location string
	Via      Via
	// PrimaryErr is set when the fallback had to be used.
	PrimaryErr error
}

// Materializer saves payloads through a primary trigger with an optional
// fallback.
type Materializer struct {
	Primary  Trigger
	Fallback Trigger
}

// Save stores p under filename.
func (m *Materializer) Save(ctx context.Context, filename string, p *Payload) (Result, error) {
	if m == nil || m.Primary == nil {
		return Result{}, ErrNoTarget
	}
	if p == nil || len(p.Data) == 0 {
		return Result{}, ErrEmptyPayload
	}

	loc, err := m.Primary.Save(ctx, filename, p)
	if err == nil {
		return Result{Filename: filename, Location: loc, Via: ViaPrimary}, nil
	}
	primaryErr := err

	if m.Fallback == nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSaveFailed, primaryErr)
	}

	loc, err = m.Fallback.Save(ctx, filename, p)
	if err != nil {
		return Result{}, fmt.Errorf("%w: primary: %w; fallback: %w", ErrSaveFailed, primaryErr, err)
	}
	return Result{Filename: filename, Location: loc, Via: ViaFallback, PrimaryErr: primaryErr}, nil
}
