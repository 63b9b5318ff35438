// Package stream acquires single still frames from recorder playback
// addresses.
package stream

import (
	"context"
	"errors"

	"github.com/care/oviss/internal/types"
)

// ErrEmptyFrame is returned when a source delivers no pixel data
var ErrEmptyFrame = errors.New("empty frame")

// Source is one connection to a playback address. Release must be safe to
// call whether or not Open succeeded.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (*types.Frame, error)
	Release() error
}

// Dialer creates an unopened Source for an address
type Dialer interface {
	Dial(url string) Source
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(url string) Source

// Dial implements Dialer
func (f DialerFunc) Dial(url string) Source {
	return f(url)
}
