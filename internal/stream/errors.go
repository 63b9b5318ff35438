package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies acquisition failures for logs and metrics
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates connection, timeout or DNS failures
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates decode or negotiation failures
	ErrCategoryCodec
	// ErrCategoryAuth indicates rejected credentials
	ErrCategoryAuth
	// ErrCategoryEmpty indicates the source opened but produced no frame
	ErrCategoryEmpty
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// Categories lists every category in declaration order
var Categories = []ErrorCategory{
	ErrCategoryNetwork,
	ErrCategoryCodec,
	ErrCategoryAuth,
	ErrCategoryEmpty,
	ErrCategoryUnknown,
}

// String returns the label used in logs and metrics
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// PipelineError is a decoder backend failure with its debug detail
type PipelineError struct {
	Message string
	Debug   string
}

func (e *PipelineError) Error() string {
	if e.Debug == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Debug)
}

// ClassifyError maps an acquisition error to a category using message
// heuristics. Auth is checked first, then codec, then network.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}
	if errors.Is(err, ErrEmptyFrame) {
		return ErrCategoryEmpty
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	var perr *PipelineError
	if errors.As(err, &perr) {
		msg += " " + strings.ToLower(perr.Debug)
	}

	switch {
	case containsAny(msg, authKeywords):
		return ErrCategoryAuth
	case containsAny(msg, codecKeywords):
		return ErrCategoryCodec
	case containsAny(msg, networkKeywords):
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

var authKeywords = []string{
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"authentication",
	"credentials",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"negotiation",
	"not negotiated",
	"caps",
	"h264",
	"h265",
	"no decoder",
	"missing plugin",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"unreachable",
	"network",
	"dns",
	"resolve",
	"socket",
	"could not open",
	"could not connect",
	"failed to connect",
	"not found",
	"end of stream",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
