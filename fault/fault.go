// Package fault defines the structured error returned by every printing operation.
//
// Callers never see a bare driver failure: each one is translated into an *Error
// carrying a kind, a human readable message and a context map.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure
type Kind string

const (
	KindNotInitialized Kind = "NOT_INITIALIZED"
	KindBindingFailed  Kind = "SERVICE_BINDING_FAILED"
	KindConnectTimeout Kind = "CONNECT_TIMEOUT"
	KindEncoding       Kind = "ENCODING_ERROR"
	KindTransmission   Kind = "TRANSMISSION_ERROR"
	KindFinalize       Kind = "FINALIZE_ERROR"
	KindPrint          Kind = "PRINT_ERROR"
	KindRemote         Kind = "REMOTE_FAILURE"
	KindTimeout        Kind = "TIMEOUT"
)

// Error is the {kind, message, context} triple surfaced to callers
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Err     error
}

// New creates an error of the given kind
func New(kind Kind, message string, context map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: context}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, err error, message string, context map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: context, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain, or "" if there is none
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// As returns the first *Error in the chain
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// From translates any error into an *Error, using fallback for unstructured errors
func From(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := As(err); ok {
		return fe
	}
	return Wrap(fallback, err, "unexpected failure", nil)
}
