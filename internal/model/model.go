// Package model defines the on-device language model capability: availability
// reporting, session creation and prompting.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Availability is what the capability reports for a set of constraints.
type Availability string

const (
	Available    Availability = "available"
	Downloadable Availability = "downloadable"
	Downloading  Availability = "downloading"
	Unavailable  Availability = "unavailable"
)

// Known reports whether a is one of the four defined values.
func (a Availability) Known() bool {
	switch a {
	case Available, Downloadable, Downloading, Unavailable:
		return true
	}
	return false
}

// Constraints restrict which languages a session must handle.
type Constraints struct {
	InputLanguages  []string
	OutputLanguages []string
}

// ProgressObserver receives model download progress as a fraction in [0, 1].
type ProgressObserver func(loaded float64)

// CreateOptions configures a new session.
type CreateOptions struct {
	Constraints  Constraints
	SystemPrompt string
	Monitor      ProgressObserver // nil when download progress is not wanted
}

// Capability is the model provider.
type Capability interface {
	Availability(ctx context.Context, c Constraints) (Availability, error)
	Create(ctx context.Context, opts CreateOptions) (Session, error)
}

// Session is a primed conversation held by the capability.
type Session interface {
	ID() string
	Prompt(ctx context.Context, text string) (string, error)
	Destroy() error
}

// Kind classifies model errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindCheck
	KindCreate
	KindPrompt
)

func (k Kind) String() string {
	switch k {
	case KindCheck:
		return "check"
	case KindCreate:
		return "create"
	case KindPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// ErrCapabilityUnavailable means no model capability exists on this host.
var ErrCapabilityUnavailable = errors.New("model capability unavailable")

// Error is returned by capability operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as an *Error of the given kind, keeping an existing kind.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) && me.Kind == kind {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func isKind(err error, kind Kind) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == kind
}

// IsCheck reports whether err came from an availability check.
func IsCheck(err error) bool { return isKind(err, KindCheck) }

// IsCreate reports whether err came from session creation.
func IsCreate(err error) bool { return isKind(err, KindCreate) }

// IsPrompt reports whether err came from a prompt.
func IsPrompt(err error) bool { return isKind(err, KindPrompt) }
