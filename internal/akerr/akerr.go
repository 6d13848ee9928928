// Package akerr is the structured error type used across the runtime.
//
// Lifecycle operations (install/start/stop/destroy) return *Error to their
// supervisor caller. Native calls never let an *Error cross the guest
// boundary: they translate it to the function's sentinel return value and
// log it instead (see the bridge package).
package akerr

import (
	"fmt"
	"strings"
)

// Phase indicates which runtime component raised the error.
type Phase string

const (
	PhaseArena     Phase = "arena"
	PhaseManifest  Phase = "manifest"
	PhaseLoad      Phase = "load"
	PhaseLifecycle Phase = "lifecycle"
	PhaseBridge    Phase = "bridge"
	PhaseQuota     Phase = "quota"
	PhaseStorage   Phase = "storage"
	PhaseConfig    Phase = "config"
)

// Kind is the design-level error taxonomy from the runtime specification (§7).
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotInitialized  Kind = "not_initialized"
	KindNotFound        Kind = "not_found"
	KindNoMemory        Kind = "no_memory"
	KindIOFailure       Kind = "io_failure"
	KindPermissionDenied Kind = "permission_denied"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindNotSupported    Kind = "not_supported"
)

// Error is the structured error type returned by lifecycle operations.
type Error struct {
	Phase      Phase
	Kind       Kind
	Detail     string
	Cause      error
	Guest      string // guest name, when known
	Slot       int    // slot index, -1 when not applicable
	Capability string // capability name, for permission_denied errors
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Guest != "" {
		b.WriteString(" guest=")
		b.WriteString(e.Guest)
	}
	if e.Slot >= 0 {
		fmt.Fprintf(&b, " slot=%d", e.Slot)
	}
	if e.Capability != "" {
		b.WriteString(" capability=")
		b.WriteString(e.Capability)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Phase and Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New starts building an error for the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind, Slot: -1}}
}

func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Guest(name string) *Builder {
	b.err.Guest = name
	return b
}

func (b *Builder) Slot(idx int) *Builder {
	b.err.Slot = idx
	return b
}

func (b *Builder) Capability(name string) *Builder {
	b.err.Capability = name
	return b
}

func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors mirroring the most common call sites.

func InvalidArgument(phase Phase, detail string) *Error {
	return New(phase, KindInvalidArgument).Detail(detail).Build()
}

func NotInitialized(phase Phase, what string) *Error {
	return New(phase, KindNotInitialized).Detail("%s not initialized", what).Build()
}

func NotFound(phase Phase, what, name string) *Error {
	return New(phase, KindNotFound).Detail("%s %q not found", what, name).Build()
}

func NoMemory(phase Phase, detail string) *Error {
	return New(phase, KindNoMemory).Detail(detail).Build()
}

func IOFailure(phase Phase, detail string, cause error) *Error {
	return New(phase, KindIOFailure).Detail(detail).Cause(cause).Build()
}

func PermissionDenied(phase Phase, guest, capability string) *Error {
	return New(phase, KindPermissionDenied).Guest(guest).Capability(capability).
		Detail("capability %q not granted", capability).Build()
}

func QuotaExceeded(phase Phase, guest string, used, requested, quota uint32) *Error {
	return New(phase, KindQuotaExceeded).Guest(guest).
		Detail("used=%d requested=%d quota=%d", used, requested, quota).Build()
}

func NotSupported(phase Phase, what string) *Error {
	return New(phase, KindNotSupported).Detail(what).Build()
}
