// Package errors provides the typed failures raised by management backends and
// by caller input validation. The classify package maps them onto status codes.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// MemberKind names what a NotFoundError failed to resolve.
type MemberKind string

const (
	MemberInstance   MemberKind = "instance"
	MemberAttribute  MemberKind = "attribute"
	MemberOperation  MemberKind = "operation"
	MemberReflection MemberKind = "reflection"
)

// origin records where an error was raised. Errors mapped from a remote agent
// carry the remote type name and stack trace instead of a local one.
type origin struct {
	pcs         []uintptr
	remoteType  string
	remoteStack string
}

func (o *origin) capture() {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	o.pcs = pcs[:n]
}

// SetRemote marks the error as raised by a remote agent.
func (o *origin) SetRemote(typeName, stack string) {
	o.remoteType = typeName
	o.remoteStack = stack
}

// RemoteType returns the remote exception class name, if any.
func (o *origin) RemoteType() string {
	return o.remoteType
}

// StackTrace renders the stack recorded when the error was created.
func (o *origin) StackTrace() string {
	if o.remoteStack != "" {
		return o.remoteStack
	}
	if len(o.pcs) == 0 {
		return ""
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(o.pcs)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "\tat %s (%s:%d)\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return sb.String()
}

// NotFoundError indicates a missing MBean, attribute or operation.
type NotFoundError struct {
	origin
	Kind   MemberKind
	MBean  string
	Member string
	Detail string
}

func (e *NotFoundError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	switch e.Kind {
	case MemberInstance:
		return fmt.Sprintf("MBean not found: %s", e.MBean)
	case MemberAttribute:
		return fmt.Sprintf("attribute %s not found on %s", e.Member, e.MBean)
	case MemberOperation:
		return fmt.Sprintf("operation %s not found on %s", e.Member, e.MBean)
	default:
		return fmt.Sprintf("cannot resolve %s on %s", e.Member, e.MBean)
	}
}

// NewNotFoundError creates a NotFoundError for a member of an MBean.
func NewNotFoundError(kind MemberKind, mbean, member string) *NotFoundError {
	e := &NotFoundError{Kind: kind, MBean: mbean, Member: member}
	e.capture()
	return e
}

// InvocationError wraps an exception raised by the operation itself.
type InvocationError struct {
	origin
	MBean     string
	Operation string
	Target    error
}

func (e *InvocationError) Error() string {
	if e.Target == nil {
		return fmt.Sprintf("invocation of %s on %s failed", e.Operation, e.MBean)
	}
	return fmt.Sprintf("invocation of %s on %s failed: %v", e.Operation, e.MBean, e.Target)
}

func (e *InvocationError) Unwrap() error {
	return e.Target
}

// NewInvocationError creates an InvocationError around the operation's own failure.
func NewInvocationError(mbean, operation string, target error) *InvocationError {
	e := &InvocationError{MBean: mbean, Operation: operation, Target: target}
	e.capture()
	return e
}

// RuntimeWrapperError is a runtime-level wrapper whose meaning lives in its cause.
type RuntimeWrapperError struct {
	origin
	Message string
	Cause   error
}

func (e *RuntimeWrapperError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *RuntimeWrapperError) Unwrap() error {
	return e.Cause
}

func (e *RuntimeWrapperError) RuntimeFailure() bool { return true }

// NewRuntimeWrapperError wraps cause in a RuntimeWrapperError.
func NewRuntimeWrapperError(message string, cause error) *RuntimeWrapperError {
	e := &RuntimeWrapperError{Message: message, Cause: cause}
	e.capture()
	return e
}

// IllegalArgumentError indicates a malformed or illegal argument.
type IllegalArgumentError struct {
	origin
	Message string
}

func (e *IllegalArgumentError) Error() string { return e.Message }

func (e *IllegalArgumentError) RuntimeFailure() bool { return true }

// NewIllegalArgumentError creates an IllegalArgumentError.
func NewIllegalArgumentError(format string, args ...any) *IllegalArgumentError {
	e := &IllegalArgumentError{Message: fmt.Sprintf(format, args...)}
	e.capture()
	return e
}

// AccessDeniedError indicates the caller may not perform the request.
type AccessDeniedError struct {
	origin
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

func (e *AccessDeniedError) RuntimeFailure() bool { return true }

// NewAccessDeniedError creates an AccessDeniedError.
func NewAccessDeniedError(message string) *AccessDeniedError {
	e := &AccessDeniedError{Message: message}
	e.capture()
	return e
}

// UnsupportedError indicates the backend does not support the request.
type UnsupportedError struct {
	origin
	Message string
}

func (e *UnsupportedError) Error() string { return e.Message }

func (e *UnsupportedError) RuntimeFailure() bool { return true }

// NewUnsupportedError creates an UnsupportedError.
func NewUnsupportedError(message string) *UnsupportedError {
	e := &UnsupportedError{Message: message}
	e.capture()
	return e
}

// ManagementError is a generic failure inside the management backend.
type ManagementError struct {
	origin
	Message string
}

func (e *ManagementError) Error() string { return e.Message }

// NewManagementError creates a ManagementError.
func NewManagementError(message string) *ManagementError {
	e := &ManagementError{Message: message}
	e.capture()
	return e
}

// IOError indicates the backend could not be reached or answered garbage.
type IOError struct {
	origin
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError creates an IOError for the failed step op.
func NewIOError(op string, err error) *IOError {
	e := &IOError{Op: op, Err: err}
	e.capture()
	return e
}

// ValidationError indicates invalid caller input.
type ValidationError struct {
	origin
	Field   string // field or parameter that failed validation
	Value   string // the invalid value (may be empty)
	Message string // human-readable error message
}

func (e *ValidationError) Error() string {
	if e.Field != "" && e.Value != "" {
		return fmt.Sprintf("validation failed for %s=%q: %s", e.Field, e.Value, e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	e := &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
	e.capture()
	return e
}

// ArgumentCountError is returned when a tool call supplies the wrong number of arguments.
type ArgumentCountError struct {
	origin
	Operation string
	Want      int
	Got       int
}

func (e *ArgumentCountError) Error() string {
	return fmt.Sprintf("invalid number of arguments for %s: expected %d, got %d", e.Operation, e.Want, e.Got)
}

func (e *ArgumentCountError) RuntimeFailure() bool { return true }

// NewArgumentCountError creates an ArgumentCountError.
func NewArgumentCountError(operation string, want, got int) *ArgumentCountError {
	e := &ArgumentCountError{Operation: operation, Want: want, Got: got}
	e.capture()
	return e
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// IsRuntime reports whether err belongs to the unchecked failure category.
func IsRuntime(err error) bool {
	r, ok := err.(interface{ RuntimeFailure() bool })
	return ok && r.RuntimeFailure()
}
