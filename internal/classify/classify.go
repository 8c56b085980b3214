// Package classify maps failures of management calls onto HTTP-like status codes
// and renders the error payload returned to callers.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"strings"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
	"github.com/olgasafonova/jolokia-mcp-server/internal/reqconfig"
)

// Kind is the coarse category of a classified failure.
type Kind string

const (
	KindNotFound        Kind = "NotFound"
	KindBadRequest      Kind = "BadRequest"
	KindForbidden       Kind = "Forbidden"
	KindInternalFailure Kind = "InternalFailure"
)

// Status codes used in error payloads.
const (
	StatusBadRequest = 400
	StatusForbidden  = 403
	StatusNotFound   = 404
	StatusInternal   = 500
)

const maxCauseDepth = 8

// KindOf returns the kind for a status code.
func KindOf(status int) Kind {
	switch status {
	case StatusNotFound:
		return KindNotFound
	case StatusBadRequest:
		return KindBadRequest
	case StatusForbidden:
		return KindForbidden
	default:
		return KindInternalFailure
	}
}

// Error is a classified failure. It is what callers see.
type Error struct {
	Status     int            `json:"status"`
	Kind       Kind           `json:"kind"`
	Message    string         `json:"error"`
	ErrorType  string         `json:"error_type"`
	StackTrace string         `json:"stacktrace,omitempty"`
	ErrorValue map[string]any `json:"error_value,omitempty"`
	Request    map[string]any `json:"request,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// JSON renders the payload. Marshalling cannot fail for the field types used, so a
// failure degrades to a minimal payload.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"status":%d,"kind":%q,"error":%q}`, e.Status, e.Kind, e.Message)
	}
	return string(data)
}

// Options is the process-wide error detail policy.
type Options struct {
	// AllowErrorDetails is the master switch for stack traces and serialized causes.
	AllowErrorDetails bool
	// IncludeRequest echoes the request in error payloads unless a request opts out.
	IncludeRequest bool
	Logger         *slog.Logger
}

// Classifier turns errors into Error payloads.
type Classifier struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Classifier.
func New(opts Options) *Classifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{opts: opts, logger: logger}
}

// Classify maps err onto a status and builds the payload for req. req may be nil.
// Errors that are already classified are returned unchanged.
func (c *Classifier) Classify(err error, req *jmx.Request) *Error {
	if err == nil {
		return nil
	}
	var done *Error
	if errors.As(err, &done) {
		return done
	}
	status, subject := statusOf(err)
	out := c.build(status, subject, req)
	out.cause = err
	c.logger.Debug("Request failed",
		"status", out.Status,
		"error_type", out.ErrorType,
		"error", out.Message,
	)
	return out
}

// HandleFailure is the boundary catch-all for failures that escaped per-call
// classification. It distinguishes only bad input, access denial and the rest.
func (c *Classifier) HandleFailure(err error) *Error {
	if err == nil {
		return nil
	}
	var done *Error
	if errors.As(err, &done) {
		return done
	}
	status, subject := StatusInternal, err
	switch e := typedLink(err).(type) {
	case *apierrors.IllegalArgumentError, *apierrors.ValidationError, *apierrors.ArgumentCountError:
		status, subject = StatusBadRequest, e
	case *apierrors.AccessDeniedError:
		status, subject = StatusForbidden, stripped(e)
	}
	out := c.build(status, subject, nil)
	out.cause = err
	c.logger.Warn("Unclassified failure reached the boundary",
		"status", out.Status,
		"error", out.Message,
	)
	return out
}

// statusOf applies the classification table to the first typed link in the chain.
func statusOf(err error) (int, error) {
	switch e := typedLink(err).(type) {
	case *apierrors.NotFoundError:
		return StatusNotFound, e
	case *apierrors.InvocationError:
		if e.Target == nil {
			return StatusInternal, e
		}
		return statusOf(e.Target)
	case *apierrors.IllegalArgumentError, *apierrors.ValidationError, *apierrors.ArgumentCountError:
		return StatusBadRequest, e
	case *apierrors.AccessDeniedError:
		return StatusForbidden, stripped(e)
	case *apierrors.RuntimeWrapperError:
		if e.Cause == nil {
			return StatusInternal, e
		}
		switch cause := typedLink(e.Cause).(type) {
		case *apierrors.IllegalArgumentError, *apierrors.ValidationError, *apierrors.ArgumentCountError:
			return StatusBadRequest, cause
		case *apierrors.AccessDeniedError:
			return StatusForbidden, stripped(cause)
		case nil:
			return StatusInternal, e.Cause
		default:
			return StatusInternal, cause
		}
	case nil:
		return StatusInternal, err
	default:
		return StatusInternal, e
	}
}

// typedLink returns the first link of the chain that classification knows about.
func typedLink(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *apierrors.NotFoundError,
			*apierrors.InvocationError,
			*apierrors.RuntimeWrapperError,
			*apierrors.IllegalArgumentError,
			*apierrors.AccessDeniedError,
			*apierrors.UnsupportedError,
			*apierrors.ManagementError,
			*apierrors.IOError,
			*apierrors.ValidationError,
			*apierrors.ArgumentCountError:
			return e
		}
		if isIOFailure(e) {
			return e
		}
	}
	return nil
}

func isIOFailure(err error) bool {
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == context.DeadlineExceeded {
		return true
	}
	switch err.(type) {
	case *url.Error, *net.OpError, *fs.PathError:
		return true
	}
	_, ok := err.(net.Error)
	return ok
}

// accessDenied keeps only the message of an access failure.
type accessDenied struct {
	message string
}

func (e *accessDenied) Error() string { return e.message }

func stripped(err error) error {
	return &accessDenied{message: err.Error()}
}

func (c *Classifier) build(status int, subject error, req *jmx.Request) *Error {
	typ := typeName(subject)
	msg := subject.Error()
	out := &Error{
		Status:    status,
		Kind:      KindOf(status),
		ErrorType: typ,
		Message:   typ,
	}
	if msg != "" {
		out.Message = typ + " : " + msg
	}

	if c.opts.AllowErrorDetails {
		if c.wantStackTrace(subject, req) {
			out.StackTrace = stackTrace(subject)
		}
		if req != nil && req.Config.Bool(reqconfig.KeySerializeException) {
			out.ErrorValue = serialize(subject, 0)
		}
	}
	if req != nil && c.wantRequest(req) {
		out.Request = req.JSON()
	}
	return out
}

func (c *Classifier) wantStackTrace(subject error, req *jmx.Request) bool {
	if _, ok := subject.(*accessDenied); ok {
		return false
	}
	mode, ok := req.Parameter(reqconfig.KeyIncludeStackTrace)
	if !ok {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(mode), reqconfig.StackTraceRuntime) {
		return isRuntime(subject)
	}
	return reqconfig.IsEnabled(mode)
}

func (c *Classifier) wantRequest(req *jmx.Request) bool {
	local, ok := req.Parameter(reqconfig.KeyIncludeRequest)
	if c.opts.IncludeRequest {
		return !(ok && reqconfig.IsDisabled(local))
	}
	return ok && reqconfig.IsEnabled(local)
}

// isRuntime treats typed unchecked failures and unknown plain errors as runtime.
func isRuntime(err error) bool {
	if apierrors.IsRuntime(err) {
		return true
	}
	if typedLink(err) != nil {
		return false
	}
	return true
}

type remoteTyped interface {
	RemoteType() string
}

func typeName(err error) string {
	if r, ok := err.(remoteTyped); ok && r.RemoteType() != "" {
		return r.RemoteType()
	}
	if _, ok := err.(*accessDenied); ok {
		return "AccessDenied"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

type stackTracer interface {
	StackTrace() string
}

// stackTrace renders err and its causes, Java style.
func stackTrace(err error) string {
	var sb strings.Builder
	for depth, e := 0, err; e != nil && depth < maxCauseDepth; depth, e = depth+1, errors.Unwrap(e) {
		if depth > 0 {
			sb.WriteString("Caused by: ")
		}
		sb.WriteString(typeName(e))
		if msg := e.Error(); msg != "" {
			sb.WriteString(": ")
			sb.WriteString(msg)
		}
		sb.WriteByte('\n')
		if st, ok := e.(stackTracer); ok {
			sb.WriteString(st.StackTrace())
		}
	}
	return sb.String()
}

func serialize(err error, depth int) map[string]any {
	v := map[string]any{
		"message": err.Error(),
		"type":    typeName(err),
	}
	if cause := errors.Unwrap(err); cause != nil && depth+1 < maxCauseDepth {
		v["cause"] = serialize(cause, depth+1)
	}
	return v
}
