// Package agent serves a Jolokia-compatible GET endpoint backed by the bridge.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/olgasafonova/jolokia-mcp-server/internal/bridge"
	"github.com/olgasafonova/jolokia-mcp-server/internal/classify"
	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
	"github.com/olgasafonova/jolokia-mcp-server/internal/pathcodec"
	"github.com/olgasafonova/jolokia-mcp-server/internal/reqconfig"
)

const (
	defaultMimeType = "text/plain"
	jsonpMimeType   = "text/javascript"
)

var validCallback = regexp.MustCompile(`^[$A-Za-z_][0-9A-Za-z_$]*(\.[$A-Za-z_][0-9A-Za-z_$]*)*$`)

// Dispatcher runs decoded requests. *bridge.Bridge implements it.
type Dispatcher interface {
	NewRequest(typ jmx.RequestType, mbean string, params map[string]string) (*jmx.Request, error)
	Do(ctx context.Context, req *jmx.Request) (any, error)
	Classify(err error, req *jmx.Request) *classify.Error
	HandleFailure(err error) *classify.Error
}

var _ Dispatcher = (*bridge.Bridge)(nil)

// Handler answers Jolokia GET requests below Prefix.
type Handler struct {
	dispatcher Dispatcher
	prefix     string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithClock replaces time.Now for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// New creates a handler mounted at prefix, e.g. "/jolokia/".
func New(d Dispatcher, prefix string, opts ...Option) *Handler {
	h := &Handler{
		dispatcher: d,
		prefix:     strings.TrimSuffix(prefix, "/"),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Prefix is the mount path without its trailing slash.
func (h *Handler) Prefix() string {
	return h.prefix
}

// ServeHTTP implements http.Handler. Jolokia errors travel in the body with HTTP
// status 200; only a wrong method is rejected at the transport level.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := firstValues(r)
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Panic recovered in agent endpoint", "panic", rec, "path", r.URL.Path)
			ce := h.dispatcher.HandleFailure(fmt.Errorf("request failed: %v", rec))
			h.write(w, params, ce)
		}
	}()

	pathInfo := strings.TrimPrefix(r.URL.Path, h.prefix)
	pathInfo = pathcodec.RecoverPathInfo(strings.TrimPrefix(r.URL.EscapedPath(), h.prefix), pathInfo)
	if strings.Trim(pathInfo, "/") == "" {
		pathInfo = params[reqconfig.KeyPath]
	}

	req, err := h.parse(pathInfo, params)
	if err != nil {
		h.write(w, params, h.dispatcher.Classify(err, nil))
		return
	}
	value, err := h.dispatcher.Do(r.Context(), req.Request)
	if err == nil && len(req.inner) > 0 {
		value, err = narrow(value, req.inner)
	}
	if err != nil {
		h.write(w, params, h.dispatcher.Classify(err, req.Request))
		return
	}

	h.logger.Debug("Agent request served", "type", req.Type, "mbean", req.MBean)
	h.write(w, params, map[string]any{
		"request":   req.JSON(),
		"value":     value,
		"status":    http.StatusOK,
		"timestamp": h.now().Unix(),
	})
}

type parsed struct {
	*jmx.Request
	// inner is a list path to walk into the listing value.
	inner []string
}

// parse decodes "type/segments..." into a request. An empty path is a version request.
func (h *Handler) parse(pathInfo string, params map[string]string) (*parsed, error) {
	segments := pathcodec.SplitPath(pathInfo)
	typ := jmx.TypeVersion
	if len(segments) > 0 {
		typ = jmx.RequestType(segments[0])
		segments = segments[1:]
	}

	var mbean string
	switch typ {
	case jmx.TypeRead, jmx.TypeWrite, jmx.TypeExec:
		if len(segments) == 0 {
			return nil, apierrors.NewValidationError("mbean", "", string(typ)+" requires an MBean")
		}
		mbean = segments[0]
		segments = segments[1:]
	case jmx.TypeList, jmx.TypeVersion:
	default:
		return nil, apierrors.NewIllegalArgumentError("unknown request type %q", typ)
	}

	req, err := h.dispatcher.NewRequest(typ, mbean, params)
	if err != nil {
		return nil, err
	}
	out := &parsed{Request: req}

	switch typ {
	case jmx.TypeRead:
		if len(segments) > 0 {
			req.Attribute = segments[0]
			req.Path = strings.Join(segments[1:], "/")
		}
	case jmx.TypeWrite:
		if len(segments) < 2 {
			return nil, apierrors.NewValidationError("value", "", "write requires an attribute and a value")
		}
		req.Attribute = segments[0]
		req.Value = pathcodec.DecodeArgument(segments[1])
		req.Path = strings.Join(segments[2:], "/")
	case jmx.TypeExec:
		if len(segments) == 0 {
			return nil, apierrors.NewValidationError("operation", "", "exec requires an operation")
		}
		req.Operation = segments[0]
		args := make([]any, 0, len(segments)-1)
		for _, s := range segments[1:] {
			args = append(args, pathcodec.DecodeArgument(s))
		}
		req.Arguments = args
	case jmx.TypeList:
		switch {
		case len(segments) >= 2:
			req.MBean = segments[0] + ":" + segments[1]
			out.inner = segments[2:]
		case len(segments) == 1:
			out.inner = segments
		}
		req.Path = strings.Join(segments, "/")
	}
	return out, nil
}

// narrow walks a list value along path segments.
func narrow(value any, path []string) (any, error) {
	for i, seg := range path {
		var next any
		m, ok := value.(map[string]any)
		if ok {
			next, ok = m[seg]
		}
		if !ok {
			e := apierrors.NewNotFoundError(apierrors.MemberReflection, "", seg)
			e.Detail = "no list entry at " + strings.Join(path[:i+1], "/")
			return nil, e
		}
		value = next
	}
	return value, nil
}

func (h *Handler) write(w http.ResponseWriter, params map[string]string, payload any) {
	var (
		data []byte
		err  error
	)
	if reqconfig.IsEnabled(params[reqconfig.KeyPrettyPrint]) {
		data, err = json.MarshalIndent(payload, "", "  ")
	} else {
		data, err = json.Marshal(payload)
	}
	if err != nil {
		h.logger.Error("Encoding agent response failed", "error", err)
		ce := h.dispatcher.HandleFailure(apierrors.NewIOError("encode response", err))
		data = []byte(ce.JSON())
	}

	mimeType := defaultMimeType
	if mt := strings.ToLower(strings.TrimSpace(params[reqconfig.KeyMimeType])); mt != "" {
		mimeType = mt
	}
	if cb := params[reqconfig.KeyCallback]; cb != "" && validCallback.MatchString(cb) {
		mimeType = jsonpMimeType
		data = []byte(cb + "(" + string(data) + ");")
	}

	w.Header().Set("Content-Type", mimeType+"; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func firstValues(r *http.Request) map[string]string {
	q := r.URL.Query()
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
