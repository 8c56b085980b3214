// Package jolokia implements jmx.Backend against a remote Jolokia agent over HTTP.
//
// Requests whose arguments fit into a path are sent as GET requests with
// escaped path segments; everything else is POSTed as a JSON request. Error
// answers are mapped onto the typed failures of internal/errors, keeping the
// remote exception class and stack trace.
package jolokia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/olgasafonova/jolokia-mcp-server/internal/base"
	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/infra"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
	"github.com/olgasafonova/jolokia-mcp-server/internal/pathcodec"
	"github.com/olgasafonova/jolokia-mcp-server/metrics"
	"github.com/olgasafonova/jolokia-mcp-server/tracing"
)

var (
	errEmptyBody    = errors.New("empty response body")
	errNotJolokia   = errors.New("response is not a Jolokia answer")
	errMissingValue = errors.New("response has no value")
)

// Client talks to one Jolokia agent.
type Client struct {
	base    *base.Client
	baseURL string
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseOpts []base.ClientOption
	base     *base.Client
	logger   *slog.Logger
}

// WithBaseClient replaces the HTTP plumbing, for tests.
func WithBaseClient(c *base.Client) Option {
	return func(cfg *clientConfig) {
		cfg.base = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}

// WithBasicAuth sets the agent credentials.
func WithBasicAuth(user, password string) Option {
	return func(cfg *clientConfig) {
		cfg.baseOpts = append(cfg.baseOpts, base.WithBasicAuth(user, password))
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.baseOpts = append(cfg.baseOpts, base.WithTimeout(d))
	}
}

// New creates a client for the agent at agentURL, e.g. http://localhost:8778/jolokia.
func New(agentURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(agentURL)
	if err != nil {
		return nil, apierrors.NewValidationError("url", agentURL, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apierrors.NewValidationError("url", agentURL, "scheme must be http or https")
	}
	if u.Host == "" {
		return nil, apierrors.NewValidationError("url", agentURL, "missing host")
	}

	cfg := clientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Client{
		baseURL: strings.TrimRight(agentURL, "/"),
		logger:  cfg.logger,
	}
	if cfg.base != nil {
		c.base = cfg.base
	} else {
		breaker := infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig(),
			infra.WithStateChange(func(from, to infra.CircuitState) {
				metrics.CircuitState.Set(float64(to))
				cfg.logger.Warn("Jolokia circuit breaker changed state", "from", from.String(), "to", to.String())
			}),
		)
		baseOpts := append([]base.ClientOption{
			base.WithLogger(cfg.logger),
			base.WithCircuitBreaker(breaker),
			base.WithRetryHook(func(attempt int, reason string) {
				metrics.BackendRetries.Inc()
				cfg.logger.Warn("Retrying Jolokia request", "attempt", attempt, "reason", reason)
			}),
		}, cfg.baseOpts...)
		c.base = base.NewClient(baseOpts...)
	}
	return c, nil
}

// URL returns the agent URL.
func (c *Client) URL() string {
	return c.baseURL
}

// List implements jmx.Backend. With req.MBean set only that MBean is listed.
func (c *Client) List(ctx context.Context, req *jmx.Request) (*jmx.Listing, error) {
	if req == nil {
		req = &jmx.Request{Type: jmx.TypeList}
	}
	if req.MBean == "" {
		value, err := c.call(ctx, req, http.MethodGet, "list", nil, true)
		if err != nil {
			return nil, err
		}
		return jmx.ParseListing([]byte(value.Raw))
	}

	name, err := jmx.ParseObjectName(req.MBean)
	if err != nil {
		return nil, err
	}
	path := pathcodec.EncodeActionPath("list", pathcodec.EncodeObjectName(name.String()))
	value, err := c.call(ctx, req, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	if !value.IsObject() {
		return nil, apierrors.NewIOError("decode listing", errNotJolokia)
	}
	info := jmx.ParseMBeanInfo(name.PropertyList(), value)
	return &jmx.Listing{Domains: []jmx.Domain{{Name: name.Domain, MBeans: []jmx.MBeanInfo{info}}}}, nil
}

// Read implements jmx.Backend.
func (c *Client) Read(ctx context.Context, req *jmx.Request) (any, error) {
	extra := []string{}
	if req.Attribute != "" {
		extra = append(extra, pathcodec.Escape(req.Attribute))
	}
	path := pathcodec.EncodeActionPath("read", pathcodec.Escape(req.MBean), extra...)
	value, err := c.call(ctx, req, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	return decodeValue(value)
}

// Write implements jmx.Backend and returns the previous value.
func (c *Client) Write(ctx context.Context, req *jmx.Request) (any, error) {
	if segment, ok := pathcodec.EscapeArgument(req.Value); ok {
		path := pathcodec.EncodeActionPath("write", pathcodec.Escape(req.MBean),
			pathcodec.Escape(req.Attribute), segment)
		value, err := c.call(ctx, req, http.MethodGet, path, nil, false)
		if err != nil {
			return nil, err
		}
		return decodeValue(value)
	}
	body, err := json.Marshal(map[string]any{
		"type":      string(jmx.TypeWrite),
		"mbean":     req.MBean,
		"attribute": req.Attribute,
		"value":     req.Value,
	})
	if err != nil {
		return nil, apierrors.NewIllegalArgumentError("value of %s cannot be encoded: %v", req.Attribute, err)
	}
	value, err := c.call(ctx, req, http.MethodPost, "", body, false)
	if err != nil {
		return nil, err
	}
	return decodeValue(value)
}

// Exec implements jmx.Backend.
func (c *Client) Exec(ctx context.Context, req *jmx.Request) (any, error) {
	if segments, ok := pathArguments(req.Arguments); ok {
		extra := append([]string{pathcodec.Escape(req.Operation)}, segments...)
		path := pathcodec.EncodeActionPath("exec", pathcodec.Escape(req.MBean), extra...)
		value, err := c.call(ctx, req, http.MethodGet, path, nil, false)
		if err != nil {
			return nil, err
		}
		return decodeValue(value)
	}
	args := req.Arguments
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(map[string]any{
		"type":      string(jmx.TypeExec),
		"mbean":     req.MBean,
		"operation": req.Operation,
		"arguments": args,
	})
	if err != nil {
		return nil, apierrors.NewIllegalArgumentError("arguments of %s cannot be encoded: %v", req.Operation, err)
	}
	value, err := c.call(ctx, req, http.MethodPost, "", body, false)
	if err != nil {
		return nil, err
	}
	return decodeValue(value)
}

// Version asks the agent for its version information.
func (c *Client) Version(ctx context.Context) (any, error) {
	value, err := c.call(ctx, &jmx.Request{Type: jmx.TypeVersion}, http.MethodGet, "version", nil, true)
	if err != nil {
		return nil, err
	}
	return decodeValue(value)
}

// call sends one request and returns the "value" member of a successful answer.
func (c *Client) call(ctx context.Context, req *jmx.Request, method, path string, body []byte, idempotent bool) (gjson.Result, error) {
	requestType := string(req.Type)
	member := req.Attribute
	if member == "" {
		member = req.Operation
	}
	ctx, span := tracing.StartBackendSpan(ctx, requestType, req.MBean, member)

	start := time.Now()
	value, errorType, err := c.roundTrip(ctx, req, method, path, body, idempotent)
	metrics.RecordBackendCall(requestType, time.Since(start).Seconds(), err == nil, errorType)
	tracing.Finish(span, err)
	if err != nil {
		c.logger.Debug("Jolokia request failed",
			"type", requestType,
			"mbean", req.MBean,
			"member", member,
			"error", err,
		)
	}
	return value, err
}

func (c *Client) roundTrip(ctx context.Context, req *jmx.Request, method, path string, body []byte, idempotent bool) (gjson.Result, string, error) {
	target := c.baseURL + "/" + escapeURLPath(path)
	if query := c.query(req); query != "" {
		target += "?" + query
	}

	data, status, err := c.base.DoRequest(ctx, base.RequestConfig{
		Method:     method,
		URL:        target,
		Body:       body,
		Idempotent: idempotent,
	})
	if err != nil {
		return gjson.Result{}, "", apierrors.NewIOError("jolokia "+string(req.Type), err)
	}
	if len(data) == 0 {
		if status != http.StatusOK {
			return gjson.Result{}, "", fromHTTPStatus(status, req)
		}
		return gjson.Result{}, "", apierrors.NewIOError("jolokia "+string(req.Type), errEmptyBody)
	}
	if !gjson.ValidBytes(data) {
		if status != http.StatusOK {
			return gjson.Result{}, "", fromHTTPStatus(status, req)
		}
		return gjson.Result{}, "", apierrors.NewIOError("jolokia "+string(req.Type), errNotJolokia)
	}

	answer := gjson.ParseBytes(data)
	if answer.IsArray() {
		answer = answer.Get("0")
	}
	remoteStatus := answer.Get("status")
	if !remoteStatus.Exists() {
		if status != http.StatusOK {
			return gjson.Result{}, "", fromHTTPStatus(status, req)
		}
		return gjson.Result{}, "", apierrors.NewIOError("jolokia "+string(req.Type), errNotJolokia)
	}
	if remoteStatus.Int() != http.StatusOK {
		errorType := answer.Get("error_type").String()
		return gjson.Result{}, errorType, remoteError(
			int(remoteStatus.Int()),
			errorType,
			answer.Get("error").String(),
			answer.Get("stacktrace").String(),
			req,
		)
	}
	value := answer.Get("value")
	if !value.Exists() {
		return gjson.Result{}, "", apierrors.NewIOError("jolokia "+string(req.Type), errMissingValue)
	}
	return value, "", nil
}

// query forwards the request's processing parameters to the agent.
func (c *Client) query(req *jmx.Request) string {
	if req == nil || req.Config.Len() == 0 {
		return ""
	}
	q := url.Values{}
	for k, v := range req.Config.Values() {
		q.Set(k, v)
	}
	return q.Encode()
}

// escapeURLPath percent-encodes every segment of an already escaped request
// path, keeping the separators. '!' stays literal so the agent can find its
// "!/" and "!//" escapes in the raw URI.
func escapeURLPath(path string) string {
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(url.PathEscape(p), "%21", "!")
	}
	return strings.Join(parts, "/")
}

// pathArguments escapes every argument for a GET path, or reports that one of
// them needs a POST body.
func pathArguments(args []any) ([]string, bool) {
	segments := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := pathcodec.EscapeArgument(a)
		if !ok {
			return nil, false
		}
		segments = append(segments, s)
	}
	return segments, true
}

func decodeValue(value gjson.Result) (any, error) {
	if value.Type == gjson.Null {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(value.Raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, apierrors.NewIOError("decode value", err)
	}
	return out, nil
}

// remoteError maps a Jolokia error answer onto a typed failure.
func remoteError(status int, errorType, message, stack string, req *jmx.Request) error {
	message = strings.TrimPrefix(message, errorType+" : ")
	if message == "" {
		message = fmt.Sprintf("Jolokia request failed with status %d", status)
	}
	member := req.Attribute
	if member == "" {
		member = req.Operation
	}

	var err interface {
		error
		SetRemote(typeName, stack string)
	}
	switch {
	case strings.HasSuffix(errorType, "InstanceNotFoundException"):
		nf := apierrors.NewNotFoundError(apierrors.MemberInstance, req.MBean, "")
		nf.Detail = message
		err = nf
	case strings.HasSuffix(errorType, "AttributeNotFoundException"):
		nf := apierrors.NewNotFoundError(apierrors.MemberAttribute, req.MBean, member)
		nf.Detail = message
		err = nf
	case errorType == "javax.management.ReflectionException":
		nf := apierrors.NewNotFoundError(apierrors.MemberReflection, req.MBean, member)
		nf.Detail = message
		err = nf
	case errorType == "java.lang.IllegalArgumentException":
		err = apierrors.NewIllegalArgumentError("%s", message)
	case errorType == "java.lang.SecurityException":
		err = apierrors.NewAccessDeniedError(message)
	case errorType == "java.lang.UnsupportedOperationException":
		err = apierrors.NewUnsupportedError(message)
	case strings.HasPrefix(errorType, "java.io."):
		err = apierrors.NewIOError(errorType, errors.New(message))
	case strings.HasPrefix(errorType, "javax.management."):
		err = apierrors.NewManagementError(message)
	default:
		return withRemote(statusError(status, message, req), errorType, stack)
	}
	err.SetRemote(errorType, stack)
	return err
}

func withRemote(err error, errorType, stack string) error {
	if r, ok := err.(interface{ SetRemote(string, string) }); ok && errorType != "" {
		r.SetRemote(errorType, stack)
	}
	return err
}

// statusError derives a failure from a status code alone.
func statusError(status int, message string, req *jmx.Request) error {
	switch status {
	case http.StatusNotFound:
		nf := apierrors.NewNotFoundError(apierrors.MemberInstance, req.MBean, "")
		nf.Detail = message
		return nf
	case http.StatusBadRequest:
		return apierrors.NewIllegalArgumentError("%s", message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apierrors.NewAccessDeniedError(message)
	default:
		return apierrors.NewManagementError(message)
	}
}

func fromHTTPStatus(status int, req *jmx.Request) error {
	return statusError(status, fmt.Sprintf("Jolokia agent answered HTTP %d", status), req)
}
