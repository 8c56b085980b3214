// Package bridge connects a management backend to the flat tool surface. It
// builds and publishes the tool catalog from a backend listing, runs attribute
// reads, writes and operation calls, and shapes every failure through the error
// classifier.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/olgasafonova/jolokia-mcp-server/internal/catalog"
	"github.com/olgasafonova/jolokia-mcp-server/internal/classify"
	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/infra"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
	"github.com/olgasafonova/jolokia-mcp-server/internal/naming"
	"github.com/olgasafonova/jolokia-mcp-server/internal/reqconfig"
	"github.com/olgasafonova/jolokia-mcp-server/metrics"
)

const (
	// DefaultListCacheTTL is how long a backend listing is reused.
	DefaultListCacheTTL = 60 * time.Second

	// AgentName is reported by version requests.
	AgentName = "jolokia-mcp-server"

	// ProtocolVersion is the Jolokia protocol spoken by the agent endpoint.
	ProtocolVersion = "7.2"

	listKey    = "list:all"
	catalogKey = "catalog"
)

// Options is the immutable configuration of a Bridge.
type Options struct {
	DenyDomains     []string
	DenyObjectNames []string
	Generator       *naming.Generator
	// Reserved tool names are never generated.
	Reserved []string
	// Defaults are the process-wide request parameter defaults.
	Defaults          reqconfig.Defaults
	AllowErrorDetails bool
	IncludeRequest    bool
	// ListCacheTTL disables the listing cache when zero or negative.
	ListCacheTTL time.Duration
	Logger       *slog.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DenyDomains:       catalog.DefaultDenyDomains,
		Generator:         naming.NewGenerator(),
		AllowErrorDetails: true,
		IncludeRequest:    true,
		ListCacheTTL:      DefaultListCacheTTL,
	}
}

// versioner is implemented by backends that can describe the agent behind them.
type versioner interface {
	Version(ctx context.Context) (any, error)
}

// Bridge is safe for concurrent use.
type Bridge struct {
	backend    jmx.Backend
	opts       Options
	logger     *slog.Logger
	classifier *classify.Classifier

	current  atomic.Pointer[catalog.Catalog]
	listings *infra.Cache[*jmx.Listing]
	dedup    *infra.RequestDeduplicator
}

// New creates a Bridge. The catalog starts empty until Refresh succeeds.
func New(backend jmx.Backend, opts Options) (*Bridge, error) {
	if err := reqconfig.ValidateDefaults(opts.Defaults); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Generator == nil {
		opts.Generator = naming.NewGenerator()
	}
	b := &Bridge{
		backend: backend,
		opts:    opts,
		logger:  logger,
		classifier: classify.New(classify.Options{
			AllowErrorDetails: opts.AllowErrorDetails,
			IncludeRequest:    opts.IncludeRequest,
			Logger:            logger,
		}),
		listings: infra.NewCache[*jmx.Listing](8, infra.WithEvictionCallback(func(_ string, reason infra.EvictReason) {
			metrics.CacheEvictions.WithLabelValues(string(reason)).Inc()
		})),
		dedup: infra.NewRequestDeduplicator(),
	}
	b.current.Store(catalog.Empty())
	return b, nil
}

// Close stops background cache maintenance.
func (b *Bridge) Close() {
	b.listings.Close()
}

// Catalog returns the published catalog. It never returns nil.
func (b *Bridge) Catalog() *catalog.Catalog {
	return b.current.Load()
}

// Refresh builds a new catalog from the (possibly cached) listing and publishes
// it. Concurrent callers share one rebuild. On failure the previous catalog
// stays published.
func (b *Bridge) Refresh(ctx context.Context) (*catalog.Catalog, error) {
	c, shared, err := infra.Coalesce(ctx, b.dedup, catalogKey, func() (*catalog.Catalog, error) {
		start := time.Now()
		listing, err := b.listing(ctx)
		if err != nil {
			metrics.RecordCatalogBuild(time.Since(start).Seconds(), false, 0, 0)
			return nil, err
		}
		c := catalog.Build(listing, catalog.BuildOptions{
			DenyDomains:     b.opts.DenyDomains,
			DenyObjectNames: b.opts.DenyObjectNames,
			Generator:       b.opts.Generator,
			Reserved:        b.opts.Reserved,
			Logger:          b.logger,
		})
		b.current.Store(c)
		metrics.RecordCatalogBuild(time.Since(start).Seconds(), true, c.Len(), c.Resources())
		b.logger.Info("Catalog refreshed",
			"tools", c.Len(),
			"mbeans", c.Resources(),
			"duration", time.Since(start),
		)
		return c, nil
	})
	if err != nil {
		b.logger.Warn("Catalog refresh failed", "error", err)
		return nil, b.fail(err, &jmx.Request{Type: jmx.TypeList})
	}
	if shared {
		b.logger.Debug("Catalog refresh shared with a concurrent caller")
	}
	return c, nil
}

// Invalidate drops the cached listing so the next Refresh lists the backend.
func (b *Bridge) Invalidate() {
	b.listings.Delete(listKey)
}

// Watch refreshes the catalog every interval until ctx is done. onChange is
// called whenever a refresh publishes a catalog with a different fingerprint.
func (b *Bridge) Watch(ctx context.Context, interval time.Duration, onChange func(*catalog.Catalog)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := b.Catalog().ETag()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c, err := b.Refresh(ctx)
			if err != nil {
				continue
			}
			if c.ETag() != last {
				last = c.ETag()
				if onChange != nil {
					onChange(c)
				}
			}
		}
	}
}

// listing returns the full backend listing, from cache while it is fresh.
func (b *Bridge) listing(ctx context.Context) (*jmx.Listing, error) {
	if l, ok := b.listings.Get(listKey); ok {
		metrics.RecordCacheAccess(true)
		return l, nil
	}
	metrics.RecordCacheAccess(false)
	l, _, err := infra.Coalesce(ctx, b.dedup, listKey, func() (*jmx.Listing, error) {
		return b.backend.List(ctx, &jmx.Request{Type: jmx.TypeList})
	})
	if err != nil {
		return nil, err
	}
	b.listings.Set(listKey, l, b.opts.ListCacheTTL)
	metrics.SetCacheSize(int64(b.listings.Size()))
	return l, nil
}

// RequestConfig validates caller parameters and merges the process defaults.
func (b *Bridge) RequestConfig(raw map[string]string) (reqconfig.Config, error) {
	cfg, err := reqconfig.Validate(raw, b.opts.Defaults)
	if err != nil {
		return reqconfig.Config{}, b.fail(err, nil)
	}
	return cfg, nil
}

// ListMBeans returns the names of every registered MBean, sorted.
func (b *Bridge) ListMBeans(ctx context.Context) ([]string, error) {
	l, err := b.listing(ctx)
	if err != nil {
		return nil, b.fail(err, &jmx.Request{Type: jmx.TypeList})
	}
	names := l.Names()
	sort.Strings(names)
	return names, nil
}

// ListOperations describes the operations of one MBean.
func (b *Bridge) ListOperations(ctx context.Context, mbean string) (map[string]any, error) {
	info, err := b.describe(ctx, mbean)
	if err != nil {
		return nil, err
	}
	return info.OperationMap(), nil
}

// ListAttributes describes the attributes of one MBean.
func (b *Bridge) ListAttributes(ctx context.Context, mbean string) (map[string]jmx.AttributeInfo, error) {
	info, err := b.describe(ctx, mbean)
	if err != nil {
		return nil, err
	}
	return info.AttributeMap(), nil
}

func (b *Bridge) describe(ctx context.Context, mbean string) (jmx.MBeanInfo, error) {
	req := &jmx.Request{Type: jmx.TypeList, MBean: mbean}
	name, err := jmx.ParseObjectName(mbean)
	if err != nil {
		return jmx.MBeanInfo{}, b.fail(err, req)
	}
	l, err := b.backend.List(ctx, req)
	if err != nil {
		return jmx.MBeanInfo{}, b.fail(err, req)
	}
	info, ok := l.Find(name)
	if !ok {
		return jmx.MBeanInfo{}, b.fail(apierrors.NewNotFoundError(apierrors.MemberInstance, mbean, ""), req)
	}
	return info, nil
}

// Read reads one attribute, or all attributes when attribute is empty.
func (b *Bridge) Read(ctx context.Context, mbean, attribute string) (any, error) {
	req, err := b.NewRequest(jmx.TypeRead, mbean, nil)
	if err != nil {
		return nil, err
	}
	req.Attribute = attribute
	return b.Do(ctx, req)
}

// Write sets an attribute and returns its previous value.
func (b *Bridge) Write(ctx context.Context, mbean, attribute string, value any) (any, error) {
	req, err := b.NewRequest(jmx.TypeWrite, mbean, nil)
	if err != nil {
		return nil, err
	}
	req.Attribute = attribute
	req.Value = value
	return b.Do(ctx, req)
}

// Exec invokes an operation with positional arguments. A bare name of an
// overloaded operation is resolved by argument count.
func (b *Bridge) Exec(ctx context.Context, mbean, operation string, args []any) (any, error) {
	req, err := b.NewRequest(jmx.TypeExec, mbean, nil)
	if err != nil {
		return nil, err
	}
	req.Operation = operation
	req.Arguments = args
	return b.Do(ctx, req)
}

// CallTool runs a generated tool with named arguments.
func (b *Bridge) CallTool(ctx context.Context, name string, named map[string]any) (any, error) {
	tool, ok := b.Catalog().Tool(name)
	if !ok {
		nf := apierrors.NewNotFoundError(apierrors.MemberOperation, "", name)
		nf.Detail = "unknown tool: " + name
		return nil, b.fail(nf, nil)
	}
	req, err := b.NewRequest(jmx.TypeExec, tool.Target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Operation = tool.Operation.DisplayName
	args, err := catalog.BindArguments(named, tool.Operation)
	if err != nil {
		return nil, b.fail(err, req)
	}
	req.Arguments = args
	result, err := b.backend.Exec(ctx, req)
	if err != nil {
		return nil, b.fail(err, req)
	}
	return result, nil
}

// NewRequest builds a request with validated parameters. mbean may be empty for
// list and version requests.
func (b *Bridge) NewRequest(typ jmx.RequestType, mbean string, params map[string]string) (*jmx.Request, error) {
	cfg, err := b.RequestConfig(params)
	if err != nil {
		return nil, err
	}
	return &jmx.Request{Type: typ, MBean: mbean, Config: cfg}, nil
}

// Do runs any request against the backend.
func (b *Bridge) Do(ctx context.Context, req *jmx.Request) (any, error) {
	if req.MBean != "" {
		if _, err := jmx.ParseObjectName(req.MBean); err != nil {
			return nil, b.fail(err, req)
		}
	}

	var (
		value any
		err   error
	)
	switch req.Type {
	case jmx.TypeList:
		value, err = b.list(ctx, req)
	case jmx.TypeRead:
		if req.MBean == "" {
			err = apierrors.NewValidationError("mbean", "", "read requires an MBean")
			break
		}
		value, err = b.backend.Read(ctx, req)
	case jmx.TypeWrite:
		if req.MBean == "" || req.Attribute == "" {
			err = apierrors.NewValidationError("attribute", req.Attribute, "write requires an MBean and an attribute")
			break
		}
		value, err = b.backend.Write(ctx, req)
	case jmx.TypeExec:
		if req.MBean == "" || req.Operation == "" {
			err = apierrors.NewValidationError("operation", req.Operation, "exec requires an MBean and an operation")
			break
		}
		req.Operation, err = b.resolveOperation(req.MBean, req.Operation, len(req.Arguments))
		if err != nil {
			break
		}
		value, err = b.backend.Exec(ctx, req)
	case jmx.TypeVersion:
		value, err = b.version(ctx)
	default:
		err = apierrors.NewIllegalArgumentError("unknown request type %q", req.Type)
	}
	if err != nil {
		return nil, b.fail(err, req)
	}
	return value, nil
}

func (b *Bridge) list(ctx context.Context, req *jmx.Request) (any, error) {
	if req.MBean == "" {
		l, err := b.listing(ctx)
		if err != nil {
			return nil, err
		}
		return l.Value(), nil
	}
	l, err := b.backend.List(ctx, req)
	if err != nil {
		return nil, err
	}
	name, _ := jmx.ParseObjectName(req.MBean)
	info, ok := l.Find(name)
	if !ok {
		return nil, apierrors.NewNotFoundError(apierrors.MemberInstance, req.MBean, "")
	}
	return info.Value(), nil
}

func (b *Bridge) version(ctx context.Context) (any, error) {
	if v, ok := b.backend.(versioner); ok {
		return v.Version(ctx)
	}
	return map[string]any{
		"agent":    AgentName,
		"protocol": ProtocolVersion,
		"config":   map[string]string(b.opts.Defaults),
	}, nil
}

// resolveOperation picks the overload of a bare operation name whose parameter
// count matches. Explicit name(types) spellings and MBeans outside the catalog
// pass through unchanged.
func (b *Bridge) resolveOperation(mbean, operation string, argc int) (string, error) {
	if strings.Contains(operation, "(") {
		return operation, nil
	}
	name, err := jmx.ParseObjectName(mbean)
	if err != nil {
		return "", err
	}
	sigs := b.Catalog().Overloads(name, operation)
	if len(sigs) < 2 {
		return operation, nil
	}
	var match []catalog.Signature
	for _, s := range sigs {
		if len(s.Params) == argc {
			match = append(match, s)
		}
	}
	switch len(match) {
	case 1:
		return match[0].DisplayName, nil
	case 0:
		return "", apierrors.NewArgumentCountError(operation, len(sigs[0].Params), argc)
	default:
		names := make([]string, len(match))
		for i, s := range match {
			names[i] = s.DisplayName
		}
		return "", apierrors.NewIllegalArgumentError("operation %s is ambiguous for %d arguments, use one of %s",
			operation, argc, strings.Join(names, ", "))
	}
}

// HandleFailure classifies a failure that escaped per-call classification.
func (b *Bridge) HandleFailure(err error) *classify.Error {
	ce := b.classifier.HandleFailure(err)
	if ce != nil {
		metrics.RecordClassifiedError(ce.Status, string(ce.Kind))
	}
	return ce
}

// Classify exposes the bridge's classifier for callers that build requests
// themselves.
func (b *Bridge) Classify(err error, req *jmx.Request) *classify.Error {
	return b.classifier.Classify(err, req)
}

func (b *Bridge) fail(err error, req *jmx.Request) error {
	ce := b.classifier.Classify(err, req)
	metrics.RecordClassifiedError(ce.Status, string(ce.Kind))
	return ce
}

// FormatValue renders a backend result as tool output text.
func FormatValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case string:
		return val, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
