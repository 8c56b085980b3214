// Package backendtest provides an in-memory jmx.Backend seeded with a small JVM
// namespace, for tests of the bridge, the tools and the agent endpoint.
package backendtest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
)

// ListingJSON is the namespace served by New, as a Jolokia list value.
const ListingJSON = `{
  "java.lang": {
    "type=Memory": {
      "desc": "Information on the management interface of the MBean",
      "class": "sun.management.MemoryImpl",
      "attr": {
        "HeapMemoryUsage": {"type": "javax.management.openmbean.CompositeData", "desc": "HeapMemoryUsage", "rw": false},
        "Verbose": {"type": "boolean", "desc": "Verbose", "rw": true}
      },
      "op": {"gc": {"args": [], "ret": "void", "desc": "gc"}}
    },
    "type=Threading": {
      "desc": "Information on the management interface of the MBean",
      "class": "sun.management.ThreadImpl",
      "attr": {
        "ThreadCount": {"type": "int", "desc": "ThreadCount", "rw": false}
      },
      "op": {
        "dumpAllThreads": [
          {"args": [
            {"name": "lockedMonitors", "type": "boolean", "desc": "lockedMonitors"},
            {"name": "lockedSynchronizers", "type": "boolean", "desc": "lockedSynchronizers"}
          ], "ret": "[Ljavax.management.openmbean.CompositeData;", "desc": "dumpAllThreads"},
          {"args": [
            {"name": "lockedMonitors", "type": "boolean", "desc": "lockedMonitors"},
            {"name": "lockedSynchronizers", "type": "boolean", "desc": "lockedSynchronizers"},
            {"name": "maxDepth", "type": "int", "desc": "maxDepth"}
          ], "ret": "[Ljavax.management.openmbean.CompositeData;", "desc": "dumpAllThreads"}
        ]
      }
    }
  },
  "jolokia": {
    "agent=123456-jvm,type=Config": {
      "desc": "Jolokia agent configuration",
      "class": "org.jolokia.service.jmx.handler.Config",
      "attr": {
        "HistorySize": {"type": "int", "desc": "Number of history entries", "rw": true}
      },
      "op": {"debugInfo": {"args": [], "ret": "java.lang.String", "desc": "Get debug info"}}
    }
  },
  "java.util.logging": {
    "type=Logging": {
      "desc": "Logging",
      "class": "sun.management.ManagementFactoryHelper$PlatformLoggingImpl",
      "attr": {
        "LoggerNames": {"type": "[Ljava.lang.String;", "desc": "LoggerNames", "rw": false}
      },
      "op": {
        "getLoggerLevel": {"args": [{"name": "loggerName", "type": "java.lang.String", "desc": "loggerName"}], "ret": "java.lang.String", "desc": "getLoggerLevel"}
      }
    }
  },
  "test": {
    "name=\"a/b/c\",type=Memory": {
      "desc": "Test MBean with a quoted name",
      "attr": {
        "Value": {"type": "java.lang.String", "desc": "Value", "rw": true}
      },
      "op": {
        "echo": {"args": [{"name": "text", "type": "java.lang.String", "desc": "Text to echo"}], "ret": "java.lang.String", "desc": "Echo the text"},
        "add": {"args": [{"name": "a", "type": "long", "desc": "first"}, {"name": "b", "type": "long", "desc": "second"}], "ret": "long", "desc": "Add two numbers"}
      }
    }
  }
}`

// OpFunc runs an operation with positional arguments.
type OpFunc func(args []any) (any, error)

// Backend is an in-memory JMX namespace. The zero value is not usable; call New.
type Backend struct {
	mu       sync.Mutex
	listing  *jmx.Listing
	values   map[string]map[string]any
	handlers map[string]OpFunc
	requests []jmx.Request

	listCalls atomic.Int64

	// ListErr, when set, fails every List call.
	ListErr error
}

// New returns a backend serving ListingJSON with default attribute values and
// operation handlers.
func New() *Backend {
	listing, err := jmx.ParseListing([]byte(ListingJSON))
	if err != nil {
		panic(err)
	}
	b := &Backend{
		listing:  listing,
		values:   map[string]map[string]any{},
		handlers: map[string]OpFunc{},
	}
	b.SetAttribute("java.lang:type=Memory", "HeapMemoryUsage", map[string]any{
		"init": 268435456, "used": 52428800, "committed": 268435456, "max": 4294967296,
	})
	b.SetAttribute("java.lang:type=Memory", "Verbose", false)
	b.SetAttribute("java.lang:type=Threading", "ThreadCount", 12)
	b.SetAttribute("jolokia:agent=123456-jvm,type=Config", "HistorySize", 10)
	b.SetAttribute("java.util.logging:type=Logging", "LoggerNames", []any{"", "global"})
	b.SetAttribute(`test:name="a/b/c",type=Memory`, "Value", "abc")

	b.Handle("java.lang:type=Memory", "gc", func([]any) (any, error) { return nil, nil })
	b.Handle("java.lang:type=Threading", "dumpAllThreads(boolean,boolean)", func([]any) (any, error) {
		return []any{}, nil
	})
	b.Handle("java.lang:type=Threading", "dumpAllThreads(boolean,boolean,int)", func(args []any) (any, error) {
		return []any{map[string]any{"maxDepth": args[2]}}, nil
	})
	b.Handle("jolokia:agent=123456-jvm,type=Config", "debugInfo", func([]any) (any, error) {
		return "debug info", nil
	})
	b.Handle("java.util.logging:type=Logging", "getLoggerLevel", func([]any) (any, error) { return "INFO", nil })
	b.Handle(`test:name="a/b/c",type=Memory`, "echo", func(args []any) (any, error) { return args[0], nil })
	b.Handle(`test:name="a/b/c",type=Memory`, "add", func(args []any) (any, error) {
		a, ok1 := toFloat(args[0])
		c, ok2 := toFloat(args[1])
		if !ok1 || !ok2 {
			return nil, apierrors.NewIllegalArgumentError("add expects two numbers, got %v and %v", args[0], args[1])
		}
		return a + c, nil
	})
	return b
}

// SetAttribute stores an attribute value.
func (b *Backend) SetAttribute(mbean, attribute string, value any) {
	key := canonical(mbean)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values[key] == nil {
		b.values[key] = map[string]any{}
	}
	b.values[key][attribute] = value
}

// Handle installs fn for operation on mbean. Overloads are keyed by their
// name(type,...) spelling.
func (b *Backend) Handle(mbean, operation string, fn OpFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[canonical(mbean)+"/"+operation] = fn
}

// Requests returns a copy of every request served so far.
func (b *Backend) Requests() []jmx.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]jmx.Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// ListCalls counts List invocations.
func (b *Backend) ListCalls() int {
	return int(b.listCalls.Load())
}

// List implements jmx.Backend.
func (b *Backend) List(_ context.Context, req *jmx.Request) (*jmx.Listing, error) {
	b.listCalls.Add(1)
	b.record(req)
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	if req == nil || req.MBean == "" {
		return b.listing, nil
	}
	name, err := jmx.ParseObjectName(req.MBean)
	if err != nil {
		return nil, err
	}
	info, ok := b.listing.Find(name)
	if !ok {
		return nil, apierrors.NewNotFoundError(apierrors.MemberInstance, req.MBean, "")
	}
	return &jmx.Listing{Domains: []jmx.Domain{{Name: name.Domain, MBeans: []jmx.MBeanInfo{info}}}}, nil
}

// Read implements jmx.Backend. An empty attribute reads every attribute.
func (b *Backend) Read(_ context.Context, req *jmx.Request) (any, error) {
	b.record(req)
	name, info, err := b.find(req.MBean)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	values := b.values[name.Canonical()]
	if req.Attribute == "" {
		all := make(map[string]any, len(info.Attributes))
		for _, a := range info.Attributes {
			all[a.Name] = values[a.Name]
		}
		return all, nil
	}
	if _, ok := info.Attribute(req.Attribute); !ok {
		return nil, apierrors.NewNotFoundError(apierrors.MemberAttribute, req.MBean, req.Attribute)
	}
	return values[req.Attribute], nil
}

// Write implements jmx.Backend and returns the previous value.
func (b *Backend) Write(_ context.Context, req *jmx.Request) (any, error) {
	b.record(req)
	name, info, err := b.find(req.MBean)
	if err != nil {
		return nil, err
	}
	attr, ok := info.Attribute(req.Attribute)
	if !ok {
		return nil, apierrors.NewNotFoundError(apierrors.MemberAttribute, req.MBean, req.Attribute)
	}
	if !attr.ReadWrite {
		return nil, apierrors.NewIllegalArgumentError("attribute %s of %s is read-only", req.Attribute, req.MBean)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := name.Canonical()
	if b.values[key] == nil {
		b.values[key] = map[string]any{}
	}
	old := b.values[key][req.Attribute]
	b.values[key][req.Attribute] = req.Value
	return old, nil
}

// Exec implements jmx.Backend. Operation is either a bare name, resolved by
// argument count, or name(type,...).
func (b *Backend) Exec(_ context.Context, req *jmx.Request) (any, error) {
	b.record(req)
	name, info, err := b.find(req.MBean)
	if err != nil {
		return nil, err
	}
	opName, types, explicit := splitSignature(req.Operation)
	group, ok := info.Operation(opName)
	if !ok {
		return nil, apierrors.NewNotFoundError(apierrors.MemberOperation, req.MBean, req.Operation)
	}

	sig, found := -1, false
	for i, s := range group.Signatures {
		if explicit {
			if strings.Join(paramTypes(s), ",") == types {
				sig, found = i, true
				break
			}
			continue
		}
		if len(s.Args) == len(req.Arguments) {
			sig, found = i, true
			break
		}
	}
	if !found {
		if explicit || len(group.Signatures) > 1 {
			return nil, apierrors.NewNotFoundError(apierrors.MemberOperation, req.MBean, req.Operation)
		}
		return nil, apierrors.NewIllegalArgumentError("invalid number of arguments for %s: expected %d, got %d",
			opName, len(group.Signatures[0].Args), len(req.Arguments))
	}

	key := opName
	if len(group.Signatures) > 1 {
		key = opName + "(" + strings.Join(paramTypes(group.Signatures[sig]), ",") + ")"
	}
	b.mu.Lock()
	fn := b.handlers[name.Canonical()+"/"+key]
	b.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	result, err := fn(req.Arguments)
	if err != nil {
		return nil, apierrors.NewInvocationError(req.MBean, req.Operation, err)
	}
	return result, nil
}

func (b *Backend) find(mbean string) (jmx.ObjectName, jmx.MBeanInfo, error) {
	name, err := jmx.ParseObjectName(mbean)
	if err != nil {
		return jmx.ObjectName{}, jmx.MBeanInfo{}, err
	}
	info, ok := b.listing.Find(name)
	if !ok {
		return jmx.ObjectName{}, jmx.MBeanInfo{}, apierrors.NewNotFoundError(apierrors.MemberInstance, mbean, "")
	}
	return name, info, nil
}

func (b *Backend) record(req *jmx.Request) {
	if req == nil {
		return
	}
	b.mu.Lock()
	b.requests = append(b.requests, *req)
	b.mu.Unlock()
}

func canonical(mbean string) string {
	return jmx.MustParseObjectName(mbean).Canonical()
}

func splitSignature(op string) (name, types string, explicit bool) {
	i := strings.IndexByte(op, '(')
	if i < 0 || !strings.HasSuffix(op, ")") {
		return op, "", false
	}
	return op[:i], op[i+1 : len(op)-1], true
}

func paramTypes(op jmx.OperationInfo) []string {
	types := make([]string, len(op.Args))
	for i, a := range op.Args {
		types[i] = a.Type
	}
	return types
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
