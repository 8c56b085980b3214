package jmx

import (
	"context"

	"github.com/olgasafonova/jolokia-mcp-server/internal/reqconfig"
)

// RequestType is the Jolokia action of a request.
type RequestType string

const (
	TypeList    RequestType = "list"
	TypeRead    RequestType = "read"
	TypeWrite   RequestType = "write"
	TypeExec    RequestType = "exec"
	TypeVersion RequestType = "version"
)

// Request is one management call. MBean is the object name as the caller gave it.
type Request struct {
	Type      RequestType
	MBean     string
	Attribute string
	Value     any
	Operation string
	Arguments []any
	// Path narrows a list request below the MBean (e.g. "attr" or "op").
	Path   string
	Config reqconfig.Config
}

// Parameter returns a processing parameter of the request.
func (r *Request) Parameter(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	return r.Config.Get(key)
}

// JSON renders the request the way Jolokia echoes it back.
func (r *Request) JSON() map[string]any {
	if r == nil {
		return nil
	}
	out := map[string]any{"type": string(r.Type)}
	if r.MBean != "" {
		out["mbean"] = r.MBean
	}
	if r.Attribute != "" {
		out["attribute"] = r.Attribute
	}
	if r.Type == TypeWrite {
		out["value"] = r.Value
	}
	if r.Operation != "" {
		out["operation"] = r.Operation
	}
	if r.Type == TypeExec {
		args := r.Arguments
		if args == nil {
			args = []any{}
		}
		out["arguments"] = args
	}
	if r.Path != "" {
		out["path"] = r.Path
	}
	if r.Config.Len() > 0 {
		out["config"] = r.Config.Values()
	}
	return out
}

// Backend performs management calls against a JMX namespace.
type Backend interface {
	// List returns the namespace, or only req.MBean when it is set.
	List(ctx context.Context, req *Request) (*Listing, error)
	Read(ctx context.Context, req *Request) (any, error)
	Write(ctx context.Context, req *Request) (any, error)
	Exec(ctx context.Context, req *Request) (any, error)
}
