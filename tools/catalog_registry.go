package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/olgasafonova/jolokia-mcp-server/internal/catalog"
	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
)

// CategoryGenerated is the category of tools built from the MBean catalog.
const CategoryGenerated = "generated"

// CatalogRegistry keeps the server's generated tools in step with the
// published catalog.
type CatalogRegistry struct {
	server     *mcp.Server
	handlers   *HandlerRegistry
	logger     *slog.Logger
	mu         sync.Mutex
	etag       string
	registered map[string]struct{}
}

// NewCatalogRegistry creates a registry that adds generated tools to server.
func NewCatalogRegistry(server *mcp.Server, handlers *HandlerRegistry) *CatalogRegistry {
	return &CatalogRegistry{
		server:     server,
		handlers:   handlers,
		logger:     handlers.logger,
		registered: make(map[string]struct{}),
	}
}

// Sync registers every tool of cat and removes tools that are no longer in it.
// A catalog with an unchanged ETag is a no-op.
func (r *CatalogRegistry) Sync(cat *catalog.Catalog) (added, removed int) {
	if cat == nil {
		return 0, 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cat.ETag() != "" && cat.ETag() == r.etag {
		return 0, 0
	}

	next := make(map[string]struct{}, cat.Len())
	for _, t := range cat.Tools() {
		// AddTool replaces a tool of the same name.
		r.server.AddTool(buildDynamicTool(t), r.handler(t.Name))
		if _, ok := r.registered[t.Name]; !ok {
			added++
		}
		next[t.Name] = struct{}{}
	}

	var remove []string
	for name := range r.registered {
		if _, ok := next[name]; !ok {
			remove = append(remove, name)
		}
	}
	if len(remove) > 0 {
		sort.Strings(remove)
		r.server.RemoveTools(remove...)
	}

	r.registered = next
	r.etag = cat.ETag()
	r.logger.Info("Generated tools synced",
		"tools", len(next),
		"added", added,
		"removed", len(remove),
	)
	return added, len(remove)
}

// Registered returns the names of the generated tools currently registered.
func (r *CatalogRegistry) Registered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.registered))
	for name := range r.registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *CatalogRegistry) handler(name string) mcp.ToolHandler {
	spec := ToolSpec{Name: name, Category: CategoryGenerated, OpenWorld: true}
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		return r.handlers.run(ctx, spec, nil, func(ctx context.Context) ([]string, error) {
			named, err := decodeArguments(raw)
			if err != nil {
				return nil, err
			}
			v, err := r.handlers.bridge.CallTool(ctx, name, named)
			if err != nil {
				return nil, err
			}
			return formatted(v)
		}), nil
	}
}

// decodeArguments keeps numbers as json.Number so long values survive intact.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	named := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return named, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&named); err != nil {
		return nil, apierrors.NewValidationError("arguments", string(raw), "arguments must be a JSON object")
	}
	return named, nil
}

func buildDynamicTool(t *catalog.Tool) *mcp.Tool {
	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: InputSchema(t.Operation),
		Annotations: &mcp.ToolAnnotations{
			Title:         t.Operation.DisplayName,
			OpenWorldHint: ptr(true),
		},
	}
}

// InputSchema describes the parameters of sig. Every parameter is required.
func InputSchema(sig catalog.Signature) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(sig.Params)),
		Required:   make([]string, 0, len(sig.Params)),
	}
	for _, p := range sig.Params {
		prop := &jsonschema.Schema{Description: p.Description}
		if typ := JSONType(p.Type); typ != "" {
			prop.Type = typ
		}
		schema.Properties[p.Name] = prop
		schema.Required = append(schema.Required, p.Name)
	}
	return schema
}

// JSONType maps a Java type to a JSON schema type. Unmapped types are untyped.
func JSONType(javaType string) string {
	switch javaType {
	case "boolean", "java.lang.Boolean":
		return "boolean"
	case "int", "java.lang.Integer",
		"long", "java.lang.Long",
		"short", "java.lang.Short",
		"byte", "java.lang.Byte":
		return "integer"
	case "double", "java.lang.Double",
		"float", "java.lang.Float":
		return "number"
	case "java.lang.String":
		return "string"
	default:
		return ""
	}
}
