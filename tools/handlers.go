package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/olgasafonova/jolokia-mcp-server/internal/bridge"
	"github.com/olgasafonova/jolokia-mcp-server/internal/classify"
	"github.com/olgasafonova/jolokia-mcp-server/metrics"
	"github.com/olgasafonova/jolokia-mcp-server/tracing"
)

// ListMBeansArgs takes no parameters.
type ListMBeansArgs struct{}

// MBeanArgs names one MBean.
type MBeanArgs struct {
	MBean string `json:"mbean" jsonschema:"MBean name, e.g. java.lang:type=Memory"`
}

// ReadAttributeArgs are the parameters of readMBeanAttribute.
type ReadAttributeArgs struct {
	MBean     string `json:"mbean" jsonschema:"MBean name"`
	Attribute string `json:"attribute" jsonschema:"Attribute name"`
}

// WriteAttributeArgs are the parameters of writeMBeanAttribute.
type WriteAttributeArgs struct {
	MBean     string `json:"mbean" jsonschema:"MBean name"`
	Attribute string `json:"attribute" jsonschema:"Attribute name"`
	Value     any    `json:"value" jsonschema:"Attribute value"`
}

// ExecuteOperationArgs are the parameters of executeMBeanOperation.
type ExecuteOperationArgs struct {
	MBean     string `json:"mbean" jsonschema:"MBean name"`
	Operation string `json:"operation" jsonschema:"Operation name, optionally with a signature such as name(int,java.lang.String)"`
	Args      []any  `json:"args,omitempty" jsonschema:"Positional arguments"`
}

// HandlerRegistry provides type-safe tool registration by mapping
// tool names to their concrete handler implementations.
type HandlerRegistry struct {
	bridge *bridge.Bridge
	logger *slog.Logger
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry(b *bridge.Bridge, logger *slog.Logger) *HandlerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandlerRegistry{
		bridge: b,
		logger: logger,
	}
}

// RegisterAll registers all static tools with the MCP server.
func (h *HandlerRegistry) RegisterAll(server *mcp.Server) {
	for _, spec := range AllTools {
		h.registerByName(server, spec)
	}
	h.logger.Info("Registered all tools", "count", len(AllTools))
}

// registerByName dispatches to the correct typed registration function.
func (h *HandlerRegistry) registerByName(server *mcp.Server, spec ToolSpec) {
	tool := h.buildTool(spec)

	switch spec.Method {
	case "ListMBeans":
		register(h, server, tool, spec, h.ListMBeans)
	case "ListOperations":
		register(h, server, tool, spec, h.ListOperations)
	case "ListAttributes":
		register(h, server, tool, spec, h.ListAttributes)
	case "ReadAttribute":
		register(h, server, tool, spec, h.ReadAttribute)
	case "WriteAttribute":
		register(h, server, tool, spec, h.WriteAttribute)
	case "ExecuteOperation":
		register(h, server, tool, spec, h.ExecuteOperation)
	default:
		h.logger.Error("Unknown method, tool not registered", "method", spec.Method, "tool", spec.Name)
	}
}

// buildTool creates an mcp.Tool from a ToolSpec.
func (h *HandlerRegistry) buildTool(spec ToolSpec) *mcp.Tool {
	annotations := &mcp.ToolAnnotations{
		Title:          spec.Title,
		ReadOnlyHint:   spec.ReadOnly,
		IdempotentHint: spec.Idempotent,
	}
	if spec.Destructive {
		annotations.DestructiveHint = ptr(true)
	} else {
		annotations.DestructiveHint = ptr(false)
	}
	if spec.OpenWorld {
		annotations.OpenWorldHint = ptr(true)
	}

	return &mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Annotations: annotations,
	}
}

// ListMBeans returns every MBean name as its own text item.
func (h *HandlerRegistry) ListMBeans(ctx context.Context, _ ListMBeansArgs) ([]string, error) {
	return h.bridge.ListMBeans(ctx)
}

// ListOperations describes the operations of one MBean.
func (h *HandlerRegistry) ListOperations(ctx context.Context, args MBeanArgs) ([]string, error) {
	ops, err := h.bridge.ListOperations(ctx, args.MBean)
	if err != nil {
		return nil, err
	}
	return formatted(ops)
}

// ListAttributes describes the attributes of one MBean.
func (h *HandlerRegistry) ListAttributes(ctx context.Context, args MBeanArgs) ([]string, error) {
	attrs, err := h.bridge.ListAttributes(ctx, args.MBean)
	if err != nil {
		return nil, err
	}
	return formatted(attrs)
}

// ReadAttribute reads one attribute.
func (h *HandlerRegistry) ReadAttribute(ctx context.Context, args ReadAttributeArgs) ([]string, error) {
	v, err := h.bridge.Read(ctx, args.MBean, args.Attribute)
	if err != nil {
		return nil, err
	}
	return formatted(v)
}

// WriteAttribute sets one attribute and returns its previous value.
func (h *HandlerRegistry) WriteAttribute(ctx context.Context, args WriteAttributeArgs) ([]string, error) {
	v, err := h.bridge.Write(ctx, args.MBean, args.Attribute, args.Value)
	if err != nil {
		return nil, err
	}
	return formatted(v)
}

// ExecuteOperation invokes an operation with positional arguments.
func (h *HandlerRegistry) ExecuteOperation(ctx context.Context, args ExecuteOperationArgs) ([]string, error) {
	v, err := h.bridge.Exec(ctx, args.MBean, args.Operation, args.Args)
	if err != nil {
		return nil, err
	}
	return formatted(v)
}

func formatted(v any) ([]string, error) {
	text, err := bridge.FormatValue(v)
	if err != nil {
		return nil, fmt.Errorf("format result: %w", err)
	}
	return []string{text}, nil
}

// register is a generic helper that registers a tool with the MCP server.
// It wraps the handler method with panic recovery, metrics, tracing, and logging.
func register[Args any](
	h *HandlerRegistry,
	server *mcp.Server,
	tool *mcp.Tool,
	spec ToolSpec,
	method func(context.Context, Args) ([]string, error),
) {
	mcp.AddTool(server, tool, func(ctx context.Context, req *mcp.CallToolRequest, args Args) (*mcp.CallToolResult, any, error) {
		result := h.run(ctx, spec, argAttrs(args), func(ctx context.Context) ([]string, error) {
			return method(ctx, args)
		})
		return result, nil, nil
	})
}

// run executes one tool call. Failures never cross the MCP boundary as Go
// errors: they become IsError results carrying the classified error JSON.
func (h *HandlerRegistry) run(ctx context.Context, spec ToolSpec, attrs []any, call func(context.Context) ([]string, error)) (result *mcp.CallToolResult) {
	defer func() {
		if err := h.recoverPanic(spec.Name, recover()); err != nil {
			metrics.RecordRequest(spec.Name, 0, false)
			result = errorResult(h.bridge.HandleFailure(err))
		}
	}()

	ctx, span := tracing.StartToolSpan(ctx, spec.Name, spec.Category, spec.ReadOnly)
	defer span.End()

	// Track in-flight requests
	metrics.RequestInFlight.WithLabelValues(spec.Name).Inc()
	defer metrics.RequestInFlight.WithLabelValues(spec.Name).Dec()

	start := time.Now()
	texts, err := call(ctx)
	duration := time.Since(start).Seconds()

	span.SetAttributes(attribute.Float64("mcp.tool.duration_seconds", duration))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRequest(spec.Name, duration, false)
		ce := h.classified(err)
		h.logger.Warn("Tool failed",
			append([]any{"tool", spec.Name, "status", ce.Status, "error_type", ce.ErrorType}, attrs...)...)
		return errorResult(ce)
	}

	span.SetStatus(codes.Ok, "")
	metrics.RecordRequest(spec.Name, duration, true)

	content := make([]mcp.Content, len(texts))
	size := 0
	for i, t := range texts {
		content[i] = &mcp.TextContent{Text: t}
		size += len(t)
	}
	metrics.ContentSize.WithLabelValues(spec.Name).Observe(float64(size))
	h.logExecution(spec, attrs, len(texts), size)
	return &mcp.CallToolResult{Content: content}
}

// classified returns err as a classified error, classifying it coarsely when
// no earlier layer did.
func (h *HandlerRegistry) classified(err error) *classify.Error {
	var ce *classify.Error
	if errors.As(err, &ce) {
		return ce
	}
	return h.bridge.HandleFailure(err)
}

func errorResult(ce *classify.Error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: ce.JSON()}},
	}
}

// recoverPanic turns a recovered panic value into an error. rec is the result
// of recover() in the caller's deferred function.
func (h *HandlerRegistry) recoverPanic(toolName string, rec any) error {
	if rec == nil {
		return nil
	}
	metrics.PanicsRecovered.WithLabelValues(toolName).Inc()
	h.logger.Error("Panic recovered",
		"tool", toolName,
		"panic", rec,
		"stack", string(debug.Stack()))
	return fmt.Errorf("panic in %s: %v", toolName, rec)
}

// argAttrs extracts log attributes from typed arguments.
func argAttrs(args any) []any {
	switch a := args.(type) {
	case MBeanArgs:
		return []any{"mbean", a.MBean}
	case ReadAttributeArgs:
		return []any{"mbean", a.MBean, "attribute", a.Attribute}
	case WriteAttributeArgs:
		return []any{"mbean", a.MBean, "attribute", a.Attribute}
	case ExecuteOperationArgs:
		return []any{"mbean", a.MBean, "operation", a.Operation, "args", len(a.Args)}
	}
	return nil
}

// logExecution logs tool execution details.
func (h *HandlerRegistry) logExecution(spec ToolSpec, attrs []any, items, size int) {
	all := append([]any{"tool", spec.Name, "category", spec.Category}, attrs...)
	all = append(all, "items", items, "size", size)
	h.logger.Info("Tool executed", all...)
}
