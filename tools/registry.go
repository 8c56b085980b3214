// Package tools provides a metadata-driven registry for MCP tool definitions.
// Static tools are declared in AllTools and registered through type-safe
// handlers; generated MBean operation tools are kept in sync by CatalogRegistry.
package tools

// ToolSpec defines a tool's metadata for declarative registration.
// Each spec maps to a HandlerRegistry method with a matching Args type.
type ToolSpec struct {
	// Name is the MCP tool name (e.g., "readMBeanAttribute")
	Name string

	// Method is the handler method name (e.g., "ReadAttribute")
	Method string

	// Description is the tool description shown to LLMs
	Description string

	// Title is the human-readable tool title for annotations
	Title string

	// Category groups tools logically (discovery, attributes, operations)
	Category string

	// ReadOnly indicates the tool doesn't modify MBean state
	ReadOnly bool

	// Destructive indicates the tool can overwrite data
	Destructive bool

	// Idempotent indicates repeated calls have the same effect
	Idempotent bool

	// OpenWorld indicates the tool reaches a remote JVM
	OpenWorld bool
}

// ptr is a helper to create a pointer to a value.
func ptr[T any](v T) *T {
	return &v
}
