package tools

// AllTools contains the static tool specifications.
// Tool descriptions follow a structured format for LLM tool selection:
// - USE WHEN: Natural language triggers
// - NOT FOR: Disambiguation from similar tools
// - PARAMETERS: Key arguments
// - RETURNS: What the tool returns
var AllTools = []ToolSpec{
	// ==========================================================================
	// DISCOVERY TOOLS
	// ==========================================================================
	{
		Name:     "listMBeans",
		Method:   "ListMBeans",
		Title:    "List MBeans",
		Category: "discovery",
		Description: `List available MBeans from the JVM.

USE WHEN: User asks "what can I monitor", "which MBeans exist", or needs an ObjectName for another tool.

NOT FOR: Members of a known MBean (use listMBeanOperations or listMBeanAttributes).

RETURNS: One ObjectName per text item, sorted.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     "listMBeanOperations",
		Method:   "ListOperations",
		Title:    "List MBean Operations",
		Category: "discovery",
		Description: `List available operations for a given MBean.

USE WHEN: User asks "what can I invoke on X" or needs parameter types before executeMBeanOperation.

PARAMETERS:
- mbean: ObjectName, e.g. java.lang:type=Memory (required)

RETURNS: JSON object of operation name to signature; overloaded operations map to a list of signatures.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     "listMBeanAttributes",
		Method:   "ListAttributes",
		Title:    "List MBean Attributes",
		Category: "discovery",
		Description: `List available attributes for a given MBean.

USE WHEN: User asks "what does X expose" or needs attribute names before reading or writing.

PARAMETERS:
- mbean: ObjectName (required)

RETURNS: JSON object of attribute name to type, description and writability.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},

	// ==========================================================================
	// ATTRIBUTE TOOLS
	// ==========================================================================
	{
		Name:     "readMBeanAttribute",
		Method:   "ReadAttribute",
		Title:    "Read MBean Attribute",
		Category: "attributes",
		Description: `Read an attribute from a given MBean.

USE WHEN: User asks "what is the heap usage", "how many threads", or any current value.

PARAMETERS:
- mbean: ObjectName (required)
- attribute: Attribute name (required)

RETURNS: The attribute value; objects and arrays as JSON.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     "writeMBeanAttribute",
		Method:   "WriteAttribute",
		Title:    "Write MBean Attribute",
		Category: "attributes",
		Description: `Set the value of an attribute of a given MBean.

USE WHEN: User asks to change a writable setting, e.g. "enable verbose GC".

PARAMETERS:
- mbean: ObjectName (required)
- attribute: Attribute name (required)
- value: New value (required)

RETURNS: The previous value.`,
		Destructive: true,
		Idempotent:  true,
		OpenWorld:   true,
	},

	// ==========================================================================
	// OPERATION TOOLS
	// ==========================================================================
	{
		Name:     "executeMBeanOperation",
		Method:   "ExecuteOperation",
		Title:    "Execute MBean Operation",
		Category: "operations",
		Description: `Execute an operation on a given MBean.

USE WHEN: User asks to run an action, e.g. "trigger a GC" or "dump threads".

PARAMETERS:
- mbean: ObjectName (required)
- operation: Operation name; use name(type1,type2) to pick an overload explicitly (required)
- args: Positional arguments (optional)

RETURNS: The operation result, "null" for void operations.`,
		Destructive: true,
		OpenWorld:   true,
	},
}

// ToolsByCategory returns tools filtered by category.
func ToolsByCategory(category string) []ToolSpec {
	var result []ToolSpec
	for _, spec := range AllTools {
		if spec.Category == category {
			result = append(result, spec)
		}
	}
	return result
}

// Names returns the static tool names. Generated tools never reuse them.
func Names() []string {
	names := make([]string, len(AllTools))
	for i, spec := range AllTools {
		names[i] = spec.Name
	}
	return names
}
