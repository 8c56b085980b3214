package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/olgasafonova/jolokia-mcp-server/internal/backendtest"
	"github.com/olgasafonova/jolokia-mcp-server/internal/bridge"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry(t *testing.T) (*HandlerRegistry, *bridge.Bridge, *backendtest.Backend) {
	t.Helper()
	backend := backendtest.New()
	opts := bridge.DefaultOptions()
	opts.Reserved = Names()
	opts.Logger = testLogger()
	b, err := bridge.New(backend, opts)
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	t.Cleanup(b.Close)
	return NewHandlerRegistry(b, testLogger()), b, backend
}

// connect wires a client session to server over in-memory transports.
func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcp.NewInMemoryTransports()
	if _, err := server.Connect(ctx, st, nil); err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func newServer() *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: "jolokia-mcp-server", Version: "test"}, nil)
}

func texts(t *testing.T, res *mcp.CallToolResult) []string {
	t.Helper()
	out := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		tc, ok := c.(*mcp.TextContent)
		if !ok {
			t.Fatalf("content %T is not text", c)
		}
		out = append(out, tc.Text)
	}
	return out
}

func errorStatus(t *testing.T, res *mcp.CallToolResult) int {
	t.Helper()
	if !res.IsError {
		t.Fatalf("expected an error result, got %v", texts(t, res))
	}
	var payload struct {
		Status    int    `json:"status"`
		ErrorType string `json:"error_type"`
	}
	if err := json.Unmarshal([]byte(texts(t, res)[0]), &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	return payload.Status
}

func TestNewHandlerRegistry(t *testing.T) {
	b, err := bridge.New(backendtest.New(), bridge.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	logger := testLogger()

	registry := NewHandlerRegistry(b, logger)
	if registry.bridge != b {
		t.Error("Registry should hold the bridge reference")
	}
	if registry.logger != logger {
		t.Error("Registry should hold the logger reference")
	}
	if NewHandlerRegistry(b, nil).logger == nil {
		t.Error("nil logger should fall back to the default logger")
	}
}

func TestBuildTool(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	tests := []struct {
		name      string
		spec      ToolSpec
		wantRO    bool
		wantIdem  bool
		wantDestr bool
		wantOpen  bool
	}{
		{
			name: "read-only tool",
			spec: ToolSpec{
				Name:        "readMBeanAttribute",
				Title:       "Read MBean Attribute",
				Description: "Read an attribute",
				ReadOnly:    true,
				Idempotent:  true,
				OpenWorld:   true,
			},
			wantRO:   true,
			wantIdem: true,
			wantOpen: true,
		},
		{
			name: "destructive tool",
			spec: ToolSpec{
				Name:        "executeMBeanOperation",
				Title:       "Execute MBean Operation",
				Description: "Execute an operation",
				Destructive: true,
			},
			wantDestr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := registry.buildTool(tt.spec)

			if tool.Name != tt.spec.Name {
				t.Errorf("Name = %q, want %q", tool.Name, tt.spec.Name)
			}
			if tool.Description != tt.spec.Description {
				t.Errorf("Description = %q, want %q", tool.Description, tt.spec.Description)
			}
			if tool.Annotations == nil {
				t.Fatal("Expected annotations")
			}
			if tool.Annotations.ReadOnlyHint != tt.wantRO {
				t.Errorf("ReadOnlyHint = %v, want %v", tool.Annotations.ReadOnlyHint, tt.wantRO)
			}
			if tool.Annotations.IdempotentHint != tt.wantIdem {
				t.Errorf("IdempotentHint = %v, want %v", tool.Annotations.IdempotentHint, tt.wantIdem)
			}
			if tool.Annotations.DestructiveHint == nil || *tool.Annotations.DestructiveHint != tt.wantDestr {
				t.Errorf("DestructiveHint = %v, want %v", tool.Annotations.DestructiveHint, tt.wantDestr)
			}
			if tt.wantOpen && (tool.Annotations.OpenWorldHint == nil || !*tool.Annotations.OpenWorldHint) {
				t.Error("Expected OpenWorldHint to be true")
			}
		})
	}
}

func TestAllToolsNotEmpty(t *testing.T) {
	want := map[string]bool{
		"listMBeans":            true,
		"listMBeanOperations":   true,
		"listMBeanAttributes":   true,
		"readMBeanAttribute":    true,
		"writeMBeanAttribute":   true,
		"executeMBeanOperation": true,
	}
	if len(AllTools) != len(want) {
		t.Fatalf("len(AllTools) = %d, want %d", len(AllTools), len(want))
	}
	for _, spec := range AllTools {
		if !want[spec.Name] {
			t.Errorf("unexpected tool %s", spec.Name)
		}
		if spec.Method == "" || spec.Description == "" || spec.Category == "" {
			t.Errorf("Tool %s has empty required fields: %+v", spec.Name, spec)
		}
	}
}

func TestToolsByCategory(t *testing.T) {
	tests := []struct {
		category string
		want     int
	}{
		{"discovery", 3},
		{"attributes", 2},
		{"operations", 1},
		{"unknown", 0},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			got := ToolsByCategory(tt.category)
			if len(got) != tt.want {
				t.Errorf("ToolsByCategory(%q) = %d tools, want %d", tt.category, len(got), tt.want)
			}
			for _, tool := range got {
				if tool.Category != tt.category {
					t.Errorf("Tool %s has category %s", tool.Name, tool.Category)
				}
			}
		})
	}
}

func TestRecoverPanic(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	if err := registry.recoverPanic("test_tool", nil); err != nil {
		t.Errorf("recoverPanic(nil) = %v", err)
	}

	var got error
	func() {
		defer func() { got = registry.recoverPanic("test_tool", recover()) }()
		panic("test panic")
	}()
	if got == nil || !strings.Contains(got.Error(), "test panic") {
		t.Errorf("recoverPanic() = %v", got)
	}
}

func TestRun_PanicBecomesInternalError(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	res := registry.run(context.Background(), ToolSpec{Name: "boom"}, nil, func(context.Context) ([]string, error) {
		panic("kaboom")
	})
	if status := errorStatus(t, res); status != 500 {
		t.Errorf("status = %d, want 500", status)
	}
}

func TestArgAttrs(t *testing.T) {
	tests := []struct {
		name string
		args any
		want int
	}{
		{"no args", ListMBeansArgs{}, 0},
		{"mbean", MBeanArgs{MBean: "java.lang:type=Memory"}, 2},
		{"read", ReadAttributeArgs{MBean: "m", Attribute: "a"}, 4},
		{"write", WriteAttributeArgs{MBean: "m", Attribute: "a", Value: 1}, 4},
		{"exec", ExecuteOperationArgs{MBean: "m", Operation: "op", Args: []any{1}}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := argAttrs(tt.args); len(got) != tt.want {
				t.Errorf("argAttrs() = %v, want %d values", got, tt.want)
			}
		})
	}
}

func TestStaticTools_EndToEnd(t *testing.T) {
	registry, _, backend := newTestRegistry(t)
	server := newServer()
	registry.RegisterAll(server)
	session := connect(t, server)
	ctx := context.Background()

	list, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != len(AllTools) {
		t.Errorf("ListTools = %d tools, want %d", len(list.Tools), len(AllTools))
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "listMBeans", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if names := texts(t, res); len(names) != 5 || names[0] != "java.lang:type=Memory" {
		t.Errorf("listMBeans = %v", names)
	}

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"read", "readMBeanAttribute", map[string]any{"mbean": "java.lang:type=Threading", "attribute": "ThreadCount"}, "12"},
		{"read quoted", "readMBeanAttribute", map[string]any{"mbean": `test:type=Memory,name="a/b/c"`, "attribute": "Value"}, "abc"},
		{"write returns old value", "writeMBeanAttribute", map[string]any{"mbean": "jolokia:agent=123456-jvm,type=Config", "attribute": "HistorySize", "value": 20}, "10"},
		{"exec void", "executeMBeanOperation", map[string]any{"mbean": "java.lang:type=Memory", "operation": "gc"}, "null"},
		{"exec with args", "executeMBeanOperation", map[string]any{"mbean": `test:name="a/b/c",type=Memory`, "operation": "echo", "args": []any{"hi"}}, "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tt.tool, Arguments: tt.args})
			if err != nil {
				t.Fatal(err)
			}
			if res.IsError {
				t.Fatalf("%s failed: %v", tt.tool, texts(t, res))
			}
			if got := texts(t, res); len(got) != 1 || got[0] != tt.want {
				t.Errorf("%s = %v, want %q", tt.tool, got, tt.want)
			}
		})
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "listMBeanOperations",
		Arguments: map[string]any{"mbean": "java.lang:type=Threading"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var ops map[string]any
	if err := json.Unmarshal([]byte(texts(t, res)[0]), &ops); err != nil {
		t.Fatalf("listMBeanOperations output is not JSON: %v", err)
	}
	if sigs, ok := ops["dumpAllThreads"].([]any); !ok || len(sigs) != 2 {
		t.Errorf("dumpAllThreads = %v", ops["dumpAllThreads"])
	}

	if n := len(backend.Requests()); n == 0 {
		t.Error("backend saw no requests")
	}
}

func TestStaticTools_Failures(t *testing.T) {
	registry, b, _ := newTestRegistry(t)
	ctx := context.Background()
	if _, err := b.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	server := newServer()
	registry.RegisterAll(server)
	session := connect(t, server)

	tests := []struct {
		name       string
		tool       string
		args       map[string]any
		wantStatus int
	}{
		{"unknown mbean", "readMBeanAttribute", map[string]any{"mbean": "java.lang:type=Nope", "attribute": "X"}, 404},
		{"unknown attribute", "readMBeanAttribute", map[string]any{"mbean": "java.lang:type=Memory", "attribute": "Nope"}, 404},
		{"malformed name", "listMBeanAttributes", map[string]any{"mbean": "no-colon"}, 400},
		{"read-only attribute", "writeMBeanAttribute", map[string]any{"mbean": "java.lang:type=Threading", "attribute": "ThreadCount", "value": 1}, 400},
		{"no overload for arity", "executeMBeanOperation", map[string]any{"mbean": "java.lang:type=Threading", "operation": "dumpAllThreads", "args": []any{true}}, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tt.tool, Arguments: tt.args})
			if err != nil {
				t.Fatal(err)
			}
			if status := errorStatus(t, res); status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}
