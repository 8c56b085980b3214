package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/olgasafonova/jolokia-mcp-server/internal/catalog"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
)

func TestJSONType(t *testing.T) {
	tests := []struct {
		javaType string
		want     string
	}{
		{"boolean", "boolean"},
		{"java.lang.Boolean", "boolean"},
		{"int", "integer"},
		{"long", "integer"},
		{"java.lang.Short", "integer"},
		{"byte", "integer"},
		{"double", "number"},
		{"java.lang.Float", "number"},
		{"java.lang.String", "string"},
		{"[Ljava.lang.String;", ""},
		{"javax.management.openmbean.CompositeData", ""},
		{"char", ""},
	}
	for _, tt := range tests {
		t.Run(tt.javaType, func(t *testing.T) {
			if got := JSONType(tt.javaType); got != tt.want {
				t.Errorf("JSONType(%q) = %q, want %q", tt.javaType, got, tt.want)
			}
		})
	}
}

func TestInputSchema(t *testing.T) {
	sig := catalog.Signature{
		Name: "dumpAllThreads",
		Params: []jmx.ParameterInfo{
			{Name: "lockedMonitors", Type: "boolean", Description: "include monitors"},
			{Name: "maxDepth", Type: "int"},
			{Name: "filter", Type: "java.util.Map"},
		},
	}

	schema := InputSchema(sig)
	if schema.Type != "object" {
		t.Errorf("Type = %q, want object", schema.Type)
	}
	if diff := cmp.Diff([]string{"lockedMonitors", "maxDepth", "filter"}, schema.Required); diff != "" {
		t.Errorf("Required mismatch (-want +got):\n%s", diff)
	}
	if got := schema.Properties["lockedMonitors"]; got.Type != "boolean" || got.Description != "include monitors" {
		t.Errorf("lockedMonitors = %+v", got)
	}
	if got := schema.Properties["maxDepth"].Type; got != "integer" {
		t.Errorf("maxDepth type = %q", got)
	}
	if got := schema.Properties["filter"].Type; got != "" {
		t.Errorf("filter type = %q, want untyped", got)
	}

	empty := InputSchema(catalog.Signature{Name: "gc"})
	if empty.Type != "object" || len(empty.Properties) != 0 || len(empty.Required) != 0 {
		t.Errorf("no-arg schema = %+v", empty)
	}
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{"empty", "", map[string]any{}, false},
		{"null", "null", map[string]any{}, false},
		{"numbers stay exact", `{"id": 9007199254740993}`, map[string]any{"id": json.Number("9007199254740993")}, false},
		{"mixed", `{"a": "x", "b": true}`, map[string]any{"a": "x", "b": true}, false},
		{"not an object", `[1,2]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeArguments(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeArguments() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decodeArguments() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCatalogRegistry_SyncAddsAndRemoves(t *testing.T) {
	registry, b, _ := newTestRegistry(t)
	ctx := context.Background()
	cat, err := b.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}

	server := newServer()
	registry.RegisterAll(server)
	dynamic := NewCatalogRegistry(server, registry)
	session := connect(t, server)

	added, removed := dynamic.Sync(cat)
	if added != cat.Len() || removed != 0 {
		t.Errorf("Sync() = %d added, %d removed, want %d, 0", added, removed, cat.Len())
	}
	if got := len(dynamic.Registered()); got != cat.Len() {
		t.Errorf("Registered() = %d, want %d", got, cat.Len())
	}

	list, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != len(AllTools)+cat.Len() {
		t.Errorf("ListTools = %d, want %d", len(list.Tools), len(AllTools)+cat.Len())
	}

	// Same ETag is a no-op.
	if added, removed := dynamic.Sync(cat); added != 0 || removed != 0 {
		t.Errorf("repeat Sync() = %d, %d", added, removed)
	}

	_, removed = dynamic.Sync(catalog.Build(nil, catalog.BuildOptions{}))
	if removed != cat.Len() {
		t.Errorf("Sync(empty) removed %d, want %d", removed, cat.Len())
	}
	list, err = session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != len(AllTools) {
		t.Errorf("static tools should survive, got %d tools", len(list.Tools))
	}

	if added, _ := dynamic.Sync(nil); added != 0 {
		t.Error("Sync(nil) should do nothing")
	}
}

func TestCatalogRegistry_CallGeneratedTool(t *testing.T) {
	registry, b, backend := newTestRegistry(t)
	ctx := context.Background()
	cat, err := b.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}

	server := newServer()
	dynamic := NewCatalogRegistry(server, registry)
	dynamic.Sync(cat)
	session := connect(t, server)

	list, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatal(err)
	}
	var addTool *mcp.Tool
	for _, tool := range list.Tools {
		if tool.Name == "test-abc-Memory-add" {
			addTool = tool
		}
	}
	if addTool == nil {
		t.Fatal("test-abc-Memory-add not listed")
	}
	raw, err := json.Marshal(addTool.InputSchema)
	if err != nil {
		t.Fatal(err)
	}
	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, schema.Required); diff != "" {
		t.Errorf("required mismatch (-want +got):\n%s", diff)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "test-abc-Memory-add",
		Arguments: map[string]any{"a": 2, "b": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("add failed: %v", texts(t, res))
	}
	if got := texts(t, res); len(got) != 1 || got[0] != "5" {
		t.Errorf("add = %v, want 5", got)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "javalang-Threading-dumpAllThreads-2",
		Arguments: map[string]any{"lockedMonitors": true, "lockedSynchronizers": false, "maxDepth": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("dumpAllThreads failed: %v", texts(t, res))
	}
	reqs := backend.Requests()
	if op := reqs[len(reqs)-1].Operation; op != "dumpAllThreads(boolean,boolean,int)" {
		t.Errorf("operation = %q", op)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "test-abc-Memory-echo",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if status := errorStatus(t, res); status != 400 {
		t.Errorf("missing argument status = %d, want 400", status)
	}
}
