package catalog

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
	"github.com/olgasafonova/jolokia-mcp-server/internal/naming"
)

const fixture = `{
  "java.lang": {
    "type=Memory": {
      "desc": "Memory",
      "attr": {"Verbose": {"type": "boolean", "desc": "Verbose", "rw": true}},
      "op": {"gc": {"args": [], "ret": "void", "desc": "Run GC"}}
    },
    "type=Threading": {
      "desc": "Threading",
      "op": {
        "dumpAllThreads": [
          {"args": [{"name": "lockedMonitors", "type": "boolean", "desc": ""}, {"name": "lockedSynchronizers", "type": "boolean", "desc": ""}], "ret": "[Ljavax.management.openmbean.CompositeData;", "desc": "dump"},
          {"args": [{"name": "lockedMonitors", "type": "boolean", "desc": ""}, {"name": "lockedSynchronizers", "type": "boolean", "desc": ""}, {"name": "maxDepth", "type": "int", "desc": ""}], "ret": "[Ljavax.management.openmbean.CompositeData;", "desc": "dump with depth"}
        ]
      }
    }
  },
  "jolokia": {
    "agent=123456-jvm,type=Config": {
      "desc": "Agent config",
      "op": {"debugInfo": {"args": [], "ret": "java.lang.String", "desc": "Debug info"}}
    }
  },
  "JMImplementation": {
    "type=MBeanServerDelegate": {
      "desc": "delegate",
      "op": {"noop": {"args": [], "ret": "void", "desc": ""}}
    }
  },
  "test": {
    "name=\"a/b/c\",type=Memory": {"desc": "odd", "op": {"gc": {"args": [], "ret": "void", "desc": "odd gc"}}},
    "type=Memory,name=\"a/b/c\"": {"desc": "same again", "op": {"gc": {"args": [], "ret": "void", "desc": "dup"}}}
  }
}`

func mustListing(t *testing.T) *jmx.Listing {
	t.Helper()
	listing, err := jmx.ParseListing([]byte(fixture))
	if err != nil {
		t.Fatalf("ParseListing: %v", err)
	}
	return listing
}

func TestResolveOverloads(t *testing.T) {
	resource := jmx.MustParseObjectName("java.lang:type=Threading")
	sigs := []jmx.OperationInfo{
		{Args: []jmx.ParameterInfo{{Name: "a", Type: "boolean"}, {Name: "b", Type: "boolean"}}, Description: "two"},
		{Args: []jmx.ParameterInfo{{Name: "a", Type: "boolean"}, {Name: "b", Type: "boolean"}, {Name: "c", Type: "int"}}, Description: "three"},
	}
	got := ResolveOverloads(resource, "dumpAllThreads", sigs)
	if len(got) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(got))
	}
	if got[0].OverloadIndex != 1 || got[1].OverloadIndex != 2 {
		t.Errorf("overload indexes = %d, %d", got[0].OverloadIndex, got[1].OverloadIndex)
	}
	if got[1].DisplayName != "dumpAllThreads(boolean,boolean,int)" {
		t.Errorf("DisplayName = %q", got[1].DisplayName)
	}
	if got[0].Description != "java.lang:type=Threading/dumpAllThreads(boolean,boolean): two" {
		t.Errorf("Description = %q", got[0].Description)
	}

	single := ResolveOverloads(resource, "gc", []jmx.OperationInfo{{Description: "gc"}})
	if single[0].OverloadIndex != 0 || single[0].DisplayName != "gc" {
		t.Errorf("single signature = %+v", single[0])
	}
}

func TestBindArguments(t *testing.T) {
	sig := Signature{
		Name:        "resize",
		DisplayName: "resize",
		Params:      []jmx.ParameterInfo{{Name: "width"}, {Name: "height"}},
	}

	got, err := BindArguments(map[string]any{"height": 2, "width": 1}, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]any{1, 2}, got); diff != "" {
		t.Errorf("positional order mismatch (-want +got):\n%s", diff)
	}

	got, err = BindArguments(map[string]any{"width": 1, "depth": 3}, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]any{1, nil}, got); diff != "" {
		t.Errorf("missing name should bind nil (-want +got):\n%s", diff)
	}

	_, err = BindArguments(map[string]any{"width": 1}, sig)
	if _, ok := err.(*apierrors.ArgumentCountError); !ok {
		t.Fatalf("expected ArgumentCountError, got %T (%v)", err, err)
	}

	if args, err := BindArguments(nil, Signature{}); err != nil || len(args) != 0 {
		t.Errorf("empty binding = %v, %v", args, err)
	}
}

func TestBuild(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cat := Build(mustListing(t), BuildOptions{
		DenyDomains: DefaultDenyDomains,
		Generator:   naming.NewGenerator(),
		Reserved:    []string{"listMBeans"},
		Now:         func() time.Time { return fixed },
	})

	var names []string
	for _, tool := range cat.Tools() {
		names = append(names, tool.Name)
	}
	want := []string{
		"javalang-Memory-gc",
		"javalang-Threading-dumpAllThreads-1",
		"javalang-Threading-dumpAllThreads-2",
		"jolokia-123456-jvm-Config-debugInfo",
		"test-abc-Memory-gc",
		"test-abc-Memory-g1",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("tool names mismatch (-want +got):\n%s", diff)
	}

	if cat.Resources() != 5 {
		t.Errorf("Resources() = %d, want 5", cat.Resources())
	}
	if !cat.BuiltAt().Equal(fixed) {
		t.Errorf("BuiltAt() = %v", cat.BuiltAt())
	}

	tool, ok := cat.Tool("javalang-Threading-dumpAllThreads-2")
	if !ok {
		t.Fatal("overload tool not found")
	}
	if tool.Operation.DisplayName != "dumpAllThreads(boolean,boolean,int)" {
		t.Errorf("DisplayName = %q", tool.Operation.DisplayName)
	}
	if tool.Target.String() != "java.lang:type=Threading" {
		t.Errorf("Target = %q", tool.Target.String())
	}

	if _, ok := cat.Tool("JMImplementation-MBeanServerDelegate-noop"); ok {
		t.Error("denylisted domain leaked into the catalog")
	}

	overloads := cat.Overloads(jmx.MustParseObjectName("java.lang:type=Threading"), "dumpAllThreads")
	if len(overloads) != 2 {
		t.Errorf("Overloads() = %d entries, want 2", len(overloads))
	}
	if _, ok := cat.Attribute(jmx.MustParseObjectName("java.lang:type=Memory"), "Verbose"); !ok {
		t.Error("Verbose attribute missing from lookup table")
	}
}

func TestBuild_DenyObjectNames(t *testing.T) {
	cat := Build(mustListing(t), BuildOptions{
		DenyDomains:     DefaultDenyDomains,
		DenyObjectNames: []string{"jolokia:type=Config,agent=123456-jvm"},
	})
	if _, ok := cat.Tool("jolokia-123456-jvm-Config-debugInfo"); ok {
		t.Error("denylisted object name should be excluded regardless of property order")
	}
}

func TestBuild_ETagStable(t *testing.T) {
	a := Build(mustListing(t), BuildOptions{DenyDomains: DefaultDenyDomains})
	b := Build(mustListing(t), BuildOptions{DenyDomains: DefaultDenyDomains})
	if a.ETag() == "" || a.ETag() != b.ETag() {
		t.Errorf("ETag should be stable: %q vs %q", a.ETag(), b.ETag())
	}
	c := Build(mustListing(t), BuildOptions{})
	if c.ETag() == a.ETag() {
		t.Error("different tool sets should not share an ETag")
	}
}

func TestBuild_NilListing(t *testing.T) {
	cat := Build(nil, BuildOptions{})
	if cat.Len() != 0 {
		t.Errorf("Len() = %d", cat.Len())
	}
	if Empty().Len() != 0 {
		t.Error("Empty() should have no tools")
	}
}
