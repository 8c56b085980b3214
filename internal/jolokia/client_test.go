package jolokia

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
	"github.com/olgasafonova/jolokia-mcp-server/internal/pathcodec"
	"github.com/olgasafonova/jolokia-mcp-server/internal/reqconfig"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

// newAgent starts a fake agent answering every request with answer.
func newAgent(t *testing.T, status int, answer string) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{r.Method, r.URL.Path, r.URL.RawQuery, string(body)})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(answer))
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL + "/jolokia/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &calls
}

func TestNew_InvalidURL(t *testing.T) {
	tests := []string{"", "ftp://host/jolokia", "http://", "::bad"}
	for _, u := range tests {
		t.Run(u, func(t *testing.T) {
			if _, err := New(u); !apierrors.IsValidation(err) {
				t.Errorf("New(%q) error = %v, want validation error", u, err)
			}
		})
	}
}

func TestClient_Read(t *testing.T) {
	c, calls := newAgent(t, http.StatusOK, `{"request":{"type":"read"},"value":{"used":42,"max":100},"status":200}`)

	req := &jmx.Request{Type: jmx.TypeRead, MBean: `test:name="a/b/c",type=Memory`, Attribute: "Value"}
	got, err := c.Read(context.Background(), req)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["used"] != json.Number("42") {
		t.Errorf("Read value = %#v", got)
	}

	if len(*calls) != 1 {
		t.Fatalf("calls = %d", len(*calls))
	}
	call := (*calls)[0]
	if call.method != http.MethodGet {
		t.Errorf("method = %s", call.method)
	}
	if want := `/jolokia/read/test:name="a!/b!/c",type=Memory/Value`; call.path != want {
		t.Errorf("path = %q, want %q", call.path, want)
	}
}

func TestClient_ForwardsRequestConfig(t *testing.T) {
	c, calls := newAgent(t, http.StatusOK, `{"value":1,"status":200}`)

	cfg, err := reqconfig.Validate(map[string]string{reqconfig.KeyMaxDepth: "3"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	req := &jmx.Request{Type: jmx.TypeRead, MBean: "java.lang:type=Memory", Attribute: "HeapMemoryUsage", Config: cfg}
	if _, err := c.Read(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if (*calls)[0].query != "maxDepth=3" {
		t.Errorf("query = %q", (*calls)[0].query)
	}
}

func TestClient_ExecGetAndPost(t *testing.T) {
	c, calls := newAgent(t, http.StatusOK, `{"value":"ok","status":200}`)
	ctx := context.Background()

	scalar := &jmx.Request{Type: jmx.TypeExec, MBean: "java.lang:type=Threading",
		Operation: "dumpAllThreads(boolean,boolean)", Arguments: []any{true, false}}
	if _, err := c.Exec(ctx, scalar); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	structured := &jmx.Request{Type: jmx.TypeExec, MBean: "java.lang:type=Threading",
		Operation: "getThreadInfo", Arguments: []any{map[string]any{"id": 1}}}
	if _, err := c.Exec(ctx, structured); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	get, post := (*calls)[0], (*calls)[1]
	if get.method != http.MethodGet || get.path != "/jolokia/exec/java.lang:type=Threading/dumpAllThreads(boolean,boolean)/true/false" {
		t.Errorf("GET call = %+v", get)
	}
	if post.method != http.MethodPost || post.path != "/jolokia/" {
		t.Errorf("POST call = %+v", post)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(post.body), &body); err != nil {
		t.Fatalf("POST body: %v", err)
	}
	if body["type"] != "exec" || body["operation"] != "getThreadInfo" {
		t.Errorf("POST body = %v", body)
	}
}

func TestClient_Write(t *testing.T) {
	c, calls := newAgent(t, http.StatusOK, `{"value":false,"status":200}`)

	old, err := c.Write(context.Background(), &jmx.Request{Type: jmx.TypeWrite,
		MBean: "java.lang:type=Memory", Attribute: "Verbose", Value: true})
	if err != nil {
		t.Fatal(err)
	}
	if old != false {
		t.Errorf("previous value = %v", old)
	}
	if (*calls)[0].path != "/jolokia/write/java.lang:type=Memory/Verbose/true" {
		t.Errorf("path = %q", (*calls)[0].path)
	}

	_, err = c.Write(context.Background(), &jmx.Request{Type: jmx.TypeWrite,
		MBean: "test:type=Map", Attribute: "Entries", Value: map[string]any{"a": 1}})
	if err != nil {
		t.Fatal(err)
	}
	if (*calls)[1].method != http.MethodPost {
		t.Errorf("structured value should be POSTed, got %s", (*calls)[1].method)
	}
}

func TestClient_ListAll(t *testing.T) {
	answer := `{"value":{"java.lang":{"type=Memory":{"desc":"mem","op":{"gc":{"args":[],"ret":"void","desc":"gc"}}}}},"status":200}`
	c, calls := newAgent(t, http.StatusOK, answer)

	listing, err := c.List(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if listing.Count() != 1 || listing.Domains[0].MBeans[0].Operations[0].Name != "gc" {
		t.Errorf("listing = %+v", listing)
	}
	if (*calls)[0].path != "/jolokia/list" {
		t.Errorf("path = %q", (*calls)[0].path)
	}
}

func TestClient_ListOne(t *testing.T) {
	answer := `{"value":{"desc":"mem","attr":{"Verbose":{"type":"boolean","desc":"v","rw":true}}},"status":200}`
	c, calls := newAgent(t, http.StatusOK, answer)

	listing, err := c.List(context.Background(), &jmx.Request{Type: jmx.TypeList, MBean: "java.lang:type=Memory"})
	if err != nil {
		t.Fatal(err)
	}
	info, ok := listing.Find(jmx.MustParseObjectName("java.lang:type=Memory"))
	if !ok || len(info.Attributes) != 1 {
		t.Errorf("listing = %+v", listing)
	}
	if (*calls)[0].path != "/jolokia/list/java.lang/type=Memory" {
		t.Errorf("path = %q", (*calls)[0].path)
	}
}

// errorAs matches errors of type T that also satisfy match, when given.
func errorAs[T error](match func(T) bool) func(error) bool {
	return func(err error) bool {
		var e T
		return errors.As(err, &e) && (match == nil || match(e))
	}
}

func TestClient_RemoteErrors(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		check     func(error) bool
		wantType  string
		wantStack string
	}{
		{
			name:      "instance not found",
			answer:    `{"status":404,"error_type":"javax.management.InstanceNotFoundException","error":"javax.management.InstanceNotFoundException : java.lang:type=Nope","stacktrace":"at x"}`,
			check:     errorAs(func(e *apierrors.NotFoundError) bool { return e.Kind == apierrors.MemberInstance && e.Error() == "java.lang:type=Nope" }),
			wantType:  "javax.management.InstanceNotFoundException",
			wantStack: "at x",
		},
		{
			name:     "attribute not found",
			answer:   `{"status":404,"error_type":"javax.management.AttributeNotFoundException","error":"javax.management.AttributeNotFoundException : No such attribute: Foo"}`,
			check:    errorAs(func(e *apierrors.NotFoundError) bool { return e.Kind == apierrors.MemberAttribute }),
			wantType: "javax.management.AttributeNotFoundException",
		},
		{
			name:     "illegal argument",
			answer:   `{"status":400,"error_type":"java.lang.IllegalArgumentException","error":"java.lang.IllegalArgumentException : bad"}`,
			check:    errorAs(func(e *apierrors.IllegalArgumentError) bool { return e.Message == "bad" }),
			wantType: "java.lang.IllegalArgumentException",
		},
		{
			name:     "security",
			answer:   `{"status":403,"error_type":"java.lang.SecurityException","error":"java.lang.SecurityException : denied"}`,
			check:    errorAs[*apierrors.AccessDeniedError](nil),
			wantType: "java.lang.SecurityException",
		},
		{
			name:     "unsupported",
			answer:   `{"status":500,"error_type":"java.lang.UnsupportedOperationException","error":"java.lang.UnsupportedOperationException : no"}`,
			check:    errorAs[*apierrors.UnsupportedError](nil),
			wantType: "java.lang.UnsupportedOperationException",
		},
		{
			name:     "remote io",
			answer:   `{"status":500,"error_type":"java.io.IOException","error":"java.io.IOException : disk"}`,
			check:    errorAs[*apierrors.IOError](nil),
			wantType: "java.io.IOException",
		},
		{
			name:     "management",
			answer:   `{"status":500,"error_type":"javax.management.MBeanException","error":"javax.management.MBeanException : boom"}`,
			check:    errorAs[*apierrors.ManagementError](nil),
			wantType: "javax.management.MBeanException",
		},
		{
			name:     "unknown type falls back to status",
			answer:   `{"status":400,"error_type":"com.acme.BadInput","error":"com.acme.BadInput : nope"}`,
			check:    errorAs[*apierrors.IllegalArgumentError](nil),
			wantType: "com.acme.BadInput",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newAgent(t, http.StatusOK, tt.answer)
			_, err := c.Read(context.Background(), &jmx.Request{Type: jmx.TypeRead, MBean: "java.lang:type=Memory", Attribute: "Foo"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error %T: %v", err, err)
			}
			remote, ok := err.(interface {
				RemoteType() string
				StackTrace() string
			})
			if !ok {
				t.Fatalf("%T does not carry remote details", err)
			}
			if remote.RemoteType() != tt.wantType {
				t.Errorf("RemoteType() = %q, want %q", remote.RemoteType(), tt.wantType)
			}
			if tt.wantStack != "" && remote.StackTrace() != tt.wantStack {
				t.Errorf("StackTrace() = %q", remote.StackTrace())
			}
		})
	}
}

func TestClient_HTTPFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"unauthorized html", http.StatusUnauthorized, "<html>denied</html>", errorAs[*apierrors.AccessDeniedError](nil)},
		{"not found empty", http.StatusNotFound, "", apierrors.IsNotFound},
		{"garbage ok", http.StatusOK, "not json", errorAs[*apierrors.IOError](nil)},
		{"missing value", http.StatusOK, `{"status":200}`, errorAs[*apierrors.IOError](nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newAgent(t, tt.status, tt.body)
			_, err := c.Read(context.Background(), &jmx.Request{Type: jmx.TypeRead, MBean: "java.lang:type=Memory", Attribute: "Verbose"})
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error %T: %v", err, err)
			}
		})
	}
}

func TestClient_RetriesReadsOnly(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value":1,"status":200}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Read(context.Background(), &jmx.Request{Type: jmx.TypeRead, MBean: "a:b=c", Attribute: "X"}); err != nil {
		t.Fatalf("read should be retried: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}

	atomic.StoreInt32(&hits, 0)
	_, err = c.Exec(context.Background(), &jmx.Request{Type: jmx.TypeExec, MBean: "a:b=c", Operation: "op"})
	var ioErr *apierrors.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("exec should not be retried, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestEscapeURLPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"empty", "", ""},
		{"space", `read/test/name="a!/b c"/Value`, `read/test/name=%22a!/b%20c%22/Value`},
		{
			"trailing slash in name",
			pathcodec.EncodeActionPath("read", pathcodec.Escape(`test:name="a/",type=x`), "Attr"),
			`read/test:name=%22a!/%22%2Ctype=x/Attr`,
		},
		{
			"name ending in slash",
			pathcodec.EncodeActionPath("read", pathcodec.Escape("d:type=x/"), "Attr"),
			"read/d:type=x!//Attr",
		},
		{"escaped bang", "exec/d:type=x/op/" + pathcodec.Escape("hi!"), "exec/d:type=x/op/hi!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeURLPath(tt.path); got != tt.want {
				t.Errorf("escapeURLPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
