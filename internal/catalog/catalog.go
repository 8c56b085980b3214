// Package catalog turns one MBean listing into an immutable set of named tools,
// one per (MBean, operation, overload), plus lookup tables for plain calls.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
	"github.com/olgasafonova/jolokia-mcp-server/internal/naming"
)

// DefaultDenyDomains are left out of the catalog: they are either internal to the
// JVM or expose operations that make no sense as tools.
var DefaultDenyDomains = []string{
	"java.util.logging",
	"JMImplementation",
	"jdk.management.jfr",
	"com.sun.management",
	"org.apache.logging.log4j2",
	"java.nio",
}

// Signature is one operation overload ready to be exposed.
type Signature struct {
	Name string
	// OverloadIndex is 0 for a unique name and 1..N for overloads in listing order.
	OverloadIndex int
	// DisplayName is name(type1,type2) for overloads and the bare name otherwise.
	DisplayName string
	Params      []jmx.ParameterInfo
	Return      string
	Description string
}

// ParamTypes lists the declared parameter types in order.
func (s Signature) ParamTypes() []string {
	types := make([]string, len(s.Params))
	for i, p := range s.Params {
		types[i] = p.Type
	}
	return types
}

// ResolveOverloads assigns overload indexes and display names to every signature
// published under name.
func ResolveOverloads(resource jmx.ObjectName, name string, sigs []jmx.OperationInfo) []Signature {
	out := make([]Signature, len(sigs))
	for i, sig := range sigs {
		s := Signature{
			Name:        name,
			DisplayName: name,
			Params:      sig.Args,
			Return:      sig.Return,
		}
		if len(sigs) > 1 {
			s.OverloadIndex = i + 1
			s.DisplayName = name + "(" + strings.Join(s.ParamTypes(), ",") + ")"
		}
		s.Description = resource.String() + "/" + s.DisplayName + ": " + sig.Description
		out[i] = s
	}
	return out
}

// BindArguments orders named arguments by the signature's parameters. The number
// of arguments must match; a name that is not supplied binds to nil.
func BindArguments(named map[string]any, sig Signature) ([]any, error) {
	if len(named) != len(sig.Params) {
		return nil, apierrors.NewArgumentCountError(sig.DisplayName, len(sig.Params), len(named))
	}
	args := make([]any, len(sig.Params))
	for i, p := range sig.Params {
		args[i] = named[p.Name]
	}
	return args, nil
}

// Tool is one generated tool.
type Tool struct {
	Name        string
	Description string
	Target      jmx.ObjectName
	Operation   Signature
}

// MemberKind distinguishes attribute and operation lookups.
type MemberKind int

const (
	MemberAttribute MemberKind = iota
	MemberOperation
)

type memberKey struct {
	resource string
	kind     MemberKind
	name     string
}

// Catalog is immutable once built and safe for concurrent readers.
type Catalog struct {
	tools      []*Tool
	byName     map[string]*Tool
	operations map[memberKey][]Signature
	attributes map[memberKey]jmx.AttributeInfo
	resources  int
	builtAt    time.Time
	etag       string
}

// Empty returns a catalog with no tools.
func Empty() *Catalog {
	return &Catalog{
		byName:     map[string]*Tool{},
		operations: map[memberKey][]Signature{},
		attributes: map[memberKey]jmx.AttributeInfo{},
	}
}

// Tools returns the tools in build order.
func (c *Catalog) Tools() []*Tool {
	out := make([]*Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Tool looks a tool up by name.
func (c *Catalog) Tool(name string) (*Tool, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// Resources returns the number of MBeans walked.
func (c *Catalog) Resources() int {
	return c.resources
}

// Overloads returns every signature of operation on resource.
func (c *Catalog) Overloads(resource jmx.ObjectName, operation string) []Signature {
	return c.operations[memberKey{resource.Canonical(), MemberOperation, operation}]
}

// Attribute returns the listed attribute of resource.
func (c *Catalog) Attribute(resource jmx.ObjectName, name string) (jmx.AttributeInfo, bool) {
	a, ok := c.attributes[memberKey{resource.Canonical(), MemberAttribute, name}]
	return a, ok
}

// BuiltAt returns when the catalog was built.
func (c *Catalog) BuiltAt() time.Time {
	return c.builtAt
}

// ETag fingerprints the tool names and descriptions.
func (c *Catalog) ETag() string {
	return c.etag
}

// BuildOptions configures Build.
type BuildOptions struct {
	DenyDomains     []string
	DenyObjectNames []string
	Generator       *naming.Generator
	// Reserved names are never generated (e.g. the static tool names).
	Reserved []string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Build walks listing once, domain by domain, and returns the published catalog.
// MBeans whose names do not parse are skipped.
func Build(listing *jmx.Listing, opts BuildOptions) *Catalog {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gen := opts.Generator
	if gen == nil {
		gen = naming.NewGenerator()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	denyDomains := toSet(opts.DenyDomains)
	denyNames := make(map[string]struct{}, len(opts.DenyObjectNames))
	for _, n := range opts.DenyObjectNames {
		if on, err := jmx.ParseObjectName(n); err == nil {
			n = on.Canonical()
		}
		denyNames[n] = struct{}{}
	}

	existing := naming.NameSet{}
	for _, r := range opts.Reserved {
		existing.Add(r)
	}

	c := Empty()
	if listing == nil {
		c.builtAt = now()
		c.etag = c.fingerprint()
		return c
	}
	for _, domain := range listing.Domains {
		if _, denied := denyDomains[domain.Name]; denied {
			logger.Debug("Skipping denylisted domain", "domain", domain.Name)
			continue
		}
		for _, mbean := range domain.MBeans {
			resource, err := mbean.ObjectName(domain.Name)
			if err != nil {
				logger.Warn("Skipping MBean with unparseable name",
					"domain", domain.Name,
					"properties", mbean.Properties,
					"error", err,
				)
				continue
			}
			canonical := resource.Canonical()
			if _, denied := denyNames[canonical]; denied {
				logger.Debug("Skipping denylisted MBean", "mbean", canonical)
				continue
			}
			c.resources++
			for _, attr := range mbean.Attributes {
				c.attributes[memberKey{canonical, MemberAttribute, attr.Name}] = attr
			}
			for _, group := range mbean.Operations {
				sigs := ResolveOverloads(resource, group.Name, group.Signatures)
				c.operations[memberKey{canonical, MemberOperation, group.Name}] = sigs
				for _, sig := range sigs {
					name := gen.Generate(resource, sig.Name, sig.OverloadIndex, existing)
					existing.Add(name)
					tool := &Tool{
						Name:        name,
						Description: sig.Description,
						Target:      resource,
						Operation:   sig,
					}
					c.tools = append(c.tools, tool)
					c.byName[name] = tool
				}
			}
		}
	}
	c.builtAt = now()
	c.etag = c.fingerprint()
	logger.Debug("Catalog built", "resources", c.resources, "tools", len(c.tools))
	return c
}

func (c *Catalog) fingerprint() string {
	h := sha256.New()
	for _, t := range c.tools {
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		h.Write([]byte(t.Description))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
