// Package naming derives short, unique, MCP-safe tool names for MBean operations.
package naming

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
)

const (
	// MaxNameLength is the longest tool name generated.
	MaxNameLength = 64
	// DefaultStripPrefix is removed from domains before shortening.
	DefaultStripPrefix = "org.apache."

	maxValueLength   = 20
	maxPropertyParts = 2
	maxSpecialParts  = 2
	valueSeparator   = "-"
)

// DefaultSpecialKeys are the property keys whose values best identify an MBean.
var DefaultSpecialKeys = []string{"type", "name", "context", "component", "agent"}

var (
	invalidRun   = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	invalidValue = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// NameSet is the set of names already taken.
type NameSet map[string]struct{}

// Has reports whether name is taken.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add marks name as taken.
func (s NameSet) Add(name string) {
	s[name] = struct{}{}
}

// Generator turns (MBean, operation, overload) into a tool name.
type Generator struct {
	stripPrefix string
	special     map[string]struct{}
}

// Option configures a Generator.
type Option func(*Generator)

// WithStripPrefix replaces DefaultStripPrefix.
func WithStripPrefix(prefix string) Option {
	return func(g *Generator) {
		g.stripPrefix = prefix
	}
}

// WithSpecialKeys replaces DefaultSpecialKeys.
func WithSpecialKeys(keys ...string) Option {
	return func(g *Generator) {
		g.special = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			g.special[k] = struct{}{}
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{stripPrefix: DefaultStripPrefix}
	WithSpecialKeys(DefaultSpecialKeys...)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ShortDomain drops the configured prefix and every '.'.
func (g *Generator) ShortDomain(domain string) string {
	if g.stripPrefix != "" {
		domain = strings.TrimPrefix(domain, g.stripPrefix)
	}
	return strings.ReplaceAll(domain, ".", "")
}

// ShortProperties picks at most two property values: special keys first, then the
// rest, each group in key order. Values are sanitised and cut to 20 characters.
func (g *Generator) ShortProperties(props []jmx.Property) string {
	sorted := make([]jmx.Property, len(props))
	copy(sorted, props)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var picked []string
	specials := 0
	for _, p := range sorted {
		if specials == maxSpecialParts {
			break
		}
		if _, ok := g.special[p.Key]; !ok {
			continue
		}
		specials++
		if v := shortValue(p.Value); v != "" {
			picked = append(picked, v)
		}
	}
	for _, p := range sorted {
		if len(picked) >= maxPropertyParts {
			break
		}
		if _, ok := g.special[p.Key]; ok {
			continue
		}
		if v := shortValue(p.Value); v != "" {
			picked = append(picked, v)
		}
	}
	return strings.Join(picked, valueSeparator)
}

func shortValue(v string) string {
	v = invalidValue.ReplaceAllString(v, "")
	if len(v) > maxValueLength {
		v = v[:maxValueLength]
	}
	return v
}

// Candidate builds the name before collision handling.
func (g *Generator) Candidate(resource jmx.ObjectName, operation string, overloadIndex int) string {
	name := g.ShortDomain(resource.Domain) + "-" + g.ShortProperties(resource.Properties) + "-" + operation
	if overloadIndex > 0 {
		name += "-" + strconv.Itoa(overloadIndex)
	}
	name = Sanitize(name)
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength-1]
	}
	return name
}

// Generate returns a name not present in existing. existing is not modified.
func (g *Generator) Generate(resource jmx.ObjectName, operation string, overloadIndex int, existing NameSet) string {
	return Dedupe(g.Candidate(resource, operation, overloadIndex), existing)
}

// Sanitize replaces every run of characters outside [A-Za-z0-9_-] with '_'.
func Sanitize(name string) string {
	return invalidRun.ReplaceAllString(name, "_")
}

// Dedupe returns candidate unchanged when it is free. Otherwise the tail of
// candidate is overwritten with 1, 2, 3... until a free name appears, keeping the
// length of candidate.
func Dedupe(candidate string, existing NameSet) string {
	if !existing.Has(candidate) {
		return candidate
	}
	for n := 1; ; n++ {
		suffix := strconv.Itoa(n)
		cut := len(candidate) - len(suffix)
		if cut < 0 {
			cut = 0
		}
		name := candidate[:cut] + suffix
		if !existing.Has(name) {
			return name
		}
	}
}
