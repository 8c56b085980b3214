// Package jmx models the management namespace exposed by a Jolokia agent: object
// names, the MBean listing, requests and the backend contract.
package jmx

import (
	"sort"
	"strings"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
)

// Property is one key=value pair of an object name.
type Property struct {
	Key   string
	Value string
}

// ObjectName identifies a managed resource: a domain plus an ordered property list.
// Two names with the same properties in a different order denote the same resource.
type ObjectName struct {
	Domain     string
	Properties []Property
}

// ParseObjectName parses "domain:key=value,...". Quoted values may contain ',', '=',
// ':' and backslash escapes; quotes are kept in the value.
func ParseObjectName(s string) (ObjectName, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 {
		return ObjectName{}, apierrors.NewValidationError("mbean", s, "object name needs a domain followed by ':'")
	}
	name := ObjectName{Domain: s[:idx]}
	props, problem := parseProperties(s[idx+1:])
	if problem != "" {
		return ObjectName{}, apierrors.NewValidationError("mbean", s, problem)
	}
	name.Properties = props
	return name, nil
}

// MustParseObjectName is ParseObjectName for literals known to be valid.
func MustParseObjectName(s string) ObjectName {
	name, err := ParseObjectName(s)
	if err != nil {
		panic(err)
	}
	return name
}

// ParseProperties parses a key property list in its given order.
func ParseProperties(list string) ([]Property, error) {
	props, problem := parseProperties(list)
	if problem != "" {
		return nil, apierrors.NewValidationError("properties", list, problem)
	}
	return props, nil
}

func parseProperties(list string) ([]Property, string) {
	if list == "" {
		return nil, "key property list is empty"
	}
	var (
		props   []Property
		seen    = map[string]bool{}
		start   int
		inQuote bool
	)
	for i := 0; i <= len(list); i++ {
		if i < len(list) {
			c := list[i]
			if inQuote {
				switch c {
				case '\\':
					i++
				case '"':
					inQuote = false
				}
				continue
			}
			if c == '"' {
				inQuote = true
				continue
			}
			if c != ',' {
				continue
			}
		} else if inQuote {
			return nil, "unterminated quoted value"
		}
		pair := list[start:i]
		start = i + 1
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return nil, "property " + pair + " is not key=value"
		}
		key := pair[:eq]
		if seen[key] {
			return nil, "duplicate key " + key
		}
		seen[key] = true
		props = append(props, Property{Key: key, Value: pair[eq+1:]})
	}
	if inQuote {
		return nil, "unterminated quoted value"
	}
	return props, ""
}

// PropertyList renders the properties in their given order.
func (o ObjectName) PropertyList() string {
	parts := make([]string, len(o.Properties))
	for i, p := range o.Properties {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, ",")
}

// String renders the name in its given order.
func (o ObjectName) String() string {
	return o.Domain + ":" + o.PropertyList()
}

// Canonical renders the name with properties sorted by key.
func (o ObjectName) Canonical() string {
	sorted := o.SortedProperties()
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = p.Key + "=" + p.Value
	}
	return o.Domain + ":" + strings.Join(parts, ",")
}

// SortedProperties returns a copy of the properties sorted by key.
func (o ObjectName) SortedProperties() []Property {
	sorted := make([]Property, len(o.Properties))
	copy(sorted, o.Properties)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return sorted
}

// Property returns the value for key.
func (o ObjectName) Property(key string) (string, bool) {
	for _, p := range o.Properties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Equal compares identities, ignoring property order.
func (o ObjectName) Equal(other ObjectName) bool {
	return o.Canonical() == other.Canonical()
}

// IsZero reports whether the name is unset.
func (o ObjectName) IsZero() bool {
	return o.Domain == "" && len(o.Properties) == 0
}
