package jmx

import (
	"errors"

	"github.com/tidwall/gjson"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
)

var (
	errInvalidJSON = errors.New("invalid JSON")
	errNotObject   = errors.New("list value is not an object")
)

// Listing is the discovered namespace in backend order.
type Listing struct {
	Domains []Domain
}

// Domain groups the MBeans registered under one domain.
type Domain struct {
	Name   string
	MBeans []MBeanInfo
}

// MBeanInfo describes one MBean as reported by the backend.
type MBeanInfo struct {
	// Properties is the key property list exactly as listed.
	Properties  string
	Description string
	Class       string
	Attributes  []AttributeInfo
	Operations  []OperationGroup
}

// AttributeInfo describes one attribute.
type AttributeInfo struct {
	Name        string `json:"-"`
	Type        string `json:"type"`
	Description string `json:"desc"`
	ReadWrite   bool   `json:"rw"`
}

// OperationGroup holds every signature published under one operation name, in
// backend order.
type OperationGroup struct {
	Name       string
	Signatures []OperationInfo
}

// OperationInfo is one operation signature.
type OperationInfo struct {
	Args        []ParameterInfo `json:"args"`
	Return      string          `json:"ret"`
	Description string          `json:"desc"`
}

// ParameterInfo describes one operation parameter.
type ParameterInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"desc"`
}

// ParseListing decodes a Jolokia list value: domain -> property list -> MBean info.
// Object key order is preserved.
func ParseListing(data []byte) (*Listing, error) {
	if !gjson.ValidBytes(data) {
		return nil, apierrors.NewIOError("decode listing", errInvalidJSON)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, apierrors.NewIOError("decode listing", errNotObject)
	}
	listing := &Listing{}
	root.ForEach(func(domain, mbeans gjson.Result) bool {
		d := Domain{Name: domain.String()}
		mbeans.ForEach(func(props, info gjson.Result) bool {
			d.MBeans = append(d.MBeans, ParseMBeanInfo(props.String(), info))
			return true
		})
		listing.Domains = append(listing.Domains, d)
		return true
	})
	return listing, nil
}

// ParseMBeanInfo decodes a single MBean entry of a list value.
func ParseMBeanInfo(properties string, info gjson.Result) MBeanInfo {
	m := MBeanInfo{
		Properties:  properties,
		Description: info.Get("desc").String(),
		Class:       info.Get("class").String(),
	}
	info.Get("attr").ForEach(func(name, attr gjson.Result) bool {
		m.Attributes = append(m.Attributes, AttributeInfo{
			Name:        name.String(),
			Type:        attr.Get("type").String(),
			Description: attr.Get("desc").String(),
			ReadWrite:   attr.Get("rw").Bool(),
		})
		return true
	})
	info.Get("op").ForEach(func(name, op gjson.Result) bool {
		group := OperationGroup{Name: name.String()}
		if op.IsArray() {
			op.ForEach(func(_, sig gjson.Result) bool {
				group.Signatures = append(group.Signatures, parseOperation(sig))
				return true
			})
		} else {
			group.Signatures = append(group.Signatures, parseOperation(op))
		}
		m.Operations = append(m.Operations, group)
		return true
	})
	return m
}

func parseOperation(op gjson.Result) OperationInfo {
	info := OperationInfo{
		Return:      op.Get("ret").String(),
		Description: op.Get("desc").String(),
		Args:        []ParameterInfo{},
	}
	op.Get("args").ForEach(func(_, arg gjson.Result) bool {
		info.Args = append(info.Args, ParameterInfo{
			Name:        arg.Get("name").String(),
			Type:        arg.Get("type").String(),
			Description: arg.Get("desc").String(),
		})
		return true
	})
	return info
}

// ObjectName parses the MBean's full name within domain.
func (m MBeanInfo) ObjectName(domain string) (ObjectName, error) {
	return ParseObjectName(domain + ":" + m.Properties)
}

// Operation returns the group for name.
func (m MBeanInfo) Operation(name string) (OperationGroup, bool) {
	for _, op := range m.Operations {
		if op.Name == name {
			return op, true
		}
	}
	return OperationGroup{}, false
}

// Attribute returns the attribute called name.
func (m MBeanInfo) Attribute(name string) (AttributeInfo, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeInfo{}, false
}

// AttributeMap renders attributes the way Jolokia lists them.
func (m MBeanInfo) AttributeMap() map[string]AttributeInfo {
	out := make(map[string]AttributeInfo, len(m.Attributes))
	for _, a := range m.Attributes {
		out[a.Name] = a
	}
	return out
}

// OperationMap renders operations the way Jolokia lists them: a single signature
// as an object, overloads as an array.
func (m MBeanInfo) OperationMap() map[string]any {
	out := make(map[string]any, len(m.Operations))
	for _, op := range m.Operations {
		if len(op.Signatures) == 1 {
			out[op.Name] = op.Signatures[0]
		} else {
			out[op.Name] = op.Signatures
		}
	}
	return out
}

// Value renders the MBean info as a Jolokia list value.
func (m MBeanInfo) Value() map[string]any {
	v := map[string]any{"desc": m.Description}
	if m.Class != "" {
		v["class"] = m.Class
	}
	if len(m.Attributes) > 0 {
		v["attr"] = m.AttributeMap()
	}
	if len(m.Operations) > 0 {
		v["op"] = m.OperationMap()
	}
	return v
}

// Value renders the listing as a Jolokia list value.
func (l *Listing) Value() map[string]any {
	out := make(map[string]any, len(l.Domains))
	for _, d := range l.Domains {
		mbeans := make(map[string]any, len(d.MBeans))
		for _, m := range d.MBeans {
			mbeans[m.Properties] = m.Value()
		}
		out[d.Name] = mbeans
	}
	return out
}

// Names returns "domain:properties" for every MBean in listing order.
func (l *Listing) Names() []string {
	var names []string
	for _, d := range l.Domains {
		for _, m := range d.MBeans {
			names = append(names, d.Name+":"+m.Properties)
		}
	}
	return names
}

// Find returns the MBean identified by name, ignoring property order.
func (l *Listing) Find(name ObjectName) (MBeanInfo, bool) {
	want := name.Canonical()
	for _, d := range l.Domains {
		if d.Name != name.Domain {
			continue
		}
		for _, m := range d.MBeans {
			on, err := m.ObjectName(d.Name)
			if err == nil && on.Canonical() == want {
				return m, true
			}
		}
	}
	return MBeanInfo{}, false
}

// Domain returns the domain called name.
func (l *Listing) Domain(name string) (Domain, bool) {
	for _, d := range l.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// Count returns the number of MBeans.
func (l *Listing) Count() int {
	n := 0
	for _, d := range l.Domains {
		n += len(d.MBeans)
	}
	return n
}
