// Package pathcodec encodes object names into Jolokia GET request paths and
// decodes such paths back into segments.
//
// Within a segment '!' escapes the next character: "!!" is a literal '!' and
// "!/" is a '/' that does not separate segments.
package pathcodec

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/olgasafonova/jolokia-mcp-server/internal/jmx"
)

// NullValue and EmptyString are the path spellings of null and "".
const (
	NullValue   = "[null]"
	EmptyString = `""`
)

var escaper = strings.NewReplacer("!", "!!", "/", "!/")

// Escape protects '!' and '/' inside one path segment.
func Escape(s string) string {
	return escaper.Replace(s)
}

// EncodeObjectName escapes "domain:props" and turns the domain separator into a
// path separator, giving the list path of the MBean.
func EncodeObjectName(name string) string {
	return strings.Replace(Escape(name), ":", "/", 1)
}

// EncodeResourcePath is EncodeObjectName for an already split identifier.
func EncodeResourcePath(domain string, props []jmx.Property) string {
	return EncodeObjectName(jmx.ObjectName{Domain: domain, Properties: props}.String())
}

// EncodeActionPath joins an action verb, an encoded resource path and any
// already-escaped trailing segments.
func EncodeActionPath(action, resourcePath string, extra ...string) string {
	parts := make([]string, 0, 2+len(extra))
	parts = append(parts, action)
	if resourcePath != "" {
		parts = append(parts, resourcePath)
	}
	parts = append(parts, extra...)
	return strings.Join(parts, "/")
}

// EscapeArgument renders a scalar operation argument or attribute value as a path
// segment. ok is false for values that need a JSON body instead.
func EscapeArgument(v any) (segment string, ok bool) {
	switch val := v.(type) {
	case nil:
		return NullValue, true
	case string:
		if val == "" {
			return EmptyString, true
		}
		return Escape(val), true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			s, ok := EscapeArgument(item)
			if !ok || strings.Contains(s, ",") {
				return "", false
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), true
	default:
		return "", false
	}
}

// DecodeArgument reverses the null and empty-string spellings of a decoded segment.
func DecodeArgument(segment string) any {
	switch segment {
	case NullValue:
		return nil
	case EmptyString:
		return ""
	default:
		return segment
	}
}

// SplitPath splits a request path on unescaped '/' and unescapes every segment.
// A leading and a trailing separator are ignored.
func SplitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	var (
		segments   []string
		cur        strings.Builder
		afterSlash bool
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		afterSlash = false
		switch {
		case c == '!' && i+1 < len(path):
			i++
			cur.WriteByte(path[i])
		case c == '/':
			segments = append(segments, cur.String())
			cur.Reset()
			afterSlash = true
		default:
			cur.WriteByte(c)
		}
	}
	if !afterSlash {
		segments = append(segments, cur.String())
	}
	return segments
}

var pathPrefix = regexp.MustCompile(`^/?[^/]+/`)

// RecoverPathInfo restores an escaped "!//" that path normalisation collapsed. When
// the raw URI contains "!//", the part of the raw URI from the first segment of
// pathInfo onwards is decoded and used instead of pathInfo.
func RecoverPathInfo(rawURI, pathInfo string) string {
	if !strings.Contains(rawURI, "!//") {
		return pathInfo
	}
	prefix := pathPrefix.FindString(pathInfo)
	if prefix == "" {
		return pathInfo
	}
	idx := strings.Index(rawURI, prefix)
	if idx < 0 {
		return pathInfo
	}
	decoded, err := url.QueryUnescape(rawURI[idx:])
	if err != nil {
		return pathInfo
	}
	return decoded
}
