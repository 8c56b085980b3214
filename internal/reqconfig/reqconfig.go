// Package reqconfig validates per-request processing parameters and merges in the
// process-wide defaults.
package reqconfig

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	apierrors "github.com/olgasafonova/jolokia-mcp-server/internal/errors"
)

// Recognised request parameter keys.
const (
	KeyCallback           = "callback"
	KeyCanonicalNaming    = "canonicalNaming"
	KeyIfModifiedSince    = "ifModifiedSince"
	KeyIgnoreErrors       = "ignoreErrors"
	KeyIncludeRequest     = "includeRequest"
	KeyIncludeStackTrace  = "includeStackTrace"
	KeyListCache          = "listCache"
	KeyListKeys           = "listKeys"
	KeyMaxCollectionSize  = "maxCollectionSize"
	KeyMaxDepth           = "maxDepth"
	KeyMaxObjects         = "maxObjects"
	KeyMimeType           = "mimeType"
	KeyPath               = "p"
	KeyPrettyPrint        = "prettyPrint"
	KeySerializeException = "serializeException"
	KeySerializeLong      = "serializeLong"
)

// StackTraceRuntime is the includeStackTrace value that limits traces to runtime failures.
const StackTraceRuntime = "runtime"

type valueType int

const (
	typeAny valueType = iota
	typeBool
	typeInt
	typeString
)

type keySpec struct {
	kind    valueType
	allowed []string
}

var keys = map[string]keySpec{
	KeyCallback:           {kind: typeString},
	KeyCanonicalNaming:    {kind: typeBool},
	KeyIfModifiedSince:    {kind: typeInt},
	KeyIgnoreErrors:       {kind: typeBool},
	KeyIncludeRequest:     {kind: typeBool},
	KeyIncludeStackTrace:  {kind: typeString, allowed: []string{"true", "false", StackTraceRuntime}},
	KeyListCache:          {kind: typeBool},
	KeyListKeys:           {kind: typeBool},
	KeyMaxCollectionSize:  {kind: typeInt},
	KeyMaxDepth:           {kind: typeInt},
	KeyMaxObjects:         {kind: typeInt},
	KeyMimeType:           {kind: typeString, allowed: []string{"application/json", "text/javascript", "text/plain"}},
	KeyPath:               {kind: typeAny},
	KeyPrettyPrint:        {kind: typeBool},
	KeySerializeException: {kind: typeBool},
	KeySerializeLong:      {kind: typeString, allowed: []string{"number", "string"}},
}

var (
	enabledValues  = []string{"true", "yes", "on", "1"}
	disabledValues = []string{"false", "no", "off", "0"}
)

// IsRecognized reports whether key is a known request parameter.
func IsRecognized(key string) bool {
	_, ok := keys[key]
	return ok
}

// Keys returns the recognised request parameter keys, sorted.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsEnabled reports whether v is one of the accepted "on" spellings.
func IsEnabled(v string) bool {
	return contains(enabledValues, normalize(v))
}

// IsDisabled reports whether v is one of the accepted "off" spellings.
func IsDisabled(v string) bool {
	return contains(disabledValues, normalize(v))
}

// Defaults holds process-wide request parameter defaults.
type Defaults map[string]string

// Config is a validated, immutable set of request parameters.
type Config struct {
	values map[string]string
}

// Get returns the raw value for key.
func (c Config) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Bool returns true when key holds an enabled value.
func (c Config) Bool(key string) bool {
	v, ok := c.values[key]
	return ok && IsEnabled(v)
}

// Int returns key parsed as an integer.
func (c Config) Int(key string) (int, bool) {
	v, ok := c.values[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Values returns a copy of all parameters.
func (c Config) Values() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Len returns the number of parameters.
func (c Config) Len() int {
	return len(c.values)
}

// Validate checks every recognised key in raw and fills unset recognised keys from
// defaults. Unknown keys pass through untouched. Defaults are trusted as-is.
func Validate(raw map[string]string, defaults Defaults) (Config, error) {
	values := make(map[string]string, len(raw)+len(defaults))
	for k, v := range raw {
		if err := checkValue(k, v); err != nil {
			return Config{}, err
		}
		values[k] = v
	}
	for k, v := range defaults {
		if !IsRecognized(k) {
			continue
		}
		if _, set := values[k]; !set {
			values[k] = v
		}
	}
	return Config{values: values}, nil
}

// ValidateDefaults checks configured defaults once at startup.
func ValidateDefaults(defaults Defaults) error {
	for k, v := range defaults {
		if !IsRecognized(k) {
			return apierrors.NewValidationError(k, v, "unknown request parameter")
		}
		if err := checkValue(k, v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(key, value string) error {
	spec, ok := keys[key]
	if !ok {
		return nil
	}
	v := normalize(value)
	valid := true
	switch spec.kind {
	case typeBool:
		valid = contains(enabledValues, v) || contains(disabledValues, v)
	case typeInt:
		_, err := strconv.Atoi(v)
		valid = err == nil
	case typeString:
		if len(spec.allowed) > 0 {
			valid = contains(spec.allowed, v)
		}
	}
	if !valid {
		return apierrors.NewValidationError(key, value, fmt.Sprintf("Invalid value of %s parameter", key))
	}
	return nil
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
