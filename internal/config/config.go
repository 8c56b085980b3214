// Package config loads the process configuration from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/olgasafonova/jolokia-mcp-server/internal/bridge"
	"github.com/olgasafonova/jolokia-mcp-server/internal/catalog"
	"github.com/olgasafonova/jolokia-mcp-server/internal/naming"
	"github.com/olgasafonova/jolokia-mcp-server/internal/reqconfig"
	"github.com/olgasafonova/jolokia-mcp-server/tracing"
)

// EnvPrefix prefixes every environment variable, e.g. JOLOKIA_MCP_URL.
const EnvPrefix = "JOLOKIA_MCP"

const (
	DefaultURL             = "http://localhost:8778/jolokia"
	DefaultTimeout         = 30 * time.Second
	DefaultListen          = ":8080"
	DefaultAgentPath       = "/jolokia/"
	DefaultMetricsPath     = "/metrics"
	DefaultRefreshInterval = time.Duration(0)
	DefaultLogLevel        = "info"
	DefaultMaxBodySize     = int64(1 << 20)
)

// Transport selects how the MCP server is exposed.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
	TransportSSE   Transport = "sse"
)

// Config is the resolved process configuration. It is built once by Load.
type Config struct {
	URL      string
	User     string
	Password string
	Timeout  time.Duration

	Transport   Transport
	Listen      string
	AgentPath   string
	MetricsPath string
	// RateLimit is requests per minute per client IP on the HTTP listener; 0 disables.
	RateLimit   int
	MaxBodySize int64

	DynamicTools    bool
	RefreshInterval time.Duration
	ListCacheTTL    time.Duration

	DenyDomains     []string
	DenyObjectNames []string
	StripPrefix     string
	SpecialKeys     []string

	AllowErrorDetails bool
	IncludeRequest    bool
	RequestDefaults   reqconfig.Defaults

	LogLevel slog.Level

	TracingEnabled     bool
	TracingEndpoint    string
	TracingEnvironment string
	TracingSampleRate  float64
}

// flag name -> viper key
var flagKeys = map[string]string{
	"config":              "config",
	"url":                 "url",
	"user":                "user",
	"password":            "password",
	"timeout":             "timeout",
	"transport":           "transport",
	"sse":                 "sse",
	"listen":              "listen",
	"agent-path":          "agentPath",
	"metrics-path":        "metricsPath",
	"rate-limit":          "http.rateLimit",
	"max-body-size":       "http.maxBodySize",
	"dynamic-tools":       "dynamicTools",
	"refresh-interval":    "refreshInterval",
	"list-cache-ttl":      "listCacheTTL",
	"deny-domain":         "denylist.domains",
	"deny-object-name":    "denylist.objectNames",
	"strip-prefix":        "naming.stripPrefix",
	"special-key":         "naming.specialKeys",
	"allow-error-details": "allowErrorDetails",
	"include-request":     "includeRequest",
	"log-level":           "logLevel",
	"tracing":             "tracing.enabled",
	"tracing-endpoint":    "tracing.endpoint",
}

// NewViper returns a viper instance with defaults and environment binding set up.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	for _, k := range reqconfig.Keys() {
		_ = v.BindEnv("request." + k)
	}
	return v
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("url", DefaultURL)
	v.SetDefault("user", "")
	v.SetDefault("password", "")
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("transport", string(TransportStdio))
	v.SetDefault("sse", false)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("agentPath", DefaultAgentPath)
	v.SetDefault("metricsPath", DefaultMetricsPath)
	v.SetDefault("http.rateLimit", 0)
	v.SetDefault("http.maxBodySize", DefaultMaxBodySize)
	v.SetDefault("dynamicTools", true)
	v.SetDefault("refreshInterval", DefaultRefreshInterval)
	v.SetDefault("listCacheTTL", bridge.DefaultListCacheTTL)
	v.SetDefault("denylist.domains", catalog.DefaultDenyDomains)
	v.SetDefault("denylist.objectNames", []string{})
	v.SetDefault("naming.stripPrefix", naming.DefaultStripPrefix)
	v.SetDefault("naming.specialKeys", naming.DefaultSpecialKeys)
	v.SetDefault("allowErrorDetails", true)
	v.SetDefault("includeRequest", true)
	v.SetDefault("logLevel", DefaultLogLevel)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.environment", "")
	v.SetDefault("tracing.sampleRate", 1.0)
}

// RegisterFlags defines the command line flags. Flag defaults are informational;
// only flags that were set override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (yaml, toml or json)")
	fs.String("url", DefaultURL, "Jolokia agent URL")
	fs.String("user", "", "Jolokia basic auth user")
	fs.String("password", "", "Jolokia basic auth password")
	fs.Duration("timeout", DefaultTimeout, "per-request timeout against the agent")
	fs.String("transport", string(TransportStdio), "MCP transport: stdio, http or sse")
	fs.Bool("sse", false, "serve the legacy SSE transport (same as --transport=sse)")
	fs.String("listen", DefaultListen, "listen address for http and sse transports")
	fs.String("agent-path", DefaultAgentPath, "path of the Jolokia-compatible endpoint")
	fs.String("metrics-path", DefaultMetricsPath, "path of the Prometheus endpoint")
	fs.Int("rate-limit", 0, "requests per minute per client IP on the HTTP listener, 0 disables")
	fs.Int64("max-body-size", DefaultMaxBodySize, "maximum HTTP request body in bytes")
	fs.Bool("dynamic-tools", true, "register one tool per MBean operation")
	fs.Duration("refresh-interval", DefaultRefreshInterval, "catalog refresh interval, 0 disables")
	fs.Duration("list-cache-ttl", bridge.DefaultListCacheTTL, "MBean listing cache TTL")
	fs.StringSlice("deny-domain", catalog.DefaultDenyDomains, "MBean domain excluded from tool generation")
	fs.StringSlice("deny-object-name", nil, "ObjectName excluded from tool generation")
	fs.String("strip-prefix", naming.DefaultStripPrefix, "domain prefix removed from tool names")
	fs.StringSlice("special-key", naming.DefaultSpecialKeys, "property keys preferred in tool names")
	fs.Bool("allow-error-details", true, "include stack traces in error answers")
	fs.Bool("include-request", true, "echo the request in error answers")
	fs.String("log-level", DefaultLogLevel, "log level: debug, info, warn or error")
	fs.Bool("tracing", false, "enable OpenTelemetry tracing")
	fs.String("tracing-endpoint", "", "OTLP HTTP endpoint; spans go to stderr when empty")
}

// BindFlags binds every registered flag to its key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load resolves the configuration. A "config" key pointing at a file is read
// first; flags and environment still win over it.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var errs []string
	cfg := Config{
		URL:                strings.TrimSpace(v.GetString("url")),
		User:               v.GetString("user"),
		Password:           v.GetString("password"),
		Timeout:            v.GetDuration("timeout"),
		Listen:             v.GetString("listen"),
		AgentPath:          normalizePath(v.GetString("agentPath"), true),
		MetricsPath:        normalizePath(v.GetString("metricsPath"), false),
		RateLimit:          v.GetInt("http.rateLimit"),
		MaxBodySize:        v.GetInt64("http.maxBodySize"),
		DynamicTools:       v.GetBool("dynamicTools"),
		RefreshInterval:    v.GetDuration("refreshInterval"),
		ListCacheTTL:       v.GetDuration("listCacheTTL"),
		DenyDomains:        cleanList(v.GetStringSlice("denylist.domains")),
		DenyObjectNames:    cleanList(v.GetStringSlice("denylist.objectNames")),
		StripPrefix:        v.GetString("naming.stripPrefix"),
		SpecialKeys:        cleanList(v.GetStringSlice("naming.specialKeys")),
		AllowErrorDetails:  v.GetBool("allowErrorDetails"),
		IncludeRequest:     v.GetBool("includeRequest"),
		TracingEnabled:     v.GetBool("tracing.enabled"),
		TracingEndpoint:    v.GetString("tracing.endpoint"),
		TracingEnvironment: v.GetString("tracing.environment"),
		TracingSampleRate:  v.GetFloat64("tracing.sampleRate"),
	}

	if cfg.URL == "" {
		errs = append(errs, "url is required")
	} else if u, err := url.Parse(cfg.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("url %q must be an absolute http(s) URL", cfg.URL))
	}
	if cfg.Password != "" && cfg.User == "" {
		errs = append(errs, "password requires user")
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, "timeout must be > 0")
	}

	transport, err := resolveTransport(v)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.Transport = transport
	if cfg.Transport != TransportStdio && strings.TrimSpace(cfg.Listen) == "" {
		errs = append(errs, "listen is required for the "+string(cfg.Transport)+" transport")
	}
	if cfg.AgentPath == cfg.MetricsPath+"/" || cfg.AgentPath == "/" {
		errs = append(errs, fmt.Sprintf("agentPath %q collides with another route", cfg.AgentPath))
	}

	if cfg.RateLimit < 0 {
		errs = append(errs, "http.rateLimit must be >= 0")
	}
	if cfg.MaxBodySize <= 0 {
		errs = append(errs, "http.maxBodySize must be > 0")
	}

	if cfg.RefreshInterval < 0 {
		errs = append(errs, "refreshInterval must be >= 0")
	}
	if cfg.ListCacheTTL < 0 {
		errs = append(errs, "listCacheTTL must be >= 0")
	}
	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		errs = append(errs, "tracing.sampleRate must be between 0 and 1")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("logLevel"))); err != nil {
		errs = append(errs, fmt.Sprintf("logLevel %q is invalid", v.GetString("logLevel")))
	}

	defaults, err := requestDefaults(v)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.RequestDefaults = defaults

	if len(errs) > 0 {
		return Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func resolveTransport(v *viper.Viper) (Transport, error) {
	if v.GetBool("sse") {
		return TransportSSE, nil
	}
	t := Transport(strings.ToLower(strings.TrimSpace(v.GetString("transport"))))
	switch t {
	case TransportStdio, TransportHTTP, TransportSSE:
		return t, nil
	case "streamable-http", "streamable":
		return TransportHTTP, nil
	default:
		return TransportStdio, fmt.Errorf("transport %q must be stdio, http or sse", t)
	}
}

// requestDefaults collects request.* keys. Viper folds key case, so recognised
// keys are looked up by their lower-cased spelling.
func requestDefaults(v *viper.Viper) (reqconfig.Defaults, error) {
	known := make(map[string]string)
	for _, k := range reqconfig.Keys() {
		known[strings.ToLower(k)] = k
	}

	defaults := reqconfig.Defaults{}
	var unknown []string
	for raw := range v.GetStringMap("request") {
		if _, ok := known[strings.ToLower(raw)]; !ok {
			unknown = append(unknown, raw)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown request parameters: %s", strings.Join(unknown, ", "))
	}

	for _, k := range reqconfig.Keys() {
		if !v.IsSet("request." + k) {
			continue
		}
		if val := v.GetString("request." + k); val != "" {
			defaults[k] = val
		}
	}
	if err := reqconfig.ValidateDefaults(defaults); err != nil {
		return nil, fmt.Errorf("request defaults: %w", err)
	}
	return defaults, nil
}

func normalizePath(p string, trailingSlash bool) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if trailingSlash && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if !trailingSlash && len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BridgeOptions derives the bridge configuration.
func (c Config) BridgeOptions(logger *slog.Logger, reserved []string) bridge.Options {
	return bridge.Options{
		DenyDomains:     c.DenyDomains,
		DenyObjectNames: c.DenyObjectNames,
		Generator: naming.NewGenerator(
			naming.WithStripPrefix(c.StripPrefix),
			naming.WithSpecialKeys(c.SpecialKeys...),
		),
		Reserved:          reserved,
		Defaults:          c.RequestDefaults,
		AllowErrorDetails: c.AllowErrorDetails,
		IncludeRequest:    c.IncludeRequest,
		ListCacheTTL:      c.ListCacheTTL,
		Logger:            logger,
	}
}

// TracingConfig derives the tracing setup, keeping OTEL_* environment overrides.
func (c Config) TracingConfig(version string) tracing.Config {
	tc := tracing.FromEnv()
	tc.ServiceVersion = version
	tc.Enabled = tc.Enabled || c.TracingEnabled
	if c.TracingEndpoint != "" {
		tc.OTLPEndpoint = c.TracingEndpoint
		tc.Enabled = true
	}
	if c.TracingEnvironment != "" {
		tc.Environment = c.TracingEnvironment
	}
	tc.SampleRate = c.TracingSampleRate
	return tc
}
