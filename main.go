// Jolokia MCP Server - A Model Context Protocol server for JMX through a Jolokia agent
// Exposes MBean discovery, attribute access and operations as MCP tools
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/olgasafonova/jolokia-mcp-server/internal/agent"
	"github.com/olgasafonova/jolokia-mcp-server/internal/bridge"
	"github.com/olgasafonova/jolokia-mcp-server/internal/catalog"
	"github.com/olgasafonova/jolokia-mcp-server/internal/config"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jolokia"
	"github.com/olgasafonova/jolokia-mcp-server/tools"
	"github.com/olgasafonova/jolokia-mcp-server/tracing"
)

// recoverPanic logs a recovered panic instead of crashing the process
func recoverPanic(logger *slog.Logger, operation string) {
	if r := recover(); r != nil {
		logger.Error("Panic recovered",
			"operation", operation,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}

const (
	ServerName    = bridge.AgentName
	ServerVersion = "1.0.0"

	mcpPath    = "/mcp"
	healthPath = "/healthz"

	shutdownTimeout = 5 * time.Second
)

const instructions = `Jolokia MCP Server gives access to the JMX MBeans of a Java process through its Jolokia agent.

Static tools:
- listMBeans: List every MBean name
- listMBeanOperations: Operations of one MBean with their signatures
- listMBeanAttributes: Attributes of one MBean with type and writability
- readMBeanAttribute: Read one attribute
- writeMBeanAttribute: Change one attribute
- executeMBeanOperation: Invoke an operation with positional arguments

When generated tools are enabled, every MBean operation is also available as its own
tool named <domain>-<key properties>-<operation>, with one parameter per operation argument.

Failures come back as JSON with status (400 bad input, 403 denied, 404 unknown MBean or
member, 500 failure inside the JVM), error and error_type.`

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	root := &cobra.Command{
		Use:   "jolokia-mcp-server [url]",
		Short: "MCP server for JMX MBeans behind a Jolokia agent",
		Long: `Serves the MBeans of a Jolokia agent as MCP tools over stdio, streamable HTTP or SSE.

Every flag can also be set through a JOLOKIA_MCP_* environment variable or a config file.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       ServerVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cmd, args)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				return err
			}
			logger := newLogger(cfg.LogLevel)

			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("Server stopped with error", "error", err)
				return err
			}
			return nil
		},
	}
	config.RegisterFlags(root.Flags())
	return root
}

// loadConfig binds flags and applies the positional URL, which wins over every
// other source.
func loadConfig(v *viper.Viper, cmd *cobra.Command, args []string) (config.Config, error) {
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	if len(args) > 0 {
		if cmd.Flags().Changed("url") {
			return config.Config{}, errors.New("url cannot be given both as argument and --url")
		}
		v.Set("url", args[0])
	}
	return config.Load(v)
}

// newLogger logs to stderr; stdout carries the stdio transport.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.TracingConfig(ServerVersion))
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	clientOpts := []jolokia.Option{
		jolokia.WithTimeout(cfg.Timeout),
		jolokia.WithLogger(logger),
	}
	if cfg.User != "" {
		clientOpts = append(clientOpts, jolokia.WithBasicAuth(cfg.User, cfg.Password))
	}
	client, err := jolokia.New(cfg.URL, clientOpts...)
	if err != nil {
		return fmt.Errorf("jolokia client: %w", err)
	}

	b, err := bridge.New(client, cfg.BridgeOptions(logger, tools.Names()))
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	defer b.Close()

	server, handlers := newMCPServer(b, logger)
	if cfg.DynamicTools {
		startCatalogSync(ctx, b, tools.NewCatalogRegistry(server, handlers), cfg.RefreshInterval, logger)
	}

	logger.Info("Starting Jolokia MCP Server",
		"name", ServerName,
		"version", ServerVersion,
		"jolokia_url", client.URL(),
		"transport", cfg.Transport,
		"dynamic_tools", cfg.DynamicTools,
	)

	if cfg.Transport == config.TransportStdio {
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server: %w", err)
		}
		return nil
	}

	ag := agent.New(b, cfg.AgentPath, agent.WithLogger(logger))
	handler := newHTTPHandler(cfg, server, ag, logger)
	defer handler.Close()
	return serveHTTP(ctx, &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, logger)
}

func newMCPServer(b *bridge.Bridge, logger *slog.Logger) (*mcp.Server, *tools.HandlerRegistry) {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, &mcp.ServerOptions{
		Logger:       logger,
		Instructions: instructions,
	})
	handlers := tools.NewHandlerRegistry(b, logger)
	handlers.RegisterAll(server)
	return server, handlers
}

// startCatalogSync registers the generated tools once and, with a positive
// interval, keeps them in step with the backend until ctx is done. A failed
// initial build leaves only the static tools registered.
func startCatalogSync(ctx context.Context, b *bridge.Bridge, registry *tools.CatalogRegistry, interval time.Duration, logger *slog.Logger) {
	cat, err := b.Refresh(ctx)
	if err != nil {
		logger.Warn("Initial MBean catalog build failed", "error", err)
	} else {
		registry.Sync(cat)
	}
	if interval <= 0 {
		return
	}
	go func() {
		defer recoverPanic(logger, "catalog refresh")
		b.Watch(ctx, interval, func(c *catalog.Catalog) {
			registry.Sync(c)
		})
	}()
}

// router sends agent paths straight to the agent handler so that ServeMux path
// cleaning never touches escaped MBean names; everything else goes through mux.
type router struct {
	agent       *agent.Handler
	mux         *http.ServeMux
	metricsPath string
}

func (rt *router) isAgentPath(path string) bool {
	prefix := rt.agent.Prefix()
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func (rt *router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rt.isAgentPath(r.URL.Path) {
		rt.agent.ServeHTTP(w, r)
		return
	}
	rt.mux.ServeHTTP(w, r)
}

// route returns a bounded label for HTTP metrics.
func (rt *router) route(path string) string {
	switch {
	case rt.isAgentPath(path):
		return rt.agent.Prefix()
	case path == mcpPath, path == rt.metricsPath, path == healthPath:
		return path
	default:
		return "other"
	}
}

func newHTTPHandler(cfg config.Config, server *mcp.Server, ag *agent.Handler, logger *slog.Logger) *SecurityMiddleware {
	getServer := func(*http.Request) *mcp.Server { return server }

	var mcpHandler http.Handler
	if cfg.Transport == config.TransportSSE {
		mcpHandler = mcp.NewSSEHandler(getServer, nil)
	} else {
		mcpHandler = mcp.NewStreamableHTTPHandler(getServer, nil)
	}

	mux := http.NewServeMux()
	mux.Handle(mcpPath, mcpHandler)
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(healthPath, healthHandler)

	rt := &router{agent: ag, mux: mux, metricsPath: cfg.MetricsPath}
	return NewSecurityMiddleware(rt, logger, SecurityConfig{
		RateLimit:   cfg.RateLimit,
		MaxBodySize: cfg.MaxBodySize,
		Route:       rt.route,
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr, "mcp", mcpPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
			return err
		}
		logger.Info("HTTP server stopped")
		return nil
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
