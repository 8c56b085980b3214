package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/olgasafonova/jolokia-mcp-server/internal/bridge"
	"github.com/olgasafonova/jolokia-mcp-server/internal/config"
	"github.com/olgasafonova/jolokia-mcp-server/internal/jolokia"
	"github.com/olgasafonova/jolokia-mcp-server/tools"
)

// newBridge connects to the agent named by JOLOKIA_MCP_URL (or the default URL).
func newBridge() (*bridge.Bridge, error) {
	cfg, err := config.Load(config.NewViper())
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	opts := []jolokia.Option{jolokia.WithTimeout(cfg.Timeout), jolokia.WithLogger(logger)}
	if cfg.User != "" {
		opts = append(opts, jolokia.WithBasicAuth(cfg.User, cfg.Password))
	}
	client, err := jolokia.New(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return bridge.New(client, cfg.BridgeOptions(logger, tools.Names()))
}

// measureListingCache compares a backend listing with a cached one
func measureListingCache(ctx context.Context, b *bridge.Bridge) error {
	fmt.Println("1. Listing Cache Test:")

	b.Invalidate()
	start := time.Now()
	names, err := b.ListMBeans(ctx)
	if err != nil {
		return err
	}
	firstCall := time.Since(start)
	fmt.Printf("   First call (agent):   %v (%d MBeans)\n", firstCall, len(names))

	start = time.Now()
	_, _ = b.ListMBeans(ctx)
	secondCall := time.Since(start)
	fmt.Printf("   Second call (cached): %v\n", secondCall)
	if secondCall > 0 {
		fmt.Printf("   Speedup: %.0fx faster\n", float64(firstCall)/float64(secondCall))
	}
	fmt.Println()
	return nil
}

// measureCatalogBuild times a full catalog rebuild from a fresh listing
func measureCatalogBuild(ctx context.Context, b *bridge.Bridge) error {
	fmt.Println("2. Catalog Build:")

	b.Invalidate()
	start := time.Now()
	cat, err := b.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("   Build time: %v\n", time.Since(start))
	fmt.Printf("   Generated tools: %d\n", cat.Len())
	fmt.Printf("   MBeans with tools: %d\n", cat.Resources())
	fmt.Println()
	return nil
}

// measureConcurrentRefresh shows that concurrent rebuilds share one listing call
func measureConcurrentRefresh(ctx context.Context, b *bridge.Bridge) error {
	const callers = 10
	fmt.Printf("3. Concurrent Refresh (%d callers):\n", callers)

	b.Invalidate()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Refresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	fmt.Printf("   Total time: %v\n", time.Since(start))
	fmt.Println()
	return nil
}

func main() {
	fmt.Println("Jolokia MCP Server - Performance Measurements")
	fmt.Println("=============================================")
	fmt.Println()

	b, err := newBridge()
	if err != nil {
		fmt.Printf("Setup error: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, measure := range []func(context.Context, *bridge.Bridge) error{
		measureListingCache,
		measureCatalogBuild,
		measureConcurrentRefresh,
	} {
		if err := measure(ctx, b); err != nil {
			fmt.Printf("   Error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("=== Summary ===")
	fmt.Println()
	fmt.Println("• Listing cache: repeated MBean listings are served from memory until the TTL expires")
	fmt.Println("• Request deduplication: concurrent rebuilds share one agent listing call")
	fmt.Println("• Atomic publish: readers always see a complete catalog")
}
