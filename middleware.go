package main

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/olgasafonova/jolokia-mcp-server/metrics"
)

// RateLimiter is a per-client token bucket. Each client gets rate tokens per
// interval.
type RateLimiter struct {
	rate     int
	interval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stopCh    chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Close to stop it.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		rate:     rate,
		interval: interval,
		buckets:  make(map[string]*bucket),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow takes a token for client and reports whether one was available.
func (rl *RateLimiter) Allow(client string) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: rl.rate, last: now}
		rl.buckets[client] = b
	}
	if refill := int(now.Sub(b.last) * time.Duration(rl.rate) / rl.interval); refill > 0 {
		b.tokens = min(rl.rate, b.tokens+refill)
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Close stops the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
	})
}

// cleanup drops buckets that have been full for a while.
func (rl *RateLimiter) cleanup() {
	period := max(rl.interval, time.Second)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for client, b := range rl.buckets {
				if now.Sub(b.last) > 2*period {
					delete(rl.buckets, client)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// SecurityConfig configures SecurityMiddleware.
type SecurityConfig struct {
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit   int
	MaxBodySize int64
	// Route maps a request path to a low-cardinality metrics label.
	Route func(path string) string
}

// SecurityMiddleware limits request rate and body size and records HTTP metrics.
type SecurityMiddleware struct {
	next    http.Handler
	logger  *slog.Logger
	config  SecurityConfig
	limiter *RateLimiter
}

// NewSecurityMiddleware wraps next.
func NewSecurityMiddleware(next http.Handler, logger *slog.Logger, config SecurityConfig) *SecurityMiddleware {
	sm := &SecurityMiddleware{
		next:   next,
		logger: logger,
		config: config,
	}
	if config.RateLimit > 0 {
		sm.limiter = NewRateLimiter(config.RateLimit, time.Minute)
	}
	return sm
}

// Close releases the rate limiter.
func (sm *SecurityMiddleware) Close() {
	if sm.limiter != nil {
		sm.limiter.Close()
	}
}

func (sm *SecurityMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, sm.route(r.URL.Path)).Observe(time.Since(start).Seconds())
	}()

	if sm.limiter != nil {
		ip := clientIP(r)
		if !sm.limiter.Allow(ip) {
			sm.logger.Warn("Rate limit exceeded", "client", ip, "path", r.URL.Path)
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}
	if sm.config.MaxBodySize > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(rec, r.Body, sm.config.MaxBodySize)
	}

	sm.next.ServeHTTP(rec, r)
}

func (sm *SecurityMiddleware) route(path string) string {
	if sm.config.Route == nil {
		return "other"
	}
	return sm.config.Route(path)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
