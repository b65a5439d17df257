package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/utafrali/storefront/pkg/httputil"
)

// GuestSessionHeader carries the guest session token on anonymous requests.
const GuestSessionHeader = "X-Guest-Session"

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorStore keeps one token bucket per client IP and forgets idle ones.
type visitorStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	nowFunc  func() time.Time
}

func newVisitorStore(rps float64, burst int, ttl time.Duration) *visitorStore {
	return &visitorStore{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		nowFunc:  time.Now,
	}
}

func (s *visitorStore) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	v, ok := s.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (s *visitorStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for ip, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.visitors, ip)
		}
	}
}

func (s *visitorStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// RateLimiter is per-IP token bucket middleware. Stop releases the cleanup goroutine.
type RateLimiter struct {
	store  *visitorStore
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

// NewRateLimiter creates a limiter admitting rps requests per second per IP
// with the given burst, and starts its idle-visitor sweeper.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	const sweepInterval = 3 * time.Minute
	rl := &RateLimiter{
		store:  newVisitorStore(rps, burst, sweepInterval),
		logger: logger,
		done:   make(chan struct{}),
	}
	go rl.sweep(sweepInterval)
	return rl
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.store.cleanup()
		}
	}
}

// Stop ends the sweeper goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

// Middleware answers 429 once a client exceeds its bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !rl.store.allow(ip) {
			rl.logger.WarnContext(r.Context(), "http rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "RATE_LIMITED", Message: "too many requests"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

var trustedProxies atomic.Pointer[[]*net.IPNet]

// SetTrustedProxies sets the reverse proxies whose forwarding headers
// ClientIP honors. Invalid CIDRs are logged and skipped.
func SetTrustedProxies(cidrs []string, logger *slog.Logger) {
	nets := parseCIDRs(cidrs, logger)
	trustedProxies.Store(&nets)
}

func isTrustedProxy(ip net.IP) bool {
	nets := trustedProxies.Load()
	return nets != nil && containsIP(*nets, ip)
}

// ClientIP returns the originating client address. Forwarding headers are
// only consulted when the peer is a trusted proxy: X-Forwarded-For is walked
// from the right and the first address that is not itself a trusted proxy
// wins, then X-Real-IP. Otherwise the RemoteAddr host is returned.
func ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	peerIP := net.ParseIP(peer)
	if peerIP == nil || !isTrustedProxy(peerIP) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(parts[i]))
			if ip == nil {
				break
			}
			if !isTrustedProxy(ip) {
				return ip.String()
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
