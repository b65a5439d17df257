package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
)

// RegisterPprof mounts /debug/pprof behind a CIDR allowlist.
func RegisterPprof(r chi.Router, allowedCIDRs []string, logger *slog.Logger) {
	r.Group(func(r chi.Router) {
		r.Use(IPAllowlist(allowedCIDRs, logger))
		r.HandleFunc("/debug/pprof/*", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	})
}

// IPAllowlist admits only peers whose RemoteAddr falls inside one of cidrs.
// Forwarding headers are not consulted.
func IPAllowlist(cidrs []string, logger *slog.Logger) func(http.Handler) http.Handler {
	nets := parseCIDRs(cidrs, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := remoteHost(r)
			if ip := net.ParseIP(host); ip != nil && containsIP(nets, ip) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("access denied by IP allowlist",
				slog.String("ip", host),
				slog.String("path", r.URL.Path),
			)
			writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "access restricted by IP allowlist")
		})
	}
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			logger.Warn("invalid CIDR, skipping",
				slog.String("cidr", cidr),
				slog.String("error", err.Error()),
			)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
