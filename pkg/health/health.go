package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// Status is the health of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Response is the body returned by the health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Handler serves liveness and readiness probes.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
}

// NewHandler creates a handler whose readiness checks share a 5s deadline.
func NewHandler() *Handler {
	return &Handler{checkers: make(map[string]Checker), timeout: 5 * time.Second}
}

// Register adds a named checker. Registering the same name twice replaces it.
func (h *Handler) Register(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Names returns the registered checker names, sorted.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for n := range h.checkers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LivenessHandler always answers 200 while the process is serving.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, Response{Status: StatusUp, Timestamp: time.Now().UTC()})
	}
}

// ReadinessHandler runs every checker concurrently and answers 503 if any fails.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		h.mu.RLock()
		checkers := make(map[string]Checker, len(h.checkers))
		for k, v := range h.checkers {
			checkers[k] = v
		}
		h.mu.RUnlock()

		var (
			mu     sync.Mutex
			wg     sync.WaitGroup
			checks = make(map[string]CheckResult, len(checkers))
		)
		for name, check := range checkers {
			wg.Add(1)
			go func(name string, check Checker) {
				defer wg.Done()
				res := CheckResult{Status: StatusUp}
				if err := check(ctx); err != nil {
					res = CheckResult{Status: StatusDown, Error: err.Error()}
				}
				mu.Lock()
				checks[name] = res
				mu.Unlock()
			}(name, check)
		}
		wg.Wait()

		overall, code := StatusUp, http.StatusOK
		for _, c := range checks {
			if c.Status == StatusDown {
				overall, code = StatusDown, http.StatusServiceUnavailable
				break
			}
		}

		write(w, code, Response{Status: overall, Timestamp: time.Now().UTC(), Checks: checks})
	}
}

func write(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
