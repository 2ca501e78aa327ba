// Package ratelimit provides a registry of named per-service rate
// limiters. Every outbound call to an external service goes through
// Wait, which either returns nil (the caller may proceed immediately)
// or an error; there is no third state.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnknownService is returned when a caller asks for a service the
// registry has no limiter for. Misconfiguration fails loudly rather
// than silently running unthrottled.
var ErrUnknownService = errors.New("no rate limiter registered for service")

// Registry holds one token-bucket limiter per external service name.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*rate.Limiter)}
}

// Register installs a limiter that releases one request per interval
// with the given burst. Registering a name again replaces the limiter.
func (r *Registry) Register(service string, interval time.Duration, burst int) {
	if burst < 1 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[service] = rate.NewLimiter(rate.Every(interval), burst)
}

// Wait blocks until the named service's limiter releases a slot or the
// context is done. A nil return means the caller holds a slot and may
// issue exactly one request.
func (r *Registry) Wait(ctx context.Context, service string) error {
	r.mu.RLock()
	l, ok := r.limiters[service]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter for %s: %w", service, err)
	}
	return nil
}

// Allow reports whether a slot is available right now without waiting,
// consuming it when so.
func (r *Registry) Allow(service string) (bool, error) {
	r.mu.RLock()
	l, ok := r.limiters[service]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return l.Allow(), nil
}

// Services lists the registered service names.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	return names
}
