package ratelimit

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces requests to the same host by a minimum interval.
type HostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func NewHostLimiter(interval time.Duration) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Wait blocks until a request to rawURL's host is allowed.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil || h.interval <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return &url.Error{Op: "parse", URL: rawURL, Err: errors.New("missing host in URL")}
	}
	if err := h.limiterFor(host).Wait(ctx); err != nil {
		return waitErr(ctx, err)
	}
	return nil
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.RLock()
	lim, ok := h.limiters[host]
	h.mu.RUnlock()
	if ok {
		return lim
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if lim, ok := h.limiters[host]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Every(h.interval), 1)
	h.limiters[host] = lim
	return lim
}
