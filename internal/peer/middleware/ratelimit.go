package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iudanet/gophsync/pkg/api"
)

// RateLimiter ограничивает число запросов на ключ в пределах окна
type RateLimiter struct {
	clock    clockwork.Clock
	buckets  map[string]*bucket
	logger   *slog.Logger
	cleanupC chan struct{}
	rate     int
	window   time.Duration
	mu       sync.Mutex
	stopOnce sync.Once
}

// bucket хранит остаток запросов одного ключа
type bucket struct {
	lastRefill time.Time
	tokens     int
}

// NewRateLimiter создает rate limiter: не более rate запросов за window.
func NewRateLimiter(rate int, window time.Duration, clock clockwork.Clock, logger *slog.Logger) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rl := &RateLimiter{
		clock:    clock,
		buckets:  make(map[string]*bucket),
		rate:     rate,
		window:   window,
		logger:   logger,
		cleanupC: make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup периодически удаляет неактивные buckets
func (rl *RateLimiter) cleanup() {
	ticker := rl.clock.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			rl.cleanupOldBuckets()
		case <-rl.cleanupC:
			return
		}
	}
}

// cleanupOldBuckets удаляет buckets, которые не пополнялись дольше двух окон
func (rl *RateLimiter) cleanupOldBuckets() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) > rl.window*2 {
			delete(rl.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.buckets)
}

// Stop останавливает cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.cleanupC) })
}

// Allow проверяет, разрешен ли запрос для данного ключа
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.lastRefill) >= rl.window {
		b = &bucket{tokens: rl.rate, lastRefill: now}
		rl.buckets[key] = b
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Middleware отвечает 429 на запросы сверх лимита.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			if !rl.Allow(key) {
				rl.logger.Warn("Rate limit exceeded",
					"key", key,
					"method", r.Method,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey возвращает ключ лимита: устройство пира, иначе его хост
func clientKey(r *http.Request) string {
	if device := r.Header.Get(DeviceHeader); device != "" {
		return "device:" + device
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
