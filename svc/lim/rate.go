package lim

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"linkvault/svc/util"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
)

// Limiter applies a per-client-IP token bucket. Buckets are keyed by
// ip:endpoint and evicted after idling, so the map stays bounded even when
// clients churn.
type Limiter struct {
	trustedProxies []string
	localLimiters  map[string]*limiterEntry
	mu             sync.Mutex
	rpm            int
	burst          int
	quit           chan struct{}
	evictionSem    chan struct{}
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(rpm, burst int, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else {
			if net.ParseIP(proxy) == nil {
				panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
			}
		}
	}
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		trustedProxies: trustedProxies,
		localLimiters:  make(map[string]*limiterEntry),
		rpm:            rpm,
		burst:          burst,
		quit:           make(chan struct{}),
		evictionSem:    make(chan struct{}, 1),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) Stop() {
	close(l.quit)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpiredLimiters()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) evictExpiredLimiters() {
	now := time.Now()
	toDelete := make([]string, 0, 100)
	l.mu.Lock()
	for key, entry := range l.localLimiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			toDelete = append(toDelete, key)
		}
	}
	for _, key := range toDelete {
		delete(l.localLimiters, key)
	}
	evicted := len(toDelete)
	remaining := len(l.localLimiters)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter cleanup")
	}
}

func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *Result {
	ip := GetRealIP(r, l.trustedProxies)
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := (maxLimiters * 9) / 10
	if len(l.localLimiters) >= threshold {
		toEvict := len(l.localLimiters) / 10
		if toEvict > 0 {
			select {
			case l.evictionSem <- struct{}{}:
				go func() {
					defer func() { <-l.evictionSem }()
					l.asyncEvictOldest(toEvict)
				}()
			default:
			}
		}
	}
	if len(l.localLimiters) >= maxLimiters {
		util.Warn().
			Int("limiters", len(l.localLimiters)).
			Str("ip", util.RedactIP(ip)).
			Msg("rate limiter at capacity, rejecting request")
		return &Result{
			Allowed: false,
			Limit:   l.rpm,
			Reset:   time.Now().Add(time.Minute),
		}
	}

	key := ip + ":" + endpoint
	entry, exists := l.localLimiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter:    rate.NewLimiter(rate.Limit(l.rpm)/60.0, l.burst),
			lastAccess: time.Now(),
		}
		l.localLimiters[key] = entry
	} else {
		entry.lastAccess = time.Now()
	}
	if !entry.limiter.Allow() {
		return &Result{
			Allowed: false,
			Limit:   l.rpm,
			Reset:   time.Now().Add(time.Minute),
		}
	}
	remaining := int(entry.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   true,
		Limit:     l.rpm,
		Remaining: remaining,
		Reset:     time.Now().Add(time.Minute),
	}
}

func (l *Limiter) asyncEvictOldest(count int) {
	l.mu.Lock()
	if len(l.localLimiters) < (maxLimiters*8)/10 {
		l.mu.Unlock()
		return
	}
	type kv struct {
		key        string
		lastAccess time.Time
	}
	entries := make([]kv, 0, len(l.localLimiters))
	for k, v := range l.localLimiters {
		entries = append(entries, kv{k, v.lastAccess})
	}
	l.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if _, exists := l.localLimiters[entries[i].key]; exists {
			delete(l.localLimiters, entries[i].key)
			evicted++
		}
	}
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Msg("async limiter eviction completed")
	}
}

// GetRealIP walks X-Forwarded-For right to left and returns the first hop
// that is not a trusted proxy. Without trusted proxies configured the
// header is ignored entirely.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 {
		return remoteIP
	}
	if !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	const maxIPsToParse = 100
	parsedCount := 0
	remaining := xff
	for len(remaining) > 0 && parsedCount < maxIPsToParse {
		lastComma := strings.LastIndexByte(remaining, ',')
		var ipStr string
		if lastComma == -1 {
			ipStr = strings.TrimSpace(remaining)
			remaining = ""
		} else {
			ipStr = strings.TrimSpace(remaining[lastComma+1:])
			remaining = remaining[:lastComma]
		}
		if ipStr == "" {
			continue
		}
		parsedCount++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", ipStr).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	if parsedCount >= maxIPsToParse {
		util.Warn().Int("parsed", parsedCount).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
	}
	return remoteIP
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			_, subnet, err := net.ParseCIDR(proxy)
			if err == nil {
				parsedIP := net.ParseIP(ip)
				if parsedIP != nil && subnet.Contains(parsedIP) {
					return true
				}
			}
		}
	}
	return false
}

func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
