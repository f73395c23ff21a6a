package agent

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// tenantIdle is how long an untouched bucket is kept before it is evicted.
const tenantIdle = 30 * time.Minute

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TenantLimiter throttles chat turns with one token bucket per tenant.
// A zero or negative rate disables it. Burst is a sixth of the per-minute
// rate, at least one.
type TenantLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tenantBucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
	swept   time.Time
}

func NewTenantLimiter(perMinute int) *TenantLimiter {
	return &TenantLimiter{
		buckets: make(map[string]*tenantBucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   max(perMinute/6, 1),
		now:     time.Now,
	}
}

// Allow reports whether tenant may start another chat turn now. It never
// blocks: a throttled turn is answered with a fallback message instead.
func (tl *TenantLimiter) Allow(tenant string) bool {
	if tl == nil || tl.limit <= 0 {
		return true
	}
	now := tl.now()

	tl.mu.Lock()
	b, ok := tl.buckets[tenant]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(tl.limit, tl.burst)}
		tl.buckets[tenant] = b
	}
	b.lastSeen = now
	tl.sweep(now)
	tl.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// sweep drops idle buckets at most once per tenantIdle. Callers hold tl.mu.
func (tl *TenantLimiter) sweep(now time.Time) {
	if now.Sub(tl.swept) < tenantIdle {
		return
	}
	tl.swept = now
	for tenant, b := range tl.buckets {
		if now.Sub(b.lastSeen) >= tenantIdle {
			delete(tl.buckets, tenant)
		}
	}
}

// Tenants reports how many tenant buckets are live.
func (tl *TenantLimiter) Tenants() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.buckets)
}
