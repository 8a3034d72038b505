package policy

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate bounds and tuning constants for the per-domain adaptive limiter,
// carried over unchanged from the bounds a flat token-bucket limiter
// needs to stay within to remain polite without crawling too slowly.
const (
	minRateFloor   = 1.0
	maxRateCeiling = 20.0
	emaAlpha       = 0.2
	recoveryFactor = 1.1
	backoffFactor  = 0.5

	defaultInitialRPS = 5
	targetRTT         = 2 * time.Second
)

// adaptiveLimiters holds one adaptiveLimiter per domain, created lazily.
// This is an in-process courtesy layer on top of wait_turn's DB-enforced
// min-delay/quota floor — it never lowers politeness below what the row
// lock already guarantees, it only eases requests further when a domain's
// server is visibly struggling.
type adaptiveLimiters struct {
	mu sync.Mutex
	m  map[string]*adaptiveLimiter
}

func newAdaptiveLimiters() *adaptiveLimiters {
	return &adaptiveLimiters{m: make(map[string]*adaptiveLimiter)}
}

func (a *adaptiveLimiters) get(domain string) *adaptiveLimiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	if l, ok := a.m[domain]; ok {
		return l
	}
	l := newAdaptiveLimiter(defaultInitialRPS, targetRTT)
	a.m[domain] = l
	return l
}

// adaptiveLimiter adjusts its rate based on observed response times using
// an exponential moving average of RTT, so a domain that starts answering
// slowly gets backed off automatically between polling intervals.
type adaptiveLimiter struct {
	limiter   *rate.Limiter
	targetRTT time.Duration
	mu        sync.Mutex

	emaRTT      time.Duration
	currentRate float64
}

func newAdaptiveLimiter(initialRPS int, targetRTT time.Duration) *adaptiveLimiter {
	clamped := clampRate(float64(initialRPS))
	return &adaptiveLimiter{
		limiter:     rate.NewLimiter(rate.Limit(clamped), int(math.Ceil(clamped))),
		targetRTT:   targetRTT,
		currentRate: clamped,
		emaRTT:      targetRTT,
	}
}

// wait blocks until the limiter permits the next request.
func (a *adaptiveLimiter) wait(ctx context.Context) {
	_ = a.limiter.Wait(ctx)
}

// observe records one fetch's round-trip time and adjusts the rate.
func (a *adaptiveLimiter) observe(rtt time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	newEMA := time.Duration(emaAlpha*float64(rtt) + (1-emaAlpha)*float64(a.emaRTT))
	a.emaRTT = newEMA

	ratio := float64(a.targetRTT) / float64(newEMA)

	var newRate float64
	if ratio < 1 {
		proposed := a.currentRate * ratio
		floor := a.currentRate * backoffFactor
		if proposed < floor {
			newRate = floor
		} else {
			newRate = proposed
		}
	} else {
		newRate = a.currentRate * recoveryFactor
	}

	newRate = clampRate(newRate)
	if math.Abs(newRate-a.currentRate) > 0.1 {
		a.currentRate = newRate
		a.limiter.SetLimit(rate.Limit(newRate))
		a.limiter.SetBurst(int(math.Ceil(newRate)))
	}
}

func clampRate(rps float64) float64 {
	if rps < minRateFloor {
		return minRateFloor
	}
	if rps > maxRateCeiling {
		return maxRateCeiling
	}
	return rps
}
