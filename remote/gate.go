package remote

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/olegkotsar/dupesweep/config"
)

// RateReporter is implemented by providers that track their request rate.
type RateReporter interface {
	CurrentRPS() int64
}

// requestGate applies the client-side RPS cap and the per-request timeout
// shared by every provider, and counts requests for monitoring.
type requestGate struct {
	limiter          *rate.Limiter
	timeout          time.Duration
	requestCount     int64      // Total requests made
	lastRequestCount int64      // Request count at last RPS calculation
	lastRPS          int64      // Last calculated RPS
	lastRPSTime      time.Time  // Time of last RPS calculation
	mu               sync.Mutex // Protects RPS calculation fields
}

func newRequestGate(common *config.CommonStorageConfig) *requestGate {
	common.ApplyDefaults()

	// default 0
	var limiter *rate.Limiter
	if common.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(common.MaxRPS), common.MaxRPS) // burst = MaxRPS
	}

	return &requestGate{
		limiter:     limiter,
		timeout:     time.Duration(common.TimeoutSeconds) * time.Second,
		lastRPSTime: time.Now(),
	}
}

// begin waits for a rate token and returns the context for one remote call.
func (g *requestGate) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limiter error: %w", err)
		}
	}
	atomic.AddInt64(&g.requestCount, 1)

	if g.timeout <= 0 {
		reqCtx, cancel := context.WithCancel(ctx)
		return reqCtx, cancel, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	return reqCtx, cancel, nil
}

// CurrentRPS calculates and returns the current requests per second rate.
// It is safe to call periodically from a monitoring goroutine.
func (g *requestGate) CurrentRPS() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(g.lastRPSTime).Seconds()

	// Only recalculate if at least 1 second has passed
	if elapsed >= 1.0 {
		currentCount := atomic.LoadInt64(&g.requestCount)
		g.lastRPS = int64(float64(currentCount-g.lastRequestCount) / elapsed)
		g.lastRequestCount = currentCount
		g.lastRPSTime = now
	}

	return g.lastRPS
}

// Requests returns the total number of remote calls made.
func (g *requestGate) Requests() int64 {
	return atomic.LoadInt64(&g.requestCount)
}
