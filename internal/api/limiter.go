package api

import (
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"chatsync/pkg/router"
)

// limiterPool keeps one token bucket per client IP. Entries unseen for ttl
// are dropped by a background sweep.
type limiterPool struct {
	rps    float64
	burst  int
	ttl    time.Duration
	period time.Duration

	mu   sync.Mutex
	m    map[string]*limiterEntry
	once sync.Once
	done chan struct{}
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		rps:    rps,
		burst:  burst,
		ttl:    10 * time.Minute,
		period: time.Minute,
		m:      make(map[string]*limiterEntry),
		done:   make(chan struct{}),
	}
}

func (p *limiterPool) Allow(key string) bool {
	p.once.Do(func() { go p.cleanupLoop(p.period) })

	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()
	return e.l.Allow()
}

func (p *limiterPool) Close() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *limiterPool) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-p.ttl)
		p.mu.Lock()
		for k, e := range p.m {
			if e.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
		p.mu.Unlock()
	}
}

// middleware rejects requests over the per-IP budget with 429.
func (p *limiterPool) middleware() router.Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if !p.Allow(ctx.RemoteIP().String()) {
				router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next(ctx)
		}
	}
}
