package fetch

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/econfeed/internal/model"
)

// connectorLimiter enforces a connector's per-minute and per-hour budgets.
// Calls over budget queue on Wait; they are never rejected.
type connectorLimiter struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

func newConnectorLimiter(rl model.RateLimit) *connectorLimiter {
	l := &connectorLimiter{}
	if rl.PerMinute > 0 {
		l.perMinute = rate.NewLimiter(rate.Limit(float64(rl.PerMinute)/60), 1)
	}
	if rl.PerHour > 0 {
		l.perHour = rate.NewLimiter(rate.Limit(float64(rl.PerHour)/3600), 1)
	}
	return l
}

// Wait blocks until both budgets admit a call or the context ends.
func (l *connectorLimiter) Wait(ctx context.Context) error {
	if l.perMinute != nil {
		if err := l.perMinute.Wait(ctx); err != nil {
			return eris.Wrap(err, "fetch: per-minute limiter wait")
		}
	}
	if l.perHour != nil {
		if err := l.perHour.Wait(ctx); err != nil {
			return eris.Wrap(err, "fetch: per-hour limiter wait")
		}
	}
	return nil
}

// limiterPool hands out one limiter per connector, created on first use.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*connectorLimiter
}

func newLimiterPool() *limiterPool {
	return &limiterPool{limiters: make(map[string]*connectorLimiter)}
}

func (p *limiterPool) For(conn *model.Connector) *connectorLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[conn.ID]; ok {
		return l
	}
	l := newConnectorLimiter(conn.RateLimit)
	p.limiters[conn.ID] = l
	return l
}
