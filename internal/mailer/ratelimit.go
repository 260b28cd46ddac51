package mailer

import (
	"context"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Transport
	limiter *rate.Limiter
}

// RateLimited throttles t to perSecond sends shared across all callers.
// perSecond <= 0 returns t unchanged.
func RateLimited(t Transport, perSecond float64) Transport {
	if perSecond <= 0 {
		return t
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{next: t, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimited) Send(ctx context.Context, msg Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Send(ctx, msg)
}
