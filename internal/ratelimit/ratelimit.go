package ratelimit

import (
	"context"
	"time"
)

// Rule is a token bucket: RPS tokens refill per second up to Burst.
type Rule struct {
	RPS   float64
	Burst float64
	Cost  float64
}

type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
	Remaining         float64
	LimitRPS          float64
	Burst             float64
}

type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Decision, error)
	Backend() string
	Close() error
}

func (r Rule) cost() float64 {
	if r.Cost <= 0 {
		return 1
	}
	return r.Cost
}

// retryAfter rounds the refill time for missing tokens up to whole seconds.
func retryAfter(missing, rps float64) int {
	if rps <= 0 || missing <= 0 {
		return 1
	}
	d := time.Duration(missing / rps * float64(time.Second))
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
