package service

import (
	"time"

	"golang.org/x/time/rate"
)

// PointGate admits at most one live point per gesture per interval. Points
// inside the interval are dropped, never queued or merged.
//
// A gate belongs to one connection and is not safe for concurrent use.
type PointGate struct {
	interval time.Duration
	gestures map[string]*rate.Limiter
}

// gestures kept before idle limiters are swept
const gateSweepSize = 32

func NewPointGate(interval time.Duration) *PointGate {
	return &PointGate{
		interval: interval,
		gestures: make(map[string]*rate.Limiter),
	}
}

func (s *Service) NewPointGate() *PointGate {
	return NewPointGate(s.PointThrottle)
}

func (g *PointGate) Allow(gestureId string, at time.Time) bool {
	limiter, ok := g.gestures[gestureId]
	if !ok {
		if len(g.gestures) >= gateSweepSize {
			g.sweep(at)
		}
		limiter = rate.NewLimiter(rate.Every(g.interval), 1)
		g.gestures[gestureId] = limiter
	}
	// a refused point does not consume the token
	return limiter.AllowN(at, 1)
}

// sweep drops limiters that have refilled; they behave like new ones.
func (g *PointGate) sweep(at time.Time) {
	for id, limiter := range g.gestures {
		if limiter.TokensAt(at) >= 1 {
			delete(g.gestures, id)
		}
	}
}
