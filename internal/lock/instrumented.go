package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jwalitptl/booking-engine/pkg/metrics"
)

type instrumented struct {
	next    Locker
	metrics *metrics.Metrics
}

// Instrumented records wait time and timeouts per key scope ("slot", "generate").
func Instrumented(next Locker, m *metrics.Metrics) Locker {
	if m == nil {
		return next
	}
	return &instrumented{next: next, metrics: m}
}

func (l *instrumented) Acquire(ctx context.Context, key string) (Release, error) {
	scope, _, _ := strings.Cut(key, ":")
	start := time.Now()
	release, err := l.next.Acquire(ctx, key)
	l.metrics.LockWait.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	if errors.Is(err, ErrTimeout) {
		l.metrics.LockTimeouts.WithLabelValues(scope).Inc()
	}
	return release, err
}
