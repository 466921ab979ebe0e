// Package resilience provides fault tolerance for external mail server
// calls.
package resilience

import (
	"time"

	"relay_server/pkg/logger"

	"github.com/sony/gobreaker"
)

// NewMailBreaker builds a circuit breaker tuned for IMAP/SMTP sessions:
// it trips on a burst of consecutive failures or a sustained failure
// ratio, and probes recovery with a few half-open requests.
func NewMailBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}
