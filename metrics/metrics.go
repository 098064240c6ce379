// Package metrics records client events and latencies.
package metrics

import "time"

// Event and operation names reported by the client.
const (
	EventEvaluation    = "evaluation"
	EventCacheHit      = "cache_hit"
	EventPayment       = "payment"
	EventPaymentFailed = "payment_failed"
	EventDispatch      = "dispatch"

	OpDispatch = "dispatch"
	OpConfirm  = "confirm"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
