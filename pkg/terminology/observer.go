package terminology

import "time"

// Observer receives pipeline measurements. internal/metrics provides the
// Prometheus implementation.
type Observer interface {
	RequestFinished(state State, d time.Duration)
	StageFinished(stage State, d time.Duration)
	Candidates(tier string, n int)
	Degraded(tier string)
	FallbackCall(outcome string)
	EncoderBatch(n int)
}

// Fallback call outcomes.
const (
	FallbackOK      = "ok"
	FallbackTimeout = "timeout"
	FallbackError   = "error"
)

type nopObserver struct{}

func (nopObserver) RequestFinished(State, time.Duration) {}

func (nopObserver) StageFinished(State, time.Duration) {}

func (nopObserver) Candidates(string, int) {}

func (nopObserver) Degraded(string) {}

func (nopObserver) FallbackCall(string) {}

func (nopObserver) EncoderBatch(int) {}
