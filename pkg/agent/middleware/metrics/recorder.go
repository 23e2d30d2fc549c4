// Package metrics records latency, token usage and failures for model requests.
package metrics

import "time"

// Observation describes one finished model request.
type Observation struct {
	Model string
	Mode  string
	Stage string
	// Token counts are zero for failed requests.
	PromptTokens     int
	CompletionTokens int
	// ErrorType is empty on success.
	ErrorType string
	Duration  time.Duration
}

// Succeeded reports whether the request returned without error.
func (o *Observation) Succeeded() bool { return o.ErrorType == "" }

// Recorder receives one observation per model request.
type Recorder interface {
	Observe(o Observation)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Observation)

// Observe calls f.
func (f RecorderFunc) Observe(o Observation) { f(o) }

// Nop returns a recorder for when metrics are disabled.
func Nop() Recorder { return RecorderFunc(func(Observation) {}) }
