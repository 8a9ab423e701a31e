// Package metrics defines the observability capability the engine,
// classifier, director and memory store accept at construction. The API
// server injects a Prometheus-backed implementation; everything else
// defaults to Noop.
package metrics

import (
	"time"

	"github.com/indraastra/iffy-sub000/pkg/llm"
)

// Recorder receives observability events from the core components.
// Implementations must be safe for concurrent use; memory compaction
// reports from a background goroutine.
type Recorder interface {
	// RecordTurn is called once per completed director invocation.
	RecordTurn(mode string, duration time.Duration, usage llm.Usage)

	// RecordClassification is called once per classify call with the
	// number of model attempts consumed and the resolved mode.
	RecordClassification(attempts int, mode string)

	// RecordCompaction is called when a memory compaction finishes.
	// err is nil on success; before/after are memory counts.
	RecordCompaction(before, after int, err error)
}

// Noop discards all events.
type Noop struct{}

func (Noop) RecordTurn(string, time.Duration, llm.Usage) {}
func (Noop) RecordClassification(int, string)            {}
func (Noop) RecordCompaction(int, int, error)            {}

var _ Recorder = Noop{}
