package recovery

import (
	"fmt"
	"sync"

	"pdfmill/observability"
)

// Strict fails on the first malformed construct. Useful for validating
// output we produced ourselves.
type Strict struct{}

func (Strict) OnError(err error, loc Location) Action { return ActionFail }

// Lenient repairs whatever it can and records everything it saw. This is
// the default for parsing uploaded documents.
type Lenient struct {
	Log observability.Logger

	mu     sync.Mutex
	errors []error
}

func NewLenient(log observability.Logger) *Lenient {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Lenient{Log: log}
}

func (l *Lenient) OnError(err error, loc Location) Action {
	l.mu.Lock()
	l.errors = append(l.errors, fmt.Errorf("%s at offset %d: %w", loc.Component, loc.ByteOffset, err))
	l.mu.Unlock()
	l.Log.Warn("repaired malformed construct",
		observability.String("component", loc.Component),
		observability.Int64("offset", loc.ByteOffset),
		observability.Int("obj", loc.ObjectNum),
		observability.Error("cause", err),
	)
	return ActionFix
}

// Errors returns every defect repaired so far, in detection order.
func (l *Lenient) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]error, len(l.errors))
	copy(out, l.errors)
	return out
}
