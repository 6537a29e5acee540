// Package recovery decides how parsing layers react to malformed input.
//
// Real-world PDFs are frequently non-conformant, so every layer that can
// detect damage (scanner, xref resolver, object loader) reports it through a
// Strategy instead of failing outright. The strategy decides whether the
// error is fatal, repairable, or ignorable.
package recovery

// Location identifies where in the file an error was detected.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

// Action tells the reporting layer how to proceed.
type Action int

const (
	// ActionFail aborts parsing with the reported error.
	ActionFail Action = iota
	// ActionSkip drops the damaged construct and continues.
	ActionSkip
	// ActionFix continues with the layer's best-effort repair of the
	// construct (for example, closing an unterminated string at EOF).
	ActionFix
)

// Strategy is consulted on every recoverable parse error.
type Strategy interface {
	OnError(err error, loc Location) Action
}
