// Package status defines the single, typed channel through which the
// contribution core talks to a presentation layer. The core never formats
// output for a specific UI; it only ever calls Sink.Emit.
package status

import (
	"fmt"

	"github.com/rivo/uniseg"
)

var sprintf = fmt.Sprintf

// maxMessageWidth bounds the display width of a status message so that a
// long circuit title or hash does not blow out a narrow terminal-oriented
// presentation layer. Truncation is grapheme-cluster aware via uniseg so
// multi-byte titles are never cut mid-rune.
const maxMessageWidth = 240

// An Event is one emission of the sink: a human-readable message, an
// optional busy indicator (spinner on/off), and an optional attestation
// reference populated only by the finalizer's terminal event.
type Event struct {
	Message        string
	Busy           bool
	AttestationRef string
}

// A Sink receives status events from the contribution core. Implementations
// must not block for long; the dispatcher calls Emit synchronously from its
// hot path.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Message emits a status message with no busy indicator and no attestation
// reference.
func Message(s Sink, format string, a ...any) {
	s.Emit(Event{Message: truncate(sprintf(format, a...))})
}

// Busy emits a status message with the busy indicator set, signaling that a
// long-running step (download, compute, upload, verify) is in progress.
func Busy(s Sink, format string, a ...any) {
	s.Emit(Event{Message: truncate(sprintf(format, a...)), Busy: true})
}

// Attestation emits the terminal event of a session: the finalized,
// published attestation reference.
func Attestation(s Sink, ref string) {
	s.Emit(Event{Message: "Your attestation has been published", AttestationRef: ref})
}

func truncate(s string) string {
	if uniseg.GraphemeClusterCount(s) <= maxMessageWidth {
		return s
	}
	gr := uniseg.NewGraphemes(s)
	var out []rune
	for gr.Next() && len(out) < maxMessageWidth {
		out = append(out, gr.Runes()...)
	}
	return string(out) + "…"
}
