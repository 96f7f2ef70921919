// Package emitter implements the intent stream and document reconstruction
// (C10): Environments append Intents as they evaluate; at the end of
// evaluation the emitter collapses/concatenates them into the reconstructed
// document.
package emitter

import "strings"

// Kind discriminates an Intent.
type Kind string

const (
	KindContent Kind = "content"
	KindBreak   Kind = "break"
	KindError   Kind = "error"
)

// Source names where a content intent originated.
type Source string

const (
	SourceText     Source = "text"
	SourceDirective Source = "directive"
	SourcePipeline Source = "pipeline"
)

// Visibility controls whether content survives non-interpolation contexts.
type Visibility string

const (
	VisibilityAlways            Visibility = "always"
	VisibilityInterpolationOnly Visibility = "interpolation-only"
)

// Intent is one unit of document output (§3.3).
type Intent struct {
	Kind        Kind
	Text        string
	Source      Source
	Visibility  Visibility
	Collapsible bool
}

// Content builds a content intent. Break intents are always collapsible;
// content intents are never collapsible per §3.3.
func Content(text string, source Source, visibility Visibility) Intent {
	return Intent{Kind: KindContent, Text: text, Source: source, Visibility: visibility, Collapsible: false}
}

// Break builds a break (newline) intent.
func Break(text string) Intent {
	return Intent{Kind: KindBreak, Text: text, Collapsible: true}
}

// ErrorIntent builds a non-fatal error intent, rendered prefixed and always
// visible even in --stdout mode.
func ErrorIntent(message string) Intent {
	return Intent{Kind: KindError, Text: message, Collapsible: false}
}

// Render reconstructs the document from an ordered intent stream, collapsing
// runs of consecutive break intents to at most two newlines (§4.10, tested
// by universal invariant #6).
func Render(intents []Intent) string {
	var b strings.Builder
	breakRun := 0
	flushBreaks := func() {
		if breakRun == 0 {
			return
		}
		n := breakRun
		if n > 2 {
			n = 2
		}
		b.WriteString(strings.Repeat("\n", n))
		breakRun = 0
	}
	for _, in := range intents {
		switch in.Kind {
		case KindBreak:
			breakRun++
		case KindContent:
			flushBreaks()
			b.WriteString(in.Text)
		case KindError:
			flushBreaks()
			b.WriteString("Error: ")
			b.WriteString(in.Text)
		}
	}
	flushBreaks()
	return b.String()
}

// VisibleRender reconstructs the document excluding interpolation-only
// content intents, used for the final user-facing output; interpolation-only
// content remains in the raw intent list for introspection/testing.
func VisibleRender(intents []Intent) string {
	filtered := make([]Intent, 0, len(intents))
	for _, in := range intents {
		if in.Kind == KindContent && in.Visibility == VisibilityInterpolationOnly {
			continue
		}
		filtered = append(filtered, in)
	}
	return Render(filtered)
}
