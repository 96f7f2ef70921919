package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreakRunsCollapseToAtMostTwoNewlines(t *testing.T) {
	intents := []Intent{
		Content("a", SourceText, VisibilityAlways),
		Break("\n"), Break("\n"), Break("\n"), Break("\n"),
		Content("b", SourceText, VisibilityAlways),
	}
	got := Render(intents)
	assert.Equal(t, "a\n\nb", got)
}

func TestTextInterpolationScenarioS1(t *testing.T) {
	intents := []Intent{
		Content("Hello, World!", SourceDirective, VisibilityAlways),
		Break("\n"),
	}
	got := Render(intents)
	assert.Equal(t, "Hello, World!\n", got)
}

func TestErrorIntentIsPrefixedAndVisible(t *testing.T) {
	intents := []Intent{ErrorIntent("boom")}
	got := VisibleRender(intents)
	assert.Equal(t, "Error: boom", got)
}

func TestInterpolationOnlyContentExcludedFromVisibleRender(t *testing.T) {
	intents := []Intent{
		Content("hidden", SourceText, VisibilityInterpolationOnly),
		Content("shown", SourceText, VisibilityAlways),
	}
	assert.Equal(t, "shown", VisibleRender(intents))
	assert.Equal(t, "hiddenshown", Render(intents))
}
