package ui

import (
	"strings"
	"testing"
)

func TestRenderPlainWhenDisabled(t *testing.T) {
	orig := colorEnabled
	defer func() { colorEnabled = orig }()

	Disable()

	renderers := map[string]func(string) string{
		"pass":   RenderPass,
		"warn":   RenderWarn,
		"fail":   RenderFail,
		"accent": RenderAccent,
		"muted":  RenderMuted,
		"header": RenderHeader,
	}

	for name, render := range renderers {
		if got := render("hello"); got != "hello" {
			t.Errorf("%s: expected unstyled %q, got %q", name, "hello", got)
		}
	}
}

func TestRenderKeepsContent(t *testing.T) {
	orig := colorEnabled
	defer func() { colorEnabled = orig }()

	colorEnabled = true

	// Styled or not, the original text must survive rendering.
	for _, render := range []func(string) string{
		RenderPass, RenderWarn, RenderFail, RenderAccent, RenderMuted, RenderHeader,
	} {
		if got := render("status"); !strings.Contains(got, "status") {
			t.Errorf("Expected rendered output to contain %q, got %q", "status", got)
		}
	}
}
