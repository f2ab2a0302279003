package redact

import (
	"strings"
	"testing"
)

const transcript = "sure, it's jess@example.com and my mobile is +61 400 123 456"

func TestTextPassThroughWhenDisabled(t *testing.T) {
	SetEnabled(false)
	t.Cleanup(func() { SetEnabled(false) })
	if got := Text(transcript); got != transcript {
		t.Fatalf("expected pass-through, got %q", got)
	}
}

func TestTextMasksCallerContactDetails(t *testing.T) {
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })

	got := Text(transcript)
	if strings.Contains(got, "jess@example.com") {
		t.Fatalf("email leaked: %q", got)
	}
	if strings.Contains(got, "400 123 456") {
		t.Fatalf("phone leaked: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_EMAIL]") || !strings.Contains(got, "[REDACTED_PHONE]") {
		t.Fatalf("expected both placeholders, got %q", got)
	}
	if !strings.Contains(got, "my mobile is") {
		t.Fatalf("surrounding speech must survive, got %q", got)
	}
}
