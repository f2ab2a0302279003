package session

import "testing"

func TestIsFarewell(t *testing.T) {
	cases := []struct {
		utterance string
		want      bool
	}{
		{"bye", true},
		{"goodbye", true},
		{"ok bye now", true},
		{"thanks, that's all", true},
		{"thanks that is all", true},
		{"no, nothing else", true},
		{"thanks", false},
		{"thank you so much", false},
		{"maybe tomorrow", false},
		{"can you book me in", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isFarewell(c.utterance); got != c.want {
			t.Fatalf("isFarewell(%q) = %v, want %v", c.utterance, got, c.want)
		}
	}
}

func TestHasBookingIntent(t *testing.T) {
	cases := []struct {
		utterance string
		want      bool
	}{
		{"i'd like to book a haircut", true},
		{"can i make an appointment", true},
		{"i need to reschedule", true},
		{"what are your opening hours", false},
		{"do you do colour", false},
	}
	for _, c := range cases {
		if got := hasBookingIntent(c.utterance); got != c.want {
			t.Fatalf("hasBookingIntent(%q) = %v, want %v", c.utterance, got, c.want)
		}
	}
}

func TestCleanTranscript(t *testing.T) {
	if got := cleanTranscript("  Hello,   world!  "); got != "Hello world" {
		t.Fatalf("unexpected clean: %q", got)
	}
	if got := cleanTranscript("uh... h-m."); got != "uh hm" {
		t.Fatalf("unexpected clean: %q", got)
	}
}
