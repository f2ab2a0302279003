package deepgram

import "testing"

func TestSTTConfigDefaults(t *testing.T) {
	s := NewSTT(STTConfig{APIKey: "key"}, nil)

	if s.cfg.SampleRate != 8000 || s.cfg.Encoding != "mulaw" || s.cfg.Channels != 1 {
		t.Fatalf("audio defaults = %d/%s/%d", s.cfg.SampleRate, s.cfg.Encoding, s.cfg.Channels)
	}
	if s.cfg.UtteranceEndMS != 2000 || s.cfg.EndpointingMS != 2500 {
		t.Fatalf("timing defaults = %d/%d", s.cfg.UtteranceEndMS, s.cfg.EndpointingMS)
	}
	if s.cfg.MaxReconnects != 5 {
		t.Fatalf("max reconnects = %d", s.cfg.MaxReconnects)
	}
	if s.cfg.Punctuate == nil || !*s.cfg.Punctuate {
		t.Fatalf("punctuate must default to on")
	}
}

func TestSTTConfigPunctuateOptOut(t *testing.T) {
	off := false
	s := NewSTT(STTConfig{APIKey: "key", Punctuate: &off}, nil)
	if *s.cfg.Punctuate {
		t.Fatalf("explicit punctuate=false was overridden")
	}
}
