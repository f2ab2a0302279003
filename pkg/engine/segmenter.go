package engine

import (
	"strings"

	"github.com/voxdesk/voxdesk/pkg/adapters/tts"
)

const (
	commaFlushMin = 10
	forceFlushLen = 50
)

// segmenter accumulates model tokens and ships speakable fragments to the
// synthesizer early, so audio starts before the full reply exists. A
// fragment is cut at a sentence ender, at a comma once enough text is
// buffered, or whenever the buffer outgrows the force threshold.
type segmenter struct {
	out tts.StreamingTTS
	buf strings.Builder
}

func newSegmenter(out tts.StreamingTTS) *segmenter {
	return &segmenter{out: out}
}

func (s *segmenter) Push(token string) {
	s.buf.WriteString(token)
	for {
		text := s.buf.String()
		cut := boundary(text)
		if cut < 0 {
			if len(text) > forceFlushLen {
				s.emit(text)
				s.buf.Reset()
			}
			return
		}
		s.emit(text[:cut])
		s.buf.Reset()
		s.buf.WriteString(text[cut:])
	}
}

// FlushRemainder ships whatever is buffered, boundary or not.
func (s *segmenter) FlushRemainder() {
	if s.buf.Len() == 0 {
		return
	}
	s.emit(s.buf.String())
	s.buf.Reset()
}

func (s *segmenter) emit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if s.out != nil {
		_ = s.out.SendText(text)
	}
}

// boundary returns the index just past the first flushable break, or -1.
func boundary(text string) int {
	for i, r := range text {
		switch r {
		case '.', '!', '?':
			return i + 1
		case ',':
			if i+1 >= commaFlushMin {
				return i + 1
			}
		}
	}
	return -1
}
