package session

import (
	"strings"
	"unicode"
)

// cleanTranscript strips punctuation and collapses whitespace so length
// checks and phrase matching are not fooled by filler characters.
func cleanTranscript(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var farewellPhrases = []string{
	"bye",
	"goodbye",
	"good bye",
	"see you",
	"see ya",
	"that's all",
	"thats all",
	"that is all",
	"that'll be all",
	"that will be all",
	"nothing else",
	"no that's it",
	"that's it thanks",
	"thats it thanks",
	"i'm done",
	"im done",
	"hang up",
}

// isFarewell reports whether an utterance signals the caller is finished.
// Gratitude alone is not a farewell: "thanks" keeps the call open, while
// "thanks, that's all" closes it.
func isFarewell(utterance string) bool {
	u := strings.ToLower(cleanTranscript(utterance))
	if u == "" {
		return false
	}
	for _, phrase := range farewellPhrases {
		p := cleanTranscript(phrase)
		if u == p || strings.HasPrefix(u, p+" ") || strings.HasSuffix(u, " "+p) || strings.Contains(u, " "+p+" ") {
			return true
		}
	}
	return false
}

var bookingIntentWords = []string{
	"book",
	"booking",
	"appointment",
	"reserve",
	"reservation",
	"schedule",
	"reschedule",
}

// hasBookingIntent flags utterances that mention making or changing a
// booking, so the call summary can be written to the booking sink.
func hasBookingIntent(utterance string) bool {
	u := " " + strings.ToLower(cleanTranscript(utterance)) + " "
	for _, w := range bookingIntentWords {
		if strings.Contains(u, " "+w) {
			return true
		}
	}
	return false
}
