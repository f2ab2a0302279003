package session

import (
	"sort"
	"strings"

	"github.com/voxdesk/voxdesk/pkg/tenant"
)

const farewellLine = "Thanks for calling. Have a great day!"

const idleLine = "I haven't heard anything for a while, so I'll let you go. Call back any time!"

// buildSystemPrompt renders the receptionist instructions for one call.
// Replies are kept short because they are spoken, not read.
func buildSystemPrompt(snap tenant.Snapshot) string {
	name := snap.Name
	if name == "" {
		name = "our business"
	}
	tone := snap.Tone
	if tone == "" {
		tone = "friendly"
	}
	var b strings.Builder
	b.WriteString("You are the phone receptionist for " + name + ".")
	if snap.Industry != "" {
		b.WriteString(" The business is in the " + snap.Industry + " industry.")
	}
	b.WriteString(" Keep a " + tone + " tone.")
	b.WriteString(" You are on a live phone call, so answer in 15 to 25 words, one or two short sentences, no lists or markup.")
	b.WriteString(" Use the provided tools to look up bookings, services, opening hours, policies, and FAQs before answering questions about them.")
	b.WriteString(" Never invent prices, times, or policies. If a lookup returns nothing, say so and offer to take a message.")
	b.WriteString(" If the caller wants to make or change a booking, collect their name, the service, and a preferred time, then confirm it back.")
	keys := make([]string, 0, len(snap.PromptVars))
	for k := range snap.PromptVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(snap.PromptVars[k]); v != "" {
			b.WriteString(" " + v)
		}
	}
	return b.String()
}
