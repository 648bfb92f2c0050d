package recall

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-voicebot/pkg/memory"
)

// MemoryInstructions teaches the model the <memories> block syntax.
const MemoryInstructions = `
=== MEMORY SYSTEM INSTRUCTIONS === Memories are separate from Recent Conversation History. During conversations or when you meet a new person, you should consider storing or modifying memories by utilizing one of the three formats listed. Add a new memory: <memories>[ keywords: words, separated, by, commas, go, here ],[ Brief summary of what to remember ],[ Optional: Relevant conversation excerpts or more detailed content or leave this blank ]</memories> You can also modify existing memories: <memories>modify/[ memory ID or a keyword associated with memory ],[ New summary ],[ New detailed content ]</memories> Or you can delete outdated memories: <memories>delete/[ memory ID or a keyword associated with memory ]</memories> Guidelines: Store memories about: user preferences, important facts, interesting topics. Keep summaries concise but informative. Keywords are triggered by users, and will automatically remind you of your memory in a later conversation. Use clear keywords that you think a user might say in the future within the same or similar context. Update or delete memories that become outdated or incorrect. Memory System formats should be added after your response and will not be visible to users. === END MEMORY INSTRUCTIONS ===
`

const (
	dateLayout      = "Monday, January 2, 2006"
	timeLayout      = "3:04 PM"
	shortDateLayout = "1/2/2006"
	logTimeLayout   = "3:04:05 PM"

	// Longer contents are left out of the prompt; the summary stands in.
	maxDetailChars = 200
)

// ExpandPlaceholders replaces %DATE%, %TIME%, %YEAR% and %DATETIME% in
// prompt with values for now.
func ExpandPlaceholders(prompt string, now time.Time) string {
	date, clock := now.Format(dateLayout), now.Format(timeLayout)
	return strings.NewReplacer(
		"%DATETIME%", date+" at "+clock,
		"%DATE%", date,
		"%TIME%", clock,
		"%YEAR%", now.Format("2006"),
	).Replace(prompt)
}

func participantsSection(ps []Participant) string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		name := p.DisplayName
		if name == "" {
			name = "User " + p.ID
		}
		names = append(names, name)
	}

	var sb strings.Builder
	sb.WriteString("\n\n=== USER INFORMATION ===\n")
	if len(names) > 1 {
		fmt.Fprintf(&sb, "You are currently in a conversation with multiple people: %s.\n", strings.Join(names, ", "))
		sb.WriteString("The conversation may have multiple speakers. Pay attention to who is saying what.\n\n")
	} else {
		fmt.Fprintf(&sb, "You are currently talking to %s.\n\n", strings.Join(names, ", "))
	}
	return sb.String()
}

// FormatMemories renders recalled memories for the prompt.
func FormatMemories(recs []memory.Record, loc *time.Location) string {
	if len(recs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("=== RELEVANT MEMORIES ===\n")
	for i, r := range recs {
		fmt.Fprintf(&sb, "%d. %s (id %d, %s, accessed %dx)\n",
			i+1, r.Summary, r.ID, r.CreatedAt.In(loc).Format(shortDateLayout), r.AccessCount)
		if r.Content != r.Summary && len(r.Content) < maxDetailChars {
			fmt.Fprintf(&sb, "   Details: %s\n", r.Content)
		}
	}
	sb.WriteString("=== END MEMORIES ===\n\n")
	return sb.String()
}

// FormatHistory renders recent chat log entries for the prompt.
func FormatHistory(entries []memory.ChatEntry, loc *time.Location) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("=== RECENT CONVERSATION HISTORY ===\n")
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = "User " + e.OwnerID
		}
		at := e.At.In(loc)
		fmt.Fprintf(&sb, "[%s %s]\n%s: %s\nAssistant: %s\n\n",
			at.Format(shortDateLayout), at.Format(logTimeLayout), name, e.UserMessage, e.Response)
	}
	sb.WriteString("=== END HISTORY ===\n\n")
	return sb.String()
}
