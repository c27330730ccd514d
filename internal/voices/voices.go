package voices

import "strings"

// Default is the voice used when a request does not name one.
const Default = "tara"

// All lists the Orpheus voice identifiers in preference order.
var All = []string{"tara", "leah", "jess", "leo", "dan", "mia", "zac", "zoe"}

// EmotionTags are the inline tags the model understands inside input text.
var EmotionTags = []string{
	"<laugh>", "<chuckle>", "<sigh>", "<cough>",
	"<sniffle>", "<groan>", "<yawn>", "<gasp>",
}

// Valid reports whether id names a known voice.
func Valid(id string) bool {
	for _, v := range All {
		if v == id {
			return true
		}
	}
	return false
}

// DisplayName returns the capitalized form used in API listings.
func DisplayName(id string) string {
	if id == "" {
		return ""
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// Description returns the listing description for a voice.
func Description(id string) string {
	desc := "Orpheus TTS voice: " + id
	if id == Default {
		desc += " (recommended)"
	}
	return desc
}
