package matcher

import (
	"regexp"
	"strings"
	"unicode"
)

// separators split "Artist - Title" style names, in priority order.
var separators = []string{" - ", " – ", " — ", " ~ "}

// bracketNoise matches bracketed annotations that never belong to a title.
var bracketNoise = regexp.MustCompile(`(?i)[\(\[](?:[^\)\]]*\b(?:official|video|audio|lyrics?|hd|hq|4k|visuali[sz]er|premiere|out now|free download)\b[^\)\]]*)[\)\]]`)

// noiseSuffixes are stripped from normalized strings before scoring.
var noiseSuffixes = []string{
	"radio version",
	"radio edit",
	"original mix",
	"extended mix",
	"instrumental",
	"remix",
	"remastered",
	"official video",
	"official audio",
}

// Clean removes bracketed noise from a raw track name and collapses spaces.
func Clean(name string) string {
	return strings.Join(strings.Fields(bracketNoise.ReplaceAllString(name, " ")), " ")
}

// Split returns the artist and title of a cleaned "Artist - Title" name.
// ok is false when no reliable split exists.
func Split(name string) (artist, title string, ok bool) {
	for _, sep := range separators {
		before, after, found := strings.Cut(name, sep)
		if !found {
			continue
		}
		artist, title = strings.TrimSpace(before), strings.TrimSpace(after)
		if artist == "" || title == "" {
			return "", "", false
		}
		return artist, title, true
	}
	return "", "", false
}

// Normalize lowercases s, strips punctuation and noise suffixes and collapses
// whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")

	// Suffixes can stack, e.g. "original mix remastered".
	for trimmed := true; trimmed; {
		trimmed = false
		for _, suffix := range noiseSuffixes {
			if out == suffix {
				continue
			}
			if strings.HasSuffix(out, " "+suffix) {
				out = strings.TrimSpace(strings.TrimSuffix(out, suffix))
				trimmed = true
			}
		}
	}
	return out
}
