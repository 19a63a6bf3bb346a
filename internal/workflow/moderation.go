package workflow

import (
	"regexp"
	"strings"
)

// hiddenNegativePrompt is appended to every negative prompt as a
// defense-in-depth layer independent of the denylist. It is never shown to
// the caller and is not user-editable.
const hiddenNegativePrompt = "nsfw, nudity, naked, explicit, adult content, violence, gore, disturbing content, low quality, bad anatomy, bad hands, text, error, missing fingers, extra digit, fewer digits, cropped, worst quality, low quality, normal quality, jpeg artifacts, signature, watermark, username, blurry, artist name, bad anatomy, bad proportions, extra limbs, extra fingers, mutated hands, poorly drawn hands, poorly drawn face, mutation, deformed, ugly"

var forbiddenWords = []string{
	"nsfw", "nudity", "naked", "explicit", "porn", "pornography", "sex", "sexual",
	"violence", "gore", "blood", "bloody", "kill", "killing", "murder",
	"hate", "hateful", "racist", "racism", "nazi", "terrorist", "terrorism",
	"illegal", "drug", "drugs", "cocaine", "heroin", "meth", "crack",
	"weapon", "gun", "knife", "bomb", "explosive",
	"copyrighted", "trademarked", "watermark", "signature",
}

var (
	forbiddenPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenWords, "|") + `)\b`)
	separatorRuns    = regexp.MustCompile(`(\s*,\s*)+`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
)

// FilterText removes every denylisted term (case-insensitive, whole-word),
// collapses the separators a removal leaves dangling, collapses runs of
// whitespace and trims. Pure and idempotent.
func FilterText(text string) string {
	if text == "" {
		return text
	}
	out := forbiddenPattern.ReplaceAllString(text, "")
	out = separatorRuns.ReplaceAllString(out, ", ")
	out = whitespaceRuns.ReplaceAllString(out, " ")
	return strings.Trim(out, " ,")
}

// ComposeNegative filters the user's negative prompt and combines it with the
// hidden safety suffix. When the filtered user text is empty the suffix is
// used alone.
func ComposeNegative(userNegative string) string {
	filtered := FilterText(userNegative)
	if filtered == "" {
		return hiddenNegativePrompt
	}
	return filtered + ", " + hiddenNegativePrompt
}
