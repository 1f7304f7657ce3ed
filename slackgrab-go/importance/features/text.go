package features

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultUrgentKeywords are always matched by the urgent keyword feature.
var DefaultUrgentKeywords = []string{
	"urgent", "asap", "important", "critical", "emergency",
	"deadline", "priority", "immediately", "alert", "issue",
}

const (
	maxTextLength    = 4000
	maxWordCount     = 500
	maxExclamations  = 5
	maxAvgWordLength = 20
)

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)
	emojiPattern   = regexp.MustCompile(`:[a-z_]+:`)
)

type textFeatures struct {
	keywords []string
}

func newTextFeatures(extra []string) textFeatures {
	var keywords []string
	for _, k := range append(append([]string(nil), DefaultUrgentKeywords...), extra...) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return textFeatures{keywords: keywords}
}

// extract fills out[0:10]. Empty text leaves every feature at zero.
func (t textFeatures) extract(text string, extraKeywords []string, out []float64) {
	if text == "" {
		return
	}

	length := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))

	out[0] = capped(float64(length), maxTextLength)
	out[1] = capped(float64(words), maxWordCount)
	out[2] = boolFeature(strings.Contains(text, "?"))
	out[3] = boolFeature(urlPattern.MatchString(text))
	out[4] = boolFeature(mentionPattern.MatchString(text))
	out[5] = boolFeature(emojiPattern.MatchString(text))

	var upper, letters int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters > 0 {
		out[6] = float64(upper) / float64(letters)
	}

	out[7] = capped(float64(strings.Count(text, "!")), maxExclamations)
	if words > 0 {
		out[8] = capped(float64(length)/float64(words), maxAvgWordLength)
	}
	out[9] = boolFeature(t.hasUrgentKeyword(strings.ToLower(text), extraKeywords))
}

func (t textFeatures) hasUrgentKeyword(lower string, extra []string) bool {
	for _, k := range t.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	for _, k := range extra {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
