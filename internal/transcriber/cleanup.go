package transcriber

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NoSpeechMarker replaces local transcripts that carry no usable speech.
const NoSpeechMarker = "[No clear speech detected]"

var (
	multiSpace  = regexp.MustCompile(` {2,}`)
	fillerWords = map[string]bool{
		"uh": true, "um": true, "uhm": true, "er": true, "erm": true,
		"ah": true, "hmm": true, "hm": true, "mm": true,
	}
)

// CleanText normalizes a local transcript. Applying it twice gives the same
// result as applying it once.
func CleanText(text string) string {
	text = strings.TrimSpace(text)
	text = multiSpace.ReplaceAllString(text, " ")
	text = capitalizeFirst(text)

	n := utf8.RuneCountInString(text)
	if n < 3 || (n < 10 && hasFiller(text)) {
		return NoSpeechMarker
	}
	return text
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func hasFiller(text string) bool {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if fillerWords[word] {
			return true
		}
	}
	return false
}

// Token is one recognized unit with its confidence in [0,1].
type Token struct {
	Text       string
	Confidence float64
}

// localConfidence is the length-weighted token confidence, nudged up for
// longer transcripts and clamped to [0.3, 1.0].
func localConfidence(text string, tokens []Token) float64 {
	var weighted, total float64
	for _, tok := range tokens {
		w := float64(utf8.RuneCountInString(tok.Text)) / 5
		if w < 1 {
			w = 1
		}
		weighted += tok.Confidence * w
		total += w
	}

	var base float64
	if total > 0 {
		base = weighted / total
	}

	length := utf8.RuneCountInString(text)
	if length > 500 {
		length = 500
	}
	boost := float64(length) / 500 * 0.1

	return clamp(base+boost, 0.3, 1.0)
}
