package tts

import (
	"unicode"
)

// Word is a pacing unit with its rune offset in the source text.
type Word struct {
	Index int
	Text  string
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) || r == 'ー'
}

// SplitWords splits text into pacing units. Runs of CJK characters have no
// spaces, so they are cut every two runes; everything else splits on spaces
// and punctuation.
func SplitWords(text string) []Word {
	var (
		words []Word
		cur   []rune
		start int
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, Word{Index: start, Text: string(cur)})
			cur = cur[:0]
		}
	}

	for i, r := range []rune(text) {
		switch {
		case isCJK(r):
			if len(cur) > 0 && !isCJK(cur[0]) {
				flush()
			}
			if len(cur) == 0 {
				start = i
			}
			cur = append(cur, r)
			if len(cur) == 2 {
				flush()
			}
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			flush()
		default:
			if len(cur) > 0 && isCJK(cur[0]) {
				flush()
			}
			if len(cur) == 0 {
				start = i
			}
			cur = append(cur, r)
		}
	}
	flush()
	return words
}
