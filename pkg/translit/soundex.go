package translit

import (
	"strings"
	"unicode"
)

var soundexCodes = map[rune]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

// Soundex computes the English 4-code Soundex of a word. Cyrillic input is
// transliterated through GOST first so that phonetic matching works across
// mixed corpora. Returns "" for input without Latin letters after
// transliteration.
func Soundex(word string) string {
	word = strings.TrimSpace(word)
	if word == "" {
		return ""
	}
	if HasCyrillic(word) {
		word = Front(word, GOST)
	}
	word = strings.ToLower(word)

	// Keep only ASCII letters; digraph punctuation from GOST is dropped.
	var letters []rune
	for _, r := range word {
		if r >= 'a' && r <= 'z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	code := []byte{byte(unicode.ToUpper(letters[0]))}
	prev := soundexCodes[letters[0]]
	for _, r := range letters[1:] {
		c, ok := soundexCodes[r]
		switch {
		case ok && c != prev:
			code = append(code, c)
			prev = c
		case !ok:
			// h and w are transparent: they do not reset the previous code.
			if r != 'h' && r != 'w' {
				prev = 0
			}
		}
		if len(code) == 4 {
			break
		}
	}
	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}
