// Package translit implements Cyrillic/Latin transliteration per GOST
// 16876-71 and ISO 9:1995, plus the English 4-code Soundex used for
// phonetic author matching.
package translit

import (
	"sort"
	"strings"
	"unicode"
)

// System selects which transliteration table is used.
type System int

const (
	GOST System = iota
	ISO
)

// gostTable is GOST 16876-71 (ASCII digraph rendition). Every value is
// distinct enough for the longest-match reverse pass to round-trip the
// core alphabet.
var gostTable = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d",
	'е': "e", 'ё': "jo", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "j", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "kh", 'ц': "c", 'ч': "ch",
	'ш': "sh", 'щ': "shh", 'ъ': "\"", 'ы': "y", 'ь': "'",
	'э': "eh", 'ю': "ju", 'я': "ja",
}

// isoTable is ISO 9:1995 system A (one diacritic-bearing Latin letter per
// Cyrillic letter), which round-trips by construction.
var isoTable = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d",
	'е': "e", 'ё': "ë", 'ж': "ž", 'з': "z", 'и': "i",
	'й': "j", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "h", 'ц': "c", 'ч': "č",
	'ш': "š", 'щ': "ŝ", 'ъ': "ʺ", 'ы': "y", 'ь': "ʹ",
	'э': "è", 'ю': "û", 'я': "â",
}

type reverseEntry struct {
	latin    string
	cyrillic rune
}

var (
	gostReverse = buildReverse(gostTable)
	isoReverse  = buildReverse(isoTable)
)

// buildReverse inverts a table and orders entries longest-first so the
// reverse pass greedily matches digraphs before single letters.
func buildReverse(table map[rune]string) []reverseEntry {
	entries := make([]reverseEntry, 0, len(table))
	for cyr, lat := range table {
		entries = append(entries, reverseEntry{latin: lat, cyrillic: cyr})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].latin) != len(entries[j].latin) {
			return len(entries[i].latin) > len(entries[j].latin)
		}
		return entries[i].latin < entries[j].latin
	})
	return entries
}

func table(system System) (map[rune]string, []reverseEntry) {
	if system == ISO {
		return isoTable, isoReverse
	}
	return gostTable, gostReverse
}

// Front transliterates Cyrillic text to Latin. Unknown runes pass through
// unchanged. Case is preserved on the first letter of digraphs.
func Front(s string, system System) string {
	tbl, _ := table(system)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lower := unicode.ToLower(r)
		lat, ok := tbl[lower]
		if !ok {
			b.WriteRune(r)
			continue
		}
		if unicode.IsUpper(r) && lat != "" {
			runes := []rune(lat)
			runes[0] = unicode.ToUpper(runes[0])
			lat = string(runes)
		}
		b.WriteString(lat)
	}
	return b.String()
}

// Back transliterates Latin text to Cyrillic using longest-match scanning.
// Unknown characters pass through unchanged.
func Back(s string, system System) string {
	_, rev := table(system)
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); {
		matched := false
		for _, e := range rev {
			latRunes := []rune(e.latin)
			if i+len(latRunes) > len(runes) {
				continue
			}
			upper := unicode.IsUpper(runes[i])
			ok := true
			for j, lr := range latRunes {
				if unicode.ToLower(runes[i+j]) != lr {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}
			cyr := e.cyrillic
			if upper {
				cyr = unicode.ToUpper(cyr)
			}
			b.WriteRune(cyr)
			i += len(latRunes)
			matched = true
			break
		}
		if !matched {
			b.WriteRune(runes[i])
			i++
		}
	}
	return b.String()
}

// HasCyrillic reports whether s contains at least one Cyrillic rune.
func HasCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

// HasLatin reports whether s contains at least one Latin letter.
func HasLatin(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}
