package models

import (
	"crypto/md5" //nolint:gosec // fingerprint, not security
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// The duplicate key is an MD5 fingerprint of a canonicalized
// title|author|language|sequence tuple. The canonicalization below has to
// survive titles mangled by many FB2 toolchains: embedded volume numbers in
// three notations, translator and edition credits, decorative dashes and
// quotes, and anthology markers. Normalization is idempotent: extracted
// markers are re-emitted in their canonical form (vol<N>, trans_<name>,
// ed<N>) which the extractors recognize on a second pass.

// RE2's \b only understands ASCII word characters, so boundaries around
// Cyrillic tokens are written out as explicit non-letter guards.
var (
	volCanonicalRe  = regexp.MustCompile(`\bvol(\d+)\b`)
	volNumericRe    = regexp.MustCompile(`(?:^|[^\p{L}\d])(?:том|книга|кн|часть|ч|volume|vol|book|part)\.?\s*(\d+)\b`)
	volTextRuRe     = regexp.MustCompile(`(?:^|[^\p{L}])(?:том|книга|часть)\s+(перв\p{L}*|втор\p{L}*|трет\p{L}*|четверт\p{L}*|пят\p{L}*|шест\p{L}*|седьм\p{L}*|восьм\p{L}*|девят\p{L}*|десят\p{L}*)`)
	volTextEnRe     = regexp.MustCompile(`\b(?:volume|book|part)\s+(one|two|three|four|five|six|seven|eight|nine|ten)\b`)
	volRomanRe      = regexp.MustCompile(`(?:^|[^\p{L}])(?:том|часть|volume|vol|part)\.?\s+([ivxlcdm]+)(?:$|[^\p{L}])`)
	volTrailRomanRe = regexp.MustCompile(`\s+((?:[ivx]{2,})|[vx])$`)

	transCanonicalRe = regexp.MustCompile(`\btrans_([\p{L}\d]+)`)
	transRuRe        = regexp.MustCompile(`(?:^|[^\p{L}])(?:в\s+)?перевод[еа]?\s+([а-яё]+)`)
	transRuShortRe   = regexp.MustCompile(`(?:^|[^\p{L}])пер\.?\s+([а-яё]+)`)
	transEnRe        = regexp.MustCompile(`\btranslated\s+by\s+([a-z]+)`)

	edCanonicalRe = regexp.MustCompile(`\bed(\d+)\b`)
	edRuRe        = regexp.MustCompile(`\b(\d+)-е\s+изд(?:ание)?`)
	edRuWordRe    = regexp.MustCompile(`(?:^|[^\p{L}])изд(?:ание)?\.?\s*(\d+)\b`)
	edEnOrdRe     = regexp.MustCompile(`\b(\d+)(?:st|nd|rd|th)\s+edition\b`)
	edEnWordRe    = regexp.MustCompile(`\bedition\s+(\d+)\b`)
)

var textNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var textNumberPrefixesRu = []struct {
	prefix string
	value  int
}{
	{"перв", 1}, {"втор", 2}, {"трет", 3}, {"четверт", 4}, {"пят", 5},
	{"шест", 6}, {"седьм", 7}, {"восьм", 8}, {"девят", 9}, {"десят", 10},
}

var collectionKeywords = []string{
	"сборник", "антология", "избранное", "collection", "anthology", "omnibus",
}

const collectionSentinel = "_collection_"

var romanValues = map[byte]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100, 'd': 500, 'm': 1000}

func romanToInt(s string) int {
	total := 0
	for i := 0; i < len(s); i++ {
		v, ok := romanValues[s[i]]
		if !ok {
			return 0
		}
		if i+1 < len(s) && romanValues[s[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	return total
}

func textToInt(word string) int {
	if n, ok := textNumbers[word]; ok {
		return n
	}
	for _, e := range textNumberPrefixesRu {
		if strings.HasPrefix(word, e.prefix) {
			return e.value
		}
	}
	return 0
}

// stripPunctuation maps every rune that is not a letter, digit or underscore
// to a space and collapses the result. Underscores survive so the canonical
// marker tokens stay intact across repeated normalization.
func stripPunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// collapseTypography replaces Unicode dash and quote variants with plain
// ASCII forms before punctuation stripping.
func collapseTypography(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '–', '—', '―', '‒', '−':
			return '-'
		case '«', '»', '“', '”', '„', '‟', '’', '‘':
			return '\''
		}
		return r
	}, s)
}

type titleMarkers struct {
	volume     int
	translator string
	edition    int
}

func extractVolume(t string) (string, int) {
	for _, re := range []*regexp.Regexp{volCanonicalRe, volNumericRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n > 0 {
				return strings.Replace(t, m[0], " ", 1), n
			}
		}
	}
	for _, re := range []*regexp.Regexp{volTextRuRe, volTextEnRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			if n := textToInt(m[1]); n > 0 {
				return strings.Replace(t, m[0], " ", 1), n
			}
		}
	}
	if m := volRomanRe.FindStringSubmatch(t); m != nil {
		if n := romanToInt(m[1]); n > 0 {
			return strings.Replace(t, m[0], " ", 1), n
		}
	}
	if m := volTrailRomanRe.FindStringSubmatch(t); m != nil {
		if n := romanToInt(m[1]); n > 0 {
			return strings.TrimSuffix(t, m[0]), n
		}
	}
	return t, 0
}

func extractTranslator(t string) (string, string) {
	for _, re := range []*regexp.Regexp{transCanonicalRe, transRuRe, transRuShortRe, transEnRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			return strings.Replace(t, m[0], " ", 1), m[1]
		}
	}
	return t, ""
}

func extractEdition(t string) (string, int) {
	for _, re := range []*regexp.Regexp{edCanonicalRe, edRuRe, edRuWordRe, edEnOrdRe, edEnWordRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n > 0 {
				return strings.Replace(t, m[0], " ", 1), n
			}
		}
	}
	return t, 0
}

// outerBracketPair reports the inner text when the whole title is wrapped in
// a single matching bracket pair. "(a) b (c)" shapes are not wrapped: the
// opening bracket must stay unclosed until the final character.
func outerBracketPair(t string) (string, bool) {
	if len(t) < 2 {
		return t, false
	}
	pairs := map[byte]byte{'(': ')', '[': ']', '{': '}'}
	closing, ok := pairs[t[0]]
	if !ok || t[len(t)-1] != closing {
		return t, false
	}
	depth := 0
	for i := 0; i < len(t); i++ {
		switch t[i] {
		case t[0]:
			depth++
		case closing:
			depth--
			if depth == 0 && i != len(t)-1 {
				return t, false
			}
		}
	}
	return strings.TrimSpace(t[1 : len(t)-1]), true
}

// NormalizeTitleKey canonicalizes a title for duplicate-key generation.
func NormalizeTitleKey(title string) string {
	original := title
	t := strings.ToLower(strings.TrimSpace(title))
	t = collapseTypography(t)

	// A fully bracketed title loses only the outer pair; marker extraction
	// still runs on the inner text so normalization stays idempotent.
	if inner, wrapped := outerBracketPair(t); wrapped {
		t = inner
	}
	var markers titleMarkers
	t, markers.volume = extractVolume(t)
	t, markers.translator = extractTranslator(t)
	t, markers.edition = extractEdition(t)

	core := stripPunctuation(t)

	if !strings.Contains(core, collectionSentinel) {
		for _, kw := range collectionKeywords {
			if strings.Contains(core, kw) {
				core = strings.TrimSpace(core + " " + collectionSentinel)
				break
			}
		}
	}

	if len([]rune(strings.ReplaceAll(core, " ", ""))) < 3 {
		core = stripPunctuation(strings.ToLower(strings.TrimSpace(collapseTypography(original))))
	}

	parts := []string{core}
	if markers.volume > 0 {
		parts = append(parts, fmt.Sprintf("vol%d", markers.volume))
	}
	if markers.translator != "" {
		parts = append(parts, "trans_"+markers.translator)
	}
	if markers.edition > 0 {
		parts = append(parts, fmt.Sprintf("ed%d", markers.edition))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// NormalizeName lowercases a personal name, maps punctuation to spaces and
// collapses whitespace.
func NormalizeName(name string) string {
	return stripPunctuation(strings.ToLower(strings.TrimSpace(collapseTypography(name))))
}

// TranslatorKey produces the canonical translator-set component: every
// translator normalized, sorted, joined with underscores.
func TranslatorKey(translators []string) string {
	if len(translators) == 0 {
		return ""
	}
	normalized := make([]string, 0, len(translators))
	for _, tr := range translators {
		if n := NormalizeName(tr); n != "" {
			normalized = append(normalized, n)
		}
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "_")
}

// sequenceKey renders the primary sequence component of the duplicate key.
func (b *Book) sequenceKey() string {
	seq, ok := b.PrimarySequence()
	if !ok {
		return ""
	}
	key := NormalizeName(seq.Name)
	if seq.NumberInSequence > 0 {
		key = fmt.Sprintf("%s_%d", key, seq.NumberInSequence)
	}
	return key
}

// languageKey returns the lowercase language or "unknown".
func (b *Book) languageKey() string {
	lang := strings.ToLower(strings.TrimSpace(b.Language))
	if lang == "" {
		return "unknown"
	}
	return lang
}

// GenerateDuplicateKey computes the canonical duplicate fingerprint of the
// record. The result is a pure function of title, first author, language and
// primary sequence; translator sets are compared separately by the duplicate
// predicate.
func (b *Book) GenerateDuplicateKey() string {
	canonical := strings.Join([]string{
		NormalizeTitleKey(b.Title),
		NormalizeName(b.FirstAuthor()),
		b.languageKey(),
		b.sequenceKey(),
	}, "|")
	sum := md5.Sum([]byte(canonical)) //nolint:gosec // fingerprint, not security
	return hex.EncodeToString(sum[:])
}

// TranslatorSetsMatch compares two translator lists as sets. Two empty sets
// match; an empty set never matches a non-empty one.
func TranslatorSetsMatch(a, b []string) bool {
	return TranslatorKey(a) == TranslatorKey(b)
}
