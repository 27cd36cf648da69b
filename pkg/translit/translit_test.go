package translit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFront_GOST(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Dostoevskij", Front("Достоевский", GOST))
	assert.Equal(t, "Pushkin", Front("Пушкин", GOST))
	assert.Equal(t, "Chekhov", Front("Чехов", GOST))
	assert.Equal(t, "shhuka", Front("щука", GOST))
}

func TestFront_PassesThroughUnknownRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc-123!", Front("abc-123!", GOST))
	assert.Equal(t, "Tolstoj, L.N.", Front("Толстой, Л.N.", GOST))
}

func TestBack_GOST(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "достоевский", Back("dostoevskij", GOST))
	assert.Equal(t, "чехов", Back("chekhov", GOST))
	// Digraphs are matched before single letters.
	assert.Equal(t, "щи", Back("shhi", GOST))
	assert.Equal(t, "ши", Back("shi", GOST))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	words := []string{
		"достоевский",
		"пушкин",
		"щука",
		"эхо",
		"юля",
		"яблоко",
		"жёлтый",
	}
	for _, system := range []System{GOST, ISO} {
		for _, w := range words {
			require.Equal(t, w, Back(Front(w, system), system), "system=%d word=%s", system, w)
		}
	}
}

func TestRoundTrip_PreservesCase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Пушкин", Back(Front("Пушкин", GOST), GOST))
}

func TestHasCyrillicAndLatin(t *testing.T) {
	t.Parallel()

	assert.True(t, HasCyrillic("Война и мир"))
	assert.False(t, HasCyrillic("War and Peace"))
	assert.True(t, HasLatin("War and Peace"))
	assert.False(t, HasLatin("Война и мир"))
	assert.True(t, HasLatin("Война and мир"))
}

func TestSoundex(t *testing.T) {
	t.Parallel()

	// Classic reference values.
	assert.Equal(t, "R163", Soundex("Robert"))
	assert.Equal(t, "R163", Soundex("Rupert"))
	assert.Equal(t, "T522", Soundex("Tymczak"))
	assert.Equal(t, "P236", Soundex("Pfister"))
	assert.Equal(t, "A261", Soundex("Ashcraft"))

	assert.Equal(t, "", Soundex(""))
	assert.Equal(t, "", Soundex("123"))
}

func TestSoundex_CyrillicMatchesTransliterated(t *testing.T) {
	t.Parallel()

	// The phonetic fallback relies on both scripts landing on the same code.
	require.Equal(t, Soundex("Dostoevskij"), Soundex("Достоевский"))
	assert.Equal(t, Soundex("Dostoevsky"), Soundex("Достоевский"))
	assert.Equal(t, Soundex("Pushkin"), Soundex("Пушкин"))
}
