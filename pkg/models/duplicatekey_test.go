package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTitleKey_Idempotent(t *testing.T) {
	t.Parallel()

	titles := []string{
		"Война и мир. Том 2",
		"(Собрание сочинений)",
		"The Dark Tower — Volume III",
		"Мастер и Маргарита (в переводе Гинзбург)",
		"Сборник рассказов",
		"Hamlet, 3rd edition",
		"Ы",
		"",
	}
	for _, title := range titles {
		once := NormalizeTitleKey(title)
		require.Equal(t, once, NormalizeTitleKey(once), "title=%q", title)
	}
}

func TestNormalizeTitleKey_VolumeMarkers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "война и мир vol2", NormalizeTitleKey("Война и мир. Том 2"))
	assert.Equal(t, "война и мир vol2", NormalizeTitleKey("Война и мир, книга 2"))
	assert.Equal(t, "the dark tower vol3", NormalizeTitleKey("The Dark Tower — Volume III"))
	assert.Equal(t, "the dark tower vol3", NormalizeTitleKey("The Dark Tower, volume three"))
	assert.Equal(t, "хроники vol2", NormalizeTitleKey("Хроники, том второй"))
	// Trailing bare roman numeral.
	assert.Equal(t, "foundation vol2", NormalizeTitleKey("Foundation II"))
}

func TestNormalizeTitleKey_NoBlanketVolumeSuffix(t *testing.T) {
	t.Parallel()

	// Books without a detected volume get no vol marker at all.
	key := NormalizeTitleKey("Война и мир")
	assert.Equal(t, "война и мир", key)
	assert.NotContains(t, key, "vol0")
}

func TestNormalizeTitleKey_TranslatorAndEditionMarkers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "мастер и маргарита trans_гинзбург",
		NormalizeTitleKey("Мастер и Маргарита (в переводе Гинзбург)"))
	assert.Equal(t, "hamlet trans_pasternak",
		NormalizeTitleKey("Hamlet, translated by Pasternak"))
	assert.Equal(t, "hamlet ed3", NormalizeTitleKey("Hamlet, 3rd edition"))
	assert.Equal(t, "капитал ed2", NormalizeTitleKey("Капитал. 2-е издание"))
}

func TestNormalizeTitleKey_OuterBrackets(t *testing.T) {
	t.Parallel()

	// A fully bracketed title loses only the outer pair; marker extraction
	// still applies to the inner text.
	assert.Equal(t, "собрание сочинений vol1", NormalizeTitleKey("(Собрание сочинений. Том 1)"))
	// Partial brackets are not stripped.
	assert.Equal(t, "foo bar", NormalizeTitleKey("(Foo) bar"))
}

func TestNormalizeTitleKey_CollectionSentinel(t *testing.T) {
	t.Parallel()

	key := NormalizeTitleKey("Сборник рассказов")
	assert.Contains(t, key, collectionSentinel)
	key = NormalizeTitleKey("Short story collection")
	assert.Contains(t, key, collectionSentinel)
	assert.NotContains(t, NormalizeTitleKey("Обычная повесть"), collectionSentinel)
}

func TestNormalizeTitleKey_ShortFallback(t *testing.T) {
	t.Parallel()

	// A title that normalizes below 3 characters falls back to a minimal
	// cleanup of the original.
	assert.Equal(t, "ы", NormalizeTitleKey("Ы!"))
}

func TestNormalizeTitleKey_TypographyCollapsed(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NormalizeTitleKey(`«Идиот»`), NormalizeTitleKey("Идиот"))
	assert.Equal(t, NormalizeTitleKey("Война — и мир"), NormalizeTitleKey("Война - и мир"))
}

func TestGenerateDuplicateKey(t *testing.T) {
	t.Parallel()

	b1 := NewBook("a.fb2")
	b1.Title = "Война и мир"
	b1.Authors = []string{"Толстой Лев"}
	b1.Language = "RU"

	b2 := NewBook("b.fb2")
	b2.Title = "«Война и мир»"
	b2.Authors = []string{"толстой, лев"}
	b2.Language = "ru"

	require.Equal(t, b1.GenerateDuplicateKey(), b2.GenerateDuplicateKey())
	require.Len(t, b1.GenerateDuplicateKey(), 32)

	// Sequence ordinal distinguishes keys.
	b2.Sequences = []SequenceRef{{Name: "Эпопея", NumberInSequence: 1}}
	assert.NotEqual(t, b1.GenerateDuplicateKey(), b2.GenerateDuplicateKey())
}

func TestGenerateDuplicateKey_UnknownLanguage(t *testing.T) {
	t.Parallel()

	b1 := NewBook("a.fb2")
	b1.Title = "Foo"
	b1.Authors = []string{"Ivanov Ivan"}

	b2 := NewBook("b.fb2")
	b2.Title = "Foo"
	b2.Authors = []string{"Ivanov Ivan"}
	b2.Language = "en"

	assert.NotEqual(t, b1.GenerateDuplicateKey(), b2.GenerateDuplicateKey())
}

func TestTranslatorSetsMatch(t *testing.T) {
	t.Parallel()

	assert.True(t, TranslatorSetsMatch(nil, nil))
	assert.True(t, TranslatorSetsMatch([]string{"Иванов"}, []string{"иванов"}))
	assert.True(t, TranslatorSetsMatch([]string{"A", "B"}, []string{"B", "A"}))
	assert.False(t, TranslatorSetsMatch([]string{"Иванов"}, nil))
	assert.False(t, TranslatorSetsMatch([]string{"Иванов"}, []string{"Петров"}))
}
