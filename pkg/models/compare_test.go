package models

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTrustedID(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTrustedID("FBD-ABC123-0456"))
	assert.True(t, IsTrustedID("100001"))
	assert.False(t, IsTrustedID("100000"))
	assert.False(t, IsTrustedID("42"))
	assert.True(t, IsTrustedID("0b2ff550-3333-4a84-8b35-8f24934a9711"))
	assert.False(t, IsTrustedID("00000000-0000-0000-0000-000000000000"))
	// LibRusEc-kit wrote calendar fragments into the ID slot.
	assert.False(t, IsTrustedID("mon-jun-15-2009-0000-000000000000"))
	assert.False(t, IsTrustedID(""))
	assert.False(t, IsTrustedID("not-an-id"))
}

func TestSetID(t *testing.T) {
	t.Parallel()

	b := NewBook("books/a.fb2")
	b.SetID("200001")
	assert.Equal(t, "200001", b.ID)
	assert.True(t, b.DocumentIDTrusted)

	b2 := NewBook("books/a.fb2")
	b2.SetID("garbage")
	assert.False(t, b2.DocumentIDTrusted)
	assert.Equal(t, DeterministicID("books/a.fb2"), b2.ID)

	// Deterministic: same filename, same fallback ID.
	b3 := NewBook("books/a.fb2")
	b3.SetID("")
	assert.Equal(t, b2.ID, b3.ID)

	b4 := NewBook("books/b.fb2")
	b4.SetID("")
	assert.NotEqual(t, b2.ID, b4.ID)
}

func TestGenerateContentHash(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("tinyopds"), 4096) // > 10 KiB
	r := bytes.NewReader(data)
	_, err := r.Seek(100, 0)
	require.NoError(t, err)

	h1 := GenerateContentHash(r)
	require.NotEmpty(t, h1)
	require.Len(t, h1, 32)

	// Position restored.
	pos, err := r.Seek(0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos)

	// Only the first 10 KiB participate.
	tail := append(append([]byte{}, data...), []byte("extra tail")...)
	assert.Equal(t, h1, GenerateContentHash(bytes.NewReader(tail)))

	// Short files hash whole content.
	short := GenerateContentHash(strings.NewReader("tiny"))
	assert.NotEmpty(t, short)
	assert.NotEqual(t, h1, short)

	assert.Empty(t, GenerateContentHash(nil))
}

func TestGetArchivePriority(t *testing.T) {
	t.Parallel()

	b := NewBook("fb2-000001-000100.zip@a.fb2")
	assert.Equal(t, 100, b.GetArchivePriority())

	b = NewBook("fb2-505001-507000.zip@b.fb2")
	assert.Equal(t, 507000, b.GetArchivePriority())

	b = NewBook("loose/a.fb2")
	assert.Equal(t, 0, b.GetArchivePriority())
}

func TestCompareTo_ArchivePriorityWins(t *testing.T) {
	t.Parallel()

	older := NewBook("fb2-000001-000100.zip@a.fb2")
	newer := NewBook("fb2-000200-000300.zip@a.fb2")
	// Even a trusted-ID version bump cannot outvote a newer archive.
	older.Version = 9

	assert.Equal(t, 10, newer.CompareTo(older))
	assert.Equal(t, -10, older.CompareTo(newer))
}

func TestCompareTo_TrustedSameID(t *testing.T) {
	t.Parallel()

	a := NewBook("a.fb2")
	a.SetID("200001")
	a.Version = 2
	a.DocumentDate = time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)

	b := NewBook("b.fb2")
	b.SetID("200001")
	b.Version = 1
	b.DocumentDate = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, a.CompareTo(b)) // +5 version, +2 date
	assert.Equal(t, -7, b.CompareTo(a))

	// Within the 1-day tolerance the date signal is silent.
	b.Version = 2
	b.DocumentDate = a.DocumentDate.Add(12 * time.Hour)
	assert.Equal(t, 0, a.CompareTo(b))
}

func TestCompareTo_HeterogeneousSignals(t *testing.T) {
	t.Parallel()

	fb2 := NewBook("a.fb2")
	fb2.DocumentSize = 1000
	epub := NewBook("a.epub")
	epub.DocumentSize = 1000

	assert.Equal(t, 2, fb2.CompareTo(epub))
	assert.Equal(t, -2, epub.CompareTo(fb2))

	// Size ratio beyond 20% adds a point.
	fb2.DocumentSize = 1300
	assert.Equal(t, 3, fb2.CompareTo(epub))

	// Trusted ID ownership breaks remaining ties.
	epub.DocumentIDTrusted = true
	assert.Equal(t, 2, fb2.CompareTo(epub))
}

func TestCompareTo_SkewSymmetry(t *testing.T) {
	t.Parallel()

	mk := func(file string, size int64, trusted bool, date time.Time) *Book {
		b := NewBook(file)
		b.DocumentSize = size
		b.DocumentIDTrusted = trusted
		b.DocumentDate = date
		return b
	}
	d1 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	books := []*Book{
		mk("a.fb2", 100, false, d1),
		mk("b.epub", 200, true, d2),
		mk("fb2-000001-000100.zip@c.fb2", 150, false, d1),
		mk("fb2-000300-000500.zip@d.fb2", 150, true, d2),
	}
	for _, x := range books {
		for _, y := range books {
			assert.Equal(t, x.CompareTo(y), -y.CompareTo(x))
		}
	}
}

func TestIsDuplicateOf(t *testing.T) {
	t.Parallel()

	a := NewBook("a.fb2")
	b := NewBook("b.fb2")

	// Identical trusted IDs.
	a.SetID("200001")
	b.SetID("200001")
	assert.True(t, a.IsDuplicateOf(b))

	// Identical content hashes.
	a = NewBook("a.fb2")
	b = NewBook("b.fb2")
	a.ContentHash = "abcd"
	b.ContentHash = "abcd"
	assert.True(t, a.IsDuplicateOf(b))
	b.ContentHash = ""
	assert.False(t, a.IsDuplicateOf(b))

	// Duplicate key requires matching translator sets.
	a = NewBook("a.fb2")
	b = NewBook("b.fb2")
	a.DuplicateKey = "key"
	b.DuplicateKey = "key"
	assert.True(t, a.IsDuplicateOf(b))

	a.Translators = []string{"Иванов"}
	assert.False(t, a.IsDuplicateOf(b))

	b.Translators = []string{"иванов"}
	assert.True(t, a.IsDuplicateOf(b))

	b.Translators = []string{"Петров"}
	assert.False(t, a.IsDuplicateOf(b))
}

func TestBookTypeFromFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, BookTypeFB2, BookTypeFromFileName("books/a.fb2"))
	assert.Equal(t, BookTypeEPUB, BookTypeFromFileName("books/a.EPUB"))
	assert.Equal(t, BookTypeFB2, BookTypeFromFileName("arch.zip@x.fb2"))
	assert.Equal(t, BookTypeEPUB, BookTypeFromFileName("arch.zip@x.epub"))
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	b := NewBook("a.fb2")
	assert.False(t, b.IsValid())
	b.Title = "Foo"
	assert.False(t, b.IsValid())
	b.Authors = []string{"Ivanov Ivan"}
	assert.False(t, b.IsValid())
	b.Genres = []string{"sf"}
	assert.True(t, b.IsValid())
	b.Title = "   "
	assert.False(t, b.IsValid())
}

func TestParseAuthorName(t *testing.T) {
	t.Parallel()

	first, middle, last := ParseAuthorName("Толстой Лев")
	assert.Equal(t, []string{"Лев", "", "Толстой"}, []string{first, middle, last})

	first, middle, last = ParseAuthorName("Толстой Лев Николаевич")
	assert.Equal(t, []string{"Лев", "Николаевич", "Толстой"}, []string{first, middle, last})

	first, middle, last = ParseAuthorName("Гомер")
	assert.Equal(t, []string{"", "", "Гомер"}, []string{first, middle, last})

	first, middle, last = ParseAuthorName("Гарсиа Маркес Габриэль Хосе")
	assert.Equal(t, "Маркес Габриэль", first)
	assert.Equal(t, "Хосе", middle)
	assert.Equal(t, "Гарсиа", last)
}

func TestNewAuthor_DerivedFields(t *testing.T) {
	t.Parallel()

	a := NewAuthor("Достоевский Фёдор")
	assert.Equal(t, "Достоевский", a.LastName)
	assert.Equal(t, "Фёдор", a.FirstName)
	assert.Equal(t, "достоевский фёдор", a.SearchName)
	assert.NotEmpty(t, a.LastNameSoundex)
	require.Contains(t, a.NameTranslit, "|")
	assert.Equal(t, "Dostoevskij Fjodor|Dostoevskij Fëdor", a.NameTranslit)

	assert.Equal(t, "Фёдор Достоевский", a.FullName())
	assert.Equal(t, "Достоевский Фёдор", a.ReversedName())

	solo := NewAuthor("Гомер")
	assert.Equal(t, "Гомер", solo.FullName())
	assert.Equal(t, "Гомер", solo.ReversedName())
}
