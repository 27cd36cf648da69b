// Package models holds the persisted record types and the book-identity
// logic: trusted IDs, duplicate keys, content hashes and the pairwise
// comparator that drives duplicate resolution.
package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Sequence is a book series. SearchName is the normalized form used for
// prefix matching.
type Sequence struct {
	bun.BaseModel `bun:"table:sequences,alias:s"`

	ID         int64     `bun:",pk,autoincrement"`
	CreatedAt  time.Time `bun:",nullzero"`
	UpdatedAt  time.Time `bun:",nullzero"`
	Name       string    `bun:",nullzero"`
	SearchName string    `bun:",nullzero"`

	BookCount int `bun:",scanonly"`
}

// NewSequence builds a sequence row with its derived search form.
func NewSequence(name string) *Sequence {
	return &Sequence{Name: name, SearchName: NormalizeName(name)}
}

// Translator is a simple unique name.
type Translator struct {
	bun.BaseModel `bun:"table:translators,alias:tr"`

	ID        int64     `bun:",pk,autoincrement"`
	CreatedAt time.Time `bun:",nullzero"`
	UpdatedAt time.Time `bun:",nullzero"`
	Name      string    `bun:",nullzero"`
}

// Genre is one taxonomy node. Subgenres carry a usable tag; parent labels
// are persisted as pseudo-rows whose tag is "_MAIN_<name>" and whose only
// payload is the translation.
type Genre struct {
	bun.BaseModel `bun:"table:genres,alias:g"`

	Tag         string `bun:",pk"`
	Name        string `bun:",nullzero"`
	Translation string `bun:",nullzero"`
	ParentName  string `bun:",nullzero"`

	BookCount int `bun:",scanonly"`
}

// MainGenrePrefix marks parent-label pseudo-rows in the genres table.
const MainGenrePrefix = "_MAIN_"

// IsMain reports whether the row is a parent-label pseudo-row.
func (g *Genre) IsMain() bool {
	return len(g.Tag) > len(MainGenrePrefix) && g.Tag[:len(MainGenrePrefix)] == MainGenrePrefix
}

// BookAuthor links a book to an author, preserving credit order.
type BookAuthor struct {
	bun.BaseModel `bun:"table:book_authors,alias:ba"`

	BookID    string `bun:",pk"`
	AuthorID  int64  `bun:",pk"`
	SortOrder int
}

// BookSequence links a book to a series with its ordinal.
type BookSequence struct {
	bun.BaseModel `bun:"table:book_sequences,alias:bs"`

	BookID           string `bun:",pk"`
	SequenceID       int64  `bun:",pk"`
	NumberInSequence int
}

// BookGenre links a book to a taxonomy tag.
type BookGenre struct {
	bun.BaseModel `bun:"table:book_genres,alias:bg"`

	BookID   string `bun:",pk"`
	GenreTag string `bun:",pk"`
}

// BookTranslator links a book to a translator, preserving credit order.
type BookTranslator struct {
	bun.BaseModel `bun:"table:book_translators,alias:bt"`

	BookID       string `bun:",pk"`
	TranslatorID int64  `bun:",pk"`
	SortOrder    int
}

// Statistic keys persisted in library_stats. The new_books row additionally
// carries the period window in days.
const (
	StatTotalBooks     = "total_books"
	StatFB2Books       = "fb2_books"
	StatEPUBBooks      = "epub_books"
	StatAuthorsCount   = "authors_count"
	StatSequencesCount = "sequences_count"
	StatNewBooks       = "new_books"
)

// StatKeys lists every recognized statistic key.
var StatKeys = []string{
	StatTotalBooks, StatFB2Books, StatEPUBBooks,
	StatAuthorsCount, StatSequencesCount, StatNewBooks,
}

// LibraryStat is one persisted counter. Written after every recompute so a
// restarted process can show counts before the first recount finishes.
type LibraryStat struct {
	bun.BaseModel `bun:"table:library_stats,alias:ls"`

	Key        string    `bun:",pk"`
	Value      int64     `bun:"value"`
	UpdatedAt  time.Time `bun:",nullzero"`
	PeriodDays *int      `bun:",nullzero"`
}

// DownloadType distinguishes full downloads from in-browser reads.
type DownloadType string

const (
	DownloadTypeDownload DownloadType = "download"
	DownloadTypeRead     DownloadType = "read"
)

// Download is one append-only download/read event.
type Download struct {
	bun.BaseModel `bun:"table:downloads,alias:d"`

	ID        int64        `bun:",pk,autoincrement"`
	BookID    string       `bun:",nullzero"`
	CreatedAt time.Time    `bun:",nullzero"`
	Type      DownloadType `bun:",nullzero"`
	Format    string       `bun:",nullzero"`
	Client    string       `bun:",nullzero"`
}
