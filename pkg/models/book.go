package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uptrace/bun"
)

// BookType classifies the backing file format.
type BookType string

const (
	BookTypeFB2  BookType = "fb2"
	BookTypeEPUB BookType = "epub"
)

// BookTypeFromFileName derives the book type from the file extension.
// Archive members look like "archive.zip@entry.fb2"; the entry decides.
func BookTypeFromFileName(fileName string) BookType {
	name := fileName
	if at := strings.LastIndex(name, "@"); at >= 0 {
		name = name[at+1:]
	}
	if strings.HasSuffix(strings.ToLower(name), ".epub") {
		return BookTypeEPUB
	}
	return BookTypeFB2
}

// SequenceRef is a series membership carried by a book record.
type SequenceRef struct {
	Name             string
	NumberInSequence int
}

// Book is the canonical book record. Relationship sets are reconstructed
// from the junction tables on read and rewritten wholesale on update; the
// struct itself carries them as plain string slices.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID                string     `bun:",pk"`
	CreatedAt         time.Time  `bun:",nullzero"`
	UpdatedAt         time.Time  `bun:",nullzero"`
	Version           float64    `bun:",nullzero"`
	FileName          string     `bun:",nullzero"`
	Title             string     `bun:",nullzero"`
	Language          string     `bun:",nullzero"`
	BookDate          time.Time  `bun:",nullzero"`
	DocumentDate      time.Time  `bun:",nullzero"`
	Annotation        string     `bun:",nullzero"`
	DocumentSize      int64      `bun:",nullzero"`
	AddedDate         time.Time  `bun:",nullzero"`
	LastDownloadDate  *time.Time `bun:",nullzero"`
	BookType          BookType   `bun:",nullzero"`
	DocumentIDTrusted bool       `bun:"document_id_trusted"`
	DuplicateKey      string     `bun:",nullzero"`
	ReplacedByID      *string    `bun:",nullzero"`
	ContentHash       string     `bun:",nullzero"`

	Authors     []string      `bun:"-"`
	Translators []string      `bun:"-"`
	Genres      []string      `bun:"-"`
	Sequences   []SequenceRef `bun:"-"`
}

// NewBook constructs a book record from a library-relative filename.
func NewBook(fileName string) *Book {
	return &Book{
		FileName: fileName,
		BookType: BookTypeFromFileName(fileName),
		Version:  1.0,
	}
}

// IsValid reports whether the record carries enough metadata to be stored:
// a non-empty UTF-8 title, at least one author and at least one genre.
func (b *Book) IsValid() bool {
	if strings.TrimSpace(b.Title) == "" || !utf8.ValidString(b.Title) {
		return false
	}
	return len(b.Authors) > 0 && len(b.Genres) > 0
}

// FirstAuthor returns the primary author, or "" for an authorless record.
func (b *Book) FirstAuthor() string {
	if len(b.Authors) == 0 {
		return ""
	}
	return b.Authors[0]
}

// PrimarySequence returns the first series membership, if any.
func (b *Book) PrimarySequence() (SequenceRef, bool) {
	if len(b.Sequences) == 0 {
		return SequenceRef{}, false
	}
	return b.Sequences[0], true
}
