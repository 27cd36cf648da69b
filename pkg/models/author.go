package models

import (
	"strings"
	"time"

	"github.com/tinyopds/tinyopds/pkg/translit"
	"github.com/uptrace/bun"
)

// Author is a canonical author row. Name is unique; the structural fields
// are parsed positionally from it and the derived search columns support
// prefix, phonetic and transliterated lookup.
type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID              int64     `bun:",pk,autoincrement"`
	CreatedAt       time.Time `bun:",nullzero"`
	UpdatedAt       time.Time `bun:",nullzero"`
	Name            string    `bun:",nullzero"`
	FirstName       string    `bun:",nullzero"`
	MiddleName      string    `bun:",nullzero"`
	LastName        string    `bun:",nullzero"`
	SearchName      string    `bun:",nullzero"`
	LastNameSoundex string    `bun:",nullzero"`
	NameTranslit    string    `bun:",nullzero"`

	BookCount int `bun:",scanonly"`
}

// NewAuthor builds an author row from a display name, filling the parsed and
// derived columns. Two-token names are read as "Lastname Firstname", the
// dominant convention in FB2 corpora; three tokens add a patronymic.
func NewAuthor(name string) *Author {
	a := &Author{Name: strings.TrimSpace(name)}
	a.FirstName, a.MiddleName, a.LastName = ParseAuthorName(a.Name)
	a.SearchName = NormalizeName(a.Name)
	a.LastNameSoundex = translit.Soundex(a.LastName)
	a.NameTranslit = strings.Join([]string{
		translit.Front(a.Name, translit.GOST),
		translit.Front(a.Name, translit.ISO),
	}, "|")
	return a
}

// ParseAuthorName splits a display name positionally into first, middle and
// last names. A single token is a bare last name; anything beyond three
// tokens keeps the first as the last name, the final token as the middle
// name, and glues the rest into the first name.
func ParseAuthorName(name string) (first, middle, last string) {
	tokens := strings.Fields(name)
	switch len(tokens) {
	case 0:
		return "", "", ""
	case 1:
		return "", "", tokens[0]
	case 2:
		return tokens[1], "", tokens[0]
	case 3:
		return tokens[1], tokens[2], tokens[0]
	default:
		return strings.Join(tokens[1:len(tokens)-1], " "), tokens[len(tokens)-1], tokens[0]
	}
}

// FullName is "FirstName LastName", falling back to Name when either part is
// missing. ReversedName is the same pair in "LastName FirstName" order.
// Both feed the authors FTS index.
func (a *Author) FullName() string {
	if a.FirstName == "" || a.LastName == "" {
		return a.Name
	}
	return a.FirstName + " " + a.LastName
}

func (a *Author) ReversedName() string {
	if a.FirstName == "" || a.LastName == "" {
		return a.Name
	}
	return a.LastName + " " + a.FirstName
}
