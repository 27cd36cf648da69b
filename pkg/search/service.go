// Package search implements the OpenSearch pipeline: FTS5 queries over the
// trigger-maintained indexes with transliteration and Soundex fallbacks for
// mixed Latin/Cyrillic input.
package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/tinyopds/tinyopds/pkg/translit"
	"github.com/uptrace/bun"
)

const maxQueryLength = 100

// truncatePattern caps the pattern at maxQueryLength bytes without cutting a
// multi-byte rune in half.
func truncatePattern(pattern string) string {
	if len(pattern) <= maxQueryLength {
		return pattern
	}
	cut := maxQueryLength
	for cut > 0 && !utf8.RuneStart(pattern[cut]) {
		cut--
	}
	return pattern[:cut]
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// quoteToken escapes a bare token for an FTS5 string query.
func quoteToken(token string) string {
	return `"` + strings.ReplaceAll(token, `"`, `""`) + `"`
}

// BuildPrefixQuery turns free text into an FTS5 query where every token
// matches as a prefix.
func BuildPrefixQuery(input string) string {
	input = truncatePattern(strings.TrimSpace(input))
	tokens := strings.Fields(input)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, token := range tokens {
		quoted[i] = quoteToken(token) + "*"
	}
	return strings.Join(quoted, " ")
}

// buildPhraseQuery quotes the whole input as one exact FTS5 phrase.
func buildPhraseQuery(tokens []string) string {
	return `"` + strings.ReplaceAll(strings.Join(tokens, " "), `"`, `""`) + `"`
}

func (svc *Service) matchAuthors(ctx context.Context, ftsQuery string) ([]*models.Author, error) {
	var authors []*models.Author
	err := svc.db.NewSelect().
		Model(&authors).
		Where("a.id IN (SELECT author_id FROM authors_fts WHERE authors_fts MATCH ?)", ftsQuery).
		Order("a.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return authors, nil
}

// SearchAuthors runs the cascading author search: exact two-token phrase in
// both name orders, one-token prefix, Latin-to-Cyrillic transliteration
// retries, and finally Soundex on the last token.
func (svc *Service) SearchAuthors(ctx context.Context, pattern string) ([]*models.Author, error) {
	return svc.searchAuthors(ctx, pattern, true)
}

func (svc *Service) searchAuthors(ctx context.Context, pattern string, translitOK bool) ([]*models.Author, error) {
	pattern = truncatePattern(strings.TrimSpace(pattern))
	tokens := strings.Fields(pattern)
	if len(tokens) == 0 {
		return nil, nil
	}

	if len(tokens) == 2 {
		authors, err := svc.matchAuthors(ctx, buildPhraseQuery(tokens))
		if err != nil || len(authors) > 0 {
			return authors, err
		}
		reversed := []string{tokens[1], tokens[0]}
		authors, err = svc.matchAuthors(ctx, buildPhraseQuery(reversed))
		if err != nil || len(authors) > 0 {
			return authors, err
		}
	}

	if len(tokens) == 1 {
		authors, err := svc.matchAuthors(ctx, quoteToken(tokens[0])+"*")
		if err != nil || len(authors) > 0 {
			return authors, err
		}
	}

	// Readers type Cyrillic names on Latin keyboards; undo that before
	// giving up.
	if translitOK && translit.HasLatin(pattern) {
		for _, system := range []translit.System{translit.GOST, translit.ISO} {
			variant := translit.Back(pattern, system)
			if variant == pattern || !translit.HasCyrillic(variant) {
				continue
			}
			authors, err := svc.searchAuthors(ctx, variant, false)
			if err != nil || len(authors) > 0 {
				return authors, err
			}
		}
	}

	code := translit.Soundex(tokens[len(tokens)-1])
	if code == "" {
		return nil, nil
	}
	var authors []*models.Author
	err := svc.db.NewSelect().
		Model(&authors).
		Where("a.last_name_soundex = ?", code).
		Order("a.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return authors, nil
}

func (svc *Service) matchBooks(ctx context.Context, ftsQuery, pattern string) ([]*models.Book, error) {
	var booksList []*models.Book
	err := svc.db.NewSelect().
		Model(&booksList).
		Join("INNER JOIN books_fts ON books_fts.book_id = b.id").
		Where("books_fts MATCH ?", ftsQuery).
		Where("b.replaced_by_id IS NULL").
		OrderExpr("CASE WHEN LOWER(b.title) LIKE LOWER(?) || '%' THEN 0 ELSE 1 END", pattern).
		OrderExpr("bm25(books_fts)").
		Order("b.title ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return booksList, nil
}

func (svc *Service) likeBooks(ctx context.Context, pattern string) ([]*models.Book, error) {
	var booksList []*models.Book
	err := svc.db.NewSelect().
		Model(&booksList).
		Where("LOWER(b.title) LIKE LOWER(?)", "%"+pattern+"%").
		Where("b.replaced_by_id IS NULL").
		Order("b.title ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return booksList, nil
}

// SearchBooks matches titles and annotations with per-token prefixes,
// ranking title-prefix hits first, then BM25, then title. When FTS finds
// nothing it degrades to a substring scan; all-Latin patterns are retried as
// their Cyrillic transliterations.
func (svc *Service) SearchBooks(ctx context.Context, pattern string) ([]*models.Book, error) {
	pattern = truncatePattern(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil, nil
	}

	variants := []string{pattern}
	if translit.HasLatin(pattern) && !translit.HasCyrillic(pattern) {
		for _, system := range []translit.System{translit.GOST, translit.ISO} {
			variant := translit.Back(pattern, system)
			if variant != pattern && translit.HasCyrillic(variant) {
				variants = append(variants, variant)
			}
		}
	}

	for _, variant := range variants {
		if ftsQuery := BuildPrefixQuery(variant); ftsQuery != "" {
			booksList, err := svc.matchBooks(ctx, ftsQuery, variant)
			if err != nil || len(booksList) > 0 {
				return booksList, err
			}
		}
	}

	for _, variant := range variants {
		booksList, err := svc.likeBooks(ctx, variant)
		if err != nil || len(booksList) > 0 {
			return booksList, err
		}
	}

	return nil, nil
}
