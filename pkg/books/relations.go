package books

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/uptrace/bun"
)

// findOrCreateAuthor resolves a canonical author name to its row, creating it
// with derived search columns on first reference. The conflict clause keeps
// concurrent writers from racing on the unique name index.
func findOrCreateAuthor(ctx context.Context, idb bun.IDB, name string) (*models.Author, error) {
	author := &models.Author{}
	err := idb.NewSelect().
		Model(author).
		Where("a.name = ?", name).
		Scan(ctx)
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	author = models.NewAuthor(name)
	now := time.Now()
	author.CreatedAt = now
	author.UpdatedAt = now
	_, err = idb.NewInsert().
		Model(author).
		On("CONFLICT (name) DO UPDATE SET updated_at = excluded.updated_at").
		Returning("*").
		Exec(ctx)
	return author, errors.WithStack(err)
}

func findOrCreateSequence(ctx context.Context, idb bun.IDB, name string) (*models.Sequence, error) {
	seq := &models.Sequence{}
	err := idb.NewSelect().
		Model(seq).
		Where("s.name = ?", name).
		Scan(ctx)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	seq = models.NewSequence(name)
	now := time.Now()
	seq.CreatedAt = now
	seq.UpdatedAt = now
	_, err = idb.NewInsert().
		Model(seq).
		On("CONFLICT (name) DO UPDATE SET updated_at = excluded.updated_at").
		Returning("*").
		Exec(ctx)
	return seq, errors.WithStack(err)
}

func findOrCreateTranslator(ctx context.Context, idb bun.IDB, name string) (*models.Translator, error) {
	tr := &models.Translator{}
	err := idb.NewSelect().
		Model(tr).
		Where("tr.name = ?", name).
		Scan(ctx)
	if err == nil {
		return tr, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	tr = &models.Translator{Name: name}
	now := time.Now()
	tr.CreatedAt = now
	tr.UpdatedAt = now
	_, err = idb.NewInsert().
		Model(tr).
		On("CONFLICT (name) DO UPDATE SET updated_at = excluded.updated_at").
		Returning("*").
		Exec(ctx)
	return tr, errors.WithStack(err)
}

// rewriteRelations replaces every junction row of the book with the sets the
// record currently carries. Credit order is preserved through sort_order.
func rewriteRelations(ctx context.Context, idb bun.IDB, book *models.Book) error {
	for _, model := range []interface{}{
		(*models.BookAuthor)(nil),
		(*models.BookTranslator)(nil),
		(*models.BookGenre)(nil),
		(*models.BookSequence)(nil),
	} {
		_, err := idb.NewDelete().
			Model(model).
			Where("book_id = ?", book.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	for i, name := range book.Authors {
		author, err := findOrCreateAuthor(ctx, idb, name)
		if err != nil {
			return err
		}
		link := &models.BookAuthor{BookID: book.ID, AuthorID: author.ID, SortOrder: i}
		_, err = idb.NewInsert().
			Model(link).
			On("CONFLICT (book_id, author_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	for i, name := range book.Translators {
		tr, err := findOrCreateTranslator(ctx, idb, name)
		if err != nil {
			return err
		}
		link := &models.BookTranslator{BookID: book.ID, TranslatorID: tr.ID, SortOrder: i}
		_, err = idb.NewInsert().
			Model(link).
			On("CONFLICT (book_id, translator_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	for _, tag := range book.Genres {
		link := &models.BookGenre{BookID: book.ID, GenreTag: tag}
		_, err := idb.NewInsert().
			Model(link).
			On("CONFLICT (book_id, genre_tag) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	for _, ref := range book.Sequences {
		seq, err := findOrCreateSequence(ctx, idb, ref.Name)
		if err != nil {
			return err
		}
		link := &models.BookSequence{
			BookID:           book.ID,
			SequenceID:       seq.ID,
			NumberInSequence: ref.NumberInSequence,
		}
		_, err = idb.NewInsert().
			Model(link).
			On("CONFLICT (book_id, sequence_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// loadRelations reconstructs the relationship slices for every book in one
// round trip per junction table.
func loadRelations(ctx context.Context, idb bun.IDB, books []*models.Book) error {
	if len(books) == 0 {
		return nil
	}

	byID := make(map[string]*models.Book, len(books))
	ids := make([]string, 0, len(books))
	for _, book := range books {
		book.Authors = nil
		book.Translators = nil
		book.Genres = nil
		book.Sequences = nil
		byID[book.ID] = book
		ids = append(ids, book.ID)
	}

	var authorRows []struct {
		BookID string
		Name   string
	}
	err := idb.NewSelect().
		Model((*models.BookAuthor)(nil)).
		ColumnExpr("ba.book_id AS book_id").
		ColumnExpr("a.name AS name").
		Join("INNER JOIN authors a ON a.id = ba.author_id").
		Where("ba.book_id IN (?)", bun.In(ids)).
		OrderExpr("ba.book_id, ba.sort_order").
		Scan(ctx, &authorRows)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, row := range authorRows {
		if book := byID[row.BookID]; book != nil {
			book.Authors = append(book.Authors, row.Name)
		}
	}

	var translatorRows []struct {
		BookID string
		Name   string
	}
	err = idb.NewSelect().
		Model((*models.BookTranslator)(nil)).
		ColumnExpr("bt.book_id AS book_id").
		ColumnExpr("tr.name AS name").
		Join("INNER JOIN translators tr ON tr.id = bt.translator_id").
		Where("bt.book_id IN (?)", bun.In(ids)).
		OrderExpr("bt.book_id, bt.sort_order").
		Scan(ctx, &translatorRows)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, row := range translatorRows {
		if book := byID[row.BookID]; book != nil {
			book.Translators = append(book.Translators, row.Name)
		}
	}

	var genreRows []struct {
		BookID   string
		GenreTag string
	}
	err = idb.NewSelect().
		Model((*models.BookGenre)(nil)).
		ColumnExpr("bg.book_id AS book_id").
		ColumnExpr("bg.genre_tag AS genre_tag").
		Where("bg.book_id IN (?)", bun.In(ids)).
		OrderExpr("bg.book_id, bg.genre_tag").
		Scan(ctx, &genreRows)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, row := range genreRows {
		if book := byID[row.BookID]; book != nil {
			book.Genres = append(book.Genres, row.GenreTag)
		}
	}

	var seqRows []struct {
		BookID           string
		Name             string
		NumberInSequence int
	}
	err = idb.NewSelect().
		Model((*models.BookSequence)(nil)).
		ColumnExpr("bs.book_id AS book_id").
		ColumnExpr("s.name AS name").
		ColumnExpr("bs.number_in_sequence AS number_in_sequence").
		Join("INNER JOIN sequences s ON s.id = bs.sequence_id").
		Where("bs.book_id IN (?)", bun.In(ids)).
		OrderExpr("bs.book_id, bs.number_in_sequence").
		Scan(ctx, &seqRows)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, row := range seqRows {
		if book := byID[row.BookID]; book != nil {
			book.Sequences = append(book.Sequences, models.SequenceRef{
				Name:             row.Name,
				NumberInSequence: row.NumberInSequence,
			})
		}
	}

	return nil
}

// LoadRelations fills the relationship slices of records fetched outside
// this package, such as search results.
func (svc *Service) LoadRelations(ctx context.Context, books []*models.Book) error {
	return loadRelations(ctx, svc.db, books)
}

// cleanupOrphans removes authors, translators and sequences that no book
// references anymore. Runs inside the deletion transaction.
func cleanupOrphans(ctx context.Context, idb bun.IDB) error {
	_, err := idb.NewDelete().
		Model((*models.Author)(nil)).
		Where("id NOT IN (SELECT DISTINCT author_id FROM book_authors)").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = idb.NewDelete().
		Model((*models.Translator)(nil)).
		Where("id NOT IN (SELECT DISTINCT translator_id FROM book_translators)").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = idb.NewDelete().
		Model((*models.Sequence)(nil)).
		Where("id NOT IN (SELECT DISTINCT sequence_id FROM book_sequences)").
		Exec(ctx)
	return errors.WithStack(err)
}
