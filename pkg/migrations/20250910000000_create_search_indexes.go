package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Full-text indexes over books, authors and sequences. Triggers keep them in
// lockstep with the base tables so writers never update them directly. The
// author index carries both name orders because queries arrive as either
// "First Last" or "Last First".
func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE VIRTUAL TABLE books_fts USING fts5(
				book_id UNINDEXED,
				title,
				annotation,
				tokenize = 'unicode61 remove_diacritics 2'
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER books_fts_ai AFTER INSERT ON books BEGIN
				INSERT INTO books_fts (book_id, title, annotation)
				VALUES (new.id, new.title, coalesce(new.annotation, ''));
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER books_fts_ad AFTER DELETE ON books BEGIN
				DELETE FROM books_fts WHERE book_id = old.id;
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER books_fts_au AFTER UPDATE OF title, annotation ON books BEGIN
				DELETE FROM books_fts WHERE book_id = old.id;
				INSERT INTO books_fts (book_id, title, annotation)
				VALUES (new.id, new.title, coalesce(new.annotation, ''));
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE VIRTUAL TABLE authors_fts USING fts5(
				author_id UNINDEXED,
				full_name,
				reversed_name,
				last_name,
				tokenize = 'unicode61 remove_diacritics 2'
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// full_name/reversed_name fall back to the raw name when the row has
		// no parsed first or last name, mirroring Author.FullName.
		_, err = db.Exec(`
			CREATE TRIGGER authors_fts_ai AFTER INSERT ON authors BEGIN
				INSERT INTO authors_fts (author_id, full_name, reversed_name, last_name)
				VALUES (
					new.id,
					CASE WHEN coalesce(new.first_name, '') = '' OR coalesce(new.last_name, '') = ''
						THEN new.name ELSE new.first_name || ' ' || new.last_name END,
					CASE WHEN coalesce(new.first_name, '') = '' OR coalesce(new.last_name, '') = ''
						THEN new.name ELSE new.last_name || ' ' || new.first_name END,
					coalesce(new.last_name, '')
				);
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER authors_fts_ad AFTER DELETE ON authors BEGIN
				DELETE FROM authors_fts WHERE author_id = old.id;
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER authors_fts_au AFTER UPDATE OF name, first_name, last_name ON authors BEGIN
				DELETE FROM authors_fts WHERE author_id = old.id;
				INSERT INTO authors_fts (author_id, full_name, reversed_name, last_name)
				VALUES (
					new.id,
					CASE WHEN coalesce(new.first_name, '') = '' OR coalesce(new.last_name, '') = ''
						THEN new.name ELSE new.first_name || ' ' || new.last_name END,
					CASE WHEN coalesce(new.first_name, '') = '' OR coalesce(new.last_name, '') = ''
						THEN new.name ELSE new.last_name || ' ' || new.first_name END,
					coalesce(new.last_name, '')
				);
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE VIRTUAL TABLE sequences_fts USING fts5(
				sequence_id UNINDEXED,
				name,
				tokenize = 'unicode61 remove_diacritics 2'
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER sequences_fts_ai AFTER INSERT ON sequences BEGIN
				INSERT INTO sequences_fts (sequence_id, name) VALUES (new.id, new.name);
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER sequences_fts_ad AFTER DELETE ON sequences BEGIN
				DELETE FROM sequences_fts WHERE sequence_id = old.id;
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TRIGGER sequences_fts_au AFTER UPDATE OF name ON sequences BEGIN
				DELETE FROM sequences_fts WHERE sequence_id = old.id;
				INSERT INTO sequences_fts (sequence_id, name) VALUES (new.id, new.name);
			END
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`ANALYZE`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, stmt := range []string{
			"DROP TRIGGER IF EXISTS sequences_fts_au",
			"DROP TRIGGER IF EXISTS sequences_fts_ad",
			"DROP TRIGGER IF EXISTS sequences_fts_ai",
			"DROP TABLE IF EXISTS sequences_fts",
			"DROP TRIGGER IF EXISTS authors_fts_au",
			"DROP TRIGGER IF EXISTS authors_fts_ad",
			"DROP TRIGGER IF EXISTS authors_fts_ai",
			"DROP TABLE IF EXISTS authors_fts",
			"DROP TRIGGER IF EXISTS books_fts_au",
			"DROP TRIGGER IF EXISTS books_fts_ad",
			"DROP TRIGGER IF EXISTS books_fts_ai",
			"DROP TABLE IF EXISTS books_fts",
		} {
			if _, err := db.Exec(stmt); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
