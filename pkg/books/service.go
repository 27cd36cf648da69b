// Package books is the repository: transactional CRUD over book records and
// their relationship tables, bulk loading, navigation queries and the count
// statistics. SQL stays behind this package.
package books

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyopds/tinyopds/pkg/database"
	"github.com/tinyopds/tinyopds/pkg/errcodes"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveBookOptions struct {
	ID       *string
	FileName *string

	// IncludeReplaced lets callers fetch superseded records.
	IncludeReplaced bool
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// DB exposes the handle for collaborators that probe the store outside a
// transaction.
func (svc *Service) DB() bun.IDB {
	return svc.db
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	return RetrieveBook(ctx, svc.db, opts)
}

// RetrieveBook is the IDB form, for callers that hold a transaction.
func RetrieveBook(ctx context.Context, idb bun.IDB, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := idb.
		NewSelect().
		Model(book)

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.FileName != nil {
		q = q.Where("b.file_name = ?", *opts.FileName)
	}
	if !opts.IncludeReplaced {
		q = q.Where("b.replaced_by_id IS NULL")
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	if err := loadRelations(ctx, idb, []*models.Book{book}); err != nil {
		return nil, err
	}
	return book, nil
}

// BookExists reports whether a record with the given filename is stored,
// replaced or not.
func (svc *Service) BookExists(ctx context.Context, fileName string) (bool, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.Book)(nil)).
		Where("b.file_name = ?", fileName).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

// insertBook writes the book row and its junction rows. The caller supplies
// the transaction.
func (svc *Service) insertBook(ctx context.Context, tx bun.IDB, book *models.Book) error {
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = book.CreatedAt
	if book.AddedDate.IsZero() {
		book.AddedDate = now
	}
	if book.ID == "" {
		book.SetID("")
	}
	if book.DuplicateKey == "" {
		book.DuplicateKey = book.GenerateDuplicateKey()
	}

	_, err := tx.NewInsert().
		Model(book).
		Exec(ctx)
	// Two editions can legitimately share a trusted document ID; the row key
	// then falls back to the filename-derived UUID.
	if err != nil && strings.Contains(err.Error(), "books.id") {
		book.ID = models.DeterministicID(book.FileName)
		book.DocumentIDTrusted = false
		_, err = tx.NewInsert().
			Model(book).
			Exec(ctx)
	}
	if err != nil {
		return errors.WithStack(err)
	}

	return rewriteRelations(ctx, tx, book)
}

func (svc *Service) AddBook(ctx context.Context, book *models.Book) error {
	if !book.IsValid() {
		return errcodes.ValidationError("Book needs a title, an author and a genre.")
	}

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return svc.insertBook(ctx, tx, book)
	})
}

// UpdateBook rewrites the book row and all of its relationship tables in one
// transaction.
func (svc *Service) UpdateBook(ctx context.Context, book *models.Book) error {
	if !book.IsValid() {
		return errcodes.ValidationError("Book needs a title, an author and a genre.")
	}

	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		book.UpdatedAt = time.Now()
		res, err := tx.NewUpdate().
			Model(book).
			WherePK().
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Book")
		}
		return rewriteRelations(ctx, tx, book)
	})
}

// MarkReplaced points every loser at the winning record.
func (svc *Service) MarkReplaced(ctx context.Context, winnerID string, loserIDs []string) error {
	if len(loserIDs) == 0 {
		return nil
	}
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return markReplacedTx(ctx, tx, winnerID, loserIDs)
	})
}

func markReplacedTx(ctx context.Context, idb bun.IDB, winnerID string, loserIDs []string) error {
	_, err := idb.NewUpdate().
		Model((*models.Book)(nil)).
		Set("replaced_by_id = ?", winnerID).
		Set("updated_at = ?", time.Now()).
		Where("id IN (?)", bun.In(loserIDs)).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) DeleteBook(ctx context.Context, id string) error {
	return svc.deleteBooks(ctx, "b.id = ?", id)
}

// DeleteBookByFileName removes the record whose backing file disappeared.
func (svc *Service) DeleteBookByFileName(ctx context.Context, fileName string) error {
	return svc.deleteBooks(ctx, "b.file_name = ?", fileName)
}

func (svc *Service) deleteBooks(ctx context.Context, where string, arg interface{}) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		err := tx.NewSelect().
			Model((*models.Book)(nil)).
			Column("b.id").
			Where(where, arg).
			Scan(ctx, &ids)
		if err != nil {
			return errors.WithStack(err)
		}
		if len(ids) == 0 {
			return errcodes.NotFound("Book")
		}

		for _, model := range []interface{}{
			(*models.BookAuthor)(nil),
			(*models.BookTranslator)(nil),
			(*models.BookGenre)(nil),
			(*models.BookSequence)(nil),
		} {
			_, err := tx.NewDelete().
				Model(model).
				Where("book_id IN (?)", bun.In(ids)).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		// Successors of the deleted records lose their back-pointer.
		_, err = tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("replaced_by_id = NULL").
			Where("replaced_by_id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.NewDelete().
			Model((*models.Book)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		return cleanupOrphans(ctx, tx)
	})
}

// FindByContentHash returns the stored record with the same content hash, or
// nil when there is none.
func (svc *Service) FindByContentHash(ctx context.Context, hash string) (*models.Book, error) {
	return FindByContentHash(ctx, svc.db, hash)
}

// FindByContentHash is the IDB form, for callers that hold a transaction.
func FindByContentHash(ctx context.Context, idb bun.IDB, hash string) (*models.Book, error) {
	if hash == "" {
		return nil, nil
	}
	book := &models.Book{}
	err := idb.NewSelect().
		Model(book).
		Where("b.content_hash = ?", hash).
		Where("b.replaced_by_id IS NULL").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return book, nil
}

// FindByDuplicateKey returns every active record sharing the key, with
// relationship sets loaded so the duplicate predicate can compare translator
// lists.
func (svc *Service) FindByDuplicateKey(ctx context.Context, key string) ([]*models.Book, error) {
	return FindByDuplicateKey(ctx, svc.db, key)
}

// FindByDuplicateKey is the IDB form, for callers that hold a transaction.
func FindByDuplicateKey(ctx context.Context, idb bun.IDB, key string) ([]*models.Book, error) {
	if key == "" {
		return nil, nil
	}
	var matches []*models.Book
	err := idb.NewSelect().
		Model(&matches).
		Where("b.duplicate_key = ?", key).
		Where("b.replaced_by_id IS NULL").
		Order("b.added_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := loadRelations(ctx, idb, matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// RecordDownload appends a download event and stamps the book's last
// download date.
func (svc *Service) RecordDownload(ctx context.Context, download *models.Download) error {
	return svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if download.CreatedAt.IsZero() {
			download.CreatedAt = time.Now()
		}
		_, err := tx.NewInsert().
			Model(download).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.NewUpdate().
			Model((*models.Book)(nil)).
			Set("last_download_date = ?", download.CreatedAt).
			Where("id = ?", download.BookID).
			Exec(ctx)
		return errors.WithStack(err)
	})
}

// DuplicateDecision tells the batch loader what to do with one candidate.
type DuplicateDecision struct {
	Skip       bool     // drop the candidate
	Duplicate  bool     // account it as a duplicate
	ReplaceIDs []string // existing records the candidate supersedes
}

// DuplicatePolicy decides the fate of each candidate during batch load. The
// policy probes the store through the batch transaction, so it sees the
// records inserted earlier in the same batch.
type DuplicatePolicy interface {
	Decide(ctx context.Context, idb bun.IDB, book *models.Book) (DuplicateDecision, error)
}

// BatchResult is the accounting of one bulk insert.
type BatchResult struct {
	TotalProcessed int
	Added          int
	Duplicates     int
	Errors         int
	FB2Count       int
	EPUBCount      int
	ProcessingTime time.Duration
	ErrorMessages  []string
}

// AddBooksBatch loads many records in one transaction under relaxed bulk
// pragmas. A failed individual book is accounted and skipped; only a
// transaction-level failure rolls everything back, in which case every book
// counts as erroneous. A nil policy inserts everything.
func (svc *Service) AddBooksBatch(ctx context.Context, items []*models.Book, policy DuplicatePolicy) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{TotalProcessed: len(items)}
	if len(items) == 0 {
		result.ProcessingTime = time.Since(start)
		return result, nil
	}

	restore, relaxErr := database.RelaxForBulkLoad(ctx, svc.db)
	if relaxErr == nil {
		defer restore()
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, book := range items {
			if !book.IsValid() {
				result.Errors++
				result.ErrorMessages = append(result.ErrorMessages,
					fmt.Sprintf("%s: missing title, author or genre", book.FileName))
				continue
			}

			var decision DuplicateDecision
			if policy != nil {
				var err error
				decision, err = policy.Decide(ctx, tx, book)
				if err != nil {
					result.Errors++
					result.ErrorMessages = append(result.ErrorMessages,
						fmt.Sprintf("%s: %v", book.FileName, err))
					continue
				}
				if decision.Duplicate {
					result.Duplicates++
				}
				if decision.Skip {
					continue
				}
			}

			if err := svc.insertBook(ctx, tx, book); err != nil {
				result.Errors++
				result.ErrorMessages = append(result.ErrorMessages,
					fmt.Sprintf("%s: %v", book.FileName, err))
				continue
			}
			// Marking happens after the insert so the losers point at the
			// row key that actually landed.
			if len(decision.ReplaceIDs) > 0 {
				if err := markReplacedTx(ctx, tx, book.ID, decision.ReplaceIDs); err != nil {
					result.Errors++
					result.ErrorMessages = append(result.ErrorMessages,
						fmt.Sprintf("%s: %v", book.FileName, err))
					continue
				}
			}
			result.Added++
			switch book.BookType {
			case models.BookTypeFB2:
				result.FB2Count++
			case models.BookTypeEPUB:
				result.EPUBCount++
			}
		}
		return nil
	})
	result.ProcessingTime = time.Since(start)
	if err != nil {
		return &BatchResult{
			TotalProcessed: len(items),
			Errors:         len(items),
			ProcessingTime: time.Since(start),
			ErrorMessages:  []string{err.Error()},
		}, errors.WithStack(err)
	}

	return result, nil
}
