package books

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/uptrace/bun"
)

// BookOrder selects the ordering of a book listing.
type BookOrder int

const (
	OrderByTitle BookOrder = iota
	OrderByAddedDateDesc
	OrderBySequenceNumber
)

type ListBooksOptions struct {
	AuthorID        *int64
	SequenceID      *int64
	GenreTag        *string
	TitleSubstring  *string
	FileNamePrefix  *string
	AddedSince      *time.Time
	IncludeReplaced bool
	Order           BookOrder
	Limit           *int
	Offset          *int

	includeTotal bool
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	b, _, err := svc.listBooksWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	opts.includeTotal = true
	return svc.listBooksWithTotal(ctx, opts)
}

func (svc *Service) listBooksWithTotal(ctx context.Context, opts ListBooksOptions) ([]*models.Book, int, error) {
	var booksList []*models.Book
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&booksList)

	if !opts.IncludeReplaced {
		q = q.Where("b.replaced_by_id IS NULL")
	}
	if opts.AuthorID != nil {
		q = q.Join("INNER JOIN book_authors ba ON ba.book_id = b.id").
			Where("ba.author_id = ?", *opts.AuthorID)
	}
	if opts.SequenceID != nil {
		q = q.Join("INNER JOIN book_sequences bs ON bs.book_id = b.id").
			Where("bs.sequence_id = ?", *opts.SequenceID)
	}
	if opts.GenreTag != nil {
		q = q.Join("INNER JOIN book_genres bg ON bg.book_id = b.id").
			Where("bg.genre_tag = ?", *opts.GenreTag)
	}
	if opts.TitleSubstring != nil && *opts.TitleSubstring != "" {
		q = q.Where("LOWER(b.title) LIKE LOWER(?)", "%"+*opts.TitleSubstring+"%")
	}
	if opts.FileNamePrefix != nil && *opts.FileNamePrefix != "" {
		q = q.Where("b.file_name LIKE ?", *opts.FileNamePrefix+"%")
	}
	if opts.AddedSince != nil {
		q = q.Where("b.added_date >= ?", *opts.AddedSince)
	}

	switch opts.Order {
	case OrderByAddedDateDesc:
		q = q.Order("b.added_date DESC").Order("b.title ASC")
	case OrderBySequenceNumber:
		// Only meaningful with a sequence filter.
		q = q.OrderExpr("bs.number_in_sequence ASC").Order("b.title ASC")
	default:
		q = q.Order("b.title ASC")
	}

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	if err := loadRelations(ctx, svc.db, booksList); err != nil {
		return nil, 0, err
	}
	return booksList, total, nil
}

type ListAuthorsOptions struct {
	// Prefix filters on the normalized search name.
	Prefix        *string
	WithBookCount bool
	Limit         *int
	Offset        *int
}

// ListAuthors returns authors that still have at least one active book, in
// name order.
func (svc *Service) ListAuthors(ctx context.Context, opts ListAuthorsOptions) ([]*models.Author, error) {
	var authors []*models.Author

	q := svc.db.
		NewSelect().
		Model(&authors).
		Where(`EXISTS (
			SELECT 1 FROM book_authors ba
			INNER JOIN books b ON b.id = ba.book_id
			WHERE ba.author_id = a.id AND b.replaced_by_id IS NULL
		)`).
		Order("a.name ASC")

	if opts.Prefix != nil && *opts.Prefix != "" {
		q = q.Where("a.search_name LIKE ?", models.NormalizeName(*opts.Prefix)+"%")
	}
	if opts.WithBookCount {
		q = q.ColumnExpr("a.*").
			ColumnExpr(`(
				SELECT count(*) FROM book_authors ba
				INNER JOIN books b ON b.id = ba.book_id
				WHERE ba.author_id = a.id AND b.replaced_by_id IS NULL
			) AS book_count`)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return authors, nil
}

type ListSequencesOptions struct {
	Prefix        *string
	WithBookCount bool
	Limit         *int
	Offset        *int
}

func (svc *Service) ListSequences(ctx context.Context, opts ListSequencesOptions) ([]*models.Sequence, error) {
	var sequences []*models.Sequence

	q := svc.db.
		NewSelect().
		Model(&sequences).
		Where(`EXISTS (
			SELECT 1 FROM book_sequences bs
			INNER JOIN books b ON b.id = bs.book_id
			WHERE bs.sequence_id = s.id AND b.replaced_by_id IS NULL
		)`).
		Order("s.name ASC")

	if opts.Prefix != nil && *opts.Prefix != "" {
		q = q.Where("s.search_name LIKE ?", models.NormalizeName(*opts.Prefix)+"%")
	}
	if opts.WithBookCount {
		q = q.ColumnExpr("s.*").
			ColumnExpr(`(
				SELECT count(*) FROM book_sequences bs
				INNER JOIN books b ON b.id = bs.book_id
				WHERE bs.sequence_id = s.id AND b.replaced_by_id IS NULL
			) AS book_count`)
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return sequences, nil
}

// Counts is one full statistics snapshot over active books.
type Counts struct {
	TotalBooks int64
	FB2Books   int64
	EPUBBooks  int64
	Authors    int64
	Sequences  int64
	NewBooks   int64
}

// CountStats recomputes every counter. cutoff bounds the new-books window.
func (svc *Service) CountStats(ctx context.Context, cutoff time.Time) (*Counts, error) {
	counts := &Counts{}

	active := func() *bun.SelectQuery {
		return svc.db.NewSelect().
			Model((*models.Book)(nil)).
			Where("b.replaced_by_id IS NULL")
	}

	total, err := active().Count(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	counts.TotalBooks = int64(total)

	fb2, err := active().Where("b.file_name LIKE ?", "%.fb2%").Count(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	counts.FB2Books = int64(fb2)

	epub, err := active().Where("b.file_name LIKE ?", "%.epub%").Count(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	counts.EPUBBooks = int64(epub)

	authors, err := svc.db.NewSelect().
		Model((*models.Author)(nil)).
		Where(`EXISTS (
			SELECT 1 FROM book_authors ba
			INNER JOIN books b ON b.id = ba.book_id
			WHERE ba.author_id = a.id AND b.replaced_by_id IS NULL
		)`).
		Count(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	counts.Authors = int64(authors)

	sequences, err := svc.db.NewSelect().
		Model((*models.Sequence)(nil)).
		Where(`EXISTS (
			SELECT 1 FROM book_sequences bs
			INNER JOIN books b ON b.id = bs.book_id
			WHERE bs.sequence_id = s.id AND b.replaced_by_id IS NULL
		)`).
		Count(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	counts.Sequences = int64(sequences)

	newBooks, err := active().Where("b.added_date >= ?", cutoff).Count(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	counts.NewBooks = int64(newBooks)

	return counts, nil
}

// LoadStats reads the persisted counters keyed by statistic name.
func (svc *Service) LoadStats(ctx context.Context) (map[string]*models.LibraryStat, error) {
	var rows []*models.LibraryStat
	err := svc.db.NewSelect().
		Model(&rows).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stats := make(map[string]*models.LibraryStat, len(rows))
	for _, row := range rows {
		stats[row.Key] = row
	}
	return stats, nil
}

// SaveStats persists a snapshot so counts display instantly after restart.
// The new-books row also records the period it was computed over.
func (svc *Service) SaveStats(ctx context.Context, counts *Counts, periodDays int) error {
	now := time.Now()
	rows := []*models.LibraryStat{
		{Key: models.StatTotalBooks, Value: counts.TotalBooks, UpdatedAt: now},
		{Key: models.StatFB2Books, Value: counts.FB2Books, UpdatedAt: now},
		{Key: models.StatEPUBBooks, Value: counts.EPUBBooks, UpdatedAt: now},
		{Key: models.StatAuthorsCount, Value: counts.Authors, UpdatedAt: now},
		{Key: models.StatSequencesCount, Value: counts.Sequences, UpdatedAt: now},
		{Key: models.StatNewBooks, Value: counts.NewBooks, UpdatedAt: now, PeriodDays: &periodDays},
	}

	_, err := svc.db.NewInsert().
		Model(&rows).
		On("CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, period_days = excluded.period_days").
		Exec(ctx)
	return errors.WithStack(err)
}
