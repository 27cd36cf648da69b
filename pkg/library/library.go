// Package library is the facade over the metadata engine. It owns the
// store, the collaborating services and the read caches, applies the write
// path policies (path relativization, author aliases, genre tag recovery,
// duplicate resolution) and serves navigation reads from cache.
package library

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tinyopds/tinyopds/pkg/aliases"
	"github.com/tinyopds/tinyopds/pkg/books"
	"github.com/tinyopds/tinyopds/pkg/config"
	"github.com/tinyopds/tinyopds/pkg/database"
	"github.com/tinyopds/tinyopds/pkg/duplicates"
	"github.com/tinyopds/tinyopds/pkg/genres"
	"github.com/tinyopds/tinyopds/pkg/migrations"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/tinyopds/tinyopds/pkg/search"
	"github.com/tinyopds/tinyopds/pkg/translit"
	"github.com/uptrace/bun"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const defaultPageSize = 50

type Library struct {
	cfg *config.Config
	db  *bun.DB

	books    *books.Service
	search   *search.Service
	genres   *genres.Service
	detector *duplicates.Detector

	aliases *aliases.Table
	tags    *genres.TagIndex

	counts   *countCache
	lists    *listCache
	alphabet *alphabetCache
	tree     *treeCache

	warming          atomic.Bool
	alphabetBuilding atomic.Bool

	stopKeepalive context.CancelFunc
}

// Open brings the library up: store, migrations, genre taxonomy, author
// aliases, persisted counters, then the background recount, the alphabet
// build and the connection keepalive.
func Open(ctx context.Context, cfg *config.Config) (*Library, error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := CheckStore(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	l := &Library{
		cfg:      cfg,
		db:       db,
		books:    books.NewService(db),
		search:   search.NewService(db),
		genres:   genres.NewService(db),
		counts:   newCountCache(),
		lists:    &listCache{},
		alphabet: &alphabetCache{},
		tree:     &treeCache{},
	}
	l.detector = duplicates.NewDetector(l.books)

	log := logger.FromContext(ctx)

	seeded, err := l.genres.Seed(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if seeded > 0 {
		log.Data(logger.Data{"genres": seeded}).Info("seeded genre taxonomy")
	}
	l.tags, err = l.genres.BuildTagIndex(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	if cfg.UseAuthorsAliases {
		l.aliases, err = aliases.Load(cfg.AuthorsAliasesPath)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Data(logger.Data{"aliases": l.aliases.Len()}).Info("loaded author aliases")
	}

	// Persisted counters show immediately; the recount replaces them.
	stats, err := l.books.LoadStats(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.counts.seed(stats)

	kctx, cancel := context.WithCancel(context.Background())
	l.stopKeepalive = cancel
	go database.Keepalive(kctx, db, cfg)

	l.warmAsync()
	go l.buildAlphabet(context.Background())

	return l, nil
}

// CheckStore verifies FTS5 support and brings the schema up to date.
func CheckStore(ctx context.Context, db *bun.DB) error {
	if err := database.CheckFTS5Support(db); err != nil {
		return err
	}
	_, err := migrations.BringUpToDate(ctx, db)
	return err
}

func (l *Library) Close() error {
	if l.stopKeepalive != nil {
		l.stopKeepalive()
	}
	return l.db.Close()
}

// DB exposes the underlying handle for collaborators like the migrations
// CLI.
func (l *Library) DB() *bun.DB {
	return l.db
}

func (l *Library) newBooksCutoff() time.Time {
	return time.Now().AddDate(0, 0, -l.cfg.NewBooksPeriodDays())
}

// relPath strips the configured library root so records always key by the
// library-relative filename.
func (l *Library) relPath(fileName string) string {
	root := filepath.Clean(l.cfg.LibraryPath)
	if root != "." && root != "" {
		if rel, err := filepath.Rel(root, fileName); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(fileName)
}

// prepare applies the write path policies in one place.
func (l *Library) prepare(book *models.Book) {
	book.FileName = l.relPath(book.FileName)
	book.BookType = models.BookTypeFromFileName(book.FileName)

	// Aliases fold pen names into canonical authors. Latin names stay
	// untouched: the table is keyed by Cyrillic spellings.
	if l.cfg.UseAuthorsAliases && l.aliases != nil {
		for i, name := range book.Authors {
			if !translit.HasCyrillic(name) {
				continue
			}
			if canonical, ok := l.aliases.Canonical(strings.Join(strings.Fields(name), " ")); ok {
				book.Authors[i] = canonical
			}
		}
	}

	if l.tags != nil {
		for i, tag := range book.Genres {
			book.Genres[i] = l.tags.Normalize(tag)
		}
	}

	if book.AddedDate.IsZero() {
		book.AddedDate = time.Now()
	}
}

// AddBook records one book, resolving duplicates against the store. The
// stream, when given, supplies the content hash. Reports whether the record
// was inserted.
func (l *Library) AddBook(ctx context.Context, book *models.Book, stream io.ReadSeeker) (bool, error) {
	l.prepare(book)

	result, err := l.detector.CheckDuplicate(ctx, book, stream)
	if err != nil {
		return false, err
	}
	inserted, err := l.detector.ProcessDuplicate(ctx, book, result)
	if err != nil {
		return false, err
	}
	if inserted {
		l.invalidate()
	}
	return inserted, nil
}

// AddBooksBatch bulk-loads many records in one transaction with the
// duplicate policy applied per book.
func (l *Library) AddBooksBatch(ctx context.Context, items []*models.Book) (*books.BatchResult, error) {
	for _, book := range items {
		l.prepare(book)
	}
	result, err := l.books.AddBooksBatch(ctx, items, l.detector)
	if result != nil && result.Added > 0 {
		l.invalidate()
	}
	return result, err
}

// BookExists reports whether the filename is already recorded, replaced or
// not. The fast path for incremental scans.
func (l *Library) BookExists(ctx context.Context, fileName string) (bool, error) {
	return l.books.BookExists(ctx, l.relPath(fileName))
}

func (l *Library) RetrieveBook(ctx context.Context, id string) (*models.Book, error) {
	return l.books.RetrieveBook(ctx, books.RetrieveBookOptions{ID: &id})
}

func (l *Library) RetrieveBookByFileName(ctx context.Context, fileName string) (*models.Book, error) {
	rel := l.relPath(fileName)
	return l.books.RetrieveBook(ctx, books.RetrieveBookOptions{FileName: &rel})
}

// DeleteBookByFileName drops the record whose backing file disappeared.
func (l *Library) DeleteBookByFileName(ctx context.Context, fileName string) error {
	if err := l.books.DeleteBookByFileName(ctx, l.relPath(fileName)); err != nil {
		return err
	}
	l.invalidate()
	return nil
}

// RecordDownload appends a download or read event for the book.
func (l *Library) RecordDownload(ctx context.Context, bookID string, typ models.DownloadType, format, client string) error {
	return l.books.RecordDownload(ctx, &models.Download{
		BookID: bookID,
		Type:   typ,
		Format: format,
		Client: client,
	})
}

// invalidate marks every cache stale after a write. Count values survive
// until the recount lands, so readers never see zeros.
func (l *Library) invalidate() {
	l.counts.invalidate()
	l.lists.invalidate()
	l.alphabet.invalidate()
	l.tree.invalidate()
	l.warmAsync()
}

func (l *Library) warmAsync() {
	if !l.warming.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer l.warming.Store(false)
		ctx := context.Background()
		// The recount holds the refresh slot so inline readers never
		// recompute concurrently. A busy slot means a refresh is already
		// under way.
		if !l.counts.refresh.tryAcquire(refreshTimeout) {
			return
		}
		defer l.counts.refresh.release()
		if err := l.refreshCounts(ctx); err != nil {
			logger.FromContext(ctx).Err(err).Error("failed to refresh library counts")
		}
	}()
}

// refreshCounts recomputes and persists the six counters.
func (l *Library) refreshCounts(ctx context.Context) error {
	counts, err := l.books.CountStats(ctx, l.newBooksCutoff())
	if err != nil {
		return err
	}
	if err := l.books.SaveStats(ctx, counts, l.cfg.NewBooksPeriodDays()); err != nil {
		return err
	}
	l.counts.store(*counts)
	return nil
}

// Counts returns the library counters. While a warming recount is in
// flight the current values serve as they are. A stale cache is refreshed
// inline when the refresh slot is free within the timeout; otherwise the
// stale values serve and a background refresh is queued.
func (l *Library) Counts(ctx context.Context) books.Counts {
	snapshot, fresh := l.counts.snapshot()
	if fresh || l.warming.Load() {
		return snapshot
	}

	if !l.counts.refresh.tryAcquire(refreshTimeout) {
		l.warmAsync()
		return snapshot
	}
	defer l.counts.refresh.release()

	// Another holder may have refreshed while we waited.
	if snap, fresh := l.counts.snapshot(); fresh {
		return snap
	}
	if err := l.refreshCounts(ctx); err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to refresh library counts")
		return snapshot
	}
	snapshot, _ = l.counts.snapshot()
	return snapshot
}

// Page is one window of the new-books listing.
type Page struct {
	Books           []*models.Book
	TotalBooks      int
	TotalPages      int
	CurrentPage     int
	PageSize        int
	HasPreviousPage bool
	HasNextPage     bool
}

// NewBooks lists books added within the configured period, one page at a
// time. Pages are 1-based; order is date-descending or title-ascending per
// the caller's choice.
func (l *Library) NewBooks(ctx context.Context, page, pageSize int, order books.BookOrder) *Page {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if page < 1 {
		page = 1
	}
	cutoff := l.newBooksCutoff()
	offset := (page - 1) * pageSize

	booksList, total, err := l.books.ListBooksWithTotal(ctx, books.ListBooksOptions{
		AddedSince: &cutoff,
		Order:      order,
		Limit:      &pageSize,
		Offset:     &offset,
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to list new books")
		booksList, total = nil, 0
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &Page{
		Books:           booksList,
		TotalBooks:      total,
		TotalPages:      totalPages,
		CurrentPage:     page,
		PageSize:        pageSize,
		HasPreviousPage: page > 1,
		HasNextPage:     page < totalPages,
	}
}

// Authors returns every author with at least one active book, with book
// counts, from the list cache.
func (l *Library) Authors(ctx context.Context) []*models.Author {
	authors, _ := l.cachedLists(ctx)
	return authors
}

// Sequences returns every series with at least one active book, with book
// counts, from the list cache.
func (l *Library) Sequences(ctx context.Context) []*models.Sequence {
	_, sequences := l.cachedLists(ctx)
	return sequences
}

func (l *Library) cachedLists(ctx context.Context) ([]*models.Author, []*models.Sequence) {
	l.lists.mu.RLock()
	fresh := time.Since(l.lists.fetchedAt) < listsTTL
	authors, sequences := l.lists.authors, l.lists.sequences
	l.lists.mu.RUnlock()
	if fresh {
		return authors, sequences
	}

	log := logger.FromContext(ctx)
	freshAuthors, err := l.books.ListAuthors(ctx, books.ListAuthorsOptions{WithBookCount: true})
	if err != nil {
		log.Err(err).Error("failed to list authors")
		return authors, sequences
	}
	freshSequences, err := l.books.ListSequences(ctx, books.ListSequencesOptions{WithBookCount: true})
	if err != nil {
		log.Err(err).Error("failed to list sequences")
		return authors, sequences
	}

	l.lists.mu.Lock()
	l.lists.authors = freshAuthors
	l.lists.sequences = freshSequences
	l.lists.fetchedAt = time.Now()
	l.lists.mu.Unlock()
	return freshAuthors, freshSequences
}

// AuthorsByPrefix lists authors whose normalized name starts with the
// prefix.
func (l *Library) AuthorsByPrefix(ctx context.Context, prefix string) []*models.Author {
	authors, err := l.books.ListAuthors(ctx, books.ListAuthorsOptions{
		Prefix:        &prefix,
		WithBookCount: true,
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to list authors by prefix")
		return nil
	}
	return authors
}

// SequencesByPrefix lists series whose normalized name starts with the
// prefix.
func (l *Library) SequencesByPrefix(ctx context.Context, prefix string) []*models.Sequence {
	sequences, err := l.books.ListSequences(ctx, books.ListSequencesOptions{
		Prefix:        &prefix,
		WithBookCount: true,
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to list sequences by prefix")
		return nil
	}
	return sequences
}

// BooksByAuthor lists the author's active books in title order.
func (l *Library) BooksByAuthor(ctx context.Context, authorID int64) []*models.Book {
	booksList, err := l.books.ListBooks(ctx, books.ListBooksOptions{AuthorID: &authorID})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to list books by author")
		return nil
	}
	return booksList
}

// BooksBySequence lists the series' active books in series order.
func (l *Library) BooksBySequence(ctx context.Context, sequenceID int64) []*models.Book {
	booksList, err := l.books.ListBooks(ctx, books.ListBooksOptions{
		SequenceID: &sequenceID,
		Order:      books.OrderBySequenceNumber,
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to list books by sequence")
		return nil
	}
	return booksList
}

// BooksByTitle lists active books whose title contains the substring.
func (l *Library) BooksByTitle(ctx context.Context, substring string) []*models.Book {
	booksList, err := l.books.ListBooks(ctx, books.ListBooksOptions{TitleSubstring: &substring})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to list books by title")
		return nil
	}
	return booksList
}

// BooksByGenre lists the tag's active books in title order.
func (l *Library) BooksByGenre(ctx context.Context, tag string) []*models.Book {
	booksList, err := l.books.ListBooks(ctx, books.ListBooksOptions{GenreTag: &tag})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to list books by genre")
		return nil
	}
	return booksList
}

// SearchAuthors runs the cascading author search.
func (l *Library) SearchAuthors(ctx context.Context, pattern string) []*models.Author {
	authors, err := l.search.SearchAuthors(ctx, pattern)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("author search failed")
		return nil
	}
	return authors
}

// SearchBooks runs the full-text book search with relationship sets loaded.
func (l *Library) SearchBooks(ctx context.Context, pattern string) []*models.Book {
	booksList, err := l.search.SearchBooks(ctx, pattern)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("book search failed")
		return nil
	}
	if err := l.books.LoadRelations(ctx, booksList); err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to load search result relations")
	}
	return booksList
}

// GenreTree returns the two-level taxonomy from the tree cache.
func (l *Library) GenreTree(ctx context.Context) []*genres.TreeNode {
	l.tree.mu.RLock()
	fresh := time.Since(l.tree.builtAt) < genreTreeTTL
	nodes := l.tree.nodes
	l.tree.mu.RUnlock()
	if fresh {
		return nodes
	}

	freshNodes, err := l.genres.Tree(ctx)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to build genre tree")
		return nodes
	}
	l.tree.mu.Lock()
	l.tree.nodes = freshNodes
	l.tree.builtAt = time.Now()
	l.tree.mu.Unlock()
	return freshNodes
}

// GenreBookCounts returns active book counts per genre tag.
func (l *Library) GenreBookCounts(ctx context.Context) map[string]int {
	counts, err := l.genres.BookCounts(ctx)
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to count books by genre")
		return nil
	}
	return counts
}

// ReloadGenres replaces the taxonomy from the embedded definition and
// rebuilds the tag index.
func (l *Library) ReloadGenres(ctx context.Context) error {
	if err := l.genres.Reload(ctx); err != nil {
		return err
	}
	tags, err := l.genres.BuildTagIndex(ctx)
	if err != nil {
		return err
	}
	l.tags = tags
	l.tree.invalidate()
	return nil
}

// AuthorLetters returns the first letters of stored author names in the
// configured collation order.
func (l *Library) AuthorLetters(ctx context.Context) []string {
	l.ensureAlphabet(ctx)
	l.alphabet.mu.RLock()
	defer l.alphabet.mu.RUnlock()
	return l.alphabet.letters
}

// AuthorsByLetter returns the authors filed under one first letter.
func (l *Library) AuthorsByLetter(ctx context.Context, letter string) []*models.Author {
	l.ensureAlphabet(ctx)
	l.alphabet.mu.RLock()
	defer l.alphabet.mu.RUnlock()
	return l.alphabet.byLetter[letter]
}

func (l *Library) ensureAlphabet(ctx context.Context) {
	l.alphabet.mu.RLock()
	fresh := time.Since(l.alphabet.builtAt) < alphabetTTL
	empty := l.alphabet.builtAt.IsZero()
	l.alphabet.mu.RUnlock()
	if fresh {
		return
	}
	if empty {
		// First reader blocks on the build; later ones serve stale.
		l.buildAlphabet(ctx)
		return
	}
	go l.buildAlphabet(context.Background())
}

func (l *Library) buildAlphabet(ctx context.Context) {
	if !l.alphabetBuilding.CompareAndSwap(false, true) {
		return
	}
	defer l.alphabetBuilding.Store(false)

	authors, err := l.books.ListAuthors(ctx, books.ListAuthorsOptions{WithBookCount: true})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("failed to build author alphabet")
		return
	}

	byLetter := make(map[string][]*models.Author)
	for _, author := range authors {
		letter := firstLetter(author.Name)
		byLetter[letter] = append(byLetter[letter], author)
	}

	col := collatorFor(l.cfg.SortOrder)
	letters := make([]string, 0, len(byLetter))
	for letter := range byLetter {
		letters = append(letters, letter)
	}
	sort.Slice(letters, func(i, j int) bool {
		ci, cj := letterClass(letters[i], l.cfg.SortOrder), letterClass(letters[j], l.cfg.SortOrder)
		if ci != cj {
			return ci < cj
		}
		return col.CompareString(letters[i], letters[j]) < 0
	})
	for _, group := range byLetter {
		sort.SliceStable(group, func(i, j int) bool {
			return col.CompareString(group[i].Name, group[j].Name) < 0
		})
	}

	l.alphabet.mu.Lock()
	l.alphabet.letters = letters
	l.alphabet.byLetter = byLetter
	l.alphabet.builtAt = time.Now()
	l.alphabet.mu.Unlock()
}

func collatorFor(order config.SortOrder) *collate.Collator {
	if order == config.SortOrderCyrillicFirst {
		return collate.New(language.Russian)
	}
	return collate.New(language.English)
}

// letterClass partitions letters by script so the configured script's
// alphabet lists first; anything else files last.
func letterClass(letter string, order config.SortOrder) int {
	r := []rune(letter)[0]
	switch {
	case unicode.Is(unicode.Cyrillic, r):
		if order == config.SortOrderCyrillicFirst {
			return 0
		}
		return 1
	case unicode.Is(unicode.Latin, r):
		if order == config.SortOrderCyrillicFirst {
			return 1
		}
		return 0
	default:
		return 2
	}
}

// firstLetter files the name under its first letter rune, skipping leading
// punctuation and digits. Names without any letter fall under "#".
func firstLetter(name string) string {
	for _, r := range name {
		if unicode.IsLetter(r) {
			return string(unicode.ToUpper(r))
		}
	}
	return "#"
}
