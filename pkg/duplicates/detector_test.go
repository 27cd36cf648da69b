package duplicates

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinyopds/tinyopds/pkg/books"
	"github.com/tinyopds/tinyopds/pkg/migrations"
	"github.com/tinyopds/tinyopds/pkg/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// Every pooled connection gets its own in-memory database, so the pool
	// must stay at a single connection.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testBook(fileName, title string) *models.Book {
	b := models.NewBook(fileName)
	b.Title = title
	b.Language = "ru"
	b.Authors = []string{"Автор Анна"}
	b.Genres = []string{"sf"}
	return b
}

func TestCheckDuplicate_ContentHash(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("books/a.fb2", "Роман")
	stored.ContentHash = "cafe"
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	candidate := testBook("books/copy.fb2", "Роман (копия)")
	candidate.ContentHash = "cafe"

	result, err := det.CheckDuplicate(ctx, candidate, nil)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.False(t, result.ShouldReplace)
	assert.Equal(t, MatchContentHash, result.MatchType)
	require.NotNil(t, result.ExistingBook)
	assert.Equal(t, stored.ID, result.ExistingBook.ID)

	inserted, err := det.ProcessDuplicate(ctx, candidate, result)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestCheckDuplicate_SameFileReoffered(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("books/a.fb2", "Роман")
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	// Offering the identical record again is a skip, not an error.
	result, err := det.CheckDuplicate(ctx, testBook("books/a.fb2", "Роман"), nil)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.False(t, result.ShouldReplace)
	assert.Equal(t, MatchContentHash, result.MatchType)

	decision, err := det.Decide(ctx, db, testBook("books/a.fb2", "Роман"))
	require.NoError(t, err)
	assert.True(t, decision.Skip)
	assert.True(t, decision.Duplicate)
}

func TestAddBooksBatch_SameInputTwice(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	first, err := booksSvc.AddBooksBatch(ctx, []*models.Book{testBook("books/a.fb2", "Роман")}, det)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Added)
	assert.Equal(t, 0, first.Duplicates)

	second, err := booksSvc.AddBooksBatch(ctx, []*models.Book{testBook("books/a.fb2", "Роман")}, det)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 0, second.Errors)
}

func TestCheckDuplicate_KeyCollisionWithoutPredicate(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("books/a.fb2", "Роман")
	stored.Translators = []string{"Гинзбург Лилианна"}
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	// Same key, different translation: both editions are legitimate.
	candidate := testBook("books/b.fb2", "Роман")
	candidate.Translators = []string{"Лозинский Михаил"}

	result, err := det.CheckDuplicate(ctx, candidate, nil)
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, MatchNone, result.MatchType)
}

func TestCheckDuplicate_ZeroScoreKeepsBoth(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("books/a.fb2", "Роман")
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	candidate := testBook("books/b.fb2", "Роман")

	result, err := det.CheckDuplicate(ctx, candidate, nil)
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Equal(t, MatchNone, result.MatchType)

	inserted, err := det.ProcessDuplicate(ctx, candidate, result)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestCheckDuplicate_ArchivePriorityReplaces(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("lib/fb2-000001-000100.zip@a.fb2", "Роман")
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	candidate := testBook("lib/fb2-000200-000500.zip@a.fb2", "Роман")

	result, err := det.CheckDuplicate(ctx, candidate, nil)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.True(t, result.ShouldReplace)
	assert.Equal(t, MatchDuplicateKey, result.MatchType)
	assert.Equal(t, 10, result.Score)
	assert.Equal(t, []string{stored.ID}, result.ReplaceIDs)

	inserted, err := det.ProcessDuplicate(ctx, candidate, result)
	require.NoError(t, err)
	assert.True(t, inserted)

	old, err := booksSvc.RetrieveBook(ctx, books.RetrieveBookOptions{ID: &stored.ID, IncludeReplaced: true})
	require.NoError(t, err)
	require.NotNil(t, old.ReplacedByID)
	assert.Equal(t, candidate.ID, *old.ReplacedByID)
}

func TestCheckDuplicate_WorseCandidateSkipped(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("books/a.fb2", "Роман")
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	candidate := testBook("books/a.epub", "Роман")

	result, err := det.CheckDuplicate(ctx, candidate, nil)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.False(t, result.ShouldReplace)
	assert.Equal(t, -2, result.Score)

	inserted, err := det.ProcessDuplicate(ctx, candidate, result)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestCheckDuplicate_NearTieInsertsAnyway(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("books/a.fb2", "Роман")
	stored.DocumentSize = 1000
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	candidate := testBook("books/b.fb2", "Роман")
	candidate.DocumentSize = 1300

	result, err := det.CheckDuplicate(ctx, candidate, nil)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.False(t, result.ShouldReplace)
	assert.Equal(t, 1, result.Score)

	inserted, err := det.ProcessDuplicate(ctx, candidate, result)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Both editions remain visible.
	all, err := booksSvc.ListBooks(ctx, books.ListBooksOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCheckDuplicate_TrustedIDAcrossKeyDrift(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("books/a.fb2", "Роман")
	stored.SetID("200001")
	stored.Version = 1
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	// Same trusted document, retitled upload with a newer version.
	candidate := testBook("books/b.fb2", "Роман. Авторская редакция")
	candidate.SetID("200001")
	candidate.Version = 2

	result, err := det.CheckDuplicate(ctx, candidate, nil)
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	assert.True(t, result.ShouldReplace)
	assert.Equal(t, MatchFuzzy, result.MatchType)
	assert.Equal(t, 5, result.Score)

	inserted, err := det.ProcessDuplicate(ctx, candidate, result)
	require.NoError(t, err)
	assert.True(t, inserted)

	// The row key fell back to the filename UUID on the ID collision.
	assert.Equal(t, models.DeterministicID("books/b.fb2"), candidate.ID)

	old, err := booksSvc.RetrieveBook(ctx, books.RetrieveBookOptions{ID: &stored.ID, IncludeReplaced: true})
	require.NoError(t, err)
	require.NotNil(t, old.ReplacedByID)
	assert.Equal(t, candidate.ID, *old.ReplacedByID)
}

func TestDecide_BatchPolicyMapping(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	ctx := context.Background()
	booksSvc := books.NewService(db)
	det := NewDetector(booksSvc)

	stored := testBook("lib/fb2-000001-000100.zip@a.fb2", "Роман")
	stored.ContentHash = "cafe"
	require.NoError(t, booksSvc.AddBook(ctx, stored))

	// Fresh book: no decision flags.
	decision, err := det.Decide(ctx, db, testBook("books/fresh.fb2", "Новая книга"))
	require.NoError(t, err)
	assert.Equal(t, books.DuplicateDecision{}, decision)

	// Exact content: skip.
	exact := testBook("books/copy.fb2", "Роман (копия)")
	exact.ContentHash = "cafe"
	decision, err = det.Decide(ctx, db, exact)
	require.NoError(t, err)
	assert.True(t, decision.Skip)
	assert.True(t, decision.Duplicate)

	// Newer archive: replace.
	better := testBook("lib/fb2-000200-000500.zip@a.fb2", "Роман")
	decision, err = det.Decide(ctx, db, better)
	require.NoError(t, err)
	assert.False(t, decision.Skip)
	assert.Equal(t, []string{stored.ID}, decision.ReplaceIDs)
}
